package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/core/port"
	"github.com/arklim/community-identity/internal/repository"
)

const (
	accountsTable    = "iam.accounts"
	defaultListLimit = 50
	maximumListLimit = 200
)

var accountColumns = []string{
	"id",
	"email",
	"password_hash",
	"federated_provider",
	"federated_subject",
	"role",
	"verification_state",
	"display_name",
	"contact_number",
	"date_of_birth",
	"locality",
	"profile_complete",
	"is_active",
	"credential_version",
	"created_at",
	"updated_at",
	"last_login_at",
}

// AccountRepository implements port.AccountRepository using PostgreSQL.
type AccountRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAccountRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewAccountRepository(exec pgExecutor) *AccountRepository {
	return &AccountRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *AccountRepository) WithTx(tx pgx.Tx) *AccountRepository {
	if tx == nil {
		return r
	}
	return &AccountRepository{exec: tx, builder: r.builder}
}

// Create inserts a new account row. A duplicate email surfaces as repository.ErrConflict.
func (r *AccountRepository) Create(ctx context.Context, account domain.Account) error {
	var provider, subject any
	if account.Federated != nil {
		provider = account.Federated.Provider
		subject = account.Federated.Subject
	}

	version := account.CredentialVersion
	if version <= 0 {
		version = 1
	}

	stmt, args, err := r.builder.Insert(accountsTable).
		Columns(accountColumns...).
		Values(
			account.ID,
			domain.NormalizeEmail(account.Email),
			optionalString(account.PasswordHash),
			provider,
			subject,
			string(account.Role),
			string(account.VerificationState),
			optionalText(account.Profile.DisplayName),
			optionalText(account.Profile.ContactNumber),
			optionalTime(account.Profile.DateOfBirth),
			optionalText(account.Profile.Locality),
			account.ProfileComplete,
			account.IsActive,
			version,
			account.CreatedAt.UTC(),
			account.UpdatedAt.UTC(),
			optionalTime(account.LastLoginAt),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert account sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

// GetByID retrieves an account by identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByEmail retrieves an account by its normalised email address.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.Eq{"email": domain.NormalizeEmail(email)})
}

// GetByFederatedIdentity retrieves the account linked to a provider subject.
func (r *AccountRepository) GetByFederatedIdentity(ctx context.Context, identity domain.FederatedIdentity) (*domain.Account, error) {
	return r.getOne(ctx, squirrel.And{
		squirrel.Eq{"federated_provider": identity.Provider},
		squirrel.Eq{"federated_subject": identity.Subject},
	})
}

func (r *AccountRepository) getOne(ctx context.Context, where squirrel.Sqlizer) (*domain.Account, error) {
	stmt, args, err := r.builder.Select(accountColumns...).
		From(accountsTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	account, err := scanAccount(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return account, nil
}

// AttachFederatedIdentity links a provider subject to an account that has none yet.
func (r *AccountRepository) AttachFederatedIdentity(ctx context.Context, id string, identity domain.FederatedIdentity, at time.Time) error {
	stmt, args, err := r.builder.Update(accountsTable).
		Set("federated_provider", identity.Provider).
		Set("federated_subject", identity.Subject).
		Set("updated_at", at.UTC()).
		Where(squirrel.Eq{"id": id}).
		Where("federated_subject IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build attach federated identity sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("attach federated identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkVerified flips the verification state to verified.
func (r *AccountRepository) MarkVerified(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, "mark account verified", map[string]any{
		"verification_state": string(domain.VerificationVerified),
		"updated_at":         at.UTC(),
	})
}

// SetActive toggles the is_active flag.
func (r *AccountRepository) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	return r.update(ctx, id, "set account active", map[string]any{
		"is_active":  active,
		"updated_at": at.UTC(),
	})
}

// ChangeRole assigns a new role.
func (r *AccountRepository) ChangeRole(ctx context.Context, id string, role domain.Role, at time.Time) error {
	return r.update(ctx, id, "change account role", map[string]any{
		"role":       string(role),
		"updated_at": at.UTC(),
	})
}

// UpdateProfile overwrites the profile columns and the completion flag.
func (r *AccountRepository) UpdateProfile(ctx context.Context, id string, profile domain.ProfileFields, complete bool, at time.Time) error {
	return r.update(ctx, id, "update account profile", map[string]any{
		"display_name":     optionalText(profile.DisplayName),
		"contact_number":   optionalText(profile.ContactNumber),
		"date_of_birth":    optionalTime(profile.DateOfBirth),
		"locality":         optionalText(profile.Locality),
		"profile_complete": complete,
		"updated_at":       at.UTC(),
	})
}

// RecordLogin stamps last_login_at.
func (r *AccountRepository) RecordLogin(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, "record account login", map[string]any{
		"last_login_at": at.UTC(),
	})
}

// SetPasswordHash stores a new digest and bumps credential_version, returning the new version.
func (r *AccountRepository) SetPasswordHash(ctx context.Context, id string, hash string, at time.Time) (int64, error) {
	stmt, args, err := r.builder.Update(accountsTable).
		Set("password_hash", hash).
		Set("credential_version", squirrel.Expr("credential_version + 1")).
		Set("updated_at", at.UTC()).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING credential_version").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build set password hash sql: %w", err)
	}

	var version int64
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&version); err != nil {
		if isNoRows(err) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("set password hash: %w", err)
	}
	return version, nil
}

// List returns accounts ordered by creation time, newest first.
func (r *AccountRepository) List(ctx context.Context, filter domain.AccountFilter) ([]domain.Account, error) {
	query := r.builder.Select(accountColumns...).From(accountsTable)

	if filter.EmailPrefix != "" {
		query = query.Where(squirrel.Like{"email": domain.NormalizeEmail(filter.EmailPrefix) + "%"})
	}
	if filter.Role != nil {
		query = query.Where(squirrel.Eq{"role": string(*filter.Role)})
	}
	if filter.IsActive != nil {
		query = query.Where(squirrel.Eq{"is_active": *filter.IsActive})
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maximumListLimit {
		limit = maximumListLimit
	}
	query = query.OrderBy("created_at DESC", "id").Limit(uint64(limit))
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list accounts sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}

	return accounts, nil
}

func (r *AccountRepository) update(ctx context.Context, id, action string, values map[string]any) error {
	stmt, args, err := r.builder.Update(accountsTable).
		SetMap(values).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build %s sql: %w", action, err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account       domain.Account
		passwordHash  sql.NullString
		provider      sql.NullString
		subject       sql.NullString
		role          string
		verification  string
		displayName   sql.NullString
		contactNumber sql.NullString
		dateOfBirth   sql.NullTime
		locality      sql.NullString
		lastLoginAt   sql.NullTime
	)

	if err := row.Scan(
		&account.ID,
		&account.Email,
		&passwordHash,
		&provider,
		&subject,
		&role,
		&verification,
		&displayName,
		&contactNumber,
		&dateOfBirth,
		&locality,
		&account.ProfileComplete,
		&account.IsActive,
		&account.CredentialVersion,
		&account.CreatedAt,
		&account.UpdatedAt,
		&lastLoginAt,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	account.PasswordHash = nullableStringPtr(passwordHash)
	if provider.Valid && subject.Valid {
		account.Federated = &domain.FederatedIdentity{Provider: provider.String, Subject: subject.String}
	}
	account.Role = domain.Role(role)
	account.VerificationState = domain.VerificationState(verification)
	account.Profile = domain.ProfileFields{
		DisplayName:   displayName.String,
		ContactNumber: contactNumber.String,
		DateOfBirth:   nullableTimePtr(dateOfBirth),
		Locality:      locality.String,
	}
	account.LastLoginAt = nullableTimePtr(lastLoginAt)
	account.CreatedAt = account.CreatedAt.UTC()
	account.UpdatedAt = account.UpdatedAt.UTC()

	return &account, nil
}

var _ port.AccountRepository = (*AccountRepository)(nil)
