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

const tokensTable = "iam.opaque_tokens"

var tokenColumns = []string{
	"id",
	"account_id",
	"token_hash",
	"purpose",
	"created_at",
	"expires_at",
	"consumed_at",
	"revoked_at",
}

// TokenRepository implements port.TokenRepository using PostgreSQL tables.
type TokenRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewTokenRepository constructs a new token repository.
func NewTokenRepository(exec pgExecutor) *TokenRepository {
	return &TokenRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *TokenRepository) WithTx(tx pgx.Tx) *TokenRepository {
	if tx == nil {
		return r
	}
	return &TokenRepository{exec: tx, builder: r.builder}
}

// Replace revokes live tokens for the same account and purpose, then inserts token, in one transaction.
func (r *TokenRepository) Replace(ctx context.Context, token domain.OpaqueToken) error {
	tx, err := r.exec.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace token tx: %w", err)
	}

	scoped := r.WithTx(tx)
	if err := scoped.revokeLive(ctx, token.AccountID, token.Purpose, token.CreatedAt); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := scoped.insert(ctx, token); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace token tx: %w", err)
	}
	return nil
}

func (r *TokenRepository) revokeLive(ctx context.Context, accountID string, purpose domain.TokenPurpose, at time.Time) error {
	stmt, args, err := r.builder.Update(tokensTable).
		Set("revoked_at", at.UTC()).
		Where(squirrel.Eq{"account_id": accountID}).
		Where(squirrel.Eq{"purpose": string(purpose)}).
		Where("consumed_at IS NULL").
		Where("revoked_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke tokens sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("revoke live tokens: %w", err)
	}
	return nil
}

func (r *TokenRepository) insert(ctx context.Context, token domain.OpaqueToken) error {
	stmt, args, err := r.builder.Insert(tokensTable).
		Columns(tokenColumns...).
		Values(
			token.ID,
			token.AccountID,
			token.TokenHash,
			string(token.Purpose),
			token.CreatedAt.UTC(),
			token.ExpiresAt.UTC(),
			optionalTime(token.ConsumedAt),
			optionalTime(token.RevokedAt),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// Consume marks the live token consumed with one conditional update so concurrent redeemers cannot both win.
func (r *TokenRepository) Consume(ctx context.Context, hash string, purpose domain.TokenPurpose, at time.Time) (*domain.OpaqueToken, error) {
	stmt, args, err := r.builder.Update(tokensTable).
		Set("consumed_at", at.UTC()).
		Where(squirrel.Eq{"token_hash": hash}).
		Where(squirrel.Eq{"purpose": string(purpose)}).
		Where("consumed_at IS NULL").
		Where("revoked_at IS NULL").
		Where(squirrel.Gt{"expires_at": at.UTC()}).
		Suffix("RETURNING id, account_id, token_hash, purpose, created_at, expires_at, consumed_at, revoked_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build consume token sql: %w", err)
	}

	token, err := scanToken(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("consume token: %w", err)
	}
	return token, nil
}

// GetByHash retrieves a token regardless of its state.
func (r *TokenRepository) GetByHash(ctx context.Context, hash string, purpose domain.TokenPurpose) (*domain.OpaqueToken, error) {
	stmt, args, err := r.builder.Select(tokenColumns...).
		From(tokensTable).
		Where(squirrel.Eq{"token_hash": hash}).
		Where(squirrel.Eq{"purpose": string(purpose)}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select token sql: %w", err)
	}

	token, err := scanToken(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("scan token: %w", err)
	}
	return token, nil
}

func scanToken(row pgx.Row) (*domain.OpaqueToken, error) {
	var (
		token      domain.OpaqueToken
		purpose    string
		consumedAt sql.NullTime
		revokedAt  sql.NullTime
	)

	if err := row.Scan(
		&token.ID,
		&token.AccountID,
		&token.TokenHash,
		&purpose,
		&token.CreatedAt,
		&token.ExpiresAt,
		&consumedAt,
		&revokedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	token.Purpose = domain.TokenPurpose(purpose)
	token.CreatedAt = token.CreatedAt.UTC()
	token.ExpiresAt = token.ExpiresAt.UTC()
	token.ConsumedAt = nullableTimePtr(consumedAt)
	token.RevokedAt = nullableTimePtr(revokedAt)

	return &token, nil
}

var _ port.TokenRepository = (*TokenRepository)(nil)
