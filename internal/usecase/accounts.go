package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/core/port"
	"github.com/arklim/community-identity/internal/infra/config"
	"github.com/arklim/community-identity/internal/infra/logger"
	"github.com/arklim/community-identity/internal/repository"
)

const maxAccountPageSize = 200

var contactNumberPattern = regexp.MustCompile(`^\+?[0-9][0-9 ()\-]{5,19}$`)

// NewAccount describes an account to create. Exactly one of PasswordHash or Federated is expected.
type NewAccount struct {
	Email        string
	PasswordHash *string
	Federated    *domain.FederatedIdentity
	Profile      domain.ProfileFields
}

type profileInput struct {
	DisplayName   string     `validate:"max=80"`
	ContactNumber string     `validate:"omitempty,contact_number"`
	DateOfBirth   *time.Time `validate:"omitempty,past_date"`
	Locality      string     `validate:"max=120"`
}

// AccountService owns every mutation of account records.
type AccountService struct {
	accounts   port.AccountRepository
	events     port.EventPublisher
	linkPolicy string
	validate   *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewAccountService constructs an AccountService. An empty linkPolicy means trust_email.
func NewAccountService(accounts port.AccountRepository, events port.EventPublisher, linkPolicy string, log *zap.Logger) *AccountService {
	if log == nil {
		log = zap.NewNop()
	}
	if linkPolicy == "" {
		linkPolicy = config.LinkPolicyTrustEmail
	}

	s := &AccountService{
		accounts:   accounts,
		events:     events,
		linkPolicy: linkPolicy,
		validate:   validator.New(),
		logger:     log,
		now:        time.Now,
	}
	_ = s.validate.RegisterValidation("contact_number", func(fl validator.FieldLevel) bool {
		return contactNumberPattern.MatchString(fl.Field().String())
	})
	_ = s.validate.RegisterValidation("past_date", func(fl validator.FieldLevel) bool {
		dob, ok := fl.Field().Interface().(time.Time)
		return ok && dob.Before(s.now())
	})
	return s
}

// WithClock overrides the time source, primarily for tests.
func (s *AccountService) WithClock(clock func() time.Time) *AccountService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// CreateAccount inserts a new account. Password registrations start unverified, pure federated ones verified.
func (s *AccountService) CreateAccount(ctx context.Context, in NewAccount) (domain.Account, error) {
	email := domain.NormalizeEmail(in.Email)
	if email == "" {
		return domain.Account{}, fmt.Errorf("%w: email is required", domain.ErrInvalidInput)
	}

	state := domain.VerificationUnverified
	if in.PasswordHash == nil && in.Federated != nil {
		state = domain.VerificationVerified
	}

	now := s.now().UTC()
	profile := domain.ProfileFields{}.Merge(in.Profile)
	account := domain.Account{
		ID:                uuid.NewString(),
		Email:             email,
		PasswordHash:      in.PasswordHash,
		Federated:         in.Federated,
		Role:              domain.RoleUser,
		VerificationState: state,
		Profile:           profile,
		ProfileComplete:   profile.Complete(),
		IsActive:          true,
		CredentialVersion: 1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return domain.Account{}, domain.ErrDuplicateEmail
		}
		return domain.Account{}, fmt.Errorf("create account: %w", err)
	}

	return account, nil
}

// LinkFederatedIdentity reconciles a provider-verified identity to a local account.
// The boolean reports whether a new account was created.
func (s *AccountService) LinkFederatedIdentity(ctx context.Context, identity domain.ExternalIdentity) (domain.Account, bool, error) {
	federated := identity.FederatedIdentity()
	if federated.Provider == "" || federated.Subject == "" {
		return domain.Account{}, false, fmt.Errorf("%w: provider subject is required", domain.ErrInvalidInput)
	}

	existing, err := s.accounts.GetByFederatedIdentity(ctx, federated)
	if err == nil {
		return *existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.Account{}, false, fmt.Errorf("lookup federated account: %w", err)
	}

	email := domain.NormalizeEmail(identity.Email)
	byEmail, err := s.accounts.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		profile := identity.ProfileHints
		if profile.DisplayName == "" {
			profile.DisplayName = identity.Name
		}
		created, err := s.CreateAccount(ctx, NewAccount{Email: email, Federated: &federated, Profile: profile})
		if err != nil {
			return domain.Account{}, false, err
		}
		return created, true, nil
	case err != nil:
		return domain.Account{}, false, fmt.Errorf("lookup account by email: %w", err)
	}

	unclaimed := !byEmail.HasPassword() && byEmail.Federated == nil
	if !unclaimed && s.linkPolicy == config.LinkPolicyStrict {
		return domain.Account{}, false, domain.ErrDuplicateEmail
	}
	// An unverified local password was never proven by the mailbox owner.
	if byEmail.HasPassword() && !byEmail.IsVerified() {
		return domain.Account{}, false, domain.ErrDuplicateEmail
	}

	now := s.now().UTC()
	if byEmail.Federated == nil {
		if err := s.accounts.AttachFederatedIdentity(ctx, byEmail.ID, federated, now); err != nil {
			switch {
			case errors.Is(err, repository.ErrConflict):
				return domain.Account{}, false, domain.ErrDuplicateEmail
			case !errors.Is(err, repository.ErrNotFound):
				return domain.Account{}, false, fmt.Errorf("attach federated identity: %w", err)
			}
		}
	}
	if !byEmail.IsVerified() {
		if err := s.accounts.MarkVerified(ctx, byEmail.ID, now); err != nil {
			return domain.Account{}, false, s.translate(err, "mark verified")
		}
	}

	logger.WithContext(ctx, s.logger).Info("federated identity reconciled to existing account",
		zap.String("account_id", byEmail.ID),
		zap.String("provider", federated.Provider),
		zap.Bool("had_password", byEmail.HasPassword()),
	)

	account, err := s.GetAccount(ctx, byEmail.ID)
	return account, false, err
}

// GetAccount returns the account or domain.ErrAccountNotFound.
func (s *AccountService) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return domain.Account{}, s.translate(err, "get account")
	}
	return *account, nil
}

// FindByEmail returns the account owning email or domain.ErrAccountNotFound.
func (s *AccountService) FindByEmail(ctx context.Context, email string) (domain.Account, error) {
	account, err := s.accounts.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		return domain.Account{}, s.translate(err, "get account by email")
	}
	return *account, nil
}

// MarkVerified moves the account to the verified state.
func (s *AccountService) MarkVerified(ctx context.Context, id string) error {
	return s.translate(s.accounts.MarkVerified(ctx, id, s.now().UTC()), "mark verified")
}

// SetPasswordHash stores a new digest and returns the bumped credential version.
func (s *AccountService) SetPasswordHash(ctx context.Context, id, hash string) (int64, error) {
	version, err := s.accounts.SetPasswordHash(ctx, id, hash, s.now().UTC())
	if err != nil {
		return 0, s.translate(err, "set password hash")
	}
	return version, nil
}

// RecordLogin stamps the account's last successful login.
func (s *AccountService) RecordLogin(ctx context.Context, id string) error {
	return s.translate(s.accounts.RecordLogin(ctx, id, s.now().UTC()), "record login")
}

// CompleteProfile merges patch into the stored profile and recomputes ProfileComplete.
func (s *AccountService) CompleteProfile(ctx context.Context, id string, patch domain.ProfileFields) (domain.Account, error) {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}

	merged := account.Profile.Merge(patch)
	if err := s.validate.Struct(profileInput{
		DisplayName:   merged.DisplayName,
		ContactNumber: merged.ContactNumber,
		DateOfBirth:   merged.DateOfBirth,
		Locality:      merged.Locality,
	}); err != nil {
		return domain.Account{}, profileValidationError(err)
	}

	complete := merged.Complete()
	if err := s.accounts.UpdateProfile(ctx, id, merged, complete, s.now().UTC()); err != nil {
		return domain.Account{}, s.translate(err, "update profile")
	}

	logger.WithContext(ctx, s.logger).Info("profile updated",
		zap.String("account_id", id),
		zap.String("contact_number", logger.MaskPhone(merged.ContactNumber)),
		zap.Bool("profile_complete", complete),
	)

	account.Profile = merged
	account.ProfileComplete = complete
	return account, nil
}

// SetActive enables or disables an account on behalf of an administrator.
func (s *AccountService) SetActive(ctx context.Context, actorID, id string, active bool) (domain.Account, error) {
	if actorID == id {
		return domain.Account{}, fmt.Errorf("%w: administrators cannot change their own status", domain.ErrForbidden)
	}
	if err := s.accounts.SetActive(ctx, id, active, s.now().UTC()); err != nil {
		return domain.Account{}, s.translate(err, "set active")
	}
	return s.afterAdminChange(ctx, actorID, id)
}

// ChangeRole assigns role on behalf of an administrator.
func (s *AccountService) ChangeRole(ctx context.Context, actorID, id string, role domain.Role) (domain.Account, error) {
	if !role.Valid() {
		return domain.Account{}, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, role)
	}
	if actorID == id {
		return domain.Account{}, fmt.Errorf("%w: administrators cannot change their own role", domain.ErrForbidden)
	}
	if err := s.accounts.ChangeRole(ctx, id, role, s.now().UTC()); err != nil {
		return domain.Account{}, s.translate(err, "change role")
	}
	return s.afterAdminChange(ctx, actorID, id)
}

func (s *AccountService) afterAdminChange(ctx context.Context, actorID, id string) (domain.Account, error) {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}

	log := logger.WithContext(ctx, s.logger)
	log.Info("account status changed",
		zap.String("account_id", id),
		zap.String("actor_id", actorID),
		zap.Bool("is_active", account.IsActive),
		zap.String("role", string(account.Role)),
	)

	if s.events != nil {
		event := domain.AccountStatusChangedEvent{
			EventID:   uuid.NewString(),
			AccountID: id,
			ActorID:   actorID,
			IsActive:  account.IsActive,
			Role:      account.Role,
			ChangedAt: account.UpdatedAt,
		}
		if err := s.events.PublishAccountStatusChanged(ctx, event); err != nil {
			log.Warn("failed to publish account status event", zap.String("account_id", id), zap.Error(err))
		}
	}
	return account.Sanitized(), nil
}

// ListAccounts pages through accounts for the back-office.
func (s *AccountService) ListAccounts(ctx context.Context, filter domain.AccountFilter) ([]domain.Account, error) {
	if filter.Limit > maxAccountPageSize {
		filter.Limit = maxAccountPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	filter.EmailPrefix = domain.NormalizeEmail(filter.EmailPrefix)

	accounts, err := s.accounts.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	for i := range accounts {
		accounts[i] = accounts[i].Sanitized()
	}
	return accounts, nil
}

func (s *AccountService) translate(err error, action string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return domain.ErrAccountNotFound
	case errors.Is(err, repository.ErrConflict):
		return domain.ErrDuplicateEmail
	default:
		return fmt.Errorf("%s: %w", action, err)
	}
}

func profileValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field())
	}
	return fmt.Errorf("%w: invalid profile fields: %s", domain.ErrInvalidInput, strings.Join(fields, ", "))
}
