package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/arklim/community-identity/internal/core/domain"
	"github.com/arklim/community-identity/internal/core/port"
)

// MinSessionSecretLength is the shortest accepted HMAC signing secret.
const MinSessionSecretLength = 32

const (
	defaultSessionTTL  = 2 * time.Hour
	extendedSessionTTL = 30 * 24 * time.Hour
)

var (
	// ErrInvalidSessionToken covers malformed, forged, wrongly signed or not-yet-valid credentials.
	ErrInvalidSessionToken = fmt.Errorf("%w: invalid session token", domain.ErrUnauthenticated)
	// ErrExpiredSessionToken indicates a correctly signed credential past its expiry.
	ErrExpiredSessionToken = fmt.Errorf("%w: session token expired", domain.ErrUnauthenticated)
)

// SessionClaims is the JWT payload of a session credential.
type SessionClaims struct {
	AccountID         string `json:"uid"`
	Role              string `json:"role"`
	CredentialVersion int64  `json:"cv"`
	Extended          bool   `json:"rem,omitempty"`
	jwt.RegisteredClaims
}

// SessionConfig configures the HS256 session issuer.
type SessionConfig struct {
	Secret      []byte
	Issuer      string
	Audience    string
	DefaultTTL  time.Duration
	ExtendedTTL time.Duration
}

// SessionIssuer mints and verifies stateless HS256 session credentials.
type SessionIssuer struct {
	cfg SessionConfig
	now func() time.Time
}

// NewSessionIssuer validates cfg and returns an issuer.
func NewSessionIssuer(cfg SessionConfig) (*SessionIssuer, error) {
	if len(cfg.Secret) < MinSessionSecretLength {
		return nil, fmt.Errorf("session: signing secret must be at least %d bytes", MinSessionSecretLength)
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	if cfg.Issuer == "" {
		return nil, errors.New("session: issuer is required")
	}
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaultSessionTTL
	}
	if cfg.ExtendedTTL <= 0 {
		cfg.ExtendedTTL = extendedSessionTTL
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	cfg.Secret = secret

	return &SessionIssuer{cfg: cfg, now: time.Now}, nil
}

// WithClock overrides the time source, primarily for tests.
func (s *SessionIssuer) WithClock(clock func() time.Time) *SessionIssuer {
	if clock == nil {
		return s
	}
	return &SessionIssuer{cfg: s.cfg, now: clock}
}

// Issue signs a credential for accountID. extended selects the remember-me lifetime.
func (s *SessionIssuer) Issue(accountID string, role domain.Role, credentialVersion int64, extended bool) (domain.Session, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.Session{}, errors.New("session: account id is required")
	}
	if !role.Valid() {
		return domain.Session{}, fmt.Errorf("session: unknown role %q", role)
	}

	now := s.now().UTC().Truncate(time.Second)
	ttl := s.cfg.DefaultTTL
	class := domain.SessionDefault
	if extended {
		ttl = s.cfg.ExtendedTTL
		class = domain.SessionExtended
	}
	expiresAt := now.Add(ttl)

	claims := &SessionClaims{
		AccountID:         accountID,
		Role:              string(role),
		CredentialVersion: credentialVersion,
		Extended:          extended,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	if s.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return domain.Session{}, fmt.Errorf("session: sign token: %w", err)
	}

	return domain.Session{
		Token:     signed,
		AccountID: accountID,
		Role:      role,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
		TTLClass:  class,
	}, nil
}

// Verify checks the signature and algorithm first, then the time window and claims.
func (s *SessionIssuer) Verify(token string) (domain.Principal, error) {
	claims, err := s.Parse(token)
	if err != nil {
		return domain.Principal{}, err
	}

	principal := domain.Principal{
		AccountID:         claims.AccountID,
		Role:              domain.Role(claims.Role),
		CredentialVersion: claims.CredentialVersion,
		TokenID:           claims.ID,
	}
	if claims.ExpiresAt != nil {
		principal.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return principal, nil
}

// Parse returns the validated claims of token.
func (s *SessionIssuer) Parse(token string) (*SessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidSessionToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	}
	if s.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.cfg.Audience))
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.cfg.Secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredSessionToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidSessionToken
	}

	if strings.TrimSpace(claims.AccountID) == "" || claims.AccountID != claims.Subject {
		return nil, ErrInvalidSessionToken
	}
	if !domain.Role(claims.Role).Valid() {
		return nil, ErrInvalidSessionToken
	}

	return claims, nil
}

var _ port.SessionIssuer = (*SessionIssuer)(nil)
