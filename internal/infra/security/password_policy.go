package security

import (
	"strings"

	"github.com/arklim/community-identity/internal/core/port"
)

const (
	defaultMinPasswordLength   = 8
	defaultMaxPasswordLength   = 128
	defaultMinCharacterClasses = 3
)

// PasswordPolicyConfig tunes the password rules. A zero MinStrengthScore skips the zxcvbn check.
type PasswordPolicyConfig struct {
	MinLength           int
	MaxLength           int
	MinCharacterClasses int
	MinStrengthScore    int
}

// DefaultPasswordPolicyConfig returns the service defaults.
func DefaultPasswordPolicyConfig() PasswordPolicyConfig {
	return PasswordPolicyConfig{
		MinLength:           defaultMinPasswordLength,
		MaxLength:           defaultMaxPasswordLength,
		MinCharacterClasses: defaultMinCharacterClasses,
	}
}

// PasswordPolicy adapts the password validator to port.PasswordPolicyValidator,
// feeding contextual user inputs (email, display name) into the strength check.
type PasswordPolicy struct {
	cfg PasswordPolicyConfig
}

// NewPasswordPolicy builds a policy, filling unset limits with defaults.
func NewPasswordPolicy(cfg PasswordPolicyConfig) *PasswordPolicy {
	if cfg.MinLength <= 0 {
		cfg.MinLength = defaultMinPasswordLength
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = defaultMaxPasswordLength
	}
	if cfg.MinCharacterClasses < 0 {
		cfg.MinCharacterClasses = 0
	}
	return &PasswordPolicy{cfg: cfg}
}

// Validate returns a *PasswordValidationError wrapping domain.ErrPasswordPolicy on violation.
func (p *PasswordPolicy) Validate(password string, userInputs ...string) error {
	cfg := DefaultPasswordPolicyConfig()
	if p != nil {
		cfg = p.cfg
	}

	inputs := make([]string, 0, len(userInputs))
	for _, input := range userInputs {
		if trimmed := strings.TrimSpace(input); trimmed != "" {
			inputs = append(inputs, trimmed)
			if local, _, ok := strings.Cut(trimmed, "@"); ok && local != "" {
				inputs = append(inputs, local)
			}
		}
	}

	return NewPasswordValidator(
		MinLengthRule(cfg.MinLength),
		MaxLengthRule(cfg.MaxLength),
		RequireCharacterClassesRule(cfg.MinCharacterClasses),
		RequirePasswordStrengthRule(cfg.MinStrengthScore, inputs...),
	).Validate(password)
}

var _ port.PasswordPolicyValidator = (*PasswordPolicy)(nil)
