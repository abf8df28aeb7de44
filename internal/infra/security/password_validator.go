package security

import (
	"fmt"
	"unicode/utf8"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

// MaxPasswordLength bounds the input handed to Argon2 and zxcvbn.
const MaxPasswordLength = 128

// PasswordValidationError represents a single password policy violation.
type PasswordValidationError struct {
	Code    string
	Message string
}

func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// PasswordRule validates a password according to a specific policy rule.
// userInputs carries account fields (username, email) the password should not resemble.
type PasswordRule func(password string, userInputs []string) error

// PasswordPolicy applies a sequence of password rules.
type PasswordPolicy struct {
	rules []PasswordRule
}

// NewPasswordPolicy constructs a policy from explicit rules.
func NewPasswordPolicy(rules ...PasswordRule) *PasswordPolicy {
	copied := make([]PasswordRule, len(rules))
	copy(copied, rules)
	return &PasswordPolicy{rules: copied}
}

// ConfiguredPasswordPolicy builds the registration policy from the configured
// minimum length and zxcvbn score. A score of zero disables the strength check.
func ConfiguredPasswordPolicy(minLength, minScore int) *PasswordPolicy {
	if minLength < 1 {
		minLength = 1
	}
	return NewPasswordPolicy(
		LengthRule(minLength, MaxPasswordLength),
		StrengthRule(minScore),
	)
}

// Validate executes all rules and returns the first violation.
func (p *PasswordPolicy) Validate(password string, userInputs ...string) error {
	if p == nil {
		return fmt.Errorf("password policy not configured")
	}
	for _, rule := range p.rules {
		if err := rule(password, userInputs); err != nil {
			return err
		}
	}
	return nil
}

// LengthRule bounds the password length in characters.
func LengthRule(min, max int) PasswordRule {
	return func(password string, _ []string) error {
		n := utf8.RuneCountInString(password)
		if n < min {
			return &PasswordValidationError{
				Code:    "min_length",
				Message: fmt.Sprintf("password must be at least %d characters long", min),
			}
		}
		if max > 0 && n > max {
			return &PasswordValidationError{
				Code:    "max_length",
				Message: fmt.Sprintf("password must be at most %d characters long", max),
			}
		}
		return nil
	}
}

// StrengthRule enforces a minimum zxcvbn score.
func StrengthRule(minScore int) PasswordRule {
	if minScore > 4 {
		minScore = 4
	}
	return func(password string, userInputs []string) error {
		if minScore <= 0 {
			return nil
		}

		result := zxcvbn.PasswordStrength(password, userInputs)
		if result.Score >= minScore {
			return nil
		}

		return &PasswordValidationError{
			Code:    "weak_password",
			Message: "password is too weak; choose a more complex value",
		}
	}
}
