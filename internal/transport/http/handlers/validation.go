package handlers

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	usernameMaxLength       = 50
	usernameRuleDescription = "must be 1 to 50 characters without spaces or control characters"
)

// RegisterValidators installs the custom tags used by request models on
// gin's validator engine.
func RegisterValidators() error {
	engine, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	if err := engine.RegisterValidation("username", validateUsername); err != nil {
		return fmt.Errorf("register username validation: %w", err)
	}
	return nil
}

func validateUsername(fl validator.FieldLevel) bool {
	return ValidUsername(fl.Field().String())
}

// ValidUsername reports whether value is an acceptable account name.
func ValidUsername(value string) bool {
	if value == "" || utf8.RuneCountInString(value) > usernameMaxLength {
		return false
	}
	for _, r := range value {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}
