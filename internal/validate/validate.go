// Package validate checks request bodies with struct tags and turns
// failures into field messages.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"shelfwise/internal/apperr"
)

type Validator struct {
	v *validator.Validate
}

var isbnChars = regexp.MustCompile(`^[\dX-]+$`)

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("isbn_chars", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || isbnChars.MatchString(s)
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return strongPassword(fl.Field().String())
	})
	return &Validator{v: v}
}

// strongPassword wants a lower, an upper, a digit and a symbol. Length is
// left to min.
func strongPassword(s string) bool {
	var lower, upper, digit, symbol bool
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r):
			symbol = true
		}
	}
	return lower && upper && digit && symbol
}

// Struct validates i and returns an apperr validation error carrying one
// message per failing field.
func (v *Validator) Struct(i any) error {
	err := v.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate: %w", err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		if _, seen := fields[name]; !seen {
			fields[name] = message(fe)
		}
	}
	return apperr.Invalid(fields)
}

func message(fe validator.FieldError) string {
	f := fe.Field()
	switch fe.Tag() {
	case "required":
		return f + " is required."
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must not exceed %s characters.", f, fe.Param())
		}
		return fmt.Sprintf("%s must not exceed %s.", f, fe.Param())
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters.", f, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s.", f, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s.", f, fe.Param())
	case "gte", "lte":
		return fmt.Sprintf("%s is out of range.", f)
	case "email":
		return f + " must be a valid email address."
	case "url":
		return f + " must be a valid URL."
	case "isbn_chars":
		return f + " must contain only digits, hyphens, and X."
	case "password":
		return f + " must contain an uppercase letter, a lowercase letter, a digit and a symbol."
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s.", f, fe.Param())
	}
	return f + " is invalid."
}
