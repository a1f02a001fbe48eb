package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	appErrors "github.com/frahmantamala/memory-permissions/internal"
	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// Validator returns the shared validator. Field names in errors are taken
// from the json tag so they match what clients send.
func Validator() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
		instance.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
	})
	return instance
}

// IsEmail reports whether s is a syntactically valid address.
func IsEmail(s string) bool {
	return Validator().Var(s, "required,email") == nil
}

// Messages maps a json field name to the message returned when any rule on
// that field fails.
type Messages map[string]string

// Struct validates v and returns the first failure as a validation AppError.
func Struct(v any, messages Messages) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return appErrors.NewInternalError("validation failed", err)
	}

	fe := fieldErrs[0]
	if msg, ok := messages[fe.Field()]; ok {
		return appErrors.NewValidationError(msg, appErrors.ErrCodeValidationFailed)
	}
	return appErrors.NewValidationError(fmt.Sprintf("%s is invalid", fe.Field()), appErrors.ErrCodeValidationFailed)
}
