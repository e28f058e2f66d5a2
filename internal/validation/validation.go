// Package validation registers the custom validator tags shared by the HTTP
// binding layer and the domain services.
//
//	hhmm       "HH:MM", 00:00 to 23:59
//	isodate    "YYYY-MM-DD"
//	yearmonth  "YYYY-MM"
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nexus-dashboard/nexus/internal/apperr"
)

var std = New()

// New returns a validator with the custom tags registered and field names
// reported by their JSON names.
func New() *validator.Validate {
	v := validator.New()
	if err := Register(v); err != nil {
		panic(err)
	}
	return v
}

// Register installs the custom tags on v and switches field names to JSON.
func Register(v *validator.Validate) error {
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	for tag, layout := range map[string]string{
		"hhmm":      "15:04",
		"isodate":   time.DateOnly,
		"yearmonth": "2006-01",
	} {
		if err := v.RegisterValidation(tag, layoutValidator(layout)); err != nil {
			return fmt.Errorf("failed to register %s: %w", tag, err)
		}
	}
	return nil
}

func layoutValidator(layout string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if len(s) != len(layout) {
			return false
		}
		_, err := time.Parse(layout, s)
		return err == nil
	}
}

// Struct validates s and converts failures to an invalid-input error that
// names the offending fields.
func Struct(s any) error {
	err := std.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.New(apperr.ErrInvalidInput, "invalid_input", err.Error())
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return apperr.New(apperr.ErrInvalidInput, "invalid_input", strings.Join(parts, "; "))
}

// Var validates a single value against tag.
func Var(value any, tag string) error {
	if err := std.Var(value, tag); err != nil {
		return apperr.New(apperr.ErrInvalidInput, "invalid_input", fmt.Sprintf("value %v failed %q", value, tag))
	}
	return nil
}
