package service

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/cycleconnect/internal/apperror"
	"github.com/sakif/cycleconnect/internal/model"
)

// VALIDATION STRATEGY:
// Per-field rules are struct tags on the model (and on input structs),
// checked by go-playground/validator. Rules that involve more than one field
// are plain Go in validateRide. Create and update both call the same
// function on the full record, so an update can't produce a ride that
// create would have refused.

var (
	clockPattern    = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

// validate is safe for concurrent use and caches struct metadata, so one
// package-level instance serves every request.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON name ("startTime"), which is what API
	// clients know, instead of the Go name ("StartTime").
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		return clockPattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})

	return v
}

// validateStruct runs the tag rules and converts failures into an
// apperror validation error listing every bad field.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating input: %w", err)
	}

	fields := make([]apperror.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperror.FieldError{
			Field:   fe.Field(),
			Message: fieldMessage(fe),
		})
	}
	return apperror.Validation(fields...)
}

func fieldMessage(fe validator.FieldError) string {
	f := fe.Field()
	switch fe.Tag() {
	case "required":
		return f + " is required"
	case "email":
		return "please enter a valid email"
	case "oneof":
		return f + " must be one of " + fe.Param()
	case "clock":
		return f + " must be a 24-hour time like 08:30"
	case "username":
		return f + " may only contain letters, digits, '.', '_' and '-'"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", f, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", f, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", f, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", f, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", f, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", f, fe.Param())
	}
	return f + " is invalid"
}

// fieldErrors unpacks the field list of a validation error. Any other error
// becomes a single anonymous entry so nothing is silently dropped.
func fieldErrors(err error) []apperror.FieldError {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		if len(appErr.Fields) > 0 {
			return appErr.Fields
		}
		if appErr.Field != "" {
			return []apperror.FieldError{{Field: appErr.Field, Message: appErr.Message}}
		}
	}
	return []apperror.FieldError{{Message: err.Error()}}
}

// dedupeFields keeps the first message reported for each field.
func dedupeFields(fields []apperror.FieldError) []apperror.FieldError {
	seen := make(map[string]bool, len(fields))
	out := fields[:0:0]
	for _, f := range fields {
		if seen[f.Field] {
			continue
		}
		seen[f.Field] = true
		out = append(out, f)
	}
	return out
}

// validateRide checks one complete ride record: the tag rules plus every
// rule spanning several fields.
func validateRide(r *model.Ride) error {
	var fields []apperror.FieldError

	if err := validateStruct(r); err != nil {
		var appErr *apperror.AppError
		if !errors.As(err, &appErr) {
			return err
		}
		fields = append(fields, appErr.Fields...)
	}

	if r.Date.IsZero() {
		fields = append(fields, apperror.FieldError{Field: "date", Message: "date is required"})
	}
	if r.RecurringType != nil && !r.IsRecurring {
		fields = append(fields, apperror.FieldError{
			Field:   "recurringType",
			Message: "recurringType can only be set on a recurring ride",
		})
	}
	if r.MaxParticipants != nil && *r.MaxParticipants < r.ParticipantCount {
		fields = append(fields, apperror.FieldError{
			Field:   "maxParticipants",
			Message: "maxParticipants cannot be lower than the number of riders already joined",
		})
	}
	if (r.StartLatitude == nil) != (r.StartLongitude == nil) {
		fields = append(fields, apperror.FieldError{
			Field:   "startLatitude",
			Message: "startLatitude and startLongitude must be given together",
		})
	}

	if len(fields) > 0 {
		return apperror.Validation(fields...)
	}
	return nil
}

// parseRideDate accepts a calendar date ("2024-06-01") or a full RFC 3339
// timestamp and returns midnight UTC of that calendar day.
//
// RFC 3339 input is converted to UTC before truncating, so the stored day is
// the UTC day of the instant the client sent.
func parseRideDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, apperror.ValidationFailed("date", "date is required")
	}

	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, apperror.ValidationFailed("date", "date must be YYYY-MM-DD or an RFC 3339 timestamp")
}
