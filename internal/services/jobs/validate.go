package jobs

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/bugowl/internal/models"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names so problems match the request body
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidatePayload checks an execute request and returns a *models.ValidationError listing every problem
func ValidatePayload(payload *models.JobPayload) error {
	if payload == nil {
		return &models.ValidationError{Problems: []string{"empty payload"}}
	}

	var problems []string
	if err := validate.Struct(payload); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("failed to validate payload: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}
	problems = append(problems, payload.CheckReferences()...)

	if len(problems) > 0 {
		return &models.ValidationError{Problems: problems}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "JobPayload.")
	switch fe.Tag() {
	case "required", "required_without":
		return fmt.Sprintf("missing '%s'", field)
	case "oneof":
		return fmt.Sprintf("'%s' must be one of [%s]", field, fe.Param())
	case "url":
		return fmt.Sprintf("'%s' must be a URL", field)
	case "email":
		return fmt.Sprintf("'%s' must be an email address", field)
	default:
		return fmt.Sprintf("'%s' failed '%s' validation", field, fe.Tag())
	}
}
