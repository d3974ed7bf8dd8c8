package booking

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hackgods/clinic-appointment-notifications/internal/appointment"
)

// Request is the booking intake body. It is forwarded to the provider as is
// and, when the provider is down, stored verbatim in the fallback queue.
type Request struct {
	PatientName  string `json:"patientName" validate:"required,min=2,max=120"`
	PatientEmail string `json:"patientEmail" validate:"required,email,max=254"`
	PatientPhone string `json:"patientPhone" validate:"required,min=10,max=20"`
	Date         string `json:"date" validate:"required,datetime=2006-01-02"`
	Time         string `json:"time" validate:"required,datetime=15:04"`
	Reason       string `json:"reason,omitempty" validate:"max=500"`
	LGPDConsent  bool   `json:"lgpdConsent" validate:"required"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the body shape and that the appointment is in the future.
func (r Request) Validate(now time.Time, loc *time.Location) error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate booking request: %w", err)
		}
		out := &ValidationError{}
		for _, fe := range verrs {
			out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Message: describe(fe)})
		}
		return out
	}

	at, err := appointment.CombineInstant(r.Date, r.Time, loc)
	if err != nil {
		return &ValidationError{Fields: []FieldError{{Field: "date", Message: "invalid date or time"}}}
	}
	if !at.After(now) {
		return &ValidationError{Fields: []FieldError{{Field: "date", Message: "appointment must be in the future"}}}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		if fe.Field() == "lgpdConsent" {
			return "consent is required"
		}
		return "is required"
	case "email":
		return "must be a valid email"
	case "datetime":
		return "must match " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " characters"
	case "max":
		return "must have at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}
