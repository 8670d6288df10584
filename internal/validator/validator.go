package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	playground "github.com/go-playground/validator/v10"

	"github.com/septivank/aqueduct-sync/internal/apperr"
	"github.com/septivank/aqueduct-sync/internal/domain"
	"github.com/septivank/aqueduct-sync/tools/timeparser"
)

// readingFields mirrors the scalar fields of a reading under their wire names
type readingFields struct {
	Installation int    `json:"instalacion" validate:"required,gt=0"`
	Month        int    `json:"mes" validate:"min=1,max=12"`
	Year         int    `json:"year" validate:"min=2000,max=2100"`
	Meter        string `json:"medidor" validate:"max=50"`
	Operator     string `json:"usuario" validate:"max=100"`
	Company      int    `json:"empresa" validate:"min=0"`
	CaptureDate  string `json:"fecha" validate:"required,datetime=2006-01-02"`
}

// Validator checks readings before they are submitted or queued
type Validator struct {
	validate                   *playground.Validate
	futureDateToleranceMinutes int
}

// NewValidator creates a new validator. Capture dates further in the future than the
// tolerance are rejected.
func NewValidator(futureDateToleranceMinutes int) *Validator {
	v := playground.New(playground.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{
		validate:                   v,
		futureDateToleranceMinutes: futureDateToleranceMinutes,
	}
}

// ValidateReading validates a normalized reading. The returned error is always an
// *apperr.ValidationError.
func (v *Validator) ValidateReading(r domain.Reading, now time.Time) error {
	fields := readingFields{
		Installation: r.Installation,
		Month:        r.Month,
		Year:         r.Year,
		Meter:        r.Meter,
		Operator:     r.Operator,
		Company:      r.Company,
		CaptureDate:  r.CaptureDate,
	}

	if err := v.validate.Struct(fields); err != nil {
		var fieldErrs playground.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &apperr.ValidationError{Field: fe.Field(), Reason: describe(fe)}
		}
		return &apperr.ValidationError{Reason: err.Error()}
	}

	if r.PreviousReading.IsNegative() {
		return &apperr.ValidationError{Field: "lectura_anterior", Reason: "negative value detected"}
	}
	if r.CurrentReading.LessThan(r.PreviousReading) {
		return &apperr.ValidationError{
			Field:  "lectura",
			Reason: fmt.Sprintf("current reading %s is below previous reading %s", r.CurrentReading, r.PreviousReading),
		}
	}
	if !r.Consumption.Equal(r.ComputeConsumption()) {
		return &apperr.ValidationError{Field: "consumo", Reason: "consumption does not match current minus previous reading"}
	}
	if r.BilledConsumption.IsNegative() {
		return &apperr.ValidationError{Field: "consumo_facturar", Reason: "negative value detected"}
	}
	if r.OtherCharges.IsNegative() {
		return &apperr.ValidationError{Field: "otros_cobros", Reason: "negative value detected"}
	}
	if r.Reconnection.IsNegative() {
		return &apperr.ValidationError{Field: "reconexion", Reason: "negative value detected"}
	}

	captured, err := timeparser.ParseCaptureDate(r.CaptureDate)
	if err != nil {
		return &apperr.ValidationError{Field: "fecha", Reason: err.Error()}
	}
	if timeparser.IsInFuture(captured, now, v.futureDateToleranceMinutes) {
		return &apperr.ValidationError{
			Field:  "fecha",
			Reason: fmt.Sprintf("capture date outside tolerance window (+%d minutes)", v.futureDateToleranceMinutes),
		}
	}

	return nil
}

func describe(fe playground.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "datetime":
		return "must be a date formatted as " + fe.Param()
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
