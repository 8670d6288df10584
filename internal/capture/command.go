package capture

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/septivank/aqueduct-sync/internal/apperr"
	"github.com/septivank/aqueduct-sync/internal/domain"
	"github.com/septivank/aqueduct-sync/internal/session"
	"github.com/septivank/aqueduct-sync/tools/timeparser"
)

// Command is a reading as entered on the capture form. Numeric fields accept JSON
// numbers or numeric strings; absent values are null.
type Command struct {
	Installation      int                 `json:"instalacion"`
	PreviousReading   decimal.NullDecimal `json:"lectura_anterior"`
	CurrentReading    decimal.NullDecimal `json:"lectura"`
	BilledConsumption decimal.NullDecimal `json:"consumo_facturar"`
	OtherCharges      decimal.NullDecimal `json:"otros_cobros"`
	Reconnection      decimal.NullDecimal `json:"reconexion"`
	Month             int                 `json:"mes"`
	Year              int                 `json:"year"`
	Meter             string              `json:"medidor"`
	CaptureDate       string              `json:"fecha"`
}

// Normalize turns form input into a reading: consumption is derived, billed consumption
// defaults to it, the capture date is canonicalized (today when empty), the period
// defaults to the capture date's month, and the operator comes from the session.
func Normalize(cmd Command, sess *session.Session, now time.Time) (domain.Reading, error) {
	if !cmd.CurrentReading.Valid {
		return domain.Reading{}, &apperr.ValidationError{Field: "lectura", Reason: "is required"}
	}

	captureDate, err := timeparser.NormalizeCaptureDate(cmd.CaptureDate, now)
	if err != nil {
		return domain.Reading{}, &apperr.ValidationError{Field: "fecha", Reason: err.Error()}
	}

	r := domain.Reading{
		Installation:    cmd.Installation,
		PreviousReading: valueOr(cmd.PreviousReading, decimal.Zero),
		CurrentReading:  cmd.CurrentReading.Decimal,
		OtherCharges:    valueOr(cmd.OtherCharges, decimal.Zero),
		Reconnection:    valueOr(cmd.Reconnection, decimal.Zero),
		Month:           cmd.Month,
		Year:            cmd.Year,
		Meter:           cmd.Meter,
		Operator:        sess.Operator(),
		Company:         sess.Company(),
		CaptureDate:     captureDate,
		ClientRef:       uuid.New(),
	}
	r.Consumption = r.ComputeConsumption()
	r.BilledConsumption = valueOr(cmd.BilledConsumption, r.Consumption)

	if r.Month == 0 || r.Year == 0 {
		captured, err := timeparser.ParseCaptureDate(captureDate)
		if err != nil {
			return domain.Reading{}, &apperr.ValidationError{Field: "fecha", Reason: err.Error()}
		}
		if r.Month == 0 {
			r.Month = int(captured.Month())
		}
		if r.Year == 0 {
			r.Year = captured.Year()
		}
	}

	return r, nil
}

func valueOr(d decimal.NullDecimal, fallback decimal.Decimal) decimal.Decimal {
	if d.Valid {
		return d.Decimal
	}
	return fallback
}
