package gateway

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/septivank/aqueduct-sync/internal/domain"
)

// ReadingPayload is the create/update body of a reading
type ReadingPayload struct {
	Installation      int         `json:"instalacion"`
	Reading           json.Number `json:"lectura"`
	CaptureDate       string      `json:"fecha"`
	Consumption       json.Number `json:"consumo"`
	BilledConsumption json.Number `json:"consumo_facturar"`
	Month             int         `json:"mes"`
	Year              int         `json:"year"`
	Meter             string      `json:"medidor"`
	OtherCharges      json.Number `json:"otros_cobros"`
	Reconnection      json.Number `json:"reconexion"`
	Operator          string      `json:"usuario"`
	Company           int         `json:"empresa"`
}

// NewReadingPayload maps a reading to its wire form. Decimals are sent as JSON numbers.
func NewReadingPayload(r domain.Reading) ReadingPayload {
	return ReadingPayload{
		Installation:      r.Installation,
		Reading:           number(r.CurrentReading),
		CaptureDate:       r.CaptureDate,
		Consumption:       number(r.Consumption),
		BilledConsumption: number(r.BilledConsumption),
		Month:             r.Month,
		Year:              r.Year,
		Meter:             r.Meter,
		OtherCharges:      number(r.OtherCharges),
		Reconnection:      number(r.Reconnection),
		Operator:          r.Operator,
		Company:           r.Company,
	}
}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// ServerReading is a reading as the API returns it, from create or from view_consumo
type ServerReading struct {
	Code            int             `json:"codigo"`
	Installation    int             `json:"instalacion"`
	Name            string          `json:"nombre"`
	Reading         decimal.Decimal `json:"lectura"`
	CaptureDate     string          `json:"fecha"`
	MonthValue      monthField      `json:"mes"`
	MonthCode       int             `json:"mes_codigo"`
	Year            int             `json:"year"`
	Consumption     decimal.Decimal `json:"consumo"`
	Meter           string          `json:"medidor"`
	OtherCharges    decimal.Decimal `json:"otros_cobros"`
	Reconnection    decimal.Decimal `json:"reconexion"`
	Billed          bool            `json:"facturado"`
	Sector          string          `json:"sector_nombre,omitempty"`
	Address         string          `json:"direccion,omitempty"`
	PreviousReading decimal.Decimal `json:"lectura_anterior"`
	Average         decimal.Decimal `json:"promedio"`
}

// Month returns the billing month, preferring the numeric code of the view
func (s ServerReading) Month() int {
	if s.MonthCode != 0 {
		return s.MonthCode
	}
	return int(s.MonthValue)
}

// Recent converts the server row to the recent readings cache form
func (s ServerReading) Recent() domain.RecentReading {
	return domain.RecentReading{
		Code:         s.Code,
		Installation: s.Installation,
		Name:         s.Name,
		Reading:      s.Reading,
		Consumption:  s.Consumption,
		Month:        s.Month(),
		Year:         s.Year,
		Meter:        s.Meter,
		CaptureDate:  s.CaptureDate,
		Billed:       s.Billed,
	}
}

// monthField accepts the month either as a number or as the view's text column.
// Text that is not numeric decodes to zero.
type monthField int

func (m *monthField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*m = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			*m = 0
			return nil
		}
		*m = monthField(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*m = monthField(n)
	return nil
}

// installationWire is the API shape of an installation
type installationWire struct {
	Code            int             `json:"codigo"`
	MeterCode       string          `json:"codigo_medidor"`
	Name            string          `json:"nombre"`
	Sector          string          `json:"sector_nombre"`
	Address         string          `json:"direccion"`
	PreviousReading decimal.Decimal `json:"lectura_anterior"`
	Average         decimal.Decimal `json:"promedio"`
}

func (w installationWire) domain() domain.Installation {
	return domain.Installation{
		Code:            w.Code,
		MeterCode:       w.MeterCode,
		Name:            w.Name,
		Sector:          w.Sector,
		Address:         w.Address,
		PreviousReading: w.PreviousReading,
		Average:         w.Average,
	}
}

// Page is one page of the paginated readings view
type Page struct {
	Data  []ServerReading `json:"data"`
	Total int             `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

// ExistsResult answers whether a reading was already captured for a period
type ExistsResult struct {
	Exists       bool `json:"existe"`
	Total        int  `json:"total"`
	Installation int  `json:"instalacion"`
	Month        int  `json:"mes"`
	Year         int  `json:"year"`
}
