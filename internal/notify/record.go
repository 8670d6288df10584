package notify

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/septivank/aqueduct-sync/internal/db"
)

// notification is the trigger payload. Trigger rows come through row_to_json, so
// numeric columns may arrive as strings.
type notification struct {
	Operation string                     `json:"operation"`
	Record    map[string]json.RawMessage `json:"record"`
}

// consumptionRecord is the normalized row sent to subscribers, in the API's field names
type consumptionRecord struct {
	Code         int64       `json:"codigo"`
	Installation int64       `json:"instalacion"`
	Name         string      `json:"nombre,omitempty"`
	Reading      json.Number `json:"lectura"`
	Consumption  json.Number `json:"consumo"`
	Month        int64       `json:"mes"`
	MonthCode    int64       `json:"mes_codigo,omitempty"`
	Year         int64       `json:"year"`
	Meter        string      `json:"medidor,omitempty"`
	OtherCharges json.Number `json:"otros_cobros"`
	Reconnection json.Number `json:"reconexion"`
	CaptureDate  string      `json:"fecha,omitempty"`
	Billed       bool        `json:"facturado"`
}

func normalizeRecord(raw map[string]json.RawMessage) consumptionRecord {
	rec := consumptionRecord{
		Code:         rawInt(raw["codigo"]),
		Installation: rawInt(raw["instalacion"]),
		Name:         rawString(raw["nombre"]),
		Reading:      rawNumber(raw["lectura"]),
		Consumption:  rawNumber(raw["consumo"]),
		Month:        rawInt(raw["mes"]),
		MonthCode:    rawInt(raw["mes_codigo"]),
		Year:         rawInt(raw["year"]),
		Meter:        rawString(raw["medidor"]),
		OtherCharges: rawNumber(raw["otros_cobros"]),
		Reconnection: rawNumber(raw["reconexion"]),
		CaptureDate:  rawDate(raw["fecha"]),
	}

	// the table column is facturada ('SI'/'NO'); the view exposes facturado
	if v, ok := raw["facturada"]; ok {
		rec.Billed = rawFlag(v)
	} else {
		rec.Billed = rawFlag(raw["facturado"])
	}
	return rec
}

// hydrate overlays view columns the trigger row lacks
func (r *consumptionRecord) hydrate(row *db.ConsumptionRecord) {
	r.Name = row.Name
	r.Meter = row.Meter
	r.Billed = row.Billed
	if row.MonthCode != 0 {
		r.MonthCode = int64(row.MonthCode)
	}
	if row.CaptureDate != nil {
		r.CaptureDate = row.CaptureDate.Format("2006-01-02")
	}
}

func unquote(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), true
	}
	return string(raw), true
}

func rawString(raw json.RawMessage) string {
	s, _ := unquote(raw)
	return s
}

func rawInt(raw json.RawMessage) int64 {
	s, ok := unquote(raw)
	if !ok {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return d.IntPart()
	}
	return 0
}

func rawNumber(raw json.RawMessage) json.Number {
	s, ok := unquote(raw)
	if !ok {
		return "0"
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "0"
	}
	return json.Number(d.String())
}

func rawFlag(raw json.RawMessage) bool {
	s, _ := unquote(raw)
	switch strings.ToUpper(s) {
	case "SI", "TRUE", "T", "1":
		return true
	}
	return false
}

// rawDate keeps the date part of a timestamp
func rawDate(raw json.RawMessage) string {
	s, _ := unquote(raw)
	if len(s) >= 10 && s[4] == '-' && s[7] == '-' {
		return s[:10]
	}
	return s
}
