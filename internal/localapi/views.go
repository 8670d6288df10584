package localapi

import (
	"github.com/shopspring/decimal"

	"github.com/septivank/aqueduct-sync/internal/capture"
	"github.com/septivank/aqueduct-sync/internal/domain"
	"github.com/septivank/aqueduct-sync/internal/gateway"
	"github.com/septivank/aqueduct-sync/internal/syncer"
)

type errorResponse struct {
	Error          string `json:"error"`
	Field          string `json:"field,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

type submitResponse struct {
	Status    capture.Status         `json:"status"`
	ClientRef string                 `json:"client_ref"`
	LocalID   int64                  `json:"local_id,omitempty"`
	Reading   gateway.ReadingPayload `json:"reading"`
	Server    *gateway.ServerReading `json:"server,omitempty"`
	Warnings  []string               `json:"warnings,omitempty"`
}

type statusResponse struct {
	Online  bool   `json:"online"`
	State   string `json:"state"`
	Pending int    `json:"pending"`
}

type sessionView struct {
	Operator      string `json:"usuario"`
	Company       int    `json:"empresa"`
	Authenticated bool   `json:"authenticated"`
}

type sessionRequest struct {
	Operator string `json:"usuario"`
	Company  int    `json:"empresa"`
	Token    string `json:"token"`
}

type reportView struct {
	Attempted         int `json:"attempted"`
	Synced            int `json:"synced"`
	Failed            int `json:"failed"`
	Installations     int `json:"installations"`
	RecentReadings    int `json:"recent_readings"`
	MeterInstallments int `json:"meter_installments"`
}

func newReportView(r syncer.Report) reportView {
	return reportView{
		Attempted:         r.Attempted,
		Synced:            r.Synced,
		Failed:            r.Failed,
		Installations:     r.Installations,
		RecentReadings:    r.RecentReadings,
		MeterInstallments: r.MeterInstallments,
	}
}

type readingView struct {
	Code         int             `json:"codigo"`
	Installation int             `json:"instalacion"`
	Name         string          `json:"nombre"`
	Reading      decimal.Decimal `json:"lectura"`
	Consumption  decimal.Decimal `json:"consumo"`
	Month        int             `json:"mes_codigo"`
	Year         int             `json:"year"`
	Meter        string          `json:"medidor"`
	CaptureDate  string          `json:"fecha"`
	Billed       bool            `json:"facturado"`
}

func newReadingView(r domain.RecentReading) readingView {
	return readingView{
		Code:         r.Code,
		Installation: r.Installation,
		Name:         r.Name,
		Reading:      r.Reading,
		Consumption:  r.Consumption,
		Month:        r.Month,
		Year:         r.Year,
		Meter:        r.Meter,
		CaptureDate:  r.CaptureDate,
		Billed:       r.Billed,
	}
}

type pageResponse struct {
	Data    []readingView `json:"data"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	Limit   int           `json:"limit"`
	Offline bool          `json:"offline"`
}

type installationView struct {
	Code            int             `json:"codigo"`
	MeterCode       string          `json:"codigo_medidor"`
	Name            string          `json:"nombre"`
	Sector          string          `json:"sector_nombre"`
	Address         string          `json:"direccion"`
	PreviousReading decimal.Decimal `json:"lectura_anterior"`
	Average         decimal.Decimal `json:"promedio"`
}

func newInstallationView(i domain.Installation) installationView {
	return installationView{
		Code:            i.Code,
		MeterCode:       i.MeterCode,
		Name:            i.Name,
		Sector:          i.Sector,
		Address:         i.Address,
		PreviousReading: i.PreviousReading,
		Average:         i.Average,
	}
}

type readingDetailView struct {
	readingView
	PreviousReading decimal.Decimal `json:"lectura_anterior"`
	Average         decimal.Decimal `json:"promedio"`
	Offline         bool            `json:"offline"`
}

func newReadingDetailView(d capture.ReadingDetail) readingDetailView {
	return readingDetailView{
		readingView:     newReadingView(d.Reading),
		PreviousReading: d.PreviousReading,
		Average:         d.Average,
		Offline:         d.Offline,
	}
}

type installmentView struct {
	Code         int             `json:"codigo"`
	Installation int             `json:"instalacion_codigo"`
	Name         string          `json:"nombre"`
	Date         string          `json:"fecha"`
	Balance      decimal.Decimal `json:"saldo"`
	Installment  decimal.Decimal `json:"cuota"`
	InterestRate decimal.Decimal `json:"por_interes"`
}

func newInstallmentView(m domain.MeterInstallment) installmentView {
	return installmentView{
		Code:         m.Code,
		Installation: m.Installation,
		Name:         m.Name,
		Date:         m.Date,
		Balance:      m.Balance,
		Installment:  m.Installment,
		InterestRate: m.InterestRate,
	}
}

type installmentPageResponse struct {
	Data    []installmentView `json:"data"`
	Total   int               `json:"total"`
	Page    int               `json:"page"`
	Limit   int               `json:"limit"`
	Offline bool              `json:"offline"`
}
