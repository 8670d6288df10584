package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/septivank/aqueduct-sync/internal/domain"
)

// snapshotLimit is the page size used to pull the whole installment view at once
const snapshotLimit = 10000

// installmentWire is the API shape of a view_cuotas_medidor row
type installmentWire struct {
	Code         int             `json:"codigo"`
	Installation int             `json:"instalacion_codigo"`
	Name         string          `json:"nombre"`
	Date         string          `json:"fecha"`
	Balance      decimal.Decimal `json:"saldo"`
	Installment  decimal.Decimal `json:"cuota"`
	InterestRate decimal.Decimal `json:"por_interes"`
}

func (w installmentWire) domain() domain.MeterInstallment {
	return domain.MeterInstallment{
		Code:         w.Code,
		Installation: w.Installation,
		Name:         w.Name,
		Date:         w.Date,
		Balance:      w.Balance,
		Installment:  w.Installment,
		InterestRate: w.InterestRate,
	}
}

// InstallmentPage is one page of the meter installment view
type InstallmentPage struct {
	Data  []domain.MeterInstallment
	Total int
	Page  int
	Limit int
}

type installmentPageWire struct {
	Data  []installmentWire `json:"data"`
	Total int               `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

// ListMeterInstallments queries the meter installment view, newest first
func (g *Gateway) ListMeterInstallments(ctx context.Context, f domain.InstallmentFilter) (InstallmentPage, error) {
	page, limit := f.Page, f.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1000
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("limit", strconv.Itoa(limit))
	query.Set("sortBy", "fecha")
	query.Set("sortOrder", "DESC")
	if f.Code != 0 {
		query.Set("codigo", strconv.Itoa(f.Code))
	}
	if f.Installation != 0 {
		query.Set("instalacion_codigo", strconv.Itoa(f.Installation))
	}
	if f.Name != "" {
		query.Set("nombre", f.Name)
	}

	var wire installmentPageWire
	if err := g.do(ctx, "list meter installments", "GET", "/view_cuotas_medidor", query, nil, nil, &wire); err != nil {
		return InstallmentPage{}, err
	}

	out := InstallmentPage{
		Data:  make([]domain.MeterInstallment, 0, len(wire.Data)),
		Total: wire.Total,
		Page:  wire.Page,
		Limit: wire.Limit,
	}
	for _, row := range wire.Data {
		out.Data = append(out.Data, row.domain())
	}
	return out, nil
}

// AllMeterInstallments pulls the whole installment view for the offline cache
func (g *Gateway) AllMeterInstallments(ctx context.Context) ([]domain.MeterInstallment, error) {
	page, err := g.ListMeterInstallments(ctx, domain.InstallmentFilter{Page: 1, Limit: snapshotLimit})
	if err != nil {
		return nil, err
	}
	return page.Data, nil
}

// GetMeterInstallment fetches one installment by code
func (g *Gateway) GetMeterInstallment(ctx context.Context, code int) (domain.MeterInstallment, error) {
	var row installmentWire
	path := "/view_cuotas_medidor/" + strconv.Itoa(code)
	if err := g.do(ctx, "get meter installment", "GET", path, nil, nil, nil, &row); err != nil {
		return domain.MeterInstallment{}, err
	}
	if row.Code == 0 {
		return domain.MeterInstallment{}, fmt.Errorf("meter installment %d: %w", code, ErrNotFound)
	}
	return row.domain(), nil
}
