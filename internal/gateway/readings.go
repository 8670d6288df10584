package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/septivank/aqueduct-sync/internal/domain"
)

// IdempotencyHeader carries the reading's client reference so the server can drop replays
const IdempotencyHeader = "Idempotency-Key"

// CreateReading posts a new reading
func (g *Gateway) CreateReading(ctx context.Context, r domain.Reading) (ServerReading, error) {
	headers := map[string]string{IdempotencyHeader: r.ClientRef.String()}

	var out ServerReading
	if err := g.do(ctx, "create reading", "POST", "/consumo", nil, NewReadingPayload(r), headers, &out); err != nil {
		return ServerReading{}, err
	}

	g.logger.Info("reading created",
		zap.Int("installation", r.Installation),
		zap.Int("code", out.Code),
		zap.String("client_ref", r.ClientRef.String()),
	)
	return out, nil
}

// UpdateReading replaces an existing server reading
func (g *Gateway) UpdateReading(ctx context.Context, id int, r domain.Reading) (ServerReading, error) {
	var out ServerReading
	path := "/consumo/" + strconv.Itoa(id)
	if err := g.do(ctx, "update reading", "PUT", path, nil, NewReadingPayload(r), nil, &out); err != nil {
		return ServerReading{}, err
	}
	return out, nil
}

// GetReading fetches one reading from the readings view
func (g *Gateway) GetReading(ctx context.Context, id int) (ServerReading, error) {
	var out ServerReading
	path := "/consumo/" + strconv.Itoa(id)
	if err := g.do(ctx, "get reading", "GET", path, nil, nil, nil, &out); err != nil {
		return ServerReading{}, err
	}
	if out.Code == 0 {
		return ServerReading{}, fmt.Errorf("reading %d: %w", id, ErrNotFound)
	}
	return out, nil
}

// ListRecentReadings returns the latest reading of each installation for a period
func (g *Gateway) ListRecentReadings(ctx context.Context, year, month int) ([]domain.RecentReading, error) {
	query := url.Values{}
	query.Set("year", strconv.Itoa(year))
	query.Set("month", strconv.Itoa(month))

	var rows []ServerReading
	if err := g.do(ctx, "list recent readings", "GET", "/consumo/last-readings", query, nil, nil, &rows); err != nil {
		return nil, err
	}

	list := make([]domain.RecentReading, 0, len(rows))
	for _, row := range rows {
		r := row.Recent()
		if r.Month == 0 {
			r.Month = month
		}
		if r.Year == 0 {
			r.Year = year
		}
		list = append(list, r)
	}
	return list, nil
}

// ListReadings queries the paginated readings view
func (g *Gateway) ListReadings(ctx context.Context, f domain.ReadingFilter) (Page, error) {
	query := url.Values{}
	if f.Year != 0 {
		query.Set("year", strconv.Itoa(f.Year))
	}
	if f.Month != 0 {
		query.Set("mes_codigo", strconv.Itoa(f.Month))
	}
	if f.Name != "" {
		query.Set("nombre", f.Name)
	}
	if f.Installation != 0 {
		query.Set("instalacion", strconv.Itoa(f.Installation))
	}
	if f.Company != 0 {
		query.Set("empresa", strconv.Itoa(f.Company))
	}
	if f.Page > 0 {
		query.Set("page", strconv.Itoa(f.Page))
	}
	if f.Limit > 0 {
		query.Set("limit", strconv.Itoa(f.Limit))
	}

	var page Page
	if err := g.do(ctx, "list readings", "GET", "/consumo/view", query, nil, nil, &page); err != nil {
		return Page{}, err
	}
	return page, nil
}

// ReadingExists asks whether the installation already has a reading for the period
func (g *Gateway) ReadingExists(ctx context.Context, installation, month, year int) (ExistsResult, error) {
	query := url.Values{}
	query.Set("mes", strconv.Itoa(month))
	query.Set("year", strconv.Itoa(year))

	var out ExistsResult
	path := fmt.Sprintf("/consumo/validar-lectura/%d", installation)
	if err := g.do(ctx, "validate reading", "GET", path, query, nil, nil, &out); err != nil {
		return ExistsResult{}, err
	}
	return out, nil
}
