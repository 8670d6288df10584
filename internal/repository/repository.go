package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/septivank/aqueduct-sync/internal/db"
)

// ErrNotFound is returned when no consumption row has the requested code
var ErrNotFound = errors.New("consumption not found")

// Repository reads consumption rows for the live-update relay
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindConsumption loads one consumption from view_consumo, which joins the installation
// owner's name and the month label onto the raw row.
func (r *Repository) FindConsumption(ctx context.Context, code int64) (*db.ConsumptionRecord, error) {
	query := `
		SELECT
			codigo,
			instalacion,
			COALESCE(nombre, ''),
			COALESCE(lectura, 0),
			fecha,
			COALESCE(mes::text, ''),
			COALESCE(mes_codigo, 0),
			COALESCE(year, 0),
			COALESCE(consumo, 0),
			COALESCE(medidor, ''),
			COALESCE(otros_cobros, 0),
			COALESCE(reconexion, 0),
			COALESCE(facturado::text, '') IN ('true', 't', 'SI')
		FROM public.view_consumo
		WHERE codigo = $1
	`

	var rec db.ConsumptionRecord
	err := r.pool.QueryRow(ctx, query, code).Scan(
		&rec.Code,
		&rec.Installation,
		&rec.Name,
		&rec.Reading,
		&rec.CaptureDate,
		&rec.Month,
		&rec.MonthCode,
		&rec.Year,
		&rec.Consumption,
		&rec.Meter,
		&rec.OtherCharges,
		&rec.Reconnection,
		&rec.Billed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("consumption %d: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query consumption: %w", err)
	}

	return &rec, nil
}
