package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/septivank/aqueduct-sync/internal/domain"
)

// ListInstallations fetches the full installation master list
func (g *Gateway) ListInstallations(ctx context.Context) ([]domain.Installation, error) {
	var rows []installationWire
	if err := g.do(ctx, "list installations", "GET", "/instalaciones/all", nil, nil, nil, &rows); err != nil {
		return nil, err
	}

	list := make([]domain.Installation, 0, len(rows))
	for _, row := range rows {
		list = append(list, row.domain())
	}
	return list, nil
}

// GetInstallation fetches one installation by code
func (g *Gateway) GetInstallation(ctx context.Context, code int) (domain.Installation, error) {
	query := url.Values{}
	query.Set("codigo", strconv.Itoa(code))

	var rows []installationWire
	if err := g.do(ctx, "get installation", "GET", "/instalaciones", query, nil, nil, &rows); err != nil {
		return domain.Installation{}, err
	}
	if len(rows) == 0 {
		return domain.Installation{}, fmt.Errorf("installation %d: %w", code, ErrNotFound)
	}

	inst := rows[0].domain()
	inst.Code = code
	return inst, nil
}
