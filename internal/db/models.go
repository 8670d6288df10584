package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConsumptionRecord is one row of view_consumo
type ConsumptionRecord struct {
	Code         int64
	Installation int64
	Name         string
	Reading      decimal.Decimal
	CaptureDate  *time.Time
	Month        string
	MonthCode    int
	Year         int
	Consumption  decimal.Decimal
	Meter        string
	OtherCharges decimal.Decimal
	Reconnection decimal.Decimal
	Billed       bool
}
