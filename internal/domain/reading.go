package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SyncStatus tags a pending queue entry
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
)

// Reading is one meter-reading capture for one installation in one billing period
type Reading struct {
	Installation      int
	PreviousReading   decimal.Decimal
	CurrentReading    decimal.Decimal
	Consumption       decimal.Decimal
	BilledConsumption decimal.Decimal
	Month             int
	Year              int
	Meter             string
	Operator          string
	Company           int
	OtherCharges      decimal.Decimal
	Reconnection      decimal.Decimal
	CaptureDate       string // YYYY-MM-DD

	// ClientRef identifies the logical reading across retries and restarts
	ClientRef uuid.UUID
}

// ComputeConsumption returns current minus previous reading
func (r Reading) ComputeConsumption() decimal.Decimal {
	return r.CurrentReading.Sub(r.PreviousReading)
}

// PendingEntry wraps a reading captured offline
type PendingEntry struct {
	LocalID    int64
	Reading    Reading
	SyncStatus SyncStatus
	CreatedAt  time.Time
}

// Installation is the read-only projection of installation master data cached on the device
type Installation struct {
	Code            int
	MeterCode       string
	Name            string
	Sector          string
	Address         string
	PreviousReading decimal.Decimal
	Average         decimal.Decimal
}

// RecentReading is a server-side reading of the current period kept for offline lookup
type RecentReading struct {
	Code         int
	Installation int
	Name         string
	Reading      decimal.Decimal
	Consumption  decimal.Decimal
	Month        int
	Year         int
	Meter        string
	CaptureDate  string
	Billed       bool
}

// ReadingFilter narrows list queries over readings
type ReadingFilter struct {
	Year         int
	Month        int
	Name         string
	Installation int
	Company      int
	Page         int
	Limit        int
}

// WithDefaults fills fields a queued reading may lack before it is replayed:
// month 1, the current year and today's capture date.
func (r Reading) WithDefaults(now time.Time) Reading {
	if r.Month == 0 {
		r.Month = 1
	}
	if r.Year == 0 {
		r.Year = now.Year()
	}
	if r.CaptureDate == "" {
		r.CaptureDate = now.Format("2006-01-02")
	}
	return r
}
