package domain

import "github.com/shopspring/decimal"

// MeterInstallment is one row of the meter purchase installment plan (cuotas medidor)
type MeterInstallment struct {
	Code         int
	Installation int
	Name         string
	Date         string
	Balance      decimal.Decimal
	Installment  decimal.Decimal
	InterestRate decimal.Decimal
}

// InstallmentFilter narrows installment queries. Zero values are ignored.
type InstallmentFilter struct {
	Code         int
	Installation int
	Name         string
	Page         int
	Limit        int
}
