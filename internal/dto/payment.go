package dto

import "github.com/shopspring/decimal"

// RecordPaymentRequest appends a payment to an enrollment.
type RecordPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method" validate:"required,oneof=CASH ONLINE BANK_TRANSFER CHEQUE"`
	Status string          `json:"status" validate:"omitempty,oneof=PAID PARTIAL PENDING"`
	PaidOn string          `json:"paidOn" validate:"omitempty,datetime=2006-01-02"`
	Notes  *string         `json:"notes" validate:"omitempty,max=500"`
}
