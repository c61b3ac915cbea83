package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/drive-school-api/pkg/calendar"
)

// PaymentMethod enumerates accepted payment channels.
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodOnline       PaymentMethod = "ONLINE"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCheque       PaymentMethod = "CHEQUE"
)

// PaymentStatus captures how a recorded payment settled.
type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusPartial PaymentStatus = "PARTIAL"
	PaymentStatusPending PaymentStatus = "PENDING"
)

// Payment is an append-only money record against an enrollment.
type Payment struct {
	ID           string          `db:"id" json:"id"`
	TenantID     string          `db:"tenant_id" json:"tenant_id"`
	EnrollmentID string          `db:"enrollment_id" json:"enrollment_id"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	Method       PaymentMethod   `db:"method" json:"method"`
	Status       PaymentStatus   `db:"status" json:"status"`
	PaidOn       calendar.Date   `db:"paid_on" json:"paid_on"`
	Notes        *string         `db:"notes" json:"notes,omitempty"`
	RecordedBy   string          `db:"recorded_by" json:"recorded_by"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}
