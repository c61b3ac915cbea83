package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/drive-school-api/internal/models"
)

// PaymentRepository appends and reads payments. Payments are append-only.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create appends a payment.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO payments (id, tenant_id, enrollment_id, amount, method, status, paid_on, notes, recorded_by, created_at) VALUES (:id, :tenant_id, :enrollment_id, :amount, :method, :status, :paid_on, :notes, :recorded_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// ListByEnrollment returns the enrollment's payments oldest first.
func (r *PaymentRepository) ListByEnrollment(ctx context.Context, tenantID, enrollmentID string) ([]models.Payment, error) {
	const query = `SELECT id, tenant_id, enrollment_id, amount, method, status, paid_on, notes, recorded_by, created_at FROM payments WHERE tenant_id = $1 AND enrollment_id = $2 ORDER BY paid_on ASC, created_at ASC`
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, tenantID, enrollmentID); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}
