package store

import (
	"context"
	"fmt"
	"time"

	"enrollment-service/internal/apperr"
	"enrollment-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
)

// NextTransactionSeq draws the next value of the transaction id sequence
func (s *Store) NextTransactionSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.GetContext(ctx, &seq, "SELECT nextval('payment_txn_seq')"); err != nil {
		return 0, fmt.Errorf("failed to draw transaction sequence: %w", err)
	}
	return seq, nil
}

// CreatePaymentWithEnrollment inserts a PENDING payment and its PENDING enrollment in one transaction
func (s *Store) CreatePaymentWithEnrollment(ctx context.Context, payment *models.Payment, enrollment *models.Enrollment) error {
	if len(payment.GatewayResponse) == 0 {
		payment.GatewayResponse = types.JSONText("{}")
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, payment, `
			INSERT INTO payments (user_id, course_id, amount, currency, transaction_id, status, payment_method, gateway_response)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING *`,
			payment.UserID, payment.CourseID, payment.Amount, payment.Currency,
			payment.TransactionID, payment.Status, payment.PaymentMethod, payment.GatewayResponse)
		if isUniqueViolation(err) {
			return apperr.Conflict("duplicate transaction id %s", payment.TransactionID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert payment: %w", err)
		}

		enrollment.PaymentID = payment.ID
		err = tx.GetContext(ctx, enrollment, `
			INSERT INTO enrollments (student_id, course_id, payment_id, amount_paid, transaction_id, status, progress)
			VALUES ($1, $2, $3, $4, $5, $6, 0)
			RETURNING *`,
			enrollment.StudentID, enrollment.CourseID, enrollment.PaymentID,
			enrollment.AmountPaid, enrollment.TransactionID, enrollment.Status)
		if err != nil {
			return fmt.Errorf("failed to insert enrollment: %w", err)
		}
		return nil
	})
}

// GetPayment retrieves a payment by ID
func (s *Store) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	var payment models.Payment
	if err := getOne(ctx, s.db, &payment, "payment", id, "SELECT * FROM payments WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListPaymentsByUser retrieves a user's payments, newest first
func (s *Store) ListPaymentsByUser(ctx context.Context, userID int64) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	return payments, err
}

// TransitionPayment moves a payment from one status to t.Status and stores the gateway evidence.
// It returns nil when the payment does not exist or is no longer in status from.
func (s *Store) TransitionPayment(ctx context.Context, id int64, from string, t models.PaymentTransition) (*models.Payment, error) {
	raw := types.JSONText("{}")
	if len(t.RawResponse) > 0 {
		raw = types.JSONText(t.RawResponse)
	}

	var payment models.Payment
	found, err := getOptional(ctx, s.db, &payment, `
		UPDATE payments SET
			status = $3,
			gateway_session_key  = COALESCE($4, gateway_session_key),
			gateway_tran_id      = COALESCE($5, gateway_tran_id),
			gateway_val_id       = COALESCE($6, gateway_val_id),
			gateway_bank_tran_id = COALESCE($7, gateway_bank_tran_id),
			gateway_card_type    = COALESCE($8, gateway_card_type),
			gateway_card_issuer  = COALESCE($9, gateway_card_issuer),
			gateway_card_brand   = COALESCE($10, gateway_card_brand),
			failure_reason       = COALESCE($11, failure_reason),
			gateway_response     = gateway_response || $12::jsonb,
			paid_at     = CASE WHEN $3 = 'SUCCESS' THEN NOW() ELSE paid_at END,
			failed_at   = CASE WHEN $3 IN ('FAILED', 'CANCELLED') THEN NOW() ELSE failed_at END,
			refunded_at = CASE WHEN $3 = 'REFUNDED' THEN NOW() ELSE refunded_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING *`,
		id, from, t.Status,
		nullString(t.GatewaySessionKey), nullString(t.GatewayTranID), nullString(t.GatewayValID),
		nullString(t.GatewayBankTranID), nullString(t.GatewayCardType), nullString(t.GatewayCardIssuer),
		nullString(t.GatewayCardBrand), nullString(t.FailureReason), raw)
	if err != nil {
		return nil, fmt.Errorf("failed to transition payment %d: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &payment, nil
}

// PaymentStatistics aggregates payment counts and the successful total
func (s *Store) PaymentStatistics(ctx context.Context) (*models.PaymentStatistics, error) {
	var stats models.PaymentStatistics
	err := s.db.GetContext(ctx, &stats, `
		SELECT
			COUNT(*) AS total_payments,
			COUNT(*) FILTER (WHERE status = 'SUCCESS') AS successful_payments,
			COUNT(*) FILTER (WHERE status = 'FAILED') AS failed_payments,
			COUNT(*) FILTER (WHERE status = 'PENDING') AS pending_payments,
			COUNT(*) FILTER (WHERE status = 'CANCELLED') AS cancelled_payments,
			COUNT(*) FILTER (WHERE status = 'REFUNDED') AS refunded_payments,
			COALESCE(SUM(amount) FILTER (WHERE status = 'SUCCESS'), 0) AS total_amount
		FROM payments`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate payments: %w", err)
	}
	return &stats, nil
}

// PaymentHistory lists a user's payments with the course name
func (s *Store) PaymentHistory(ctx context.Context, userID int64) ([]models.PaymentHistoryItem, error) {
	items := []models.PaymentHistoryItem{}
	err := s.db.SelectContext(ctx, &items, `
		SELECT p.id, p.amount, p.status, p.transaction_id, c.name AS course_name, p.paid_at, p.created_at
		FROM payments p
		JOIN courses c ON c.id = p.course_id
		WHERE p.user_id = $1
		ORDER BY p.created_at DESC, p.id DESC`, userID)
	return items, err
}

// CountStalePending counts PENDING payments created before cutoff
func (s *Store) CountStalePending(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM payments WHERE status = 'PENDING' AND created_at < $1", cutoff)
	return n, err
}
