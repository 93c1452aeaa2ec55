package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"enrollment-service/internal/apperr"
	"enrollment-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func successFields(p *models.Payment) map[string]string {
	return map[string]string{
		"value_c":      strconv.FormatInt(p.ID, 10),
		"tran_id":      p.TransactionID,
		"amount":       p.Amount.StringFixed(2),
		"val_id":       "VAL123",
		"bank_tran_id": "BANK456",
		"card_type":    "VISA-Dutch Bangla",
		"status":       "VALID",
	}
}

func initiate(t *testing.T, h *harness) *models.Payment {
	t.Helper()
	h.store.addUser(7)
	h.store.addCourse(3, "1500.00")

	res, err := h.payments.Initiate(context.Background(), 7, 3)
	require.NoError(t, err)
	return res.Payment
}

func TestInitiate(t *testing.T) {
	h := newHarness()
	h.store.addUser(7)
	course := h.store.addCourse(3, "2000.00")
	course.DiscountPrice = decimal.NullDecimal{Decimal: decimal.RequireFromString("1500.00"), Valid: true}

	res, err := h.payments.Initiate(context.Background(), 7, 3)
	require.NoError(t, err)

	p := res.Payment
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.True(t, p.Amount.Equal(decimal.RequireFromString("1500")), "discount price is charged")
	assert.Equal(t, "BDT", p.Currency)
	assert.Regexp(t, `^TXN_\d+_1_7_3$`, p.TransactionID)
	assert.Equal(t, "https://sandbox.sslcommerz.com/gwprocess/v4/api.php", res.GatewayURL)
	assert.Equal(t, p.TransactionID, res.GatewayPayload["tran_id"])
	assert.Equal(t, strconv.FormatInt(p.ID, 10), res.GatewayPayload["value_c"])

	e, err := h.store.GetEnrollmentByPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, e.Status)
	assert.Equal(t, p.TransactionID, e.TransactionID)
}

func TestInitiateRejects(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown course", func(t *testing.T) {
		h := newHarness()
		h.store.addUser(7)
		_, err := h.payments.Initiate(ctx, 7, 99)
		assert.True(t, errors.Is(err, apperr.ErrNotFound))
	})

	t.Run("free course", func(t *testing.T) {
		h := newHarness()
		h.store.addUser(7)
		h.store.addCourse(3, "0")
		_, err := h.payments.Initiate(ctx, 7, 3)
		assert.True(t, errors.Is(err, apperr.ErrValidation))
	})

	t.Run("already enrolled", func(t *testing.T) {
		h := newHarness()
		p := initiate(t, h)
		_, err := h.payments.HandleCallback(ctx, CallbackSuccess, successFields(p))
		require.NoError(t, err)

		_, err = h.payments.Initiate(ctx, 7, 3)
		assert.True(t, errors.Is(err, apperr.ErrConflict))
	})
}

func TestInitiateAllowsRetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	first := initiate(t, h)

	_, err := h.payments.HandleCallback(ctx, CallbackFail, map[string]string{
		"value_c": strconv.FormatInt(first.ID, 10),
		"tran_id": first.TransactionID,
		"error":   "insufficient funds",
	})
	require.NoError(t, err)

	second, err := h.payments.Initiate(ctx, 7, 3)
	require.NoError(t, err)
	assert.NotEqual(t, first.TransactionID, second.Payment.TransactionID)
}

func TestSuccessCallbackActivatesEnrollment(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := initiate(t, h)

	res, err := h.payments.HandleCallback(ctx, CallbackSuccess, successFields(p))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, models.PaymentStatusSuccess, res.Payment.Status)
	require.NotNil(t, res.Payment.PaidAt)
	require.NotNil(t, res.Payment.GatewayTranID)
	assert.Equal(t, p.TransactionID, *res.Payment.GatewayTranID)

	e, err := h.store.GetEnrollmentByPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, e.Status)
	assert.NotNil(t, e.EnrolledAt)

	assert.Len(t, h.store.notificationsOfType(7, models.NotificationPaymentSuccess), 1)
	assert.Len(t, h.store.notificationsOfType(7, models.NotificationEnrollmentActivated), 1)
	assert.Equal(t, 1, h.publisher.count(models.EventTypePaymentSucceeded))
	assert.Equal(t, 1, h.publisher.count(models.EventTypeEnrollmentActivated))
}

func TestReplayedCallbackIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := initiate(t, h)

	first, err := h.payments.HandleCallback(ctx, CallbackSuccess, successFields(p))
	require.NoError(t, err)

	for _, kind := range []CallbackKind{CallbackSuccess, CallbackIPN, CallbackFail, CallbackCancel} {
		res, err := h.payments.HandleCallback(ctx, kind, successFields(p))
		require.NoError(t, err, kind)
		assert.False(t, res.Applied, kind)
		assert.Equal(t, models.PaymentStatusSuccess, res.Payment.Status)
		assert.Equal(t, first.Payment.PaidAt, res.Payment.PaidAt)
	}

	e, err := h.store.GetEnrollmentByPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, e.Status)
	assert.Len(t, h.store.notificationsOfType(7, models.NotificationPaymentSuccess), 1)
	assert.Equal(t, 1, h.publisher.count(models.EventTypePaymentSucceeded))
	assert.Zero(t, h.publisher.count(models.EventTypePaymentFailed))
}

func TestConcurrentCallbacksApplyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := initiate(t, h)

	var wg sync.WaitGroup
	results := make([]*ApplyResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kind := CallbackSuccess
			if i%2 == 1 {
				kind = CallbackIPN
			}
			res, err := h.payments.HandleCallback(ctx, kind, successFields(p))
			if assert.NoError(t, err) {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, res := range results {
		if res != nil && res.Applied {
			applied++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Len(t, h.store.notificationsOfType(7, models.NotificationPaymentSuccess), 1)
	assert.Equal(t, 1, h.publisher.count(models.EventTypeEnrollmentActivated))
}

func TestFailedCallbackCancelsEnrollment(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := initiate(t, h)

	res, err := h.payments.HandleCallback(ctx, CallbackFail, map[string]string{
		"value_c": strconv.FormatInt(p.ID, 10),
		"tran_id": p.TransactionID,
		"error":   "card declined",
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, models.PaymentStatusFailed, res.Payment.Status)
	require.NotNil(t, res.Payment.FailureReason)
	assert.Equal(t, "card declined", *res.Payment.FailureReason)
	assert.NotNil(t, res.Payment.FailedAt)

	e, err := h.store.GetEnrollmentByPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, e.Status)

	notices := h.store.notificationsOfType(7, models.NotificationPaymentFailed)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Message, "card declined")
	assert.Equal(t, 1, h.publisher.count(models.EventTypePaymentFailed))

	// a late success must not resurrect the payment
	late, err := h.payments.HandleCallback(ctx, CallbackSuccess, successFields(p))
	require.NoError(t, err)
	assert.False(t, late.Applied)
	assert.Equal(t, models.PaymentStatusFailed, late.Payment.Status)
	assert.Empty(t, h.store.notificationsOfType(7, models.NotificationPaymentSuccess))
}

func TestCancelCallback(t *testing.T) {
	h := newHarness()
	p := initiate(t, h)

	res, err := h.payments.HandleCallback(context.Background(), CallbackCancel, map[string]string{
		"value_c": strconv.FormatInt(p.ID, 10),
		"tran_id": p.TransactionID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCancelled, res.Payment.Status)
	require.NotNil(t, res.Payment.FailureReason)
	assert.Equal(t, "cancelled by user", *res.Payment.FailureReason)
}

func TestIPNInvalidStatusFails(t *testing.T) {
	h := newHarness()
	p := initiate(t, h)

	fields := successFields(p)
	fields["status"] = "INVALID_TRANSACTION"
	res, err := h.payments.HandleCallback(context.Background(), CallbackIPN, fields)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, res.Payment.Status)
	assert.Equal(t, "gateway reported status INVALID_TRANSACTION", *res.Payment.FailureReason)
}

func TestCallbackRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := initiate(t, h)
	id := strconv.FormatInt(p.ID, 10)

	cases := map[string]map[string]string{
		"missing correlation": {"tran_id": p.TransactionID},
		"only correlation":    {"value_c": id},
		"unknown payment":     {"value_c": "999", "tran_id": p.TransactionID, "val_id": "VAL1"},
		"wrong transaction":   {"value_c": id, "tran_id": "TXN_other", "val_id": "VAL1"},
		"wrong amount":        {"value_c": id, "tran_id": p.TransactionID, "val_id": "VAL1", "amount": "1.00"},
		"garbage amount":      {"value_c": id, "tran_id": p.TransactionID, "amount": "lots"},
		"success without val": {"value_c": id, "tran_id": p.TransactionID, "status": "VALID"},
	}
	for name, fields := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.payments.HandleCallback(ctx, CallbackSuccess, fields)
			assert.True(t, errors.Is(err, apperr.ErrGateway), err)
		})
	}

	current, err := h.store.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, current.Status)
	e, err := h.store.GetEnrollmentByPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, e.Status)
	assert.Empty(t, h.store.notificationsOfType(7, models.NotificationPaymentSuccess))

	// an IPN marked valid is a success and needs val_id as well
	_, err = h.payments.HandleCallback(ctx, CallbackIPN, map[string]string{"value_c": id, "tran_id": p.TransactionID, "status": "VALID"})
	assert.True(t, errors.Is(err, apperr.ErrGateway), err)
}

func TestCallbackSurvivesLockOutage(t *testing.T) {
	h := newHarness()
	h.locker.fail = errBoom
	p := initiate(t, h)

	res, err := h.payments.HandleCallback(context.Background(), CallbackSuccess, successFields(p))
	require.NoError(t, err)
	assert.True(t, res.Applied)
}

func TestCallbackSurvivesSideEffectFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := initiate(t, h)
	h.publisher.fail = errBoom
	h.store.failNotifications = errBoom

	res, err := h.payments.HandleCallback(ctx, CallbackSuccess, successFields(p))
	require.NoError(t, err)
	assert.True(t, res.Applied)

	e, err := h.store.GetEnrollmentByPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, e.Status)
}

func TestApplyRejectsNonCallbackStatus(t *testing.T) {
	h := newHarness()
	p := initiate(t, h)

	_, err := h.payments.Apply(context.Background(), p.ID, models.PaymentTransition{Status: models.PaymentStatusRefunded})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestRefund(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := initiate(t, h)

	_, err := h.payments.Refund(ctx, p.ID, "")
	assert.True(t, errors.Is(err, apperr.ErrInvalidState), "pending payments cannot be refunded")

	_, err = h.payments.HandleCallback(ctx, CallbackSuccess, successFields(p))
	require.NoError(t, err)

	refunded, err := h.payments.Refund(ctx, p.ID, "duplicate purchase")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, refunded.Status)
	assert.NotNil(t, refunded.RefundedAt)

	e, err := h.store.GetEnrollmentByPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, e.Status)
	assert.Equal(t, 1, h.publisher.count(models.EventTypePaymentRefunded))

	_, err = h.payments.Refund(ctx, p.ID, "")
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
}

func TestRefundKeepsCompletedEnrollment(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := initiate(t, h)
	_, err := h.payments.HandleCallback(ctx, CallbackSuccess, successFields(p))
	require.NoError(t, err)

	e, err := h.store.GetEnrollmentByPayment(ctx, p.ID)
	require.NoError(t, err)
	_, err = h.enrollments.UpdateProgress(ctx, ProgressUpdate{EnrollmentID: e.ID, ActorID: 7, Progress: 100})
	require.NoError(t, err)

	_, err = h.payments.Refund(ctx, p.ID, "")
	require.NoError(t, err)

	e, err = h.store.GetEnrollmentByPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCompleted, e.Status)
}

func TestActiveEnrollmentHasSuccessfulPayment(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.store.addUser(7)
	h.store.addUser(8)
	h.store.addCourse(3, "500")

	var payments []*models.Payment
	for _, user := range []int64{7, 8, 7} {
		res, err := h.payments.Initiate(ctx, user, 3)
		require.NoError(t, err)
		payments = append(payments, res.Payment)
	}
	_, err := h.payments.HandleCallback(ctx, CallbackSuccess, successFields(payments[0]))
	require.NoError(t, err)
	_, err = h.payments.HandleCallback(ctx, CallbackCancel, map[string]string{
		"value_c": strconv.FormatInt(payments[1].ID, 10),
		"tran_id": payments[1].TransactionID,
	})
	require.NoError(t, err)

	enrollments, err := h.store.ListEnrollmentsByCourse(ctx, 3)
	require.NoError(t, err)
	for _, e := range enrollments {
		if e.Status != models.EnrollmentStatusActive && e.Status != models.EnrollmentStatusCompleted {
			continue
		}
		p, err := h.store.GetPayment(ctx, e.PaymentID)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentStatusSuccess, p.Status)
	}
}

func TestSecondPaymentForSameCourseIsNotActivated(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	first := initiate(t, h)
	res, err := h.payments.Initiate(ctx, 7, 3)
	require.NoError(t, err)
	second := res.Payment

	for _, p := range []*models.Payment{first, second} {
		applied, err := h.payments.HandleCallback(ctx, CallbackSuccess, successFields(p))
		require.NoError(t, err)
		assert.True(t, applied.Applied)
		assert.Equal(t, models.PaymentStatusSuccess, applied.Payment.Status)
	}

	active, err := h.store.ListEnrollmentsByCourse(ctx, 3, models.EnrollmentStatusActive, models.EnrollmentStatusCompleted)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, first.ID, active[0].PaymentID)

	dup, err := h.store.GetEnrollmentByPayment(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusCancelled, dup.Status)

	assert.Equal(t, 1, h.publisher.count(models.EventTypeEnrollmentActivated))
	assert.Equal(t, 1, h.publisher.count(models.EventTypeEnrollmentCancelled))
	assert.Equal(t, 2, h.publisher.count(models.EventTypePaymentSucceeded))

	// the duplicate stays SUCCESS so it can be refunded
	p, err := h.store.GetPayment(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, p.Status)
}

func TestGetPaymentOwnership(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := initiate(t, h)

	_, err := h.payments.Get(ctx, p.ID, 8, false)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	got, err := h.payments.Get(ctx, p.ID, 8, true)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestPaymentStatisticsAndHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	p := initiate(t, h)
	_, err := h.payments.HandleCallback(ctx, CallbackSuccess, successFields(p))
	require.NoError(t, err)
	_, err = h.payments.Initiate(ctx, 7, 3)
	require.Error(t, err, "already enrolled")

	stats, err := h.payments.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalPayments)
	assert.Equal(t, float64(100), stats.SuccessRate)

	history, err := h.payments.UserHistory(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, history.SuccessfulPayments)
	assert.True(t, history.TotalSpent.Equal(decimal.RequireFromString("1500")))
}

func TestReportStalePending(t *testing.T) {
	h := newHarness()
	initiate(t, h)

	n, err := h.payments.ReportStalePending(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.payments.ReportStalePending(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}
