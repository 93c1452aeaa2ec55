package service

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"enrollment-service/internal/apperr"
	"enrollment-service/internal/gateway"
	"enrollment-service/internal/models"
	"enrollment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CallbackKind names the gateway endpoint a callback arrived on
type CallbackKind string

const (
	CallbackSuccess CallbackKind = "success"
	CallbackFail    CallbackKind = "fail"
	CallbackCancel  CallbackKind = "cancel"
	CallbackIPN     CallbackKind = "ipn"
)

const (
	lockAttempts = 3
	lockBackoff  = 50 * time.Millisecond
)

// InitiateResult is returned to the client, which posts GatewayPayload to GatewayURL
type InitiateResult struct {
	Payment        *models.Payment           `json:"payment"`
	GatewayPayload gateway.InitiationPayload `json:"gateway_payload"`
	GatewayURL     string                    `json:"gateway_url"`
}

// ApplyResult reports the payment after a transition attempt. Applied is
// false when the payment was already terminal and nothing changed.
type ApplyResult struct {
	Payment *models.Payment `json:"payment"`
	Applied bool            `json:"applied"`
}

// PaymentService is the payment ledger
type PaymentService struct {
	store       PaymentStore
	gateway     *gateway.SSLCommerz
	enrollments *EnrollmentService
	notifier    Notifier
	publisher   LifecyclePublisher
	locker      Locker
	lockTTL     time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewPaymentService creates a new payment service. locker may be nil.
func NewPaymentService(
	store PaymentStore,
	gw *gateway.SSLCommerz,
	enrollments *EnrollmentService,
	notifier Notifier,
	publisher LifecyclePublisher,
	locker Locker,
	lockTTL time.Duration,
) *PaymentService {
	return &PaymentService{
		store:       store,
		gateway:     gw,
		enrollments: enrollments,
		notifier:    notifier,
		publisher:   publisher,
		locker:      locker,
		lockTTL:     lockTTL,
		now:         time.Now,
		logger:      util.GetLogger(),
	}
}

// Initiate opens a PENDING payment and its PENDING enrollment and builds the checkout payload
func (s *PaymentService) Initiate(ctx context.Context, userID, courseID int64) (*InitiateResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Initiate")
	defer span.End()

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	course, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	enrolled, err := s.store.HasEnrollmentInStatus(ctx, userID, courseID,
		models.EnrollmentStatusActive, models.EnrollmentStatusCompleted)
	if err != nil {
		return nil, err
	}
	if enrolled {
		return nil, apperr.Conflict("user %d is already enrolled in course %d", userID, courseID)
	}

	amount := course.EffectivePrice()
	if err := gateway.ValidateAmount(amount); err != nil {
		return nil, err
	}
	if err := gateway.ValidateCustomer(user); err != nil {
		return nil, err
	}

	seq, err := s.store.NextTransactionSeq(ctx)
	if err != nil {
		return nil, err
	}
	txnID := gateway.NewTransactionID(user.ID, course.ID, seq, s.now())

	payment := &models.Payment{
		UserID:        user.ID,
		CourseID:      course.ID,
		Amount:        amount,
		Currency:      s.gateway.Currency(),
		TransactionID: txnID,
		Status:        models.PaymentStatusPending,
		PaymentMethod: models.PaymentMethodSSLCommerz,
	}
	enrollment := &models.Enrollment{
		StudentID:     user.ID,
		CourseID:      course.ID,
		AmountPaid:    amount,
		TransactionID: txnID,
		Status:        models.EnrollmentStatusPending,
	}
	if err := s.store.CreatePaymentWithEnrollment(ctx, payment, enrollment); err != nil {
		return nil, err
	}

	payload, err := s.gateway.BuildInitiation(gateway.InitiationParams{
		PaymentID:     payment.ID,
		TransactionID: payment.TransactionID,
		Amount:        payment.Amount,
		User:          user,
		Course:        course,
	})
	if err != nil {
		return nil, err
	}

	util.PaymentsInitiatedTotal.Inc()
	s.logger.Info("Payment initiated",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("enrollment_id", enrollment.ID),
		zap.String("transaction_id", txnID),
		zap.String("amount", amount.String()))

	return &InitiateResult{
		Payment:        payment,
		GatewayPayload: payload,
		GatewayURL:     s.gateway.URL(),
	}, nil
}

// HandleCallback resolves a gateway callback to its payment and applies the outcome
func (s *PaymentService) HandleCallback(ctx context.Context, kind CallbackKind, fields map[string]string) (*ApplyResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleCallback")
	defer span.End()

	result, err := s.handleCallback(ctx, kind, fields)
	outcome := "applied"
	switch {
	case err != nil:
		outcome = string(apperr.KindOf(err))
	case !result.Applied:
		outcome = "replayed"
	}
	util.PaymentCallbacksTotal.WithLabelValues(string(kind), outcome).Inc()
	return result, err
}

func (s *PaymentService) handleCallback(ctx context.Context, kind CallbackKind, fields map[string]string) (*ApplyResult, error) {
	cb, err := gateway.ParseCallback(fields)
	if err != nil {
		s.logger.Warn("Rejected gateway callback", zap.String("kind", string(kind)), zap.Error(err))
		return nil, err
	}

	payment, err := s.store.GetPayment(ctx, cb.PaymentID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.Wrap(apperr.KindGateway, err, "callback references unknown payment %d", cb.PaymentID)
		}
		return nil, err
	}
	if cb.TranID != payment.TransactionID {
		return nil, apperr.Gateway("callback transaction %s does not match payment %d", cb.TranID, payment.ID)
	}
	if cb.Amount != nil && !cb.Amount.Equal(payment.Amount) {
		return nil, apperr.Gateway("callback amount %s does not match payment %d", cb.Amount.String(), payment.ID)
	}

	var status string
	switch kind {
	case CallbackSuccess:
		status = models.PaymentStatusSuccess
	case CallbackFail:
		status = models.PaymentStatusFailed
	case CallbackCancel:
		status = models.PaymentStatusCancelled
	case CallbackIPN:
		status = models.PaymentStatusFailed
		if cb.IsValid() {
			status = models.PaymentStatusSuccess
		}
	default:
		return nil, apperr.Validation("unknown callback kind %q", kind)
	}
	if status == models.PaymentStatusSuccess && cb.ValID == "" {
		return nil, apperr.Gateway("successful callback for payment %d carries no val_id", payment.ID)
	}

	raw, err := json.Marshal(map[string]interface{}{string(kind): cb.Fields})
	if err != nil {
		return nil, apperr.Gateway("callback payload is not serialisable: %v", err)
	}

	return s.Apply(ctx, payment.ID, models.PaymentTransition{
		Status:            status,
		GatewaySessionKey: cb.SessionKey,
		GatewayTranID:     cb.TranID,
		GatewayValID:      cb.ValID,
		GatewayBankTranID: cb.BankTranID,
		GatewayCardType:   cb.CardType,
		GatewayCardIssuer: cb.CardIssuer,
		GatewayCardBrand:  cb.CardBrand,
		FailureReason:     failureReason(status, kind, cb),
		RawResponse:       raw,
	})
}

func failureReason(status string, kind CallbackKind, cb *gateway.Callback) string {
	if status == models.PaymentStatusSuccess {
		return ""
	}
	if cb.Error != "" {
		return cb.Error
	}
	switch kind {
	case CallbackCancel:
		return "cancelled by user"
	case CallbackIPN:
		return "gateway reported status " + cb.Status
	default:
		return "payment failed at gateway"
	}
}

// Apply moves a PENDING payment to t.Status and fires its side effects. It is
// the only writer of callback outcomes; replays against a terminal payment are no-ops.
func (s *PaymentService) Apply(ctx context.Context, paymentID int64, t models.PaymentTransition) (*ApplyResult, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Apply")
	defer span.End()

	switch t.Status {
	case models.PaymentStatusSuccess, models.PaymentStatusFailed, models.PaymentStatusCancelled:
	default:
		return nil, apperr.Validation("status %q is not a callback outcome", t.Status)
	}

	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	release := s.lock(ctx, paymentID)
	defer release()

	updated, err := s.store.TransitionPayment(ctx, paymentID, models.PaymentStatusPending, t)
	if err != nil {
		return nil, err
	}

	if updated == nil {
		current, err := s.store.GetPayment(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		util.PaymentTransitionsTotal.WithLabelValues(t.Status, "replayed").Inc()
		s.logger.Info("Payment already terminal, callback ignored",
			zap.Int64("payment_id", paymentID),
			zap.String("status", current.Status),
			zap.String("requested", t.Status))
		return &ApplyResult{Payment: current, Applied: false}, nil
	}

	util.PaymentTransitionsTotal.WithLabelValues(t.Status, "applied").Inc()
	s.logger.Info("Payment transitioned",
		zap.Int64("payment_id", paymentID),
		zap.String("status", updated.Status))

	if updated.Status == models.PaymentStatusSuccess {
		s.onSucceeded(ctx, updated)
	} else {
		s.onFailed(ctx, updated)
	}

	return &ApplyResult{Payment: updated, Applied: true}, nil
}

func (s *PaymentService) onSucceeded(ctx context.Context, p *models.Payment) {
	if _, err := s.enrollments.Activate(ctx, p.ID); apperr.KindOf(err) == apperr.KindConflict {
		s.logger.Error("Payment succeeded for a course the student already holds, refund required",
			zap.Int64("payment_id", p.ID),
			zap.Int64("user_id", p.UserID),
			zap.Int64("course_id", p.CourseID))
	} else if err != nil {
		s.logger.Error("Failed to activate enrollment after payment success",
			zap.Int64("payment_id", p.ID),
			zap.Error(err))
	}

	s.notify(ctx, paymentSuccessNotice(p, lookupCourseName(ctx, s.store, p.CourseID, s.logger)))

	if err := s.publisher.PublishPayment(ctx, models.EventTypePaymentSucceeded, p, ""); err != nil {
		s.logger.Error("Failed to publish PaymentSucceeded event", zap.Int64("payment_id", p.ID), zap.Error(err))
	}
}

func (s *PaymentService) onFailed(ctx context.Context, p *models.Payment) {
	if _, err := s.enrollments.cancelPendingForPayment(ctx, p.ID); err != nil {
		s.logger.Error("Failed to cancel enrollment after payment failure",
			zap.Int64("payment_id", p.ID),
			zap.Error(err))
	}

	reason := ""
	if p.FailureReason != nil {
		reason = *p.FailureReason
	}
	s.notify(ctx, paymentFailedNotice(p, lookupCourseName(ctx, s.store, p.CourseID, s.logger), reason))

	if err := s.publisher.PublishPayment(ctx, models.EventTypePaymentFailed, p, reason); err != nil {
		s.logger.Error("Failed to publish PaymentFailed event", zap.Int64("payment_id", p.ID), zap.Error(err))
	}
}

// lock serialises deliveries for one payment when Redis is available.
// The conditional update stays authoritative, so failing to lock only costs contention.
func (s *PaymentService) lock(ctx context.Context, paymentID int64) func() {
	if s.locker == nil {
		return func() {}
	}

	name := "payment:" + strconv.FormatInt(paymentID, 10)
	for attempt := 1; attempt <= lockAttempts; attempt++ {
		release, acquired, err := s.locker.TryLock(ctx, name, s.lockTTL)
		if err != nil {
			s.logger.Warn("Payment lock unavailable", zap.Int64("payment_id", paymentID), zap.Error(err))
			return func() {}
		}
		if acquired {
			return release
		}

		select {
		case <-ctx.Done():
			return func() {}
		case <-time.After(lockBackoff * time.Duration(attempt)):
		}
	}

	s.logger.Debug("Payment lock contended, relying on conditional update", zap.Int64("payment_id", paymentID))
	return func() {}
}

// Refund moves a SUCCESS payment to REFUNDED and cancels its enrollment
func (s *PaymentService) Refund(ctx context.Context, paymentID int64, reason string) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Refund")
	defer span.End()

	if reason == "" {
		reason = "refunded by administrator"
	}

	updated, err := s.store.TransitionPayment(ctx, paymentID, models.PaymentStatusSuccess, models.PaymentTransition{
		Status:        models.PaymentStatusRefunded,
		FailureReason: reason,
	})
	if err != nil {
		return nil, err
	}
	if updated == nil {
		current, err := s.store.GetPayment(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		return nil, apperr.InvalidState("payment %d is %s, only SUCCESS payments can be refunded", paymentID, current.Status)
	}

	util.PaymentTransitionsTotal.WithLabelValues(models.PaymentStatusRefunded, "applied").Inc()
	s.logger.Info("Payment refunded", zap.Int64("payment_id", paymentID), zap.String("reason", reason))

	if _, err := s.enrollments.cancelForRefund(ctx, paymentID); err != nil {
		s.logger.Error("Failed to cancel enrollment after refund", zap.Int64("payment_id", paymentID), zap.Error(err))
	}
	if err := s.publisher.PublishPayment(ctx, models.EventTypePaymentRefunded, updated, reason); err != nil {
		s.logger.Error("Failed to publish PaymentRefunded event", zap.Int64("payment_id", paymentID), zap.Error(err))
	}

	return updated, nil
}

// Get returns a payment visible to the actor; admins see every payment
func (s *PaymentService) Get(ctx context.Context, id, actorID int64, admin bool) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Get")
	defer span.End()

	payment, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !admin && payment.UserID != actorID {
		return nil, apperr.NotFound("payment not found: %d", id)
	}
	return payment, nil
}

// ListByUser lists a user's payments
func (s *PaymentService) ListByUser(ctx context.Context, userID int64) ([]models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ListByUser")
	defer span.End()

	return s.store.ListPaymentsByUser(ctx, userID)
}

// Statistics aggregates payments across the platform
func (s *PaymentService) Statistics(ctx context.Context) (*models.PaymentStatistics, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Statistics")
	defer span.End()

	stats, err := s.store.PaymentStatistics(ctx)
	if err != nil {
		return nil, err
	}
	stats.SuccessRate = percentage(stats.SuccessfulPayments, stats.TotalPayments)
	return stats, nil
}

// UserHistory summarises a user's payments
func (s *PaymentService) UserHistory(ctx context.Context, userID int64) (*models.UserPaymentHistory, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.UserHistory")
	defer span.End()

	items, err := s.store.PaymentHistory(ctx, userID)
	if err != nil {
		return nil, err
	}

	history := &models.UserPaymentHistory{
		TotalPayments: len(items),
		TotalSpent:    decimal.Zero,
		Payments:      items,
	}
	for _, item := range items {
		switch item.Status {
		case models.PaymentStatusSuccess:
			history.SuccessfulPayments++
			history.TotalSpent = history.TotalSpent.Add(item.Amount)
		case models.PaymentStatusFailed:
			history.FailedPayments++
		}
	}
	return history, nil
}

// ReportStalePending publishes how many payments have been PENDING longer than olderThan.
// Nothing is expired; the count is for operators.
func (s *PaymentService) ReportStalePending(ctx context.Context, olderThan time.Duration) (int, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ReportStalePending")
	defer span.End()

	n, err := s.store.CountStalePending(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	util.StalePendingPayments.Set(float64(n))
	if n > 0 {
		s.logger.Warn("Payments stuck in PENDING",
			zap.Int("count", n),
			zap.Duration("older_than", olderThan))
	}
	return n, nil
}

func (s *PaymentService) notify(ctx context.Context, in NotifyInput) {
	if _, err := s.notifier.Notify(ctx, in); err != nil {
		s.logger.Error("Failed to create notification",
			zap.String("type", in.Type),
			zap.Int64("recipient_id", in.RecipientID),
			zap.String("dedupe_key", in.DedupeKey),
			zap.Error(err))
	}
}
