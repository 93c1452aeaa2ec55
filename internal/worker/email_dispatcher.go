package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"enrollment-service/internal/mailer"
	"enrollment-service/internal/models"
	"enrollment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OutboxStore is the email outbox as seen by the dispatcher
type OutboxStore interface {
	LeaseOutbox(ctx context.Context, owner string, limit int, leaseTTL time.Duration) ([]models.OutboxDelivery, error)
	MarkOutboxSent(ctx context.Context, outboxID, notificationID int64) error
	RescheduleOutbox(ctx context.Context, outboxID int64, lastError string, next time.Time) error
	FailOutbox(ctx context.Context, outboxID int64, lastError string) error
}

// Mailer delivers one rendered email
type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// Renderer turns an outbox row into an email
type Renderer interface {
	Render(d models.OutboxDelivery) (mailer.Message, error)
}

// DispatcherConfig tunes outbox delivery
type DispatcherConfig struct {
	BatchSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
	LeaseTTL     time.Duration
}

// DispatchStats summarises one dispatch pass
type DispatchStats struct {
	Leased      int
	Sent        int
	Rescheduled int
	Failed      int
}

// EmailDispatcher drains the email outbox. A failed send never touches the
// notification row: it is retried with a linear backoff until MaxAttempts.
type EmailDispatcher struct {
	store    OutboxStore
	mailer   Mailer
	renderer Renderer
	cfg      DispatcherConfig
	owner    string
	now      func() time.Time
	logger   *zap.Logger
}

// NewEmailDispatcher creates a dispatcher with a lease owner unique to this process
func NewEmailDispatcher(store OutboxStore, m Mailer, r Renderer, cfg DispatcherConfig) *EmailDispatcher {
	host, _ := os.Hostname()
	return &EmailDispatcher{
		store:    store,
		mailer:   m,
		renderer: r,
		cfg:      cfg,
		owner:    fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		now:      time.Now,
		logger:   util.Component("email-dispatcher"),
	}
}

// DispatchOnce leases one batch and attempts every delivery in it
func (d *EmailDispatcher) DispatchOnce(ctx context.Context) (DispatchStats, error) {
	ctx, span := util.StartSpan(ctx, "EmailDispatcher.DispatchOnce")
	defer span.End()

	var stats DispatchStats
	deliveries, err := d.store.LeaseOutbox(ctx, d.owner, d.cfg.BatchSize, d.cfg.LeaseTTL)
	if err != nil {
		util.EndSpan(span, err)
		return stats, err
	}
	stats.Leased = len(deliveries)

	for _, delivery := range deliveries {
		if ctx.Err() != nil {
			break
		}
		switch d.deliver(ctx, delivery) {
		case outcomeSent:
			stats.Sent++
		case outcomeRescheduled:
			stats.Rescheduled++
		case outcomeFailed:
			stats.Failed++
		}
	}

	if stats.Leased > 0 {
		d.logger.Info("Outbox dispatch finished",
			zap.Int("leased", stats.Leased),
			zap.Int("sent", stats.Sent),
			zap.Int("rescheduled", stats.Rescheduled),
			zap.Int("failed", stats.Failed))
	}
	return stats, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeRescheduled
	outcomeFailed
	outcomeUnrecorded
)

func (d *EmailDispatcher) deliver(ctx context.Context, delivery models.OutboxDelivery) outcome {
	logger := d.logger.With(
		zap.Int64("outbox_id", delivery.OutboxID),
		zap.Int64("notification_id", delivery.NotificationID),
		zap.Int("attempt", delivery.Attempts))

	msg, err := d.renderer.Render(delivery)
	if err != nil {
		// rendering is deterministic, retrying cannot help
		return d.fail(ctx, logger, delivery, err)
	}

	if err := d.mailer.Send(ctx, msg); err != nil {
		if delivery.Attempts >= d.cfg.MaxAttempts {
			return d.fail(ctx, logger, delivery, err)
		}
		next := d.now().Add(d.cfg.RetryBackoff * time.Duration(delivery.Attempts))
		if rerr := d.store.RescheduleOutbox(ctx, delivery.OutboxID, err.Error(), next); rerr != nil {
			logger.Error("Failed to reschedule email, lease will expire", zap.Error(rerr))
			return outcomeUnrecorded
		}
		util.EmailsFailedTotal.WithLabelValues("retry").Inc()
		logger.Warn("Email send failed, rescheduled", zap.Time("next_attempt", next), zap.Error(err))
		return outcomeRescheduled
	}

	if err := d.store.MarkOutboxSent(ctx, delivery.OutboxID, delivery.NotificationID); err != nil {
		logger.Error("Email sent but not recorded", zap.Error(err))
		return outcomeUnrecorded
	}
	util.EmailsSentTotal.Inc()
	logger.Debug("Email sent", zap.String("type", delivery.Type))
	return outcomeSent
}

func (d *EmailDispatcher) fail(ctx context.Context, logger *zap.Logger, delivery models.OutboxDelivery, cause error) outcome {
	if err := d.store.FailOutbox(ctx, delivery.OutboxID, cause.Error()); err != nil {
		logger.Error("Failed to mark email failed", zap.Error(err))
		return outcomeUnrecorded
	}
	util.EmailsFailedTotal.WithLabelValues("exhausted").Inc()
	logger.Error("Giving up on email", zap.Error(cause))
	return outcomeFailed
}
