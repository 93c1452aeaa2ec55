package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"enrollment-service/internal/models"
	"enrollment-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter is the write side of a topic; *Producer satisfies it
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing lifecycle events
type EventPublisher struct {
	writer EventWriter
	now    func() time.Time
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(writer EventWriter) *EventPublisher {
	return &EventPublisher{writer: writer, now: time.Now}
}

func (ep *EventPublisher) base(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: ep.now().UTC(),
	}
}

// PublishPayment publishes PAYMENT_SUCCEEDED, PAYMENT_FAILED or PAYMENT_REFUNDED for p
func (ep *EventPublisher) PublishPayment(ctx context.Context, eventType string, p *models.Payment, reason string) error {
	event := &models.PaymentEvent{
		BaseEvent:     ep.base(eventType),
		PaymentID:     p.ID,
		UserID:        p.UserID,
		CourseID:      p.CourseID,
		Amount:        p.Amount,
		TransactionID: p.TransactionID,
		Status:        p.Status,
		Reason:        reason,
	}
	return ep.writer.PublishEvent(ctx, fmt.Sprintf("payment-%d", p.ID), event)
}

// PublishEnrollment publishes an enrollment lifecycle event for e
func (ep *EventPublisher) PublishEnrollment(ctx context.Context, eventType string, e *models.Enrollment) error {
	event := &models.EnrollmentEvent{
		BaseEvent:    ep.base(eventType),
		EnrollmentID: e.ID,
		StudentID:    e.StudentID,
		CourseID:     e.CourseID,
		PaymentID:    e.PaymentID,
		Status:       e.Status,
		Progress:     e.Progress,
	}
	return ep.writer.PublishEvent(ctx, fmt.Sprintf("enrollment-%d", e.ID), event)
}

// RequestCertificate asks the certificate worker to issue a certificate for a completed enrollment
func (ep *EventPublisher) RequestCertificate(ctx context.Context, e *models.Enrollment) error {
	event := &models.CertificateRequestedEvent{
		BaseEvent:    ep.base(models.EventTypeCertificateRequested),
		EnrollmentID: e.ID,
		StudentID:    e.StudentID,
		CourseID:     e.CourseID,
	}
	return ep.writer.PublishEvent(ctx, fmt.Sprintf("enrollment-%d", e.ID), event)
}

// PublishCertificateIssued publishes CERTIFICATE_ISSUED for c
func (ep *EventPublisher) PublishCertificateIssued(ctx context.Context, c *models.Certificate) error {
	event := &models.CertificateIssuedEvent{
		BaseEvent:         ep.base(models.EventTypeCertificateIssued),
		CertificateID:     c.ID,
		CertificateNumber: c.CertificateNumber,
		EnrollmentID:      c.EnrollmentID,
		StudentID:         c.StudentID,
		CourseID:          c.CourseID,
	}
	return ep.writer.PublishEvent(ctx, fmt.Sprintf("enrollment-%d", c.EnrollmentID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onCertificateRequested func(context.Context, *models.CertificateRequestedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnCertificateRequested registers a handler for CERTIFICATE_REQUESTED events
func (eh *EventHandler) OnCertificateRequested(handler func(context.Context, *models.CertificateRequestedEvent) error) {
	eh.onCertificateRequested = handler
}

// HandleMessage routes messages to appropriate handlers. Events nobody
// subscribed to are acknowledged without action.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	logger := util.WithContext(ctx, util.Component("events"))

	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		// poison message, nothing will ever decode it
		logger.Error("Dropping undecodable event", zap.ByteString("key", msg.Key), zap.Error(err))
		return nil
	}

	logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID),
	)

	switch baseEvent.EventType {
	case models.EventTypeCertificateRequested:
		if eh.onCertificateRequested != nil {
			var event models.CertificateRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal CertificateRequested event: %w", err)
			}
			return eh.onCertificateRequested(ctx, &event)
		}
	}

	return nil
}
