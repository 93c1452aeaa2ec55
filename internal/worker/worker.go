package worker

import (
	"context"
	"errors"

	"enrollment-service/internal/apperr"
	"enrollment-service/internal/broker"
	"enrollment-service/internal/models"
	"enrollment-service/internal/util"

	"go.uber.org/zap"
)

// CertificateIssuer generates the certificate of a completed enrollment
type CertificateIssuer interface {
	Generate(ctx context.Context, enrollmentID int64) (*models.Certificate, error)
}

// CertificateWorker turns CERTIFICATE_REQUESTED events into certificates
type CertificateWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	issuer       CertificateIssuer
	logger       *zap.Logger
}

// NewCertificateWorker creates a new certificate worker
func NewCertificateWorker(consumer *broker.Consumer, issuer CertificateIssuer) *CertificateWorker {
	w := &CertificateWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		issuer:       issuer,
		logger:       util.Component("certificate-worker"),
	}
	w.eventHandler.OnCertificateRequested(w.HandleCertificateRequested)
	return w
}

// Start starts the worker
func (w *CertificateWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting certificate worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CertificateWorker) Stop() error {
	w.logger.Info("Stopping certificate worker")
	return w.consumer.Close()
}

// HandleCertificateRequested issues the certificate. Redelivered events find it
// already issued. Failures are logged and acknowledged; the enrollment can be
// reconciled through the manual generate endpoint.
func (w *CertificateWorker) HandleCertificateRequested(ctx context.Context, event *models.CertificateRequestedEvent) error {
	cert, err := w.issuer.Generate(ctx, event.EnrollmentID)
	switch {
	case err == nil:
		w.logger.Info("Certificate issued from request",
			zap.Int64("enrollment_id", event.EnrollmentID),
			zap.String("certificate_number", cert.CertificateNumber))
	case errors.Is(err, apperr.ErrConflict):
		w.logger.Debug("Certificate already issued", zap.Int64("enrollment_id", event.EnrollmentID))
	default:
		w.logger.Error("Certificate generation failed, generate it manually",
			zap.Int64("enrollment_id", event.EnrollmentID),
			zap.Int64("student_id", event.StudentID),
			zap.Error(err))
	}
	return nil
}
