package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"enrollment-service/internal/apperr"
	"enrollment-service/internal/models"
	"enrollment-service/internal/util"

	"go.uber.org/zap"
)

// ErrProgressRegression rejects a progress value lower than the stored one
var ErrProgressRegression = &apperr.Error{Kind: apperr.KindInvalidState, Message: "progress cannot decrease"}

// EnrollmentService is the enrollment state machine
type EnrollmentService struct {
	store        EnrollmentStore
	notifier     Notifier
	publisher    LifecyclePublisher
	certificates CertificateRequester
	logger       *zap.Logger
}

// NewEnrollmentService creates a new enrollment service
func NewEnrollmentService(
	store EnrollmentStore,
	notifier Notifier,
	publisher LifecyclePublisher,
	certificates CertificateRequester,
) *EnrollmentService {
	return &EnrollmentService{
		store:        store,
		notifier:     notifier,
		publisher:    publisher,
		certificates: certificates,
		logger:       util.GetLogger(),
	}
}

// ProgressUpdate is the explicit command for changing enrollment progress.
// Reset is administrative: it skips the ownership and regression checks.
type ProgressUpdate struct {
	EnrollmentID int64
	ActorID      int64
	Progress     int
	Reset        bool
}

// Activate moves the enrollment paired with a successful payment to ACTIVE.
// An already active enrollment is returned unchanged. When the student already
// holds the course through another enrollment, this one is cancelled and a
// conflict is returned so the payment can be refunded.
func (s *EnrollmentService) Activate(ctx context.Context, paymentID int64) (*models.Enrollment, error) {
	ctx, span := util.StartSpan(ctx, "EnrollmentService.Activate")
	defer span.End()

	enrollment, err := s.store.ActivateEnrollment(ctx, paymentID)
	if apperr.KindOf(err) == apperr.KindConflict {
		cancelled, cancelErr := s.cancelPendingForPayment(ctx, paymentID)
		if cancelErr != nil {
			return nil, cancelErr
		}
		return cancelled, err
	}
	if err != nil {
		return nil, err
	}

	if enrollment == nil {
		existing, err := s.store.GetEnrollmentByPayment(ctx, paymentID)
		if err != nil {
			return nil, err
		}
		if existing.Status == models.EnrollmentStatusCancelled {
			return existing, apperr.InvalidState("enrollment %d was cancelled before payment %d succeeded", existing.ID, paymentID)
		}
		return existing, nil
	}

	util.EnrollmentsActivatedTotal.Inc()
	s.logger.Info("Enrollment activated",
		zap.Int64("enrollment_id", enrollment.ID),
		zap.Int64("payment_id", paymentID),
		zap.Int64("student_id", enrollment.StudentID))

	s.notify(ctx, enrollmentActivatedNotice(enrollment, s.courseName(ctx, enrollment.CourseID)))
	s.publish(ctx, models.EventTypeEnrollmentActivated, enrollment)

	return enrollment, nil
}

// UpdateProgress applies a progress update. Reaching 100 completes the
// enrollment and requests its certificate exactly once.
func (s *EnrollmentService) UpdateProgress(ctx context.Context, cmd ProgressUpdate) (*models.Enrollment, error) {
	ctx, span := util.StartSpan(ctx, "EnrollmentService.UpdateProgress")
	defer span.End()

	if cmd.Progress < 0 || cmd.Progress > models.MaxProgress {
		return nil, apperr.Validation("progress must be between 0 and %d, got %d", models.MaxProgress, cmd.Progress)
	}

	enrollment, err := s.store.GetEnrollment(ctx, cmd.EnrollmentID)
	if err != nil {
		return nil, err
	}

	if !cmd.Reset && enrollment.StudentID != cmd.ActorID {
		return nil, apperr.Forbidden("enrollment %d does not belong to user %d", enrollment.ID, cmd.ActorID)
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return nil, apperr.InvalidState("enrollment %d is %s, progress can only change while ACTIVE", enrollment.ID, enrollment.Status)
	}
	if !cmd.Reset && cmd.Progress < enrollment.Progress {
		return nil, fmt.Errorf("enrollment %d is at %d%%, got %d%%: %w",
			enrollment.ID, enrollment.Progress, cmd.Progress, ErrProgressRegression)
	}

	updated, err := s.store.SetProgress(ctx, enrollment.ID, cmd.Progress)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, apperr.InvalidState("enrollment %d is no longer ACTIVE", enrollment.ID)
	}

	s.logger.Debug("Progress updated",
		zap.Int64("enrollment_id", updated.ID),
		zap.Int("progress", updated.Progress),
		zap.Bool("reset", cmd.Reset))

	if updated.Status == models.EnrollmentStatusCompleted {
		s.onCompleted(ctx, updated)
	}

	return updated, nil
}

// onCompleted runs once per enrollment: only the write that moved it out of ACTIVE sees COMPLETED here.
func (s *EnrollmentService) onCompleted(ctx context.Context, e *models.Enrollment) {
	util.EnrollmentsCompletedTotal.Inc()
	s.logger.Info("Enrollment completed",
		zap.Int64("enrollment_id", e.ID),
		zap.Int64("student_id", e.StudentID))

	if err := s.certificates.RequestCertificate(ctx, e); err != nil {
		s.logger.Error("Failed to request certificate, generate it manually",
			zap.Int64("enrollment_id", e.ID),
			zap.Error(err))
	}

	s.notify(ctx, courseCompletedNotice(e, s.courseName(ctx, e.CourseID)))
	s.publish(ctx, models.EventTypeEnrollmentCompleted, e)
}

// Cancel moves a PENDING or ACTIVE enrollment to CANCELLED
func (s *EnrollmentService) Cancel(ctx context.Context, id int64) (*models.Enrollment, error) {
	ctx, span := util.StartSpan(ctx, "EnrollmentService.Cancel")
	defer span.End()

	enrollment, err := s.store.CancelEnrollment(ctx, id, models.EnrollmentStatusPending, models.EnrollmentStatusActive)
	if err != nil {
		return nil, err
	}
	if enrollment == nil {
		existing, err := s.store.GetEnrollment(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, apperr.InvalidState("enrollment %d is %s and cannot be cancelled", id, existing.Status)
	}

	util.EnrollmentsCancelledTotal.Inc()
	s.logger.Info("Enrollment cancelled", zap.Int64("enrollment_id", id))
	s.publish(ctx, models.EventTypeEnrollmentCancelled, enrollment)

	return enrollment, nil
}

// cancelPendingForPayment cancels the enrollment paired with a failed or cancelled payment
func (s *EnrollmentService) cancelPendingForPayment(ctx context.Context, paymentID int64) (*models.Enrollment, error) {
	enrollment, err := s.store.GetEnrollmentByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	cancelled, err := s.store.CancelEnrollment(ctx, enrollment.ID, models.EnrollmentStatusPending)
	if err != nil || cancelled == nil {
		return enrollment, err
	}

	util.EnrollmentsCancelledTotal.Inc()
	s.publish(ctx, models.EventTypeEnrollmentCancelled, cancelled)
	return cancelled, nil
}

// cancelForRefund cancels the enrollment of a refunded payment. A COMPLETED
// enrollment has no outgoing transition and is left as it is.
func (s *EnrollmentService) cancelForRefund(ctx context.Context, paymentID int64) (*models.Enrollment, error) {
	enrollment, err := s.store.GetEnrollmentByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	cancelled, err := s.store.CancelEnrollment(ctx, enrollment.ID,
		models.EnrollmentStatusPending, models.EnrollmentStatusActive)
	if err != nil || cancelled == nil {
		return enrollment, err
	}

	util.EnrollmentsCancelledTotal.Inc()
	s.publish(ctx, models.EventTypeEnrollmentCancelled, cancelled)
	return cancelled, nil
}

// Get returns an enrollment visible to the actor; admins see every enrollment
func (s *EnrollmentService) Get(ctx context.Context, id, actorID int64, admin bool) (*models.Enrollment, error) {
	ctx, span := util.StartSpan(ctx, "EnrollmentService.Get")
	defer span.End()

	enrollment, err := s.store.GetEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !admin && enrollment.StudentID != actorID {
		return nil, apperr.NotFound("enrollment not found: %d", id)
	}
	return enrollment, nil
}

// ListByStudent lists a student's enrollments
func (s *EnrollmentService) ListByStudent(ctx context.Context, studentID int64) ([]models.Enrollment, error) {
	ctx, span := util.StartSpan(ctx, "EnrollmentService.ListByStudent")
	defer span.End()

	return s.store.ListEnrollmentsByStudent(ctx, studentID)
}

// ListByCourse lists a course's enrollments
func (s *EnrollmentService) ListByCourse(ctx context.Context, courseID int64) ([]models.Enrollment, error) {
	ctx, span := util.StartSpan(ctx, "EnrollmentService.ListByCourse")
	defer span.End()

	return s.store.ListEnrollmentsByCourse(ctx, courseID)
}

// Statistics aggregates enrollments across the platform
func (s *EnrollmentService) Statistics(ctx context.Context) (*models.EnrollmentStatistics, error) {
	ctx, span := util.StartSpan(ctx, "EnrollmentService.Statistics")
	defer span.End()

	stats, err := s.store.EnrollmentStatistics(ctx)
	if err != nil {
		return nil, err
	}
	if stats.Total > 0 {
		stats.CompletionRate = percentage(stats.Completed, stats.Total)
	}
	return stats, nil
}

// NotifyModuleAvailable tells every ACTIVE student of a course about a new module.
// It returns how many notifications were stored.
func (s *EnrollmentService) NotifyModuleAvailable(ctx context.Context, courseID int64, moduleName string) (int, error) {
	ctx, span := util.StartSpan(ctx, "EnrollmentService.NotifyModuleAvailable")
	defer span.End()

	moduleName = strings.TrimSpace(moduleName)
	if moduleName == "" {
		return 0, apperr.Validation("module name is required")
	}

	course, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return 0, err
	}

	enrollments, err := s.store.ListEnrollmentsByCourse(ctx, courseID, models.EnrollmentStatusActive)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range enrollments {
		if _, err := s.notifier.Notify(ctx, moduleAvailableNotice(&enrollments[i], course.Name, moduleName)); err != nil {
			s.logger.Error("Failed to notify module availability",
				zap.Int64("enrollment_id", enrollments[i].ID),
				zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *EnrollmentService) notify(ctx context.Context, in NotifyInput) {
	if _, err := s.notifier.Notify(ctx, in); err != nil {
		s.logger.Error("Failed to create notification",
			zap.String("type", in.Type),
			zap.Int64("recipient_id", in.RecipientID),
			zap.String("dedupe_key", in.DedupeKey),
			zap.Error(err))
	}
}

func (s *EnrollmentService) publish(ctx context.Context, eventType string, e *models.Enrollment) {
	if err := s.publisher.PublishEnrollment(ctx, eventType, e); err != nil {
		s.logger.Error("Failed to publish enrollment event",
			zap.String("type", eventType),
			zap.Int64("enrollment_id", e.ID),
			zap.Error(err))
	}
}

// courseName falls back to a generic label so a catalog outage never blocks a notice
func (s *EnrollmentService) courseName(ctx context.Context, courseID int64) string {
	return lookupCourseName(ctx, s.store, courseID, s.logger)
}

func lookupCourseName(ctx context.Context, catalog CatalogReader, courseID int64, logger *zap.Logger) string {
	course, err := catalog.GetCourse(ctx, courseID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			logger.Warn("Failed to load course name", zap.Int64("course_id", courseID), zap.Error(err))
		}
		return "your course"
	}
	return course.Name
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
