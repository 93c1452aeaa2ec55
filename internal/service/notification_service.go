package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"enrollment-service/internal/apperr"
	"enrollment-service/internal/models"
	"enrollment-service/internal/util"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"
)

var notificationTypes = map[string]bool{
	models.NotificationEnrollmentActivated:  true,
	models.NotificationPaymentSuccess:       true,
	models.NotificationPaymentFailed:        true,
	models.NotificationModuleAvailable:      true,
	models.NotificationAssignmentFeedback:   true,
	models.NotificationCertificateGenerated: true,
	models.NotificationCourseCompleted:      true,
}

const (
	defaultNotificationLimit = 20
	maxNotificationLimit     = 100
)

// NotifyInput describes one lifecycle notification. DedupeKey identifies the
// lifecycle event so that replays resolve to the stored notification.
type NotifyInput struct {
	RecipientID int64
	Type        string
	Title       string
	Message     string
	Metadata    map[string]interface{}
	DedupeKey   string
}

// NotificationService persists notifications; emails leave through the outbox
type NotificationService struct {
	store  NotificationStore
	logger *zap.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(store NotificationStore) *NotificationService {
	return &NotificationService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// Notify stores the notification and queues its email. Calling it again with
// the same recipient and dedupe key returns the stored notification.
func (s *NotificationService) Notify(ctx context.Context, in NotifyInput) (*models.Notification, error) {
	ctx, span := util.StartSpan(ctx, "NotificationService.Notify")
	defer span.End()

	if in.RecipientID <= 0 {
		return nil, apperr.Validation("notification recipient is required")
	}
	if !notificationTypes[in.Type] {
		return nil, apperr.Validation("unknown notification type %q", in.Type)
	}
	if strings.TrimSpace(in.DedupeKey) == "" {
		return nil, apperr.Validation("notification dedupe key is required")
	}

	metadata := types.JSONText("{}")
	if len(in.Metadata) > 0 {
		raw, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, apperr.Validation("notification metadata is not serialisable: %v", err)
		}
		metadata = raw
	}

	n := &models.Notification{
		RecipientID: in.RecipientID,
		Type:        in.Type,
		Title:       in.Title,
		Message:     in.Message,
		Metadata:    metadata,
		DedupeKey:   in.DedupeKey,
	}

	created, err := s.store.CreateNotification(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	if created {
		util.NotificationsCreatedTotal.WithLabelValues(in.Type).Inc()
		s.logger.Info("Notification created",
			zap.Int64("notification_id", n.ID),
			zap.Int64("recipient_id", n.RecipientID),
			zap.String("type", n.Type))
	} else {
		s.logger.Debug("Duplicate notification suppressed",
			zap.Int64("notification_id", n.ID),
			zap.String("dedupe_key", in.DedupeKey))
	}
	return n, nil
}

// List pages through a recipient's notifications
func (s *NotificationService) List(ctx context.Context, recipientID int64, q models.NotificationQuery) ([]models.Notification, error) {
	ctx, span := util.StartSpan(ctx, "NotificationService.List")
	defer span.End()

	if q.Limit <= 0 {
		q.Limit = defaultNotificationLimit
	}
	if q.Limit > maxNotificationLimit {
		q.Limit = maxNotificationLimit
	}
	if q.Offset < 0 {
		return nil, apperr.Validation("offset must not be negative")
	}
	return s.store.ListNotifications(ctx, recipientID, q)
}

// MarkRead marks one of the recipient's notifications as read
func (s *NotificationService) MarkRead(ctx context.Context, id, recipientID int64) (*models.Notification, error) {
	ctx, span := util.StartSpan(ctx, "NotificationService.MarkRead")
	defer span.End()

	return s.store.MarkNotificationRead(ctx, id, recipientID)
}

// MarkAllRead marks all of the recipient's notifications as read
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID int64) (int64, error) {
	ctx, span := util.StartSpan(ctx, "NotificationService.MarkAllRead")
	defer span.End()

	return s.store.MarkAllNotificationsRead(ctx, recipientID)
}

// UnreadCount counts the recipient's unread notifications
func (s *NotificationService) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	ctx, span := util.StartSpan(ctx, "NotificationService.UnreadCount")
	defer span.End()

	return s.store.CountUnreadNotifications(ctx, recipientID)
}

// Notices for each lifecycle event.

func paymentSuccessNotice(p *models.Payment, courseName string) NotifyInput {
	return NotifyInput{
		RecipientID: p.UserID,
		Type:        models.NotificationPaymentSuccess,
		Title:       "Payment Successful",
		Message: fmt.Sprintf("Your payment of %s %s for %q has been processed successfully. Transaction ID: %s",
			p.Amount.StringFixed(2), p.Currency, courseName, p.TransactionID),
		Metadata: map[string]interface{}{
			"paymentId":     p.ID,
			"courseId":      p.CourseID,
			"amount":        p.Amount.StringFixed(2),
			"transactionId": p.TransactionID,
		},
		DedupeKey: fmt.Sprintf("payment_success:%d", p.ID),
	}
}

func paymentFailedNotice(p *models.Payment, courseName, reason string) NotifyInput {
	if reason == "" {
		reason = "the payment was not completed"
	}
	return NotifyInput{
		RecipientID: p.UserID,
		Type:        models.NotificationPaymentFailed,
		Title:       "Payment Failed",
		Message: fmt.Sprintf("Your payment of %s %s for %q has failed. Reason: %s. Please try again.",
			p.Amount.StringFixed(2), p.Currency, courseName, reason),
		Metadata: map[string]interface{}{
			"paymentId":     p.ID,
			"courseId":      p.CourseID,
			"status":        p.Status,
			"transactionId": p.TransactionID,
		},
		DedupeKey: fmt.Sprintf("payment_failed:%d", p.ID),
	}
}

func enrollmentActivatedNotice(e *models.Enrollment, courseName string) NotifyInput {
	return NotifyInput{
		RecipientID: e.StudentID,
		Type:        models.NotificationEnrollmentActivated,
		Title:       "Course Enrollment Successful",
		Message: fmt.Sprintf("You have successfully enrolled in %q for %s. Welcome to the course!",
			courseName, e.AmountPaid.StringFixed(2)),
		Metadata: map[string]interface{}{
			"enrollmentId": e.ID,
			"courseId":     e.CourseID,
		},
		DedupeKey: fmt.Sprintf("enrollment_activated:%d", e.ID),
	}
}

func courseCompletedNotice(e *models.Enrollment, courseName string) NotifyInput {
	return NotifyInput{
		RecipientID: e.StudentID,
		Type:        models.NotificationCourseCompleted,
		Title:       "Course Completed!",
		Message:     fmt.Sprintf("Congratulations! You have successfully completed %q. Well done!", courseName),
		Metadata: map[string]interface{}{
			"enrollmentId": e.ID,
			"courseId":     e.CourseID,
		},
		DedupeKey: fmt.Sprintf("course_completed:%d", e.ID),
	}
}

func certificateGeneratedNotice(c *models.Certificate, courseName string) NotifyInput {
	return NotifyInput{
		RecipientID: c.StudentID,
		Type:        models.NotificationCertificateGenerated,
		Title:       "Certificate Generated!",
		Message: fmt.Sprintf("Your certificate for %q has been generated and is ready for download. Certificate number: %s",
			courseName, c.CertificateNumber),
		Metadata: map[string]interface{}{
			"certificateId":     c.ID,
			"certificateNumber": c.CertificateNumber,
			"enrollmentId":      c.EnrollmentID,
			"courseId":          c.CourseID,
		},
		DedupeKey: fmt.Sprintf("certificate_generated:%d", c.ID),
	}
}

func moduleAvailableNotice(e *models.Enrollment, courseName, moduleName string) NotifyInput {
	return NotifyInput{
		RecipientID: e.StudentID,
		Type:        models.NotificationModuleAvailable,
		Title:       "New Module Available",
		Message:     fmt.Sprintf("A new module %q has been added to %q. Check it out!", moduleName, courseName),
		Metadata: map[string]interface{}{
			"enrollmentId": e.ID,
			"courseId":     e.CourseID,
			"moduleName":   moduleName,
		},
		DedupeKey: fmt.Sprintf("module_available:%d:%s", e.ID, moduleName),
	}
}

func assignmentFeedbackNotice(sub *models.Submission) NotifyInput {
	marks := 0
	if sub.Marks != nil {
		marks = *sub.Marks
	}
	message := fmt.Sprintf("Your assignment %q has been reviewed. You received %d of %d marks.",
		sub.AssignmentTitle, marks, sub.TotalMarks)
	if sub.Feedback != nil && *sub.Feedback != "" {
		message += " Feedback: " + *sub.Feedback
	}

	reviewed := int64(0)
	if sub.ReviewedAt != nil {
		reviewed = sub.ReviewedAt.UnixNano()
	}
	return NotifyInput{
		RecipientID: sub.StudentID,
		Type:        models.NotificationAssignmentFeedback,
		Title:       "Assignment Feedback Received",
		Message:     message,
		Metadata: map[string]interface{}{
			"submissionId": sub.ID,
			"assignmentId": sub.AssignmentID,
			"courseId":     sub.CourseID,
			"marks":        marks,
			"status":       sub.Status,
		},
		DedupeKey: fmt.Sprintf("assignment_feedback:%d:%d", sub.ID, reviewed),
	}
}
