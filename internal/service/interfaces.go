package service

import (
	"context"
	"time"

	"enrollment-service/internal/models"
)

// CatalogReader reads collaborator-owned users and courses
type CatalogReader interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetCourse(ctx context.Context, id int64) (*models.Course, error)
}

// PaymentStore is the persistence the payment ledger needs
type PaymentStore interface {
	CatalogReader
	HasEnrollmentInStatus(ctx context.Context, studentID, courseID int64, statuses ...string) (bool, error)
	NextTransactionSeq(ctx context.Context) (int64, error)
	CreatePaymentWithEnrollment(ctx context.Context, payment *models.Payment, enrollment *models.Enrollment) error
	GetPayment(ctx context.Context, id int64) (*models.Payment, error)
	ListPaymentsByUser(ctx context.Context, userID int64) ([]models.Payment, error)
	TransitionPayment(ctx context.Context, id int64, from string, t models.PaymentTransition) (*models.Payment, error)
	PaymentStatistics(ctx context.Context) (*models.PaymentStatistics, error)
	PaymentHistory(ctx context.Context, userID int64) ([]models.PaymentHistoryItem, error)
	CountStalePending(ctx context.Context, cutoff time.Time) (int, error)
}

// EnrollmentStore is the persistence the enrollment state machine needs
type EnrollmentStore interface {
	CatalogReader
	GetEnrollment(ctx context.Context, id int64) (*models.Enrollment, error)
	GetEnrollmentByPayment(ctx context.Context, paymentID int64) (*models.Enrollment, error)
	ActivateEnrollment(ctx context.Context, paymentID int64) (*models.Enrollment, error)
	CancelEnrollment(ctx context.Context, id int64, from ...string) (*models.Enrollment, error)
	SetProgress(ctx context.Context, id int64, progress int) (*models.Enrollment, error)
	ListEnrollmentsByStudent(ctx context.Context, studentID int64) ([]models.Enrollment, error)
	ListEnrollmentsByCourse(ctx context.Context, courseID int64, statuses ...string) ([]models.Enrollment, error)
	EnrollmentStatistics(ctx context.Context) (*models.EnrollmentStatistics, error)
}

// CertificateStore is the persistence the certificate issuer needs
type CertificateStore interface {
	CatalogReader
	GetEnrollment(ctx context.Context, id int64) (*models.Enrollment, error)
	CreateCertificate(ctx context.Context, cert *models.Certificate) error
	GetCertificate(ctx context.Context, id int64) (*models.Certificate, error)
	GetActiveCertificateByEnrollment(ctx context.Context, enrollmentID int64) (*models.Certificate, error)
	FindActiveCertificateSummary(ctx context.Context, number string) (*models.CertificateSummary, error)
	RevokeCertificate(ctx context.Context, id int64) (*models.Certificate, error)
	ListCertificates(ctx context.Context, studentID int64, q models.CertificateQuery) ([]models.CertificateView, error)
	CertificateStatistics(ctx context.Context, studentID *int64) (*models.CertificateStatistics, error)
}

// NotificationStore persists notifications together with their email outbox rows
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) (bool, error)
	ListNotifications(ctx context.Context, recipientID int64, q models.NotificationQuery) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id, recipientID int64) (*models.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, recipientID int64) (int64, error)
	CountUnreadNotifications(ctx context.Context, recipientID int64) (int, error)
}

// AggregatorStore serves the read models behind performance and leaderboards
type AggregatorStore interface {
	GetSubmission(ctx context.Context, id int64) (*models.Submission, error)
	ListStudentSubmissions(ctx context.Context, studentID int64) ([]models.Submission, error)
	StudentEnrollmentSummary(ctx context.Context, studentID int64) (int, float64, error)
	CourseSubmissionStats(ctx context.Context, courseID int64) ([]models.SubmissionStats, error)
	AssignmentMarks(ctx context.Context, courseID int64, studentID *int64) ([]models.AssignmentMark, error)
	ReviewSubmission(ctx context.Context, r models.SubmissionReview) (*models.Submission, error)
}

// LifecyclePublisher publishes lifecycle events to the broker
type LifecyclePublisher interface {
	PublishPayment(ctx context.Context, eventType string, p *models.Payment, reason string) error
	PublishEnrollment(ctx context.Context, eventType string, e *models.Enrollment) error
	PublishCertificateIssued(ctx context.Context, c *models.Certificate) error
}

// CertificateRequester hands a completed enrollment to certificate issuance
type CertificateRequester interface {
	RequestCertificate(ctx context.Context, e *models.Enrollment) error
}

// Notifier persists lifecycle notifications
type Notifier interface {
	Notify(ctx context.Context, in NotifyInput) (*models.Notification, error)
}

// Locker takes short-lived per-key locks. acquired is false when another holder has the key.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), acquired bool, err error)
}

// LeaderboardCache caches serialised leaderboards per course
type LeaderboardCache interface {
	GetLeaderboard(ctx context.Context, courseID int64) ([]byte, bool, error)
	SetLeaderboard(ctx context.Context, courseID int64, payload []byte, ttl time.Duration) error
	InvalidateLeaderboard(ctx context.Context, courseID int64) error
	FlushLeaderboards(ctx context.Context) (int64, error)
}
