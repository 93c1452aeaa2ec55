package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// User is the read-only view of a platform user needed for gateway payloads and emails
type User struct {
	ID      int64   `db:"id" json:"id"`
	Name    string  `db:"name" json:"name"`
	Email   string  `db:"email" json:"email"`
	Phone   string  `db:"phone" json:"phone"`
	Address *string `db:"address" json:"address,omitempty"`
}

// Course is the read-only pricing view of a course
type Course struct {
	ID            int64               `db:"id" json:"id"`
	Name          string              `db:"name" json:"name"`
	Price         decimal.Decimal     `db:"price" json:"price"`
	DiscountPrice decimal.NullDecimal `db:"discount_price" json:"discount_price"`
}

// EffectivePrice is the discount price when one is set and positive, the list price otherwise.
func (c *Course) EffectivePrice() decimal.Decimal {
	if c.DiscountPrice.Valid && c.DiscountPrice.Decimal.IsPositive() {
		return c.DiscountPrice.Decimal
	}
	return c.Price
}

// Payment represents a gateway payment attempt for one course
type Payment struct {
	ID                int64           `db:"id" json:"id"`
	UserID            int64           `db:"user_id" json:"user_id"`
	CourseID          int64           `db:"course_id" json:"course_id"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Currency          string          `db:"currency" json:"currency"`
	TransactionID     string          `db:"transaction_id" json:"transaction_id"`
	Status            string          `db:"status" json:"status"`
	PaymentMethod     string          `db:"payment_method" json:"payment_method"`
	GatewaySessionKey *string         `db:"gateway_session_key" json:"gateway_session_key,omitempty"`
	GatewayTranID     *string         `db:"gateway_tran_id" json:"gateway_tran_id,omitempty"`
	GatewayValID      *string         `db:"gateway_val_id" json:"gateway_val_id,omitempty"`
	GatewayBankTranID *string         `db:"gateway_bank_tran_id" json:"gateway_bank_tran_id,omitempty"`
	GatewayCardType   *string         `db:"gateway_card_type" json:"gateway_card_type,omitempty"`
	GatewayCardIssuer *string         `db:"gateway_card_issuer" json:"gateway_card_issuer,omitempty"`
	GatewayCardBrand  *string         `db:"gateway_card_brand" json:"gateway_card_brand,omitempty"`
	GatewayResponse   types.JSONText  `db:"gateway_response" json:"-"`
	FailureReason     *string         `db:"failure_reason" json:"failure_reason,omitempty"`
	PaidAt            *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	FailedAt          *time.Time      `db:"failed_at" json:"failed_at,omitempty"`
	RefundedAt        *time.Time      `db:"refunded_at" json:"refunded_at,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether no callback can move the payment any more.
func (p *Payment) IsTerminal() bool {
	return p.Status != PaymentStatusPending
}

// Enrollment pairs a student with a course through exactly one payment
type Enrollment struct {
	ID            int64           `db:"id" json:"id"`
	StudentID     int64           `db:"student_id" json:"student_id"`
	CourseID      int64           `db:"course_id" json:"course_id"`
	PaymentID     int64           `db:"payment_id" json:"payment_id"`
	AmountPaid    decimal.Decimal `db:"amount_paid" json:"amount_paid"`
	TransactionID string          `db:"transaction_id" json:"transaction_id"`
	Status        string          `db:"status" json:"status"`
	Progress      int             `db:"progress" json:"progress"`
	EnrolledAt    *time.Time      `db:"enrolled_at" json:"enrolled_at,omitempty"`
	CompletedAt   *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Certificate is issued once per completed enrollment; only IsActive may change afterwards
type Certificate struct {
	ID                   int64      `db:"id" json:"id"`
	EnrollmentID         int64      `db:"enrollment_id" json:"enrollment_id"`
	StudentID            int64      `db:"student_id" json:"student_id"`
	CourseID             int64      `db:"course_id" json:"course_id"`
	CertificateNumber    string     `db:"certificate_number" json:"certificate_number"`
	IssuedDate           time.Time  `db:"issued_date" json:"issued_date"`
	CompletionPercentage int        `db:"completion_percentage" json:"completion_percentage"`
	IsActive             bool       `db:"is_active" json:"is_active"`
	RevokedAt            *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
}

// Notification is one persisted lifecycle message for a user
type Notification struct {
	ID          int64          `db:"id" json:"id"`
	RecipientID int64          `db:"recipient_id" json:"recipient_id"`
	Type        string         `db:"type" json:"type"`
	Title       string         `db:"title" json:"title"`
	Message     string         `db:"message" json:"message"`
	Status      string         `db:"status" json:"status"`
	Metadata    types.JSONText `db:"metadata" json:"metadata"`
	DedupeKey   string         `db:"dedupe_key" json:"-"`
	IsEmailSent bool           `db:"is_email_sent" json:"is_email_sent"`
	EmailSentAt *time.Time     `db:"email_sent_at" json:"email_sent_at,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// EmailOutbox is the delivery task for a notification's email, keyed by notification id
type EmailOutbox struct {
	ID             int64      `db:"id"`
	NotificationID int64      `db:"notification_id"`
	Status         string     `db:"status"`
	Attempts       int        `db:"attempts"`
	NextAttemptAt  time.Time  `db:"next_attempt_at"`
	LeaseOwner     *string    `db:"lease_owner"`
	LeaseExpiresAt *time.Time `db:"lease_expires_at"`
	LastError      *string    `db:"last_error"`
	SentAt         *time.Time `db:"sent_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// Submission is a graded assignment submission owned by the assignments collaborator
type Submission struct {
	ID              int64      `db:"id" json:"id"`
	StudentID       int64      `db:"student_id" json:"student_id"`
	AssignmentID    int64      `db:"assignment_id" json:"assignment_id"`
	CourseID        int64      `db:"course_id" json:"course_id"`
	AssignmentTitle string     `db:"assignment_title" json:"assignment_title"`
	TotalMarks      int        `db:"total_marks" json:"total_marks"`
	Marks           *int       `db:"marks" json:"marks"`
	Feedback        *string    `db:"feedback" json:"feedback,omitempty"`
	Status          string     `db:"status" json:"status"`
	ReviewedAt      *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"submitted_at"`
}

// Payment statuses
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusSuccess   = "SUCCESS"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusCancelled = "CANCELLED"
	PaymentStatusRefunded  = "REFUNDED"
)

const PaymentMethodSSLCommerz = "SSLCOMMERZ"

// Enrollment statuses
const (
	EnrollmentStatusPending   = "PENDING"
	EnrollmentStatusActive    = "ACTIVE"
	EnrollmentStatusCompleted = "COMPLETED"
	EnrollmentStatusCancelled = "CANCELLED"
)

// Notification statuses
const (
	NotificationStatusUnread = "UNREAD"
	NotificationStatusRead   = "READ"
)

// Notification types, one per lifecycle event
const (
	NotificationEnrollmentActivated  = "enrollment_activated"
	NotificationPaymentSuccess       = "payment_success"
	NotificationPaymentFailed        = "payment_failed"
	NotificationModuleAvailable      = "module_available"
	NotificationAssignmentFeedback   = "assignment_feedback"
	NotificationCertificateGenerated = "certificate_generated"
	NotificationCourseCompleted      = "course_completed"
)

// Email outbox statuses
const (
	OutboxStatusPending = "pending"
	OutboxStatusLeased  = "leased"
	OutboxStatusSent    = "sent"
	OutboxStatusFailed  = "failed"
)

// Submission statuses
const (
	SubmissionStatusPending  = "pending"
	SubmissionStatusReviewed = "reviewed"
	SubmissionStatusApproved = "approved"
	SubmissionStatusRejected = "rejected"
)

const MaxProgress = 100
