package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypePaymentSucceeded     = "PAYMENT_SUCCEEDED"
	EventTypePaymentFailed        = "PAYMENT_FAILED"
	EventTypePaymentRefunded      = "PAYMENT_REFUNDED"
	EventTypeEnrollmentActivated  = "ENROLLMENT_ACTIVATED"
	EventTypeEnrollmentCompleted  = "ENROLLMENT_COMPLETED"
	EventTypeEnrollmentCancelled  = "ENROLLMENT_CANCELLED"
	EventTypeCertificateRequested = "CERTIFICATE_REQUESTED"
	EventTypeCertificateIssued    = "CERTIFICATE_ISSUED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentEvent is published when a payment reaches SUCCESS, FAILED, CANCELLED or REFUNDED
type PaymentEvent struct {
	BaseEvent
	PaymentID     int64           `json:"payment_id"`
	UserID        int64           `json:"user_id"`
	CourseID      int64           `json:"course_id"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status"`
	Reason        string          `json:"reason,omitempty"`
}

// EnrollmentEvent is published on enrollment activation, completion and cancellation
type EnrollmentEvent struct {
	BaseEvent
	EnrollmentID int64  `json:"enrollment_id"`
	StudentID    int64  `json:"student_id"`
	CourseID     int64  `json:"course_id"`
	PaymentID    int64  `json:"payment_id"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
}

// CertificateRequestedEvent asks the certificate worker to issue a certificate
type CertificateRequestedEvent struct {
	BaseEvent
	EnrollmentID int64 `json:"enrollment_id"`
	StudentID    int64 `json:"student_id"`
	CourseID     int64 `json:"course_id"`
}

// CertificateIssuedEvent is published once a certificate has been stored
type CertificateIssuedEvent struct {
	BaseEvent
	CertificateID     int64  `json:"certificate_id"`
	CertificateNumber string `json:"certificate_number"`
	EnrollmentID      int64  `json:"enrollment_id"`
	StudentID         int64  `json:"student_id"`
	CourseID          int64  `json:"course_id"`
}
