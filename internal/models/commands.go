package models

import "time"

// PaymentTransition carries the gateway evidence stored alongside a status change
type PaymentTransition struct {
	Status            string
	GatewaySessionKey string
	GatewayTranID     string
	GatewayValID      string
	GatewayBankTranID string
	GatewayCardType   string
	GatewayCardIssuer string
	GatewayCardBrand  string
	FailureReason     string
	RawResponse       []byte
}

// Certificate list sort keys
const (
	CertificateSortIssuedDate           = "issuedDate"
	CertificateSortCourseName           = "courseName"
	CertificateSortCompletionPercentage = "completionPercentage"
)

// CertificateQuery filters and orders a student's certificates
type CertificateQuery struct {
	IsActive  *bool
	SortBy    string
	SortOrder string
	Limit     int
	Offset    int
}

// NotificationQuery pages through a recipient's notifications
type NotificationQuery struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

// SubmissionReview is the explicit update command for grading a submission
type SubmissionReview struct {
	SubmissionID int64
	Marks        int
	Feedback     string
	Status       string
}

// OutboxDelivery is a leased outbox row joined with what is needed to send it
type OutboxDelivery struct {
	OutboxID       int64     `db:"outbox_id"`
	NotificationID int64     `db:"notification_id"`
	Attempts       int       `db:"attempts"`
	Type           string    `db:"type"`
	Title          string    `db:"title"`
	Message        string    `db:"message"`
	RecipientEmail string    `db:"recipient_email"`
	RecipientName  string    `db:"recipient_name"`
	CreatedAt      time.Time `db:"created_at"`
}
