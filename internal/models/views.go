package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CertificateSummary is the public verification view of a certificate
type CertificateSummary struct {
	CertificateNumber    string    `db:"certificate_number" json:"certificate_number"`
	StudentName          string    `db:"student_name" json:"student_name"`
	CourseName           string    `db:"course_name" json:"course_name"`
	IssuedDate           time.Time `db:"issued_date" json:"issued_date"`
	CompletionPercentage int       `db:"completion_percentage" json:"completion_percentage"`
}

// CertificateView is a student's certificate joined with its course name
type CertificateView struct {
	Certificate
	CourseName string `db:"course_name" json:"course_name"`
}

// CertificateStatistics aggregates certificates, optionally for one student
type CertificateStatistics struct {
	Total             int        `db:"total" json:"total"`
	Active            int        `db:"active" json:"active"`
	Revoked           int        `db:"revoked" json:"revoked"`
	AverageCompletion float64    `db:"average_completion" json:"average_completion"`
	LatestIssuedDate  *time.Time `db:"latest_issued_date" json:"latest_issued_date,omitempty"`
}

// SubmissionStats is one student's submission totals, the row type behind leaderboards
type SubmissionStats struct {
	StudentID        int64  `db:"student_id" json:"student_id"`
	StudentName      string `db:"student_name" json:"student_name"`
	SubmissionCount  int    `db:"submission_count" json:"submission_count"`
	TotalMarks       int    `db:"total_marks" json:"total_marks"`
	TotalPossible    int    `db:"total_possible" json:"total_possible"`
	Progress         int    `db:"progress" json:"progress"`
	EnrollmentStatus string `db:"enrollment_status" json:"enrollment_status"`
}

// LeaderboardEntry is one ranked row of a course leaderboard
type LeaderboardEntry struct {
	Rank            int     `json:"rank"`
	StudentID       int64   `json:"student_id"`
	StudentName     string  `json:"student_name"`
	TotalMarks      int     `json:"total_marks"`
	SubmissionCount int     `json:"submission_count"`
	AverageMarks    float64 `json:"average_marks"`
	Progress        int     `json:"progress"`
}

// StatusHistogram counts submissions per review status
type StatusHistogram struct {
	Pending  int `json:"pending"`
	Reviewed int `json:"reviewed"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// StudentPerformance is the derived performance view for one student
type StudentPerformance struct {
	StudentID        int64           `json:"student_id"`
	TotalSubmissions int             `json:"total_submissions"`
	TotalMarks       int             `json:"total_marks"`
	AverageMarks     float64         `json:"average_marks"`
	ScorePercentage  float64         `json:"score_percentage"`
	StatusCounts     StatusHistogram `json:"status_counts"`
	Enrollments      int             `json:"enrollments"`
	AverageProgress  float64         `json:"average_progress"`
	Submissions      []Submission    `json:"submissions"`
}

// AssignmentMark is one student's marks on one assignment of a course
type AssignmentMark struct {
	StudentID       int64   `db:"student_id" json:"student_id"`
	StudentName     string  `db:"student_name" json:"student_name"`
	AssignmentID    int64   `db:"assignment_id" json:"assignment_id"`
	AssignmentTitle string  `db:"assignment_title" json:"assignment_title"`
	TotalMarks      int     `db:"total_marks" json:"total_marks"`
	Marks           *int    `db:"marks" json:"marks"`
	Status          *string `db:"status" json:"status"`
}

// MotivationalMessage is the message selected for a performance bucket
type MotivationalMessage struct {
	Bucket          string  `json:"bucket"`
	Message         string  `json:"message"`
	ScorePercentage float64 `json:"score_percentage"`
}

// PaymentStatistics aggregates payments across the platform
type PaymentStatistics struct {
	TotalPayments      int             `db:"total_payments" json:"total_payments"`
	SuccessfulPayments int             `db:"successful_payments" json:"successful_payments"`
	FailedPayments     int             `db:"failed_payments" json:"failed_payments"`
	PendingPayments    int             `db:"pending_payments" json:"pending_payments"`
	CancelledPayments  int             `db:"cancelled_payments" json:"cancelled_payments"`
	RefundedPayments   int             `db:"refunded_payments" json:"refunded_payments"`
	TotalAmount        decimal.Decimal `db:"total_amount" json:"total_amount"`
	SuccessRate        float64         `db:"-" json:"success_rate"`
}

// PaymentHistoryItem is one row of a user's payment history
type PaymentHistoryItem struct {
	ID            int64           `db:"id" json:"id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Status        string          `db:"status" json:"status"`
	TransactionID string          `db:"transaction_id" json:"transaction_id"`
	CourseName    string          `db:"course_name" json:"course_name"`
	PaidAt        *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// UserPaymentHistory summarises one user's payments
type UserPaymentHistory struct {
	TotalPayments      int                  `json:"total_payments"`
	SuccessfulPayments int                  `json:"successful_payments"`
	FailedPayments     int                  `json:"failed_payments"`
	TotalSpent         decimal.Decimal      `json:"total_spent"`
	Payments           []PaymentHistoryItem `json:"payments"`
}

// EnrollmentStatistics aggregates enrollments across the platform
type EnrollmentStatistics struct {
	Total           int     `db:"total" json:"total"`
	Pending         int     `db:"pending" json:"pending"`
	Active          int     `db:"active" json:"active"`
	Completed       int     `db:"completed" json:"completed"`
	Cancelled       int     `db:"cancelled" json:"cancelled"`
	AverageProgress float64 `db:"average_progress" json:"average_progress"`
	CompletionRate  float64 `db:"-" json:"completion_rate"`
}
