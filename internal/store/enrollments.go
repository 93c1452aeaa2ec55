package store

import (
	"context"
	"fmt"

	"enrollment-service/internal/apperr"
	"enrollment-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// GetEnrollment retrieves an enrollment by ID
func (s *Store) GetEnrollment(ctx context.Context, id int64) (*models.Enrollment, error) {
	var e models.Enrollment
	if err := getOne(ctx, s.db, &e, "enrollment", id, "SELECT * FROM enrollments WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEnrollmentByPayment retrieves the enrollment paired with a payment
func (s *Store) GetEnrollmentByPayment(ctx context.Context, paymentID int64) (*models.Enrollment, error) {
	var e models.Enrollment
	err := getOne(ctx, s.db, &e, "enrollment for payment", paymentID,
		"SELECT * FROM enrollments WHERE payment_id = $1", paymentID)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// HasEnrollmentInStatus reports whether the student holds an enrollment for the course in any of statuses
func (s *Store) HasEnrollmentInStatus(ctx context.Context, studentID, courseID int64, statuses ...string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM enrollments
			WHERE student_id = $1 AND course_id = $2 AND status = ANY($3)
		)`, studentID, courseID, pq.Array(statuses))
	if err != nil {
		return false, fmt.Errorf("failed to check enrollment: %w", err)
	}
	return exists, nil
}

// ActivateEnrollment moves the payment's enrollment from PENDING to ACTIVE.
// It returns nil when there is no PENDING enrollment for the payment, and a
// conflict when the student already holds the course through another enrollment.
func (s *Store) ActivateEnrollment(ctx context.Context, paymentID int64) (*models.Enrollment, error) {
	var e models.Enrollment
	found, err := getOptional(ctx, s.db, &e, `
		UPDATE enrollments
		SET status = 'ACTIVE', enrolled_at = NOW(), updated_at = NOW()
		WHERE payment_id = $1 AND status = 'PENDING'
		RETURNING *`, paymentID)
	if isUniqueViolation(err) {
		return nil, apperr.Conflict("student already holds the course of payment %d", paymentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to activate enrollment for payment %d: %w", paymentID, err)
	}
	if !found {
		return nil, nil
	}
	return &e, nil
}

// CancelEnrollment moves an enrollment to CANCELLED if its status is one of from.
// It returns nil when the enrollment is missing or in another status.
func (s *Store) CancelEnrollment(ctx context.Context, id int64, from ...string) (*models.Enrollment, error) {
	var e models.Enrollment
	found, err := getOptional(ctx, s.db, &e, `
		UPDATE enrollments
		SET status = 'CANCELLED', updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING *`, id, pq.Array(from))
	if err != nil {
		return nil, fmt.Errorf("failed to cancel enrollment %d: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &e, nil
}

// SetProgress writes progress while the enrollment is ACTIVE, completing it at 100.
// It returns nil when the enrollment is no longer ACTIVE.
func (s *Store) SetProgress(ctx context.Context, id int64, progress int) (*models.Enrollment, error) {
	var e models.Enrollment
	found, err := getOptional(ctx, s.db, &e, `
		UPDATE enrollments SET
			progress = $2,
			status = CASE WHEN $2 >= 100 THEN 'COMPLETED' ELSE status END,
			completed_at = CASE WHEN $2 >= 100 THEN NOW() ELSE completed_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING *`, id, progress)
	if err != nil {
		return nil, fmt.Errorf("failed to update progress for enrollment %d: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &e, nil
}

// ListEnrollmentsByStudent retrieves a student's enrollments, newest first
func (s *Store) ListEnrollmentsByStudent(ctx context.Context, studentID int64) ([]models.Enrollment, error) {
	enrollments := []models.Enrollment{}
	err := s.db.SelectContext(ctx, &enrollments,
		"SELECT * FROM enrollments WHERE student_id = $1 ORDER BY created_at DESC, id DESC", studentID)
	return enrollments, err
}

// ListEnrollmentsByCourse retrieves a course's enrollments, optionally restricted to statuses
func (s *Store) ListEnrollmentsByCourse(ctx context.Context, courseID int64, statuses ...string) ([]models.Enrollment, error) {
	enrollments := []models.Enrollment{}
	query := "SELECT * FROM enrollments WHERE course_id = $1 ORDER BY id"
	args := []interface{}{courseID}
	if len(statuses) > 0 {
		query = "SELECT * FROM enrollments WHERE course_id = $1 AND status = ANY($2) ORDER BY id"
		args = append(args, pq.Array(statuses))
	}
	err := s.db.SelectContext(ctx, &enrollments, query, args...)
	return enrollments, err
}

// EnrollmentStatistics aggregates enrollment counts and average progress
func (s *Store) EnrollmentStatistics(ctx context.Context) (*models.EnrollmentStatistics, error) {
	var stats models.EnrollmentStatistics
	err := s.db.GetContext(ctx, &stats, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'PENDING') AS pending,
			COUNT(*) FILTER (WHERE status = 'ACTIVE') AS active,
			COUNT(*) FILTER (WHERE status = 'COMPLETED') AS completed,
			COUNT(*) FILTER (WHERE status = 'CANCELLED') AS cancelled,
			COALESCE(AVG(progress) FILTER (WHERE status IN ('ACTIVE', 'COMPLETED')), 0)::float8 AS average_progress
		FROM enrollments`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate enrollments: %w", err)
	}
	return &stats, nil
}

// StudentEnrollmentSummary returns the count and average progress of a student's live enrollments
func (s *Store) StudentEnrollmentSummary(ctx context.Context, studentID int64) (int, float64, error) {
	var row struct {
		Count    int     `db:"count"`
		Progress float64 `db:"progress"`
	}
	err := sqlx.GetContext(ctx, s.db, &row, `
		SELECT COUNT(*) AS count, COALESCE(AVG(progress), 0)::float8 AS progress
		FROM enrollments
		WHERE student_id = $1 AND status IN ('ACTIVE', 'COMPLETED')`, studentID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to summarise enrollments: %w", err)
	}
	return row.Count, row.Progress, nil
}
