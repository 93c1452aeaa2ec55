package store

import (
	"context"
	"fmt"

	"enrollment-service/internal/models"
)

// Reads of collaborator-owned tables (users, courses, assignments, submissions)
// and the read models derived from them.

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := getOne(ctx, s.db, &u, "user", id,
		"SELECT id, name, email, phone, address FROM users WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetCourse retrieves a course by ID
func (s *Store) GetCourse(ctx context.Context, id int64) (*models.Course, error) {
	var c models.Course
	err := getOne(ctx, s.db, &c, "course", id,
		"SELECT id, name, price, discount_price FROM courses WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const submissionColumns = `
	s.id, s.student_id, s.assignment_id, a.course_id, a.title AS assignment_title,
	a.total_marks, s.marks, s.feedback, s.status, s.reviewed_at, s.created_at`

// GetSubmission retrieves a submission joined with its assignment
func (s *Store) GetSubmission(ctx context.Context, id int64) (*models.Submission, error) {
	var sub models.Submission
	err := getOne(ctx, s.db, &sub, "submission", id, `
		SELECT`+submissionColumns+`
		FROM assignment_submissions s
		JOIN assignments a ON a.id = s.assignment_id
		WHERE s.id = $1`, id)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListStudentSubmissions lists all of a student's submissions, newest first
func (s *Store) ListStudentSubmissions(ctx context.Context, studentID int64) ([]models.Submission, error) {
	subs := []models.Submission{}
	err := s.db.SelectContext(ctx, &subs, `
		SELECT`+submissionColumns+`
		FROM assignment_submissions s
		JOIN assignments a ON a.id = s.assignment_id
		WHERE s.student_id = $1
		ORDER BY s.created_at DESC, s.id DESC`, studentID)
	return subs, err
}

// ReviewSubmission stores marks, feedback and status for a submission
func (s *Store) ReviewSubmission(ctx context.Context, r models.SubmissionReview) (*models.Submission, error) {
	var sub models.Submission
	err := getOne(ctx, s.db, &sub, "submission", r.SubmissionID, `
		WITH reviewed AS (
			UPDATE assignment_submissions
			SET marks = $2, feedback = $3, status = $4, reviewed_at = NOW()
			WHERE id = $1
			RETURNING *
		)
		SELECT`+submissionColumns+`
		FROM reviewed s
		JOIN assignments a ON a.id = s.assignment_id`,
		r.SubmissionID, r.Marks, nullString(r.Feedback), r.Status)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CourseSubmissionStats returns per-student submission totals for every
// student holding an ACTIVE or COMPLETED enrollment in the course.
func (s *Store) CourseSubmissionStats(ctx context.Context, courseID int64) ([]models.SubmissionStats, error) {
	stats := []models.SubmissionStats{}
	err := s.db.SelectContext(ctx, &stats, `
		SELECT e.student_id, u.name AS student_name, e.progress, e.status AS enrollment_status,
		       COUNT(s.id) AS submission_count,
		       COALESCE(SUM(s.marks), 0) AS total_marks,
		       COALESCE(SUM(a.total_marks) FILTER (WHERE s.marks IS NOT NULL), 0) AS total_possible
		FROM enrollments e
		JOIN users u ON u.id = e.student_id
		LEFT JOIN assignments a ON a.course_id = e.course_id
		LEFT JOIN assignment_submissions s ON s.assignment_id = a.id AND s.student_id = e.student_id
		WHERE e.course_id = $1 AND e.status IN ('ACTIVE', 'COMPLETED')
		GROUP BY e.student_id, u.name, e.progress, e.status`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load course submission stats: %w", err)
	}
	return stats, nil
}

// AssignmentMarks lists marks per (student, assignment) for a course,
// restricted to one student when studentID is set.
func (s *Store) AssignmentMarks(ctx context.Context, courseID int64, studentID *int64) ([]models.AssignmentMark, error) {
	query := `
		SELECT e.student_id, u.name AS student_name, a.id AS assignment_id, a.title AS assignment_title,
		       a.total_marks, s.marks, s.status
		FROM enrollments e
		JOIN users u ON u.id = e.student_id
		JOIN assignments a ON a.course_id = e.course_id
		LEFT JOIN assignment_submissions s ON s.assignment_id = a.id AND s.student_id = e.student_id
		WHERE e.course_id = $1 AND e.status IN ('ACTIVE', 'COMPLETED')`
	args := []interface{}{courseID}
	if studentID != nil {
		query += " AND e.student_id = $2"
		args = append(args, *studentID)
	}
	query += " ORDER BY a.id, e.student_id"

	marks := []models.AssignmentMark{}
	if err := s.db.SelectContext(ctx, &marks, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load assignment marks: %w", err)
	}
	return marks, nil
}
