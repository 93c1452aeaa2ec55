package store

import (
	"context"
	"fmt"
	"strings"

	"enrollment-service/internal/apperr"
	"enrollment-service/internal/models"
)

var certificateSortColumns = map[string]string{
	models.CertificateSortIssuedDate:           "c.issued_date",
	models.CertificateSortCourseName:           "co.name",
	models.CertificateSortCompletionPercentage: "c.completion_percentage",
}

// CreateCertificate inserts a certificate. A second active certificate for
// the same enrollment is rejected by the partial unique index and reported as a conflict.
func (s *Store) CreateCertificate(ctx context.Context, cert *models.Certificate) error {
	err := s.db.GetContext(ctx, cert, `
		INSERT INTO certificates (enrollment_id, student_id, course_id, certificate_number, issued_date, completion_percentage, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING *`,
		cert.EnrollmentID, cert.StudentID, cert.CourseID, cert.CertificateNumber,
		cert.IssuedDate, cert.CompletionPercentage)
	if isUniqueViolation(err) {
		return apperr.Conflict("certificate already issued for enrollment %d", cert.EnrollmentID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert certificate: %w", err)
	}
	return nil
}

// GetCertificate retrieves a certificate by ID
func (s *Store) GetCertificate(ctx context.Context, id int64) (*models.Certificate, error) {
	var cert models.Certificate
	if err := getOne(ctx, s.db, &cert, "certificate", id, "SELECT * FROM certificates WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &cert, nil
}

// GetActiveCertificateByEnrollment returns the enrollment's active certificate, or nil
func (s *Store) GetActiveCertificateByEnrollment(ctx context.Context, enrollmentID int64) (*models.Certificate, error) {
	var cert models.Certificate
	found, err := getOptional(ctx, s.db, &cert,
		"SELECT * FROM certificates WHERE enrollment_id = $1 AND is_active", enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate for enrollment %d: %w", enrollmentID, err)
	}
	if !found {
		return nil, nil
	}
	return &cert, nil
}

// FindActiveCertificateSummary returns the public view of an active certificate, or nil
func (s *Store) FindActiveCertificateSummary(ctx context.Context, number string) (*models.CertificateSummary, error) {
	var summary models.CertificateSummary
	found, err := getOptional(ctx, s.db, &summary, `
		SELECT c.certificate_number, u.name AS student_name, co.name AS course_name,
		       c.issued_date, c.completion_percentage
		FROM certificates c
		JOIN users u ON u.id = c.student_id
		JOIN courses co ON co.id = c.course_id
		WHERE c.certificate_number = $1 AND c.is_active`, number)
	if err != nil {
		return nil, fmt.Errorf("failed to verify certificate: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &summary, nil
}

// RevokeCertificate deactivates an active certificate. It returns nil when
// the certificate is missing or already revoked.
func (s *Store) RevokeCertificate(ctx context.Context, id int64) (*models.Certificate, error) {
	var cert models.Certificate
	found, err := getOptional(ctx, s.db, &cert, `
		UPDATE certificates SET is_active = FALSE, revoked_at = NOW()
		WHERE id = $1 AND is_active
		RETURNING *`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke certificate %d: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &cert, nil
}

// ListCertificates lists a student's certificates. q must already be normalised.
func (s *Store) ListCertificates(ctx context.Context, studentID int64, q models.CertificateQuery) ([]models.CertificateView, error) {
	column, ok := certificateSortColumns[q.SortBy]
	if !ok {
		return nil, apperr.Validation("unsupported sort key %q", q.SortBy)
	}
	order := "DESC"
	if strings.EqualFold(q.SortOrder, "ASC") {
		order = "ASC"
	}

	query := `
		SELECT c.*, co.name AS course_name
		FROM certificates c
		JOIN courses co ON co.id = c.course_id
		WHERE c.student_id = $1`
	args := []interface{}{studentID}
	if q.IsActive != nil {
		args = append(args, *q.IsActive)
		query += fmt.Sprintf(" AND c.is_active = $%d", len(args))
	}
	query += fmt.Sprintf(" ORDER BY %s %s, c.id %s", column, order, order)
	args = append(args, q.Limit, q.Offset)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	certs := []models.CertificateView{}
	if err := s.db.SelectContext(ctx, &certs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}
	return certs, nil
}

// CertificateStatistics aggregates certificates, for one student when studentID is set
func (s *Store) CertificateStatistics(ctx context.Context, studentID *int64) (*models.CertificateStatistics, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE is_active) AS active,
			COUNT(*) FILTER (WHERE NOT is_active) AS revoked,
			COALESCE(AVG(completion_percentage), 0)::float8 AS average_completion,
			MAX(issued_date) AS latest_issued_date
		FROM certificates`
	var args []interface{}
	if studentID != nil {
		query += " WHERE student_id = $1"
		args = append(args, *studentID)
	}

	var stats models.CertificateStatistics
	if err := s.db.GetContext(ctx, &stats, query, args...); err != nil {
		return nil, fmt.Errorf("failed to aggregate certificates: %w", err)
	}
	return &stats, nil
}
