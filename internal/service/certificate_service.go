package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"enrollment-service/internal/apperr"
	"enrollment-service/internal/models"
	"enrollment-service/internal/util"

	"go.uber.org/zap"
)

const (
	certificatePrefix       = "NB"
	defaultCertificateLimit = 20
	maxCertificateLimit     = 100
)

var certificateSuffixEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// CertificateService issues, verifies and revokes completion certificates
type CertificateService struct {
	store     CertificateStore
	notifier  Notifier
	publisher LifecyclePublisher
	now       func() time.Time
	random    io.Reader
	logger    *zap.Logger
}

// NewCertificateService creates a new certificate service
func NewCertificateService(store CertificateStore, notifier Notifier, publisher LifecyclePublisher) *CertificateService {
	return &CertificateService{
		store:     store,
		notifier:  notifier,
		publisher: publisher,
		now:       time.Now,
		random:    rand.Reader,
		logger:    util.GetLogger(),
	}
}

// Generate issues the certificate of a COMPLETED enrollment. A second call
// for the same enrollment fails with a conflict while the first certificate is active.
func (s *CertificateService) Generate(ctx context.Context, enrollmentID int64) (*models.Certificate, error) {
	ctx, span := util.StartSpan(ctx, "CertificateService.Generate")
	defer span.End()

	enrollment, err := s.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusCompleted {
		return nil, apperr.Conflict("enrollment %d is %s, certificates are issued for COMPLETED enrollments",
			enrollment.ID, enrollment.Status)
	}

	existing, err := s.store.GetActiveCertificateByEnrollment(ctx, enrollment.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.Conflict("enrollment %d already has certificate %s", enrollment.ID, existing.CertificateNumber)
	}

	issuedAt := s.now().UTC()
	number, err := newCertificateNumber(enrollment.ID, issuedAt, s.random)
	if err != nil {
		return nil, err
	}

	cert := &models.Certificate{
		EnrollmentID:         enrollment.ID,
		StudentID:            enrollment.StudentID,
		CourseID:             enrollment.CourseID,
		CertificateNumber:    number,
		IssuedDate:           issuedAt,
		CompletionPercentage: enrollment.Progress,
		IsActive:             true,
	}
	if err := s.store.CreateCertificate(ctx, cert); err != nil {
		return nil, err
	}

	util.CertificatesIssuedTotal.Inc()
	s.logger.Info("Certificate issued",
		zap.Int64("certificate_id", cert.ID),
		zap.Int64("enrollment_id", cert.EnrollmentID),
		zap.String("certificate_number", cert.CertificateNumber))

	if _, err := s.notifier.Notify(ctx, certificateGeneratedNotice(cert, lookupCourseName(ctx, s.store, cert.CourseID, s.logger))); err != nil {
		s.logger.Error("Failed to create certificate notification",
			zap.Int64("certificate_id", cert.ID),
			zap.Error(err))
	}
	if err := s.publisher.PublishCertificateIssued(ctx, cert); err != nil {
		s.logger.Error("Failed to publish CertificateIssued event",
			zap.Int64("certificate_id", cert.ID),
			zap.Error(err))
	}

	return cert, nil
}

// newCertificateNumber builds NB-<date>-<digest>-<random>. The digest binds the
// number to the enrollment and issue time; the random suffix makes it unguessable.
func newCertificateNumber(enrollmentID int64, issuedAt time.Time, random io.Reader) (string, error) {
	buf := make([]byte, 15)
	if _, err := io.ReadFull(random, buf); err != nil {
		return "", fmt.Errorf("failed to read randomness for certificate number: %w", err)
	}

	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|", enrollmentID, issuedAt.UnixNano())
	h.Write(buf[:8])
	digest := strings.ToUpper(hex.EncodeToString(h.Sum(nil))[:8])

	suffix := certificateSuffixEncoding.EncodeToString(buf[8:])[:10]

	return fmt.Sprintf("%s-%s-%s-%s", certificatePrefix, issuedAt.Format("20060102"), digest, suffix), nil
}

// Verify returns the public summary of an active certificate. Revoked and
// unknown numbers produce the same not-found error.
func (s *CertificateService) Verify(ctx context.Context, number string) (*models.CertificateSummary, error) {
	ctx, span := util.StartSpan(ctx, "CertificateService.Verify")
	defer span.End()

	number = strings.TrimSpace(number)
	if number == "" {
		return nil, apperr.NotFound("certificate not found")
	}

	summary, err := s.store.FindActiveCertificateSummary(ctx, number)
	if err != nil {
		return nil, err
	}
	if summary == nil {
		return nil, apperr.NotFound("certificate not found")
	}
	return summary, nil
}

// Revoke deactivates a certificate
func (s *CertificateService) Revoke(ctx context.Context, id int64) (*models.Certificate, error) {
	ctx, span := util.StartSpan(ctx, "CertificateService.Revoke")
	defer span.End()

	cert, err := s.store.RevokeCertificate(ctx, id)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		if _, err := s.store.GetCertificate(ctx, id); err != nil {
			return nil, err
		}
		return nil, apperr.InvalidState("certificate %d is already revoked", id)
	}

	s.logger.Info("Certificate revoked", zap.Int64("certificate_id", id))
	return cert, nil
}

// ListByStudent lists a student's certificates with filtering, sorting and paging
func (s *CertificateService) ListByStudent(ctx context.Context, studentID int64, q models.CertificateQuery) ([]models.CertificateView, error) {
	ctx, span := util.StartSpan(ctx, "CertificateService.ListByStudent")
	defer span.End()

	q, err := normalizeCertificateQuery(q)
	if err != nil {
		return nil, err
	}
	return s.store.ListCertificates(ctx, studentID, q)
}

func normalizeCertificateQuery(q models.CertificateQuery) (models.CertificateQuery, error) {
	switch q.SortBy {
	case "":
		q.SortBy = models.CertificateSortIssuedDate
	case models.CertificateSortIssuedDate, models.CertificateSortCourseName, models.CertificateSortCompletionPercentage:
	default:
		return q, apperr.Validation("sortBy must be one of issuedDate, courseName, completionPercentage")
	}

	switch strings.ToUpper(q.SortOrder) {
	case "":
		q.SortOrder = "DESC"
	case "ASC", "DESC":
		q.SortOrder = strings.ToUpper(q.SortOrder)
	default:
		return q, apperr.Validation("sortOrder must be ASC or DESC")
	}

	if q.Limit <= 0 {
		q.Limit = defaultCertificateLimit
	}
	if q.Limit > maxCertificateLimit {
		q.Limit = maxCertificateLimit
	}
	if q.Offset < 0 {
		return q, apperr.Validation("offset must not be negative")
	}
	return q, nil
}

// Statistics aggregates certificates, for one student when studentID is set
func (s *CertificateService) Statistics(ctx context.Context, studentID *int64) (*models.CertificateStatistics, error) {
	ctx, span := util.StartSpan(ctx, "CertificateService.Statistics")
	defer span.End()

	return s.store.CertificateStatistics(ctx, studentID)
}
