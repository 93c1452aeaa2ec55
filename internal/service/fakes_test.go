package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"enrollment-service/config"
	"enrollment-service/internal/apperr"
	"enrollment-service/internal/gateway"
	"enrollment-service/internal/models"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for the Postgres store. Conditional
// updates keep the same compare-and-set semantics as the SQL.
type memStore struct {
	mu            sync.Mutex
	seq           int64
	nextID        int64
	users         map[int64]*models.User
	courses       map[int64]*models.Course
	payments      map[int64]*models.Payment
	enrollments   map[int64]*models.Enrollment
	certificates  map[int64]*models.Certificate
	notifications map[int64]*models.Notification
	outbox        []int64
	submissions   map[int64]*models.Submission
	stats         map[int64][]models.SubmissionStats

	failNotifications error
}

func newMemStore() *memStore {
	return &memStore{
		users:         map[int64]*models.User{},
		courses:       map[int64]*models.Course{},
		payments:      map[int64]*models.Payment{},
		enrollments:   map[int64]*models.Enrollment{},
		certificates:  map[int64]*models.Certificate{},
		notifications: map[int64]*models.Notification{},
		submissions:   map[int64]*models.Submission{},
		stats:         map[int64][]models.SubmissionStats{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) addUser(id int64) *models.User {
	u := &models.User{ID: id, Name: "Student", Email: "student@example.com", Phone: "01700000000"}
	m.users[id] = u
	return u
}

func (m *memStore) addCourse(id int64, price string) *models.Course {
	c := &models.Course{ID: id, Name: "Go in Practice", Price: decimal.RequireFromString(price)}
	m.courses[id] = c
	return c
}

func (m *memStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found: %d", id)
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetCourse(_ context.Context, id int64) (*models.Course, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.courses[id]
	if !ok {
		return nil, apperr.NotFound("course not found: %d", id)
	}
	cp := *c
	return &cp, nil
}

// payments

func (m *memStore) HasEnrollmentInStatus(_ context.Context, studentID, courseID int64, statuses ...string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.enrollments {
		if e.StudentID == studentID && e.CourseID == courseID && contains(statuses, e.Status) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) NextTransactionSeq(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return m.seq, nil
}

func (m *memStore) CreatePaymentWithEnrollment(_ context.Context, p *models.Payment, e *models.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.payments {
		if existing.TransactionID == p.TransactionID {
			return apperr.Conflict("duplicate transaction id %s", p.TransactionID)
		}
	}
	now := time.Now()
	p.ID = m.id()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	m.payments[p.ID] = &cp

	e.ID = m.id()
	e.PaymentID = p.ID
	e.CreatedAt, e.UpdatedAt = now, now
	ce := *e
	m.enrollments[e.ID] = &ce
	return nil
}

func (m *memStore) GetPayment(_ context.Context, id int64) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, apperr.NotFound("payment not found: %d", id)
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) ListPaymentsByUser(_ context.Context, userID int64) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Payment{}
	for _, p := range m.payments {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) TransitionPayment(_ context.Context, id int64, from string, t models.PaymentTransition) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.Status != from {
		return nil, nil
	}
	now := time.Now()
	p.Status = t.Status
	p.UpdatedAt = now
	if t.GatewayTranID != "" {
		p.GatewayTranID = &t.GatewayTranID
	}
	if t.GatewayBankTranID != "" {
		p.GatewayBankTranID = &t.GatewayBankTranID
	}
	if t.FailureReason != "" {
		p.FailureReason = &t.FailureReason
	}
	if len(t.RawResponse) > 0 {
		p.GatewayResponse = types.JSONText(t.RawResponse)
	}
	switch t.Status {
	case models.PaymentStatusSuccess:
		p.PaidAt = &now
	case models.PaymentStatusFailed, models.PaymentStatusCancelled:
		p.FailedAt = &now
	case models.PaymentStatusRefunded:
		p.RefundedAt = &now
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) PaymentStatistics(context.Context) (*models.PaymentStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.PaymentStatistics{TotalAmount: decimal.Zero}
	for _, p := range m.payments {
		stats.TotalPayments++
		switch p.Status {
		case models.PaymentStatusSuccess:
			stats.SuccessfulPayments++
			stats.TotalAmount = stats.TotalAmount.Add(p.Amount)
		case models.PaymentStatusFailed:
			stats.FailedPayments++
		case models.PaymentStatusPending:
			stats.PendingPayments++
		}
	}
	return stats, nil
}

func (m *memStore) PaymentHistory(_ context.Context, userID int64) ([]models.PaymentHistoryItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.PaymentHistoryItem{}
	for _, p := range m.payments {
		if p.UserID == userID {
			out = append(out, models.PaymentHistoryItem{ID: p.ID, Amount: p.Amount, Status: p.Status, TransactionID: p.TransactionID})
		}
	}
	return out, nil
}

func (m *memStore) CountStalePending(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.payments {
		if p.Status == models.PaymentStatusPending && p.CreatedAt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

// enrollments

func (m *memStore) GetEnrollment(_ context.Context, id int64) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		return nil, apperr.NotFound("enrollment not found: %d", id)
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) GetEnrollmentByPayment(_ context.Context, paymentID int64) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.enrollments {
		if e.PaymentID == paymentID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("enrollment for payment not found: %d", paymentID)
}

func (m *memStore) ActivateEnrollment(_ context.Context, paymentID int64) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.enrollments {
		if e.PaymentID == paymentID && e.Status == models.EnrollmentStatusPending {
			for _, other := range m.enrollments {
				if other.StudentID == e.StudentID && other.CourseID == e.CourseID &&
					(other.Status == models.EnrollmentStatusActive || other.Status == models.EnrollmentStatusCompleted) {
					return nil, apperr.Conflict("student already holds the course of payment %d", paymentID)
				}
			}
			now := time.Now()
			e.Status = models.EnrollmentStatusActive
			e.EnrolledAt = &now
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) CancelEnrollment(_ context.Context, id int64, from ...string) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok || !contains(from, e.Status) {
		return nil, nil
	}
	e.Status = models.EnrollmentStatusCancelled
	cp := *e
	return &cp, nil
}

func (m *memStore) SetProgress(_ context.Context, id int64, progress int) (*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok || e.Status != models.EnrollmentStatusActive {
		return nil, nil
	}
	e.Progress = progress
	if progress >= models.MaxProgress {
		now := time.Now()
		e.Status = models.EnrollmentStatusCompleted
		e.CompletedAt = &now
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) ListEnrollmentsByStudent(_ context.Context, studentID int64) ([]models.Enrollment, error) {
	return m.filterEnrollments(func(e *models.Enrollment) bool { return e.StudentID == studentID }), nil
}

func (m *memStore) ListEnrollmentsByCourse(_ context.Context, courseID int64, statuses ...string) ([]models.Enrollment, error) {
	return m.filterEnrollments(func(e *models.Enrollment) bool {
		return e.CourseID == courseID && (len(statuses) == 0 || contains(statuses, e.Status))
	}), nil
}

func (m *memStore) filterEnrollments(keep func(*models.Enrollment) bool) []models.Enrollment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Enrollment{}
	for _, e := range m.enrollments {
		if keep(e) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) EnrollmentStatistics(context.Context) (*models.EnrollmentStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.EnrollmentStatistics{}
	for _, e := range m.enrollments {
		stats.Total++
		switch e.Status {
		case models.EnrollmentStatusPending:
			stats.Pending++
		case models.EnrollmentStatusActive:
			stats.Active++
		case models.EnrollmentStatusCompleted:
			stats.Completed++
		case models.EnrollmentStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

func (m *memStore) StudentEnrollmentSummary(_ context.Context, studentID int64) (int, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, total := 0, 0
	for _, e := range m.enrollments {
		if e.StudentID == studentID && (e.Status == models.EnrollmentStatusActive || e.Status == models.EnrollmentStatusCompleted) {
			n++
			total += e.Progress
		}
	}
	if n == 0 {
		return 0, 0, nil
	}
	return n, float64(total) / float64(n), nil
}

// certificates

func (m *memStore) CreateCertificate(_ context.Context, c *models.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.certificates {
		if existing.EnrollmentID == c.EnrollmentID && existing.IsActive {
			return apperr.Conflict("certificate already issued for enrollment %d", c.EnrollmentID)
		}
	}
	c.ID = m.id()
	c.IsActive = true
	c.CreatedAt = time.Now()
	cp := *c
	m.certificates[c.ID] = &cp
	return nil
}

func (m *memStore) GetCertificate(_ context.Context, id int64) (*models.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.certificates[id]
	if !ok {
		return nil, apperr.NotFound("certificate not found: %d", id)
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) GetActiveCertificateByEnrollment(_ context.Context, enrollmentID int64) (*models.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.certificates {
		if c.EnrollmentID == enrollmentID && c.IsActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindActiveCertificateSummary(_ context.Context, number string) (*models.CertificateSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.certificates {
		if c.CertificateNumber == number && c.IsActive {
			return &models.CertificateSummary{
				CertificateNumber:    c.CertificateNumber,
				StudentName:          m.users[c.StudentID].Name,
				CourseName:           m.courses[c.CourseID].Name,
				IssuedDate:           c.IssuedDate,
				CompletionPercentage: c.CompletionPercentage,
			}, nil
		}
	}
	return nil, nil
}

func (m *memStore) RevokeCertificate(_ context.Context, id int64) (*models.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.certificates[id]
	if !ok || !c.IsActive {
		return nil, nil
	}
	now := time.Now()
	c.IsActive = false
	c.RevokedAt = &now
	cp := *c
	return &cp, nil
}

func (m *memStore) ListCertificates(_ context.Context, studentID int64, q models.CertificateQuery) ([]models.CertificateView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.CertificateView{}
	for _, c := range m.certificates {
		if c.StudentID == studentID && (q.IsActive == nil || *q.IsActive == c.IsActive) {
			out = append(out, models.CertificateView{Certificate: *c, CourseName: m.courses[c.CourseID].Name})
		}
	}
	return out, nil
}

func (m *memStore) CertificateStatistics(_ context.Context, studentID *int64) (*models.CertificateStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.CertificateStatistics{}
	for _, c := range m.certificates {
		if studentID != nil && c.StudentID != *studentID {
			continue
		}
		stats.Total++
		if c.IsActive {
			stats.Active++
		} else {
			stats.Revoked++
		}
	}
	return stats, nil
}

// notifications

func (m *memStore) CreateNotification(_ context.Context, n *models.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNotifications != nil {
		return false, m.failNotifications
	}
	for _, existing := range m.notifications {
		if existing.RecipientID == n.RecipientID && existing.DedupeKey == n.DedupeKey {
			*n = *existing
			return false, nil
		}
	}
	n.ID = m.id()
	n.Status = models.NotificationStatusUnread
	n.CreatedAt = time.Now()
	cp := *n
	m.notifications[n.ID] = &cp
	m.outbox = append(m.outbox, n.ID)
	return true, nil
}

func (m *memStore) ListNotifications(_ context.Context, recipientID int64, q models.NotificationQuery) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Notification{}
	for _, n := range m.notifications {
		if n.RecipientID == recipientID && (!q.UnreadOnly || n.Status == models.NotificationStatusUnread) {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if q.Offset >= len(out) {
		return []models.Notification{}, nil
	}
	out = out[q.Offset:]
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memStore) MarkNotificationRead(_ context.Context, id, recipientID int64) (*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return nil, apperr.NotFound("notification not found: %d", id)
	}
	n.Status = models.NotificationStatusRead
	cp := *n
	return &cp, nil
}

func (m *memStore) MarkAllNotificationsRead(_ context.Context, recipientID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.notifications {
		if n.RecipientID == recipientID && n.Status == models.NotificationStatusUnread {
			n.Status = models.NotificationStatusRead
			count++
		}
	}
	return count, nil
}

func (m *memStore) CountUnreadNotifications(_ context.Context, recipientID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.notifications {
		if n.RecipientID == recipientID && n.Status == models.NotificationStatusUnread {
			count++
		}
	}
	return count, nil
}

func (m *memStore) notificationsOfType(recipientID int64, typ string) []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.notifications {
		if n.RecipientID == recipientID && n.Type == typ {
			out = append(out, *n)
		}
	}
	return out
}

// submissions

func (m *memStore) GetSubmission(_ context.Context, id int64) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return nil, apperr.NotFound("submission not found: %d", id)
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListStudentSubmissions(_ context.Context, studentID int64) ([]models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Submission{}
	for _, s := range m.submissions {
		if s.StudentID == studentID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) CourseSubmissionStats(_ context.Context, courseID int64) ([]models.SubmissionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats[courseID], nil
}

func (m *memStore) AssignmentMarks(_ context.Context, courseID int64, studentID *int64) ([]models.AssignmentMark, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.AssignmentMark{}
	for _, s := range m.submissions {
		if s.CourseID != courseID || (studentID != nil && s.StudentID != *studentID) {
			continue
		}
		status := s.Status
		out = append(out, models.AssignmentMark{StudentID: s.StudentID, AssignmentID: s.AssignmentID, TotalMarks: s.TotalMarks, Marks: s.Marks, Status: &status})
	}
	return out, nil
}

func (m *memStore) ReviewSubmission(_ context.Context, r models.SubmissionReview) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[r.SubmissionID]
	if !ok {
		return nil, apperr.NotFound("submission not found: %d", r.SubmissionID)
	}
	now := time.Now()
	marks, feedback := r.Marks, r.Feedback
	s.Marks = &marks
	s.Feedback = &feedback
	s.Status = r.Status
	s.ReviewedAt = &now
	cp := *s
	return &cp, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// recordingPublisher captures lifecycle events
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	fail   error
}

func (p *recordingPublisher) record(eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return p.fail
}

func (p *recordingPublisher) PublishPayment(_ context.Context, eventType string, _ *models.Payment, _ string) error {
	return p.record(eventType)
}

func (p *recordingPublisher) PublishEnrollment(_ context.Context, eventType string, _ *models.Enrollment) error {
	return p.record(eventType)
}

func (p *recordingPublisher) PublishCertificateIssued(context.Context, *models.Certificate) error {
	return p.record(models.EventTypeCertificateIssued)
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == eventType {
			n++
		}
	}
	return n
}

// recordingRequester captures certificate requests
type recordingRequester struct {
	mu       sync.Mutex
	requests []int64
	fail     error
}

func (r *recordingRequester) RequestCertificate(_ context.Context, e *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, e.ID)
	return r.fail
}

// memLocker is a process-local Locker
type memLocker struct {
	mu      sync.Mutex
	held    map[string]bool
	fail    error
	granted int
}

func (l *memLocker) TryLock(_ context.Context, name string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return func() {}, false, l.fail
	}
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[name] {
		return func() {}, false, nil
	}
	l.held[name] = true
	l.granted++
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, name)
	}, true, nil
}

// memCache is an in-memory LeaderboardCache
type memCache struct {
	mu      sync.Mutex
	entries map[int64][]byte
	sets    int
}

func (c *memCache) GetLeaderboard(_ context.Context, courseID int64) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[courseID]
	return v, ok, nil
}

func (c *memCache) SetLeaderboard(_ context.Context, courseID int64, payload []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[int64][]byte{}
	}
	c.entries[courseID] = payload
	c.sets++
	return nil
}

func (c *memCache) InvalidateLeaderboard(_ context.Context, courseID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, courseID)
	return nil
}

func (c *memCache) FlushLeaderboards(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := int64(len(c.entries))
	c.entries = nil
	return n, nil
}

var errBoom = errors.New("boom")

// harness wires every service over one memStore
type harness struct {
	store        *memStore
	publisher    *recordingPublisher
	requester    *recordingRequester
	locker       *memLocker
	cache        *memCache
	notify       *NotificationService
	enrollments  *EnrollmentService
	payments     *PaymentService
	certificates *CertificateService
	aggregator   *Aggregator
}

func newHarness() *harness {
	h := &harness{
		store:     newMemStore(),
		publisher: &recordingPublisher{},
		requester: &recordingRequester{},
		locker:    &memLocker{},
		cache:     &memCache{},
	}
	gw := gateway.NewSSLCommerz(config.GatewayConfig{
		StoreID:       "store",
		StorePassword: "secret",
		URL:           "https://sandbox.sslcommerz.com/gwprocess/v4/api.php",
		Currency:      "BDT",
		FrontendURL:   "https://app.example.com",
		BackendURL:    "https://api.example.com",
	})
	h.notify = NewNotificationService(h.store)
	h.enrollments = NewEnrollmentService(h.store, h.notify, h.publisher, h.requester)
	h.payments = NewPaymentService(h.store, gw, h.enrollments, h.notify, h.publisher, h.locker, time.Second)
	h.certificates = NewCertificateService(h.store, h.notify, h.publisher)
	h.aggregator = NewAggregator(h.store, h.cache, time.Minute, h.notify)
	return h
}
