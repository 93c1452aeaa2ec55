package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"enrollment-service/internal/models"
	"enrollment-service/internal/service"
	"enrollment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PaymentService is the payment ledger as used by the HTTP layer
type PaymentService interface {
	Initiate(ctx context.Context, userID, courseID int64) (*service.InitiateResult, error)
	HandleCallback(ctx context.Context, kind service.CallbackKind, fields map[string]string) (*service.ApplyResult, error)
	Refund(ctx context.Context, paymentID int64, reason string) (*models.Payment, error)
	Get(ctx context.Context, id, actorID int64, admin bool) (*models.Payment, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Payment, error)
	Statistics(ctx context.Context) (*models.PaymentStatistics, error)
	UserHistory(ctx context.Context, userID int64) (*models.UserPaymentHistory, error)
}

// EnrollmentService is the enrollment state machine as used by the HTTP layer
type EnrollmentService interface {
	UpdateProgress(ctx context.Context, cmd service.ProgressUpdate) (*models.Enrollment, error)
	Cancel(ctx context.Context, id int64) (*models.Enrollment, error)
	Get(ctx context.Context, id, actorID int64, admin bool) (*models.Enrollment, error)
	ListByStudent(ctx context.Context, studentID int64) ([]models.Enrollment, error)
	ListByCourse(ctx context.Context, courseID int64) ([]models.Enrollment, error)
	Statistics(ctx context.Context) (*models.EnrollmentStatistics, error)
	NotifyModuleAvailable(ctx context.Context, courseID int64, moduleName string) (int, error)
}

// CertificateService is the certificate issuer as used by the HTTP layer
type CertificateService interface {
	Generate(ctx context.Context, enrollmentID int64) (*models.Certificate, error)
	Verify(ctx context.Context, number string) (*models.CertificateSummary, error)
	Revoke(ctx context.Context, id int64) (*models.Certificate, error)
	ListByStudent(ctx context.Context, studentID int64, q models.CertificateQuery) ([]models.CertificateView, error)
	Statistics(ctx context.Context, studentID *int64) (*models.CertificateStatistics, error)
}

// Aggregator serves performance and leaderboard views
type Aggregator interface {
	StudentPerformance(ctx context.Context, studentID int64) (*models.StudentPerformance, error)
	CourseLeaderboard(ctx context.Context, courseID int64) ([]models.LeaderboardEntry, error)
	AssignmentMarks(ctx context.Context, courseID int64) ([]models.AssignmentMark, error)
	StudentAssignmentMarks(ctx context.Context, courseID, studentID int64) ([]models.AssignmentMark, error)
	MotivationalMessage(ctx context.Context, studentID int64) (*models.MotivationalMessage, error)
	ReviewSubmission(ctx context.Context, r models.SubmissionReview) (*models.Submission, error)
	FlushLeaderboards(ctx context.Context) (int64, error)
}

// NotificationService is the notification inbox
type NotificationService interface {
	List(ctx context.Context, recipientID int64, q models.NotificationQuery) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, recipientID int64) (*models.Notification, error)
	MarkAllRead(ctx context.Context, recipientID int64) (int64, error)
	UnreadCount(ctx context.Context, recipientID int64) (int, error)
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups what the handlers delegate to
type Services struct {
	Payments      PaymentService
	Enrollments   EnrollmentService
	Certificates  CertificateService
	Aggregator    Aggregator
	Notifications NotificationService
}

// Handler contains HTTP handlers
type Handler struct {
	svc          Services
	auth         *Authenticator
	dependencies map[string]Pinger
}

// NewHandler creates a new HTTP handler. dependencies are pinged by /ready.
func NewHandler(svc Services, auth *Authenticator, dependencies map[string]Pinger) *Handler {
	return &Handler{
		svc:          svc,
		auth:         auth,
		dependencies: dependencies,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// gateway callbacks and verification are public
	v1.POST("/payments/success", h.paymentCallback(service.CallbackSuccess))
	v1.POST("/payments/fail", h.paymentCallback(service.CallbackFail))
	v1.POST("/payments/cancel", h.paymentCallback(service.CallbackCancel))
	v1.POST("/payments/ipn", h.paymentCallback(service.CallbackIPN))
	v1.GET("/certificate/verify/:certificateNumber", h.verifyCertificate)

	authed := v1.Group("", h.auth.RequireAuth())
	{
		authed.POST("/payments/initiate/:courseId", h.initiatePayment)
		authed.GET("/payments/my", h.myPayments)
		authed.GET("/payments/my-history", h.myPaymentHistory)
		authed.GET("/payments/:id", h.getPayment)

		authed.GET("/enrollments/my", h.myEnrollments)
		authed.GET("/enrollments/my-performance", h.myPerformance)
		authed.GET("/enrollments/motivational-message", h.motivationalMessage)
		authed.GET("/enrollments/course/:id/leaderboard", h.courseLeaderboard)
		authed.GET("/enrollments/course/:id/assignment-marks", h.courseAssignmentMarks)
		authed.GET("/enrollments/course/:id/my-assignment-marks", h.myAssignmentMarks)
		authed.GET("/enrollments/:id", h.getEnrollment)
		authed.PATCH("/enrollments/:id/progress", h.updateProgress)

		authed.GET("/certificate/my-certificates", h.myCertificates)
		authed.GET("/certificate/my-certificates/stats", h.myCertificateStats)
		authed.POST("/certificate/generate/:enrollmentId", h.generateCertificate)

		authed.GET("/notifications/my", h.myNotifications)
		authed.GET("/notifications/unread-count", h.unreadCount)
		authed.PATCH("/notifications/mark-all-read", h.markAllRead)
		authed.PATCH("/notifications/:id/read", h.markRead)
	}

	admin := v1.Group("/admin", h.auth.RequireAuth(), RequireAdmin())
	{
		admin.POST("/payments/:id/refund", h.refundPayment)
		admin.GET("/payments/statistics", h.paymentStatistics)
		admin.POST("/enrollments/:id/cancel", h.cancelEnrollment)
		admin.PATCH("/enrollments/:id/progress", h.resetProgress)
		admin.GET("/enrollments/statistics", h.enrollmentStatistics)
		admin.GET("/courses/:id/enrollments", h.courseEnrollments)
		admin.POST("/courses/:id/modules/notify", h.notifyModule)
		admin.POST("/certificates/:id/revoke", h.revokeCertificate)
		admin.GET("/certificates/stats", h.certificateStatistics)
		admin.POST("/submissions/:id/review", h.reviewSubmission)
		admin.POST("/leaderboards/flush", h.flushLeaderboards)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, dep := range h.dependencies {
		if err := dep.Ping(ctx); err != nil {
			failing[name] = err.Error()
		}
	}

	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"failing": failing,
			"time":    time.Now().Unix(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
