package api

import (
	"net/http"

	"enrollment-service/internal/models"
	"enrollment-service/internal/service"

	"github.com/gin-gonic/gin"
)

type progressRequest struct {
	Progress *int `json:"progress" binding:"required"`
}

type reviewRequest struct {
	Marks    *int   `json:"marks" binding:"required"`
	Feedback string `json:"feedback" binding:"max=5000"`
	Status   string `json:"status" binding:"required,oneof=reviewed approved rejected"`
}

type moduleRequest struct {
	ModuleName string `json:"module_name" binding:"required,max=200"`
}

func (h *Handler) myEnrollments(c *gin.Context) {
	enrollments, err := h.svc.Enrollments.ListByStudent(c.Request.Context(), currentUser(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrollments": enrollments})
}

func (h *Handler) getEnrollment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	user := currentUser(c)
	enrollment, err := h.svc.Enrollments.Get(c.Request.Context(), id, user.UserID, user.IsAdmin())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, enrollment)
}

func (h *Handler) updateProgress(c *gin.Context) {
	h.applyProgress(c, false)
}

func (h *Handler) resetProgress(c *gin.Context) {
	h.applyProgress(c, true)
}

func (h *Handler) applyProgress(c *gin.Context, reset bool) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var req progressRequest
	if err := bindStrict(c, &req, false); err != nil {
		respondError(c, err)
		return
	}

	enrollment, err := h.svc.Enrollments.UpdateProgress(c.Request.Context(), service.ProgressUpdate{
		EnrollmentID: id,
		ActorID:      currentUser(c).UserID,
		Progress:     *req.Progress,
		Reset:        reset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, enrollment)
}

func (h *Handler) cancelEnrollment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	enrollment, err := h.svc.Enrollments.Cancel(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, enrollment)
}

func (h *Handler) enrollmentStatistics(c *gin.Context) {
	stats, err := h.svc.Enrollments.Statistics(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) courseEnrollments(c *gin.Context) {
	courseID, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	enrollments, err := h.svc.Enrollments.ListByCourse(c.Request.Context(), courseID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrollments": enrollments})
}

func (h *Handler) notifyModule(c *gin.Context) {
	courseID, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var req moduleRequest
	if err := bindStrict(c, &req, false); err != nil {
		respondError(c, err)
		return
	}

	sent, err := h.svc.Enrollments.NotifyModuleAvailable(c.Request.Context(), courseID, req.ModuleName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notified": sent})
}

func (h *Handler) myPerformance(c *gin.Context) {
	perf, err := h.svc.Aggregator.StudentPerformance(c.Request.Context(), currentUser(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, perf)
}

func (h *Handler) motivationalMessage(c *gin.Context) {
	msg, err := h.svc.Aggregator.MotivationalMessage(c.Request.Context(), currentUser(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) courseLeaderboard(c *gin.Context) {
	courseID, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	entries, err := h.svc.Aggregator.CourseLeaderboard(c.Request.Context(), courseID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"course_id": courseID, "leaderboard": entries})
}

func (h *Handler) courseAssignmentMarks(c *gin.Context) {
	courseID, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	marks, err := h.svc.Aggregator.AssignmentMarks(c.Request.Context(), courseID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marks": marks})
}

func (h *Handler) myAssignmentMarks(c *gin.Context) {
	courseID, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	marks, err := h.svc.Aggregator.StudentAssignmentMarks(c.Request.Context(), courseID, currentUser(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marks": marks})
}

func (h *Handler) reviewSubmission(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var req reviewRequest
	if err := bindStrict(c, &req, false); err != nil {
		respondError(c, err)
		return
	}

	sub, err := h.svc.Aggregator.ReviewSubmission(c.Request.Context(), models.SubmissionReview{
		SubmissionID: id,
		Marks:        *req.Marks,
		Feedback:     req.Feedback,
		Status:       req.Status,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (h *Handler) flushLeaderboards(c *gin.Context) {
	n, err := h.svc.Aggregator.FlushLeaderboards(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flushed": n})
}
