package api

import (
	"net/http"

	"enrollment-service/internal/apperr"
	"enrollment-service/internal/models"

	"github.com/gin-gonic/gin"
)

type certificateListQuery struct {
	IsActive  *bool  `form:"isActive"`
	SortBy    string `form:"sortBy"`
	SortOrder string `form:"sortOrder"`
	Limit     int    `form:"limit"`
	Offset    int    `form:"offset"`
}

func (h *Handler) verifyCertificate(c *gin.Context) {
	summary, err := h.svc.Certificates.Verify(c.Request.Context(), c.Param("certificateNumber"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "certificate": summary})
}

func (h *Handler) myCertificates(c *gin.Context) {
	var q certificateListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, apperr.Validation("invalid query: %v", err))
		return
	}

	certs, err := h.svc.Certificates.ListByStudent(c.Request.Context(), currentUser(c).UserID, models.CertificateQuery{
		IsActive:  q.IsActive,
		SortBy:    q.SortBy,
		SortOrder: q.SortOrder,
		Limit:     q.Limit,
		Offset:    q.Offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"certificates": certs})
}

func (h *Handler) myCertificateStats(c *gin.Context) {
	studentID := currentUser(c).UserID
	stats, err := h.svc.Certificates.Statistics(c.Request.Context(), &studentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// generateCertificate is the manual path for a completed enrollment whose
// automatic issuance failed. Students may only generate their own.
func (h *Handler) generateCertificate(c *gin.Context) {
	enrollmentID, err := pathID(c, "enrollmentId")
	if err != nil {
		respondError(c, err)
		return
	}

	user := currentUser(c)
	if _, err := h.svc.Enrollments.Get(c.Request.Context(), enrollmentID, user.UserID, user.IsAdmin()); err != nil {
		respondError(c, err)
		return
	}

	cert, err := h.svc.Certificates.Generate(c.Request.Context(), enrollmentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cert)
}

func (h *Handler) revokeCertificate(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	cert, err := h.svc.Certificates.Revoke(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

func (h *Handler) certificateStatistics(c *gin.Context) {
	stats, err := h.svc.Certificates.Statistics(c.Request.Context(), nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
