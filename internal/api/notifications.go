package api

import (
	"net/http"

	"enrollment-service/internal/apperr"
	"enrollment-service/internal/models"

	"github.com/gin-gonic/gin"
)

type notificationListQuery struct {
	UnreadOnly bool `form:"unreadOnly"`
	Limit      int  `form:"limit"`
	Offset     int  `form:"offset"`
}

func (h *Handler) myNotifications(c *gin.Context) {
	var q notificationListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, apperr.Validation("invalid query: %v", err))
		return
	}

	notifications, err := h.svc.Notifications.List(c.Request.Context(), currentUser(c).UserID, models.NotificationQuery{
		UnreadOnly: q.UnreadOnly,
		Limit:      q.Limit,
		Offset:     q.Offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

func (h *Handler) unreadCount(c *gin.Context) {
	count, err := h.svc.Notifications.UnreadCount(c.Request.Context(), currentUser(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": count})
}

func (h *Handler) markRead(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	n, err := h.svc.Notifications.MarkRead(c.Request.Context(), id, currentUser(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) markAllRead(c *gin.Context) {
	updated, err := h.svc.Notifications.MarkAllRead(c.Request.Context(), currentUser(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}
