package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"enrollment-service/internal/apperr"
	"enrollment-service/internal/service"

	"github.com/gin-gonic/gin"
)

const maxCallbackBody = 1 << 20

// FieldsFromRequest reads a gateway callback posted as a form or as JSON.
// Malformed bodies become gateway errors.
func FieldsFromRequest(c *gin.Context) (map[string]string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBody)

	if strings.HasPrefix(c.ContentType(), "application/json") {
		var raw map[string]interface{}
		dec := json.NewDecoder(c.Request.Body)
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, apperr.Gateway("callback body is not valid JSON: %v", err)
		}
		fields := make(map[string]string, len(raw))
		for k, v := range raw {
			switch val := v.(type) {
			case nil:
			case string:
				fields[k] = val
			case json.Number:
				fields[k] = val.String()
			default:
				fields[k] = fmt.Sprint(val)
			}
		}
		return fields, nil
	}

	if err := c.Request.ParseMultipartForm(maxCallbackBody); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, apperr.Gateway("callback form is malformed: %v", err)
	}
	fields := make(map[string]string, len(c.Request.PostForm))
	for k, v := range c.Request.PostForm {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	return fields, nil
}

// paymentCallback handles one gateway callback kind
func (h *Handler) paymentCallback(kind service.CallbackKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		fields, err := FieldsFromRequest(c)
		if err != nil {
			respondError(c, err)
			return
		}

		result, err := h.svc.Payments.HandleCallback(c.Request.Context(), kind, fields)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"payment_id": result.Payment.ID,
			"status":     result.Payment.Status,
			"applied":    result.Applied,
		})
	}
}

func (h *Handler) initiatePayment(c *gin.Context) {
	courseID, err := pathID(c, "courseId")
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.svc.Payments.Initiate(c.Request.Context(), currentUser(c).UserID, courseID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) myPayments(c *gin.Context) {
	payments, err := h.svc.Payments.ListByUser(c.Request.Context(), currentUser(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

func (h *Handler) myPaymentHistory(c *gin.Context) {
	history, err := h.svc.Payments.UserHistory(c.Request.Context(), currentUser(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *Handler) getPayment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}

	user := currentUser(c)
	payment, err := h.svc.Payments.Get(c.Request.Context(), id, user.UserID, user.IsAdmin())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

type refundRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

func (h *Handler) refundPayment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var req refundRequest
	if err := bindStrict(c, &req, true); err != nil {
		respondError(c, err)
		return
	}

	payment, err := h.svc.Payments.Refund(c.Request.Context(), id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment)
}

func (h *Handler) paymentStatistics(c *gin.Context) {
	stats, err := h.svc.Payments.Statistics(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
