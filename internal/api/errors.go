package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"enrollment-service/internal/apperr"
	"enrollment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"
)

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindGateway:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(c *gin.Context, err error) (int, gin.H) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		util.WithContext(c.Request.Context(), util.Component("api")).Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		return status, gin.H{"error": "internal server error"}
	}
	return status, gin.H{"error": err.Error(), "kind": kind}
}

func respondError(c *gin.Context, err error) {
	c.JSON(errorBody(c, err))
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errorBody(c, err))
}

// bindStrict decodes a JSON command body, rejecting unknown fields, then runs binding validation.
// An empty body decodes to the zero value when allowEmpty is set.
func bindStrict(c *gin.Context, dst interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return apperr.Validation("invalid request body: %v", err)
		}
	}
	if err := binding.Validator.ValidateStruct(dst); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

func pathID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid %s %q", name, c.Param(name))
	}
	return id, nil
}
