package httpapi

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/alejandrodnm/tourneyd/internal/domain"
)

// writeError traduce la taxonomía de errores a status HTTP con un cuerpo estable.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrPreconditionFailed):
		status = http.StatusPreconditionFailed
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
		var rl *domain.RateLimitedError
		if errors.As(err, &rl) {
			secs := int(math.Ceil(rl.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
		}
	case errors.Is(err, domain.ErrTransientIO):
		status = http.StatusServiceUnavailable
	}

	body := gin.H{
		"status":  "error",
		"code":    domain.CloseReason(err),
		"message": err.Error(),
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		body["problems"] = ve.Problems
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.Request.URL.Path, "err", err)
		body["message"] = "internal error"
	}
	c.AbortWithStatusJSON(status, body)
}

// badRequest responde a un cuerpo que no se pudo decodificar.
func badRequest(c *gin.Context, err error) {
	writeError(c, domain.Invalid("malformed request body: %v", err))
}
