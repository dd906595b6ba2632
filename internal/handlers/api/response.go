package api

import (
	"net/http"

	"lnwall-gateway/internal/middleware"
	"lnwall-gateway/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorBody struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// responder maps domain errors onto HTTP responses. Only validation errors
// carry details to the client; everything else is reduced to code and message.
type responder struct {
	metrics ErrorRecorder
	logger  *zap.Logger
}

func (r responder) respondOK(c *gin.Context, body interface{}) {
	c.JSON(http.StatusOK, body)
}

func (r responder) respondError(c *gin.Context, err error) {
	domainErr := errors.AsDomainError(err)
	status := errors.GetHTTPStatus(domainErr)
	endpoint := c.FullPath()

	fields := []zap.Field{
		zap.String("endpoint", endpoint),
		zap.Int("status_code", status),
		zap.Int("error_code", domainErr.Code),
		zap.String("request_id", middleware.RequestID(c)),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout {
		r.logger.Error("request failed", fields...)
	} else {
		r.logger.Info("request rejected", fields...)
	}
	if r.metrics != nil {
		r.metrics.RecordError(domainErr.Code, endpoint)
	}

	body := errorBody{
		Code:      domainErr.Code,
		Message:   domainErr.Message,
		RequestID: middleware.RequestID(c),
	}
	if domainErr.Code == errors.CodeValidation {
		body.Details = domainErr.Details
	}
	c.JSON(status, errorResponse{Error: body})
}
