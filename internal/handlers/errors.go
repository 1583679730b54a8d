package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"threatlens/internal/apperrors"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   apperrors.Kind `json:"error"`
	Message string         `json:"message"`
}

// respondError maps err onto its status and writes the error body. Server
// side failures are logged; caller mistakes are not.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	kind := apperrors.KindOf(err)
	status := apperrors.HTTPStatus(kind)
	if status >= 500 {
		logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: kind, Message: apperrors.MessageOf(err)})
}

func invalidBody(err error) error {
	return apperrors.Wrap(apperrors.KindValidation, err, "invalid request body: %v", err)
}
