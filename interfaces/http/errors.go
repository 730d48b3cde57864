package http

import (
	"errors"
	"net/http"

	"crosspost/domain/model"
	"crosspost/infrastructure/logger"

	"github.com/gin-gonic/gin"
)

// writeError maps domain errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case model.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrRecordNotFound), errors.Is(err, model.ErrDestinationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case model.IsInfrastructure(err):
		logger.GetLogger().WithField("error", err).WithField("path", c.FullPath()).Error("Dependency failure")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable, retry later"})
	default:
		logger.GetLogger().WithField("error", err).WithField("path", c.FullPath()).Error("Unhandled error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
