package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"datalab-service/internal/cache"
	"datalab-service/internal/database"
	"datalab-service/internal/models"
	"datalab-service/internal/registry"
	"datalab-service/internal/tasks"
)

// RespondWithError sends a standardized JSON error response.
func RespondWithError(c *gin.Context, httpStatus int, appErrorCode string, message string, details interface{}) {
	c.AbortWithStatusJSON(httpStatus, models.APIError{
		Code:    appErrorCode,
		Message: message,
		Details: details,
	})
}

// RespondWithSuccess sends data as JSON, or only the status when data is nil.
func RespondWithSuccess(c *gin.Context, httpStatus int, data interface{}) {
	if data != nil {
		c.JSON(httpStatus, data)
	} else {
		c.Status(httpStatus)
	}
}

// respondWithErr maps a service error onto an HTTP status and error code.
func (a *API) respondWithErr(c *gin.Context, err error, message string) {
	var (
		existing *models.ExistingDatasetError
		denied   *models.TaskDeniedError
		invalid  *models.ValidationError
		envErr   *models.EnvironmentConfigurationError
	)
	switch {
	case errors.As(err, &existing):
		RespondWithError(c, http.StatusConflict, models.ErrorCodeExistingDataset, err.Error(), gin.H{"name": existing.Name})
	case errors.As(err, &denied):
		RespondWithError(c, http.StatusConflict, models.ErrorCodeTaskDenied, err.Error(), gin.H{"active_task_id": denied.ActiveTaskID})
	case errors.As(err, &invalid):
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, err.Error(), nil)
	case errors.Is(err, registry.ErrVersionNotFound):
		RespondWithError(c, http.StatusNotFound, models.ErrorCodeDatasetNotFound, err.Error(), nil)
	case errors.Is(err, tasks.ErrTaskNotFound):
		RespondWithError(c, http.StatusNotFound, models.ErrorCodeTaskNotFound, err.Error(), nil)
	case errors.Is(err, cache.ErrCacheMiss):
		RespondWithError(c, http.StatusNotFound, models.ErrorCodeCacheMiss, err.Error(), nil)
	case errors.As(err, &envErr):
		a.log.WithError(err).Error(message)
		RespondWithError(c, http.StatusServiceUnavailable, models.ErrorCodeEnvironment, message, nil)
	case database.IsOperational(err):
		a.log.WithError(err).Error(message)
		RespondWithError(c, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, message, nil)
	default:
		a.log.WithError(err).Error(message)
		RespondWithError(c, http.StatusInternalServerError, models.ErrorCodeInternalServerError, message, nil)
	}
}
