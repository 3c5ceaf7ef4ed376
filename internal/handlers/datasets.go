package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"datalab-service/internal/models"
	"datalab-service/internal/registry"
	"datalab-service/internal/tasks"
)

// maxUploadBytes caps a dataset upload.
const maxUploadBytes = 256 << 20

// listDatasetsHandler godoc
// @Summary List dataset versions
// @Description Registered versions plus dataset files found on file storage.
// @Tags datasets
// @Produce json
// @Success 200 {array} registry.Listing
// @Failure 500 {object} models.APIError
// @Router /api/v1/datasets [get]
func (a *API) listDatasetsHandler(c *gin.Context) {
	listings, err := a.registry.List(c.Request.Context(), a.db)
	if err != nil {
		a.respondWithErr(c, err, "Failed to list datasets.")
		return
	}
	if listings == nil {
		listings = []registry.Listing{}
	}
	RespondWithSuccess(c, http.StatusOK, listings)
}

// uploadDatasetHandler godoc
// @Summary Upload a dataset file
// @Description Registers an inactive dataset version. A different file under an existing name is rejected.
// @Tags datasets
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Dataset workbook"
// @Success 201 {object} models.DatasetVersion
// @Failure 400 {object} models.APIError
// @Failure 409 {object} models.APIError
// @Router /api/v1/datasets [post]
func (a *API) uploadDatasetHandler(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "A dataset file is required in the 'file' form field.", gin.H{"reason": err.Error()})
		return
	}
	if _, err := a.registry.Convention().Parse(header.Filename); err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Dataset file name does not follow the naming convention.", gin.H{"reason": err.Error()})
		return
	}
	f, err := header.Open()
	if err != nil {
		a.respondWithErr(c, err, "Failed to read the upload.")
		return
	}
	defer f.Close()
	content, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		a.respondWithErr(c, err, "Failed to read the upload.")
		return
	}

	v, err := a.registry.Upload(c.Request.Context(), a.db, header.Filename, content)
	if err != nil {
		a.respondWithErr(c, err, "Failed to register the dataset.")
		return
	}
	RespondWithSuccess(c, http.StatusCreated, v)
}

// activateDatasetHandler godoc
// @Summary Activate a dataset version
// @Description Makes the version the only active one of the environment.
// @Tags datasets
// @Produce json
// @Param id path int true "Dataset version ID"
// @Param env query string false "production (default) or staging"
// @Success 200 {object} models.DatasetVersion
// @Failure 400 {object} models.APIError
// @Failure 404 {object} models.APIError
// @Router /api/v1/datasets/{id}/activate [post]
func (a *API) activateDatasetHandler(c *gin.Context) {
	idStr := c.Param("id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeInvalidIDFormat, "Invalid dataset version ID.", gin.H{"id": idStr})
		return
	}
	env := a.env
	if raw := c.Query("env"); raw != "" {
		if env, err = registry.ParseEnvironment(raw); err != nil {
			RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, err.Error(), gin.H{"env": raw})
			return
		}
	}

	ctx := c.Request.Context()
	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return a.registry.RegisterActive(tx, uint(id), env)
	})
	if err != nil {
		a.respondWithErr(c, err, "Failed to activate the dataset.")
		return
	}
	if env == a.env && a.cache != nil {
		if err := a.cache.Refresh(ctx); err != nil {
			a.log.WithError(err).Warn("Cache refresh after activation failed")
		}
	}
	v, err := a.registry.Get(a.db.WithContext(ctx), uint(id))
	if err != nil {
		a.respondWithErr(c, err, "Failed to load the dataset.")
		return
	}
	RespondWithSuccess(c, http.StatusOK, v)
}

// initializeHandler godoc
// @Summary Start a dataset import
// @Description Queues an import of server-side workbook files. Only one import may be active.
// @Tags datasets
// @Accept json
// @Produce json
// @Param request body tasks.InitializeRequest true "Import request"
// @Success 202 {object} map[string]string
// @Failure 400 {object} models.APIError
// @Failure 409 {object} models.APIError
// @Router /api/v1/datasets/initialize [post]
func (a *API) initializeHandler(c *gin.Context) {
	var req tasks.InitializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "Invalid request payload", gin.H{"reason": err.Error()})
		return
	}
	if req.APIPath == "" {
		RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, "api_path is required.", nil)
		return
	}
	if req.Env != "" {
		if _, err := registry.ParseEnvironment(req.Env); err != nil {
			RespondWithError(c, http.StatusBadRequest, models.ErrorCodeValidation, err.Error(), gin.H{"env": req.Env})
			return
		}
	}
	if a.queue == nil {
		RespondWithError(c, http.StatusServiceUnavailable, models.ErrorCodeServiceUnavailable, "No task queue is configured.", nil)
		return
	}

	id, err := a.queue.Submit(c.Request.Context(), req)
	if err != nil {
		a.respondWithErr(c, err, "Failed to queue the import.")
		return
	}
	c.Header("Location", "/api/v1/tasks/"+id)
	RespondWithSuccess(c, http.StatusAccepted, gin.H{"task_id": id})
}

// getTaskHandler godoc
// @Summary Poll an import task
// @Tags tasks
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} tasks.Status
// @Failure 404 {object} models.APIError
// @Router /api/v1/tasks/{id} [get]
func (a *API) getTaskHandler(c *gin.Context) {
	if a.queue == nil {
		a.respondWithErr(c, tasks.ErrTaskNotFound, "")
		return
	}
	st, err := a.queue.Poll(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			RespondWithError(c, http.StatusNotFound, models.ErrorCodeTaskNotFound, "Task not found.", gin.H{"id": c.Param("id")})
			return
		}
		a.respondWithErr(c, err, "Failed to poll the task.")
		return
	}
	RespondWithSuccess(c, http.StatusOK, st)
}
