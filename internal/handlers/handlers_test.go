package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"datalab-service/internal/cache"
	"datalab-service/internal/database/dbtest"
	"datalab-service/internal/importer"
	"datalab-service/internal/loader"
	"datalab-service/internal/models"
	"datalab-service/internal/registry"
	"datalab-service/internal/tasks"
	"datalab-service/internal/workbook"
	"datalab-service/internal/workbook/workbooktest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type runnerFunc func(ctx context.Context, req importer.Request) (*importer.Result, error)

func (f runnerFunc) Run(ctx context.Context, req importer.Request) (*importer.Result, error) {
	return f(ctx, req)
}

type testServer struct {
	db     *gorm.DB
	reg    *registry.Registry
	queue  *tasks.LocalQueue
	router *gin.Engine
}

func newServer(t *testing.T, runner tasks.Runner) *testServer {
	t.Helper()
	db := dbtest.New(t)
	reg := registry.New()
	cm := cache.NewManager(db, reg, registry.Production, nil)
	cm.Register(cache.InitKey, cache.ComputeInit)
	if runner == nil {
		runner = runnerFunc(func(context.Context, importer.Request) (*importer.Result, error) {
			return &importer.Result{Success: true, Warnings: map[string]string{}}, nil
		})
	}
	queue := tasks.NewLocalQueue(tasks.NewRegistry(db), runner, nil)
	api := NewAPI(db, cm, reg, queue, registry.Production, nil)
	router := gin.New()
	api.RegisterRoutes(router)
	return &testServer{db: db, reg: reg, queue: queue, router: router}
}

// seed loads the structural fixtures and n data rows.
func (s *testServer) seed(t *testing.T, n int) {
	t.Helper()
	wb, err := workbook.Parse("api.xlsx", workbooktest.API(t, n))
	require.NoError(t, err)
	workbook.Normalize(wb, workbook.DefaultNormalizeOptions())
	ctx := context.Background()
	_, err = loader.NewStructural(loader.Overwrite, nil, nil).Load(ctx, s.db, wb, loader.DefaultQueue())
	require.NoError(t, err)
	_, err = loader.NewData("data", nil, nil).Load(ctx, s.db, wb)
	require.NoError(t, err)
}

func (s *testServer) do(method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	s.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) models.APIError {
	t.Helper()
	var apiErr models.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
	return apiErr
}

func TestHealth(t *testing.T) {
	s := newServer(t, nil)
	w := s.do(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHealthStoreDown(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})
	api := NewAPI(db, nil, registry.New(), nil, registry.Production, nil)
	router := gin.New()
	api.RegisterRoutes(router)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, models.ErrorCodeServiceUnavailable, decodeError(t, w).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDataQueryFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT data.code AS id`).WillReturnError(&pq.Error{Code: "57P01", Message: "terminating connection due to administrator command"})
	api := NewAPI(db, nil, registry.New(), nil, registry.Production, nil)
	router := gin.New()
	api.RegisterRoutes(router)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/v1/data?survey=PMA2019_KE_R1", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitServedFromCache(t *testing.T) {
	s := newServer(t, nil)
	s.seed(t, 3)

	w := s.do(http.MethodGet, "/api/v1/datalab/init", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var payload cache.InitPayload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	assert.Len(t, payload.Countries, 2)

	var n int64
	require.NoError(t, s.db.Model(&models.CacheEntry{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestListResource(t *testing.T) {
	s := newServer(t, nil)
	s.seed(t, 0)

	w := s.do(http.MethodGet, "/api/v1/resources/countries", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var countries []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &countries))
	require.Len(t, countries, 2)
	assert.Equal(t, "KE", countries[0]["id"])
	assert.Equal(t, "Kenya", countries[0]["label"])
	assert.Contains(t, countries[0], "order")

	w = s.do(http.MethodGet, "/api/v1/resources/surveys?code=PMA2019_KE_R1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var surveys []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &surveys))
	require.Len(t, surveys, 1)
	assert.Equal(t, "KE", surveys[0]["country"])
}

func TestListResourceRejectsUnknown(t *testing.T) {
	s := newServer(t, nil)

	w := s.do(http.MethodGet, "/api/v1/resources/english_strings", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/v1/resources/countries?region=Africa", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.ErrorCodeInvalidFilter, decodeError(t, w).Code)

	w = s.do(http.MethodGet, "/api/v1/resources/countries?code=KE'%20OR%20'1'='1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestListData(t *testing.T) {
	s := newServer(t, nil)
	s.seed(t, 6)

	w := s.do(http.MethodGet, "/api/v1/data?survey=PMA2019_KE_R1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var rows []DatumView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, "PMA2019_KE_R1", r.Survey)
		assert.Equal(t, NonePlaceholder, r.Char2)
		assert.Equal(t, NonePlaceholder, r.Geography)
	}

	w = s.do(http.MethodGet, "/api/v1/data?color=red", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func multipartFile(t *testing.T, filename string, content []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestUploadAndActivateDataset(t *testing.T) {
	s := newServer(t, nil)

	body, ct := multipartFile(t, "api_data-2024.03.01-v3.xlsx", []byte("first"))
	w := s.do(http.MethodPost, "/api/v1/datasets", body, ct)
	require.Equal(t, http.StatusCreated, w.Code)
	var v models.DatasetVersion
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, 3, v.VersionNumber)

	body, ct = multipartFile(t, "api_data-2024.03.01-v3.xlsx", []byte("different"))
	w = s.do(http.MethodPost, "/api/v1/datasets", body, ct)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.ErrorCodeExistingDataset, decodeError(t, w).Code)

	body, ct = multipartFile(t, "bad name.xlsx", []byte("x"))
	w = s.do(http.MethodPost, "/api/v1/datasets", body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/v1/datasets/"+jsonID(v.ID)+"/activate?env=staging", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	active, err := s.reg.GetActive(s.db, registry.Staging)
	require.NoError(t, err)
	assert.Equal(t, v.ID, active.ID)

	w = s.do(http.MethodPost, "/api/v1/datasets/999/activate", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(http.MethodPost, "/api/v1/datasets/abc/activate", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/datasets", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var listings []registry.Listing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listings))
	require.Len(t, listings, 1)
	assert.True(t, listings[0].IsActiveStaging)
}

func jsonID(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestInitializeAndPollTask(t *testing.T) {
	release := make(chan struct{})
	s := newServer(t, runnerFunc(func(ctx context.Context, req importer.Request) (*importer.Result, error) {
		<-release
		return &importer.Result{Success: true, Warnings: map[string]string{}, SecondsElapsed: 2}, nil
	}))

	w := s.do(http.MethodPost, "/api/v1/datasets/initialize", []byte(`{"overwrite":true,"api_path":"/data/api.xlsx"}`), "application/json")
	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	id := accepted["task_id"]
	require.NotEmpty(t, id)
	assert.Equal(t, "/api/v1/tasks/"+id, w.Header().Get("Location"))

	w = s.do(http.MethodPost, "/api/v1/datasets/initialize", []byte(`{"api_path":"/data/api.xlsx"}`), "application/json")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.ErrorCodeTaskDenied, decodeError(t, w).Code)

	close(release)
	s.queue.Wait()

	w = s.do(http.MethodGet, "/api/v1/tasks/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var st tasks.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, models.TaskSucceeded, st.State)
	require.NotNil(t, st.Result)
	assert.Equal(t, 2, st.Result.SecondsElapsed)

	w = s.do(http.MethodGet, "/api/v1/tasks/unknown", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInitializeValidatesBody(t *testing.T) {
	s := newServer(t, nil)
	w := s.do(http.MethodPost, "/api/v1/datasets/initialize", []byte(`{"overwrite":true}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodPost, "/api/v1/datasets/initialize", []byte(`{"api_path":"a.xlsx","env":"qa"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
