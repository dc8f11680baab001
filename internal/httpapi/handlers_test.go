package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shovelend/pond/internal/domain"
	"github.com/shovelend/pond/internal/httpapi"
	"github.com/shovelend/pond/internal/queueproducer"
	"github.com/shovelend/pond/internal/registry"
	"github.com/shovelend/pond/internal/submission"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProducer struct {
	mu       sync.Mutex
	enqueued []*domain.Job
	status   queueproducer.Status
}

func (f *fakeProducer) Enqueue(ctx context.Context, job *domain.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, job)
	return nil
}
func (f *fakeProducer) Suspend(ctx context.Context) error { return nil }
func (f *fakeProducer) Resume(ctx context.Context) error  { return nil }
func (f *fakeProducer) Status(ctx context.Context) (queueproducer.Status, error) {
	return f.status, nil
}
func (f *fakeProducer) Filter(ctx context.Context, pred func([]byte) bool) ([][]byte, error) {
	return nil, nil
}

func setupRouter(t *testing.T) (*gin.Engine, *fakeProducer) {
	t.Helper()
	reg := registry.New()
	pool := domain.Local("p1")
	reg.Create(pool)
	fp := &fakeProducer{status: queueproducer.Status{Depth: 0}}
	reg.Join(pool, domain.RoleQueues, registry.Member{ID: "q1", Value: fp})

	api := submission.New(reg, zap.NewNop())
	router := httpapi.NewRouter(httpapi.RouterDeps{
		API:             api,
		Logger:          zap.NewNop(),
		RateLimitPerMin: 1000,
	})
	return router, fp
}

func TestSubmitHandlerEnqueuesJob(t *testing.T) {
	router, fp := setupRouter(t)

	body, _ := json.Marshal(map[string]any{"method": "increment", "reply": true})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pools/p1/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, fp.enqueued, 1)
	require.Equal(t, "increment", fp.enqueued[0].Task.Method)
	require.NotNil(t, fp.enqueued[0].From)
}

func TestSubmitHandlerRejectsMissingMethod(t *testing.T) {
	router, _ := setupRouter(t)

	body, _ := json.Marshal(map[string]any{"reply": false})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pools/p1/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitHandlerUnknownPoolFails(t *testing.T) {
	router, _ := setupRouter(t)

	body, _ := json.Marshal(map[string]any{"method": "increment"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pools/missing/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusHandlerReportsDepth(t *testing.T) {
	router, fp := setupRouter(t)
	fp.status = queueproducer.Status{Depth: 3}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pools/p1/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var status submission.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Equal(t, 3, status.Queue.Depth)
}

func TestSuspendResumeHandlers(t *testing.T) {
	router, _ := setupRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/pools/p1/suspend", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/pools/p1/resume", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
}
