package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tale-weaver-api/internal/config"
	"tale-weaver-api/internal/domain/entity"
	"tale-weaver-api/internal/interfaces/http/handler"
	"tale-weaver-api/internal/interfaces/http/middleware"
	wfmodel "tale-weaver-api/internal/workflow/model"
	apperrors "tale-weaver-api/pkg/errors"
)

type workflowFunc func(ctx context.Context, req *entity.GenerationRequest) *wfmodel.WorkflowOutcome

func (f workflowFunc) Execute(ctx context.Context, req *entity.GenerationRequest) *wfmodel.WorkflowOutcome {
	return f(ctx, req)
}

type fakeJobs struct {
	jobs map[string]*entity.GenerationJob
}

func (f *fakeJobs) Submit(_ context.Context, req *entity.GenerationRequest, key string) (*entity.GenerationJob, bool, error) {
	if err := req.Check(); err != nil {
		return nil, false, err
	}
	for _, j := range f.jobs {
		if key != "" && j.IdempotencyKey == key {
			return j, false, nil
		}
	}
	job := entity.NewGenerationJob("job-1", entity.JobTypeStoryGen, json.RawMessage(`{}`))
	job.IdempotencyKey = key
	f.jobs[job.ID] = job
	return job, true, nil
}

func (f *fakeJobs) Get(_ context.Context, id string) (*entity.GenerationJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, apperrors.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobs) Cancel(ctx context.Context, id string) (*entity.GenerationJob, error) {
	job, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == entity.JobStatusCompleted {
		return nil, apperrors.ErrConflict.WithDetail("job already completed")
	}
	job.Cancel()
	return job, nil
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, int, error) {
	l.keys = append(l.keys, key)
	return l.allow, 0, l.err
}

type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.Name = "tale-weaver-api"
	cfg.Observability.Metrics.Enabled = true
	cfg.Observability.Metrics.Path = "/metrics"
	cfg.Security.RateLimit = config.RateLimitConfig{Enabled: true, Limit: 5, Window: time.Minute}
	return cfg
}

const validBody = `{"mode":"single","characters":[{"name":"Luna"}],"moral":"sharing","language":"en","duration_minutes":3}`

func newEngine(wf workflowFunc, jobs *fakeJobs, limiter *fakeLimiter, health map[string]handler.HealthChecker) *gin.Engine {
	deps := Deps{
		Story:   handler.NewStoryHandler(wf),
		Health:  handler.NewHealthHandler("test", health),
		RateKey: func(c *gin.Context) string { return "rl:" + c.FullPath() },
	}
	if jobs != nil {
		deps.Jobs = handler.NewJobHandler(jobs)
	}
	if limiter != nil {
		deps.Limiter = limiter
	}
	return New(testConfig(), deps).Engine()
}

func do(e *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code    int                     `json:"code"`
	Message string                  `json:"message"`
	Data    wfmodel.WorkflowOutcome `json:"data"`
}

func TestGenerateStory_StatusMapping(t *testing.T) {
	cases := []struct {
		name    string
		outcome *wfmodel.WorkflowOutcome
		status  int
	}{
		{"accepted", &wfmodel.WorkflowOutcome{Status: wfmodel.OutcomeAccepted, Accepted: &wfmodel.AcceptedOutcome{Title: "T", Content: "C", QualityScore: 8}}, http.StatusOK},
		{"rejected", &wfmodel.WorkflowOutcome{Status: wfmodel.OutcomeRejected, Rejected: &wfmodel.RejectedOutcome{Reasons: []string{"ip"}, Code: wfmodel.ValidationIPReference}}, http.StatusUnprocessableEntity},
		{"validation unavailable", &wfmodel.WorkflowOutcome{Status: wfmodel.OutcomeRejected, Rejected: &wfmodel.RejectedOutcome{Reasons: []string{"classifier timed out"}, Code: wfmodel.ValidationServiceUnavailable}}, http.StatusServiceUnavailable},
		{"generation failed", &wfmodel.WorkflowOutcome{Status: wfmodel.OutcomeFailed, Failed: &wfmodel.FailedOutcome{Error: "story generation failed after 3 rounds", Code: string(apperrors.CodeGenerationFailed)}}, http.StatusBadGateway},
		{"internal", &wfmodel.WorkflowOutcome{Status: wfmodel.OutcomeFailed, Failed: &wfmodel.FailedOutcome{Error: "boom", Code: string(apperrors.CodeInternalError)}}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.outcome.Diagnostics = &wfmodel.Diagnostics{Rounds: 1}
			e := newEngine(func(_ context.Context, req *entity.GenerationRequest) *wfmodel.WorkflowOutcome {
				assert.Equal(t, "Luna", req.Characters[0].Name)
				return tc.outcome
			}, nil, nil, nil)

			w := do(e, http.MethodPost, "/v1/stories/generate", validBody, nil)
			require.Equal(t, tc.status, w.Code, w.Body.String())

			var env envelope
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
			assert.Equal(t, tc.outcome.Status, env.Data.Status)
			assert.Nil(t, env.Data.Diagnostics, "diagnostics are opt-in")
			assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
		})
	}
}

func TestGenerateStory_DiagnosticsOptIn(t *testing.T) {
	e := newEngine(func(context.Context, *entity.GenerationRequest) *wfmodel.WorkflowOutcome {
		return &wfmodel.WorkflowOutcome{Status: wfmodel.OutcomeAccepted, Accepted: &wfmodel.AcceptedOutcome{}, Diagnostics: &wfmodel.Diagnostics{Rounds: 2}}
	}, nil, nil, nil)

	w := do(e, http.MethodPost, "/v1/stories/generate?diagnostics=true", validBody, nil)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NotNil(t, env.Data.Diagnostics)
	assert.Equal(t, 2, env.Data.Diagnostics.Rounds)
}

func TestGenerateStory_BadBody(t *testing.T) {
	called := false
	e := newEngine(func(context.Context, *entity.GenerationRequest) *wfmodel.WorkflowOutcome {
		called = true
		return nil
	}, nil, nil, nil)

	for _, body := range []string{`{`, `{"mode":"triple"}`, `{"mode":"single","characters":[],"moral":"x","language":"en","duration_minutes":1}`} {
		w := do(e, http.MethodPost, "/v1/stories/generate", body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.False(t, called)
}

func TestRateLimit(t *testing.T) {
	wf := func(context.Context, *entity.GenerationRequest) *wfmodel.WorkflowOutcome {
		return &wfmodel.WorkflowOutcome{Status: wfmodel.OutcomeAccepted, Accepted: &wfmodel.AcceptedOutcome{}}
	}

	limiter := &fakeLimiter{allow: false}
	w := do(newEngine(wf, nil, limiter, nil), http.MethodPost, "/v1/stories/generate", validBody, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, []string{"rl:/v1/stories/generate"}, limiter.keys)

	broken := &fakeLimiter{err: errors.New("redis down")}
	w = do(newEngine(wf, nil, broken, nil), http.MethodPost, "/v1/stories/generate", validBody, nil)
	assert.Equal(t, http.StatusOK, w.Code, "limiter failures fail open")
}

func TestJobs(t *testing.T) {
	jobs := &fakeJobs{jobs: map[string]*entity.GenerationJob{}}
	e := newEngine(nil, jobs, nil, nil)

	w := do(e, http.MethodPost, "/v1/jobs", validBody, map[string]string{"Idempotency-Key": "k1"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"id":"job-1"`)
	assert.Contains(t, w.Body.String(), `"status":"pending"`)

	w = do(e, http.MethodPost, "/v1/jobs", validBody, map[string]string{"Idempotency-Key": "k1"})
	assert.Equal(t, http.StatusOK, w.Code)

	dual := `{"mode":"dual","characters":[{"name":"Luna"}],"moral":"sharing","language":"en","duration_minutes":3}`
	w = do(e, http.MethodPost, "/v1/jobs", dual, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(e, http.MethodGet, "/v1/jobs/job-1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(e, http.MethodGet, "/v1/jobs/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(e, http.MethodPost, "/v1/jobs/job-1/cancel", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cancelled":true`)

	jobs.jobs["done"] = &entity.GenerationJob{ID: "done", Status: entity.JobStatusCompleted}
	w = do(e, http.MethodPost, "/v1/jobs/done/cancel", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	ok := healthFunc(func(context.Context) error { return nil })
	down := healthFunc(func(context.Context) error { return errors.New("connection refused") })

	e := newEngine(nil, nil, nil, map[string]handler.HealthChecker{"redis": ok, "postgres": ok})
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/live", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/ready", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/metrics", "", nil).Code)

	e = newEngine(nil, nil, nil, map[string]handler.HealthChecker{"redis": down, "postgres": nil})
	w := do(e, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
	assert.Contains(t, w.Body.String(), `"missing"`)
}

func TestRecovery(t *testing.T) {
	e := New(testConfig(), Deps{}).Engine()
	e.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := do(e, http.MethodGet, "/boom", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}
