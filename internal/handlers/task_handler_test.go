package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookqueue/hookqueue/internal/config"
	"github.com/hookqueue/hookqueue/internal/middleware"
	"github.com/hookqueue/hookqueue/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeTaskStore mirrors the repository's insert defaults so handler
// assertions see the same task a real insert would produce.
type fakeTaskStore struct {
	mu        sync.Mutex
	tasks     map[int64]*models.Task
	nextID    int64
	insertErr error
	getErr    error
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: map[int64]*models.Task{}, nextID: 1}
}

func (s *fakeTaskStore) Insert(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	if task.Charset == "" {
		task.Charset = models.DefaultCharset
	}
	if task.Enctype == "" {
		task.Enctype = models.DefaultEnctype
	}
	if task.Due.IsZero() {
		task.Due = time.Now().UTC()
	}
	if task.Headers == nil {
		task.Headers = map[string]string{}
	}
	task.ID = s.nextID
	s.nextID++
	now := time.Now().UTC()
	task.Created = now
	task.Modified = now
	clone := *task
	s.tasks[task.ID] = &clone
	return nil
}

func (s *fakeTaskStore) GetByID(ctx context.Context, id int64) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	task, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	clone := *task
	return &clone, nil
}

func (s *fakeTaskStore) stored(id int64) models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tasks[id]
}

type fakePusher struct {
	mu           sync.Mutex
	instructions []string
	err          error
}

func (p *fakePusher) Push(ctx context.Context, instruction string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.instructions = append(p.instructions, instruction)
	return nil
}

func (p *fakePusher) pushed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.instructions...)
}

type fakeAttempts struct {
	byTask map[int64][]*models.DeliveryAttempt
	err    error
}

func (a *fakeAttempts) ListByTask(ctx context.Context, taskID int64, limit int) ([]*models.DeliveryAttempt, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.byTask[taskID], nil
}

// injectApp stands in for the API key middleware.
func injectApp(app *models.Application) gin.HandlerFunc {
	return func(c *gin.Context) {
		if app != nil {
			c.Set(middleware.ContextAppKey, app)
		}
		c.Next()
	}
}

func defaultEnqueueConfig() config.EnqueueConfig {
	return config.EnqueueConfig{DefaultTimeout: 30, ProxyHeaderPrefix: "X-Hook-"}
}

func setupTaskRouter(h *TaskHandler, app *models.Application) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterTaskRoutes(r.Group("/"), h, injectApp(app))
	return r
}

func TestEnqueueValidation(t *testing.T) {
	app := &models.Application{ID: 1, Name: "shop"}
	h := NewTaskHandler(newFakeTaskStore(), &fakePusher{}, &fakeAttempts{}, defaultEnqueueConfig(), testLogger())
	router := setupTaskRouter(h, app)

	tests := []struct {
		name    string
		target  string
		wantMsg string
	}{
		{name: "missing url", target: "/", wantMsg: msgInvalidURL},
		{name: "relative url", target: "/?url=not-a-url", wantMsg: msgInvalidURL},
		{name: "ftp scheme", target: "/?url=ftp%3A%2F%2Fexample.com%2Fhook", wantMsg: msgInvalidURL},
		{name: "non-integer timeout", target: "/?url=https%3A%2F%2Fexample.com%2Fhook&timeout=abc", wantMsg: msgInvalidTimeout},
		{name: "negative timeout", target: "/?url=https%3A%2F%2Fexample.com%2Fhook&timeout=-1", wantMsg: msgInvalidTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader("payload"))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantMsg, resp.Error)
		})
	}
}

func TestEnqueueCreatesTask(t *testing.T) {
	app := &models.Application{ID: 42, Name: "shop"}
	store := newFakeTaskStore()
	pusher := &fakePusher{}
	h := NewTaskHandler(store, pusher, &fakeAttempts{}, defaultEnqueueConfig(), testLogger())
	router := setupTaskRouter(h, app)

	req := httptest.NewRequest(http.MethodPost,
		"/?url=https%3A%2F%2Fexample.com%2Fhook&timeout=45",
		strings.NewReader(`{"event":"signup"}`))
	req.Header.Set("Content-Type", "application/json; charset=iso-8859-1")
	req.Header.Set("X-Hook-Authorization", "Bearer abc")
	req.Header.Set("X-Unrelated", "dropped")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "/tasks/1", w.Header().Get("Location"))

	var resp TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.ID)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "https://example.com/hook", resp.URL)
	assert.Equal(t, 45, resp.Timeout)
	assert.Zero(t, resp.RetryCount)

	stored := store.stored(1)
	assert.Equal(t, int64(42), stored.AppID)
	assert.Equal(t, []byte(`{"event":"signup"}`), stored.Body)
	assert.Equal(t, "application/json", stored.Enctype)
	assert.Equal(t, "iso-8859-1", stored.Charset)
	assert.Equal(t, map[string]string{"Authorization": "Bearer abc"}, stored.Headers)

	assert.Equal(t, []string{"1:0"}, pusher.pushed())
}

func TestEnqueueAppliesDefaults(t *testing.T) {
	app := &models.Application{ID: 1}
	store := newFakeTaskStore()
	h := NewTaskHandler(store, &fakePusher{}, &fakeAttempts{}, defaultEnqueueConfig(), testLogger())
	router := setupTaskRouter(h, app)

	req := httptest.NewRequest(http.MethodPost, "/?url=https%3A%2F%2Fexample.com%2Fhook", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	stored := store.stored(1)
	assert.Equal(t, 30, stored.Timeout)
	assert.Equal(t, models.DefaultEnctype, stored.Enctype)
	assert.Equal(t, models.DefaultCharset, stored.Charset)
	assert.Empty(t, stored.Headers)
}

func TestEnqueueWithoutApplication(t *testing.T) {
	h := NewTaskHandler(newFakeTaskStore(), &fakePusher{}, &fakeAttempts{}, defaultEnqueueConfig(), testLogger())
	router := setupTaskRouter(h, nil)

	req := httptest.NewRequest(http.MethodPost, "/?url=https%3A%2F%2Fexample.com%2Fhook", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEnqueueSurvivesPushFailure(t *testing.T) {
	app := &models.Application{ID: 1}
	store := newFakeTaskStore()
	pusher := &fakePusher{err: context.DeadlineExceeded}
	h := NewTaskHandler(store, pusher, &fakeAttempts{}, defaultEnqueueConfig(), testLogger())
	router := setupTaskRouter(h, app)

	req := httptest.NewRequest(http.MethodPost, "/?url=https%3A%2F%2Fexample.com%2Fhook", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// The row is durable, so the due scanner will republish it.
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.TaskStatusPending, store.stored(1).Status)
}

func TestEnqueueInsertFailure(t *testing.T) {
	app := &models.Application{ID: 1}
	store := newFakeTaskStore()
	store.insertErr = context.DeadlineExceeded
	h := NewTaskHandler(store, &fakePusher{}, &fakeAttempts{}, defaultEnqueueConfig(), testLogger())
	router := setupTaskRouter(h, app)

	req := httptest.NewRequest(http.MethodPost, "/?url=https%3A%2F%2Fexample.com%2Fhook", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetTask(t *testing.T) {
	app := &models.Application{ID: 1}
	store := newFakeTaskStore()
	require.NoError(t, store.Insert(context.Background(), &models.Task{AppID: 1, URL: "https://example.com/hook"}))
	require.NoError(t, store.Insert(context.Background(), &models.Task{AppID: 2, URL: "https://example.com/other"}))

	h := NewTaskHandler(store, &fakePusher{}, &fakeAttempts{}, defaultEnqueueConfig(), testLogger())
	router := setupTaskRouter(h, app)

	tests := []struct {
		name       string
		target     string
		wantStatus int
	}{
		{name: "own task", target: "/tasks/1", wantStatus: http.StatusOK},
		{name: "foreign task reads as absent", target: "/tasks/2", wantStatus: http.StatusNotFound},
		{name: "missing task", target: "/tasks/999", wantStatus: http.StatusNotFound},
		{name: "garbage id", target: "/tasks/abc", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				var resp TaskResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, int64(1), resp.ID)
				assert.Equal(t, "pending", resp.Status)
			}
		})
	}
}

func TestGetTaskStoreFailure(t *testing.T) {
	app := &models.Application{ID: 1}
	store := newFakeTaskStore()
	store.getErr = context.DeadlineExceeded
	h := NewTaskHandler(store, &fakePusher{}, &fakeAttempts{}, defaultEnqueueConfig(), testLogger())
	router := setupTaskRouter(h, app)

	req := httptest.NewRequest(http.MethodGet, "/tasks/1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetTaskAttempts(t *testing.T) {
	app := &models.Application{ID: 1}
	store := newFakeTaskStore()
	require.NoError(t, store.Insert(context.Background(), &models.Task{AppID: 1, URL: "https://example.com/hook"}))

	code := 503
	attempts := &fakeAttempts{byTask: map[int64][]*models.DeliveryAttempt{
		1: {
			{ID: 2, TaskID: 1, RetryCount: 1, Outcome: "completed", DurationMS: 120},
			{ID: 1, TaskID: 1, RetryCount: 0, Outcome: "rescheduled", StatusCode: &code, DurationMS: 87},
		},
	}}
	h := NewTaskHandler(store, &fakePusher{}, attempts, defaultEnqueueConfig(), testLogger())
	router := setupTaskRouter(h, app)

	req := httptest.NewRequest(http.MethodGet, "/tasks/1/attempts", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		TaskID   int64                     `json:"task_id"`
		Attempts []*models.DeliveryAttempt `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.TaskID)
	require.Len(t, resp.Attempts, 2)
	assert.Equal(t, "completed", resp.Attempts[0].Outcome)
	assert.Equal(t, "rescheduled", resp.Attempts[1].Outcome)
	require.NotNil(t, resp.Attempts[1].StatusCode)
	assert.Equal(t, 503, *resp.Attempts[1].StatusCode)
}

func TestGetTaskAttemptsEmpty(t *testing.T) {
	app := &models.Application{ID: 1}
	store := newFakeTaskStore()
	require.NoError(t, store.Insert(context.Background(), &models.Task{AppID: 1, URL: "https://example.com/hook"}))

	h := NewTaskHandler(store, &fakePusher{}, &fakeAttempts{}, defaultEnqueueConfig(), testLogger())
	router := setupTaskRouter(h, app)

	req := httptest.NewRequest(http.MethodGet, "/tasks/1/attempts", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"attempts":[]`)
}

func TestGetTaskAttemptsListerFailure(t *testing.T) {
	app := &models.Application{ID: 1}
	store := newFakeTaskStore()
	require.NoError(t, store.Insert(context.Background(), &models.Task{AppID: 1, URL: "https://example.com/hook"}))

	h := NewTaskHandler(store, &fakePusher{}, &fakeAttempts{err: context.DeadlineExceeded}, defaultEnqueueConfig(), testLogger())
	router := setupTaskRouter(h, app)

	req := httptest.NewRequest(http.MethodGet, "/tasks/1/attempts", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestBanner(t *testing.T) {
	h := NewTaskHandler(newFakeTaskStore(), &fakePusher{}, &fakeAttempts{}, defaultEnqueueConfig(), testLogger())
	router := setupTaskRouter(h, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hookqueue")
}
