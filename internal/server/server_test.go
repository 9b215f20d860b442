package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/maestro/internal/oracle"
	"github.com/ShayCichocki/maestro/internal/progress"
	"github.com/ShayCichocki/maestro/internal/supervisor"
	"github.com/ShayCichocki/maestro/internal/taskctx"
	"github.com/ShayCichocki/maestro/pkg/models"
)

// stubService fakes the supervisor boundary.
type stubService struct {
	assessFn  func(req supervisor.Request) *oracle.Assessment
	executeFn func(req supervisor.Request, a *oracle.Assessment) *supervisor.Result
	executed  chan supervisor.Request
}

func (s *stubService) Assess(ctx context.Context, req supervisor.Request) *oracle.Assessment {
	if s.assessFn != nil {
		return s.assessFn(req)
	}
	return &oracle.Assessment{Complexity: oracle.ComplexityMedium}
}

func (s *stubService) ExecuteAssessed(ctx context.Context, req supervisor.Request, a *oracle.Assessment) *supervisor.Result {
	if s.executed != nil {
		s.executed <- req
	}
	if s.executeFn != nil {
		return s.executeFn(req, a)
	}
	return &supervisor.Result{SessionID: req.SessionID, Response: "done"}
}

func newTestServer(t *testing.T, svc *stubService) (*Server, *progress.Bus, *taskctx.Store) {
	t.Helper()
	bus := progress.NewBus()
	store := taskctx.New(16, time.Minute)
	srv := New(Config{
		Service:   svc,
		Bus:       bus,
		Store:     store,
		Heartbeat: 50 * time.Millisecond,
	})
	return srv, bus, store
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestSubmitAccepted(t *testing.T) {
	svc := &stubService{executed: make(chan supervisor.Request, 1)}
	srv, _, _ := newTestServer(t, svc)

	w := postJSON(t, srv.Handler(), "/api/tasks", map[string]any{
		"task_description": "do a medium thing",
	})

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["session_id"])
	assert.Equal(t, "accepted", resp["status"])

	select {
	case req := <-svc.executed:
		assert.Equal(t, "do a medium thing", req.Description)
		assert.Equal(t, resp["session_id"], req.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("background execution never started")
	}
}

func TestSubmitDelegatedShortCircuit(t *testing.T) {
	svc := &stubService{
		assessFn: func(req supervisor.Request) *oracle.Assessment {
			return &oracle.Assessment{
				Complexity:         oracle.ComplexityTooSimple,
				ShouldDelegateBack: true,
				Guidance:           "answer directly",
			}
		},
		executeFn: func(req supervisor.Request, a *oracle.Assessment) *supervisor.Result {
			return &supervisor.Result{SessionID: req.SessionID, Delegated: true, Guidance: a.Guidance, Response: a.Guidance}
		},
	}
	srv, _, _ := newTestServer(t, svc)

	w := postJSON(t, srv.Handler(), "/api/tasks", map[string]any{
		"task_description": "capital of France?",
	})

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["delegate_back"])
	assert.Equal(t, "answer directly", resp["guidance"])
}

func TestSubmitStrayDelegateFlagRunsInBackground(t *testing.T) {
	svc := &stubService{
		executed: make(chan supervisor.Request, 1),
		assessFn: func(req supervisor.Request) *oracle.Assessment {
			return &oracle.Assessment{
				Complexity:         oracle.ComplexityComplex,
				ShouldDelegateBack: true,
			}
		},
	}
	srv, _, _ := newTestServer(t, svc)

	w := postJSON(t, srv.Handler(), "/api/tasks", map[string]any{
		"task_description": "complex despite the flag",
	})

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.NotContains(t, w.Body.String(), "delegate_back")

	select {
	case <-svc.executed:
	case <-time.After(2 * time.Second):
		t.Fatal("background execution never started")
	}
}

func TestSubmitRequiresDescription(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubService{})

	w := postJSON(t, srv.Handler(), "/api/tasks", map[string]any{
		"conversation_context": "no task description here",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitPinsProvidedSessionID(t *testing.T) {
	svc := &stubService{executed: make(chan supervisor.Request, 1)}
	srv, _, _ := newTestServer(t, svc)

	w := postJSON(t, srv.Handler(), "/api/tasks", map[string]any{
		"task_description": "pinned",
		"session_id":       "my-session",
	})

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "my-session")

	select {
	case req := <-svc.executed:
		assert.Equal(t, "my-session", req.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("background execution never started")
	}
}

func TestSubmitPlanMode(t *testing.T) {
	svc := &stubService{executed: make(chan supervisor.Request, 1)}
	srv, _, _ := newTestServer(t, svc)

	w := postJSON(t, srv.Handler(), "/api/tasks", map[string]any{
		"task_description": "plan this out",
		"execution_mode":   "plan",
	})

	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case req := <-svc.executed:
		assert.True(t, req.PlanOnly)
	case <-time.After(2 * time.Second):
		t.Fatal("background execution never started")
	}
}

// readSSEEvents consumes the stream until n data events arrived or the body
// closes, returning decoded updates.
func readSSEEvents(t *testing.T, body *bufio.Scanner, n int) []models.ProgressUpdate {
	t.Helper()
	var events []models.ProgressUpdate
	for body.Scan() {
		line := body.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var update models.ProgressUpdate
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &update))
		events = append(events, update)
		if len(events) == n {
			return events
		}
	}
	return events
}

func TestEventStream(t *testing.T) {
	svc := &stubService{}
	srv, bus, _ := newTestServer(t, svc)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/tasks/sess-1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	// Publish once the handler has registered its subscriber.
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for bus.SubscriberCount("sess-1") == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		bus.Emit(models.ProgressUpdate{SessionID: "sess-1", Type: models.ProgressStarted, Message: "off we go"})
		bus.Emit(models.ProgressUpdate{SessionID: "sess-1", Type: models.ProgressTaskStarted, Message: "first task", Progress: 10})
	}()

	events := readSSEEvents(t, bufio.NewScanner(resp.Body), 3)
	require.Len(t, events, 3)

	assert.Equal(t, models.ProgressConnected, events[0].Type)
	assert.Equal(t, uint64(0), events[0].Seq)
	assert.Equal(t, float64(0), events[0].Details["last_seq"])
	assert.Equal(t, float64(1), events[0].Details["subscribers"])

	assert.Equal(t, models.ProgressStarted, events[1].Type)
	assert.Equal(t, uint64(1), events[1].Seq)

	assert.Equal(t, models.ProgressTaskStarted, events[2].Type)
	assert.Equal(t, uint64(2), events[2].Seq)
}

func TestEventStreamHeartbeat(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubService{})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/tasks/sess-hb/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	sawHeartbeat := false
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), ": heartbeat") {
			sawHeartbeat = true
			break
		}
	}
	assert.True(t, sawHeartbeat, "expected a heartbeat comment on an idle stream")
}

func TestContextEndpoint(t *testing.T) {
	srv, _, store := newTestServer(t, &stubService{})

	store.Set("sess-ctx", taskctx.Snapshot{
		Description: "long running job",
		Strategy:    "hierarchical",
		Status:      "running",
		Progress:    40,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/sess-ctx/context", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SessionID string           `json:"session_id"`
		Context   taskctx.Snapshot `json:"context"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "sess-ctx", resp.SessionID)
	assert.Equal(t, "hierarchical", resp.Context.Strategy)
	assert.Equal(t, 40, resp.Context.Progress)
}

func TestContextEndpointUnknownSession(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/nope/context", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(0), resp["events_dropped"])
}
