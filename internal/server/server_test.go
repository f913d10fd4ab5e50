package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jakopako/livemon/internal/browser/browsertest"
	"github.com/jakopako/livemon/internal/challenge"
	"github.com/jakopako/livemon/internal/metrics"
	"github.com/jakopako/livemon/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	username string
	gate     *challenge.Gate
	items    []types.Interaction
	feed     chan types.Interaction

	running  atomic.Bool
	stopped  chan struct{}
	stopOnce sync.Once
}

func newFakeRunner(username string) *fakeRunner {
	return &fakeRunner{
		username: username,
		gate:     challenge.NewGate(nil),
		feed:     make(chan types.Interaction, 16),
		stopped:  make(chan struct{}),
	}
}

func (f *fakeRunner) Run(ctx context.Context) error {
	f.running.Store(true)
	defer f.running.Store(false)
	defer close(f.feed)
	select {
	case <-f.stopped:
	case <-ctx.Done():
	}
	return nil
}

func (f *fakeRunner) Stop() {
	f.stopOnce.Do(func() { close(f.stopped) })
}

func (f *fakeRunner) Running() bool { return f.running.Load() }

func (f *fakeRunner) Status() types.MonitorStatus {
	username := f.username
	return types.MonitorStatus{IsRunning: f.Running(), Username: &username, TotalSnapshots: 2}
}

func (f *fakeRunner) Interactions() []types.Interaction { return f.items }

func (f *fakeRunner) Subscribe(buffer int) (<-chan types.Interaction, func()) {
	return f.feed, func() {}
}

func (f *fakeRunner) Gate() *challenge.Gate { return f.gate }

// startAttached runs r in the background the way `run --panel` does.
func startAttached(t *testing.T, s *Server, r *fakeRunner) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(context.Background())
	}()
	t.Cleanup(func() {
		r.Stop()
		<-done
	})
	s.Attach(r)
	require.Eventually(t, r.Running, time.Second, time.Millisecond)
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestStartAndStop(t *testing.T) {
	var created []*fakeRunner
	s := New(":0", WithFactory(func(username string) (Runner, error) {
		r := newFakeRunner(username)
		created = append(created, r)
		return r, nil
	}))
	h := s.Handler()

	rec, body := do(t, h, http.MethodPost, "/api/start", `{"username": " someone "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "someone", body["username"])
	require.Len(t, created, 1)
	require.Eventually(t, created[0].Running, time.Second, time.Millisecond)

	rec, body = do(t, h, http.MethodPost, "/api/start", `{"username": "other"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Len(t, created, 1)

	rec, body = do(t, h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["is_running"])
	assert.Equal(t, "someone", body["username"])
	assert.Equal(t, 2.0, body["total_snapshots"])

	rec, _ = do(t, h, http.MethodPost, "/api/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Eventually(t, func() bool { return !s.busy() }, time.Second, time.Millisecond)

	_, body = do(t, h, http.MethodGet, "/api/status", "")
	assert.Equal(t, false, body["is_running"])
	assert.Nil(t, body["username"])

	rec, _ = do(t, h, http.MethodPost, "/api/stop", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/api/start", `{"username": "other"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, created, 2)
	created[1].Stop()
	s.runs.Wait()
}

func TestStartBadRequests(t *testing.T) {
	tests := []struct {
		name    string
		factory Factory
		body    string
	}{
		{name: "missing username", factory: func(string) (Runner, error) { return newFakeRunner(""), nil }, body: `{}`},
		{name: "blank username", factory: func(string) (Runner, error) { return newFakeRunner(""), nil }, body: `{"username": "  "}`},
		{name: "invalid json", factory: func(string) (Runner, error) { return newFakeRunner(""), nil }, body: `{"username":`},
		{name: "no factory", body: `{"username": "someone"}`},
		{name: "factory error", factory: func(string) (Runner, error) { return nil, errors.New("bad username") }, body: `{"username": "someone"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := New(":0", WithFactory(tc.factory))
			rec, body := do(t, s.Handler(), http.MethodPost, "/api/start", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, false, body["success"])
			assert.False(t, s.busy())
		})
	}
}

func TestStatusWithoutRunner(t *testing.T) {
	s := New(":0")
	rec, body := do(t, s.Handler(), http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["is_running"])
	assert.Nil(t, body["username"])
}

func TestInteractions(t *testing.T) {
	s := New(":0")
	h := s.Handler()

	rec, body := do(t, h, http.MethodGet, "/api/interactions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Empty(t, body["interactions"])

	r := newFakeRunner("someone")
	r.items = []types.Interaction{
		{Type: types.InteractionTypeChat, Username: "a", Content: "<b>hi</b>"},
		{Type: types.InteractionTypeGift, Username: "b", Content: "Rose"},
	}
	s.Attach(r)
	rec, body = do(t, h, http.MethodGet, "/api/interactions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, body["count"])
	assert.Len(t, body["interactions"], 2)
	assert.NotZero(t, body["timestamp"])
	assert.Contains(t, rec.Body.String(), "<b>hi</b>")
}

func TestCaptchaWithoutChallenge(t *testing.T) {
	s := New(":0")
	h := s.Handler()

	rec, body := do(t, h, http.MethodGet, "/api/captcha", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, body["error"])

	rec, body = do(t, h, http.MethodGet, "/api/captcha/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["solved"])
	assert.Equal(t, false, body["has_image"])

	rec, _ = do(t, h, http.MethodPost, "/api/captcha/click", `{"x": 1, "y": 2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCaptchaClick(t *testing.T) {
	s := New(":0")
	h := s.Handler()
	r := newFakeRunner("someone")
	startAttached(t, s, r)

	for _, body := range []string{``, `{"x": 1}`, `{"x": "1", "y": 2}`, `not json`} {
		rec, _ := do(t, h, http.MethodPost, "/api/captcha/click", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec, _ := do(t, h, http.MethodPost, "/api/captcha/click", `{"x": 1, "y": 2}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	b := browsertest.New()
	awaited := make(chan error, 1)
	go func() { awaited <- r.gate.Await(context.Background(), b, 5*time.Second) }()
	require.Eventually(t, r.gate.Pending, time.Second, time.Millisecond)

	rec, body := do(t, h, http.MethodGet, "/api/captcha", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(body["image"].(string), "data:image/png;base64,"))

	rec, body = do(t, h, http.MethodPost, "/api/captcha/click", `{"x": 120.5, "y": 300}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	require.NoError(t, <-awaited)
	assert.Equal(t, [][2]float64{{120.5, 300}}, b.Clicks)

	_, body = do(t, h, http.MethodGet, "/api/captcha/status", "")
	assert.Equal(t, true, body["solved"])
	assert.Equal(t, true, body["has_image"])
}

func TestWebsocketFeed(t *testing.T) {
	s := New(":0")
	r := newFakeRunner("someone")
	startAttached(t, s, r)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	r.feed <- types.Interaction{Type: types.InteractionTypeChat, Username: "a", Content: "hello"}
	var got types.Interaction
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, types.InteractionTypeChat, got.Type)
	assert.Equal(t, "hello", got.Content)

	r.Stop()
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}

func TestWebsocketWithoutRunner(t *testing.T) {
	s := New(":0")
	rec, _ := do(t, s.Handler(), http.MethodGet, "/api/ws", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsAndHealth(t *testing.T) {
	m := metrics.New()
	m.ObserveInteraction(types.Interaction{Type: types.InteractionTypeGift})
	s := New(":0", WithMetrics(m))
	h := s.Handler()

	rec, _ := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `livemon_interactions_total{type="gift"} 1`)

	rec, _ = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	rec, _ = do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/ws")
}

func TestMetricsDisabled(t *testing.T) {
	rec, _ := do(t, New(":0").Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS(t *testing.T) {
	h := New(":0").Handler()

	rec, _ := do(t, h, http.MethodOptions, "/api/start", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = do(t, h, http.MethodGet, "/api/status", "")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeStopsRunnerOnShutdown(t *testing.T) {
	s := New("127.0.0.1:0")
	r := newFakeRunner("someone")
	startAttached(t, s, r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	require.Eventually(t, func() bool { return !r.Running() }, time.Second, time.Millisecond)
}

func TestServeListenError(t *testing.T) {
	l := httptest.NewServer(http.NotFoundHandler())
	defer l.Close()
	s := New(strings.TrimPrefix(l.URL, "http://"))
	err := s.Serve(context.Background())
	require.Error(t, err)
}
