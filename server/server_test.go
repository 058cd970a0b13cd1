package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"craftworker/core/auth"
	"craftworker/core/transcode"
	"craftworker/model"
)

const testJobID = "3f6c1a2e-8b4d-4c1e-9a7f-2d5e6b8c9a01"

type fakeRunner struct {
	mu        sync.Mutex
	requests  []model.JobRequest
	block     bool
	cancelled chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, req model.JobRequest, sink transcode.ProgressSink) model.Ack {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	if r.block {
		<-ctx.Done()
		close(r.cancelled)
		return transcode.ErrorAck(ctx.Err())
	}
	sink.SendProgress(model.Progress{JobID: req.JobID, Percent: 50})
	sink.SendProgress(model.Progress{JobID: req.JobID, Percent: 100})
	return transcode.SuccessAck("craft-7")
}

func (r *fakeRunner) Current() model.JobSnapshot {
	return model.JobSnapshot{JobID: testJobID, State: model.StateMerging}
}

func (r *fakeRunner) Busy() bool { return true }

type fakeBus struct {
	mu     sync.Mutex
	killed []string
	err    error
}

func (b *fakeBus) RequestKill(_ context.Context, jobID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.killed = append(b.killed, jobID)
	return b.err == nil, b.err
}

func (b *fakeBus) Sink(_ context.Context, next transcode.ProgressSink) transcode.ProgressSink {
	return next
}

func (b *fakeBus) kills() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.killed...)
}

func newTestServer(t *testing.T, runner *fakeRunner, bus *fakeBus, verifier *auth.Verifier) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(New(runner, bus, verifier).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/jobs/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Event string          `json:"event"`
	JobID string          `json:"jobId"`
	Data  json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func transcodeFrame(jobID string) map[string]interface{} {
	return map[string]interface{}{
		"event": "transcode",
		"data": map[string]interface{}{
			"jobId": jobID,
			"name":  "Episode",
			"files": []map[string]interface{}{{"id": "a", "kind": "podcast-part"}},
		},
	}
}

func TestJobSocketRunsJob(t *testing.T) {
	runner := &fakeRunner{}
	ts := newTestServer(t, runner, &fakeBus{}, nil)
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(transcodeFrame(testJobID)))

	for _, want := range []float64{50, 100} {
		f := readFrame(t, conn)
		assert.Equal(t, "job-progress-"+testJobID, f.Event)
		var p struct{ Percent float64 }
		require.NoError(t, json.Unmarshal(f.Data, &p))
		assert.Equal(t, want, p.Percent)
	}

	f := readFrame(t, conn)
	assert.Equal(t, "ack", f.Event)
	assert.Equal(t, testJobID, f.JobID)
	var ack model.Ack
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	assert.Equal(t, 201, ack.StatusCode)
	require.NotNil(t, ack.Data)
	assert.Equal(t, "craft-7", ack.Data.CraftID)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Len(t, runner.requests, 1)
	assert.Equal(t, "Episode", runner.requests[0].Name)
}

func TestJobSocketRejectsMalformedRequest(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{}, &fakeBus{}, nil)
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"event": "transcode",
		"data":  map[string]interface{}{"jobId": testJobID, "bogus": true},
	}))

	f := readFrame(t, conn)
	assert.Equal(t, "ack", f.Event)
	assert.Equal(t, testJobID, f.JobID)
	var ack model.Ack
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	assert.Equal(t, 400, ack.StatusCode)
	assert.Equal(t, "PayloadError", ack.ErrorName)
}

func TestJobSocketKillEvent(t *testing.T) {
	bus := &fakeBus{}
	ts := newTestServer(t, &fakeRunner{}, bus, nil)
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(map[string]string{"event": "kill-job-" + testJobID}))

	require.Eventually(t, func() bool { return len(bus.kills()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, testJobID, bus.kills()[0])
}

func TestJobSocketDisconnectCancelsJob(t *testing.T) {
	runner := &fakeRunner{block: true, cancelled: make(chan struct{})}
	ts := newTestServer(t, runner, &fakeBus{}, nil)
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(transcodeFrame(testJobID)))
	require.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return len(runner.requests) == 1
	}, 5*time.Second, 10*time.Millisecond)

	conn.Close()

	select {
	case <-runner.cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not cancelled on disconnect")
	}
}

func TestKillEndpoint(t *testing.T) {
	bus := &fakeBus{}
	ts := newTestServer(t, &fakeRunner{}, bus, nil)

	resp, err := http.Post(ts.URL+"/v1/jobs/"+testJobID+"/kill", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body killResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Delivered)
	assert.Equal(t, []string{testJobID}, bus.kills())

	bad, err := http.Post(ts.URL+"/v1/jobs/nope/kill", "application/json", nil)
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestCurrentAndHealth(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{}, &fakeBus{}, nil)

	resp, err := http.Get(ts.URL + "/v1/jobs/current")
	require.NoError(t, err)
	var cur currentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cur))
	resp.Body.Close()
	assert.True(t, cur.Busy)
	assert.Equal(t, model.StateMerging, cur.Job.State)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthMiddleware(t *testing.T) {
	verifier := auth.NewVerifier("test-secret")
	ts := newTestServer(t, &fakeRunner{}, &fakeBus{}, verifier)

	resp, err := http.Get(ts.URL + "/v1/jobs/current")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := verifier.GenerateToken("scheduler", []string{"jobs"}, time.Minute)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/jobs/current", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/v1/jobs/current?token=" + token)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthMiddlewareStoresSubject(t *testing.T) {
	verifier := auth.NewVerifier("test-secret")
	s := New(&fakeRunner{}, &fakeBus{}, verifier)
	token, err := verifier.GenerateToken("scheduler", nil, time.Minute)
	require.NoError(t, err)

	var got string
	var found bool
	h := s.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		got, found = SubjectFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/current", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h(httptest.NewRecorder(), req)

	assert.True(t, found)
	assert.Equal(t, "scheduler", got)

	_, found = SubjectFromContext(context.Background())
	assert.False(t, found)
}
