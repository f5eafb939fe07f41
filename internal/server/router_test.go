package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/steamkeeper/internal/errs"
	"github.com/loykin/steamkeeper/internal/logs"
	"github.com/loykin/steamkeeper/internal/notify"
	"github.com/loykin/steamkeeper/internal/queue"
	"github.com/loykin/steamkeeper/internal/store"
	"github.com/loykin/steamkeeper/internal/supervisor"
)

type fakeQueue struct {
	state   queue.State
	running bool
}

func (f fakeQueue) Snapshot() queue.State { return f.state }
func (f fakeQueue) Running() bool         { return f.running }

type fakeLogs struct {
	entries []logs.Entry
	files   map[string][]string
}

func (f fakeLogs) Page(page, size int) ([]logs.Entry, int) {
	from := (page - 1) * size
	if from >= len(f.entries) {
		return []logs.Entry{}, len(f.entries)
	}
	return f.entries[from:min(from+size, len(f.entries))], len(f.entries)
}

func (f fakeLogs) LastBySource(source string, n int) []logs.Entry {
	var out []logs.Entry
	for _, e := range f.entries {
		if e.Source == source {
			out = append(out, e)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

func (f fakeLogs) ReadFile(day string) ([]string, error) {
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return nil, errors.New("day must be YYYY-MM-DD")
	}
	lines, ok := f.files[day]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return lines, nil
}

type fakeProfiles []store.Profile

func (f fakeProfiles) List() ([]store.Profile, error) { return f, nil }

type fakeRuns struct {
	ids []int
	all bool
}

func (f fakeRuns) Tracked() []int   { return f.ids }
func (f fakeRuns) RunningAll() bool { return f.all }

type fakeScans map[int]int

func (f fakeScans) Failures() map[int]int { return f }

type fakeControl struct {
	pending   map[string]bool
	enqueued  []string
	cancelled bool
}

func (f *fakeControl) Enqueue(_ context.Context, profileID int, appID string, isMainApp bool, _ string) (queue.Item, error) {
	if profileID != 1 {
		return queue.Item{}, fmt.Errorf("profile %d: %w", profileID, errs.ErrNotFound)
	}
	f.enqueued = append(f.enqueued, fmt.Sprintf("%d:%s:%v", profileID, appID, isMainApp))
	return queue.Item{ID: "new", ProfileID: profileID, AppID: appID, Status: queue.StatusPending, IsMainApp: isMainApp}, nil
}

func (f *fakeControl) Dequeue(id string) bool {
	ok := f.pending[id]
	delete(f.pending, id)
	return ok
}

func (f *fakeControl) Clear() int {
	n := len(f.pending)
	f.pending = map[string]bool{}
	return n
}

func (f *fakeControl) Cancel() { f.cancelled = true }

type fakeStopper struct{ calls int }

func (f *fakeStopper) StopAll(context.Context) []supervisor.Result {
	f.calls++
	return []supervisor.Result{
		{ProfileID: 1, AppID: "730", Success: true},
		{ProfileID: 2, AppID: "440", Err: errors.New("kill failed")},
	}
}

func testOptions() Options {
	var entries []logs.Entry
	for i := 0; i < 7; i++ {
		src := "cs2"
		if i%2 == 1 {
			src = "tf2"
		}
		entries = append(entries, logs.Entry{Level: logs.LevelError, Source: src, Message: fmt.Sprintf("line %d", i)})
	}
	return Options{
		Queue: fakeQueue{running: true, state: queue.State{
			Queue: []queue.Item{
				{ID: "a", AppID: "730", Status: queue.StatusProcessing},
				{ID: "b", AppID: "740", Status: queue.StatusPending},
			},
			History: []queue.Item{{ID: "h", AppID: "440", Status: queue.StatusCompleted}},
		}},
		Logs: fakeLogs{entries: entries, files: map[string][]string{
			"2024-05-01": {"2024-05-01 10:00:00 [Error] [cs2] [730] boom"},
		}},
		Profiles: fakeProfiles{{ID: 1, Name: "cs2", AppID: "730", Username: "bob", Password: "enc:v1:xyz"}},
		Runs:     fakeRuns{ids: []int{1}, all: true},
		Scans:    fakeScans{2: 1},
	}
}

func setupRouter(t *testing.T, base string, opts Options) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(opts, base).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := setupRouter(t, "/admin", testOptions())
	rec := doReq(t, h, http.MethodGet, "/admin/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got healthResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, healthResp{OK: true, Running: []int{1}, RunAll: true, QueueRunning: true, QueuePending: 1, ScanFailures: map[int]int{2: 1}}, got)

	rec = doReq(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthzWithoutViews(t *testing.T) {
	h := setupRouter(t, "", Options{})
	rec := doReq(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"running":[],"run_all":false,"queue_running":false,"queue_pending":0}`, rec.Body.String())

	for _, path := range []string{"/api/queue", "/api/logs", "/api/profiles"} {
		rec = doReq(t, h, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
	for _, path := range []string{"/api/queue/cancel", "/api/stop-all"} {
		rec = doReq(t, h, http.MethodPost, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
	rec = doReq(t, h, http.MethodDelete, "/api/queue/x", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestQueueControl(t *testing.T) {
	ctl := &fakeControl{pending: map[string]bool{"a": true, "b": true, "c": true}}
	opts := testOptions()
	opts.Control = ctl
	h := setupRouter(t, "/admin", opts)

	rec := doReq(t, h, http.MethodPost, "/admin/api/queue", enqueueReq{ProfileID: 1})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var it queue.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &it))
	assert.Equal(t, queue.StatusPending, it.Status)

	rec = doReq(t, h, http.MethodPost, "/admin/api/queue", enqueueReq{ProfileID: 1, AppID: "228980"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"1::true", "1:228980:false"}, ctl.enqueued)

	rec = doReq(t, h, http.MethodPost, "/admin/api/queue", enqueueReq{ProfileID: 9})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doReq(t, h, http.MethodPost, "/admin/api/queue", enqueueReq{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doReq(t, h, http.MethodPost, "/admin/api/queue", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, h, http.MethodDelete, "/admin/api/queue/a", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doReq(t, h, http.MethodDelete, "/admin/api/queue/a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doReq(t, h, http.MethodDelete, "/admin/api/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":2}`, rec.Body.String())

	rec = doReq(t, h, http.MethodPost, "/admin/api/queue/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ctl.cancelled)
}

func TestStopAll(t *testing.T) {
	st := &fakeStopper{}
	opts := testOptions()
	opts.Stopper = st
	h := setupRouter(t, "", opts)

	rec := doReq(t, h, http.MethodPost, "/api/stop-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, st.calls)
	assert.JSONEq(t, `[
		{"profile_id":1,"app_id":"730","success":true},
		{"profile_id":2,"app_id":"440","success":false,"error":"kill failed"}
	]`, rec.Body.String())
}

func TestQueueSnapshot(t *testing.T) {
	h := setupRouter(t, "", testOptions())
	rec := doReq(t, h, http.MethodGet, "/api/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st queue.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Len(t, st.Queue, 2)
	assert.Equal(t, queue.StatusProcessing, st.Queue[0].Status)
	require.Len(t, st.History, 1)
	assert.Equal(t, "440", st.History[0].AppID)
}

func TestProfilesHideCredentials(t *testing.T) {
	h := setupRouter(t, "", testOptions())
	rec := doReq(t, h, http.MethodGet, "/api/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "bob")
	assert.NotContains(t, rec.Body.String(), "enc:v1")

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "cs2", got[0]["name"])
	assert.Equal(t, true, got[0]["has_credentials"])
}

func TestLogsPaging(t *testing.T) {
	h := setupRouter(t, "", testOptions())
	rec := doReq(t, h, http.MethodGet, "/api/logs?page=2&size=3", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got logsResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 7, got.Total)
	assert.Equal(t, 2, got.Page)
	assert.Equal(t, 3, got.Size)
	require.Len(t, got.Entries, 3)
	assert.Equal(t, "line 3", got.Entries[0].Message)

	rec = doReq(t, h, http.MethodGet, "/api/logs?source=tf2&size=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Entries, 2)
	for _, e := range got.Entries {
		assert.Equal(t, "tf2", e.Source)
	}

	for _, q := range []string{"page=0", "size=-1", "page=x"} {
		rec = doReq(t, h, http.MethodGet, "/api/logs?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestLogsByDay(t *testing.T) {
	h := setupRouter(t, "", testOptions())
	rec := doReq(t, h, http.MethodGet, "/api/logs?day=2024-05-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got fileResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Lines, 1)
	assert.True(t, strings.Contains(got.Lines[0], "[cs2]"))

	rec = doReq(t, h, http.MethodGet, "/api/logs?day=2024-05-02", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doReq(t, h, http.MethodGet, "/api/logs?day=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := setupRouter(t, "/admin", Options{})
	rec := doReq(t, h, http.MethodGet, "/admin/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventsWebsocket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := notify.NewHub(nil)
	t.Cleanup(hub.Close)
	srv := httptest.NewServer(NewRouter(Options{Events: hub}, "/admin").Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	hub.Broadcast(notify.EventQueue, map[string]int{"pending": 2})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Event string         `json:"event"`
		Data  map[string]int `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, notify.EventQueue, msg.Event)
	assert.Equal(t, 2, msg.Data["pending"])
}

func TestNewServerServes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := NewServer("127.0.0.1:0", "", nil, Options{})
	t.Cleanup(func() { _ = srv.Close() })
	assert.NotNil(t, srv.Handler)
}
