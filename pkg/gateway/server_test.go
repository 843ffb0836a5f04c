package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rakha/ingat/pkg/cache"
	"github.com/rakha/ingat/pkg/store"
	"github.com/rakha/ingat/pkg/window"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	st, err := store.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	planner, err := window.NewPlanner(10000, 2, zerolog.Nop())
	require.NoError(t, err)

	manager, err := cache.NewManager(cache.Config{
		Store:      st,
		Planner:    planner,
		AutoCreate: true,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	s, err := NewServer(Config{
		Host:          "127.0.0.1",
		Port:          8080,
		SharedSecret:  testSecret,
		Manager:       manager,
		RetentionDays: 30,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(s.server.Handler)
	t.Cleanup(ts.Close)

	return s, ts
}

func doRequest(t *testing.T, ts *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testSecret)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{Port: 8080, SharedSecret: "s"})
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 0})
	assert.Error(t, err)
}

func TestAuth(t *testing.T) {
	_, ts := newTestServer(t)

	t.Run("healthz needs no auth", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("missing token", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/v1/stats")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong token", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/stats", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer wrong")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestTurnFlow(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doRequest(t, ts, http.MethodPost, "/v1/turn", TurnRequest{Content: "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	turn := decodeBody[TurnResponse](t, resp)

	assert.True(t, turn.Created)
	assert.True(t, strings.HasPrefix(turn.SessionID, "sess_"))
	assert.Len(t, turn.Blocks, 1)

	resp = doRequest(t, ts, http.MethodPost, "/v1/reply", ReplyRequest{
		SessionID: turn.SessionID,
		Content:   "hi there",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Listing shows the session with its health.
	resp = doRequest(t, ts, http.MethodGet, "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decodeBody[[]SessionEntry](t, resp)
	require.Len(t, entries, 1)
	assert.Equal(t, turn.SessionID, entries[0].ID)
	assert.Equal(t, 2, entries[0].MessageCount)
	assert.Equal(t, "ok", entries[0].Health)

	// Detail view.
	resp = doRequest(t, ts, http.MethodGet, "/v1/sessions/"+turn.SessionID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decodeBody[SessionDetail](t, resp)
	require.NotNil(t, detail.Session)
	assert.Len(t, detail.Session.Messages, 2)

	// Export.
	resp = doRequest(t, ts, http.MethodGet, "/v1/sessions/"+turn.SessionID+"/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	export := decodeBody[store.ExportRecord](t, resp)
	assert.Equal(t, turn.SessionID, export.Session.ID)

	// Delete, then the session is gone.
	resp = doRequest(t, ts, http.MethodDelete, "/v1/sessions/"+turn.SessionID, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, ts, http.MethodGet, "/v1/sessions/"+turn.SessionID, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTurn_BadRequests(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doRequest(t, ts, http.MethodPost, "/v1/turn", TurnRequest{})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, ts, http.MethodPost, "/v1/reply", ReplyRequest{Content: "x"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, ts, http.MethodPost, "/v1/reply", ReplyRequest{
		SessionID: "sess_missing",
		Content:   "x",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestForceArchive(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doRequest(t, ts, http.MethodPost, "/v1/turn", TurnRequest{Content: "first"})
	turn := decodeBody[TurnResponse](t, resp)

	// Everything is inside the preserved tail.
	resp = doRequest(t, ts, http.MethodPost, "/v1/sessions/"+turn.SessionID+"/archive", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	for i := 0; i < 4; i++ {
		resp = doRequest(t, ts, http.MethodPost, "/v1/turn", TurnRequest{
			SessionID: turn.SessionID,
			Content:   fmt.Sprintf("message %d", i),
		})
		resp.Body.Close()
	}

	resp = doRequest(t, ts, http.MethodPost, "/v1/sessions/"+turn.SessionID+"/archive", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	archived := decodeBody[ArchiveResponse](t, resp)
	require.NotEmpty(t, archived.ArchiveID)

	resp = doRequest(t, ts, http.MethodGet, "/v1/archives/"+archived.ArchiveID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	a := decodeBody[store.Archive](t, resp)
	assert.Equal(t, turn.SessionID, a.SessionID)
	assert.NotEmpty(t, a.Messages)
}

func TestStatsAndCleanup(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doRequest(t, ts, http.MethodPost, "/v1/turn", TurnRequest{Content: "hello"})
	resp.Body.Close()

	resp = doRequest(t, ts, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decodeBody[store.Stats](t, resp)
	assert.Equal(t, 1, st.SessionCount)

	time.Sleep(5 * time.Millisecond)

	zero := 0
	resp = doRequest(t, ts, http.MethodPost, "/v1/cleanup", CleanupRequest{RetentionDays: &zero})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cleanup := decodeBody[CleanupResponse](t, resp)
	assert.Equal(t, 1, cleanup.Deleted)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doRequest(t, ts, http.MethodGet, "/metrics", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ingat_")
}

func TestEventStream(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doRequest(t, ts, http.MethodPost, "/v1/turn", TurnRequest{Content: "hello"})
	turn := decodeBody[TurnResponse](t, resp)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	header := http.Header{"Authorization": []string{"Bearer " + testSecret}}
	conn, wsResp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	if wsResp != nil {
		wsResp.Body.Close()
	}
	defer conn.Close()

	resp = doRequest(t, ts, http.MethodDelete, "/v1/sessions/"+turn.SessionID, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event cache.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, cache.EventSessionDeleted, event.Type)
	assert.Equal(t, turn.SessionID, event.SessionID)
}

func TestShutdownRejectsNewRequests(t *testing.T) {
	s, ts := newTestServer(t)

	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	resp := doRequest(t, ts, http.MethodGet, "/v1/stats", nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
