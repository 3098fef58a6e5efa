// ABOUTME: Tests for the HTTP server routes and lifecycle
// ABOUTME: Uses httptest for health, status, event stream and webhook mounting

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nscnavi/leadbridge/internal/conversation"
	"github.com/nscnavi/leadbridge/internal/session"
	"github.com/nscnavi/leadbridge/internal/store"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeSessions struct{ stats session.Stats }

func (f fakeSessions) Stats() session.Stats { return f.stats }

type fakeLedger struct {
	stats   *store.ToolCallStats
	err     error
	pingErr error
}

func (f fakeLedger) Ping(ctx context.Context) error { return f.pingErr }

func (f fakeLedger) GetToolCallStats(ctx context.Context, since *time.Time) (*store.ToolCallStats, error) {
	return f.stats, f.err
}

func TestHealth(t *testing.T) {
	s := New(Config{Logger: discard})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatus(t *testing.T) {
	s := New(Config{
		Frontends: []string{"telegram"},
		Tools:     []string{"create_bitrix24_lead", "create_crm_lead"},
		Sessions:  fakeSessions{stats: session.Stats{Sessions: 3, Threads: 2, InFlight: 1}},
		Ledger:    fakeLedger{stats: &store.ToolCallStats{Total: 5, Succeeded: 4, Leads: 4}},
		Logger:    discard,
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []string{"telegram"}, resp.Frontends)
	assert.Equal(t, []string{"create_bitrix24_lead", "create_crm_lead"}, resp.Tools)
	require.NotNil(t, resp.Sessions)
	assert.Equal(t, 1, resp.Sessions.InFlight)
	require.NotNil(t, resp.ToolCalls)
	assert.Equal(t, int64(4), resp.ToolCalls.Leads)
}

func TestStatus_LedgerErrorIsDegraded(t *testing.T) {
	s := New(Config{Ledger: fakeLedger{err: errors.New("database is locked")}, Logger: discard})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp["status"])
	assert.Equal(t, []any{}, resp["frontends"])
	assert.Equal(t, []any{}, resp["tools"])
	_, hasCalls := resp["tool_calls"]
	assert.False(t, hasCalls)
}

func TestStatus_LedgerPingFailureIsDegraded(t *testing.T) {
	s := New(Config{
		Ledger: fakeLedger{
			stats:   &store.ToolCallStats{Total: 1},
			pingErr: errors.New("sql: database is closed"),
		},
		Logger: discard,
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Nil(t, resp.ToolCalls)
}

func TestWebhookRoute(t *testing.T) {
	called := 0
	s := New(Config{
		Webhooks: map[string]http.Handler{
			"/telegram/webhook": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called++
				w.WriteHeader(http.StatusOK)
			}),
		},
		Logger: discard,
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("{}")))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, called)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/telegram/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, 1, called)
}

const testEventsToken = "events-secret"

func TestEvents_NotMountedWithoutBroadcaster(t *testing.T) {
	s := New(Config{EventsToken: testEventsToken, Logger: discard})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvents_DisabledWithoutToken(t *testing.T) {
	b := conversation.NewEventBroadcaster(discard)
	defer b.Close()
	s := New(Config{Events: b, Logger: discard})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvents_RequiresBearerToken(t *testing.T) {
	b := conversation.NewEventBroadcaster(discard)
	defer b.Close()
	s := New(Config{Events: b, EventsToken: testEventsToken, Logger: discard})

	for name, header := range map[string]string{
		"missing":     "",
		"wrong token": "Bearer nope",
		"wrong type":  "Basic " + testEventsToken,
		"bare token":  testEventsToken,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/events", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
			assert.NotContains(t, rec.Body.String(), "event:")
		})
	}
}

// openEventStream connects to /events and consumes the ": connected" preamble.
func openEventStream(t *testing.T, ctx context.Context, url string) (*http.Response, *bufio.Reader) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testEventsToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)
	_, err = reader.ReadString('\n')
	require.NoError(t, err)
	return resp, reader
}

func TestEvents_Streams(t *testing.T) {
	b := conversation.NewEventBroadcaster(discard)
	defer b.Close()

	srv := httptest.NewServer(New(Config{Events: b, EventsToken: testEventsToken, Logger: discard}).Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp, reader := openEventStream(t, ctx, srv.URL+"/events?user=telegram:1")
	defer resp.Body.Close()

	// Another user's event is filtered out.
	b.Publish(&conversation.RunEvent{Type: conversation.EventRunStarted, UserKey: "telegram:2", RunID: "run_other"})
	b.Publish(&conversation.RunEvent{Type: conversation.EventFinished, UserKey: "telegram:1", RunID: "run_1"})

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: finished\n", line)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "), line)

	var ev conversation.RunEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
	assert.Equal(t, "run_1", ev.RunID)
	assert.Equal(t, "telegram:1", ev.UserKey)
	assert.NotEmpty(t, ev.ID)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(Config{Logger: discard}).Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServe_ShutdownEndsOpenEventStreams(t *testing.T) {
	b := conversation.NewEventBroadcaster(discard)
	defer b.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(Config{Events: b, EventsToken: testEventsToken, Logger: discard}).Serve(ctx, ln)
	}()

	url := "http://" + ln.Addr().String() + "/events"
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, reader := openEventStream(t, context.Background(), url)
	defer resp.Body.Close()

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Less(t, time.Since(start), shutdownTimeout)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not shut down")
	}

	// The stream was terminated cleanly rather than cut.
	_, err = io.ReadAll(reader)
	assert.NoError(t, err)
}

func TestRun_ListenError(t *testing.T) {
	err := New(Config{Addr: "256.0.0.1:bad", Logger: discard}).Run(context.Background())
	assert.Error(t, err)
}
