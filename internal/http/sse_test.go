package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/assistd/internal/gateway/gatewaytest"
	"github.com/fyrsmithlabs/assistd/internal/logging"
	"github.com/fyrsmithlabs/assistd/internal/orchestrator"
	"github.com/fyrsmithlabs/assistd/internal/runs"
	"github.com/fyrsmithlabs/assistd/internal/secrets"
	"github.com/fyrsmithlabs/assistd/internal/tools"
)

type frame struct {
	event string
	data  runs.Event
}

// parseFrames decodes an event-stream body. Comment lines are dropped.
func parseFrames(t *testing.T, body string) []frame {
	t.Helper()
	var out []frame
	for _, block := range strings.Split(body, "\n\n") {
		var f frame
		var data string
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				f.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		}
		if f.event == "" {
			continue
		}
		require.NoError(t, json.Unmarshal([]byte(data), &f.data))
		out = append(out, f)
	}
	return out
}

func eventNames(frames []frame) []string {
	names := make([]string, len(frames))
	for i, f := range frames {
		names[i] = f.event
	}
	return names
}

func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

// serveAsync runs a request on its own goroutine. The returned func waits
// for the handler to return and hands back the recorder.
func serveAsync(t *testing.T, h http.Handler, req *http.Request) func() *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(rec, req)
	}()
	return func() *httptest.ResponseRecorder {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("handler did not return")
		}
		return rec
	}
}

func TestHandleStream_DrivesRunInline(t *testing.T) {
	gw := gatewaytest.New(
		gatewaytest.Reply(`{"goals": "Greet", "plan": ["Say hi"]}`),
		gatewaytest.Reply("Hello there."),
		gatewaytest.Reply("The task is COMPLETE."),
	)
	driver, err := orchestrator.NewDriver(orchestrator.Config{
		Gateway:      gw,
		Tools:        tools.NewRegistry(tools.Builtins(nil)...),
		DefaultModel: "test-model",
		Logger:       logging.NewNop(),
	})
	require.NoError(t, err)
	server := setupTestServer(t, driver)

	rec := server.do(t, http.MethodPost, "/api/v1/runs/stream", `{"question":"say hi"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	frames := parseFrames(t, rec.Body.String())
	assert.Equal(t, []string{"planner", "task_executor", "project_updater", "end"}, eventNames(frames))
	for i, f := range frames {
		assert.Equal(t, uint64(i+1), f.data.Seq)
		assert.Equal(t, frames[0].data.RunID, f.data.RunID)
	}
	last := frames[len(frames)-1].data.Snapshot
	assert.Equal(t, "The task is COMPLETE.", last.Response)
	assert.Equal(t, orchestrator.FinishComplete, last.Reason)
	assert.Equal(t, 3, gw.CallCount())
}

func TestHandleStream_CancelledRequestMakesNoCalls(t *testing.T) {
	gw := gatewaytest.New(gatewaytest.Reply(`{"goals": "g", "plan": ["a"]}`))
	driver, err := orchestrator.NewDriver(orchestrator.Config{
		Gateway:      gw,
		DefaultModel: "test-model",
		Logger:       logging.NewNop(),
	})
	require.NoError(t, err)
	server := setupTestServer(t, driver)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/stream", bytes.NewBufferString(`{"question":"hi"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	frames := parseFrames(t, rec.Body.String())
	require.Len(t, frames, 1)
	assert.Equal(t, "end", frames[0].event)
	assert.NotEmpty(t, frames[0].data.Snapshot.Error)
	assert.Zero(t, gw.CallCount())
}

func TestHandleStream_ScrubsSecrets(t *testing.T) {
	key := "sk-" + strings.Repeat("a1B2", 10)
	server := setupTestServer(t,
		scripted(orchestrator.Snapshot{Node: orchestrator.NodeEnd, Next: orchestrator.NodeEnd, Response: "your key is " + key}),
		func(d *Deps, _ *Config) { d.Scrubber = secrets.MustNew(secrets.DefaultConfig()) },
	)

	rec := server.do(t, http.MethodPost, "/api/v1/runs/stream", `{"question":"hi"}`)

	assert.NotContains(t, rec.Body.String(), key)
	frames := parseFrames(t, rec.Body.String())
	require.Len(t, frames, 1)
	assert.Contains(t, frames[0].data.Snapshot.Response, "[REDACTED]")
	server.logs.AssertLogged(t, zapcore.WarnLevel, "redacted secrets from snapshot")
}

func TestHandleStream_RejectsBlankQuestion(t *testing.T) {
	server := setupTestServer(t, scripted())

	rec := server.do(t, http.MethodPost, "/api/v1/runs/stream", `{"question":""}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEvents_ReplaysFinishedRun(t *testing.T) {
	server := setupTestServer(t, scripted(happySnapshots()...))
	run := server.submit(t, "hello")
	waitDone(t, run)

	rec := server.do(t, http.MethodGet, "/api/v1/runs/"+run.ID()+"/events", "")

	require.Equal(t, http.StatusOK, rec.Code)
	frames := parseFrames(t, rec.Body.String())
	assert.Equal(t, []string{"planner", "task_executor", "end"}, eventNames(frames))
	assert.Equal(t, run.ID(), frames[0].data.RunID)
}

func TestHandleEvents_FollowsRegistry(t *testing.T) {
	release := make(chan struct{})
	server := setupTestServer(t, gated(release), func(_ *Deps, c *Config) {
		c.Heartbeat = 10 * time.Millisecond
	})
	run := server.submit(t, "hello")

	wait := serveAsync(t, server.Handler(), httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID()+"/events", nil))
	time.Sleep(50 * time.Millisecond)
	close(release)
	rec := wait()

	body := rec.Body.String()
	assert.Contains(t, body, ": heartbeat\n\n")
	frames := parseFrames(t, body)
	assert.Equal(t, []string{"planner", "end"}, eventNames(frames))
	assert.Equal(t, "All done.", frames[1].data.Snapshot.Response)
}

func TestHandleEvents_FollowsNATS(t *testing.T) {
	ns := startTestNATSServer(t)
	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	release := make(chan struct{})
	runner := gated(release)
	logs := logging.NewTestLogger()
	manager := runs.NewManager(runner, runs.Options{NATS: nc, Logger: logs.Logger})
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	server, err := NewServer(Deps{Runs: manager, Runner: runner, NATS: nc, Logger: logs.Logger}, nil)
	require.NoError(t, err)

	run, err := manager.Start(context.Background(), "hello", "")
	require.NoError(t, err)

	subs := nc.NumSubscriptions()
	wait := serveAsync(t, server.Handler(), httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID()+"/events", nil))
	require.Eventually(t, func() bool {
		return nc.NumSubscriptions() > subs
	}, 5*time.Second, 5*time.Millisecond)
	close(release)
	rec := wait()

	frames := parseFrames(t, rec.Body.String())
	assert.Equal(t, []string{"planner", "end"}, eventNames(frames))
	assert.Equal(t, uint64(1), frames[0].data.Seq)
	assert.Equal(t, uint64(2), frames[1].data.Seq)
	// The subscription is dropped once the stream closes.
	assert.Equal(t, subs, nc.NumSubscriptions())
}

func TestHandleEvents_ClientGoneStopsFollowing(t *testing.T) {
	server := setupTestServer(t, gated(make(chan struct{})))
	run := server.submit(t, "hello")

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID()+"/events", nil).WithContext(ctx)
	wait := serveAsync(t, server.Handler(), req)
	time.Sleep(20 * time.Millisecond)
	cancel()
	rec := wait()

	frames := parseFrames(t, rec.Body.String())
	assert.Equal(t, []string{"planner"}, eventNames(frames))
	assert.Equal(t, runs.StatusRunning, run.Status())
}

func TestEventStream_SkipsSentEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	server := setupTestServer(t, scripted())
	c := server.echo.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	st := &eventStream{w: c.Response()}

	evs := []runs.Event{
		{Seq: 1, Snapshot: orchestrator.Snapshot{Node: orchestrator.NodePlanner}},
		{Seq: 2, Snapshot: orchestrator.Snapshot{Node: orchestrator.NodeExecutor}},
	}
	done, err := st.send(evs)
	require.NoError(t, err)
	assert.False(t, done)

	done, err = st.send(append(evs, runs.Event{Seq: 3, Snapshot: orchestrator.Snapshot{Node: orchestrator.NodeEnd}}))
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, uint64(3), st.sent)

	frames := parseFrames(t, rec.Body.String())
	assert.Equal(t, []string{"planner", "task_executor", "end"}, eventNames(frames))
}

func TestWriteEvent_MarshalError(t *testing.T) {
	rec := httptest.NewRecorder()
	server := setupTestServer(t, scripted())
	c := server.echo.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	err := writeEvent(c.Response(), "bad", func() {})

	var unsupported *json.UnsupportedTypeError
	assert.True(t, errors.As(err, &unsupported))
	assert.Empty(t, rec.Body.String())
}
