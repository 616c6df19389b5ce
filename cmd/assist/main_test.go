package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/nats-io/nats.go"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/assistd/internal/config"
	"github.com/fyrsmithlabs/assistd/internal/gateway/gatewaytest"
	httpserver "github.com/fyrsmithlabs/assistd/internal/http"
	"github.com/fyrsmithlabs/assistd/internal/logging"
	"github.com/fyrsmithlabs/assistd/internal/orchestrator"
	"github.com/fyrsmithlabs/assistd/internal/runs"
	"github.com/fyrsmithlabs/assistd/internal/services"
	"github.com/fyrsmithlabs/assistd/internal/tui"
)

// isolate points config loading at an empty home directory.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
}

func execute(t *testing.T, c *cli, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(c)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func contactScript() *gatewaytest.Scripted {
	return gatewaytest.New(
		gatewaytest.Reply(`{"goals": "Look up Eric", "plan": ["Find Eric's contact details"]}`),
		gatewaytest.Reply("Tool: get_contact\nArgs: {\"name\": \"Eric\"}"),
		gatewaytest.Reply("COMPLETE. Eric's details were found."),
	)
}

func TestAsk_Text(t *testing.T) {
	isolate(t)
	gw := contactScript()

	out, err := execute(t, &cli{gateway: gw}, "ask", "what", "is", "Eric's", "email?")

	require.NoError(t, err)
	assert.Contains(t, out, "▸ planner")
	assert.Contains(t, out, "goal: Look up Eric")
	assert.Contains(t, out, "1. Find Eric's contact details")
	assert.Contains(t, out, "▸ task_executor")
	assert.Contains(t, out, "Contact info for Eric")
	assert.Contains(t, out, "Answer")
	assert.Contains(t, out, "Eric's details were found.")
	assert.Equal(t, 3, gw.CallCount())
}

func TestAsk_JSON(t *testing.T) {
	isolate(t)

	out, err := execute(t, &cli{gateway: contactScript()}, "ask", "-o", "json", "what is Eric's email?")
	require.NoError(t, err)

	var snaps []orchestrator.Snapshot
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var s orchestrator.Snapshot
		require.NoError(t, json.Unmarshal(sc.Bytes(), &s))
		snaps = append(snaps, s)
	}
	require.NotEmpty(t, snaps)
	assert.Equal(t, orchestrator.NodePlanner, snaps[0].Node)
	last := snaps[len(snaps)-1]
	assert.True(t, last.Terminal())
	assert.Equal(t, orchestrator.FinishComplete, last.Reason)
	assert.Equal(t, 100, last.Progress)
}

func TestAsk_Failure(t *testing.T) {
	isolate(t)
	gw := gatewaytest.New(gatewaytest.Fail(errors.New("provider unavailable")))

	out, err := execute(t, &cli{gateway: gw}, "ask", "hello")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "run failed")
	assert.Contains(t, out, "Error:")
}

func TestAsk_InvalidFlags(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown output", []string{"ask", "-o", "yaml", "hi"}},
		{"blank question", []string{"ask", "   "}},
		{"unknown strategy", []string{"ask", "--strategy", "telepathy", "hi"}},
		{"missing question", []string{"ask"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := gatewaytest.New()
			_, err := execute(t, &cli{gateway: gw}, tt.args...)
			assert.Error(t, err)
			assert.Zero(t, gw.CallCount())
		})
	}
}

func TestAsk_TUIReportsFailure(t *testing.T) {
	isolate(t)
	var shown tea.Model
	c := &cli{
		gateway: gatewaytest.New(),
		program: func(m tea.Model, _ io.Writer) (tea.Model, error) {
			shown = m
			updated, _ := m.Update(tui.SnapshotMsg{Snapshot: orchestrator.Snapshot{
				Node:  orchestrator.NodeEnd,
				Next:  orchestrator.NodeEnd,
				Error: "planning failed",
			}})
			return updated, nil
		},
	}

	_, err := execute(t, c, "ask", "--tui", "hi")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "planning failed")
	assert.IsType(t, tui.Model{}, shown)
}

func TestAsk_TUIProgramError(t *testing.T) {
	isolate(t)
	c := &cli{
		gateway: gatewaytest.New(),
		program: func(m tea.Model, _ io.Writer) (tea.Model, error) {
			return m, errors.New("no tty")
		},
	}

	_, err := execute(t, c, "ask", "--tui", "hi")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal view")
}

func TestTools(t *testing.T) {
	out, err := execute(t, &cli{}, "tools")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	for _, name := range []string{"call_calendar", "get_contact", "send_email", "web_search"} {
		assert.Contains(t, out, name)
	}

	out, err = execute(t, &cli{}, "tools", "-o", "json")
	require.NoError(t, err)
	var list []struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Len(t, list, 4)
	assert.Equal(t, "call_calendar", list[0].Name)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, &cli{}, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "assist dev")
}

// startDaemon serves the HTTP API backed by a scripted gateway.
func startDaemon(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.Tools.Watch = false
	reg, err := services.NewRegistry(t.Context(), cfg, services.Options{Gateway: contactScript()})
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	srv, err := httpserver.NewServer(httpserver.Deps{
		Runs:     reg.Runs(),
		Runner:   reg.Driver(),
		Tools:    reg.Tools(),
		Scrubber: reg.Scrubber(),
		Logger:   logging.NewNop(),
	}, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestRemote_SubmitAndGet(t *testing.T) {
	url := startDaemon(t)
	c := &cli{}

	out, err := execute(t, c, "--server", url, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server Status: ok")

	out, err = execute(t, c, "--server", url, "submit", "what is Eric's email?")
	require.NoError(t, err)
	id, _, ok := strings.Cut(strings.TrimSpace(out), "\t")
	require.True(t, ok, out)
	require.NotEmpty(t, id)

	var detail runs.Detail
	require.Eventually(t, func() bool {
		out, err := execute(t, c, "--server", url, "runs", "get", "-o", "json", id)
		if err != nil {
			return false
		}
		if json.Unmarshal([]byte(out), &detail) != nil {
			return false
		}
		return detail.Status.Finished()
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, runs.StatusCompleted, detail.Status)
	assert.Contains(t, detail.Response, "Eric's details were found.")

	out, err = execute(t, c, "--server", url, "runs", "get", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:   completed (100%)")

	out, err = execute(t, c, "--server", url, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
}

func TestRemote_Errors(t *testing.T) {
	url := startDaemon(t)

	_, err := execute(t, &cli{}, "--server", url, "runs", "get", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "run not found")

	_, err = execute(t, &cli{}, "--server", url, "runs", "cancel", "nope")
	require.Error(t, err)

	_, err = execute(t, &cli{}, "--server", "http://127.0.0.1:1", "health")
	require.Error(t, err)
}

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second))
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestWatch(t *testing.T) {
	isolate(t)
	ns := startTestNATSServer(t)

	pub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(pub.Close)

	var out bytes.Buffer
	root := newRootCmd(&cli{})
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"watch", "--nats-url", ns.ClientURL(), "--subject-prefix", "test.runs", "run-1"})
	baseSubs := ns.NumSubscriptions()
	errCh := make(chan error, 1)
	go func() { errCh <- root.Execute() }()

	require.Eventually(t, func() bool { return ns.NumSubscriptions() > baseSubs }, 5*time.Second, 10*time.Millisecond)

	publish := func(seq uint64, snap orchestrator.Snapshot) {
		data, err := json.Marshal(runs.Event{Seq: seq, RunID: "run-1", At: time.Now(), Snapshot: snap})
		require.NoError(t, err)
		require.NoError(t, pub.Publish(runs.Subject("test.runs", "run-1", snap.Node.String()), data))
	}
	publish(1, orchestrator.Snapshot{Node: orchestrator.NodePlanner, Next: orchestrator.NodeExecutor, Goal: "Say hi", Plan: []string{"greet"}, Progress: 20})
	publish(2, orchestrator.Snapshot{Node: orchestrator.NodeEnd, Next: orchestrator.NodeEnd, Response: "Hello!", Progress: 100})
	require.NoError(t, pub.Flush())

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not finish")
	}
	assert.Contains(t, out.String(), "goal: Say hi")
	assert.Contains(t, out.String(), "Hello!")
}

func TestRenderText(t *testing.T) {
	exec := renderText(orchestrator.Snapshot{
		Node:       orchestrator.NodeExecutor,
		Next:       orchestrator.NodeExecutor,
		Response:   "line one\nline two",
		Progress:   40,
		DurationMS: 1500,
	})
	assert.Contains(t, exec, "task_executor")
	assert.Contains(t, exec, "40%")
	assert.Contains(t, exec, "1.5s")
	assert.Contains(t, exec, "line one line two")

	replan := renderText(orchestrator.Snapshot{
		Node: orchestrator.NodeReplanner, Next: orchestrator.NodeExecutor,
		Plan: []string{"retry search"},
	})
	assert.Contains(t, replan, "1. retry search")

	failed := renderText(orchestrator.Snapshot{Node: orchestrator.NodeEnd, Next: orchestrator.NodeEnd, Error: "boom"})
	assert.Contains(t, failed, "Error:")
	assert.Contains(t, failed, "boom")
}
