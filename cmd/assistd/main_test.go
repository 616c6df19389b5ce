package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// isolate points config loading at an empty home and a model provider that
// needs no credentials.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ASSISTD_GATEWAY_PROVIDER", "ollama")
	t.Setenv("ASSISTD_GATEWAY_MODEL", "llama3")
	t.Setenv("ASSISTD_TOOLS_WATCH", "false")
	t.Setenv("ASSISTD_LOGGING_LEVEL", "error")
}

func TestMainIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	isolate(t)
	port := freePort(t)
	t.Setenv("ASSISTD_SERVER_PORT", fmt.Sprint(port))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, "")
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	resp, err := http.Get(base + "/api/v1/tools")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	isolate(t)
	t.Setenv("ASSISTD_ORCHESTRATOR_STRATEGY", "telepathy")

	err := run(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestRun_ConfigOutsideAllowedDirs(t *testing.T) {
	isolate(t)

	err := run(context.Background(), "/tmp/assistd-elsewhere.yaml")
	require.Error(t, err)
}
