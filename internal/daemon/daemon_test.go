package daemon

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatline/internal/api"
	"github.com/matheus3301/chatline/internal/config"
	"github.com/matheus3301/chatline/internal/lock"
	"github.com/matheus3301/chatline/internal/session"
	"github.com/matheus3301/chatline/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type fakeGateway struct {
	mu    sync.Mutex
	posts int
}

func (f *fakeGateway) Send(_ context.Context, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case command == "history":
		return `[{"id": 1, "author": "server", "text": "motd", "timestamp": 1000}]`, nil
	case strings.HasPrefix(command, "send "):
		f.posts++
		return `{"id": 2, "timestamp": 2000}`, nil
	default:
		return "", errors.New("unknown command")
	}
}

func startDaemon(t *testing.T, cfg *config.Config) (*api.Client, *MetricsServer, func()) {
	t.Helper()
	// Use a short path to avoid macOS 104-char Unix socket limit.
	tmpDir, err := os.MkdirTemp("/tmp", "chatline-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(tmpDir) })
	t.Setenv(session.HomeEnv, tmpDir)

	socketPath := filepath.Join(tmpDir, "d.sock")
	var ms *MetricsServer
	app := fx.New(
		Module(Params{
			SessionName: "test",
			SocketPath:  socketPath,
			Config:      cfg,
			Gateway:     &fakeGateway{},
			Logger:      zap.NewNop(),
		}),
		fx.Populate(&ms),
		fx.NopLogger,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("start daemon: %v", err)
	}

	c, err := api.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	stop := func() {
		_ = c.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.Stop(ctx); err != nil {
			t.Errorf("stop daemon: %v", err)
		}
	}
	return c, ms, stop
}

func TestDaemonLifecycle(t *testing.T) {
	cfg := config.Default()
	cfg.ServerURL = "http://chat.test"
	c, _, stop := startDaemon(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := c.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if st.Session != "test" {
		t.Errorf("session = %q, want test", st.Session)
	}
	if !st.Syncing {
		t.Error("expected syncing = true after start")
	}

	// The first poll merges the server history.
	deadline := time.Now().Add(2 * time.Second)
	var msgs []store.Message
	for time.Now().Before(deadline) {
		msgs, err = c.ListMessages(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(msgs) != 1 || msgs[0].Body != "motd" {
		t.Fatalf("history = %+v", msgs)
	}

	m, err := c.Send(ctx, "hello", 1, true)
	if err != nil {
		t.Fatalf("Send error = %v", err)
	}
	if m.Status != store.Delivered || m.ServerID != 2 {
		t.Errorf("sent = %+v", m)
	}

	// The lock is held while running.
	if _, held, _ := lock.Holder(session.Dir("test")); !held {
		t.Error("session lock not held while daemon runs")
	}

	stop()

	if _, held, _ := lock.Holder(session.Dir("test")); held {
		t.Error("session lock still held after stop")
	}
	if _, err := os.Stat(session.AppDBPath("test")); err != nil {
		t.Errorf("database missing after stop: %v", err)
	}
}

func TestDaemonRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.PollInterval = config.Duration{}

	t.Setenv(session.HomeEnv, t.TempDir())
	app := fx.New(
		Module(Params{SessionName: "bad", Config: cfg, Gateway: &fakeGateway{}, Logger: zap.NewNop()}),
		fx.NopLogger,
	)
	if err := app.Err(); err == nil {
		t.Error("expected construction error for invalid config")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.ServerURL = "http://chat.test"
	cfg.MetricsAddr = "127.0.0.1:0"
	_, ms, stop := startDaemon(t, cfg)
	defer stop()

	if ms.Addr() == "" {
		t.Fatal("metrics server not bound")
	}
	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get("http://" + ms.Addr() + path)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d", path, resp.StatusCode)
		}
	}
}
