package chat

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/gateway"
	"github.com/matheus3301/chatline/internal/live"
	"github.com/matheus3301/chatline/internal/outbox"
	"github.com/matheus3301/chatline/internal/status"
	"github.com/matheus3301/chatline/internal/store"
	intsync "github.com/matheus3301/chatline/internal/sync"
	"go.uber.org/zap"
)

// fakeServer answers history polls with a fixed body and acknowledges posts
// with increasing ids. Posts block while hold is set.
type fakeServer struct {
	mu      sync.Mutex
	history string
	nextID  int64
	hold    chan struct{}
	posts   int
	fail    error
}

func (f *fakeServer) Send(ctx context.Context, command string) (string, error) {
	if command == "history" {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.history == "" {
			return "[]", nil
		}
		return f.history, nil
	}

	f.mu.Lock()
	hold, fail := f.hold, f.fail
	f.posts++
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fail != nil {
		return "", fail
	}
	if !strings.HasPrefix(command, "send ") {
		return "echo: " + command, nil
	}
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.mu.Unlock()
	return `{"id": ` + strconv.FormatInt(id, 10) + `}`, nil
}

type fixture struct {
	db      *store.DB
	bus     *bus.Bus
	server  *fakeServer
	session *Session
	machine *status.Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	db = db.WithBus(b)
	logger := zap.NewNop()
	srv := &fakeServer{nextID: 100}
	machine := status.NewMachine(b)
	sender := outbox.NewSender(db, srv, nil, b, outbox.Options{}, logger)
	poller := intsync.NewPoller(db, srv, b, machine, intsync.Options{Interval: time.Hour}, logger)
	s := NewSession(db, sender, poller,
		live.NewHistory(db, b, logger), live.NewReplyCache(db, b, logger), logger)
	return &fixture{db: db, bus: b, server: srv, session: s, machine: machine}
}

func waitFor(t *testing.T, ch <-chan []store.Message, cond func([]store.Message) bool) []store.Message {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msgs := <-ch:
			if cond(msgs) {
				return msgs
			}
		case <-timeout:
			t.Fatal("timed out waiting for history")
		}
	}
}

func TestOpenSweepsStalePending(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		_ = f.db.InsertMessage(&store.Message{Body: "stale", Status: store.Pending})
	}
	_ = f.db.InsertMessage(&store.Message{ServerID: 1, Body: "kept"})

	if err := f.session.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer f.session.Close()

	msgs := f.session.History().Current()
	if len(msgs) != 1 || msgs[0].Body != "kept" {
		t.Errorf("history = %+v", msgs)
	}
	if err := f.session.Open(context.Background()); !errors.Is(err, ErrAlreadyOpen) {
		t.Errorf("second Open error = %v", err)
	}
}

func TestSubmitIsOptimistic(t *testing.T) {
	f := newFixture(t)
	f.server.hold = make(chan struct{})
	if err := f.session.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer f.session.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := f.session.History().Observe(ctx)

	m, err := f.session.Submit(outbox.Draft{Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != store.Pending {
		t.Errorf("submitted status = %s, want PENDING", m.Status)
	}
	waitFor(t, ch, func(msgs []store.Message) bool {
		return len(msgs) == 1 && msgs[0].Status == store.Pending
	})

	close(f.server.hold)
	got := waitFor(t, ch, func(msgs []store.Message) bool {
		return len(msgs) == 1 && msgs[0].Status == store.Delivered
	})
	if got[0].LocalID != m.LocalID || got[0].ServerID != 101 {
		t.Errorf("delivered = %+v", got[0])
	}
}

func TestSubmitCommand(t *testing.T) {
	f := newFixture(t)
	if err := f.session.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer f.session.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := f.session.History().Observe(ctx)

	m, err := f.session.Submit(outbox.Draft{Text: "/whoami"})
	if err != nil || m != nil {
		t.Fatalf("Submit(command) = %v, %v", m, err)
	}
	got := waitFor(t, ch, func(msgs []store.Message) bool { return len(msgs) == 1 })
	if !got[0].IsCommand || got[0].Output != "echo: whoami" {
		t.Errorf("command row = %+v", got[0])
	}
}

func TestSubmitRequiresOpen(t *testing.T) {
	f := newFixture(t)
	if _, err := f.session.Submit(outbox.Draft{Text: "hi"}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("error = %v, want ErrNotOpen", err)
	}
	if _, err := f.session.Submit(outbox.Draft{Text: "/"}); !errors.Is(err, outbox.ErrEmptyDraft) {
		t.Errorf("error = %v, want ErrEmptyDraft", err)
	}
}

func TestCloseWaitsForInflightSends(t *testing.T) {
	f := newFixture(t)
	f.server.hold = make(chan struct{})
	if err := f.session.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.session.Submit(outbox.Draft{Text: "slow"}); err != nil {
		t.Fatal(err)
	}

	closed := make(chan struct{})
	go func() {
		f.session.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned with a send in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(f.server.hold)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	msgs, _ := f.db.ListMessages()
	if len(msgs) != 1 || msgs[0].Status != store.Delivered {
		t.Errorf("rows after close = %+v", msgs)
	}
}

func TestSyncControl(t *testing.T) {
	f := newFixture(t)
	f.server.history = `[{"id": 7, "author": "bob", "text": "hey"}]`
	if err := f.session.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer f.session.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	waitFor(t, f.session.History().Observe(ctx), func(msgs []store.Message) bool { return len(msgs) == 1 })

	if !f.session.Syncing() {
		t.Error("not syncing after Open")
	}
	f.session.StopSync()
	if f.session.Syncing() || f.machine.Current() != status.Stopped {
		t.Errorf("after StopSync: syncing=%v state=%s", f.session.Syncing(), f.machine.Current())
	}
	started, err := f.session.StartSync()
	if err != nil || !started {
		t.Errorf("StartSync = %v, %v", started, err)
	}
}

func TestSendFailureKeepsFailedRow(t *testing.T) {
	f := newFixture(t)
	f.server.fail = &gateway.HTTPError{StatusCode: 401}
	if err := f.session.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer f.session.Close()

	m, err := f.session.Send(context.Background(), outbox.Draft{Text: "nope"})
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != store.Failed {
		t.Errorf("status = %s, want FAILED", m.Status)
	}

	f.server.mu.Lock()
	f.server.fail = nil
	f.server.mu.Unlock()
	m, err = f.session.Resend(context.Background(), m.LocalID)
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != store.Delivered {
		t.Errorf("resent status = %s", m.Status)
	}
}
