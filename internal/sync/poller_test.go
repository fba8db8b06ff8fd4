package sync

import (
	"context"
	"errors"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/gateway"
	"github.com/matheus3301/chatline/internal/status"
	"github.com/matheus3301/chatline/internal/store"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// fakeGateway replays scripted responses; the last one repeats.
type fakeGateway struct {
	mu        stdsync.Mutex
	responses []response
	calls     []string
}

type response struct {
	body string
	err  error
}

func (f *fakeGateway) Send(ctx context.Context, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, command)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return r.body, r.err
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

const batch = `[
	{"id": 3, "author": "carol", "text": "third", "timestamp": 1030},
	{"id": 2, "author": "bob", "text": "second", "timestamp": 1020, "reply_to": 1},
	{"id": 1, "author": "", "text": "first", "timestamp": 1010}
]`

func TestPollOnceMergesOldestFirst(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{responses: []response{{body: batch}}}
	p := NewPoller(db, gw, bus.New(), nil, Options{}, zap.NewNop())

	n, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("merged = %d, want 3", n)
	}
	msgs, err := db.ListMessages()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "third"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d rows, want %d", len(msgs), len(want))
	}
	for i, m := range msgs {
		if m.Body != want[i] {
			t.Errorf("row %d body = %q, want %q", i, m.Body, want[i])
		}
		if m.Status != store.Delivered || m.IsCommand {
			t.Errorf("row %d = %+v, want delivered non-command", i, m)
		}
	}
	if msgs[1].ReplyTo != 1 {
		t.Errorf("reply_to = %d, want 1", msgs[1].ReplyTo)
	}
	if gw.calls[0] != "history" {
		t.Errorf("command = %q, want history", gw.calls[0])
	}
}

func TestPollOnceIsIdempotent(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{responses: []response{{body: batch}}}
	p := NewPoller(db, gw, bus.New(), nil, Options{}, zap.NewNop())

	for i := 0; i < 3; i++ {
		if _, err := p.PollOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	n, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("count = %d after repeated polls, want 3", n)
	}
}

func TestPollOnceIgnoresEntriesWithoutID(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{responses: []response{{body: `[
		{"author": "bob", "text": "no id", "timestamp": 1000},
		{"id": 0, "author": "bob", "text": "zero id", "timestamp": 1000},
		{"id": 4, "author": "bob", "text": "kept", "timestamp": 1000}
	]`}}}
	p := NewPoller(db, gw, bus.New(), nil, Options{}, zap.NewNop())

	for i := 0; i < 3; i++ {
		n, err := p.PollOnce(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("poll %d merged %d, want 1", i, n)
		}
	}
	msgs, err := db.ListMessages()
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ServerID != 4 {
		t.Fatalf("messages = %+v, want only server id 4", msgs)
	}
}

func TestReverseSkipsMissingIDs(t *testing.T) {
	msgs, skipped := Reverse([]gateway.RemoteMessage{
		{ID: 3, Text: "c"},
		{ID: -1, Text: "bad"},
		{ID: 1, Text: "a"},
	})
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if len(msgs) != 2 || msgs[0].ServerID != 1 || msgs[1].ServerID != 3 {
		t.Errorf("msgs = %+v, want ids 1, 3", msgs)
	}
}

func TestPollOnceConfirmsEchoedClientID(t *testing.T) {
	db := testDB(t)
	pending := &store.Message{ClientID: "c-1", Author: "me", Body: "hi", Status: store.Pending}
	if err := db.InsertMessage(pending); err != nil {
		t.Fatal(err)
	}
	gw := &fakeGateway{responses: []response{{body: `[{"id": 9, "author": "me", "text": "hi", "timestamp": 2000, "client_id": "c-1"}]`}}}
	p := NewPoller(db, gw, bus.New(), nil, Options{}, zap.NewNop())

	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	msgs, _ := db.ListMessages()
	if len(msgs) != 1 {
		t.Fatalf("got %d rows, want 1", len(msgs))
	}
	if msgs[0].LocalID != pending.LocalID || msgs[0].ServerID != 9 || msgs[0].Status != store.Delivered {
		t.Errorf("row = %+v", msgs[0])
	}
}

func TestPollOnceFailurePublishes(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	ch, unsub := b.Subscribe("sync.poll", 10)
	defer unsub()

	gw := &fakeGateway{responses: []response{{err: &gateway.HTTPError{StatusCode: 500}}}}
	p := NewPoller(db, gw, b, nil, Options{}, zap.NewNop())

	if _, err := p.PollOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	evt := <-ch
	if evt.Kind != bus.SyncPollFailed {
		t.Errorf("kind = %q, want %s", evt.Kind, bus.SyncPollFailed)
	}
	if res := evt.Payload.(PollResult); res.Error == "" {
		t.Error("poll failure payload has no description")
	}
}

func TestPollOnceRejectsMalformedBody(t *testing.T) {
	db := testDB(t)
	gw := &fakeGateway{responses: []response{{body: "not json"}}}
	p := NewPoller(db, gw, bus.New(), nil, Options{}, zap.NewNop())
	if _, err := p.PollOnce(context.Background()); err == nil {
		t.Error("expected decode error")
	}
}

func TestDelayBackoff(t *testing.T) {
	p := NewPoller(nil, nil, nil, nil, Options{Interval: time.Second, MaxBackoff: 10 * time.Second}, nil)
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := p.delay(tt.failures); got != tt.want {
			t.Errorf("delay(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestLoopRecoversFromFailures(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	ch, unsub := b.Subscribe("sync.status_changed", 10)
	defer unsub()

	machine := status.NewMachine(b)
	gw := &fakeGateway{responses: []response{
		{err: &gateway.TransportError{Err: errors.New("connection refused")}},
		{body: batch},
	}}
	p := NewPoller(db, gw, b, machine, Options{Interval: 10 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}, zap.NewNop())

	if !p.Start(context.Background()) {
		t.Fatal("Start returned false")
	}
	if p.Start(context.Background()) {
		t.Error("second Start should report already running")
	}

	want := []status.State{status.Degraded, status.Running}
	for _, s := range want {
		select {
		case evt := <-ch:
			if got := evt.Payload.(status.StatusChange).To; got != s {
				t.Fatalf("transition to %s, want %s", got, s)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", s)
		}
	}

	p.Stop()
	if p.Running() {
		t.Error("Running after Stop")
	}
	if machine.Current() != status.Stopped {
		t.Errorf("state = %s, want STOPPED", machine.Current())
	}
	n, _ := db.MessageCount()
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}

	calls := gw.callCount()
	time.Sleep(50 * time.Millisecond)
	if gw.callCount() != calls {
		t.Error("poller kept polling after Stop")
	}
}

func TestStopWithoutStart(t *testing.T) {
	p := NewPoller(nil, nil, nil, nil, Options{}, nil)
	p.Stop()
	if p.Running() {
		t.Error("Running should be false")
	}
}
