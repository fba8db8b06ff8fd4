package prefs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestProfilePersists(t *testing.T) {
	db := testDB(t)
	s, err := Open(db, bus.New())
	if err != nil {
		t.Fatal(err)
	}
	if s.Author() != "" {
		t.Errorf("fresh author = %q, want anonymous", s.Author())
	}
	if err := s.SetDisplayName("  Alice "); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTokens("acc", "ref"); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(db, bus.New())
	if err != nil {
		t.Fatal(err)
	}
	want := Profile{DisplayName: "Alice", AccessToken: "acc", RefreshToken: "ref"}
	if got := reopened.Profile(); got != want {
		t.Errorf("profile = %+v, want %+v", got, want)
	}
	if reopened.AccessToken() != "acc" {
		t.Errorf("AccessToken = %q", reopened.AccessToken())
	}
}

func TestClearTokens(t *testing.T) {
	db := testDB(t)
	s, _ := Open(db, bus.New())
	_ = s.SetTokens("acc", "ref")
	if err := s.ClearTokens(); err != nil {
		t.Fatal(err)
	}
	if p := s.Profile(); p.AccessToken != "" || p.RefreshToken != "" {
		t.Errorf("profile = %+v after clear", p)
	}
	values, _ := db.Preferences()
	if _, ok := values[keyAccessToken]; ok {
		t.Error("access token still stored")
	}
}

func TestWatch(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	events, unsub := b.Subscribe("prefs.", 10)
	defer unsub()

	s, _ := Open(db, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := s.Watch(ctx)

	if p := <-ch; p.DisplayName != "" {
		t.Errorf("initial = %+v", p)
	}
	_ = s.SetDisplayName("Bob")
	select {
	case p := <-ch:
		if p.DisplayName != "Bob" {
			t.Errorf("watched = %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no update")
	}
	if evt := <-events; evt.Kind != bus.PrefsChanged {
		t.Errorf("event = %q", evt.Kind)
	}

	// Writing the same value again is not a change.
	_ = s.SetDisplayName("Bob")
	select {
	case evt := <-events:
		t.Errorf("unexpected event %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
