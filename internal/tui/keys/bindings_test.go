package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestHandleEventPrefersPageBinding(t *testing.T) {
	r := NewRegistry()
	var got string
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: 'r', Description: "global", Handler: func() { got = "global" }})
	r.AddPage("thread", &Action{Key: tcell.KeyRune, Rune: 'r', Description: "reply", Handler: func() { got = "page" }})

	ev := tcell.NewEventKey(tcell.KeyRune, 'r', tcell.ModNone)
	if !r.HandleEvent("thread", ev) || got != "page" {
		t.Fatalf("thread: got %q, want page", got)
	}
	if !r.HandleEvent("search", ev) || got != "global" {
		t.Fatalf("search: got %q, want global", got)
	}
}

func TestHandleEventNoMatch(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { t.Fatal("unexpected call") }})

	if r.HandleEvent("thread", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)) {
		t.Fatal("expected no match")
	}
}

func TestSpecialKeyMatch(t *testing.T) {
	called := false
	a := &Action{Key: tcell.KeyCtrlR, Handler: func() { called = true }}
	r := NewRegistry()
	r.AddGlobal(a)

	if !r.HandleEvent("", tcell.NewEventKey(tcell.KeyCtrlR, 0, tcell.ModCtrl)) || !called {
		t.Fatal("ctrl-r binding did not fire")
	}
	if a.Matches(tcell.NewEventKey(tcell.KeyRune, 'r', tcell.ModNone)) {
		t.Fatal("rune must not match a special-key binding")
	}
}

func TestHintsOrder(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: 'q', Description: "Quit"})
	r.AddPage("thread", &Action{Key: tcell.KeyRune, Rune: 'r', Description: "Reply"})
	r.AddPage("thread", &Action{Key: tcell.KeyEscape, Label: "Esc", Description: "Back"})

	hints := r.Hints("thread")
	want := []Hint{{"r", "Reply"}, {"Esc", "Back"}, {"q", "Quit"}}
	if len(hints) != len(want) {
		t.Fatalf("hints = %v", hints)
	}
	for i := range want {
		if hints[i] != want[i] {
			t.Errorf("hints[%d] = %v, want %v", i, hints[i], want[i])
		}
	}
	if g := r.GlobalHints(); len(g) != 1 || g[0].Key != "q" {
		t.Errorf("GlobalHints() = %v", g)
	}
}
