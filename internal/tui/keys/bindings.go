package keys

import "github.com/gdamore/tcell/v2"

// Action is a key binding. Rune is used when Key is tcell.KeyRune.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Label       string
	Description string
	Handler     func()
}

// Matches reports whether ev triggers the action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Hint is a key and what it does, for the help page.
type Hint struct {
	Key         string
	Description string
}

// Registry holds global bindings and per-page bindings in registration order.
type Registry struct {
	global []*Action
	pages  map[string][]*Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pages: make(map[string][]*Action)}
}

func (r *Registry) AddGlobal(a *Action) {
	r.global = append(r.global, a)
}

func (r *Registry) AddPage(page string, a *Action) {
	r.pages[page] = append(r.pages[page], a)
}

// Hints lists the bindings active on page, page bindings first.
func (r *Registry) Hints(page string) []Hint {
	var hints []Hint
	for _, a := range r.pages[page] {
		hints = append(hints, hint(a))
	}
	for _, a := range r.global {
		hints = append(hints, hint(a))
	}
	return hints
}

// GlobalHints lists only the global bindings.
func (r *Registry) GlobalHints() []Hint {
	hints := make([]Hint, 0, len(r.global))
	for _, a := range r.global {
		hints = append(hints, hint(a))
	}
	return hints
}

func hint(a *Action) Hint {
	label := a.Label
	if label == "" {
		if a.Key == tcell.KeyRune {
			label = string(a.Rune)
		} else {
			label = tcell.KeyNames[a.Key]
		}
	}
	return Hint{Key: label, Description: a.Description}
}

// HandleEvent runs the first binding matching ev, page bindings first.
// It reports whether one matched.
func (r *Registry) HandleEvent(page string, ev *tcell.EventKey) bool {
	for _, a := range r.pages[page] {
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	for _, a := range r.global {
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	return false
}
