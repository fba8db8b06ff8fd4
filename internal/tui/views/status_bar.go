package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"
)

// StatusBar shows the session, the sync state and transient notices.
type StatusBar struct {
	*tview.TextView
	session    string
	state      string
	lastError  string
	flash      string
	flashUntil time.Time
}

// NewStatusBar creates a new status bar.
func NewStatusBar(session string) *StatusBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)
	sb := &StatusBar{TextView: tv, session: session, state: "IDLE"}
	sb.Render(time.Now())
	return sb
}

// SetState records the sync state and its last error.
func (sb *StatusBar) SetState(state, lastError string) {
	sb.state = state
	sb.lastError = lastError
	sb.Render(time.Now())
}

// Syncing reports whether the last known state has the poll loop active.
func (sb *StatusBar) Syncing() bool {
	return sb.state == "RUNNING" || sb.state == "DEGRADED"
}

// Flash shows msg until d has passed.
func (sb *StatusBar) Flash(msg string, d time.Duration) {
	sb.flash = msg
	sb.flashUntil = time.Now().Add(d)
	sb.Render(time.Now())
}

// Render redraws the bar as of now, dropping an expired flash.
func (sb *StatusBar) Render(now time.Time) {
	if sb.flash != "" && now.After(sb.flashUntil) {
		sb.flash = ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, " [::b]%s[-:-:-] | %s", tview.Escape(sb.session), stateLabel(sb.state))
	if sb.lastError != "" {
		fmt.Fprintf(&b, " [red]%s[-]", tview.Escape(Snippet(sb.lastError, 60)))
	}
	fmt.Fprintf(&b, " | %s", now.Format("15:04"))
	if sb.flash != "" {
		fmt.Fprintf(&b, " | [yellow]%s[-]", tview.Escape(sb.flash))
	}

	sb.Clear()
	_, _ = fmt.Fprint(sb, b.String())
}

func stateLabel(state string) string {
	switch state {
	case "RUNNING":
		return "[green]~ syncing[-]"
	case "DEGRADED":
		return "[yellow]! degraded[-]"
	case "STOPPED":
		return "[::d]stopped[-:-:-]"
	default:
		return "[::d]idle[-:-:-]"
	}
}
