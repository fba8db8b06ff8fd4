package views

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/matheus3301/chatline/internal/store"
)

// Sanitize drops codepoints tcell renders at the wrong width: skin tone
// modifiers, zero width joiners and variation selectors.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 0x1F3FB && r <= 0x1F3FF,
			r == 0x200D,
			r >= 0xFE00 && r <= 0xFE0F,
			r >= 0xE0100 && r <= 0xE01EF:
			return -1
		}
		return r
	}, s)
}

// Snippet flattens whitespace to single spaces and cuts s to n runes.
func Snippet(s string, n int) string {
	s = strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
	r := []rune(s)
	if n > 0 && len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

// Author is the display label for the message author.
func Author(m *store.Message) string {
	if m.Anonymous() {
		return "anonymous"
	}
	return Sanitize(m.Author)
}

// Clock is the time the message is shown with: the server timestamp when
// known, the local creation time otherwise.
func Clock(m *store.Message, loc *time.Location) string {
	var t time.Time
	switch {
	case m.Timestamp > 0:
		t = time.Unix(m.Timestamp, 0)
	case m.CreatedAt > 0:
		t = time.UnixMilli(m.CreatedAt)
	default:
		return "--:--"
	}
	return t.In(loc).Format("15:04")
}

// Body renders the message text on one line. target is the resolved reply
// target, or nil when it has not been synced.
func Body(m *store.Message, target *store.Message) string {
	if m.IsCommand {
		return fmt.Sprintf("%s → %s", Snippet(Sanitize(m.Body), 60), Snippet(Sanitize(m.Output), 200))
	}
	body := Snippet(Sanitize(m.Body), 0)
	if m.ReplyTo == 0 {
		return body
	}
	return ReplyQuote(m.ReplyTo, target) + " " + body
}

// ReplyQuote is the inline reference to a reply target.
func ReplyQuote(serverID int64, target *store.Message) string {
	if target == nil {
		return fmt.Sprintf("[#%d]", serverID)
	}
	return fmt.Sprintf("[%s: %s]", Author(target), Snippet(Sanitize(target.Body), 30))
}

// StatusMark is the delivery marker for m, empty once delivered.
func StatusMark(s store.Status) string {
	switch s {
	case store.Pending:
		return "sending…"
	case store.Failed:
		return "failed"
	default:
		return ""
	}
}
