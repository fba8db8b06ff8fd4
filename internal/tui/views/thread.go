package views

import (
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatline/internal/store"
	"github.com/rivo/tview"
)

// Thread shows the message history above the composer. A banner between the
// two shows the reply target while one is set.
type Thread struct {
	*tview.Flex
	table  *tview.Table
	banner *tview.TextView
	input  *tview.InputField
	loc    *time.Location

	msgs   []store.Message
	byID   map[int64]int
	follow bool
	onSend func(text string)
}

// NewThread creates an empty thread view.
func NewThread() *Thread {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true).SetTitle(" History ")

	banner := tview.NewTextView().SetDynamicColors(true)

	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	input.SetBorder(true).SetTitle(" Compose (i to focus) ")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(table, 0, 1, true).
		AddItem(banner, 0, 0, false).
		AddItem(input, 3, 0, false)

	t := &Thread{
		Flex:   flex,
		table:  table,
		banner: banner,
		input:  input,
		loc:    time.Local,
		byID:   map[int64]int{},
		follow: true,
	}

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && t.onSend != nil {
			t.onSend(input.GetText())
		}
	})
	table.SetSelectionChangedFunc(func(row, _ int) {
		t.follow = row >= len(t.msgs)-1
	})
	return t
}

// SetOnSend sets the callback run when Enter is pressed in the composer.
func (t *Thread) SetOnSend(fn func(text string)) {
	t.onSend = fn
}

// Update replaces the rendered history. The selection stays on the newest
// row when it was there before, and on the same row otherwise.
func (t *Thread) Update(msgs []store.Message) {
	follow := t.follow
	row, _ := t.table.GetSelection()

	t.msgs = msgs
	t.byID = make(map[int64]int, len(msgs))
	for i := range msgs {
		if msgs[i].ServerID != 0 {
			t.byID[msgs[i].ServerID] = i
		}
	}

	t.table.Clear()
	for i := range msgs {
		m := &msgs[i]
		t.table.SetCell(i, 0, tview.NewTableCell(Clock(m, t.loc)).
			SetTextColor(tcell.ColorGray))
		t.table.SetCell(i, 1, tview.NewTableCell(tview.Escape(Author(m))).
			SetMaxWidth(20).
			SetAttributes(tcell.AttrBold))
		t.table.SetCell(i, 2, tview.NewTableCell(tview.Escape(Body(m, t.Target(m.ReplyTo)))).
			SetExpansion(1))
		t.table.SetCell(i, 3, tview.NewTableCell(StatusMark(m.Status)).
			SetTextColor(statusColor(m.Status)))
	}

	switch {
	case len(msgs) == 0:
	case follow || row >= len(msgs):
		t.table.Select(len(msgs)-1, 0)
		t.table.ScrollToEnd()
	default:
		t.table.Select(row, 0)
	}
	t.follow = follow
}

func statusColor(s store.Status) tcell.Color {
	if s == store.Failed {
		return tcell.ColorRed
	}
	return tcell.ColorGray
}

// Target returns the rendered message with the given server id, or nil.
func (t *Thread) Target(serverID int64) *store.Message {
	if serverID == 0 {
		return nil
	}
	if i, ok := t.byID[serverID]; ok {
		return &t.msgs[i]
	}
	return nil
}

// Selected returns the highlighted message, or nil when the history is empty.
func (t *Thread) Selected() *store.Message {
	row, _ := t.table.GetSelection()
	if row < 0 || row >= len(t.msgs) {
		return nil
	}
	m := t.msgs[row]
	return &m
}

// SelectLocal highlights the message with the given local id.
func (t *Thread) SelectLocal(localID int64) bool {
	for i := range t.msgs {
		if t.msgs[i].LocalID == localID {
			t.table.Select(i, 0)
			return true
		}
	}
	return false
}

// SetReplyPreview shows the reply banner for serverID. Zero hides it.
func (t *Thread) SetReplyPreview(serverID int64, target *store.Message) {
	t.banner.Clear()
	if serverID == 0 {
		t.ResizeItem(t.banner, 0, 0)
		return
	}
	line := " [yellow]↪ replying to " + tview.Escape(ReplyQuote(serverID, target))
	if target == nil {
		line += " (not synced yet)"
	}
	line += "[-]  [::d]Ctrl-X cancels[-:-:-]"
	_, _ = t.banner.Write([]byte(line))
	t.ResizeItem(t.banner, 1, 0)
}

// Banner returns the text of the reply banner.
func (t *Thread) Banner() string {
	return t.banner.GetText(true)
}

func (t *Thread) SetDraft(text string) {
	t.input.SetText(text)
}

func (t *Thread) Draft() string {
	return t.input.GetText()
}

// Table returns the history table (for focus management).
func (t *Thread) Table() *tview.Table {
	return t.table
}

// Input returns the composer field (for focus management).
func (t *Thread) Input() *tview.InputField {
	return t.input
}
