package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/chatline/internal/tui/keys"
	"github.com/rivo/tview"
)

// HelpSection is a titled group of key hints.
type HelpSection struct {
	Title string
	Hints []keys.Hint
}

// HelpView displays the key reference.
type HelpView struct {
	*tview.TextView
}

func NewHelpView() *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true).SetTitle(" Help ")
	return &HelpView{TextView: tv}
}

// Render replaces the help text with sections.
func (hv *HelpView) Render(sections []HelpSection) {
	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", tview.Escape(s.Title))
		for _, h := range s.Hints {
			fmt.Fprintf(&b, "  [yellow]%-8s[-] %s\n", tview.Escape(h.Key), tview.Escape(h.Description))
		}
	}
	hv.Clear()
	_, _ = fmt.Fprint(hv, b.String())
}
