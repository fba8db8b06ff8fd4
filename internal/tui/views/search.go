package views

import (
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatline/internal/store"
	"github.com/rivo/tview"
)

// SearchView runs text queries over the history.
type SearchView struct {
	*tview.Flex
	input   *tview.InputField
	results *tview.Table
	data    []store.Message
}

// NewSearchView creates a new search view.
func NewSearchView() *SearchView {
	input := tview.NewInputField().
		SetLabel(" Search: ").
		SetFieldWidth(0)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	results.SetBorder(true).SetTitle(" Results ")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, true).
		AddItem(results, 0, 1, false)

	return &SearchView{Flex: flex, input: input, results: results}
}

// SetOnQuery sets the callback run when a query is submitted.
func (sv *SearchView) SetOnQuery(fn func(query string)) {
	sv.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			fn(sv.input.GetText())
		}
	})
}

// SetOnOpen sets the callback run when a result is chosen.
func (sv *SearchView) SetOnOpen(fn func(m store.Message)) {
	sv.results.SetSelectedFunc(func(row, _ int) {
		if m := sv.Selected(); m != nil {
			fn(*m)
		}
	})
}

// Update replaces the result rows.
func (sv *SearchView) Update(results []store.Message) {
	sv.data = results
	sv.results.Clear()

	for col, h := range []string{" TIME", " AUTHOR", " TEXT"} {
		sv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAttributes(tcell.AttrBold))
	}
	for i := range results {
		m := &results[i]
		text := Snippet(Sanitize(m.Body), 80)
		if m.IsCommand {
			text = Body(m, nil)
		}
		sv.results.SetCell(i+1, 0, tview.NewTableCell(" "+Clock(m, time.Local)))
		sv.results.SetCell(i+1, 1, tview.NewTableCell(" "+tview.Escape(Author(m))).SetMaxWidth(20))
		sv.results.SetCell(i+1, 2, tview.NewTableCell(" "+tview.Escape(text)).SetExpansion(1))
	}
	if len(results) > 0 {
		sv.results.Select(1, 0)
	}
}

// Selected returns the highlighted result, or nil.
func (sv *SearchView) Selected() *store.Message {
	row, _ := sv.results.GetSelection()
	idx := row - 1
	if idx < 0 || idx >= len(sv.data) {
		return nil
	}
	m := sv.data[idx]
	return &m
}

func (sv *SearchView) Input() *tview.InputField {
	return sv.input
}

func (sv *SearchView) Results() *tview.Table {
	return sv.results
}
