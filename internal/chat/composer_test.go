package chat

import (
	"errors"
	"testing"

	"github.com/matheus3301/chatline/internal/outbox"
	"github.com/matheus3301/chatline/internal/store"
)

type recorder struct {
	drafts []outbox.Draft
	err    error
}

func (r *recorder) Submit(d outbox.Draft) (*store.Message, error) {
	r.drafts = append(r.drafts, d)
	return nil, r.err
}

func TestComposerSendClearsState(t *testing.T) {
	r := &recorder{}
	c := NewComposer(r)
	c.SetText("hello")
	c.ReplyTo(12)

	if _, err := c.Send(); err != nil {
		t.Fatal(err)
	}
	if len(r.drafts) != 1 || r.drafts[0] != (outbox.Draft{Text: "hello", ReplyTo: 12}) {
		t.Errorf("drafts = %+v", r.drafts)
	}
	if c.Text() != "" || c.ReplyTarget() != 0 {
		t.Errorf("composer not cleared: %q %d", c.Text(), c.ReplyTarget())
	}
}

func TestComposerClearsOnRejection(t *testing.T) {
	r := &recorder{err: outbox.ErrEmptyDraft}
	c := NewComposer(r)
	c.SetText("/")
	c.ReplyTo(3)

	if _, err := c.Send(); !errors.Is(err, outbox.ErrEmptyDraft) {
		t.Errorf("error = %v", err)
	}
	if c.Text() != "" || c.ReplyTarget() != 0 {
		t.Error("composer not cleared after rejected send")
	}
}

func TestComposerCancelReply(t *testing.T) {
	c := NewComposer(&recorder{})
	c.ReplyTo(9)
	c.CancelReply()
	if c.ReplyTarget() != 0 {
		t.Errorf("reply target = %d after cancel", c.ReplyTarget())
	}
}
