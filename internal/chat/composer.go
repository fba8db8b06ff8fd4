package chat

import (
	"sync"

	"github.com/matheus3301/chatline/internal/outbox"
	"github.com/matheus3301/chatline/internal/store"
)

// Submitter accepts drafts for delivery.
type Submitter interface {
	Submit(d outbox.Draft) (*store.Message, error)
}

// Composer holds the input field state: the draft text and the message being
// replied to.
type Composer struct {
	mu      sync.Mutex
	text    string
	replyTo int64
	target  Submitter
}

// NewComposer creates an empty composer submitting to target.
func NewComposer(target Submitter) *Composer {
	return &Composer{target: target}
}

func (c *Composer) SetText(text string) {
	c.mu.Lock()
	c.text = text
	c.mu.Unlock()
}

func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// ReplyTo sets the reply target to serverID. Zero clears it.
func (c *Composer) ReplyTo(serverID int64) {
	c.mu.Lock()
	c.replyTo = serverID
	c.mu.Unlock()
}

func (c *Composer) CancelReply() {
	c.ReplyTo(0)
}

// ReplyTarget returns the server id being replied to, or zero.
func (c *Composer) ReplyTarget() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replyTo
}

// Send submits the draft. The text and reply target are cleared whether or
// not the submission is accepted.
func (c *Composer) Send() (*store.Message, error) {
	c.mu.Lock()
	d := outbox.Draft{Text: c.text, ReplyTo: c.replyTo}
	c.text, c.replyTo = "", 0
	c.mu.Unlock()
	return c.target.Submit(d)
}
