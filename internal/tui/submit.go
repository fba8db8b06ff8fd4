package tui

import (
	"context"
	"strings"

	"github.com/matheus3301/chatline/internal/outbox"
	"github.com/matheus3301/chatline/internal/store"
)

type remoteSender interface {
	Send(ctx context.Context, text string, replyTo int64, wait bool) (*store.Message, error)
}

// submitter hands composer drafts to the daemon without blocking the UI
// goroutine. The optimistic row arrives through the history stream, so only
// errors are reported back.
type submitter struct {
	ctx    context.Context
	remote remoteSender
	onErr  func(error)
}

func (s *submitter) Submit(d outbox.Draft) (*store.Message, error) {
	if strings.TrimSpace(d.Text) == "" {
		return nil, outbox.ErrEmptyDraft
	}
	go func() {
		if _, err := s.remote.Send(s.ctx, d.Text, d.ReplyTo, false); err != nil && s.ctx.Err() == nil {
			s.onErr(err)
		}
	}()
	return nil, nil
}
