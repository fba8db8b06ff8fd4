// Package chat owns one chat session: the inbound poll loop, the outbound
// sender and the live views over the local history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/matheus3301/chatline/internal/live"
	"github.com/matheus3301/chatline/internal/outbox"
	"github.com/matheus3301/chatline/internal/store"
	intsync "github.com/matheus3301/chatline/internal/sync"
	"go.uber.org/zap"
)

var (
	ErrNotOpen     = errors.New("chat: session is not open")
	ErrAlreadyOpen = errors.New("chat: session already open")
)

// Session coordinates the components of an active chat.
type Session struct {
	db      *store.DB
	sender  *outbox.Sender
	poller  *intsync.Poller
	history *live.History
	replies *live.ReplyCache
	logger  *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	open   bool
	wg     sync.WaitGroup
}

// NewSession creates a closed session.
func NewSession(db *store.DB, sender *outbox.Sender, poller *intsync.Poller, history *live.History, replies *live.ReplyCache, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		db:      db,
		sender:  sender,
		poller:  poller,
		history: history,
		replies: replies,
		logger:  logger,
	}
}

// Open sweeps PENDING rows left over from a previous run, starts the live
// views and starts polling. The session lives until Close or until ctx is
// cancelled.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return ErrAlreadyOpen
	}

	swept, err := s.db.DeletePending()
	if err != nil {
		return fmt.Errorf("sweep pending: %w", err)
	}
	if swept > 0 {
		s.logger.Info("removed stale pending messages", zap.Int64("count", swept))
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.history.Start(s.ctx); err != nil {
		s.cancel()
		return err
	}
	s.replies.Start(s.ctx)
	s.poller.Start(s.ctx)
	s.open = true
	s.logger.Info("chat session opened")
	return nil
}

// Close stops polling, waits for in-flight sends and releases the live views.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	s.open = false
	s.mu.Unlock()

	s.poller.Stop()
	s.wg.Wait()
	s.history.Stop()
	s.replies.Close()
	s.cancel()
	s.logger.Info("chat session closed")
}

// StartSync resumes polling. It returns false if polling was already active.
func (s *Session) StartSync() (bool, error) {
	ctx, err := s.context()
	if err != nil {
		return false, err
	}
	return s.poller.Start(ctx), nil
}

// StopSync pauses polling. Sends are unaffected.
func (s *Session) StopSync() {
	s.poller.Stop()
}

// Syncing reports whether the poll loop is running.
func (s *Session) Syncing() bool {
	return s.poller.Running()
}

// Submit validates d and hands it to the sender without waiting for the
// network. For chat messages the PENDING row is returned; commands return nil
// and their row appears in the history when the response arrives.
func (s *Session) Submit(d outbox.Draft) (*store.Message, error) {
	if err := s.sender.Validate(d); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrNotOpen
	}
	ctx := s.ctx

	if s.sender.IsCommand(d.Text) {
		s.goSend(func() error {
			_, err := s.sender.RunCommand(ctx, d.Text)
			return err
		})
		return nil, nil
	}

	m, err := s.sender.Queue(d)
	if err != nil {
		return nil, err
	}
	queued := *m
	s.goSend(func() error {
		_, err := s.sender.Deliver(ctx, m)
		return err
	})
	return &queued, nil
}

// Send runs the outbound flow and waits for the result.
func (s *Session) Send(ctx context.Context, d outbox.Draft) (*store.Message, error) {
	if _, err := s.context(); err != nil {
		return nil, err
	}
	return s.sender.Send(ctx, d)
}

// Resend retries a FAILED message and waits for the result.
func (s *Session) Resend(ctx context.Context, localID int64) (*store.Message, error) {
	if _, err := s.context(); err != nil {
		return nil, err
	}
	return s.sender.Resend(ctx, localID)
}

// History returns the live full-history view.
func (s *Session) History() *live.History {
	return s.history
}

// Replies returns the reply-preview cache.
func (s *Session) Replies() *live.ReplyCache {
	return s.replies
}

// goSend runs fn in the background; callers hold s.mu.
func (s *Session) goSend(fn func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(); err != nil {
			s.logger.Error("background send failed", zap.Error(err))
		}
	}()
}

func (s *Session) context() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrNotOpen
	}
	return s.ctx, nil
}
