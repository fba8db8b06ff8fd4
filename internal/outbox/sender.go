package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/gateway"
	"github.com/matheus3301/chatline/internal/metrics"
	"github.com/matheus3301/chatline/internal/store"
	"go.uber.org/zap"
)

// ErrEmptyDraft is returned for blank input and for the bare command prefix.
var ErrEmptyDraft = errors.New("outbox: nothing to send")

// Gateway is the subset of the remote client the sender needs.
type Gateway interface {
	Send(ctx context.Context, command string) (string, error)
}

// AuthorSource supplies the display name attached to outbound messages.
type AuthorSource interface {
	Author() string
}

// Options configure command detection and the post command.
type Options struct {
	Prefix      string
	SendCommand string
}

// Draft is user input waiting to be sent.
type Draft struct {
	Text    string
	ReplyTo int64
}

// SendFailure is the payload of message.send_failed events.
type SendFailure struct {
	LocalID int64
	Error   string
}

// Sender runs the outbound flow: commands go straight to the gateway, chat
// messages are written optimistically as PENDING and reconciled afterwards.
type Sender struct {
	db     *store.DB
	gw     Gateway
	author AuthorSource
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options
}

// NewSender creates a new outbound sender.
func NewSender(db *store.DB, gw Gateway, author AuthorSource, b *bus.Bus, opts Options, logger *zap.Logger) *Sender {
	if opts.Prefix == "" {
		opts.Prefix = "/"
	}
	if opts.SendCommand == "" {
		opts.SendCommand = "send"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:     db,
		gw:     gw,
		author: author,
		bus:    b,
		logger: logger,
		opts:   opts,
	}
}

// IsCommand reports whether text is command input.
func (s *Sender) IsCommand(text string) bool {
	return strings.HasPrefix(text, s.opts.Prefix)
}

// Validate rejects drafts that would produce nothing.
func (s *Sender) Validate(d Draft) error {
	text := strings.TrimSpace(d.Text)
	if text == "" || text == s.opts.Prefix {
		return ErrEmptyDraft
	}
	if s.IsCommand(d.Text) && strings.TrimSpace(strings.TrimPrefix(d.Text, s.opts.Prefix)) == "" {
		return ErrEmptyDraft
	}
	return nil
}

// Send runs the whole outbound flow for d and returns the resulting row.
// Gateway failures are recorded in the store rather than returned; the error
// is reserved for invalid drafts and local storage failures.
func (s *Sender) Send(ctx context.Context, d Draft) (*store.Message, error) {
	if err := s.Validate(d); err != nil {
		return nil, err
	}
	if s.IsCommand(d.Text) {
		return s.RunCommand(ctx, d.Text)
	}
	m, err := s.Queue(d)
	if err != nil {
		return nil, err
	}
	return s.Deliver(ctx, m)
}

// RunCommand sends a prefixed input and records the input/response pair as a
// single command row. No PENDING row is written.
func (s *Sender) RunCommand(ctx context.Context, input string) (*store.Message, error) {
	if err := s.Validate(Draft{Text: input}); err != nil {
		return nil, err
	}
	if !s.IsCommand(input) {
		return nil, fmt.Errorf("outbox: %q is not a command", input)
	}

	resp, err := s.gw.Send(ctx, strings.TrimPrefix(input, s.opts.Prefix))
	metrics.IncOutbound("command", err == nil)
	if err != nil {
		s.logger.Warn("command failed", zap.String("input", input), zap.Error(err))
		resp = gateway.Describe(err)
	}

	m := &store.Message{
		Author:    s.authorName(),
		Body:      input,
		Output:    resp,
		IsCommand: true,
		Status:    store.Delivered,
	}
	if err := s.db.InsertMessage(m); err != nil {
		return nil, fmt.Errorf("store command: %w", err)
	}
	s.bus.Emit(bus.MessageCommand, *m)
	return m, nil
}

// Queue validates d and writes the optimistic PENDING row.
func (s *Sender) Queue(d Draft) (*store.Message, error) {
	if err := s.Validate(d); err != nil {
		return nil, err
	}
	if s.IsCommand(d.Text) {
		return nil, fmt.Errorf("outbox: commands are not queued")
	}
	m := &store.Message{
		ClientID: uuid.NewString(),
		Author:   s.authorName(),
		Body:     d.Text,
		ReplyTo:  d.ReplyTo,
		Status:   store.Pending,
	}
	if err := s.db.InsertMessage(m); err != nil {
		return nil, fmt.Errorf("queue message: %w", err)
	}
	s.bus.Emit(bus.MessageQueued, *m)
	return m, nil
}

// Deliver posts a PENDING row and reconciles it. On success the same row
// becomes DELIVERED; on failure it becomes FAILED and an error row is added
// to the history.
func (s *Sender) Deliver(ctx context.Context, m *store.Message) (*store.Message, error) {
	cmd, err := gateway.EncodePost(s.opts.SendCommand, gateway.Post{
		Author:   m.Author,
		Text:     m.Body,
		ReplyTo:  m.ReplyTo,
		ClientID: m.ClientID,
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.gw.Send(ctx, cmd)
	metrics.IncOutbound("message", err == nil)
	if err != nil {
		return s.fail(m, err)
	}

	ack, _ := gateway.DecodeAck(resp)
	if err := s.db.MarkDelivered(m.LocalID, ack.ID, ack.Timestamp); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("delivered message no longer in store", zap.Int64("local_id", m.LocalID))
		}
		return nil, fmt.Errorf("reconcile message %d: %w", m.LocalID, err)
	}

	delivered, err := s.db.GetMessage(m.LocalID)
	if err != nil {
		return nil, err
	}
	if delivered == nil {
		return nil, store.ErrNotFound
	}
	s.logger.Info("message delivered",
		zap.Int64("local_id", delivered.LocalID),
		zap.Int64("server_id", delivered.ServerID),
		zap.String("client_id", delivered.ClientID))
	s.bus.Emit(bus.MessageDelivered, *delivered)
	return delivered, nil
}

func (s *Sender) fail(m *store.Message, sendErr error) (*store.Message, error) {
	desc := gateway.Describe(sendErr)
	s.logger.Error("failed to send message",
		zap.Int64("local_id", m.LocalID),
		zap.String("client_id", m.ClientID),
		zap.Error(sendErr))

	if err := s.db.MarkFailed(m.LocalID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// A poll may confirm the row while the send is still in flight.
			if cur, gerr := s.db.GetMessage(m.LocalID); gerr == nil && cur != nil && cur.Status == store.Delivered {
				s.logger.Info("send failed after server confirmed message",
					zap.Int64("local_id", cur.LocalID),
					zap.Int64("server_id", cur.ServerID))
				return cur, nil
			}
		}
		return nil, fmt.Errorf("mark failed %d: %w", m.LocalID, err)
	}
	if err := s.db.InsertMessage(&store.Message{
		Author:    s.authorName(),
		Body:      m.Body,
		Output:    desc,
		IsCommand: true,
		Status:    store.Delivered,
	}); err != nil {
		return nil, fmt.Errorf("store send error: %w", err)
	}
	s.bus.Emit(bus.MessageSendFailed, SendFailure{LocalID: m.LocalID, Error: desc})

	failed, err := s.db.GetMessage(m.LocalID)
	if err != nil {
		return nil, err
	}
	if failed == nil {
		return nil, store.ErrNotFound
	}
	return failed, nil
}

// Resend moves a FAILED row back to PENDING and delivers it again under the
// same local and client ids.
func (s *Sender) Resend(ctx context.Context, localID int64) (*store.Message, error) {
	if err := s.db.MarkPending(localID); err != nil {
		return nil, fmt.Errorf("resend %d: %w", localID, err)
	}
	m, err := s.db.GetMessage(localID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, store.ErrNotFound
	}
	s.bus.Emit(bus.MessageQueued, *m)
	return s.Deliver(ctx, m)
}

func (s *Sender) authorName() string {
	if s.author == nil {
		return ""
	}
	return s.author.Author()
}
