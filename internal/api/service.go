package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatline/internal/auth"
	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/chat"
	"github.com/matheus3301/chatline/internal/outbox"
	"github.com/matheus3301/chatline/internal/prefs"
	"github.com/matheus3301/chatline/internal/status"
	"github.com/matheus3301/chatline/internal/store"
	intsync "github.com/matheus3301/chatline/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service implements ChatServiceServer on top of a chat session.
type Service struct {
	sessionName string
	serverURL   string
	startedAt   time.Time
	session     *chat.Session
	db          *store.DB
	prefs       *prefs.Store
	machine     *status.Machine
	bus         *bus.Bus
	logger      *zap.Logger
}

// Deps groups what the service reads from.
type Deps struct {
	SessionName string
	ServerURL   string
	Session     *chat.Session
	DB          *store.DB
	Prefs       *prefs.Store
	Machine     *status.Machine
	Bus         *bus.Bus
	Logger      *zap.Logger
}

// NewService creates the control API service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sessionName: d.SessionName,
		serverURL:   d.ServerURL,
		startedAt:   time.Now(),
		session:     d.Session,
		db:          d.DB,
		prefs:       d.Prefs,
		machine:     d.Machine,
		bus:         d.Bus,
		logger:      logger,
	}
}

// GetStatus reports poll state, counts and profile summary.
func (s *Service) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	state, lastErr, changedAt := s.machine.Snapshot()
	resp := map[string]any{
		"session":       s.sessionName,
		"server_url":    s.serverURL,
		"state":         string(state),
		"last_error":    lastErr,
		"changed_at_ms": changedAt.UnixMilli(),
		"syncing":       s.session.Syncing(),
		"uptime_ms":     time.Since(s.startedAt).Milliseconds(),
	}
	if n, err := s.db.MessageCount(); err == nil {
		resp["message_count"] = n
	}
	if n, err := s.db.PendingCount(); err == nil {
		resp["pending_count"] = n
	}
	for k, v := range s.profileSummary() {
		resp[k] = v
	}
	return newStruct(resp)
}

// StartSync resumes the poll loop.
func (s *Service) StartSync(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	started, err := s.session.StartSync()
	if err != nil {
		return nil, toStatus(err)
	}
	msg := "sync started"
	if !started {
		msg = "already syncing"
	}
	return newStruct(map[string]any{"success": true, "message": msg})
}

// StopSync pauses the poll loop.
func (s *Service) StopSync(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.session.StopSync()
	return newStruct(map[string]any{"success": true, "message": "sync stopped"})
}

// Send accepts {text, reply_to, wait}. Without wait the message is queued
// and delivered in the background; the PENDING row is returned for chat
// messages. With wait the final row is returned.
func (s *Service) Send(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	d := outbox.Draft{
		Text:    stringField(req, "text"),
		ReplyTo: intField(req, "reply_to"),
	}

	var (
		m   *store.Message
		err error
	)
	if boolField(req, "wait") {
		m, err = s.session.Send(ctx, d)
	} else {
		m, err = s.session.Submit(d)
	}
	if err != nil {
		return nil, toStatus(err)
	}

	resp := map[string]any{"accepted": true}
	if m != nil {
		resp["message"] = messageToMap(m)
	}
	return newStruct(resp)
}

// ListMessages accepts {limit}; zero returns the whole history. Messages are
// in insertion order.
func (s *Service) ListMessages(_ context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	var (
		msgs []store.Message
		err  error
	)
	if limit := intField(req, "limit"); limit > 0 {
		msgs, err = s.db.RecentMessages(int(limit))
	} else {
		msgs, err = s.db.ListMessages()
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list messages: %v", err)
	}
	return newList(messagesToList(msgs))
}

// SearchMessages accepts {query, limit}; results are newest first.
func (s *Service) SearchMessages(_ context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	query := stringField(req, "query")
	if query == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "query is required")
	}
	msgs, err := s.db.SearchMessages(query, int(intField(req, "limit")))
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "search messages: %v", err)
	}
	return newList(messagesToList(msgs))
}

// GetMessage accepts {local_id} or {server_id}.
func (s *Service) GetMessage(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var (
		m   *store.Message
		err error
	)
	switch {
	case intField(req, "local_id") > 0:
		m, err = s.db.GetMessage(intField(req, "local_id"))
	case intField(req, "server_id") > 0:
		m, err = s.db.FindByServerID(intField(req, "server_id"))
	default:
		return nil, grpcstatus.Error(codes.InvalidArgument, "local_id or server_id is required")
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "get message: %v", err)
	}
	if m == nil {
		return nil, grpcstatus.Error(codes.NotFound, "message not found")
	}
	return newStruct(messageToMap(m))
}

// Resend accepts {local_id} of a FAILED message and waits for the retry.
func (s *Service) Resend(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := intField(req, "local_id")
	if id <= 0 {
		return nil, grpcstatus.Error(codes.InvalidArgument, "local_id is required")
	}
	m, err := s.session.Resend(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(messageToMap(m))
}

// DeletePending removes every PENDING row.
func (s *Service) DeletePending(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	n, err := s.db.DeletePending()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "delete pending: %v", err)
	}
	s.logger.Info("pending messages deleted", zap.Int64("count", n))
	return newStruct(map[string]any{"deleted": n})
}

// SetProfile accepts any of {display_name, access_token, refresh_token,
// clear_tokens}. Absent fields are left unchanged.
func (s *Service) SetProfile(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if hasField(req, "display_name") {
		if err := s.prefs.SetDisplayName(stringField(req, "display_name")); err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "set display name: %v", err)
		}
	}
	switch {
	case boolField(req, "clear_tokens"):
		if err := s.prefs.ClearTokens(); err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "clear tokens: %v", err)
		}
	case hasField(req, "access_token"):
		access := stringField(req, "access_token")
		if access != "" {
			if _, err := auth.Inspect(access, time.Now()); err != nil {
				return nil, grpcstatus.Errorf(codes.InvalidArgument, "access_token: %v", err)
			}
		}
		if err := s.prefs.SetTokens(access, stringField(req, "refresh_token")); err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "set tokens: %v", err)
		}
	}
	return newStruct(s.profileSummary())
}

// WatchHistory streams {messages} snapshots: the current history first, then
// one per change. {limit} keeps only the newest messages of each snapshot.
func (s *Service) WatchHistory(req *structpb.Struct, stream EventStream) error {
	limit := int(intField(req, "limit"))
	for msgs := range s.session.History().Observe(stream.Context()) {
		if limit > 0 && len(msgs) > limit {
			msgs = msgs[len(msgs)-limit:]
		}
		evt, err := newStruct(map[string]any{
			"event_id": uuid.NewString(),
			"messages": messagesToList(msgs),
		})
		if err != nil {
			return err
		}
		if err := stream.Send(evt); err != nil {
			return err
		}
	}
	return nil
}

// WatchReply streams {found, message} for the reply target {server_id}.
func (s *Service) WatchReply(req *structpb.Struct, stream EventStream) error {
	id := intField(req, "server_id")
	for m := range s.session.Replies().Resolve(stream.Context(), id) {
		resp := map[string]any{
			"event_id":  uuid.NewString(),
			"server_id": id,
			"found":     m != nil,
		}
		if m != nil {
			resp["message"] = messageToMap(m)
		}
		evt, err := newStruct(resp)
		if err != nil {
			return err
		}
		if err := stream.Send(evt); err != nil {
			return err
		}
	}
	return nil
}

// WatchStatus streams the current poll state and then every sync event.
func (s *Service) WatchStatus(_ *emptypb.Empty, stream EventStream) error {
	ch, unsub := s.bus.Subscribe("sync.", 64)
	defer unsub()

	state, lastErr, changedAt := s.machine.Snapshot()
	if err := s.sendStatus(stream, "sync.snapshot", changedAt, map[string]any{
		"state":      string(state),
		"last_error": lastErr,
	}); err != nil {
		return err
	}

	for {
		select {
		case evt := <-ch:
			fields := map[string]any{}
			switch p := evt.Payload.(type) {
			case status.StatusChange:
				fields["from"] = string(p.From)
				fields["state"] = string(p.To)
				fields["last_error"] = p.Error
			case intsync.PollResult:
				fields["merged"] = p.Merged
				fields["last_error"] = p.Error
			}
			if err := s.sendStatus(stream, evt.Kind, evt.Timestamp, fields); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *Service) sendStatus(stream EventStream, kind string, at time.Time, fields map[string]any) error {
	fields["event_id"] = uuid.NewString()
	fields["session"] = s.sessionName
	fields["kind"] = kind
	fields["occurred_at_ms"] = at.UnixMilli()
	evt, err := newStruct(fields)
	if err != nil {
		return err
	}
	return stream.Send(evt)
}

func (s *Service) profileSummary() map[string]any {
	p := s.prefs.Profile()
	out := map[string]any{
		"display_name": p.DisplayName,
		"has_token":    p.AccessToken != "",
	}
	if p.AccessToken == "" {
		return out
	}
	info, err := auth.Inspect(p.AccessToken, time.Now())
	if err != nil {
		return out
	}
	out["token_subject"] = info.Subject
	out["token_expired"] = info.Expired
	if !info.ExpiresAt.IsZero() {
		out["token_expires_at"] = info.ExpiresAt.Unix()
	}
	return out
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return s, nil
}

func newList(values []any) (*structpb.ListValue, error) {
	l, err := structpb.NewList(values)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return l, nil
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, outbox.ErrEmptyDraft):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, chat.ErrNotOpen):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}
