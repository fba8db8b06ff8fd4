package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/matheus3301/chatline/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Status is the daemon state reported by GetStatus.
type Status struct {
	Session      string
	ServerURL    string
	State        string
	LastError    string
	ChangedAt    time.Time
	Syncing      bool
	Uptime       time.Duration
	MessageCount int64
	PendingCount int64
	Profile      ProfileSummary
}

// ProfileSummary describes the stored profile without exposing tokens.
type ProfileSummary struct {
	DisplayName    string
	HasToken       bool
	TokenSubject   string
	TokenExpired   bool
	TokenExpiresAt time.Time
}

// ProfileUpdate lists the profile fields to change; nil fields are kept.
type ProfileUpdate struct {
	DisplayName  *string
	AccessToken  *string
	RefreshToken *string
	ClearTokens  bool
}

// StatusEvent is one item of WatchStatus.
type StatusEvent struct {
	Kind       string
	State      string
	From       string
	LastError  string
	Merged     int64
	OccurredAt time.Time
}

// ReplyEvent is one item of WatchReply.
type ReplyEvent struct {
	ServerID int64
	Found    bool
	Message  *store.Message
}

// Client is a typed client for the control API.
type Client struct {
	conn grpc.ClientConnInterface
	cc   *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewFromConn wraps an existing connection.
func NewFromConn(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Close closes the gRPC connection if the client owns it.
func (c *Client) Close() error {
	if c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	return c.conn.Invoke(ctx, fullMethod(method), in, out)
}

func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "GetStatus", &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return &Status{
		Session:      stringField(out, "session"),
		ServerURL:    stringField(out, "server_url"),
		State:        stringField(out, "state"),
		LastError:    stringField(out, "last_error"),
		ChangedAt:    time.UnixMilli(intField(out, "changed_at_ms")),
		Syncing:      boolField(out, "syncing"),
		Uptime:       time.Duration(intField(out, "uptime_ms")) * time.Millisecond,
		MessageCount: intField(out, "message_count"),
		PendingCount: intField(out, "pending_count"),
		Profile:      profileFromStruct(out),
	}, nil
}

// StartSync resumes polling and returns the daemon's message.
func (c *Client) StartSync(ctx context.Context) (string, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "StartSync", &emptypb.Empty{}, out); err != nil {
		return "", err
	}
	return stringField(out, "message"), nil
}

// StopSync pauses polling and returns the daemon's message.
func (c *Client) StopSync(ctx context.Context) (string, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "StopSync", &emptypb.Empty{}, out); err != nil {
		return "", err
	}
	return stringField(out, "message"), nil
}

// Send submits text. When wait is false the returned message is the PENDING
// row, or nil for a command whose result is still pending.
func (c *Client) Send(ctx context.Context, text string, replyTo int64, wait bool) (*store.Message, error) {
	in, err := structpb.NewStruct(map[string]any{
		"text":     text,
		"reply_to": replyTo,
		"wait":     wait,
	})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "Send", in, out); err != nil {
		return nil, err
	}
	if !hasField(out, "message") {
		return nil, nil
	}
	m := messageFromStruct(structField(out, "message"))
	return &m, nil
}

// ListMessages returns the newest limit messages, or all with limit 0.
func (c *Client) ListMessages(ctx context.Context, limit int) ([]store.Message, error) {
	in, err := structpb.NewStruct(map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	out := new(structpb.ListValue)
	if err := c.invoke(ctx, "ListMessages", in, out); err != nil {
		return nil, err
	}
	return messagesFromList(out), nil
}

func (c *Client) SearchMessages(ctx context.Context, query string, limit int) ([]store.Message, error) {
	in, err := structpb.NewStruct(map[string]any{"query": query, "limit": limit})
	if err != nil {
		return nil, err
	}
	out := new(structpb.ListValue)
	if err := c.invoke(ctx, "SearchMessages", in, out); err != nil {
		return nil, err
	}
	return messagesFromList(out), nil
}

func (c *Client) GetMessage(ctx context.Context, localID int64) (*store.Message, error) {
	return c.getMessage(ctx, "local_id", localID)
}

func (c *Client) GetMessageByServerID(ctx context.Context, serverID int64) (*store.Message, error) {
	return c.getMessage(ctx, "server_id", serverID)
}

func (c *Client) getMessage(ctx context.Context, key string, id int64) (*store.Message, error) {
	in, err := structpb.NewStruct(map[string]any{key: id})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "GetMessage", in, out); err != nil {
		return nil, err
	}
	m := messageFromStruct(out)
	return &m, nil
}

// Resend retries a FAILED message and returns its new state.
func (c *Client) Resend(ctx context.Context, localID int64) (*store.Message, error) {
	in, err := structpb.NewStruct(map[string]any{"local_id": localID})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "Resend", in, out); err != nil {
		return nil, err
	}
	m := messageFromStruct(out)
	return &m, nil
}

// DeletePending removes PENDING rows and returns how many were deleted.
func (c *Client) DeletePending(ctx context.Context) (int64, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "DeletePending", &emptypb.Empty{}, out); err != nil {
		return 0, err
	}
	return intField(out, "deleted"), nil
}

func (c *Client) SetProfile(ctx context.Context, u ProfileUpdate) (*ProfileSummary, error) {
	fields := map[string]any{}
	if u.DisplayName != nil {
		fields["display_name"] = *u.DisplayName
	}
	if u.AccessToken != nil {
		fields["access_token"] = *u.AccessToken
	}
	if u.RefreshToken != nil {
		fields["refresh_token"] = *u.RefreshToken
	}
	if u.ClearTokens {
		fields["clear_tokens"] = true
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "SetProfile", in, out); err != nil {
		return nil, err
	}
	p := profileFromStruct(out)
	return &p, nil
}

// WatchHistory calls fn with the current history and then after every
// change, until ctx is done or fn returns an error.
func (c *Client) WatchHistory(ctx context.Context, limit int, fn func([]store.Message) error) error {
	in, err := structpb.NewStruct(map[string]any{"limit": limit})
	if err != nil {
		return err
	}
	return c.watch(ctx, 0, in, func(evt *structpb.Struct) error {
		return fn(messagesFromList(evt.GetFields()["messages"].GetListValue()))
	})
}

// WatchReply calls fn whenever the reply target serverID changes.
func (c *Client) WatchReply(ctx context.Context, serverID int64, fn func(ReplyEvent) error) error {
	in, err := structpb.NewStruct(map[string]any{"server_id": serverID})
	if err != nil {
		return err
	}
	return c.watch(ctx, 1, in, func(evt *structpb.Struct) error {
		re := ReplyEvent{ServerID: intField(evt, "server_id"), Found: boolField(evt, "found")}
		if re.Found {
			m := messageFromStruct(structField(evt, "message"))
			re.Message = &m
		}
		return fn(re)
	})
}

// WatchStatus calls fn with the current poll state and every sync event.
func (c *Client) WatchStatus(ctx context.Context, fn func(StatusEvent) error) error {
	return c.watch(ctx, 2, &emptypb.Empty{}, func(evt *structpb.Struct) error {
		return fn(StatusEvent{
			Kind:       stringField(evt, "kind"),
			State:      stringField(evt, "state"),
			From:       stringField(evt, "from"),
			LastError:  stringField(evt, "last_error"),
			Merged:     intField(evt, "merged"),
			OccurredAt: time.UnixMilli(intField(evt, "occurred_at_ms")),
		})
	})
}

func (c *Client) watch(ctx context.Context, idx int, in any, fn func(*structpb.Struct) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	desc := &ChatServiceDesc.Streams[idx]
	stream, err := c.conn.NewStream(ctx, desc, fullMethod(desc.StreamName))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		evt := new(structpb.Struct)
		if err := stream.RecvMsg(evt); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}

func profileFromStruct(s *structpb.Struct) ProfileSummary {
	p := ProfileSummary{
		DisplayName:  stringField(s, "display_name"),
		HasToken:     boolField(s, "has_token"),
		TokenSubject: stringField(s, "token_subject"),
		TokenExpired: boolField(s, "token_expired"),
	}
	if exp := intField(s, "token_expires_at"); exp > 0 {
		p.TokenExpiresAt = time.Unix(exp, 0)
	}
	return p
}
