package store

import "errors"

// Status is the delivery status of a message.
type Status string

const (
	Pending   Status = "PENDING"
	Delivered Status = "DELIVERED"
	Failed    Status = "FAILED"
)

// ErrNotFound is returned when a targeted row does not exist or is not in
// the state the operation requires.
var ErrNotFound = errors.New("store: message not found")

// Message is a chat history entry.
//
// ServerID and ReplyTo use zero for "absent"; ServerID is stored as NULL so
// the uniqueness constraint only applies to confirmed messages.
type Message struct {
	LocalID   int64
	ServerID  int64
	ClientID  string
	Author    string
	Body      string
	Output    string
	Timestamp int64 // seconds since epoch
	IsCommand bool
	ReplyTo   int64
	Status    Status
	CreatedAt int64 // ms since epoch
}

// Anonymous reports whether the message has no display name attached.
func (m *Message) Anonymous() bool {
	return m.Author == ""
}

// Change describes a committed write to the messages table.
type Change struct {
	Op   string
	Rows int64
}
