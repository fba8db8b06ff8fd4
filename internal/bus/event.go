package bus

import "time"

// Event kinds published by chatline components. Subscribers filter by prefix
// ("store.", "message.", "sync.", "prefs.").
const (
	StoreMessagesChanged = "store.messages_changed"

	MessageQueued     = "message.queued"
	MessageDelivered  = "message.delivered"
	MessageSendFailed = "message.send_failed"
	MessageCommand    = "message.command"

	SyncPollOK        = "sync.poll_ok"
	SyncPollFailed    = "sync.poll_failed"
	SyncStatusChanged = "sync.status_changed"

	PrefsChanged = "prefs.changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
