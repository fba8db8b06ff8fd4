package live

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/store"
	"go.uber.org/zap"
)

// History keeps the full ordered message history current and pushes a fresh
// snapshot to observers after every committed store write.
type History struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	value  *Value[[]store.Message]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHistory creates a history view. Call Start before observing.
func NewHistory(db *store.DB, b *bus.Bus, logger *zap.Logger) *History {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &History{
		db:     db,
		bus:    b,
		logger: logger,
		value:  NewValue(nil, sameHistory),
	}
}

// Start loads the current history and follows store changes until Stop.
func (h *History) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return nil
	}

	// Subscribe before the initial load so no write slips in between.
	ch, unsub := h.bus.Subscribe("store.", 64)
	if err := h.reload(); err != nil {
		unsub()
		return fmt.Errorf("load history: %w", err)
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		defer unsub()
		for {
			select {
			case <-ch:
				if err := h.reload(); err != nil {
					h.logger.Error("failed to reload history", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}(h.done)
	return nil
}

// Stop stops following store changes. Existing subscriptions keep their
// last snapshot until their context ends.
func (h *History) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (h *History) reload() error {
	msgs, err := h.db.ListMessages()
	if err != nil {
		return err
	}
	h.value.Set(msgs)
	return nil
}

// sameHistory suppresses snapshots identical to the last one, as after a
// poll that re-merges known messages.
func sameHistory(a, b []store.Message) bool {
	return slices.Equal(a, b)
}

// Current returns the latest snapshot in insertion order.
func (h *History) Current() []store.Message {
	return h.value.Get()
}

// Observe yields the current snapshot, then a new snapshot on every change.
// Snapshots are in insertion order; callers reverse for newest-first display.
func (h *History) Observe(ctx context.Context) <-chan []store.Message {
	return h.value.Subscribe(ctx)
}
