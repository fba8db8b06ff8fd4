package live

import (
	"context"
	"sync"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/store"
	"go.uber.org/zap"
)

// ReplyCache resolves reply targets by server id. One live entry is created
// per id on first request and shared by every subscriber of that id; it is
// dropped when the last subscriber's context ends.
type ReplyCache struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	entries map[int64]*replyEntry
	cancel  context.CancelFunc
	done    chan struct{}
}

type replyEntry struct {
	value *Value[*store.Message]
	refs  int
}

// NewReplyCache creates an empty cache. Call Start to follow store changes.
func NewReplyCache(db *store.DB, b *bus.Bus, logger *zap.Logger) *ReplyCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplyCache{
		db:      db,
		bus:     b,
		logger:  logger,
		entries: make(map[int64]*replyEntry),
	}
}

// Start refreshes cached entries whenever the store changes.
func (c *ReplyCache) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ch, unsub := c.bus.Subscribe("store.", 64)
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		defer unsub()
		for {
			select {
			case <-ch:
				c.refresh()
			case <-ctx.Done():
				return
			}
		}
	}(c.done)
}

// Close stops following changes and drops every entry.
func (c *ReplyCache) Close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.entries = make(map[int64]*replyEntry)
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Resolve returns a live view of the message with the given server id. The
// channel yields nil while the message is unknown and the message once it is
// stored, without re-subscribing. Server id 0 ("no reply") always yields nil.
// The subscription holds the entry until ctx is done.
func (c *ReplyCache) Resolve(ctx context.Context, serverID int64) <-chan *store.Message {
	if serverID == 0 {
		return NewValue[*store.Message](nil, nil).Subscribe(ctx)
	}
	e := c.acquire(serverID)
	ch := e.value.Subscribe(ctx)
	go func() {
		<-ctx.Done()
		c.release(serverID, e)
	}()
	return ch
}

// Lookup returns the target for serverID from a live entry when one exists,
// and from the store otherwise. It does not create an entry.
func (c *ReplyCache) Lookup(serverID int64) (*store.Message, error) {
	if serverID == 0 {
		return nil, nil
	}
	c.mu.Lock()
	e, ok := c.entries[serverID]
	c.mu.Unlock()
	if ok {
		return e.value.Get(), nil
	}
	return c.db.FindByServerID(serverID)
}

// Len reports how many ids have live subscribers.
func (c *ReplyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ReplyCache) acquire(serverID int64) *replyEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[serverID]; ok {
		e.refs++
		return e
	}
	m, err := c.db.FindByServerID(serverID)
	if err != nil {
		c.logger.Warn("reply lookup failed", zap.Int64("server_id", serverID), zap.Error(err))
	}
	e := &replyEntry{value: NewValue(m, sameMessage), refs: 1}
	c.entries[serverID] = e
	return e
}

// release drops one reference to e. An entry replaced by Close is ignored.
func (c *ReplyCache) release(serverID int64, e *replyEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[serverID] != e {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(c.entries, serverID)
	}
}

func (c *ReplyCache) refresh() {
	c.mu.Lock()
	ids := make([]int64, 0, len(c.entries))
	values := make([]*Value[*store.Message], 0, len(c.entries))
	for id, e := range c.entries {
		ids = append(ids, id)
		values = append(values, e.value)
	}
	c.mu.Unlock()

	for i, id := range ids {
		m, err := c.db.FindByServerID(id)
		if err != nil {
			c.logger.Warn("reply refresh failed", zap.Int64("server_id", id), zap.Error(err))
			continue
		}
		values[i].Set(m)
	}
}

func sameMessage(a, b *store.Message) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
