package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatline/internal/bus"
	"github.com/matheus3301/chatline/internal/gateway"
	"github.com/matheus3301/chatline/internal/metrics"
	"github.com/matheus3301/chatline/internal/status"
	"github.com/matheus3301/chatline/internal/store"
	"go.uber.org/zap"
)

// Gateway is the subset of the remote client the poller needs.
type Gateway interface {
	Send(ctx context.Context, command string) (string, error)
}

// Options tune the poll loop.
type Options struct {
	Interval       time.Duration
	MaxBackoff     time.Duration
	HistoryCommand string
}

// PollResult is the payload of sync.poll_ok and sync.poll_failed events.
type PollResult struct {
	Merged   int
	Error    string
	Failures int
}

// Poller periodically fetches the remote history and merges it into the store.
type Poller struct {
	db      *store.DB
	gw      Gateway
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	opts    Options

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller. Zero options fall back to a 3s interval, a one
// minute backoff cap and the "history" command.
func NewPoller(db *store.DB, gw Gateway, b *bus.Bus, machine *status.Machine, opts Options, logger *zap.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.MaxBackoff < opts.Interval {
		opts.MaxBackoff = max(time.Minute, opts.Interval)
	}
	if opts.HistoryCommand == "" {
		opts.HistoryCommand = "history"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		db:      db,
		gw:      gw,
		bus:     b,
		machine: machine,
		logger:  logger,
		opts:    opts,
	}
}

// Start launches the poll loop. It returns false if the loop is already running.
func (p *Poller) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return false
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
	p.logger.Info("poller started", zap.Duration("interval", p.opts.Interval))
	return true
}

// Stop cancels the loop and waits for the in-flight poll to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	if p.machine != nil {
		_ = p.machine.Transition(status.Stopped)
	}
	p.logger.Info("poller stopped")
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	failures := 0
	for {
		_, err := p.PollOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			p.logger.Warn("poll failed", zap.Error(err), zap.Int("failures", failures))
			if p.machine != nil {
				_ = p.machine.Fail(gateway.Describe(err))
			}
		} else {
			failures = 0
			if p.machine != nil {
				_ = p.machine.Transition(status.Running)
			}
		}

		timer := time.NewTimer(p.delay(failures))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// delay returns the wait before the next poll after n consecutive failures.
func (p *Poller) delay(n int) time.Duration {
	d := p.opts.Interval
	for i := 0; i < n; i++ {
		d *= 2
		if d >= p.opts.MaxBackoff {
			return p.opts.MaxBackoff
		}
	}
	return d
}

// PollOnce fetches one history batch and merges it. It returns the number of
// messages merged.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := p.poll(ctx)
	if ctx.Err() != nil {
		return n, ctx.Err()
	}
	metrics.ObservePoll(err == nil, time.Since(start), n)
	if err != nil {
		p.bus.Emit(bus.SyncPollFailed, PollResult{Error: gateway.Describe(err)})
		return 0, err
	}
	p.bus.Emit(bus.SyncPollOK, PollResult{Merged: n})
	return n, nil
}

func (p *Poller) poll(ctx context.Context) (int, error) {
	body, err := p.gw.Send(ctx, p.opts.HistoryCommand)
	if err != nil {
		return 0, err
	}
	remote, err := gateway.DecodeHistory(body)
	if err != nil {
		return 0, err
	}
	msgs, skipped := Reverse(remote)
	if skipped > 0 {
		p.logger.Warn("history entries without a server id ignored", zap.Int("count", skipped))
	}
	if err := p.db.MergeRemote(msgs); err != nil {
		return 0, fmt.Errorf("merge history: %w", err)
	}
	if len(msgs) > 0 {
		p.logger.Debug("history merged", zap.Int("messages", len(msgs)))
	}
	return len(msgs), nil
}

// Reverse converts a newest-first server batch into store rows, oldest first.
// Entries without a positive id cannot be merged idempotently; they are left
// out and counted in skipped.
func Reverse(remote []gateway.RemoteMessage) (msgs []*store.Message, skipped int) {
	msgs = make([]*store.Message, 0, len(remote))
	for i := len(remote) - 1; i >= 0; i-- {
		r := remote[i]
		if r.ID <= 0 {
			skipped++
			continue
		}
		msgs = append(msgs, &store.Message{
			ServerID:  r.ID,
			ClientID:  r.ClientID,
			Author:    r.Author,
			Body:      r.Text,
			Timestamp: r.Timestamp,
			ReplyTo:   r.ReplyTo,
			Status:    store.Delivered,
		})
	}
	return msgs, skipped
}
