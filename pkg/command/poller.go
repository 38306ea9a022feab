// Package command runs the long-poll loop that receives operator commands
// and dispatches them to executors.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/gravito-framework/pulsar-go/pkg/telegram"
	"github.com/gravito-framework/pulsar-go/pkg/types"
)

const (
	DefaultPollWait    = 10 * time.Second
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 30 * time.Second

	offsetSaveTimeout = 5 * time.Second
)

// State is the poller's position in one poll cycle
type State int32

const (
	StateIdle State = iota
	StateRequesting
	StateProcessing
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateProcessing:
		return "processing"
	case StateBackoff:
		return "backoff"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Channel is the pull side of the messaging channel.
// offset is the lowest update id wanted; wait is the server-side long-poll duration.
type Channel interface {
	GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]types.InboundMessage, error)
}

// Handler processes one inbound message. An error is logged and the message
// still counts as handled.
type Handler interface {
	Handle(ctx context.Context, msg types.InboundMessage) error
}

// Sleeper waits between failed requests; it returns early with ctx.Err()
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Observer is told about poll failures and cursor movement
type Observer interface {
	PollError()
	CursorAdvanced(offset int64)
	CommandHandled(command string)
}

// Poller long-polls a Channel and feeds messages to a Handler in update order
type Poller struct {
	channel     Channel
	handler     Handler
	cursor      *Cursor
	offsetStore OffsetStore // nil = in-memory only
	sleeper     Sleeper
	logger      *slog.Logger
	observer    Observer

	wait        time.Duration
	backoffBase time.Duration
	backoffCap  time.Duration
	backoff     retry.Backoff

	state atomic.Int32

	runningMu sync.Mutex
	isRunning bool
	cancel    context.CancelFunc // cancels the in-flight long-poll request
	wg        sync.WaitGroup
}

// Option is a functional option for configuring the Poller
type Option func(*Poller)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		p.logger = logger
	}
}

// WithSleeper replaces the timer used in Backoff
func WithSleeper(s Sleeper) Option {
	return func(p *Poller) {
		p.sleeper = s
	}
}

// WithOffsetStore persists the cursor after every handled message
func WithOffsetStore(s OffsetStore) Option {
	return func(p *Poller) {
		p.offsetStore = s
	}
}

// WithObserver records poll errors and cursor movement
func WithObserver(o Observer) Option {
	return func(p *Poller) {
		p.observer = o
	}
}

// WithWait sets the server-side long-poll wait
func WithWait(d time.Duration) Option {
	return func(p *Poller) {
		p.wait = d
	}
}

// WithBackoff sets the capped exponential schedule used after failures
func WithBackoff(base, limit time.Duration) Option {
	return func(p *Poller) {
		p.backoffBase = base
		p.backoffCap = limit
	}
}

// NewPoller creates a poller starting at cursor 0
func NewPoller(channel Channel, handler Handler, opts ...Option) *Poller {
	p := &Poller{
		channel:     channel,
		handler:     handler,
		cursor:      NewCursor(0),
		sleeper:     timerSleeper{},
		logger:      slog.Default(),
		wait:        DefaultPollWait,
		backoffBase: DefaultBackoffBase,
		backoffCap:  DefaultBackoffCap,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.resetBackoff()
	return p
}

func (p *Poller) resetBackoff() {
	p.backoff = retry.WithCappedDuration(p.backoffCap, retry.NewExponential(p.backoffBase))
}

// State returns the current poll-cycle state
func (p *Poller) State() State {
	return State(p.state.Load())
}

func (p *Poller) setState(s State) {
	p.state.Store(int32(s))
}

// Cursor returns the highest processed update id
func (p *Poller) Cursor() int64 {
	return p.cursor.Value()
}

// Start loads the persisted cursor and begins polling in the background
func (p *Poller) Start(ctx context.Context) error {
	p.runningMu.Lock()
	if p.isRunning {
		p.runningMu.Unlock()
		return fmt.Errorf("poller already running")
	}
	p.isRunning = true
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.runningMu.Unlock()

	if p.offsetStore != nil {
		saved, err := p.offsetStore.GetOffset(ctx)
		if err != nil {
			p.logger.Warn("Failed to load polling offset, starting from 0", "error", err)
		} else if saved > 0 {
			p.cursor.Advance(saved)
			p.logger.Info("Loaded polling offset", "offset", saved)
		}
	}

	p.logger.Info("📡 Polling for commands", "wait", p.wait, "offset", p.cursor.Value()+1)

	p.wg.Add(1)
	go p.loop(pollCtx)
	return nil
}

// Stop cancels the in-flight request and waits for the loop to exit
func (p *Poller) Stop() {
	p.runningMu.Lock()
	if !p.isRunning {
		p.runningMu.Unlock()
		return
	}
	p.isRunning = false
	p.cancel()
	p.runningMu.Unlock()

	p.wg.Wait()
	p.setState(StateIdle)
	p.logger.Info("Command poller stopped", "cursor", p.cursor.Value())
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	for ctx.Err() == nil {
		_ = p.PollOnce(ctx)
	}
}

// PollOnce runs one Requesting → Processing → Idle cycle.
// On failure it passes through Backoff and returns the request error; the
// cursor is unchanged so the next cycle asks for the same offset.
func (p *Poller) PollOnce(ctx context.Context) error {
	p.setState(StateRequesting)
	offset := p.cursor.Value() + 1

	msgs, err := p.channel.GetUpdates(ctx, offset, p.wait)
	if err != nil {
		if ctx.Err() != nil {
			p.setState(StateIdle)
			return ctx.Err()
		}
		return p.enterBackoff(ctx, offset, err)
	}
	p.resetBackoff()

	if len(msgs) == 0 {
		p.setState(StateIdle)
		return nil
	}

	p.setState(StateProcessing)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].UpdateID < msgs[j].UpdateID })

	for _, msg := range msgs {
		// Dedup: a retried request may return messages already handled
		if msg.UpdateID <= p.cursor.Value() {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		p.dispatch(ctx, msg)

		if p.cursor.Advance(msg.UpdateID) {
			p.saveOffset(msg.UpdateID)
			if p.observer != nil {
				p.observer.CursorAdvanced(msg.UpdateID)
			}
		}
	}

	p.setState(StateIdle)
	return nil
}

func (p *Poller) enterBackoff(ctx context.Context, offset int64, err error) error {
	p.setState(StateBackoff)
	if p.observer != nil {
		p.observer.PollError()
	}

	delay, _ := p.backoff.Next()
	if ra := time.Duration(telegram.RetryAfter(err)) * time.Second; ra > delay {
		delay = ra
	}

	if errors.Is(err, telegram.ErrMalformedUpdate) {
		p.logger.Warn("Malformed updates payload, retrying", "offset", offset, "delay", delay, "error", err)
	} else {
		p.logger.Warn("Failed to get updates, retrying", "offset", offset, "delay", delay, "error", err)
	}

	if serr := p.sleeper.Sleep(ctx, delay); serr != nil {
		p.setState(StateIdle)
		return serr
	}
	p.setState(StateIdle)
	return err
}

// dispatch runs the handler synchronously; a panic counts as a handled failure
func (p *Poller) dispatch(ctx context.Context, msg types.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panic recovered in command handler", "update_id", msg.UpdateID, "panic", fmt.Sprintf("%v", r))
		}
	}()

	if err := p.handler.Handle(ctx, msg); err != nil {
		p.logger.Error("Failed to handle update", "update_id", msg.UpdateID, "error", err)
	}
}

func (p *Poller) saveOffset(offset int64) {
	if p.offsetStore == nil {
		return
	}
	// Fresh context: the poll context may already be cancelled during shutdown
	ctx, cancel := context.WithTimeout(context.Background(), offsetSaveTimeout)
	defer cancel()
	if err := p.offsetStore.SaveOffset(ctx, offset); err != nil {
		p.logger.Warn("Failed to save polling offset", "offset", offset, "error", err)
	}
}
