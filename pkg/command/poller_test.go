package command

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravito-framework/pulsar-go/pkg/telegram"
	"github.com/gravito-framework/pulsar-go/pkg/types"
)

type pollResult struct {
	msgs []types.InboundMessage
	err  error
}

// fakeChannel replays scripted results and then blocks until ctx is done
type fakeChannel struct {
	mu      sync.Mutex
	script  []pollResult
	offsets []int64
}

func (f *fakeChannel) GetUpdates(ctx context.Context, offset int64, _ time.Duration) ([]types.InboundMessage, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	if len(f.script) > 0 {
		r := f.script[0]
		f.script = f.script[1:]
		f.mu.Unlock()
		return r.msgs, r.err
	}
	f.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeChannel) requested() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.offsets...)
}

type fakeSleeper struct {
	delays []time.Duration
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return ctx.Err()
}

type dispatchRecord struct {
	updateID int64
	cursor   int64
}

type recordingHandler struct {
	poller  *Poller
	records []dispatchRecord
	failOn  int64
	panicOn int64
}

func (h *recordingHandler) Handle(_ context.Context, msg types.InboundMessage) error {
	h.records = append(h.records, dispatchRecord{updateID: msg.UpdateID, cursor: h.poller.Cursor()})
	if msg.UpdateID == h.panicOn {
		panic("boom")
	}
	if msg.UpdateID == h.failOn {
		return errors.New("reply failed")
	}
	return nil
}

func msgs(ids ...int64) []types.InboundMessage {
	out := make([]types.InboundMessage, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.InboundMessage{UpdateID: id, ChatID: 1, Text: "/status"})
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPoller(ch Channel, opts ...Option) (*Poller, *recordingHandler, *fakeSleeper) {
	h := &recordingHandler{}
	s := &fakeSleeper{}
	opts = append([]Option{WithLogger(quietLogger()), WithSleeper(s)}, opts...)
	p := NewPoller(ch, h, opts...)
	h.poller = p
	return p, h, s
}

func TestCursorAdvancesPerMessage(t *testing.T) {
	ch := &fakeChannel{script: []pollResult{{msgs: msgs(5, 6, 7)}}}
	p, h, _ := newTestPoller(ch)
	p.cursor.Advance(4)

	require.NoError(t, p.PollOnce(context.Background()))

	assert.Equal(t, []int64{5}, ch.requested())
	assert.Equal(t, []dispatchRecord{
		{updateID: 5, cursor: 4},
		{updateID: 6, cursor: 5},
		{updateID: 7, cursor: 6},
	}, h.records)
	assert.Equal(t, int64(7), p.Cursor())
	assert.Equal(t, StateIdle, p.State())
}

func TestMessagesAreProcessedInUpdateOrder(t *testing.T) {
	ch := &fakeChannel{script: []pollResult{{msgs: msgs(9, 7, 8)}}}
	p, h, _ := newTestPoller(ch)

	require.NoError(t, p.PollOnce(context.Background()))

	require.Len(t, h.records, 3)
	assert.Equal(t, int64(7), h.records[0].updateID)
	assert.Equal(t, int64(9), h.records[2].updateID)
}

func TestTransportErrorRetriesSameOffset(t *testing.T) {
	ch := &fakeChannel{script: []pollResult{
		{err: errors.New("connection reset")},
		{msgs: msgs(11)},
	}}
	p, h, s := newTestPoller(ch)
	p.cursor.Advance(10)
	ctx := context.Background()

	err := p.PollOnce(ctx)
	require.Error(t, err)
	assert.Equal(t, int64(10), p.Cursor())
	assert.Empty(t, h.records)

	require.NoError(t, p.PollOnce(ctx))

	assert.Equal(t, []int64{11, 11}, ch.requested())
	assert.Equal(t, []time.Duration{time.Second}, s.delays)
	assert.Equal(t, int64(11), p.Cursor())
}

func TestMalformedPayloadIsRetryable(t *testing.T) {
	ch := &fakeChannel{script: []pollResult{{err: telegram.ErrMalformedUpdate}}}
	p, _, s := newTestPoller(ch)

	err := p.PollOnce(context.Background())

	assert.ErrorIs(t, err, telegram.ErrMalformedUpdate)
	assert.Equal(t, int64(0), p.Cursor())
	assert.Len(t, s.delays, 1)
}

func TestBackoffIsCappedExponentialAndResets(t *testing.T) {
	fail := pollResult{err: errors.New("timeout")}
	ch := &fakeChannel{script: []pollResult{fail, fail, fail, fail, fail, fail, fail, {}, fail}}
	p, _, s := newTestPoller(ch, WithBackoff(time.Second, 30*time.Second))
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		_ = p.PollOnce(ctx)
	}

	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		1 * time.Second, // reset by the successful empty poll
	}, s.delays)
}

func TestRetryAfterExtendsBackoff(t *testing.T) {
	ch := &fakeChannel{script: []pollResult{
		{err: &telegram.APIError{ErrorCode: 429, Description: "Too Many Requests", RetryAfter: 12}},
	}}
	p, _, s := newTestPoller(ch)

	_ = p.PollOnce(context.Background())

	assert.Equal(t, []time.Duration{12 * time.Second}, s.delays)
}

func TestCursorNeverDecreases(t *testing.T) {
	ch := &fakeChannel{script: []pollResult{
		{msgs: msgs(3, 4)},
		{err: errors.New("boom")},
		{msgs: msgs(2, 4)}, // stale redelivery
		{msgs: msgs(5)},
		{err: errors.New("boom")},
	}}
	p, h, _ := newTestPoller(ch)
	ctx := context.Background()

	prev := p.Cursor()
	for i := 0; i < 5; i++ {
		_ = p.PollOnce(ctx)
		assert.GreaterOrEqual(t, p.Cursor(), prev)
		prev = p.Cursor()
	}

	assert.Equal(t, int64(5), p.Cursor())
	// 2 and 4 were at or below the cursor and must not be dispatched again
	var ids []int64
	for _, r := range h.records {
		ids = append(ids, r.updateID)
	}
	assert.Equal(t, []int64{3, 4, 5}, ids)
}

func TestHandlerFailureStillAdvances(t *testing.T) {
	ch := &fakeChannel{script: []pollResult{{msgs: msgs(1, 2, 3)}}}
	p, h, _ := newTestPoller(ch)
	h.failOn = 1
	h.panicOn = 2

	require.NoError(t, p.PollOnce(context.Background()))

	assert.Len(t, h.records, 3)
	assert.Equal(t, int64(3), p.Cursor())
}

func TestStopCancelsInFlightRequest(t *testing.T) {
	ch := &fakeChannel{}
	p, _, _ := newTestPoller(ch)

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return len(ch.requested()) == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Len(t, ch.requested(), 1, "no request after stop")
	assert.Equal(t, StateIdle, p.State())
}

func TestStartTwiceFails(t *testing.T) {
	p, _, _ := newTestPoller(&fakeChannel{})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Error(t, p.Start(context.Background()))
}

func TestOffsetStoreRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisOffsetStore(client, "")
	require.NoError(t, mr.Set(DefaultOffsetKey, "41"))

	ch := &fakeChannel{script: []pollResult{{msgs: msgs(42)}}}
	p, _, _ := newTestPoller(ch, WithOffsetStore(store))

	require.NoError(t, p.Start(context.Background()))
	require.Eventually(t, func() bool { return p.Cursor() == 42 }, time.Second, 5*time.Millisecond)
	p.Stop()

	assert.Equal(t, int64(42), ch.requested()[0])
	saved, err := store.GetOffset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), saved)
}

func TestOffsetStoreMissingKey(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	got, err := NewRedisOffsetStore(client, "custom:key").GetOffset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}

func TestCursorAdvance(t *testing.T) {
	c := NewCursor(5)

	assert.False(t, c.Advance(3))
	assert.False(t, c.Advance(5))
	assert.True(t, c.Advance(8))
	assert.Equal(t, int64(8), c.Value())
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateIdle:       "idle",
		StateRequesting: "requesting",
		StateProcessing: "processing",
		StateBackoff:    "backoff",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}
}
