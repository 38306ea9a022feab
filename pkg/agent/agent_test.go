package agent

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravito-framework/pulsar-go/pkg/config"
	"github.com/gravito-framework/pulsar-go/pkg/probes"
	"github.com/gravito-framework/pulsar-go/pkg/store"
	"github.com/gravito-framework/pulsar-go/pkg/telegram"
	"github.com/gravito-framework/pulsar-go/pkg/types"
)

type staticProbe struct {
	cpu float64
}

func (p *staticProbe) Probe(context.Context) (*probes.RawCounters, error) {
	return &probes.RawCounters{
		CPUPercent:  p.cpu,
		CPUPrimed:   true,
		MemoryTotal: 1000,
		MemoryUsed:  250,
		DiskTotal:   1000,
		DiskUsed:    100,
		DiskPercent: 10,
	}, nil
}

func (p *staticProbe) Host(context.Context) (*types.HostInfo, error) {
	return &types.HostInfo{Hostname: "probe-host", Platform: "linux", LogicalCores: 4}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Name = "node-a"
	cfg.Period = 10 * time.Millisecond
	cfg.HTTPAddr = ""
	cfg.HeartbeatInterval = 10 * time.Millisecond
	return cfg
}

func newTestAgent(t *testing.T, cfg *config.Config, opts ...Option) *Agent {
	t.Helper()
	opts = append([]Option{
		WithLogger(quietLogger()),
		WithSystemProbe(&staticProbe{cpu: 20}),
	}, opts...)
	a, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	return a
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Period = 0

	_, err := New(context.Background(), cfg, WithSystemProbe(&staticProbe{}))

	var cfgErr *config.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "Period", cfgErr.Field)
}

func TestNodeIDFallsBackToHostname(t *testing.T) {
	cfg := testConfig()
	cfg.Name = ""

	a := newTestAgent(t, cfg)

	assert.Equal(t, "probe-host", a.NodeID())
}

func TestAgentSamplesIntoStore(t *testing.T) {
	mem := store.NewMemoryStore(0)
	a := newTestAgent(t, testConfig(), WithStore(mem))

	require.NoError(t, a.Start(context.Background()))
	require.Error(t, a.Start(context.Background()))

	require.Eventually(t, func() bool { return mem.Len() >= 2 }, 2*time.Second, 5*time.Millisecond)

	s, ok := a.Sampler().Latest()
	require.True(t, ok)
	assert.Equal(t, 20.0, s.CPUPercent)
	assert.Equal(t, 25.0, s.MemoryPercent())

	require.NoError(t, a.Stop(context.Background()))
	require.NoError(t, a.Stop(context.Background()))
}

func TestInvalidThresholdDisablesOnlyAlerting(t *testing.T) {
	cfg := testConfig()
	cfg.Thresholds.CPU = math.NaN()

	a := newTestAgent(t, cfg)

	assert.False(t, a.AlertingEnabled())
	assert.NotNil(t, a.Sampler())
}

func TestTelegramMisconfigDisablesOnlyMessaging(t *testing.T) {
	cfg := testConfig()
	cfg.Telegram.Enabled = true
	cfg.Telegram.Token = ""

	a := newTestAgent(t, cfg)

	assert.False(t, a.MessagingEnabled())
	assert.True(t, a.AlertingEnabled())
}

// botServer answers getUpdates with nothing and records sendMessage bodies
type botServer struct {
	mu   sync.Mutex
	sent []string
}

func (b *botServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			select {
			case <-r.Context().Done():
			case <-time.After(20 * time.Millisecond):
			}
			_, _ = io.WriteString(w, `{"ok":true,"result":[]}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var body struct {
				Text string `json:"text"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			b.mu.Lock()
			b.sent = append(b.sent, body.Text)
			b.mu.Unlock()
			_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
		default:
			http.NotFound(w, r)
		}
	})
}

func (b *botServer) messages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sent...)
}

func TestHighCPUNotifiesTelegramOnce(t *testing.T) {
	bot := &botServer{}
	srv := httptest.NewServer(bot.handler())
	defer srv.Close()

	cfg := testConfig()
	cfg.Telegram.Enabled = true
	cfg.Telegram.Token = "TOKEN"
	cfg.Telegram.ChatID = 42
	cfg.Telegram.PollTimeout = time.Second

	a := newTestAgent(t, cfg,
		WithSystemProbe(&staticProbe{cpu: 97}),
		WithTelegramClient(telegram.NewClient("TOKEN", telegram.WithBaseURL(srv.URL))),
	)
	require.True(t, a.MessagingEnabled())

	require.NoError(t, a.Start(context.Background()))
	require.Eventually(t, func() bool { return len(bot.messages()) > 0 }, 2*time.Second, 5*time.Millisecond)

	// Sustained load must not notify again
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, a.Stop(context.Background()))

	msgs := bot.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "WARNING ALERT")
	assert.Contains(t, msgs[0], "97.0%")
	assert.Contains(t, msgs[0], "node-a")
}

func TestAgentPublishesHeartbeat(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	cfg.RedisURL = mr.Addr()

	a := newTestAgent(t, cfg, WithRedisClient(client), WithVersion("1.2.3"))
	require.NoError(t, a.Start(context.Background()))

	require.Eventually(t, func() bool { return mr.Exists(keyPrefix + "node-a") }, 2*time.Second, 5*time.Millisecond)

	raw, err := mr.Get(keyPrefix + "node-a")
	require.NoError(t, err)
	var p types.HeartbeatPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	assert.Equal(t, "node-a", p.ID)
	assert.Equal(t, "1.2.3", p.Version)
	assert.Equal(t, "probe-host", p.Hostname)

	require.NoError(t, a.Stop(context.Background()))
	assert.False(t, mr.Exists(keyPrefix+"node-a"))
}
