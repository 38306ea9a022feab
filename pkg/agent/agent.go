// Package agent wires the pulsar daemon together and owns its lifecycle.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	redisclient "github.com/gravito-framework/pulsar-go/internal/redis"
	"github.com/gravito-framework/pulsar-go/pkg/alert"
	"github.com/gravito-framework/pulsar-go/pkg/api"
	"github.com/gravito-framework/pulsar-go/pkg/command"
	"github.com/gravito-framework/pulsar-go/pkg/config"
	"github.com/gravito-framework/pulsar-go/pkg/notify"
	"github.com/gravito-framework/pulsar-go/pkg/observability"
	"github.com/gravito-framework/pulsar-go/pkg/probes"
	"github.com/gravito-framework/pulsar-go/pkg/sampler"
	"github.com/gravito-framework/pulsar-go/pkg/store"
	"github.com/gravito-framework/pulsar-go/pkg/telegram"
	"github.com/gravito-framework/pulsar-go/pkg/types"
)

const shutdownTimeout = 5 * time.Second

// Agent is the pulsar monitoring daemon
type Agent struct {
	config  *config.Config
	logger  *slog.Logger
	version string

	systemProbe probes.SystemProbe
	store       store.Store
	redis       *redis.Client
	telegram    *telegram.Client
	metrics     *observability.Metrics

	alerter   *alert.Alerter
	notifier  *notify.TelegramNotifier
	sampler   *sampler.Sampler
	poller    *command.Poller
	server    *api.Server
	heartbeat *Heartbeat

	// State
	nodeID  string
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
}

// Option is a functional option for configuring the Agent
type Option func(*Agent)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// WithSystemProbe sets a custom system probe
func WithSystemProbe(probe probes.SystemProbe) Option {
	return func(a *Agent) {
		a.systemProbe = probe
	}
}

// WithStore sets a custom sample store
func WithStore(s store.Store) Option {
	return func(a *Agent) {
		a.store = s
	}
}

// WithRedisClient sets the redis client instead of dialing RedisURL
func WithRedisClient(client *redis.Client) Option {
	return func(a *Agent) {
		a.redis = client
	}
}

// WithTelegramClient sets the bot API client, e.g. one pointed at a test server
func WithTelegramClient(client *telegram.Client) Option {
	return func(a *Agent) {
		a.telegram = client
	}
}

// WithVersion sets the version reported in heartbeats
func WithVersion(version string) Option {
	return func(a *Agent) {
		a.version = version
	}
}

// New validates the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{
		config:  cfg,
		logger:  slog.Default(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.redis == nil && cfg.RedisURL != "" {
		client, err := redisclient.NewClientLazy(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		a.redis = client
	}

	if a.systemProbe == nil {
		probe, err := newSystemProbe(ctx, cfg.ProbeMode)
		if err != nil {
			return nil, fmt.Errorf("failed to create system probe: %w", err)
		}
		a.systemProbe = probe
	}

	a.nodeID = a.resolveNodeID(ctx)

	if a.store == nil {
		s, err := a.openStore()
		if err != nil {
			return nil, err
		}
		a.store = s
	}

	a.metrics = observability.NewMetrics()
	a.buildMessaging()
	a.buildAlerter()

	samplerOpts := []sampler.Option{
		sampler.WithLogger(a.logger),
		sampler.WithObserver(a.metrics),
		sampler.WithPeriod(cfg.Period),
		sampler.WithProbeTimeout(cfg.ProbeTimeout),
	}
	if a.alerter != nil {
		samplerOpts = append(samplerOpts, sampler.WithAlerter(a.alerter))
	}
	a.sampler = sampler.New(a.systemProbe, a.store, samplerOpts...)

	if cfg.HTTPAddr != "" {
		deps := api.Deps{
			Latest:  a.sampler,
			Host:    a.systemProbe,
			Store:   a.store,
			Metrics: a.metrics.Handler(),
			Logger:  a.logger,
		}
		if a.alerter != nil {
			deps.Alerts = a.alerter
		}
		a.server = api.NewServer(cfg.HTTPAddr, deps)
	}

	if a.redis != nil {
		a.heartbeat = &Heartbeat{
			client:  a.redis,
			nodeID:  a.nodeID,
			version: a.version,
			latest:  a.sampler.Latest,
			host:    a.systemProbe.Host,
			errors:  a.sampler.Problems,
			logger:  a.logger,
		}
	}

	return a, nil
}

func newSystemProbe(ctx context.Context, mode string) (probes.SystemProbe, error) {
	if mode == config.ProbeCommand {
		return probes.NewCommandProbe(nil), nil
	}
	return probes.NewGoSystemProbe(ctx)
}

func (a *Agent) resolveNodeID(ctx context.Context) string {
	if a.config.Name != "" {
		return a.config.Name
	}
	if info, err := a.systemProbe.Host(ctx); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return fmt.Sprintf("pulsar-%d", os.Getpid())
}

func (a *Agent) openStore() (store.Store, error) {
	switch a.config.Store.Driver {
	case config.StoreSQLite, config.StorePostgres:
		s, err := store.OpenSQL(a.config.Store.Driver, a.config.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		return s, nil
	case config.StoreRedis:
		return store.NewRedisStore(a.redis, a.nodeID, a.config.Store.Capacity), nil
	default:
		return store.NewMemoryStore(a.config.Store.Capacity), nil
	}
}

// buildMessaging sets up the Telegram client, the command poller and the
// alert notifier. A bad messaging config only disables messaging.
func (a *Agent) buildMessaging() {
	tg := a.config.Telegram
	if !tg.Enabled {
		return
	}
	if err := a.config.TelegramError(); err != nil {
		a.logger.Warn("⚠️ Telegram disabled", "error", err)
		return
	}

	if a.telegram == nil {
		var opts []telegram.Option
		if tg.BaseURL != "" {
			opts = append(opts, telegram.WithBaseURL(tg.BaseURL))
		}
		a.telegram = telegram.NewClient(tg.Token, opts...)
	}

	dispatcher := command.NewDispatcher(a.telegram, command.DispatcherConfig{
		DefaultChatID: tg.ChatID,
		AllowedChatID: tg.AllowedChatID,
		Logger:        a.logger,
		Observer:      a.metrics,
	})
	dispatcher.RegisterExecutor(command.NewStatusExecutor(a.latestSource(), a.systemProbe))
	dispatcher.RegisterExecutor(command.NewMetricExecutor(a.latestSource()))

	pollerOpts := []command.Option{
		command.WithLogger(a.logger),
		command.WithObserver(a.metrics),
		command.WithWait(tg.PollTimeout),
	}
	if tg.PersistOffset {
		if a.redis != nil {
			pollerOpts = append(pollerOpts, command.WithOffsetStore(
				command.NewRedisOffsetStore(a.redis, command.DefaultOffsetKey+":"+a.nodeID),
			))
		} else {
			a.logger.Warn("⚠️ Offset persistence needs a redis URL, keeping the cursor in memory")
		}
	}
	a.poller = command.NewPoller(a.telegram, dispatcher, pollerOpts...)
}

func (a *Agent) buildAlerter() {
	if err := a.config.AlertingError(); err != nil {
		a.logger.Warn("⚠️ Alerting disabled", "error", err)
		return
	}

	th := a.config.Thresholds
	rules := []alert.Rule{
		{Metric: alert.MetricCPU, Threshold: th.CPU},
		{Metric: alert.MetricMemory, Threshold: th.Memory},
		{Metric: alert.MetricDisk, Threshold: th.Disk},
	}
	if th.Temperature > 0 {
		rules = append(rules, alert.Rule{Metric: alert.MetricTemperature, Threshold: th.Temperature})
	}

	var notifier alert.Notifier = notify.NewLogNotifier(a.logger)
	if a.poller != nil {
		a.notifier = notify.NewTelegramNotifier(a.telegram, a.config.Telegram.ChatID, notify.WithLogger(a.logger))
		notifier = a.notifier
	}

	a.alerter = alert.New(rules, notifier,
		alert.WithLogger(a.logger),
		alert.WithObserver(a.metrics),
		alert.WithHostname(a.nodeID),
	)
}

// latestSource defers to the sampler, which is built after messaging
func (a *Agent) latestSource() command.LatestSource {
	return latestFunc(func() (types.Sample, bool) {
		if a.sampler == nil {
			return types.Sample{}, false
		}
		return a.sampler.Latest()
	})
}

type latestFunc func() (types.Sample, bool)

func (f latestFunc) Latest() (types.Sample, bool) { return f() }

// Start launches the sampler, the command poller, the HTTP server and heartbeats
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("agent already running")
	}
	a.running = true
	ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	// Test redis connection (non-fatal)
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.logger.Warn("⚠️ Failed to connect to Redis, will retry in background", "error", err)
		}
	}

	a.logger.Info("Pulsar Agent started",
		"node", a.nodeID,
		"period", a.config.Period,
		"probe", a.config.ProbeMode,
		"store", a.config.Store.Driver,
		"alerting", a.alerter != nil,
		"telegram", a.poller != nil,
	)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.sampler.Run(ctx)
	}()

	if a.poller != nil {
		if err := a.poller.Start(ctx); err != nil {
			a.logger.Error("Failed to start command poller", "error", err)
		}
	}

	if a.server != nil {
		a.server.Start()
	}

	if a.heartbeat != nil {
		a.wg.Add(1)
		go a.heartbeatLoop(ctx)
	}

	return nil
}

// Stop gracefully stops the agent
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.cancel()
	a.mu.Unlock()

	if a.poller != nil {
		a.poller.Stop()
	}

	// Wait for goroutines
	a.wg.Wait()

	// Let queued alerts finish; each is bounded by the send timeout
	if a.notifier != nil {
		a.notifier.Wait()
	}

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Failed to stop HTTP server", "error", err)
		}
		cancel()
	}

	if a.heartbeat != nil {
		// Drop the key so the node leaves listings immediately
		if err := a.redis.Del(ctx, a.heartbeat.Key()).Err(); err != nil {
			a.logger.Warn("Failed to remove heartbeat", "error", err)
		}
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close store", "error", err)
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("Failed to close Redis", "error", err)
		}
	}

	a.logger.Info("Pulsar Agent stopped")
	return nil
}

// NodeID returns the node identifier
func (a *Agent) NodeID() string {
	return a.nodeID
}

// Sampler exposes the sampler, mostly for the latest sample
func (a *Agent) Sampler() *sampler.Sampler {
	return a.sampler
}

// Metrics returns the agent's Prometheus collectors
func (a *Agent) Metrics() *observability.Metrics {
	return a.metrics
}

// AlertingEnabled reports whether thresholds were usable
func (a *Agent) AlertingEnabled() bool {
	return a.alerter != nil
}

// MessagingEnabled reports whether the Telegram poller is configured
func (a *Agent) MessagingEnabled() bool {
	return a.poller != nil
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.heartbeat.Publish(ctx); err != nil {
				a.logger.Error("Heartbeat failed", "error", err)
			}
		}
	}
}
