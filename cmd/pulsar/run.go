package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gravito-framework/pulsar-go/internal/logging"
	"github.com/gravito-framework/pulsar-go/pkg/agent"
	"github.com/gravito-framework/pulsar-go/pkg/config"
)

const runLong = `Start the daemon in the foreground until SIGINT or SIGTERM.

Settings come from the optional YAML file, then from the environment:
  PULSAR_NAME                      Node name (default: hostname)
  PULSAR_PERIOD_MS                 Sampling period in milliseconds (default: 1000)
  PULSAR_PROBE_MODE                gopsutil or command (default: gopsutil)
  PULSAR_CPU_THRESHOLD             CPU alert level in percent (default: 90)
  PULSAR_MEMORY_THRESHOLD          Memory alert level in percent (default: 90)
  PULSAR_DISK_THRESHOLD            Disk alert level in percent (default: 90)
  PULSAR_TEMPERATURE_THRESHOLD     CPU temperature alert in °C (default: off)
  PULSAR_TELEGRAM_ENABLED          Enable alerts and commands over Telegram
  PULSAR_TELEGRAM_TOKEN            Bot token (or TELEGRAM_BOT_TOKEN)
  PULSAR_TELEGRAM_CHAT_ID          Chat receiving alerts
  PULSAR_TELEGRAM_ALLOWED_CHAT_ID  Only accept commands from this chat
  PULSAR_TELEGRAM_POLL_TIMEOUT     Long-poll wait in seconds (default: 10)
  PULSAR_TELEGRAM_PERSIST_OFFSET   Keep the command cursor in Redis
  PULSAR_STORE                     memory, sqlite, postgres or redis (default: memory)
  PULSAR_STORE_DSN                 Database file or DSN for sqlite/postgres
  PULSAR_STORE_CAPACITY            Samples kept by memory/redis stores (default: 86400)
  PULSAR_HTTP_ADDR                 Status API address, empty disables (default: :8080)
  PULSAR_REDIS_URL                 Redis for heartbeats, store and offset (or REDIS_URL)
  PULSAR_HEARTBEAT_INTERVAL        Heartbeat interval in seconds (default: 10)
  PULSAR_LOG_FORMAT                text or json (default: text)
  PULSAR_LOG_LEVEL                 debug, info, warn or error (default: info)`

func newRunCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitoring daemon",
		Long:  runLong,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	return cmd
}

func run(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(os.Stdout, cfg.Log.Format, cfg.Log.Level)
	if cfg.Log.Format != "json" {
		printBanner()
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := agent.New(ctx, cfg, agent.WithLogger(logger), agent.WithVersion(version))
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	// Graceful shutdown
	if err := a.Stop(context.Background()); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
