package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	redisclient "github.com/gravito-framework/pulsar-go/internal/redis"
	"github.com/gravito-framework/pulsar-go/pkg/agent"
	"github.com/gravito-framework/pulsar-go/pkg/types"
)

func newNodesCommand() *cobra.Command {
	var redisURL string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List live pulsar nodes from Redis heartbeats",
		RunE: func(cmd *cobra.Command, args []string) error {
			if redisURL == "" {
				redisURL = os.Getenv("PULSAR_REDIS_URL")
			}
			if redisURL == "" {
				redisURL = os.Getenv("REDIS_URL")
			}
			if redisURL == "" {
				redisURL = "redis://localhost:6379"
			}
			return listNodes(cmd.Context(), cmd.OutOrStdout(), redisURL, asJSON)
		},
	}

	cmd.Flags().StringVarP(&redisURL, "redis", "r", "", "Redis URL (default: $PULSAR_REDIS_URL or redis://localhost:6379)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw heartbeat payloads as JSON")
	return cmd
}

func listNodes(ctx context.Context, out io.Writer, redisURL string, asJSON bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := redisclient.NewClient(ctx, redisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	nodes, err := agent.ListNodes(ctx, client)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(nodes)
	}

	fmt.Fprintf(out, "Found %d Pulsar nodes:\n\n", len(nodes))
	for _, n := range nodes {
		printNode(out, n)
	}
	return nil
}

func printNode(out io.Writer, n types.HeartbeatPayload) {
	fmt.Fprintf(out, "📍 Node: %s (%s)\n", n.ID, n.Status)
	fmt.Fprintf(out, "   Host: %s, %s, pid %d, version %s\n", n.Hostname, n.Platform, n.PID, n.Version)
	if n.Sample != nil {
		s := n.Sample
		fmt.Fprintf(out, "   CPU: %.1f%%, Memory: %.1f%%, Disk: %.1f%%\n", s.CPUPercent, s.MemoryPercent(), s.DiskPercent)
	}
	if len(n.Errors) > 0 {
		fmt.Fprintf(out, "   Errors: %v\n", n.Errors)
	}
	age := time.Since(time.UnixMilli(n.Timestamp)).Round(time.Second)
	fmt.Fprintf(out, "   Last seen: %s ago\n\n", age)
}
