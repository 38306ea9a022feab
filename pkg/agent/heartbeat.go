package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gravito-framework/pulsar-go/pkg/types"
)

const (
	keyPrefix = "gravito:pulsar:node:"
	keyTTL    = 30 * time.Second
)

// Heartbeat publishes the node's latest sample to redis with a TTL,
// so a node disappears from listings shortly after it stops.
type Heartbeat struct {
	client  *redis.Client
	nodeID  string
	version string
	latest  func() (types.Sample, bool)
	host    func(ctx context.Context) (*types.HostInfo, error)
	errors  func() []string
	logger  *slog.Logger
}

// Key returns the redis key this node publishes to
func (h *Heartbeat) Key() string {
	return keyPrefix + h.nodeID
}

// Publish writes one heartbeat
func (h *Heartbeat) Publish(ctx context.Context) error {
	payload := types.HeartbeatPayload{
		ID:        h.nodeID,
		PID:       os.Getpid(),
		Version:   h.version,
		Status:    "online",
		Timestamp: time.Now().UnixMilli(),
	}

	if info, err := h.host(ctx); err != nil {
		h.logger.Warn("Host facts unavailable for heartbeat", "error", err)
	} else {
		payload.Host = *info
		payload.Hostname = info.Hostname
		payload.Platform = info.Platform
	}

	if s, ok := h.latest(); ok {
		payload.Sample = &s
	}
	if problems := h.errors(); len(problems) > 0 {
		payload.Status = "degraded"
		payload.Errors = problems
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := h.client.Set(ctx, h.Key(), data, keyTTL).Err(); err != nil {
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}

	h.logger.Debug("Heartbeat sent", "key", h.Key(), "status", payload.Status)
	return nil
}

// ListNodes reads every live heartbeat, sorted by node id.
// Entries that vanish or fail to decode between scan and read are skipped.
func ListNodes(ctx context.Context, client *redis.Client) ([]types.HeartbeatPayload, error) {
	var keys []string
	iter := client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan node keys: %w", err)
	}

	nodes := make([]types.HeartbeatPayload, 0, len(keys))
	for _, key := range keys {
		val, err := client.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		var p types.HeartbeatPayload
		if err := json.Unmarshal([]byte(val), &p); err != nil {
			continue
		}
		nodes = append(nodes, p)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}
