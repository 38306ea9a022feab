// Package store provides the append-only time-series sink for samples.
package store

import (
	"context"
	"fmt"

	"github.com/gravito-framework/pulsar-go/pkg/types"
)

// Store persists samples and returns the most recent ones.
// Implementations serialize appends and never expose a partially written row.
type Store interface {
	// Append records a new row; each call is a new row
	Append(ctx context.Context, s types.Sample) error
	// QueryRecent returns at most n samples, newest first
	QueryRecent(ctx context.Context, n int) ([]types.Sample, error)
	Close() error
}

// StoreError is returned when the persistence backend is unavailable
type StoreError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Driver names accepted by Open
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)
