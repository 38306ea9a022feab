package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gravito-framework/pulsar-go/pkg/types"
)

// SampleModel is the database row for one sample
type SampleModel struct {
	ID                uint    `gorm:"primaryKey"`
	CPU               float64 `gorm:"not null"`
	MemoryTotal       uint64  `gorm:"not null"`
	MemoryUsed        uint64  `gorm:"not null"`
	DiskUsage         float64 `gorm:"not null"`
	DiskTotal         uint64  `gorm:"not null;default:0"`
	DiskUsed          uint64  `gorm:"not null;default:0"`
	SwapTotal         uint64  `gorm:"not null;default:0"`
	SwapUsed          uint64  `gorm:"not null;default:0"`
	Temperature       *float64
	TemperatureSource string `gorm:"size:16"`
	FrequencyGHz      *float64
	Timestamp         time.Time `gorm:"not null;index:idx_metric_samples_timestamp"`
}

// TableName specifies the table name for GORM
func (SampleModel) TableName() string {
	return "metric_samples"
}

func toModel(s types.Sample) *SampleModel {
	return &SampleModel{
		CPU:               s.CPUPercent,
		MemoryTotal:       s.MemoryTotal,
		MemoryUsed:        s.MemoryUsed,
		DiskUsage:         s.DiskPercent,
		DiskTotal:         s.DiskTotal,
		DiskUsed:          s.DiskUsed,
		SwapTotal:         s.SwapTotal,
		SwapUsed:          s.SwapUsed,
		Temperature:       s.Temperature,
		TemperatureSource: string(s.TemperatureSource),
		FrequencyGHz:      s.FrequencyGHz,
		Timestamp:         s.Timestamp,
	}
}

func (m *SampleModel) toSample() types.Sample {
	return types.Sample{
		Timestamp:         m.Timestamp,
		CPUPercent:        m.CPU,
		MemoryTotal:       m.MemoryTotal,
		MemoryUsed:        m.MemoryUsed,
		DiskPercent:       m.DiskUsage,
		DiskTotal:         m.DiskTotal,
		DiskUsed:          m.DiskUsed,
		SwapTotal:         m.SwapTotal,
		SwapUsed:          m.SwapUsed,
		Temperature:       m.Temperature,
		TemperatureSource: types.TemperatureSource(m.TemperatureSource),
		FrequencyGHz:      m.FrequencyGHz,
	}
}

// SQLStore persists samples with GORM
type SQLStore struct {
	db      *gorm.DB
	backend string
}

// OpenSQL connects to sqlite or postgres and migrates the samples table
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			dsn = "pulsar.db"
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres store requires a DSN")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, &StoreError{Backend: driver, Op: "open", Err: err}
	}

	return NewSQLStore(db, driver)
}

// NewSQLStore wraps an existing connection and migrates the samples table
func NewSQLStore(db *gorm.DB, backend string) (*SQLStore, error) {
	if err := db.AutoMigrate(&SampleModel{}); err != nil {
		return nil, &StoreError{Backend: backend, Op: "migrate", Err: err}
	}
	return &SQLStore{db: db, backend: backend}, nil
}

// Append inserts one row
func (s *SQLStore) Append(ctx context.Context, sample types.Sample) error {
	if err := s.db.WithContext(ctx).Create(toModel(sample)).Error; err != nil {
		return &StoreError{Backend: s.backend, Op: "append", Err: err}
	}
	return nil
}

// QueryRecent returns at most n samples, newest first
func (s *SQLStore) QueryRecent(ctx context.Context, n int) ([]types.Sample, error) {
	if n <= 0 {
		return []types.Sample{}, nil
	}

	var rows []SampleModel
	err := s.db.WithContext(ctx).
		Order("timestamp DESC").
		Order("id DESC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, &StoreError{Backend: s.backend, Op: "query", Err: err}
	}

	out := make([]types.Sample, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toSample())
	}
	return out, nil
}

// Close releases the underlying connection pool
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Store = (*SQLStore)(nil)
