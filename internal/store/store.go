// Package store manages the HostPulse database layer.
// It initializes GORM with SQLite and keeps a single append-only table of
// samples, queried by recency (latest) and by time window (history).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/vesaa/hostpulse/internal/apperr"
	"github.com/vesaa/hostpulse/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// History bounds.
const (
	MinHours     = 1
	MaxHours     = 720
	DefaultHours = 24
	MinLimit     = 1
	MaxLimit     = 1000
	DefaultLimit = 100
)

// Store is the metric store. Safe for concurrent use; SQLite serializes writes.
type Store struct {
	db    *gorm.DB
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens the database at path with the named driver and runs AutoMigrate.
// An empty driver means sqlite.
func Open(driver, path string, log *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db_path")
	}
	dialector, err := dialectorFor(driver, path)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(zap.NewStdLog(log.Named("gorm")), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s, err := New(db)
	if err != nil {
		return nil, err
	}
	log.Info("database opened", zap.String("driver", driver), zap.String("path", path))
	return s, nil
}

func dialectorFor(driver, path string) (gorm.Dialector, error) {
	switch driver {
	case "sqlite", "":
		return sqlite.Open(dsn(path)), nil
	default:
		return nil, fmt.Errorf("unsupported db_driver %q (use 'sqlite')", driver)
	}
}

// New wraps an already opened gorm handle and migrates the samples table.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&models.Sample{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("underlying sql.DB: %w", err)
	}
	return &Store{db: db, sqlDB: sqlDB, now: time.Now}, nil
}

// dsn adds pragmas for concurrent request handling unless the caller set their own.
func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Append persists a reading and returns the stored row with its new id.
func (s *Store) Append(ctx context.Context, r models.Reading) (*models.Sample, error) {
	sample := models.NewSample(r)
	if err := s.db.WithContext(ctx).Create(&sample).Error; err != nil {
		return nil, unavailable("append", err)
	}
	return &sample, nil
}

// Latest returns the sample with the greatest timestamp (ties: highest id).
// ok is false when the store is empty.
func (s *Store) Latest(ctx context.Context) (sample *models.Sample, ok bool, err error) {
	var m models.Sample
	err = s.db.WithContext(ctx).Order("timestamp desc").Order("id desc").Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("latest", err)
	}
	return &m, true, nil
}

// History returns samples taken within the last sinceHours hours, newest
// first, at most limit rows. An empty result is not an error here.
func (s *Store) History(ctx context.Context, sinceHours, limit int) ([]models.Sample, error) {
	if err := ValidateWindow(sinceHours, limit); err != nil {
		return nil, err
	}

	since := s.now().UTC().Add(-time.Duration(sinceHours) * time.Hour)
	var rows []models.Sample
	err := s.db.WithContext(ctx).
		Where("timestamp >= ?", since).
		Order("timestamp desc").
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, unavailable("history", err)
	}
	return rows, nil
}

// ValidateWindow checks history bounds; values are rejected, never clamped.
func ValidateWindow(hours, limit int) error {
	if hours < MinHours || hours > MaxHours {
		return fmt.Errorf("%w: hours must be between %d and %d, got %d", apperr.ErrValidation, MinHours, MaxHours, hours)
	}
	if limit < MinLimit || limit > MaxLimit {
		return fmt.Errorf("%w: limit must be between %d and %d, got %d", apperr.ErrValidation, MinLimit, MaxLimit, limit)
	}
	return nil
}

// Count returns the number of stored samples.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Sample{}).Count(&n).Error; err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

// Ping issues a trivial round-trip query against the database.
func (s *Store) Ping(ctx context.Context) error {
	return Probe(ctx, s.sqlDB)
}

// Probe runs SELECT 1 on db.
func Probe(ctx context.Context, db *sql.DB) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return unavailable("probe", err)
	}
	if one != 1 {
		return fmt.Errorf("%w: probe returned %d", apperr.ErrUnavailable, one)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", apperr.ErrUnavailable, op, err)
}
