// Package storage keeps a catalog of capture sessions in SQLite.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cs-isia-racer/car/internal/capture"
	"github.com/cs-isia-racer/car/internal/observability"
	"github.com/cs-isia-racer/car/internal/types"
)

// CaptureSession is one row of the catalog.
type CaptureSession struct {
	ID        string    `gorm:"primaryKey;size:26"`
	Path      string    `gorm:"not null"`
	StartedAt time.Time `gorm:"not null;index"`
	StoppedAt *time.Time
	Frames    uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s CaptureSession) record() types.SessionRecord {
	return types.SessionRecord{
		ID:        s.ID,
		Path:      s.Path,
		StartedAt: s.StartedAt,
		StoppedAt: s.StoppedAt,
		Frames:    s.Frames,
	}
}

// Catalog records capture session boundaries. It satisfies capture.Recorder.
type Catalog struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ capture.Recorder = (*Catalog)(nil)

// Open opens (or creates) the catalog at path. ":memory:" gives a private
// in-memory catalog.
func Open(path string, logger *slog.Logger) (*Catalog, error) {
	logger = observability.WithComponent(observability.OrDefault(logger), "catalog")

	dsn := path
	if path != ":memory:" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	// One writer is plenty, and an in-memory database exists per connection.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&CaptureSession{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrating catalog: %w", err)
	}
	logger.Info("capture catalog opened", slog.String("path", path))
	return &Catalog{db: db, logger: logger}, nil
}

func (c *Catalog) SessionStarted(ctx context.Context, info capture.Info) error {
	row := CaptureSession{
		ID:        info.ID,
		Path:      info.Path,
		StartedAt: info.StartedAt,
	}
	if err := c.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("recording session start: %w", err)
	}
	return nil
}

// SessionStopped stores the final frame count. A session the catalog never
// saw start is inserted whole.
func (c *Catalog) SessionStopped(ctx context.Context, info capture.Info) error {
	stopped := info.StoppedAt
	if stopped.IsZero() {
		stopped = time.Now()
	}
	db := c.db.WithContext(ctx)
	res := db.Model(&CaptureSession{}).Where("id = ?", info.ID).Updates(map[string]any{
		"stopped_at": stopped,
		"frames":     info.Frames,
	})
	if res.Error != nil {
		return fmt.Errorf("recording session stop: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		row := CaptureSession{
			ID:        info.ID,
			Path:      info.Path,
			StartedAt: info.StartedAt,
			StoppedAt: &stopped,
			Frames:    info.Frames,
		}
		if err := db.Create(&row).Error; err != nil {
			return fmt.Errorf("recording session stop: %w", err)
		}
	}
	c.logger.Debug("session cataloged", slog.String("session", info.ID), slog.Uint64("frames", info.Frames))
	return nil
}

// List returns up to limit sessions, most recently started first.
func (c *Catalog) List(ctx context.Context, limit int) ([]types.SessionRecord, error) {
	var rows []CaptureSession
	q := c.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	records := make([]types.SessionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

// Get returns the session with id, or false if there is none.
func (c *Catalog) Get(ctx context.Context, id string) (types.SessionRecord, bool, error) {
	var rows []CaptureSession
	if err := c.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return types.SessionRecord{}, false, fmt.Errorf("getting session: %w", err)
	}
	if len(rows) == 0 {
		return types.SessionRecord{}, false, nil
	}
	return rows[0].record(), true, nil
}

func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
