package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/resoundfm/resound/internal/models"
)

// BlobRecord is the key/value row backing the GORM adapter.
type BlobRecord struct {
	Key       string `gorm:"primaryKey"`
	Value     []byte `gorm:"type:blob"`
	UpdatedAt time.Time
}

// TableName keeps the table name stable across gorm naming strategies.
func (BlobRecord) TableName() string { return "engine_blobs" }

// DB wraps a gorm connection and implements Adapter plus track-library
// queries used by the local and trending candidate sources.
type DB struct {
	gorm *gorm.DB
}

// Open connects to the database named by dsn. A "sqlite://path" DSN selects
// the sqlite driver; anything else is treated as a postgres DSN.
func Open(dsn string) (*DB, error) {
	var dialector gorm.Dialector
	if path, ok := strings.CutPrefix(dsn, "sqlite://"); ok {
		dialector = sqlite.Open(path)
	} else {
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&BlobRecord{}, &models.Track{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{gorm: db}, nil
}

// OpenTest opens a fresh in-memory sqlite database for tests. Each call
// gets its own database so tests stay isolated.
func OpenTest() (*DB, error) {
	n := atomic.AddInt64(&testDBCounter, 1)
	return Open(fmt.Sprintf("sqlite://file:test%d?mode=memory&cache=shared", n))
}

var testDBCounter int64

func (d *DB) Get(ctx context.Context, key string) ([]byte, error) {
	var rec BlobRecord
	err := d.gorm.WithContext(ctx).First(&rec, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return rec.Value, nil
}

func (d *DB) Set(ctx context.Context, key string, value []byte) error {
	rec := BlobRecord{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := d.gorm.WithContext(ctx).Save(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

func (d *DB) Delete(ctx context.Context, key string) error {
	return d.gorm.WithContext(ctx).Delete(&BlobRecord{}, "key = ?", key).Error
}

func (d *DB) Clear(ctx context.Context) error {
	return d.gorm.WithContext(ctx).Where("1 = 1").Delete(&BlobRecord{}).Error
}

// SaveTrack inserts or updates a library track.
func (d *DB) SaveTrack(ctx context.Context, track *models.Track) error {
	if err := d.gorm.WithContext(ctx).Save(track).Error; err != nil {
		return fmt.Errorf("failed to save track %s: %w", track.ID, err)
	}
	return nil
}

// GetTrack fetches a single track by id.
func (d *DB) GetTrack(ctx context.Context, id string) (*models.Track, error) {
	var track models.Track
	err := d.gorm.WithContext(ctx).First(&track, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch track %s: %w", id, err)
	}
	return &track, nil
}

// ListTracks returns up to limit library tracks, most recently added first.
// A limit of zero or less returns everything.
func (d *DB) ListTracks(ctx context.Context, limit int) ([]models.Track, error) {
	if limit <= 0 {
		limit = -1
	}
	var tracks []models.Track
	err := d.gorm.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	return tracks, nil
}

// TrendingTracks returns tracks ordered by engagement, used as the fallback
// candidate source when personalized sources come up empty.
func (d *DB) TrendingTracks(ctx context.Context, limit int) ([]models.Track, error) {
	var tracks []models.Track
	err := d.gorm.WithContext(ctx).
		Order("(like_count * 2 + play_count) DESC").
		Limit(limit).
		Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trending tracks: %w", err)
	}
	return tracks, nil
}

// CountTracks returns the library size.
func (d *DB) CountTracks(ctx context.Context) (int64, error) {
	var n int64
	if err := d.gorm.WithContext(ctx).Model(&models.Track{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count tracks: %w", err)
	}
	return n, nil
}

// IncrementPlayCount bumps a track's play counter.
func (d *DB) IncrementPlayCount(ctx context.Context, id string) error {
	return d.gorm.WithContext(ctx).Model(&models.Track{}).
		Where("id = ?", id).
		UpdateColumn("play_count", gorm.Expr("play_count + 1")).Error
}

// IncrementLikeCount bumps a track's like counter.
func (d *DB) IncrementLikeCount(ctx context.Context, id string) error {
	return d.gorm.WithContext(ctx).Model(&models.Track{}).
		Where("id = ?", id).
		UpdateColumn("like_count", gorm.Expr("like_count + 1")).Error
}
