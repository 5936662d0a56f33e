package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/creastat/console"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// prefsRow is the SQLite table layout. The record is stored as JSON so new
// preference fields need no migration.
type prefsRow struct {
	Key       string `gorm:"column:pref_key;primaryKey"`
	Version   int64  `gorm:"not null;default:1"`
	Data      string `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (prefsRow) TableName() string { return "console_preferences" }

// SQLiteStore implements Store on SQLite through gorm.
type SQLiteStore struct {
	db    *gorm.DB
	owned bool
}

// OpenSQLiteStore opens (creating if needed) a SQLite database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	store, err := NewSQLiteStoreFromDB(db)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// NewSQLiteStoreFromDB migrates and wraps an open database. The database is
// not closed by Close.
func NewSQLiteStoreFromDB(db *gorm.DB) (*SQLiteStore, error) {
	if err := db.AutoMigrate(&prefsRow{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Create implements Store.
func (s *SQLiteStore) Create(ctx context.Context, rec *Record) error {
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Version = 1

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	row := prefsRow{
		Key:       rec.Key,
		Version:   rec.Version,
		Data:      string(data),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Record, error) {
	var row prefsRow
	err := s.db.WithContext(ctx).Where("pref_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(row.Data), &rec); err != nil {
		return nil, err
	}
	rec.Version = row.Version
	return &rec, nil
}

// Update implements Store. The version check and bump happen in one
// conditional UPDATE.
func (s *SQLiteStore) Update(ctx context.Context, rec *Record) error {
	next := *rec
	next.Version++
	next.UpdatedAt = time.Now()

	data, err := json.Marshal(&next)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).
		Model(&prefsRow{}).
		Where("pref_key = ? AND version = ?", rec.Key, rec.Version).
		Updates(map[string]any{
			"version":    next.Version,
			"data":       string(data),
			"updated_at": next.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&prefsRow{}).Where("pref_key = ?", rec.Key).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return console.ErrNotFound
		}
		return console.ErrVersionConflict
	}

	*rec = next
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("pref_key = ?", key).Delete(&prefsRow{}).Error
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Store = (*SQLiteStore)(nil)
