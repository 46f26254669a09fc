// Package eventlog is the durable audit trail of kill lifecycle events.
// Every stage transition and square-off outcome lands here so a post
// mortem can reconstruct exactly what the system did and when.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

type eventModel struct {
	ID        int64          `gorm:"primaryKey;autoIncrement"`
	AccountID string         `gorm:"index;size:64"`
	Event     string         `gorm:"size:64"`
	Detail    string         `gorm:"type:text"`
	Context   datatypes.JSON `gorm:"type:json"`
	CreatedAt time.Time      `gorm:"index"`
}

func (eventModel) TableName() string { return "kill_events" }

// Event is one audit row as returned to readers.
type Event struct {
	ID        int64     `json:"id"`
	AccountID string    `json:"account_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a Gorm/SQLite backed event log.
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("event log: path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("event log: create dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("event log: open: %w", err)
	}
	if err := db.AutoMigrate(&eventModel{}); err != nil {
		return nil, fmt.Errorf("event log: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Record appends one event row. fields is optional structured context
// stored as JSON alongside the human-readable detail.
func (s *Store) Record(accountID, event, detail string, fields map[string]any) error {
	row := eventModel{
		AccountID: accountID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
	if len(fields) > 0 {
		raw, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("event log: encode context: %w", err)
		}
		row.Context = datatypes.JSON(raw)
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("event log: insert: %w", err)
	}
	return nil
}

// Recent returns the newest events for one account, newest first.
func (s *Store) Recent(accountID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []eventModel
	err := s.db.
		Where("account_id = ?", accountID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("event log: query: %w", err)
	}
	events := make([]Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, Event{
			ID:        r.ID,
			AccountID: r.AccountID,
			Event:     r.Event,
			Detail:    r.Detail,
			CreatedAt: r.CreatedAt,
		})
	}
	return events, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
