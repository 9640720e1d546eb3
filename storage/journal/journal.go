// Package journal keeps an append-only SQLite record of settled simulated
// transactions and exports it as CSV or Parquet.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"perq/native/simulator"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("journal: closed")

// Entry is the persisted form of a settled transaction.
type Entry struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	Kind         string    `gorm:"index;size:32" json:"kind"`
	State        string    `gorm:"index;size:32" json:"state"`
	Reason       string    `gorm:"size:64" json:"reason,omitempty"`
	Amount       int64     `json:"amount"`
	Accounts     string    `json:"accounts"`
	Message      string    `json:"message,omitempty"`
	ErrorField   string    `gorm:"size:64" json:"errorField,omitempty"`
	ErrorCode    string    `gorm:"size:64" json:"errorCode,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Receipt      string    `gorm:"type:text" json:"receipt,omitempty"`
	CreatedAt    time.Time `gorm:"index" json:"createdAt"`
	SettledAt    time.Time `json:"settledAt"`
}

// TableName pins the table name.
func (Entry) TableName() string { return "transactions" }

// AccountIDs splits the stored account list.
func (e Entry) AccountIDs() []string {
	if e.Accounts == "" {
		return nil
	}
	return strings.Split(e.Accounts, ",")
}

func entryFrom(tx simulator.Transaction) (Entry, error) {
	entry := Entry{
		ID:        tx.ID,
		Kind:      string(tx.Kind),
		State:     string(tx.State),
		Reason:    tx.Reason,
		Amount:    tx.Amount,
		Accounts:  strings.Join(tx.Accounts, ","),
		CreatedAt: tx.CreatedAt.UTC(),
	}
	if tx.SettledAt != nil {
		entry.SettledAt = tx.SettledAt.UTC()
	}
	if tx.Error != nil {
		entry.ErrorField = tx.Error.Field
		entry.ErrorCode = string(tx.Error.Code)
		entry.ErrorMessage = tx.Error.Message
	}
	if tx.Receipt != nil {
		entry.Message = tx.Receipt.Message
		raw, err := json.Marshal(tx.Receipt)
		if err != nil {
			return Entry{}, fmt.Errorf("journal: encode receipt: %w", err)
		}
		entry.Receipt = string(raw)
	}
	return entry, nil
}

// Journal records transactions in a SQL database.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Option customises a Journal.
type Option func(*Journal)

// WithLogger routes journal logs to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Journal) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// Open opens (creating if needed) the SQLite journal at path. An empty path
// or ":memory:" yields a private in-memory journal.
func Open(path string, opts ...Option) (*Journal, error) {
	dsn := strings.TrimSpace(path)
	if dsn == "" || dsn == ":memory:" {
		dsn = "file::memory:"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if sqlDB, err := db.DB(); err == nil {
		// SQLite serialises writers; one connection also keeps :memory: intact.
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db, opts...)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB, opts ...Option) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	j := &Journal{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(j)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return j, nil
}

// Record stores tx, replacing an earlier record with the same id.
func (j *Journal) Record(ctx context.Context, tx simulator.Transaction) error {
	if j == nil || j.db == nil {
		return ErrClosed
	}
	entry, err := entryFrom(tx)
	if err != nil {
		return err
	}
	result := j.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&entry)
	if result.Error != nil {
		return fmt.Errorf("journal: record %s: %w", tx.ID, result.Error)
	}
	j.logger.Debug("journal entry recorded", "tx_id", entry.ID, "state", entry.State)
	return nil
}

// Filter narrows List and the exports. Zero values match everything.
type Filter struct {
	Kind  string
	State string
	Since time.Time
	Limit int
}

// List returns entries newest first.
func (j *Journal) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, ErrClosed
	}
	query := j.db.WithContext(ctx).Model(&Entry{})
	if kind := strings.TrimSpace(filter.Kind); kind != "" {
		query = query.Where("kind = ?", strings.ToLower(kind))
	}
	if state := strings.TrimSpace(filter.State); state != "" {
		query = query.Where("state = ?", strings.ToLower(state))
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since.UTC())
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var entries []Entry
	if err := query.Order("created_at DESC").Order("id DESC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return entries, nil
}

// Get returns one entry by transaction id.
func (j *Journal) Get(ctx context.Context, id string) (Entry, error) {
	if j == nil || j.db == nil {
		return Entry{}, ErrClosed
	}
	var entry Entry
	err := j.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if err != nil {
		return Entry{}, fmt.Errorf("journal: get %s: %w", id, err)
	}
	return entry, nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	j.db = nil
	return sqlDB.Close()
}
