// Package storage persists chat messages. The relay only ever writes to it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Tyrowin/relaychat/internal/relay"
)

// MessageRecord is one durable message row.
type MessageRecord struct {
	ID        string    `gorm:"primaryKey;size:36"`
	From      string    `gorm:"column:sender;size:64;not null;index"`
	To        string    `gorm:"column:recipient;size:64;not null;default:all;index"`
	Body      string    `gorm:"type:text;not null"`
	Timestamp time.Time `gorm:"not null;index"`
}

// TableName returns the table name for MessageRecord.
func (MessageRecord) TableName() string {
	return "messages"
}

func recordFromMessage(m relay.Message) *MessageRecord {
	to := m.To
	if to == "" {
		to = relay.BroadcastRecipient
	}
	return &MessageRecord{
		ID:        m.ID,
		From:      m.From,
		To:        to,
		Body:      m.Body,
		Timestamp: m.Timestamp,
	}
}

// Open opens the sqlite database at path and migrates the schema.
func Open(path string, level logger.LogLevel) (*gorm.DB, error) {
	if path == "" {
		return nil, errors.New("storage: database path is required")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.AutoMigrate(&MessageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// Close closes the database's underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	return sqlDB.Close()
}

// Repository writes message records.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new message repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create saves one message.
func (r *Repository) Create(ctx context.Context, m relay.Message) error {
	if err := r.db.WithContext(ctx).Create(recordFromMessage(m)).Error; err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}
