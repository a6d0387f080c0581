package store

import (
	"time"

	"github.com/google/uuid"
)

// Record is one persisted sensor reading. Date keeps the timestamp exactly as
// it was supplied; TS is its parsed UTC instant and drives ordering, cursors
// and retention.
type Record struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Value     float64   `gorm:"not null" json:"value"`
	Date      string    `gorm:"not null" json:"date"`
	Topic     string    `gorm:"index:idx_records_topic_ts,priority:1;not null;default:''" json:"topic"`
	TS        time.Time `gorm:"index:idx_records_topic_ts,priority:2;index" json:"-"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

func (Record) TableName() string { return "records" }

// Fields is the full replacement applied by UpdateByID.
type Fields struct {
	Value float64
	Date  string
	Topic string
}
