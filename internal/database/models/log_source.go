package models

import (
	"time"
)

// LogSource is the read position of a tailed local log file, kept so a
// restart resumes where the previous run stopped.
type LogSource struct {
	Name         string `gorm:"primaryKey"`
	Path         string `gorm:"not null"`
	LastPosition int64  `gorm:"default:0"`
	LastInode    int64  `gorm:"default:0"` // SQLite only stores signed integers
	LastReadAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (LogSource) TableName() string {
	return "log_sources"
}
