package models

import "time"

// FilterSettingsRecord stores the filter settings as one JSON document.
type FilterSettingsRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Settings  string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (FilterSettingsRecord) TableName() string {
	return "filter_settings"
}
