package repositories

import (
	"encoding/json"
	"errors"
	"fmt"

	"traefiklens/internal/database/models"
	"traefiklens/internal/filter"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNoSettings is returned by Get before any settings were saved.
var ErrNoSettings = errors.New("no filter settings stored")

type SettingsRepository interface {
	Get() (filter.Settings, error)
	Save(settings filter.Settings) error
}

type settingsRepo struct {
	db *gorm.DB
}

func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepo{db: db}
}

func (r *settingsRepo) Get() (filter.Settings, error) {
	var record models.FilterSettingsRecord
	err := r.db.Where("id = ?", 1).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return filter.Settings{}, ErrNoSettings
	}
	if err != nil {
		return filter.Settings{}, err
	}

	settings := filter.DefaultSettings()
	if err := json.Unmarshal([]byte(record.Settings), &settings); err != nil {
		return filter.Settings{}, fmt.Errorf("decode stored filter settings: %w", err)
	}
	settings.Normalize()
	return settings, nil
}

func (r *settingsRepo) Save(settings filter.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode filter settings: %w", err)
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"settings", "updated_at"}),
	}).Create(&models.FilterSettingsRecord{ID: 1, Settings: string(data)}).Error
}
