package repositories

import (
	"errors"
	"time"

	"traefiklens/internal/database/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LogSourceRepository interface {
	FindByName(name string) (*models.LogSource, error)
	UpdateTracking(name, path string, position, inode int64) error
}

type logSourceRepo struct {
	db *gorm.DB
}

func NewLogSourceRepository(db *gorm.DB) LogSourceRepository {
	return &logSourceRepo{db: db}
}

// FindByName returns nil, nil when no position has been stored yet.
func (r *logSourceRepo) FindByName(name string) (*models.LogSource, error) {
	var source models.LogSource
	err := r.db.Where("name = ?", name).First(&source).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &source, nil
}

func (r *logSourceRepo) UpdateTracking(name, path string, position, inode int64) error {
	now := time.Now()
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"path", "last_position", "last_inode", "last_read_at", "updated_at"}),
	}).Create(&models.LogSource{
		Name:         name,
		Path:         path,
		LastPosition: position,
		LastInode:    inode,
		LastReadAt:   &now,
	}).Error
}
