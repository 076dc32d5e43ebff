package repo

import (
	"errors"
	"time"

	"fleet-steward/backend/app/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeviceRepository struct{ db *gorm.DB }

func NewDeviceRepository(db *gorm.DB) *DeviceRepository { return &DeviceRepository{db: db} }

// FindByID returns nil, nil for an unknown device.
func (r *DeviceRepository) FindByID(id string) (*models.Device, error) {
	var d models.Device
	err := r.db.Where("id = ?", id).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Touch inserts the device or refreshes its last pull.
func (r *DeviceRepository) Touch(id, addr string, claimed int, at time.Time) error {
	d := models.Device{ID: id, LastSeenAt: at, LastAddr: addr, LastClaimed: claimed, CreatedAt: at, UpdatedAt: at}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen_at", "last_addr", "last_claimed", "updated_at"}),
	}).Create(&d).Error
}

func (r *DeviceRepository) ListAll() ([]models.Device, error) {
	var out []models.Device
	if err := r.db.Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
