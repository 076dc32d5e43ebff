package services

import (
	"time"

	"fleet-steward/backend/app/models"
	"fleet-steward/backend/app/repo"
	"fleet-steward/backend/global"
)

type DeviceService struct {
	devices *repo.DeviceRepository
	now     func() time.Time
}

func NewDeviceService(devices *repo.DeviceRepository) *DeviceService {
	return &DeviceService{devices: devices, now: func() time.Time { return time.Now().UTC() }}
}

// Seen records a pull. Failures are logged; they never fail the pull itself.
func (s *DeviceService) Seen(deviceID, addr string, claimed int) {
	if err := s.devices.Touch(deviceID, addr, claimed, s.now()); err != nil {
		global.Logger.Warn().Err(err).Str("device", deviceID).Msg("device registry update failed")
	}
}

func (s *DeviceService) Find(deviceID string) (*models.Device, error) {
	return s.devices.FindByID(deviceID)
}

func (s *DeviceService) ListAll() ([]models.Device, error) {
	return s.devices.ListAll()
}
