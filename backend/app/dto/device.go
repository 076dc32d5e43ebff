package dto

import (
	"time"

	"fleet-steward/backend/app/models"
)

type DeviceResponse struct {
	ID          string    `json:"id"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	LastAddr    string    `json:"last_addr,omitempty"`
	LastClaimed int       `json:"last_claimed"`
	CreatedAt   time.Time `json:"created_at"`
}

func FromDevice(d models.Device) DeviceResponse {
	return DeviceResponse{ID: d.ID, LastSeenAt: d.LastSeenAt, LastAddr: d.LastAddr, LastClaimed: d.LastClaimed, CreatedAt: d.CreatedAt}
}
