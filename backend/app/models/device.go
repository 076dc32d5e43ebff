package models

import "time"

// Device is registered the first time it pulls and refreshed on every pull after.
type Device struct {
	ID          string `gorm:"primaryKey;size:191"`
	LastSeenAt  time.Time
	LastAddr    string `gorm:"size:64"`
	LastClaimed int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
