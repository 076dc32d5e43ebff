package models

import "time"

const (
	RoleAdmin  = "admin"
	RoleDevice = "device"
)

// User is an operator account allowed to queue commands and publish releases.
type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:191;not null"`
	PasswordHash string `gorm:"size:255;not null"`
	Role         string `gorm:"size:32;not null;default:admin"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
