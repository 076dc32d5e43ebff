package models

import "time"

// AppRelease is one published artifact version, consulted by the update check.
type AppRelease struct {
	ID          uint   `gorm:"primaryKey"`
	PackageName string `gorm:"size:191;not null;uniqueIndex:idx_release_pkg_version,priority:1"`
	VersionCode int64  `gorm:"not null;uniqueIndex:idx_release_pkg_version,priority:2"`
	VersionName string `gorm:"size:64"`
	URL         string `gorm:"size:1024;not null"`
	Digest      string `gorm:"size:160"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
