package taskstore

import (
	"time"

	"fleet-steward/agent/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ManagedSet is the set of packages the agent installed and keeps up to date.
type ManagedSet struct {
	db *gorm.DB
}

func NewManagedSet(gdb *gorm.DB) *ManagedSet { return &ManagedSet{db: gdb} }

func (m *ManagedSet) Add(pkg string) error {
	return m.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&db.ManagedPackage{PackageName: pkg, CreatedAt: time.Now().UTC()}).Error
}

func (m *ManagedSet) Remove(pkg string) error {
	return m.db.Where("package_name = ?", pkg).Delete(&db.ManagedPackage{}).Error
}

func (m *ManagedSet) Contains(pkg string) (bool, error) {
	var n int64
	err := m.db.Model(&db.ManagedPackage{}).Where("package_name = ?", pkg).Count(&n).Error
	return n > 0, err
}

// List returns package names in name order.
func (m *ManagedSet) List() ([]string, error) {
	var names []string
	err := m.db.Model(&db.ManagedPackage{}).Order("package_name ASC").Pluck("package_name", &names).Error
	return names, err
}

// Heartbeats stores the latest liveness signal per source.
type Heartbeats struct {
	db *gorm.DB
}

func NewHeartbeats(gdb *gorm.DB) *Heartbeats { return &Heartbeats{db: gdb} }

func (h *Heartbeats) Record(source string, at time.Time, meta string) error {
	hb := db.Heartbeat{Source: source, ReportedAt: at.UTC(), Meta: meta, UpdatedAt: time.Now().UTC()}
	return h.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{"reported_at", "meta", "updated_at"}),
	}).Create(&hb).Error
}

// Last returns nil, nil when source never reported.
func (h *Heartbeats) Last(source string) (*db.Heartbeat, error) {
	var out []db.Heartbeat
	if err := h.db.Where("source = ?", source).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}
