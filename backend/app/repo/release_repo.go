package repo

import (
	"fleet-steward/backend/app/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReleaseRepository struct{ db *gorm.DB }

func NewReleaseRepository(db *gorm.DB) *ReleaseRepository { return &ReleaseRepository{db: db} }

// Upsert publishes a release; republishing the same package/version replaces url and digest.
func (r *ReleaseRepository) Upsert(rel *models.AppRelease) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "package_name"}, {Name: "version_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"version_name", "url", "digest", "updated_at"}),
	}).Create(rel).Error
}

// Latest returns the highest published version for each requested package.
func (r *ReleaseRepository) Latest(packages []string) (map[string]models.AppRelease, error) {
	out := make(map[string]models.AppRelease, len(packages))
	if len(packages) == 0 {
		return out, nil
	}
	var rows []models.AppRelease
	if err := r.db.Where("package_name IN ?", packages).
		Order("package_name ASC").Order("version_code DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, rel := range rows {
		if _, seen := out[rel.PackageName]; !seen {
			out[rel.PackageName] = rel
		}
	}
	return out, nil
}
