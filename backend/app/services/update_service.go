package services

import (
	"fmt"
	"strings"

	"fleet-steward/backend/app/dto"
	"fleet-steward/backend/app/models"
	"fleet-steward/backend/app/repo"
)

type UpdateService struct{ releases *repo.ReleaseRepository }

func NewUpdateService(releases *repo.ReleaseRepository) *UpdateService {
	return &UpdateService{releases: releases}
}

func (s *UpdateService) Publish(rel *models.AppRelease) error {
	rel.PackageName = strings.TrimSpace(rel.PackageName)
	if rel.PackageName == "" || rel.VersionCode <= 0 || strings.TrimSpace(rel.URL) == "" {
		return invalid("package_name, version_code > 0 and url are required")
	}
	return s.releases.Upsert(rel)
}

// Check returns, for each reported package, the newest release above the installed version.
func (s *UpdateService) Check(installed []dto.InstalledPackage) ([]dto.UpdateCandidate, error) {
	names := make([]string, 0, len(installed))
	for _, p := range installed {
		if p.PackageName != "" {
			names = append(names, p.PackageName)
		}
	}
	latest, err := s.releases.Latest(names)
	if err != nil {
		return nil, fmt.Errorf("load releases: %w", err)
	}
	out := make([]dto.UpdateCandidate, 0, len(latest))
	for _, p := range installed {
		rel, ok := latest[p.PackageName]
		if !ok || rel.VersionCode <= p.VersionCode {
			continue
		}
		out = append(out, dto.UpdateCandidate{
			PackageName: rel.PackageName,
			VersionCode: rel.VersionCode,
			VersionName: rel.VersionName,
			URL:         rel.URL,
			Digest:      rel.Digest,
		})
	}
	return out, nil
}
