package controllers

import (
	"net/http"

	"fleet-steward/backend/app/dto"
	"fleet-steward/backend/app/models"
	"fleet-steward/backend/app/services"
)

type UpdateController struct{ Updates *services.UpdateService }

func NewUpdateController(s *services.UpdateService) *UpdateController {
	return &UpdateController{Updates: s}
}

// Check returns update candidates for the device's managed inventory.
// POST /api/updates/check
func (c *UpdateController) Check(w http.ResponseWriter, r *http.Request) {
	var req dto.CheckUpdatesRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	out, err := c.Updates.Check(req.Packages)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Publish registers a release in the catalog.
// POST /admin/releases
func (c *UpdateController) Publish(w http.ResponseWriter, r *http.Request) {
	var req dto.PublishReleaseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rel := &models.AppRelease{
		PackageName: req.PackageName,
		VersionCode: req.VersionCode,
		VersionName: req.VersionName,
		URL:         req.URL,
		Digest:      req.Digest,
	}
	if err := c.Updates.Publish(rel); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}
