package controllers

import (
	"net/http"

	"fleet-steward/backend/app/dto"
	"fleet-steward/backend/app/services"
)

type DeviceController struct {
	Devices *services.DeviceService
}

func NewDeviceController(s *services.DeviceService) *DeviceController {
	return &DeviceController{Devices: s}
}

// GET /admin/devices
func (c *DeviceController) List(w http.ResponseWriter, r *http.Request) {
	devices, err := c.Devices.ListAll()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]dto.DeviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, dto.FromDevice(d))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /admin/devices/{id}
func (c *DeviceController) Get(w http.ResponseWriter, r *http.Request) {
	d, err := c.Devices.Find(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, dto.FromDevice(*d))
}
