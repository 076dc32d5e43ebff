package controllers

import (
	"net/http"
	"strconv"

	"fleet-steward/backend/app/dto"
	"fleet-steward/backend/app/middleware"
	"fleet-steward/backend/app/models"
	"fleet-steward/backend/app/services"
)

type CommandController struct {
	Commands *services.CommandService
	Devices  *services.DeviceService
}

func NewCommandController(s *services.CommandService, devices *services.DeviceService) *CommandController {
	return &CommandController{Commands: s, Devices: devices}
}

// Create queues a command for a device.
// POST /admin/commands
func (c *CommandController) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateCommandRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cmd, err := c.Commands.Create(r.Context(), req.DeviceID, models.CommandType(req.Type), req.Payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.FromCommand(*cmd))
}

// List returns a device's queue.
// GET /admin/commands?device_id=...&status=PENDING&limit=50
func (c *CommandController) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	cmds, err := c.Commands.List(q.Get("device_id"), models.CommandStatus(q.Get("status")), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.FromCommands(cmds))
}

// Pull claims pending commands for the calling device.
// POST /api/commands/pull
func (c *CommandController) Pull(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	var req dto.PullRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	cmds, err := c.Commands.Pull(r.Context(), claims.DeviceID, req.Max)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if c.Devices != nil {
		c.Devices.Seen(claims.DeviceID, r.RemoteAddr, len(cmds))
	}
	writeJSON(w, http.StatusOK, dto.FromCommands(cmds))
}

// Report stores the result of one command.
// POST /api/commands/{id}/result
func (c *CommandController) Report(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	var req dto.ReportRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cmd, err := c.Commands.Report(r.Context(), claims.DeviceID, r.PathValue("id"), models.CommandStatus(req.Status), req.Message, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if cmd == nil {
		writeError(w, http.StatusNotFound, "command not found")
		return
	}
	writeJSON(w, http.StatusOK, dto.FromCommand(*cmd))
}
