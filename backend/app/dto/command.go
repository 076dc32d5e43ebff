package dto

import (
	"encoding/json"
	"time"

	"fleet-steward/backend/app/models"
)

type CreateCommandRequest struct {
	DeviceID string          `json:"device_id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type PullRequest struct {
	Max int `json:"max"`
}

type ReportRequest struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

type CommandResponse struct {
	ID            string          `json:"id"`
	DeviceID      string          `json:"device_id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	ResultMessage string          `json:"result_message,omitempty"`
	ResultCode    string          `json:"result_code,omitempty"`
}

func FromCommand(c models.Command) CommandResponse {
	payload := json.RawMessage(c.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return CommandResponse{
		ID:            c.ID,
		DeviceID:      c.DeviceID,
		Type:          string(c.Type),
		Payload:       payload,
		Status:        string(c.Status),
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
		StartedAt:     c.StartedAt,
		FinishedAt:    c.FinishedAt,
		ResultMessage: c.ResultMessage,
		ResultCode:    c.ResultCode,
	}
}

func FromCommands(cmds []models.Command) []CommandResponse {
	out := make([]CommandResponse, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, FromCommand(c))
	}
	return out
}
