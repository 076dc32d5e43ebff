package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"fleet-steward/agent/internal/db"
	"fleet-steward/agent/internal/logger"
	"fleet-steward/agent/internal/pipeline"
	"fleet-steward/agent/internal/taskstore"
)

type InstallRequest struct {
	PackageName string          `json:"package_name"`
	VersionCode int64           `json:"version_code"`
	URL         string          `json:"url"`
	Digest      string          `json:"digest"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

type UninstallRequest struct {
	PackageName string `json:"package_name"`
}

type TaskResponse struct {
	TaskID string `json:"task_id"`
}

// StatusResponse reports NOT_FOUND as a regular answer.
type StatusResponse struct {
	Status string         `json:"status"`
	Task   *db.TaskRecord `json:"task,omitempty"`
}

type RebootRequest struct {
	Reason string `json:"reason"`
}

type ActionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type HeartbeatRequest struct {
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Meta      json.RawMessage `json:"meta,omitempty"`
}

func (s *Server) install(typ db.TaskType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InstallRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		s.submit(w, r, taskstore.NewTask{
			TaskType:          typ,
			PackageName:       req.PackageName,
			TargetVersionCode: req.VersionCode,
			DownloadURL:       req.URL,
			ExpectedDigest:    req.Digest,
			Metadata:          string(req.Metadata),
		})
	}
}

func (s *Server) uninstall(w http.ResponseWriter, r *http.Request) {
	var req UninstallRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	s.submit(w, r, taskstore.NewTask{TaskType: db.TaskUninstall, PackageName: req.PackageName})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, in taskstore.NewTask) {
	rec, err := s.tasks.Submit(r.Context(), in)
	if errors.Is(err, pipeline.ErrInvalidTask) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		logger.Errorf("ipc: submit %s: %v", in.TaskType, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusAccepted, TaskResponse{TaskID: rec.TaskID})
}

func (s *Server) taskStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tasks.Task(r.PathValue("id"))
	if err != nil {
		logger.Errorf("ipc: task status: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, StatusResponse{Status: "NOT_FOUND"})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: string(rec.Status), Task: rec})
}

func (s *Server) packages(w http.ResponseWriter, r *http.Request) {
	inv, err := s.tasks.Inventory()
	if err != nil {
		logger.Errorf("ipc: inventory: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) reboot(w http.ResponseWriter, r *http.Request) {
	var req RebootRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Reason == "" {
		req.Reason = "requested over local ipc"
	}
	writeJSON(w, http.StatusAccepted, ActionResponse{Status: "accepted"})
	go func() {
		time.Sleep(s.rebootDelay)
		if err := s.actions.Reboot(context.Background(), req.Reason); err != nil {
			logger.Errorf("ipc: reboot: %v", err)
		}
	}()
}

func (s *Server) policy(w http.ResponseWriter, r *http.Request) {
	msg, err := s.actions.ApplyBaselinePolicy()
	if err != nil {
		writeJSON(w, http.StatusOK, ActionResponse{Status: "failed", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{Status: "applied", Message: msg})
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := decode(r, &req); err != nil || req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
	if err := s.heartbeats.Record(req.Source, req.Timestamp, string(req.Meta)); err != nil {
		logger.Errorf("ipc: heartbeat: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
