package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"fleet-steward/backend/app/cache"
	"fleet-steward/backend/app/metrics"
	"fleet-steward/backend/app/models"
	"fleet-steward/backend/app/repo"
	"fleet-steward/backend/global"
)

// ErrInvalid marks caller input errors.
var ErrInvalid = errors.New("invalid request")

const (
	CodeClaimExpired = "CLAIM_EXPIRED"
	maxMessageLen    = 1024
)

type CommandService struct {
	commands *repo.CommandRepository
	hint     *cache.PendingHint
	metrics  metrics.Ledger
	maxPull  int
}

func NewCommandService(commands *repo.CommandRepository, hint *cache.PendingHint, m metrics.Ledger, maxPull int) *CommandService {
	if m == nil {
		m = metrics.Noop{}
	}
	if maxPull <= 0 {
		maxPull = 10
	}
	return &CommandService{commands: commands, hint: hint, metrics: m, maxPull: maxPull}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Create validates the payload for the command type and queues it as PENDING.
func (s *CommandService) Create(ctx context.Context, deviceID string, typ models.CommandType, payload json.RawMessage) (*models.Command, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, invalid("device_id is required")
	}
	if !typ.Valid() {
		return nil, invalid("unknown command type %q", typ)
	}
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage("{}")
	}
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, invalid("payload must be a JSON object")
	}
	if err := validatePayload(typ, payload); err != nil {
		return nil, err
	}

	cmd := &models.Command{DeviceID: deviceID, Type: typ, Payload: string(payload)}
	if err := s.commands.Create(cmd); err != nil {
		return nil, fmt.Errorf("create command: %w", err)
	}
	s.metrics.IncCreated(string(typ))
	if s.hint != nil {
		if err := s.hint.MarkPending(ctx, deviceID); err != nil {
			global.Logger.Warn().Err(err).Str("device", deviceID).Msg("pending hint update failed")
		}
	}
	global.Logger.Info().Str("device", deviceID).Str("command", cmd.ID).Str("type", string(typ)).Msg("command queued")
	return cmd, nil
}

func validatePayload(typ models.CommandType, raw json.RawMessage) error {
	switch typ {
	case models.CommandInstallApp, models.CommandUpdateApp, models.CommandUninstallApp:
		var p models.AppPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return invalid("payload: %v", err)
		}
		if strings.TrimSpace(p.PackageName) == "" {
			return invalid("payload.package_name is required")
		}
		if typ != models.CommandUninstallApp && strings.TrimSpace(p.URL) == "" {
			return invalid("payload.url is required")
		}
		if p.VersionCode < 0 {
			return invalid("payload.version_code must not be negative")
		}
	}
	return nil
}

// Pull claims up to max commands for the device.
func (s *CommandService) Pull(ctx context.Context, deviceID string, max int) ([]models.Command, error) {
	if max <= 0 || max > s.maxPull {
		max = s.maxPull
	}
	if s.hint != nil {
		empty, err := s.hint.KnownEmpty(ctx, deviceID)
		if err != nil {
			global.Logger.Warn().Err(err).Str("device", deviceID).Msg("pending hint lookup failed")
		} else if empty {
			return []models.Command{}, nil
		}
	}
	cmds, err := s.commands.ClaimPending(deviceID, max)
	if err != nil {
		return nil, fmt.Errorf("claim commands: %w", err)
	}
	s.metrics.AddClaimed(len(cmds))
	if s.hint != nil && len(cmds) < max {
		if err := s.hint.MarkEmpty(ctx, deviceID); err != nil {
			global.Logger.Warn().Err(err).Str("device", deviceID).Msg("pending hint update failed")
		}
	}
	if len(cmds) > 0 {
		global.Logger.Info().Str("device", deviceID).Int("count", len(cmds)).Msg("commands claimed")
	}
	return cmds, nil
}

// Report records a device's result. A nil command with nil error means not found.
func (s *CommandService) Report(ctx context.Context, deviceID, id string, status models.CommandStatus, message, code string) (*models.Command, error) {
	if status != models.StatusRunning && !status.Terminal() {
		return nil, invalid("status must be RUNNING, SUCCESS or FAILED")
	}
	message = strings.TrimSpace(message)
	if message == "" && status.Terminal() {
		message = defaultMessage(status)
	}
	message = clip(message, maxMessageLen)
	cmd, err := s.commands.ReportResult(deviceID, id, status, message, code)
	if err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, nil
	}
	s.metrics.IncReported(string(cmd.Type), string(status))
	global.Logger.Info().Str("device", deviceID).Str("command", id).Str("status", string(status)).Str("code", code).Msg("command result")
	return cmd, nil
}

func defaultMessage(status models.CommandStatus) string {
	if status == models.StatusSuccess {
		return "completed"
	}
	return "failed without detail"
}

func (s *CommandService) List(deviceID string, status models.CommandStatus, limit int) ([]models.Command, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, invalid("device_id is required")
	}
	if status != "" && !status.Valid() {
		return nil, invalid("unknown status %q", status)
	}
	return s.commands.ListByDevice(deviceID, status, limit)
}

// ExpireStale fails commands that stayed RUNNING longer than staleAfter.
func (s *CommandService) ExpireStale(staleAfter time.Duration) (int64, error) {
	n, err := s.commands.ExpireRunning(time.Now().UTC().Add(-staleAfter), CodeClaimExpired,
		fmt.Sprintf("no result reported within %s of claim", staleAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.AddExpired(n)
		global.Logger.Warn().Int64("count", n).Dur("stale_after", staleAfter).Msg("expired stale commands")
	}
	return n, nil
}

// StartSweeper runs ExpireStale every interval until ctx is done. A zero staleAfter disables it.
func (s *CommandService) StartSweeper(ctx context.Context, interval, staleAfter time.Duration) {
	if staleAfter <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.ExpireStale(staleAfter); err != nil {
					global.Logger.Error().Err(err).Msg("stale sweep failed")
				}
			}
		}
	}()
}

// clip keeps at most n bytes of s without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
