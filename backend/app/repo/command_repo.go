package repo

import (
	"errors"
	"time"

	"fleet-steward/backend/app/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrConflict is returned when a finished command is reported again with a different status.
var ErrConflict = errors.New("command already finished with a different status")

type CommandRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewCommandRepository(db *gorm.DB) *CommandRepository {
	return &CommandRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *CommandRepository) Create(cmd *models.Command) error {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	now := r.now()
	cmd.Status = models.StatusPending
	cmd.CreatedAt = now
	cmd.UpdatedAt = now
	cmd.StartedAt = nil
	cmd.FinishedAt = nil
	return r.db.Create(cmd).Error
}

// Get returns nil, nil when the command does not exist.
func (r *CommandRepository) Get(id string) (*models.Command, error) {
	var cmd models.Command
	err := r.db.Where("id = ?", id).First(&cmd).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

// ClaimPending flips up to max PENDING commands of a device to RUNNING, oldest first.
// Rows are selected FOR UPDATE SKIP LOCKED and each flip is conditional on the row
// still being PENDING, so concurrent claims never return the same command.
func (r *CommandRepository) ClaimPending(deviceID string, max int) ([]models.Command, error) {
	if max <= 0 {
		return nil, nil
	}
	claimed := make([]models.Command, 0, max)
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var rows []models.Command
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("device_id = ? AND status = ?", deviceID, models.StatusPending).
			Order("seq ASC").
			Limit(max).
			Find(&rows).Error; err != nil {
			return err
		}
		now := r.now()
		for i := range rows {
			res := tx.Model(&models.Command{}).
				Where("id = ? AND status = ?", rows[i].ID, models.StatusPending).
				Updates(map[string]any{
					"status":     models.StatusRunning,
					"started_at": now,
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			started := now
			rows[i].Status = models.StatusRunning
			rows[i].StartedAt = &started
			rows[i].UpdatedAt = now
			claimed = append(claimed, rows[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ReportResult applies a device's result to its own command. It returns nil, nil when
// the command does not exist or belongs to another device. Reporting the same terminal
// status twice returns the stored record unchanged.
func (r *CommandRepository) ReportResult(deviceID, id string, status models.CommandStatus, message, code string) (*models.Command, error) {
	var out *models.Command
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var cmd models.Command
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND device_id = ?", id, deviceID).
			First(&cmd).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cmd.Status.Terminal() {
			if cmd.Status != status {
				return ErrConflict
			}
			out = &cmd
			return nil
		}

		now := r.now()
		updates := map[string]any{
			"status":         status,
			"result_message": message,
			"result_code":    code,
			"updated_at":     now,
		}
		if cmd.StartedAt == nil && status != models.StatusPending {
			updates["started_at"] = now
			cmd.StartedAt = &now
		}
		if status.Terminal() {
			updates["finished_at"] = now
			cmd.FinishedAt = &now
		}
		if err := tx.Model(&models.Command{}).Where("id = ?", cmd.ID).Updates(updates).Error; err != nil {
			return err
		}
		cmd.Status = status
		cmd.ResultMessage = message
		cmd.ResultCode = code
		cmd.UpdatedAt = now
		out = &cmd
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListByDevice returns the queue of one device; status filters when non-empty.
func (r *CommandRepository) ListByDevice(deviceID string, status models.CommandStatus, limit int) ([]models.Command, error) {
	q := r.db.Where("device_id = ?", deviceID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var cmds []models.Command
	if err := q.Order("seq ASC").Find(&cmds).Error; err != nil {
		return nil, err
	}
	return cmds, nil
}

// ExpireRunning fails every RUNNING command claimed before the cutoff.
func (r *CommandRepository) ExpireRunning(before time.Time, code, message string) (int64, error) {
	now := r.now()
	res := r.db.Model(&models.Command{}).
		Where("status = ? AND started_at < ?", models.StatusRunning, before).
		Updates(map[string]any{
			"status":         models.StatusFailed,
			"result_code":    code,
			"result_message": message,
			"finished_at":    now,
			"updated_at":     now,
		})
	return res.RowsAffected, res.Error
}
