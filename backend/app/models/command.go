package models

import "time"

type CommandType string

const (
	CommandInstallApp    CommandType = "INSTALL_APP"
	CommandUpdateApp     CommandType = "UPDATE_APP"
	CommandUninstallApp  CommandType = "UNINSTALL_APP"
	CommandReboot        CommandType = "REBOOT"
	CommandApplyPolicy   CommandType = "APPLY_POLICY"
	CommandCollectLogs   CommandType = "COLLECT_LOGS"
	CommandSyncInventory CommandType = "SYNC_INVENTORY"
)

func (t CommandType) Valid() bool {
	switch t {
	case CommandInstallApp, CommandUpdateApp, CommandUninstallApp, CommandReboot,
		CommandApplyPolicy, CommandCollectLogs, CommandSyncInventory:
		return true
	}
	return false
}

type CommandStatus string

const (
	StatusPending CommandStatus = "PENDING"
	StatusRunning CommandStatus = "RUNNING"
	StatusSuccess CommandStatus = "SUCCESS"
	StatusFailed  CommandStatus = "FAILED"
)

func (s CommandStatus) Terminal() bool { return s == StatusSuccess || s == StatusFailed }

func (s CommandStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// Command is one ledger entry. FinishedAt is set iff Status is terminal. Seq
// orders commands in creation order; CreatedAt alone ties within a clock tick.
type Command struct {
	Seq           uint64        `gorm:"primaryKey;autoIncrement"`
	ID            string        `gorm:"uniqueIndex;size:36;not null"`
	DeviceID      string        `gorm:"size:191;not null;index:idx_commands_device_status,priority:1"`
	Type          CommandType   `gorm:"size:32;not null"`
	Payload       string        `gorm:"type:text"` // JSON object
	Status        CommandStatus `gorm:"size:16;not null;index:idx_commands_device_status,priority:2"`
	CreatedAt     time.Time     `gorm:"index"`
	UpdatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	ResultMessage string `gorm:"size:1024"`
	ResultCode    string `gorm:"size:64"`
}

// AppPayload is the payload schema of INSTALL_APP, UPDATE_APP and UNINSTALL_APP.
type AppPayload struct {
	PackageName string         `json:"package_name"`
	VersionCode int64          `json:"version_code,omitempty"`
	VersionName string         `json:"version_name,omitempty"`
	URL         string         `json:"url,omitempty"`
	Digest      string         `json:"digest,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
