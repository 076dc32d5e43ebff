package db

import "time"

type TaskType string

const (
	TaskInstall   TaskType = "INSTALL"
	TaskUpdate    TaskType = "UPDATE"
	TaskUninstall TaskType = "UNINSTALL"
)

type TaskStatus string

const (
	TaskPending TaskStatus = "PENDING"
	TaskRunning TaskStatus = "RUNNING"
	TaskSuccess TaskStatus = "SUCCESS"
	TaskFailed  TaskStatus = "FAILED"
)

func (s TaskStatus) Terminal() bool { return s == TaskSuccess || s == TaskFailed }

// TaskRecord is one install, update or uninstall request. Seq orders records by
// creation independent of clock resolution.
type TaskRecord struct {
	Seq               uint       `gorm:"primaryKey;autoIncrement" json:"-"`
	TaskID            string     `gorm:"size:36;uniqueIndex" json:"task_id"`
	TaskType          TaskType   `gorm:"size:16" json:"task_type"`
	PackageName       string     `gorm:"size:255;index" json:"package_name"`
	TargetVersionCode int64      `json:"target_version_code"`
	DownloadURL       string     `gorm:"size:2048" json:"download_url,omitempty"`
	ExpectedDigest    string     `gorm:"size:160" json:"expected_digest,omitempty"`
	Metadata          string     `gorm:"type:text" json:"metadata,omitempty"`
	Status            TaskStatus `gorm:"size:16;index" json:"status"`
	Progress          int        `json:"progress"`
	ResultCode        string     `gorm:"size:64" json:"result_code,omitempty"`
	Message           string     `gorm:"size:1024" json:"message,omitempty"`
	RetryCount        int        `json:"retry_count"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ManagedPackage marks a package the agent installed and keeps up to date.
type ManagedPackage struct {
	PackageName string `gorm:"primaryKey;size:255"`
	CreatedAt   time.Time
}

// Heartbeat keeps the last liveness signal per source.
type Heartbeat struct {
	Source     string `gorm:"primaryKey;size:255"`
	ReportedAt time.Time
	Meta       string `gorm:"type:text"`
	UpdatedAt  time.Time
}
