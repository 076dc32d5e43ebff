package installer

import "context"

type Outcome int

const (
	Success Outcome = iota
	Failure
	PendingUserAction
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case PendingUserAction:
		return "pending_user_action"
	}
	return "unknown"
}

// Event is the asynchronous completion of a commit, keyed by task id.
type Event struct {
	TaskID      string
	PackageName string
	Outcome     Outcome
	Message     string
}

// Installer is the platform package installer. Install and Uninstall only start a
// commit; the result arrives later on Events.
type Installer interface {
	// Ready reports whether the agent holds installer authority.
	Ready() error
	Install(ctx context.Context, taskID, pkg, artifactPath string) error
	Uninstall(ctx context.Context, taskID, pkg string) error
	Events() <-chan Event
	// InstalledVersion returns ok=false when pkg is not installed.
	InstalledVersion(pkg string) (Version, bool, error)
	SetHomeLauncher(pkg string) error
}

type Version struct {
	Code int64  `yaml:"version_code"`
	Name string `yaml:"version_name"`
}
