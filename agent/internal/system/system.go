package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"fleet-steward/agent/internal/logger"
)

// Actions performs the device-level operations that have no install task.
type Actions struct {
	RebootCommand []string
	LogPath       string
	InstallRoot   string
	WorkDir       string
	now           func() time.Time
}

func New(rebootCmd []string, logPath, installRoot, workDir string) *Actions {
	return &Actions{
		RebootCommand: rebootCmd,
		LogPath:       logPath,
		InstallRoot:   installRoot,
		WorkDir:       workDir,
		now:           time.Now,
	}
}

// Reboot runs the configured reboot command.
func (a *Actions) Reboot(ctx context.Context, reason string) error {
	if len(a.RebootCommand) == 0 {
		return errors.New("no reboot command configured")
	}
	logger.Warnf("rebooting device: %s", reason)
	cmd := exec.CommandContext(ctx, a.RebootCommand[0], a.RebootCommand[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("reboot: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// PolicyStamp is written under the install root once the baseline is applied.
const PolicyStamp = ".policy"

// ApplyBaselinePolicy locks down the agent-owned directories and records when the
// baseline was last applied.
func (a *Actions) ApplyBaselinePolicy() (string, error) {
	dirs := []struct {
		path string
		mode os.FileMode
	}{
		{a.InstallRoot, 0o755},
		{a.WorkDir, 0o700},
	}
	for _, d := range dirs {
		if d.path == "" {
			continue
		}
		if err := os.MkdirAll(d.path, d.mode); err != nil {
			return "", err
		}
		if err := os.Chmod(d.path, d.mode); err != nil {
			return "", err
		}
	}
	stamp := a.now().UTC().Format(time.RFC3339)
	if a.InstallRoot != "" {
		if err := os.WriteFile(filepath.Join(a.InstallRoot, PolicyStamp), []byte(stamp+"\n"), 0o644); err != nil {
			return "", err
		}
	}
	logger.Infof("baseline policy applied at %s", stamp)
	return "baseline policy applied at " + stamp, nil
}

// CollectLogs returns the last n lines of the agent log.
func (a *Actions) CollectLogs(n int) (string, error) {
	if a.LogPath == "" {
		return "", errors.New("agent logs to stdout; no log file configured")
	}
	data, err := os.ReadFile(a.LogPath)
	if err != nil {
		return "", err
	}
	return tail(data, n), nil
}

func tail(data []byte, n int) string {
	if n <= 0 {
		n = 100
	}
	data = bytes.TrimRight(data, "\n")
	lines := bytes.Split(data, []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return string(bytes.Join(lines, []byte("\n")))
}
