package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fleet-steward/agent/internal/logger"
	"fleet-steward/agent/internal/verify"

	"gopkg.in/yaml.v3"
)

const (
	stagingDir   = ".staging"
	homeFile     = ".home"
	artifactName = "package.zip"
	stateName    = "installed.yaml"
)

type installedState struct {
	Version     `yaml:",inline"`
	TaskID      string    `yaml:"task_id"`
	InstalledAt time.Time `yaml:"installed_at"`
}

// FS installs packages as directories under a root: root/<pkg>/package.zip plus an
// installed.yaml describing the committed version.
type FS struct {
	root        string
	requireRoot bool
	events      chan Event
}

func NewFS(root string, requireRoot bool) *FS {
	return &FS{root: root, requireRoot: requireRoot, events: make(chan Event, 32)}
}

func (f *FS) Events() <-chan Event { return f.events }

func (f *FS) Ready() error {
	if f.requireRoot && os.Geteuid() != 0 {
		return errors.New("agent is not running as root")
	}
	if err := os.MkdirAll(filepath.Join(f.root, stagingDir), 0o755); err != nil {
		return fmt.Errorf("install root not writable: %w", err)
	}
	return nil
}

func validName(pkg string) error {
	if pkg == "" || pkg == "." || pkg == ".." || strings.HasPrefix(pkg, ".") ||
		strings.ContainsAny(pkg, `/\`) {
		return fmt.Errorf("invalid package name %q", pkg)
	}
	return nil
}

func (f *FS) pkgDir(pkg string) string { return filepath.Join(f.root, pkg) }

// Install stages the artifact synchronously and commits it in the background.
func (f *FS) Install(ctx context.Context, taskID, pkg, artifactPath string) error {
	if err := validName(pkg); err != nil {
		return err
	}
	staged := filepath.Join(f.root, stagingDir, taskID+".zip")
	if err := copyFile(ctx, artifactPath, staged); err != nil {
		return fmt.Errorf("stage artifact: %w", err)
	}
	go f.emit(f.commitInstall(taskID, pkg, staged))
	return nil
}

func (f *FS) commitInstall(taskID, pkg, staged string) Event {
	ev := Event{TaskID: taskID, PackageName: pkg}
	defer os.Remove(staged)

	m, err := verify.ReadManifest(staged)
	if err != nil {
		ev.Outcome, ev.Message = Failure, err.Error()
		return ev
	}
	if m.RequiresConfirmation {
		ev.Outcome, ev.Message = PendingUserAction, "package installer requires user confirmation"
		return ev
	}
	dir := f.pkgDir(pkg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		ev.Outcome, ev.Message = Failure, err.Error()
		return ev
	}
	if err := os.Rename(staged, filepath.Join(dir, artifactName)); err != nil {
		ev.Outcome, ev.Message = Failure, err.Error()
		return ev
	}
	st := installedState{
		Version:     Version{Code: m.VersionCode, Name: m.VersionName},
		TaskID:      taskID,
		InstalledAt: time.Now().UTC(),
	}
	raw, err := yaml.Marshal(&st)
	if err == nil {
		err = writeAtomic(filepath.Join(dir, stateName), raw)
	}
	if err != nil {
		ev.Outcome, ev.Message = Failure, err.Error()
		return ev
	}
	ev.Outcome, ev.Message = Success, fmt.Sprintf("installed %s %s (%d)", pkg, m.VersionName, m.VersionCode)
	return ev
}

func (f *FS) Uninstall(_ context.Context, taskID, pkg string) error {
	if err := validName(pkg); err != nil {
		return err
	}
	go func() {
		ev := Event{TaskID: taskID, PackageName: pkg}
		dir := f.pkgDir(pkg)
		if _, err := os.Stat(filepath.Join(dir, stateName)); err != nil {
			ev.Outcome, ev.Message = Failure, fmt.Sprintf("%s is not installed", pkg)
		} else if err := os.RemoveAll(dir); err != nil {
			ev.Outcome, ev.Message = Failure, err.Error()
		} else {
			ev.Outcome, ev.Message = Success, fmt.Sprintf("removed %s", pkg)
		}
		f.emit(ev)
	}()
	return nil
}

func (f *FS) emit(ev Event) {
	logger.Infof("installer: task %s %s -> %s", ev.TaskID, ev.PackageName, ev.Outcome)
	f.events <- ev
}

func (f *FS) InstalledVersion(pkg string) (Version, bool, error) {
	if err := validName(pkg); err != nil {
		return Version{}, false, err
	}
	raw, err := os.ReadFile(filepath.Join(f.pkgDir(pkg), stateName))
	if errors.Is(err, os.ErrNotExist) {
		return Version{}, false, nil
	}
	if err != nil {
		return Version{}, false, err
	}
	var st installedState
	if err := yaml.Unmarshal(raw, &st); err != nil {
		return Version{}, false, fmt.Errorf("parse %s state: %w", pkg, err)
	}
	return st.Version, true, nil
}

// SetHomeLauncher pins an installed package as the default launcher.
func (f *FS) SetHomeLauncher(pkg string) error {
	if _, ok, err := f.InstalledVersion(pkg); err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("%s is not installed", pkg)
		}
		return err
	}
	return writeAtomic(filepath.Join(f.root, homeFile), []byte(pkg+"\n"))
}

// HomeLauncher returns the pinned launcher, empty when none.
func (f *FS) HomeLauncher() (string, error) {
	raw, err := os.ReadFile(filepath.Join(f.root, homeFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	return strings.TrimSpace(string(raw)), err
}

func copyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, readerCtx{ctx: ctx, r: in}); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

type readerCtx struct {
	ctx context.Context
	r   io.Reader
}

func (r readerCtx) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
