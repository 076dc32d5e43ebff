package config

import (
	"context"
	"path/filepath"

	"fleet-steward/agent/internal/logger"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads mutable settings (auto_update, the device token) when the config
// file changes. Trust settings are
// never applied at runtime; a change is only reported.
func Watch(ctx context.Context, path string, initial *AppConfig, rt *Runtime) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// watch the directory so editors that replace the file are still seen
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return err
	}
	target := filepath.Clean(path)
	trust := initial.TrustFingerprint()

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				next, err := Load(path)
				if err != nil {
					logger.Errorf("config reload failed: %v", err)
					continue
				}
				if next.AutoUpdate != rt.AutoUpdate() {
					rt.SetAutoUpdate(next.AutoUpdate)
					logger.Infof("auto_update set to %v", next.AutoUpdate)
				}
				if rt.SetToken(next.BackendToken) {
					logger.Info("device token rotated")
				}
				if next.TrustFingerprint() != trust {
					logger.Warn("trust configuration changed on disk; restart the agent to apply it")
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logger.Errorf("config watcher error: %v", err)
			}
		}
	}()
	return nil
}
