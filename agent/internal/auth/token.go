package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoToken means neither the config nor the token file carries a device token.
var ErrNoToken = errors.New("no device token configured")

// ResolveToken prefers the configured token and falls back to the token file.
func ResolveToken(configured, path string) (string, error) {
	if t := strings.TrimSpace(configured); t != "" {
		return t, nil
	}
	if path == "" {
		return "", ErrNoToken
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	t := strings.TrimSpace(string(b))
	if t == "" {
		return "", ErrNoToken
	}
	return t, nil
}

// SaveToken writes a device token readable only by the agent user.
func SaveToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir token dir: %w", err)
	}
	return os.WriteFile(path, []byte(strings.TrimSpace(token)+"\n"), 0o600)
}
