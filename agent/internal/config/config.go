package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
)

// Principal is a local caller the IPC surface can recognize: processes running as
// UID (and, when Exe is set, running that binary) resolve to Name, and Cert pins
// the signing certificate it must carry. Principals are a list because package
// names contain dots.
type Principal struct {
	Name string `mapstructure:"name"`
	UID  int    `mapstructure:"uid"`
	Cert string `mapstructure:"cert"`
	Exe  string `mapstructure:"exe"`
}

type IPC struct {
	Socket     string
	Privileged []string
	Liveness   []string
	Principals []Principal
}

type AppConfig struct {
	DeviceID       string
	BackendURL     string
	BackendToken   string
	TokenPath      string
	DBPath         string
	LogPath        string
	LogLevel       string
	WorkDir        string
	InstallRoot    string
	HomePackage    string
	RequireRoot    bool
	AutoUpdate     bool
	Schedule       string
	MaxPull        int
	RetryBaseDelay time.Duration
	ConfirmTimeout time.Duration
	TaskHistory    int
	RebootCommand  []string
	SigningCert    string
	IPC            IPC
}

func newViper(path string) *viper.Viper {
	base := filepath.Join(os.TempDir(), "fleet-steward")
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// defaults
	v.SetDefault("agent.backend.url", "http://127.0.0.1:9400")
	v.SetDefault("agent.token_path", filepath.Join(base, "agent.token"))
	v.SetDefault("agent.log_level", "info")
	v.SetDefault("agent.db_path", filepath.Join(base, "agent.db"))
	v.SetDefault("agent.work_dir", filepath.Join(base, "work"))
	v.SetDefault("agent.install_root", filepath.Join(base, "apps"))
	v.SetDefault("agent.require_root", false)
	v.SetDefault("agent.auto_update", true)
	v.SetDefault("agent.schedule", "@every 3h")
	v.SetDefault("agent.max_pull", 10)
	v.SetDefault("agent.retry_base_delay", "1500ms")
	v.SetDefault("agent.confirm_timeout", "10m")
	v.SetDefault("agent.task_history", 200)
	v.SetDefault("agent.reboot_command", []string{"systemctl", "reboot"})
	v.SetDefault("agent.ipc.socket", filepath.Join(base, "agent.sock"))
	v.SetDefault("agent.ipc.privileged", []string{})
	v.SetDefault("agent.ipc.liveness", []string{})
	return v
}

// Load reads the agent configuration. A missing file leaves every key at its default.
func Load(path string) (*AppConfig, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &AppConfig{
		DeviceID:       v.GetString("agent.device_id"),
		BackendURL:     strings.TrimRight(v.GetString("agent.backend.url"), "/"),
		BackendToken:   v.GetString("agent.backend.token"),
		TokenPath:      v.GetString("agent.token_path"),
		DBPath:         v.GetString("agent.db_path"),
		LogPath:        v.GetString("agent.log_path"),
		LogLevel:       v.GetString("agent.log_level"),
		WorkDir:        v.GetString("agent.work_dir"),
		InstallRoot:    v.GetString("agent.install_root"),
		HomePackage:    v.GetString("agent.home_package"),
		RequireRoot:    v.GetBool("agent.require_root"),
		AutoUpdate:     v.GetBool("agent.auto_update"),
		Schedule:       v.GetString("agent.schedule"),
		MaxPull:        v.GetInt("agent.max_pull"),
		RetryBaseDelay: v.GetDuration("agent.retry_base_delay"),
		ConfirmTimeout: v.GetDuration("agent.confirm_timeout"),
		TaskHistory:    v.GetInt("agent.task_history"),
		RebootCommand:  v.GetStringSlice("agent.reboot_command"),
		SigningCert:    v.GetString("agent.signing_cert"),
		IPC: IPC{
			Socket:     v.GetString("agent.ipc.socket"),
			Privileged: v.GetStringSlice("agent.ipc.privileged"),
			Liveness:   v.GetStringSlice("agent.ipc.liveness"),
		},
	}
	if err := v.UnmarshalKey("agent.ipc.principals", &cfg.IPC.Principals); err != nil {
		return nil, fmt.Errorf("decode agent.ipc.principals: %w", err)
	}
	if cfg.MaxPull <= 0 {
		cfg.MaxPull = 10
	}
	if cfg.TaskHistory <= 0 {
		cfg.TaskHistory = 200
	}
	return cfg, nil
}

// TrustFingerprint summarizes the trust-relevant keys; a change requires a restart.
func (c *AppConfig) TrustFingerprint() string {
	names := make([]string, 0, len(c.IPC.Principals))
	for _, p := range c.IPC.Principals {
		names = append(names, fmt.Sprintf("%s=%d:%s:%s", p.Name, p.UID, p.Cert, p.Exe))
	}
	sort.Strings(names)
	priv := append([]string(nil), c.IPC.Privileged...)
	live := append([]string(nil), c.IPC.Liveness...)
	sort.Strings(priv)
	sort.Strings(live)
	return strings.Join([]string{
		strings.Join(priv, ","), strings.Join(live, ","), strings.Join(names, ","), c.SigningCert,
	}, "|")
}

// Runtime holds the settings that may change without a restart.
type Runtime struct {
	autoUpdate atomic.Bool

	mu      sync.Mutex
	token   string
	onToken func(string)
}

func NewRuntime(cfg *AppConfig) *Runtime {
	r := &Runtime{token: cfg.BackendToken}
	r.autoUpdate.Store(cfg.AutoUpdate)
	return r
}

// OnTokenChange registers the function called with every rotated device token.
func (r *Runtime) OnTokenChange(fn func(string)) {
	r.mu.Lock()
	r.onToken = fn
	r.mu.Unlock()
}

// SetToken stores a device token. It reports false, and skips the callback,
// when the token is empty or unchanged.
func (r *Runtime) SetToken(token string) bool {
	token = strings.TrimSpace(token)
	r.mu.Lock()
	if token == "" || token == r.token {
		r.mu.Unlock()
		return false
	}
	r.token = token
	fn := r.onToken
	r.mu.Unlock()
	if fn != nil {
		fn(token)
	}
	return true
}

func (r *Runtime) AutoUpdate() bool { return r.autoUpdate.Load() }

func (r *Runtime) SetAutoUpdate(v bool) { r.autoUpdate.Store(v) }
