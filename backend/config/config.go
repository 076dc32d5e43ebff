package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DB struct {
	Driver string
	Host   string
	Port   int
	User   string
	Pass   string
	Name   string
	Path   string
}

type HTTP struct {
	Host string
	Port int
}

type Ledger struct {
	MaxPull       int
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

type Config struct {
	HTTP  HTTP
	DB    DB
	Redis struct {
		URL string
	}
	JWT struct {
		Secret string
		Issuer string
		ExpMin int
	}
	Admin struct {
		Username string
		Password string
	}
	Ledger Ledger
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("backend.http.host", "127.0.0.1")
	v.SetDefault("backend.http.port", 9400)
	v.SetDefault("backend.db.driver", "mysql")
	v.SetDefault("backend.db.host", "127.0.0.1")
	v.SetDefault("backend.db.port", 3306)
	v.SetDefault("backend.db.user", "root")
	v.SetDefault("backend.db.pass", "")
	v.SetDefault("backend.db.name", "fleet_steward")
	v.SetDefault("backend.db.path", "fleet-steward.db")
	v.SetDefault("backend.redis.url", "")
	v.SetDefault("backend.jwt.issuer", "fleet-steward")
	v.SetDefault("backend.jwt.exp_min", 60)
	v.SetDefault("backend.admin.username", "admin")
	v.SetDefault("backend.admin.password", "admin123")
	v.SetDefault("backend.ledger.max_pull", 10)
	v.SetDefault("backend.ledger.stale_after", "0s")
	v.SetDefault("backend.ledger.sweep_interval", "1m")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{
		HTTP: HTTP{Host: v.GetString("backend.http.host"), Port: v.GetInt("backend.http.port")},
		DB: DB{
			Driver: v.GetString("backend.db.driver"),
			Host:   v.GetString("backend.db.host"),
			Port:   v.GetInt("backend.db.port"),
			User:   v.GetString("backend.db.user"),
			Pass:   v.GetString("backend.db.pass"),
			Name:   v.GetString("backend.db.name"),
			Path:   v.GetString("backend.db.path"),
		},
		Ledger: Ledger{
			MaxPull:       v.GetInt("backend.ledger.max_pull"),
			StaleAfter:    v.GetDuration("backend.ledger.stale_after"),
			SweepInterval: v.GetDuration("backend.ledger.sweep_interval"),
		},
	}
	cfg.Redis.URL = v.GetString("backend.redis.url")
	cfg.JWT.Secret = v.GetString("backend.jwt.secret")
	if cfg.JWT.Secret == "" {
		cfg.JWT.Secret = "dev-secret"
	}
	cfg.JWT.Issuer = v.GetString("backend.jwt.issuer")
	cfg.JWT.ExpMin = v.GetInt("backend.jwt.exp_min")
	if cfg.JWT.ExpMin <= 0 {
		cfg.JWT.ExpMin = 60
	}
	cfg.Admin.Username = v.GetString("backend.admin.username")
	cfg.Admin.Password = v.GetString("backend.admin.password")
	if cfg.Ledger.MaxPull <= 0 {
		cfg.Ledger.MaxPull = 10
	}
	return cfg, nil
}
