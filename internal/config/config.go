// Package config loads quantum-shield settings from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/quantum-shield/internal/defense"
	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/logging"
	"github.com/danielpatrickdp/quantum-shield/internal/observer"
	"github.com/danielpatrickdp/quantum-shield/internal/storage"
	"github.com/danielpatrickdp/quantum-shield/internal/superposition"
)

// #region types

// Database names the database tier implementation.
type Database string

const (
	DatabaseSQLite Database = "sqlite"
	DatabaseBadger Database = "badger"
	DatabaseNone   Database = "none"
)

// Config is the whole process configuration.
type Config struct {
	Superposition superposition.Config `yaml:"superposition"`
	Observer      ObserverConfig       `yaml:"observer"`
	Storage       StorageConfig        `yaml:"storage"`
	Defense       DefenseConfig        `yaml:"defense"`
	Transport     TransportConfig      `yaml:"transport"`
	Logging       logging.Config       `yaml:"logging"`
}

// ObserverConfig selects the unauthorized-access threshold and counter scope.
type ObserverConfig struct {
	Threshold int            `yaml:"threshold" validate:"gt=0"`
	Scope     observer.Scope `yaml:"scope" validate:"oneof=global per_item"`
}

// StorageConfig configures the tiers.
type StorageConfig struct {
	Enabled        bool           `yaml:"enabled"`
	DataDir        string         `yaml:"data_dir" validate:"required_if=Enabled true"`
	Database       Database       `yaml:"database" validate:"oneof=sqlite badger none"`
	MemoryCapacity int            `yaml:"memory_capacity" validate:"gte=0"`
	Placement      storage.Config `yaml:"placement"`
}

// DBPath is the SQLite file inside DataDir.
func (s StorageConfig) DBPath() string { return filepath.Join(s.DataDir, "qshield.db") }

// FileDir is the file tier directory inside DataDir.
func (s StorageConfig) FileDir() string { return filepath.Join(s.DataDir, "records") }

// BadgerDir is the Badger directory inside DataDir.
func (s StorageConfig) BadgerDir() string { return filepath.Join(s.DataDir, "badger") }

// DefenseConfig bundles the breaker, responder and poisoning settings.
type DefenseConfig struct {
	Breaker    defense.BreakerConfig   `yaml:"breaker"`
	Responder  defense.ResponderConfig `yaml:"responder"`
	PoisonSeed uint64                  `yaml:"poison_seed"`
}

// TransportConfig holds the gRPC listen address.
type TransportConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// #endregion types

// #region defaults

// Default returns a complete, valid configuration with persistence disabled.
func Default() Config {
	return Config{
		Superposition: superposition.DefaultConfig(),
		Observer:      ObserverConfig{Threshold: 3, Scope: observer.ScopeGlobal},
		Storage: StorageConfig{
			DataDir:   "data",
			Database:  DatabaseSQLite,
			Placement: storage.DefaultConfig(),
		},
		Defense: DefenseConfig{
			Breaker:    defense.DefaultBreakerConfig(),
			Responder:  defense.DefaultResponderConfig(),
			PoisonSeed: 1,
		},
		Transport: TransportConfig{Addr: "127.0.0.1:50071"},
		Logging:   logging.Config{Level: "info", Format: "text"},
	}
}

// #endregion defaults

// #region load

// Load reads path over Default, applies QSHIELD_* environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse config %s: %v", errs.ErrInvalidArgument, path, err)
		}
	}
	applyEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := envOr("QSHIELD_DATA_DIR", ""); v != "" {
		cfg.Storage.DataDir = v
		cfg.Storage.Enabled = true
	}
	cfg.Storage.Database = Database(envOr("QSHIELD_DB", string(cfg.Storage.Database)))
	cfg.Transport.Addr = envOr("QSHIELD_ADDR", cfg.Transport.Addr)
	cfg.Logging.Level = strings.ToLower(envOr("QSHIELD_LOG_LEVEL", cfg.Logging.Level))
	cfg.Observer.Scope = observer.Scope(envOr("QSHIELD_OBSERVER_SCOPE", string(cfg.Observer.Scope)))
}

// #endregion load

// #region validate

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags. Failures wrap errs.ErrInvalidArgument.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", errs.ErrInvalidArgument, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
}

// #endregion validate

// #region helpers

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
