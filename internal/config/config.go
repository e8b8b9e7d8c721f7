// Package config provides layered configuration loading for the exposuregate
// agent. It merges Defaults -> Environment Variables, then validates the result.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/exposuregate/internal/domain"
	"github.com/haukened/exposuregate/internal/signedfetch"
)

// EnvPrefix is stripped from environment variable names before they are
// matched against configuration keys, e.g. EXPOSUREGATE_DATA_DIR => data_dir.
const EnvPrefix = "EXPOSUREGATE_"

// Config holds the merged runtime configuration for the agent.
type Config struct {
	Addr       string          `koanf:"addr" validate:"required,ip_port"`
	DataDir    string          `koanf:"data_dir" validate:"required,data_dir"`
	Platform   domain.Platform `koanf:"platform" validate:"required,oneof=ios android"`
	AppVersion string          `koanf:"app_version"` // seeds the host state until the shell reports one
	BLEEnabled bool            `koanf:"ble_enabled"`

	VersionsURL      string             `koanf:"versions_url" validate:"required,url"`
	ExposureListURL  string             `koanf:"exposure_list_url" validate:"required,url"`
	TrustedKeyPath   string             `koanf:"trusted_key_path"` // empty => embedded key
	EnvelopeFormat   signedfetch.Format `koanf:"envelope_format" validate:"required,oneof=json jws"`
	FetchTimeout     time.Duration      `koanf:"fetch_timeout" validate:"gt=0"`
	MaxDocumentBytes ByteSize           `koanf:"max_document_bytes" validate:"gt=0"`

	MatchInterval     time.Duration `koanf:"match_interval" validate:"gt=0"`
	MatchLookback     time.Duration `koanf:"match_lookback" validate:"gt=0"`
	MatchRadiusMeters float64       `koanf:"match_radius_meters" validate:"gt=0"`
	MatchTimeSlack    time.Duration `koanf:"match_time_slack" validate:"gte=0"`

	JanitorInterval  time.Duration `koanf:"janitor_interval" validate:"gt=0"`
	Retention        time.Duration `koanf:"retention" validate:"gt=0"`
	HideHistoryAfter time.Duration `koanf:"hide_history_after" validate:"gte=24h"`

	MetricsToken         string        `koanf:"metrics_token"`
	MetricsFlushInterval time.Duration `koanf:"metrics_flush_interval" validate:"gt=0"`
	LogLevel             string        `koanf:"log_level" validate:"oneof=debug info warn error"`
}

// DefaultAppConfig is the configuration used when nothing is overridden.
var DefaultAppConfig = Config{
	Addr:       "127.0.0.1:8787",
	DataDir:    "./data",
	Platform:   domain.PlatformAndroid,
	BLEEnabled: true,

	VersionsURL:      "https://exposures.example.org/v2/versions.json",
	ExposureListURL:  "https://exposures.example.org/v2/ble.json",
	EnvelopeFormat:   signedfetch.FormatJSON,
	FetchTimeout:     30 * time.Second,
	MaxDocumentBytes: signedfetch.DefaultMaxBytes,

	MatchInterval:     30 * time.Minute,
	MatchLookback:     14 * 24 * time.Hour,
	MatchRadiusMeters: 50,
	MatchTimeSlack:    5 * time.Minute,

	JanitorInterval:  time.Hour,
	Retention:        14 * 24 * time.Hour,
	HideHistoryAfter: 14 * 24 * time.Hour,

	MetricsFlushInterval: 10 * time.Second,
	LogLevel:             "info",
}

// SQLiteDSN returns the DSN for the agent database inside DataDir.
func (c *Config) SQLiteDSN() string {
	dbPath := path.Join(filepath.ToSlash(c.DataDir), "exposuregate.db")
	return "file:" + dbPath + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL"
}

// LockPath is the file that guards DataDir against a second agent.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "exposuregate.lock")
}

// SlogLevel converts LogLevel, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// loader seams, swapped in tests.
var (
	defaultLoader = func(k *koanf.Koanf) error {
		return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
	}
	envLoader = func(k *koanf.Koanf) error {
		return k.Load(env.Provider(".", env.Opt{
			Prefix: EnvPrefix,
			TransformFunc: func(key, value string) (string, any) {
				return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
			},
		}), nil)
	}
	registerValidators = func(v *validator.Validate) error {
		if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
			return err
		}
		return v.RegisterValidation("data_dir", validDataDir)
	}
)

// Load merges defaults and environment, decodes and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				StringToPlatform(),
				StringToFormat(),
				StringToByteSize(),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	v := validator.New()
	if err := registerValidators(v); err != nil {
		return nil, fmt.Errorf("register validators: %w", err)
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, err
	}
	if err := crossCheck(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// crossCheck enforces relations between fields.
func crossCheck(c *Config) error {
	if c.Retention < c.MatchLookback {
		return errors.New("retention must not be shorter than match_lookback")
	}
	if c.MatchTimeSlack >= c.MatchLookback {
		return errors.New("match_time_slack must be less than match_lookback")
	}
	return nil
}

// validIPPort accepts host:port where host is empty or an IP literal and port
// is in 1..65535.
func validIPPort(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return false
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return false
	}
	if host != "" && net.ParseIP(host) == nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// validDataDir rejects empty, root and current directories and any path with
// a parent segment.
func validDataDir(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if strings.TrimSpace(s) != s {
		return false
	}
	switch filepath.Clean(s) {
	case ".", string(filepath.Separator):
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(s), "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}
