package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration that reads from TOML strings like "10s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(b), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Recorder configures where sessions are read from and how the polling loop paces itself.
type Recorder struct {
	Region            string   `toml:"region"`
	BaseURL           string   `toml:"base_url"`
	PlatformID        string   `toml:"platform_id"`
	PollRetryInterval Duration `toml:"poll_retry_interval"`
	PollMaxAttempts   int      `toml:"poll_max_attempts"`
	PacePadding       Duration `toml:"pace_padding"`
	BackfillRate      float64  `toml:"backfill_rate"`
	Resume            bool     `toml:"resume"`
	RequestTimeout    Duration `toml:"request_timeout"`
	UserAgent         string   `toml:"user_agent"`
}

// Storage selects the sink backend and where snapshots are written.
type Storage struct {
	Backend      string `toml:"backend"`
	Dir          string `toml:"dir"`
	CompletedDir string `toml:"completed_dir"`
	SQLitePath   string `toml:"sqlite_path"`
}

// S3 configures the S3 storage backend.
type S3 struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	Prefix          string `toml:"prefix"`
	ForcePathStyle  bool   `toml:"force_path_style"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	SessionToken    string `toml:"session_token"`
}

// Metrics configures the optional metrics listener.
type Metrics struct {
	Listen string `toml:"listen"`
}

// Log configures log output.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the recorder's full configuration.
//
// Values are layered: Default, then the TOML file, then environment
// variables (ApplyEnv), then command-line flags applied by the caller.
type Config struct {
	Recorder Recorder `toml:"recorder"`
	Storage  Storage  `toml:"storage"`
	S3       S3       `toml:"s3"`
	Metrics  Metrics  `toml:"metrics"`
	Log      Log      `toml:"log"`
}

// Storage backend names.
const (
	BackendDisk   = "disk"
	BackendS3     = "s3"
	BackendSQLite = "sqlite"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Recorder: Recorder{
			PollRetryInterval: Duration{10 * time.Second},
			PacePadding:       Duration{time.Second},
			Resume:            true,
			RequestTimeout:    Duration{10 * time.Second},
			UserAgent:         "spectator-recorder",
		},
		Storage: Storage{
			Backend:      BackendDisk,
			Dir:          "./replays",
			CompletedDir: "./completed",
		},
		Log: Log{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load returns Default overlaid with the TOML file at path (if path is not
// empty) and then with the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides fields whose environment variables are set.
func (c *Config) ApplyEnv() {
	c.Recorder.Region = GetEnv("RECORDER_REGION", c.Recorder.Region)
	c.Recorder.BaseURL = GetEnv("RECORDER_BASE_URL", c.Recorder.BaseURL)
	c.Recorder.PlatformID = GetEnv("RECORDER_PLATFORM_ID", c.Recorder.PlatformID)
	c.Recorder.PollRetryInterval.Duration = GetEnvDuration("RECORDER_POLL_RETRY_INTERVAL", c.Recorder.PollRetryInterval.Duration)
	c.Recorder.PollMaxAttempts = GetEnvInt("RECORDER_POLL_MAX_ATTEMPTS", c.Recorder.PollMaxAttempts)
	c.Recorder.PacePadding.Duration = GetEnvDuration("RECORDER_PACE_PADDING", c.Recorder.PacePadding.Duration)
	c.Recorder.BackfillRate = GetEnvFloat("RECORDER_BACKFILL_RATE", c.Recorder.BackfillRate)
	c.Recorder.Resume = GetEnvBool("RECORDER_RESUME", c.Recorder.Resume)
	c.Recorder.RequestTimeout.Duration = GetEnvDuration("RECORDER_REQUEST_TIMEOUT", c.Recorder.RequestTimeout.Duration)
	c.Recorder.UserAgent = GetEnv("RECORDER_USER_AGENT", c.Recorder.UserAgent)

	c.Storage.Backend = GetEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.Dir = GetEnv("STORAGE_DIR", c.Storage.Dir)
	c.Storage.CompletedDir = GetEnv("STORAGE_COMPLETED_DIR", c.Storage.CompletedDir)
	c.Storage.SQLitePath = GetEnv("STORAGE_SQLITE_PATH", c.Storage.SQLitePath)

	c.S3.Bucket = GetEnv("S3_BUCKET", c.S3.Bucket)
	c.S3.Region = GetEnv("S3_REGION", c.S3.Region)
	c.S3.Endpoint = GetEnv("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.Prefix = GetEnv("S3_PREFIX", c.S3.Prefix)
	c.S3.ForcePathStyle = GetEnvBool("S3_FORCE_PATH_STYLE", c.S3.ForcePathStyle)
	c.S3.AccessKeyID = GetEnv("S3_ACCESS_KEY_ID", c.S3.AccessKeyID)
	c.S3.SecretAccessKey = GetEnv("S3_SECRET_ACCESS_KEY", c.S3.SecretAccessKey)
	c.S3.SessionToken = GetEnv("S3_SESSION_TOKEN", c.S3.SessionToken)

	c.Metrics.Listen = GetEnv("METRICS_LISTEN", c.Metrics.Listen)

	c.Log.Level = GetEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = GetEnv("LOG_FORMAT", c.Log.Format)
}

// Validate checks the values a recording run depends on. Endpoint selection
// is validated by the caller since flags may still supply it.
func (c *Config) Validate() error {
	var errs []error
	if c.Recorder.PollRetryInterval.Duration < 0 {
		errs = append(errs, errors.New("recorder.poll_retry_interval must not be negative"))
	}
	if c.Recorder.PacePadding.Duration < 0 {
		errs = append(errs, errors.New("recorder.pace_padding must not be negative"))
	}
	if c.Recorder.BackfillRate < 0 {
		errs = append(errs, errors.New("recorder.backfill_rate must not be negative"))
	}
	switch c.Storage.Backend {
	case BackendDisk:
		if strings.TrimSpace(c.Storage.Dir) == "" {
			errs = append(errs, errors.New("storage.dir is required for the disk backend"))
		}
	case BackendSQLite:
		if strings.TrimSpace(c.Storage.SQLitePath) == "" && strings.TrimSpace(c.Storage.Dir) == "" {
			errs = append(errs, errors.New("storage.sqlite_path or storage.dir is required for the sqlite backend"))
		}
	case BackendS3:
		if c.S3.Bucket == "" || c.S3.Region == "" {
			errs = append(errs, errors.New("s3.bucket and s3.region are required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	if strings.TrimSpace(c.Storage.CompletedDir) == "" {
		errs = append(errs, errors.New("storage.completed_dir is required"))
	}
	return errors.Join(errs...)
}
