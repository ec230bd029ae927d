// Package config loads hostvault settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dukerupert/hostvault/internal/offsite"
)

const envPrefix = "HOSTVAULT_"

type Config struct {
	Port      string
	DataDir   string
	DBPath    string
	BackupDir string

	LogLevel  string
	LogFormat string
	LogFile   string

	Workers         int
	TransferTimeout time.Duration
	Location        *time.Location
	RsyncPath       string
	SSHPassPath     string
	SSHTimeout      time.Duration

	WSOrigins []string
	BaseURL   string
	Offsite   offsite.Config

	// Failure alerts are mailed through Postmark when a token and
	// recipient are set.
	PostmarkToken string
	AlertFrom     string
	AlertTo       string
}

// AlertsEnabled reports whether failure alerts should be mailed.
func (c *Config) AlertsEnabled() bool {
	return c.PostmarkToken != "" && c.AlertTo != ""
}

// Load reads an optional dotenv file and then the HOSTVAULT_* variables.
// An empty envFile means ".env" in the working directory, which may be
// absent. Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	} else if err := godotenv.Load(envFile); err != nil {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:        get("PORT", "8080"),
		DataDir:     get("DATA_DIR", "/data"),
		LogLevel:    get("LOG_LEVEL", "info"),
		LogFormat:   strings.ToLower(get("LOG_FORMAT", "text")),
		LogFile:     get("LOG_FILE", ""),
		RsyncPath:   get("RSYNC_PATH", "rsync"),
		SSHPassPath: get("SSHPASS_PATH", "sshpass"),
		WSOrigins:   splitList(get("WS_ORIGINS", "")),
		BaseURL:     strings.TrimRight(get("BASE_URL", ""), "/"),
		Offsite: offsite.Config{
			Endpoint:   get("OFFSITE_ENDPOINT", ""),
			Bucket:     get("OFFSITE_BUCKET", ""),
			Region:     get("OFFSITE_REGION", ""),
			AccessKey:  get("OFFSITE_ACCESS_KEY", ""),
			SecretKey:  get("OFFSITE_SECRET_KEY", ""),
			Prefix:     get("OFFSITE_PREFIX", ""),
			Passphrase: get("OFFSITE_PASSPHRASE", ""),
		},
	}
	cfg.DBPath = get("DB_PATH", filepath.Join(cfg.DataDir, "db", "hostvault.db"))
	cfg.BackupDir = get("BACKUP_DIR", filepath.Join(cfg.DataDir, "backups"))
	cfg.PostmarkToken = get("POSTMARK_TOKEN", "")
	cfg.AlertFrom = get("ALERT_FROM", "hostvault@localhost")
	cfg.AlertTo = get("ALERT_TO", "")

	var err error
	if cfg.Workers, err = getInt("WORKERS", 2); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("%sWORKERS must be at least 1", envPrefix)
	}
	if cfg.TransferTimeout, err = getDuration("TRANSFER_TIMEOUT", time.Hour); err != nil {
		return nil, err
	}
	if cfg.SSHTimeout, err = getDuration("SSH_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("%sLOG_FORMAT must be text or json, got %q", envPrefix, cfg.LogFormat)
	}

	cfg.Location = time.Local
	if tz := get("TIMEZONE", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%sTIMEZONE: %w", envPrefix, err)
		}
		cfg.Location = loc
	}

	if cfg.Offsite.Bucket != "" && (cfg.Offsite.AccessKey == "" || cfg.Offsite.SecretKey == "") {
		return nil, fmt.Errorf("%sOFFSITE_BUCKET is set but access key or secret key is missing", envPrefix)
	}
	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func get(key, def string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := get(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %q is not a number", envPrefix, key, v)
	}
	return n, nil
}

// getDuration accepts Go durations ("90m") or a plain number of seconds.
func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := get(key, "")
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("%s%s must be positive", envPrefix, key)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s%s: %q is not a duration", envPrefix, key, v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s%s must be positive", envPrefix, key)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
