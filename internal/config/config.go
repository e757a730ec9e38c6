// Package config loads the flowstatus configuration.
//
// Values come from, in increasing precedence: defaults, a YAML file,
// FLOWSTATUS_* environment variables, and runtime overrides (CLI flags).
// The result is a single Config value handed to constructors.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/3leaps/flowstatus/pkg/evidence"
)

// Config is the complete application configuration.
type Config struct {
	Logging      LoggingConfig            `mapstructure:"logging"`
	DataDirs     DataDirsConfig           `mapstructure:"data_dirs"`
	Exclude      []string                 `mapstructure:"exclude"`
	Samplesheets evidence.SamplesheetDirs `mapstructure:"samplesheets"`
	Element      ElementConfig            `mapstructure:"element"`
	StatusDB     StatusDBConfig           `mapstructure:"statusdb"`
	Mail         MailConfig               `mapstructure:"mail"`
	Lease        LeaseConfig              `mapstructure:"lease"`
	Reconcile    ReconcileConfig          `mapstructure:"reconcile"`
	Pass         PassConfig               `mapstructure:"pass"`
	Metrics      MetricsConfig            `mapstructure:"metrics"`
	Disk         DiskConfig               `mapstructure:"disk"`
	Server       ServerConfig             `mapstructure:"server"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// DataDirsConfig lists run data roots per brand.
type DataDirsConfig struct {
	Illumina []string `mapstructure:"illumina"`
	Element  []string `mapstructure:"element"`
	ONT      []string `mapstructure:"ont"`
}

// ByBrand returns the roots keyed by brand.
func (d DataDirsConfig) ByBrand() map[evidence.Brand][]string {
	return map[evidence.Brand][]string{
		evidence.BrandIllumina: d.Illumina,
		evidence.BrandElement:  d.Element,
		evidence.BrandONT:      d.ONT,
	}
}

// Brands returns the brands with at least one root, in canonical order.
func (d DataDirsConfig) Brands() []evidence.Brand {
	var out []evidence.Brand
	dirs := d.ByBrand()
	for _, b := range evidence.Brands {
		if len(dirs[b]) > 0 {
			out = append(out, b)
		}
	}
	return out
}

type ElementConfig struct {
	// TransferLog lists Element run ids already transferred, one per line.
	TransferLog string `mapstructure:"transfer_log"`
}

// Status store backends.
const (
	BackendCouchDB = "couchdb"
	BackendSQLite  = "sqlite"
	BackendMemory  = "memory"
)

type StatusDBConfig struct {
	Backend string `mapstructure:"backend"`

	// CouchDB
	URL              string `mapstructure:"url"`
	Username         string `mapstructure:"username"`
	Password         string `mapstructure:"password"`
	Database         string `mapstructure:"database"`
	NanoporeDatabase string `mapstructure:"nanopore_database"`

	// SQLite / libsql
	Path      string `mapstructure:"path"`
	AuthToken string `mapstructure:"auth_token"`

	Timeout time.Duration `mapstructure:"timeout"`
}

type MailConfig struct {
	Recipients []string `mapstructure:"recipients"`
	Sender     string   `mapstructure:"sender"`
	SMTPHost   string   `mapstructure:"smtp_host"`
	SMTPPort   int      `mapstructure:"smtp_port"`

	// Hours are the local hours (0-23) alerts may be sent in.
	Hours []int `mapstructure:"hours"`

	// MaxPerPass caps the alerts sent by one pass; zero is unlimited.
	MaxPerPass int `mapstructure:"max_per_pass"`
}

// Enabled reports whether mail delivery is configured.
func (m MailConfig) Enabled() bool {
	return m.SMTPHost != "" && len(m.Recipients) > 0
}

// Lease backends.
const (
	LeaseNone  = "none"
	LeaseFile  = "file"
	LeaseRedis = "redis"
)

type LeaseConfig struct {
	Backend       string        `mapstructure:"backend"`
	Dir           string        `mapstructure:"dir"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type ReconcileConfig struct {
	ConflictRetries int           `mapstructure:"conflict_retries"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type PassConfig struct {
	Concurrency   int    `mapstructure:"concurrency"`
	ChannelBuffer int    `mapstructure:"channel_buffer"`
	StateDir      string `mapstructure:"state_dir"`

	// Report writes report.jsonl next to pass.json.
	Report bool `mapstructure:"report"`

	// Keep is how many finished pass records to retain; zero keeps all.
	Keep int `mapstructure:"keep"`
}

type MetricsConfig struct {
	// Textfile is written after each pass when set.
	Textfile string `mapstructure:"textfile"`
}

// DiskConfig sets the disk usage alert.
type DiskConfig struct {
	// AlertPercent is the used percentage that raises an alert; zero disables it.
	AlertPercent int `mapstructure:"alert_percent"`

	// Paths are checked in addition to the data roots.
	Paths []string `mapstructure:"paths"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Validate rejects configurations no command can run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.StatusDB.Backend) {
	case BackendCouchDB:
		if strings.TrimSpace(c.StatusDB.URL) == "" {
			return fmt.Errorf("statusdb.url is required for the %s backend", BackendCouchDB)
		}
	case BackendSQLite:
		if c.StatusDB.Path == "" && c.StatusDB.URL == "" {
			return fmt.Errorf("statusdb.path or statusdb.url is required for the %s backend", BackendSQLite)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown statusdb.backend %q (want couchdb, sqlite or memory)", c.StatusDB.Backend)
	}

	switch strings.ToLower(c.Lease.Backend) {
	case LeaseNone:
	case LeaseFile:
		if c.Lease.Dir == "" {
			return fmt.Errorf("lease.dir is required for the %s lease backend", LeaseFile)
		}
	case LeaseRedis:
		if c.Lease.RedisAddr == "" {
			return fmt.Errorf("lease.redis_addr is required for the %s lease backend", LeaseRedis)
		}
	default:
		return fmt.Errorf("unknown lease.backend %q (want none, file or redis)", c.Lease.Backend)
	}

	for _, h := range c.Mail.Hours {
		if h < 0 || h > 23 {
			return fmt.Errorf("mail.hours: %d is not an hour of the day", h)
		}
	}
	if c.Mail.MaxPerPass < 0 {
		return fmt.Errorf("mail.max_per_pass must be >= 0")
	}
	if c.Disk.AlertPercent < 0 || c.Disk.AlertPercent > 100 {
		return fmt.Errorf("disk.alert_percent %d out of range", c.Disk.AlertPercent)
	}
	if c.Pass.Concurrency < 1 {
		return fmt.Errorf("pass.concurrency must be >= 1")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if !slices.Contains([]string{"console", "structured"}, strings.ToLower(c.Logging.Profile)) {
		return fmt.Errorf("unknown logging.profile %q", c.Logging.Profile)
	}
	return nil
}
