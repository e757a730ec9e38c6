package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "FLOWSTATUS"

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// EnvSpec maps an environment variable to a config key.
type EnvSpec struct {
	Name string
	Path string
}

// getEnvSpecs lists the keys with environment overrides. Every key is
// bound explicitly so that keys without defaults still decode.
func getEnvSpecs() []EnvSpec {
	keys := []string{
		"logging.level", "logging.profile",
		"data_dirs.illumina", "data_dirs.element", "data_dirs.ont",
		"exclude",
		"samplesheets.hiseq", "samplesheets.xten", "samplesheets.novaseq",
		"samplesheets.novaseqxplus", "samplesheets.nextseq",
		"element.transfer_log",
		"statusdb.backend", "statusdb.url", "statusdb.username", "statusdb.password",
		"statusdb.database", "statusdb.nanopore_database", "statusdb.path",
		"statusdb.auth_token", "statusdb.timeout",
		"mail.recipients", "mail.sender", "mail.smtp_host", "mail.smtp_port",
		"mail.hours", "mail.max_per_pass",
		"lease.backend", "lease.dir", "lease.redis_addr", "lease.redis_password",
		"lease.redis_db", "lease.ttl",
		"reconcile.conflict_retries", "reconcile.breaker_failures", "reconcile.breaker_timeout",
		"pass.concurrency", "pass.channel_buffer", "pass.state_dir", "pass.report", "pass.keep",
		"metrics.textfile",
		"disk.alert_percent", "disk.paths",
		"server.host", "server.port", "server.read_timeout", "server.write_timeout",
		"server.idle_timeout", "server.shutdown_timeout",
	}
	specs := make([]EnvSpec, 0, len(keys))
	for _, k := range keys {
		specs = append(specs, EnvSpec{
			Name: EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(k, ".", "_")),
			Path: k,
		})
	}
	return specs
}

// setDefaults registers the default value of every key.
func setDefaults(v *viper.Viper) {
	stateDir := defaultStateDir()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "console")

	v.SetDefault("data_dirs.illumina", []string{})
	v.SetDefault("data_dirs.element", []string{})
	v.SetDefault("data_dirs.ont", []string{})
	v.SetDefault("exclude", []string{})

	v.SetDefault("samplesheets.hiseq", "")
	v.SetDefault("samplesheets.xten", "")
	v.SetDefault("samplesheets.novaseq", "")
	v.SetDefault("samplesheets.novaseqxplus", "")
	v.SetDefault("samplesheets.nextseq", "")
	v.SetDefault("element.transfer_log", "")

	v.SetDefault("statusdb.backend", BackendSQLite)
	v.SetDefault("statusdb.url", "")
	v.SetDefault("statusdb.username", "")
	v.SetDefault("statusdb.password", "")
	v.SetDefault("statusdb.database", "bioinfo_analysis")
	v.SetDefault("statusdb.nanopore_database", "nanopore_runs")
	v.SetDefault("statusdb.path", filepath.Join(stateDir, "status.db"))
	v.SetDefault("statusdb.auth_token", "")
	v.SetDefault("statusdb.timeout", "30s")

	v.SetDefault("mail.recipients", []string{})
	v.SetDefault("mail.sender", "flowstatus@localhost")
	v.SetDefault("mail.smtp_host", "")
	v.SetDefault("mail.smtp_port", 25)
	v.SetDefault("mail.hours", []int{7, 12, 16})
	v.SetDefault("mail.max_per_pass", 10)

	v.SetDefault("lease.backend", LeaseFile)
	v.SetDefault("lease.dir", filepath.Join(stateDir, "leases"))
	v.SetDefault("lease.redis_addr", "")
	v.SetDefault("lease.redis_password", "")
	v.SetDefault("lease.redis_db", 0)
	v.SetDefault("lease.ttl", "30m")

	v.SetDefault("reconcile.conflict_retries", 3)
	v.SetDefault("reconcile.breaker_failures", 5)
	v.SetDefault("reconcile.breaker_timeout", "30s")

	v.SetDefault("pass.concurrency", 3)
	v.SetDefault("pass.channel_buffer", 64)
	v.SetDefault("pass.state_dir", filepath.Join(stateDir, "passes"))
	v.SetDefault("pass.report", true)
	v.SetDefault("pass.keep", 100)

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("disk.alert_percent", 90)
	v.SetDefault("disk.paths", []string{})

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// AppName names the app data and config dirs.
const AppName = "flowstatus"

func defaultStateDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// stringToIntSliceHook splits "6,18" into []int{6, 18}. Environment values
// arrive as strings and would otherwise decode as a single element.
func stringToIntSliceHook(sep string) mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf([]int{}) {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []int{}, nil
		}
		parts := strings.Split(raw, sep)
		out := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return nil, fmt.Errorf("parse %q as int: %w", p, err)
			}
			out = append(out, n)
		}
		return out, nil
	}
}

// Load builds the configuration. path may be empty, in which case
// flowstatus.yaml is looked up in the working directory and the user config
// dir; a missing file is not an error. Overrides are nested maps applied
// last.
func Load(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		for _, p := range getUserConfigPaths() {
			v.AddConfigPath(p)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		applyOverrides(v, "", o)
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToIntSliceHook(","),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// applyOverrides sets nested override maps as dotted keys so they take
// precedence over the environment.
func applyOverrides(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			applyOverrides(v, key, nested)
			continue
		}
		v.Set(key, val)
	}
}

func getUserConfigPaths() []string {
	return []string{gfconfig.GetAppConfigDir(AppName)}
}

// GetConfig returns the last loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}
