package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// configFiles lists the file names Load looks for, in order of preference.
var configFiles = []string{"config.yaml", "config.yml", "config.json"}

// Config holds application configuration.
type Config struct {
	// MaxCapacity is the hard cap on active artifacts in the vault.
	MaxCapacity int `json:"max_capacity" yaml:"max_capacity" validate:"gte=1"`

	// WarningThreshold is the advisory active count at which callers should
	// start warning the user. It enforces nothing.
	WarningThreshold int `json:"warning_threshold" yaml:"warning_threshold" validate:"gte=0,ltfield=MaxCapacity"`

	// TrashRetentionDays is how long a trashed artifact survives before purge.
	TrashRetentionDays int `json:"trash_retention_days" yaml:"trash_retention_days" validate:"gte=1"`

	// DataMinimizationWindowDays bounds the age of any artifact, active or trashed.
	DataMinimizationWindowDays int `json:"data_minimization_window_days" yaml:"data_minimization_window_days" validate:"gte=1"`

	// MaxQueries is the number of query records kept after pruning.
	MaxQueries int `json:"max_queries" yaml:"max_queries" validate:"gte=1"`

	// PruneThresholdDays drops query records not accessed within this many days.
	PruneThresholdDays int `json:"prune_threshold_days" yaml:"prune_threshold_days" validate:"gte=1"`

	// Backend selects the key-value substrate: sqlite, bolt or memory.
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty" validate:"oneof=sqlite bolt memory"`

	// StorageQuotaBytes caps the total persisted bytes. 0 means unlimited.
	StorageQuotaBytes int64 `json:"storage_quota_bytes,omitempty" yaml:"storage_quota_bytes,omitempty" validate:"gte=0"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"oneof=debug info warn error"`

	// LogFile receives JSON logs. Empty means stderr.
	LogFile string `json:"log_file,omitempty" yaml:"log_file,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty" yaml:"db_max_open_conns,omitempty" validate:"gte=0"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty" yaml:"db_max_idle_conns,omitempty" validate:"gte=0"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty" yaml:"disabled_tools,omitempty"`

	// DisabledTypes is a list of type names to disable entirely.
	// Known types: "vault", "query", "cache", "log".
	DisabledTypes []string `json:"disabled_types,omitempty" yaml:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxCapacity:                50,
		WarningThreshold:           40,
		TrashRetentionDays:         30,
		DataMinimizationWindowDays: 180,
		MaxQueries:                 50,
		PruneThresholdDays:         30,
		Backend:                    BackendSQLite,
		LogLevel:                   "info",
	}
}

// WarningThresholdFor returns the default warning level for a capacity:
// 80% of it, rounded down.
func WarningThresholdFor(maxCapacity int) int {
	return max(maxCapacity*4/5, 0)
}

// DefaultBaseDir returns $XDG_DATA_HOME/stash.
func DefaultBaseDir() string {
	return filepath.Join(xdg.DataHome, "stash")
}

// TrashRetention returns TrashRetentionDays as a duration.
func (c *Config) TrashRetention() time.Duration {
	return days(c.TrashRetentionDays)
}

// DataMinimizationWindow returns DataMinimizationWindowDays as a duration.
func (c *Config) DataMinimizationWindow() time.Duration {
	return days(c.DataMinimizationWindowDays)
}

// PruneThreshold returns PruneThresholdDays as a duration.
func (c *Config) PruneThreshold() time.Duration {
	return days(c.PruneThresholdDays)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load loads configuration from baseDir/config.yaml or baseDir/config.json.
// Returns default config if no file exists.
// The baseDir parameter allows tests to use t.TempDir() instead of the XDG data dir.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(findConfigFile(baseDir))
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// LoadWithRepo loads configuration from both the global directory and the nearest
// repo .stash directory. Repo config is found by walking upward from startDir.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(findConfigFile(globalDir))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	// Apply defaults, then global, then repo
	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .stash config file.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		if path := findConfigFile(filepath.Join(dir, ".stash")); path != "" {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// findConfigFile returns the first existing config file in dir, or "".
func findConfigFile(dir string) string {
	for _, name := range configFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the path is empty or the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(configPath), err)
	}

	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		MaxCapacity:                firstNonZero(overlay.MaxCapacity, base.MaxCapacity),
		WarningThreshold:           firstNonZero(overlay.WarningThreshold, base.WarningThreshold),
		TrashRetentionDays:         firstNonZero(overlay.TrashRetentionDays, base.TrashRetentionDays),
		DataMinimizationWindowDays: firstNonZero(overlay.DataMinimizationWindowDays, base.DataMinimizationWindowDays),
		MaxQueries:                 firstNonZero(overlay.MaxQueries, base.MaxQueries),
		PruneThresholdDays:         firstNonZero(overlay.PruneThresholdDays, base.PruneThresholdDays),
		Backend:                    firstNonZero(overlay.Backend, base.Backend),
		StorageQuotaBytes:          firstNonZero(overlay.StorageQuotaBytes, base.StorageQuotaBytes),
		LogLevel:                   firstNonZero(overlay.LogLevel, base.LogLevel),
		LogFile:                    firstNonZero(overlay.LogFile, base.LogFile),
		DBMaxOpenConns:             firstNonZero(overlay.DBMaxOpenConns, base.DBMaxOpenConns),
		DBMaxIdleConns:             firstNonZero(overlay.DBMaxIdleConns, base.DBMaxIdleConns),
	}

	// A capacity lowered below the inherited warning level drags the
	// warning down with it unless the overlay set one explicitly.
	if overlay.WarningThreshold == 0 && result.WarningThreshold >= result.MaxCapacity {
		result.WarningThreshold = WarningThresholdFor(result.MaxCapacity)
	}

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func firstNonZero[T comparable](overlay, base T) T {
	var zero T
	if overlay != zero {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string(nil), a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
