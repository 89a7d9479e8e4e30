package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables that override the file,
// e.g. CALMERGE_LISTEN or CALMERGE_DATABASE.
const EnvPrefix = "CALMERGE"

const (
	defaultListen         = "127.0.0.1:8080"
	defaultTimezone       = "UTC"
	defaultWeekStart      = "monday"
	defaultOrgID          = "default"
	defaultDatabase       = "./var/calmerge.db"
	defaultLogLevel       = "info"
	defaultGranularity    = 15
	defaultFeedRefresh    = "*/15 * * * *"
	defaultFeedCacheDir   = "./var/feed-cache"
	defaultMaxOccurrences = 5000
)

// FeedConfig describes a single ICS subscription feed.
type FeedConfig struct {
	// ID is an internal identifier; it prefixes the source id of every
	// instance the feed produces.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for calendar days and view windows.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// OrgID scopes every query and mutation.
	OrgID string `yaml:"org_id" json:"org_id"`

	// Database is the SQLite file path. ":memory:" keeps everything in RAM.
	Database string `yaml:"database" json:"database"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// MinGranularityMinutes is the shortest duration a resize may produce.
	MinGranularityMinutes int `yaml:"min_granularity_minutes" json:"min_granularity_minutes"`

	// Feeds is the list of subscribed ICS feeds.
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	// FeedRefresh is a cron expression for warming the feed cache.
	FeedRefresh string `yaml:"feed_refresh" json:"feed_refresh"`

	// FeedCacheDir holds cached feed bodies and their ETag metadata.
	FeedCacheDir string `yaml:"feed_cache_dir" json:"feed_cache_dir"`

	// MaxOccurrencesPerEvent caps expansion of a single recurring event.
	MaxOccurrencesPerEvent int `yaml:"max_occurrences_per_event" json:"max_occurrences_per_event"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                 defaultListen,
		Timezone:               defaultTimezone,
		WeekStart:              defaultWeekStart,
		OrgID:                  defaultOrgID,
		Database:               defaultDatabase,
		LogLevel:               defaultLogLevel,
		MinGranularityMinutes:  defaultGranularity,
		Feeds:                  []FeedConfig{},
		FeedRefresh:            defaultFeedRefresh,
		FeedCacheDir:           defaultFeedCacheDir,
		MaxOccurrencesPerEvent: defaultMaxOccurrences,
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = defaultWeekStart
	}
	if c.OrgID == "" {
		c.OrgID = defaultOrgID
	}
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.MinGranularityMinutes <= 0 {
		c.MinGranularityMinutes = defaultGranularity
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.FeedRefresh == "" {
		c.FeedRefresh = defaultFeedRefresh
	}
	if c.FeedCacheDir == "" {
		c.FeedCacheDir = defaultFeedCacheDir
	}
	if c.MaxOccurrencesPerEvent <= 0 {
		c.MaxOccurrencesPerEvent = defaultMaxOccurrences
	}
}

// Location resolves Timezone. An unknown zone is an error rather than a
// silent fallback, since every window boundary depends on it.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// FirstWeekday maps WeekStart to a time.Weekday.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

func (c *Config) MinGranularity() time.Duration {
	return time.Duration(c.MinGranularityMinutes) * time.Minute
}

// Load loads configuration from the given YAML path and applies the
// environment overlay.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - If the file exists, it is unmarshalled and normalized.
//   - CALMERGE_* variables override file values in both cases; they are
//     never written back.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	applyEnv(&cfg)

	return &cfg, nil
}

// applyEnv overlays CALMERGE_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	strs := map[string]*string{
		"listen":         &cfg.Listen,
		"timezone":       &cfg.Timezone,
		"week_start":     &cfg.WeekStart,
		"org_id":         &cfg.OrgID,
		"database":       &cfg.Database,
		"log_level":      &cfg.LogLevel,
		"feed_refresh":   &cfg.FeedRefresh,
		"feed_cache_dir": &cfg.FeedCacheDir,
	}
	for key, dst := range strs {
		_ = v.BindEnv(key)
		if s := strings.TrimSpace(v.GetString(key)); s != "" {
			*dst = s
		}
	}

	ints := map[string]*int{
		"min_granularity_minutes":   &cfg.MinGranularityMinutes,
		"max_occurrences_per_event": &cfg.MaxOccurrencesPerEvent,
	}
	for key, dst := range ints {
		_ = v.BindEnv(key)
		if n := v.GetInt(key); n > 0 {
			*dst = n
		}
	}

	cfg.Normalize()
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calmerge-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
