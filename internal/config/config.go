// Package config loads the node configuration: a YAML file checked
// against an embedded CUE schema, then ZKFOLD_* environment overrides.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/adhocore/gronx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource []byte

// Backend names a kv.Store implementation.
type Backend string

const (
	BackendSQLite  Backend = "sqlite"
	BackendPebble  Backend = "pebble"
	BackendLevelDB Backend = "leveldb"
	BackendMemory  Backend = "memory"
)

// DefaultPath is where init writes and the CLI looks by default.
const DefaultPath = "zkfold.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ZKFOLD_"

// Config is the node configuration.
type Config struct {
	DataDir          string  `yaml:"data_dir"`
	Backend          Backend `yaml:"backend"`
	TopicPrefix      string  `yaml:"topic_prefix"`
	RelayURL         string  `yaml:"relay_url,omitempty"`
	RelayListen      string  `yaml:"relay_listen,omitempty"`
	LogLevel         string  `yaml:"log_level"`
	MetricsAddr      string  `yaml:"metrics_addr,omitempty"`
	SyncSchedule     string  `yaml:"sync_schedule"`
	PublishRate      float64 `yaml:"publish_rate"`
	PublishBurst     int     `yaml:"publish_burst"`
	TrustGroupProofs bool    `yaml:"trust_group_proofs"`

	// History lists JSONL envelope snapshots used as the history source
	// when no relay is configured.
	History []string `yaml:"history,omitempty"`

	// Registry is a registry snapshot imported on startup.
	Registry string `yaml:"registry,omitempty"`

	Watch Watch `yaml:"watch,omitempty"`
}

// Watch lists the scopes synced on every scheduled run, besides the
// global topic.
type Watch struct {
	Users   []string `yaml:"users,omitempty"`
	Groups  []string `yaml:"groups,omitempty"`
	Threads []string `yaml:"threads,omitempty"`
	Chats   []string `yaml:"chats,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		DataDir:      "~/.zkfold",
		Backend:      BackendSQLite,
		TopicPrefix:  "zkitter",
		LogLevel:     "info",
		SyncSchedule: "*/5 * * * *",
		PublishRate:  5,
		PublishBurst: 10,
	}
}

// Load reads the file at path over Default, applies environment overrides
// from lookup and validates the result. lookup is usually os.LookupEnv.
func Load(path string, lookup func(string) (string, bool)) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Decode(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode checks data against the schema and decodes it over Default.
func Decode(data []byte) (Config, error) {
	if err := checkSchema(data); err != nil {
		return Config{}, err
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// checkSchema unifies the YAML document with #Config.
func checkSchema(data []byte) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if raw == nil {
		return nil
	}

	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config does not match schema: %w", err)
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error; variables already set are kept.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from ZKFOLD_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	str("DATA_DIR", &c.DataDir)
	str("TOPIC_PREFIX", &c.TopicPrefix)
	str("RELAY_URL", &c.RelayURL)
	str("RELAY_LISTEN", &c.RelayListen)
	str("LOG_LEVEL", &c.LogLevel)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("SYNC_SCHEDULE", &c.SyncSchedule)
	str("REGISTRY", &c.Registry)

	if v, ok := lookup(EnvPrefix + "BACKEND"); ok {
		c.Backend = Backend(v)
	}
	if v, ok := lookup(EnvPrefix + "HISTORY"); ok {
		c.History = splitList(v)
	}
	if v, ok := lookup(EnvPrefix + "PUBLISH_RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sPUBLISH_RATE: %w", EnvPrefix, err)
		}
		c.PublishRate = f
	}
	if v, ok := lookup(EnvPrefix + "TRUST_GROUP_PROOFS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sTRUST_GROUP_PROOFS: %w", EnvPrefix, err)
		}
		c.TrustGroupProofs = b
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the fields the schema cannot: values that arrive from
// the environment and the cron syntax of SyncSchedule.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSQLite, BackendPebble, BackendLevelDB, BackendMemory:
	default:
		return fmt.Errorf("invalid backend %q: want sqlite, pebble, leveldb or memory", c.Backend)
	}
	if c.Backend != BackendMemory && c.DataDir == "" {
		return fmt.Errorf("data_dir is required for the %s backend", c.Backend)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.SyncSchedule != "" && !gronx.IsValid(c.SyncSchedule) {
		return fmt.Errorf("invalid sync_schedule %q: not a valid cron expression", c.SyncSchedule)
	}
	if c.PublishRate < 0 {
		return fmt.Errorf("publish_rate must not be negative")
	}
	if c.RelayURL != "" && !strings.HasPrefix(c.RelayURL, "ws://") && !strings.HasPrefix(c.RelayURL, "wss://") {
		return fmt.Errorf("relay_url must start with ws:// or wss://")
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log_level %q", s)
}

// Level returns the configured slog level.
func (c Config) Level() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

// Dir returns DataDir with a leading ~ expanded.
func (c Config) Dir() string {
	if c.DataDir == "~" || strings.HasPrefix(c.DataDir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(c.DataDir, "~"))
		}
	}
	return c.DataDir
}

// StorePath returns the file or directory the backend opens.
func (c Config) StorePath() string {
	switch c.Backend {
	case BackendSQLite:
		return filepath.Join(c.Dir(), "zkfold.db")
	case BackendPebble:
		return filepath.Join(c.Dir(), "pebble")
	case BackendLevelDB:
		return filepath.Join(c.Dir(), "leveldb")
	}
	return ""
}

// NextSync returns the first scheduled sync after t, or false when no
// schedule is set.
func (c Config) NextSync(t time.Time) (time.Time, bool, error) {
	if c.SyncSchedule == "" {
		return time.Time{}, false, nil
	}
	next, err := gronx.NextTickAfter(c.SyncSchedule, t, false)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("next sync: %w", err)
	}
	return next, true, nil
}

// Write saves c as YAML at path, refusing to overwrite unless force.
func Write(path string, c Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
