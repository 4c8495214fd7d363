// Package server provides configuration helpers that define runtime defaults,
// validation, and loading from YAML files and environment variables for the
// AnonyChat service.
package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/anonychat/internal/chat"
	"github.com/Tyrowin/anonychat/internal/snapshot"
)

// RateLimitConfig defines the per-connection token bucket.
type RateLimitConfig struct {
	Burst             int           `yaml:"burst"`
	TokensPerInterval int           `yaml:"tokens_per_interval"`
	RefillInterval    time.Duration `yaml:"refill_interval"`
}

// RoomsConfig bounds room capacity, history and input sizes.
type RoomsConfig struct {
	DefaultMaxMembers int           `yaml:"default_max_members"`
	MaxMembersLimit   int           `yaml:"max_members_limit"`
	MaxMessages       int           `yaml:"max_messages"`
	PruneTo           int           `yaml:"prune_to"`
	MaxTextLength     int           `yaml:"max_text_length"`
	MaxNameLength     int           `yaml:"max_name_length"`
	IdleTTL           time.Duration `yaml:"idle_ttl"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
}

// PersistenceConfig selects the snapshot backend.
type PersistenceConfig struct {
	Backend       string        `yaml:"backend"`
	Dir           string        `yaml:"dir"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPrefix   string        `yaml:"redis_prefix"`
	SQLitePath    string        `yaml:"sqlite_path"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// UploadsConfig controls the file upload endpoint.
type UploadsConfig struct {
	Dir          string        `yaml:"dir"`
	PublicPrefix string        `yaml:"public_prefix"`
	MaxBytes     int64         `yaml:"max_bytes"`
	AllowedTypes []string      `yaml:"allowed_types"`
	Timeout      time.Duration `yaml:"timeout"`
}

// HostsConfig maps host names to sites.
type HostsConfig struct {
	Games []string `yaml:"games"`
}

// GamesConfig locates the static games site.
type GamesConfig struct {
	Dir string `yaml:"dir"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string            `yaml:"port"`
	AllowedOrigins  []string          `yaml:"allowed_origins"`
	MaxMessageSize  int64             `yaml:"max_message_size"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig   `yaml:"rate_limit"`
	Rooms           RoomsConfig       `yaml:"rooms"`
	Persistence     PersistenceConfig `yaml:"persistence"`
	Uploads         UploadsConfig     `yaml:"uploads"`
	Hosts           HostsConfig       `yaml:"hosts"`
	Games           GamesConfig       `yaml:"games"`
	Log             LogConfig         `yaml:"log"`
}

var (
	configMu      sync.RWMutex
	activeConfig  Config
	activeOrigins originPolicy
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	store := chat.DefaultStoreConfig()
	session := chat.DefaultSessionConfig()

	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:  64 * 1024,
		ShutdownTimeout: 10 * time.Second,
		RateLimit: RateLimitConfig{
			Burst:             session.Bucket.Capacity,
			TokensPerInterval: session.Bucket.TokensPerInterval,
			RefillInterval:    session.Bucket.Interval,
		},
		Rooms: RoomsConfig{
			DefaultMaxMembers: store.DefaultMaxMembers,
			MaxMembersLimit:   store.MaxMembersLimit,
			MaxMessages:       store.MaxMessages,
			PruneTo:           store.PruneTo,
			MaxTextLength:     session.MaxTextLength,
			MaxNameLength:     session.MaxNameLength,
			IdleTTL:           24 * time.Hour,
			SweepInterval:     time.Minute,
		},
		Persistence: PersistenceConfig{
			Backend:       snapshot.BackendNone,
			Dir:           "data/rooms",
			RedisAddr:     "localhost:6379",
			RedisPrefix:   snapshot.DefaultRedisPrefix,
			SQLitePath:    "data/anonychat.db",
			FlushInterval: snapshot.DefaultFlushInterval,
		},
		Uploads: UploadsConfig{
			Dir:          "uploads",
			PublicPrefix: session.FileURLPrefix,
			MaxBytes:     10 << 20,
			AllowedTypes: []string{"image/", "video/", "audio/", "text/plain", "application/pdf", "application/zip"},
			Timeout:      30 * time.Second,
		},
		Games: GamesConfig{
			Dir: "games",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.TokensPerInterval <= 0 {
		cfg.RateLimit.TokensPerInterval = cfg.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	sanitizeRooms(&cfg.Rooms, def.Rooms)

	if cfg.Persistence.FlushInterval <= 0 {
		cfg.Persistence.FlushInterval = def.Persistence.FlushInterval
	}
	if cfg.Uploads.MaxBytes <= 0 {
		cfg.Uploads.MaxBytes = def.Uploads.MaxBytes
	}
	if cfg.Uploads.Timeout <= 0 {
		cfg.Uploads.Timeout = def.Uploads.Timeout
	}
	if cfg.Uploads.PublicPrefix != "" && !strings.HasSuffix(cfg.Uploads.PublicPrefix, "/") {
		cfg.Uploads.PublicPrefix += "/"
	}

	policy, origins := newOriginPolicy(cfg.AllowedOrigins)
	if policy.any {
		origins = append(origins, "*")
	}
	cfg.AllowedOrigins = origins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	activeOrigins = policy

	return cfg
}

func sanitizeRooms(rooms *RoomsConfig, def RoomsConfig) {
	if rooms.DefaultMaxMembers <= 0 {
		rooms.DefaultMaxMembers = def.DefaultMaxMembers
	}
	if rooms.MaxMembersLimit < rooms.DefaultMaxMembers {
		rooms.MaxMembersLimit = rooms.DefaultMaxMembers
	}
	if rooms.MaxMessages <= 0 {
		rooms.MaxMessages = def.MaxMessages
	}
	if rooms.PruneTo <= 0 || rooms.PruneTo >= rooms.MaxMessages {
		rooms.PruneTo = rooms.MaxMessages * 4 / 5
	}
	if rooms.MaxTextLength <= 0 {
		rooms.MaxTextLength = def.MaxTextLength
	}
	if rooms.MaxNameLength <= 0 {
		rooms.MaxNameLength = def.MaxNameLength
	}
	if rooms.SweepInterval <= 0 {
		rooms.SweepInterval = def.SweepInterval
	}
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
// It returns the configuration actually in effect.
func SetConfig(cfg *Config) Config {
	if cfg == nil {
		return sanitizeConfig(defaultConfig())
	}

	copied := *cfg
	copied.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	copied.Uploads.AllowedTypes = append([]string(nil), cfg.Uploads.AllowedTypes...)
	copied.Hosts.Games = append([]string(nil), cfg.Hosts.Games...)
	return sanitizeConfig(copied)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// CurrentConfig returns a copy of the configuration in effect.
func CurrentConfig() Config {
	return currentConfig()
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// StoreConfig derives the room store limits.
func (c Config) StoreConfig() chat.StoreConfig {
	return chat.StoreConfig{
		DefaultMaxMembers: c.Rooms.DefaultMaxMembers,
		MaxMembersLimit:   c.Rooms.MaxMembersLimit,
		MaxMessages:       c.Rooms.MaxMessages,
		PruneTo:           c.Rooms.PruneTo,
	}
}

// SessionConfig derives the per-connection limits.
func (c Config) SessionConfig() chat.SessionConfig {
	return chat.SessionConfig{
		Bucket: chat.BucketConfig{
			Capacity:          c.RateLimit.Burst,
			TokensPerInterval: c.RateLimit.TokensPerInterval,
			Interval:          c.RateLimit.RefillInterval,
		},
		MaxTextLength: c.Rooms.MaxTextLength,
		MaxNameLength: c.Rooms.MaxNameLength,
		FileURLPrefix: c.Uploads.PublicPrefix,
	}
}

// SnapshotOptions derives the persistence backend options.
func (c Config) SnapshotOptions() snapshot.Options {
	return snapshot.Options{
		Backend:     c.Persistence.Backend,
		Dir:         c.Persistence.Dir,
		RedisAddr:   c.Persistence.RedisAddr,
		RedisPrefix: c.Persistence.RedisPrefix,
		SQLitePath:  c.Persistence.SQLitePath,
	}
}

// LoadConfigFile reads a YAML configuration on top of the defaults and then
// applies environment overrides. An empty path uses defaults and environment
// only.
func LoadConfigFile(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	return &cfg, nil
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	applyEnv(&cfg)
	return &cfg
}

func applyEnv(cfg *Config) {
	// Load SERVER_PORT
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	// Load ALLOWED_ORIGINS
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}

	// Load MAX_MESSAGE_SIZE
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	// Load RATE_LIMIT_BURST
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	// Load RATE_LIMIT_REFILL_INTERVAL
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}

	if v := os.Getenv("ROOM_MAX_MEMBERS"); v != "" {
		cfg.Rooms.DefaultMaxMembers = parseIntValue(v, cfg.Rooms.DefaultMaxMembers)
	}
	if v := os.Getenv("ROOM_MAX_MESSAGES"); v != "" {
		cfg.Rooms.MaxMessages = parseIntValue(v, cfg.Rooms.MaxMessages)
	}
	if v := os.Getenv("ROOM_PRUNE_TO"); v != "" {
		cfg.Rooms.PruneTo = parseIntValue(v, cfg.Rooms.PruneTo)
	}

	if v := os.Getenv("PERSISTENCE_BACKEND"); v != "" {
		cfg.Persistence.Backend = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("PERSISTENCE_DIR"); v != "" {
		cfg.Persistence.Dir = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Persistence.RedisAddr = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Persistence.SQLitePath = v
	}

	if v := os.Getenv("UPLOAD_DIR"); v != "" {
		cfg.Uploads.Dir = v
	}
	if v := os.Getenv("GAMES_HOSTS"); v != "" {
		cfg.Hosts.Games = parseList(v)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
