package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/relaychat/internal/registry"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// Config holds the server configuration settings including security controls,
// delivery limits, and the locations of persisted state.
type Config struct {
	Port               string          `yaml:"port"`
	AllowedOrigins     []string        `yaml:"allowed_origins"`
	AllowMissingOrigin bool            `yaml:"allow_missing_origin"`
	MaxMessageSize     int64           `yaml:"max_message_size"`
	RateLimit          RateLimitConfig `yaml:"rate_limit"`
	SendQueueSize      int             `yaml:"send_queue_size"`
	OverflowPolicy     string          `yaml:"overflow_policy"`
	UploadDir          string          `yaml:"upload_dir"`
	MaxFileSize        int64           `yaml:"max_file_size"`
	FileTimeout        time.Duration   `yaml:"file_timeout"`
	DBPath             string          `yaml:"db_path"`
	RequireAuth        bool            `yaml:"require_auth"`
	BcryptCost         int             `yaml:"bcrypt_cost"`
}

const (
	defaultPort           = ":8080"
	defaultMaxMessageSize = 8 << 20
	defaultMaxFileSize    = 5 << 20
	defaultSendQueueSize  = 256
	defaultFileTimeout    = 10 * time.Second
	defaultUploadDir      = "uploads"
)

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		AllowMissingOrigin: true,
		MaxMessageSize:     defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		SendQueueSize:  defaultSendQueueSize,
		OverflowPolicy: registry.OverflowDisconnect.String(),
		UploadDir:      defaultUploadDir,
		MaxFileSize:    defaultMaxFileSize,
		FileTimeout:    defaultFileTimeout,
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 5
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if _, ok := registry.ParseOverflowPolicy(cfg.OverflowPolicy); !ok || cfg.OverflowPolicy == "" {
		cfg.OverflowPolicy = registry.OverflowDisconnect.String()
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = defaultUploadDir
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.FileTimeout <= 0 {
		cfg.FileTimeout = defaultFileTimeout
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		sanitizeConfig(defaultConfig())
		return
	}

	sanitized := *cfg
	sanitized.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitizeConfig(sanitized)
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

// LoadConfigFile overlays the YAML document at path onto cfg. Keys missing
// from the file keep their current values.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from operator CLI flag
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	ApplyEnv(&cfg)
	return &cfg
}

// ApplyEnv overlays any set environment variables onto cfg. Unparseable
// values are ignored.
func ApplyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if v := os.Getenv("ALLOW_MISSING_ORIGIN"); v != "" {
		cfg.AllowMissingOrigin = parseBool(v, cfg.AllowMissingOrigin)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseInt64Value(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}
	if size := os.Getenv("SEND_QUEUE_SIZE"); size != "" {
		cfg.SendQueueSize = parseIntValue(size, cfg.SendQueueSize)
	}
	if policy := os.Getenv("OVERFLOW_POLICY"); policy != "" {
		if _, ok := registry.ParseOverflowPolicy(policy); ok {
			cfg.OverflowPolicy = policy
		}
	}
	if dir := os.Getenv("UPLOAD_DIR"); dir != "" {
		cfg.UploadDir = dir
	}
	if size := os.Getenv("MAX_FILE_SIZE"); size != "" {
		cfg.MaxFileSize = parseInt64Value(size, cfg.MaxFileSize)
	}
	if timeout := os.Getenv("FILE_TIMEOUT"); timeout != "" {
		cfg.FileTimeout = parseSeconds(timeout, cfg.FileTimeout)
	}
	if path, ok := os.LookupEnv("DB_PATH"); ok {
		cfg.DBPath = path
	}
	if v := os.Getenv("REQUIRE_AUTH"); v != "" {
		cfg.RequireAuth = parseBool(v, cfg.RequireAuth)
	}
	if cost := os.Getenv("BCRYPT_COST"); cost != "" {
		cfg.BcryptCost = parseIntValue(cost, cfg.BcryptCost)
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseInt64Value(value string, defaultValue int64) int64 {
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

func parseBool(value string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	return defaultValue
}

// parseSeconds accepts a whole number of seconds or a Go duration string.
func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func overflowPolicy(cfg Config) registry.OverflowPolicy {
	policy, _ := registry.ParseOverflowPolicy(cfg.OverflowPolicy)
	return policy
}
