package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// MatrixConfig holds homeserver and session settings.
type MatrixConfig struct {
	// Homeserver is only consulted by the login subcommand; the run
	// subcommand resumes from the stored session state.
	Homeserver string `yaml:"homeserver"`
	// Database is the path of the SQLite file holding session state.
	Database string `yaml:"database"`
	// Proxy, when set, routes all outbound HTTP through this proxy URL.
	Proxy string `yaml:"proxy"`
	// AccessToken, when set, is used instead of a stored session for
	// deployments that provision tokens out of band. Supports "enc:"
	// encrypted values.
	AccessToken string `yaml:"access_token,omitempty"`

	Autojoin bool `yaml:"autojoin"`
	// AutojoinRooms restricts autojoin to invites whose room name is in
	// this list. Empty means all invites.
	AutojoinRooms []string `yaml:"autojoin_rooms,omitempty"`

	SyncTimeout time.Duration `yaml:"sync_timeout"`
}

// ResolverConfig holds embed API settings.
type ResolverConfig struct {
	APIHost        string        `yaml:"api_host"`
	GIFHost        string        `yaml:"gif_host"`
	RequestsPerMin int           `yaml:"requests_per_min"`
	BurstSize      int           `yaml:"burst_size"`
	Breaker        BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker around the embed API.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// HTTPConfig bounds every outbound HTTP call.
type HTTPConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	Timeout        time.Duration `yaml:"timeout"`
	UserAgent      string        `yaml:"user_agent"`
	MaxBodyMB      int           `yaml:"max_body_mb"`
}

// BotConfig holds pipeline behavior settings.
type BotConfig struct {
	StatusCommand   string `yaml:"status_command"`
	StatusReply     string `yaml:"status_reply"`
	ShutdownCommand string `yaml:"shutdown_command"`

	TypingInterval time.Duration `yaml:"typing_interval"`
	TypingGrace    time.Duration `yaml:"typing_grace"`
	RestartDelay   time.Duration `yaml:"restart_delay"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Config is the top-level application configuration.
type Config struct {
	Matrix   MatrixConfig   `yaml:"matrix"`
	Resolver ResolverConfig `yaml:"resolver"`
	HTTP     HTTPConfig     `yaml:"http"`
	Bot      BotConfig      `yaml:"bot"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// Defaults returns a Config with working defaults for everything except
// the homeserver, which has no sensible default.
func Defaults() *Config {
	return &Config{
		Matrix: MatrixConfig{
			Database:    "./data/fxbot.db",
			Autojoin:    true,
			SyncTimeout: 30 * time.Second,
		},
		Resolver: ResolverConfig{
			APIHost:        "api.fxtwitter.com",
			GIFHost:        "gif.fxtwitter.com",
			RequestsPerMin: 60,
			BurstSize:      5,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		HTTP: HTTPConfig{
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    120 * time.Second,
			Timeout:        140 * time.Second,
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/145.0.0.0 Safari/537.36",
			MaxBodyMB:      100,
		},
		Bot: BotConfig{
			StatusCommand:   "!status",
			StatusReply:     "IKIRU",
			ShutdownCommand: "!die",
			TypingInterval:  time.Second,
			TypingGrace:     time.Second,
			RestartDelay:    10 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts
// secrets. A missing file is not an error: defaults plus env overrides
// are enough for a token-provisioned deployment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			return cfg, decryptSecrets(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := decryptSecrets(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps FXBOT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FXBOT_MATRIX_HOMESERVER"); v != "" {
		cfg.Matrix.Homeserver = v
	}
	if v := os.Getenv("FXBOT_MATRIX_DATABASE"); v != "" {
		cfg.Matrix.Database = v
	}
	if v := os.Getenv("FXBOT_MATRIX_PROXY"); v != "" {
		cfg.Matrix.Proxy = v
	}
	if v := os.Getenv("FXBOT_MATRIX_ACCESS_TOKEN"); v != "" {
		cfg.Matrix.AccessToken = v
	}
	if v := os.Getenv("FXBOT_MATRIX_AUTOJOIN"); v != "" {
		cfg.Matrix.Autojoin = v == "true"
	}
	if v := os.Getenv("FXBOT_RESOLVER_API_HOST"); v != "" {
		cfg.Resolver.APIHost = v
	}
	if v := os.Getenv("FXBOT_RESOLVER_GIF_HOST"); v != "" {
		cfg.Resolver.GIFHost = v
	}
	if v := os.Getenv("FXBOT_RESOLVER_REQUESTS_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Resolver.RequestsPerMin = n
		}
	}
	if v := os.Getenv("FXBOT_BOT_RESTART_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bot.RestartDelay = d
		}
	}
	if v := os.Getenv("FXBOT_BOT_TYPING_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bot.TypingGrace = d
		}
	}
	if v := os.Getenv("FXBOT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("FXBOT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("FXBOT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("FXBOT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// decryptSecrets resolves "enc:" values using the FXBOT_CONFIG_KEY
// passphrase. An encrypted value without a passphrase is an error.
func decryptSecrets(cfg *Config) error {
	passphrase := os.Getenv("FXBOT_CONFIG_KEY")

	if strings.HasPrefix(cfg.Matrix.AccessToken, "enc:") {
		if passphrase == "" {
			return fmt.Errorf("matrix access_token is encrypted but FXBOT_CONFIG_KEY is not set")
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Matrix.AccessToken, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("matrix access_token: %w", err)
		}
		cfg.Matrix.AccessToken = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	blob, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	if len(blob) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
