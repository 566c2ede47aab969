package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"

	"fundval/pkg/fundval"
)

const envPrefix = "FUNDVAL_"

// Cache backends.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `json:"server" toml:"server"`
	Cache    CacheConfig    `json:"cache" toml:"cache"`
	Upstream UpstreamConfig `json:"upstream" toml:"upstream"`
	Engine   EngineConfig   `json:"engine" toml:"engine"`
	Log      LogConfig      `json:"log" toml:"log"`
}

type ServerConfig struct {
	Host           string   `json:"host" toml:"host"`
	Port           int      `json:"port" toml:"port"`
	AllowedOrigins []string `json:"allowed_origins" toml:"allowed_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type CacheConfig struct {
	Backend       string `json:"backend" toml:"backend"`
	SQLitePath    string `json:"sqlite_path" toml:"sqlite_path"`
	RedisAddr     string `json:"redis_addr" toml:"redis_addr"`
	RedisPassword string `json:"redis_password" toml:"redis_password"`
	RedisPrefix   string `json:"redis_prefix" toml:"redis_prefix"`
}

type UpstreamConfig struct {
	QuoteBaseURL   string   `json:"quote_base_url" toml:"quote_base_url"`
	FundBaseURL    string   `json:"fund_base_url" toml:"fund_base_url"`
	QuoteTimeout   Duration `json:"quote_timeout" toml:"quote_timeout"`
	PageTimeout    Duration `json:"page_timeout" toml:"page_timeout"`
	HistoryTimeout Duration `json:"history_timeout" toml:"history_timeout"`
	RetryAttempts  int      `json:"retry_attempts" toml:"retry_attempts"`
	RetryDelay     Duration `json:"retry_delay" toml:"retry_delay"`
	RateLimit      float64  `json:"rate_limit" toml:"rate_limit"`
	RateBurst      int      `json:"rate_burst" toml:"rate_burst"`
	FailThreshold  int      `json:"fail_threshold" toml:"fail_threshold"`
	FailWindow     Duration `json:"fail_window" toml:"fail_window"`
	Cooldown       Duration `json:"cooldown" toml:"cooldown"`
}

type EngineConfig struct {
	Workers           int `json:"workers" toml:"workers"`
	HistoryWindowDays int `json:"history_window_days" toml:"history_window_days"`
	HistoryPageSize   int `json:"history_page_size" toml:"history_page_size"`
}

type LogConfig struct {
	Level         string `json:"level" toml:"level"`
	Format        string `json:"format" toml:"format"`
	Dir           string `json:"dir" toml:"dir"`
	RetentionDays int    `json:"retention_days" toml:"retention_days"`
}

// Duration reads "5s"-style strings from JSON and TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	d.Duration = parsed
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8000,
			AllowedOrigins: []string{"*"},
		},
		Cache: CacheConfig{
			Backend:     CacheMemory,
			RedisPrefix: "fundval:",
		},
		Upstream: UpstreamConfig{
			QuoteBaseURL:   "http://fundgz.1234567.com.cn",
			FundBaseURL:    "http://fund.eastmoney.com",
			QuoteTimeout:   Duration{5 * time.Second},
			PageTimeout:    Duration{10 * time.Second},
			HistoryTimeout: Duration{10 * time.Second},
			RetryAttempts:  3,
			RetryDelay:     Duration{time.Second},
			FailWindow:     Duration{60 * time.Second},
			Cooldown:       Duration{120 * time.Second},
		},
		Engine: EngineConfig{
			Workers:           8,
			HistoryWindowDays: 30,
			HistoryPageSize:   40,
		},
		Log: LogConfig{
			Level:         "info",
			Format:        "text",
			RetentionDays: 7,
		},
	}
}

// Load layers defaults, the config file at path (or the first one found in the
// usual places when path is empty), a .env file and FUNDVAL_* variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = discoverConfigPath()
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()
	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".json", "":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

// Validate rejects values the engine cannot run with.
func (c Config) Validate() error {
	switch c.Cache.Backend {
	case CacheMemory, CacheSQLite, CacheRedis, CacheNone:
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == CacheRedis && c.Cache.RedisAddr == "" {
		return errors.New("redis cache backend requires redis_addr")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Upstream.RetryAttempts < 0 || c.Engine.Workers < 0 || c.Engine.HistoryWindowDays < 0 {
		return errors.New("retry attempts, workers and history window must not be negative")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookupEnv(name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookupEnv(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookupEnv(name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	dur := func(name string, dst *Duration) {
		if v, ok := lookupEnv(name); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			}
		}
	}

	str("HOST", &cfg.Server.Host)
	num("PORT", &cfg.Server.Port)
	if v, ok := lookupEnv("ALLOWED_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	str("CACHE_BACKEND", &cfg.Cache.Backend)
	str("SQLITE_PATH", &cfg.Cache.SQLitePath)
	str("REDIS_ADDR", &cfg.Cache.RedisAddr)
	str("REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	str("REDIS_PREFIX", &cfg.Cache.RedisPrefix)

	str("QUOTE_BASE_URL", &cfg.Upstream.QuoteBaseURL)
	str("FUND_BASE_URL", &cfg.Upstream.FundBaseURL)
	dur("QUOTE_TIMEOUT", &cfg.Upstream.QuoteTimeout)
	dur("PAGE_TIMEOUT", &cfg.Upstream.PageTimeout)
	dur("HISTORY_TIMEOUT", &cfg.Upstream.HistoryTimeout)
	num("RETRY_ATTEMPTS", &cfg.Upstream.RetryAttempts)
	dur("RETRY_DELAY", &cfg.Upstream.RetryDelay)
	float("RATE_LIMIT", &cfg.Upstream.RateLimit)
	num("RATE_BURST", &cfg.Upstream.RateBurst)
	num("FAIL_THRESHOLD", &cfg.Upstream.FailThreshold)
	dur("FAIL_WINDOW", &cfg.Upstream.FailWindow)
	dur("COOLDOWN", &cfg.Upstream.Cooldown)

	num("WORKERS", &cfg.Engine.Workers)
	num("HISTORY_WINDOW_DAYS", &cfg.Engine.HistoryWindowDays)
	num("HISTORY_PAGE_SIZE", &cfg.Engine.HistoryPageSize)

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("LOG_DIR", &cfg.Log.Dir)
	num("LOG_RETENTION_DAYS", &cfg.Log.RetentionDays)

	return errors.Join(errs...)
}

func lookupEnv(name string) (string, bool) {
	value, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// EngineOptions maps the configuration onto fundval.Options. Logger and Store
// are left for the caller.
func (c Config) EngineOptions() fundval.Options {
	return fundval.Options{
		DisableCache:      c.Cache.Backend == CacheNone,
		QuoteBaseURL:      c.Upstream.QuoteBaseURL,
		FundBaseURL:       c.Upstream.FundBaseURL,
		QuoteTimeout:      c.Upstream.QuoteTimeout.Duration,
		PageTimeout:       c.Upstream.PageTimeout.Duration,
		HistoryTimeout:    c.Upstream.HistoryTimeout.Duration,
		RetryAttempts:     c.Upstream.RetryAttempts,
		RetryDelay:        c.Upstream.RetryDelay.Duration,
		RateLimit:         c.Upstream.RateLimit,
		RateBurst:         c.Upstream.RateBurst,
		FailThreshold:     c.Upstream.FailThreshold,
		FailWindow:        c.Upstream.FailWindow.Duration,
		Cooldown:          c.Upstream.Cooldown.Duration,
		Workers:           c.Engine.Workers,
		HistoryWindowDays: c.Engine.HistoryWindowDays,
		HistoryPageSize:   c.Engine.HistoryPageSize,
	}
}

// OpenStore builds the configured cache store. It returns nil for the "none"
// backend.
func (c Config) OpenStore() (fundval.Store, error) {
	switch c.Cache.Backend {
	case CacheNone:
		return nil, nil
	case CacheSQLite:
		path := c.Cache.SQLitePath
		if path == "" {
			dir, err := GetDataDir()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(dir, "cache.db")
		}
		return fundval.OpenSQLiteStore(path)
	case CacheRedis:
		return fundval.NewRedisStore(fundval.RedisOptions{
			Addr:     c.Cache.RedisAddr,
			Password: c.Cache.RedisPassword,
			Prefix:   c.Cache.RedisPrefix,
		})
	default:
		return fundval.NewMemoryStore(), nil
	}
}

var runtimeDataDir string

func IsMacOS() bool {
	return runtime.GOOS == "darwin"
}

func IsWindows() bool {
	return runtime.GOOS == "windows"
}

func SetRuntimeDataDir(dir string) {
	runtimeDataDir = dir
}

func appConfigDir() (string, error) {
	if IsMacOS() {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "FundVal"), nil
	}
	if IsWindows() {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = home
		}
		return filepath.Join(appData, "FundVal"), nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", "fundval"), nil
	}
	return filepath.Join(configDir, "fundval"), nil
}

var configFileNames = []string{"config.toml", "config.json"}

// discoverConfigPath checks FUNDVAL_CONFIG, the working directory, the
// executable's directory and the app config dir, in that order.
func discoverConfigPath() string {
	if v, ok := lookupEnv("CONFIG"); ok {
		return v
	}
	var dirs []string
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if dir, err := appConfigDir(); err == nil {
		dirs = append(dirs, dir)
	}
	for _, dir := range dirs {
		for _, name := range configFileNames {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}
	}
	return ""
}

// GetDataDir resolves and creates the directory for logs and the SQLite cache.
func GetDataDir() (string, error) {
	dir := runtimeDataDir
	if dir == "" {
		dir = os.Getenv(envPrefix + "DATA_DIR")
	}
	if dir == "" {
		defaultDir, err := appConfigDir()
		if err != nil {
			return "", err
		}
		dir = defaultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
