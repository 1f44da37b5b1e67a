package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from every environment variable before it becomes a key.
const envPrefix = "MXBL_"

// configFileEnv names an optional YAML, JSON or TOML file loaded between the
// defaults and the environment.
const configFileEnv = envPrefix + "CONFIG_FILE"

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	// LogLevel controls log verbosity: "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Listen is the ip:port the HTTP API binds to.
	Listen string `koanf:"listen" validate:"required,ip_port"`

	// Store selects the rule store backend.
	Store       string `koanf:"store" validate:"required,oneof=bolt postgres"`
	BoltPath    string `koanf:"bolt_path" validate:"required_if=Store bolt"`
	PostgresDSN string `koanf:"postgres_dsn" validate:"required_if=Store postgres"`

	// Servers is a list of upstream DNS servers in ip:port format, tried in order.
	Servers      []string      `koanf:"servers" validate:"required,min=1,dive,ip_port"`
	QueryTimeout time.Duration `koanf:"query_timeout" validate:"gt=0"`
	// QueryRate caps upstream queries per second. Zero means unlimited.
	QueryRate float64 `koanf:"query_rate" validate:"gte=0"`

	// LookupCacheSize bounds the DNS answer cache. Zero disables it.
	LookupCacheSize   int           `koanf:"lookup_cache_size" validate:"gte=0"`
	LookupCacheMaxTTL time.Duration `koanf:"lookup_cache_max_ttl" validate:"gte=0"`

	// MaxLookups bounds how many queue items one walk may process.
	MaxLookups int `koanf:"max_lookups" validate:"gte=1"`
	// WalkBudget bounds the wall-clock time of one walk. Zero means no bound.
	WalkBudget time.Duration `koanf:"walk_budget" validate:"gte=0"`

	// CacheSize bounds the clean-domain decision cache. Zero disables it.
	CacheSize int           `koanf:"cache_size" validate:"gte=0"`
	CacheTTL  time.Duration `koanf:"cache_ttl" validate:"gt=0"`

	InvalidateWorkers int  `koanf:"invalidate_workers" validate:"gte=1"`
	Coalesce          bool `koanf:"coalesce"`

	BloomFPRate float64 `koanf:"bloom_fp_rate" validate:"gt=0,lt=1"`

	// Operator is recorded as added_by for rules created from the command line.
	Operator string `koanf:"operator" validate:"required"`
}

// DEFAULT_APP_CONFIG defines the default settings: an embedded bolt store,
// Cloudflare upstreams and an hour-long clean cache.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:               "prod",
	LogLevel:          "info",
	Listen:            "127.0.0.1:8053",
	Store:             "bolt",
	BoltPath:          "/var/lib/mxbl/mxbl.db",
	Servers:           []string{"1.1.1.1:53", "1.0.0.1:53"},
	QueryTimeout:      5 * time.Second,
	QueryRate:         0,
	LookupCacheSize:   4096,
	LookupCacheMaxTTL: 10 * time.Minute,
	MaxLookups:        64,
	WalkBudget:        0,
	CacheSize:         10000,
	CacheTTL:          time.Hour,
	InvalidateWorkers: 8,
	Coalesce:          false,
	BloomFPRate:       0.01,
	Operator:          "mxbld",
}

// validIPPort validates whether the provided field value is a valid IP address and port combination.
func validIPPort(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	ip, port, err := net.SplitHostPort(addr)
	if err != nil || ip == "" || port == "" {
		return false
	}
	if net.ParseIP(ip) == nil {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0 && portNum < 65536
}

// envLoader loads MXBL_ variables, lowercasing keys and splitting list values
// on spaces or commas. It can be replaced in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// fileLoader loads the config file at path, choosing the parser by extension.
var fileLoader = func(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	case ".toml":
		parser = toml.Parser()
	default:
		return fmt.Errorf("unsupported config file type %q", filepath.Ext(path))
	}
	return k.Load(file.Provider(path), parser)
}

// registerValidation registers the "ip_port" tag.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("ip_port", validIPPort)
}

// Load parses environment variables and returns an AppConfig instance.
// Defaults are overridden by the optional config file, then by the environment.
// Validation runs automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv(configFileEnv)); path != "" {
		if err := fileLoader(k, path); err != nil {
			return nil, fmt.Errorf("error loading config file %s: %w", path, err)
		}
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
