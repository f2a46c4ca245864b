// Package config loads the module configuration from defaults, an
// optional YAML file, and environment variable overrides, in that
// order of precedence.
//
// Environment variable names are derived from the yaml tags, joined
// with underscores and uppercased under the STUDYFLOW prefix:
//
//	STUDYFLOW_STORE_MONGO_URI=mongodb://db:27017
//	STUDYFLOW_CACHE_SIMILARITY_THRESHOLD=0.92
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/studyflow/generation"
	"github.com/BaSui01/studyflow/lock"
	"github.com/BaSui01/studyflow/store"
	"github.com/BaSui01/studyflow/types"
)

// Backend names accepted by StoreConfig and LockConfig.
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendRedis  = "redis"
)

// Config is the complete module configuration.
type Config struct {
	// Store selects and configures the artifact store backend.
	Store StoreConfig `yaml:"store"`

	// Lock selects and configures the generation lock backend.
	Lock LockConfig `yaml:"lock"`

	// Cache tunes the resolve pipeline.
	Cache generation.Config `yaml:"cache"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`
}

// StoreConfig selects the artifact store backend.
type StoreConfig struct {
	// Backend is "memory" or "mongo".
	Backend string `yaml:"backend"`

	// Mongo applies when Backend is "mongo".
	Mongo store.MongoConfig `yaml:"mongo"`
}

// LockConfig selects the generation lock backend.
type LockConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend"`

	// Redis applies when Backend is "redis".
	Redis lock.RedisConfig `yaml:"redis"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "json" or "console".
	Format string `yaml:"format"`
}

// DefaultConfig returns production defaults: Mongo store, Redis lock,
// standard cache tuning, JSON logs at info level.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: BackendMongo,
			Mongo:   store.DefaultMongoConfig(),
		},
		Lock: LockConfig{
			Backend: BackendRedis,
			Redis:   lock.DefaultRedisConfig(),
		},
		Cache: generation.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendMongo:
		if c.Store.Mongo.URI == "" {
			return types.NewError(types.ErrInvalidRequest, "store.mongo.uri is required")
		}
	default:
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unknown store backend %q", c.Store.Backend))
	}

	switch c.Lock.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Lock.Redis.Addr == "" {
			return types.NewError(types.ErrInvalidRequest, "lock.redis.addr is required")
		}
	default:
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("unknown lock backend %q", c.Lock.Backend))
	}

	return c.Cache.Validate()
}

// Loader loads configuration with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a loader with the STUDYFLOW env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "STUDYFLOW"}
}

// WithConfigPath sets the YAML file to load. A missing file is not an
// error; defaults and env vars still apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load resolves the configuration: defaults, then file, then env.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// setFieldsFromEnv walks the struct and applies environment overrides.
// Env names are built from the yaml tags along the path.
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		yamlTag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envKey := prefix + "_" + strings.ToUpper(yamlTag)

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("invalid value for %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
