package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var valid = validator.New()

// Config holds the gateway configuration. Keys map one-to-one onto upper-cased
// environment variables (listen_addr is LISTEN_ADDR).
type Config struct {
	ListenAddr              string        `mapstructure:"listen_addr" validate:"required,hostname_port"`
	DownstreamURL           string        `mapstructure:"downstream_url" validate:"required,url"`
	RedisAddr               string        `mapstructure:"redis_addr" validate:"omitempty,hostname_port"`
	GracefulShutdownTimeout int           `mapstructure:"graceful_shutdown_timeout" validate:"gt=0"`
	SlowRequestThreshold    time.Duration `mapstructure:"slow_request_threshold" validate:"gt=0"`

	LogLevel           string   `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat          string   `mapstructure:"log_format" validate:"oneof=json console"`
	LogFile            string   `mapstructure:"log_file"`
	LogSkipPaths       []string `mapstructure:"log_skip_paths" validate:"dive,startswith=/"`
	MaxLoggedBodyBytes int64    `mapstructure:"max_logged_body_bytes" validate:"gt=0"`

	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_iss"`

	CacheMaxEntries    int   `mapstructure:"cache_max_entries" validate:"gte=0"`
	CacheMaxEntryBytes int64 `mapstructure:"cache_max_entry_bytes" validate:"gt=0"`

	BreakerFailures int           `mapstructure:"breaker_failures" validate:"gt=0"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout" validate:"gt=0"`

	PresenceRefresh time.Duration `mapstructure:"presence_refresh" validate:"gt=0"`
	RuntimeMetrics  bool          `mapstructure:"runtime_metrics"`
	Routes          []string      `mapstructure:"routes" validate:"required,dive,startswith=/"`
}

// ShutdownTimeout returns GracefulShutdownTimeout as a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.GracefulShutdownTimeout) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("downstream_url", "http://localhost:8081")
	v.SetDefault("redis_addr", "")
	v.SetDefault("graceful_shutdown_timeout", 15)
	v.SetDefault("slow_request_threshold", time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_file", "")
	v.SetDefault("log_skip_paths", []string{"/health", "/favicon.ico"})
	v.SetDefault("max_logged_body_bytes", 64*1024)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_iss", "")
	v.SetDefault("cache_max_entries", 1000)
	v.SetDefault("cache_max_entry_bytes", 1024*1024)
	v.SetDefault("breaker_failures", 5)
	v.SetDefault("breaker_timeout", 30*time.Second)
	v.SetDefault("presence_refresh", 15*time.Second)
	v.SetDefault("runtime_metrics", true)
	v.SetDefault("routes", []string{
		"/api/auth/login",
		"/api/auth/register",
		"/api/messages",
		"/api/messages/{id}",
		"/api/conversations/{id}/messages",
		"/api/users/{id}",
		"/socket",
	})
}

// Load resolves the configuration from, in increasing priority: defaults, the YAML
// file at path (if any), environment variables and changed flags. Flag names use
// dashes in place of underscores.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if bindErr == nil {
				bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
			}
		})
		if bindErr != nil {
			return Config{}, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	v.AutomaticEnv()
	v.AllowEmptyEnv(false)

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			millisecondsHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return Config{}, fmt.Errorf("new decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	return valid.Struct(c)
}

// millisecondsHookFunc decodes a bare number into a duration in milliseconds, so
// SLOW_REQUEST_THRESHOLD=1500 means 1.5s. Strings with a unit are left to
// StringToTimeDurationHookFunc.
func millisecondsHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != reflect.TypeOf(time.Duration(0)) || f.Kind() != reflect.String {
			return data, nil
		}
		ms, err := strconv.ParseInt(strings.TrimSpace(data.(string)), 10, 64)
		if err != nil {
			return data, nil
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
}
