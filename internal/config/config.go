// Package config loads planexec settings from defaults, an optional YAML
// file and PLANEXEC_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "PLANEXEC"
	configFileName = "planexec"
)

type Config struct {
	Execution ExecutionConfig `mapstructure:"execution"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Server    ServerConfig    `mapstructure:"server"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Otel      OtelConfig      `mapstructure:"otel"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Vault     VaultConfig     `mapstructure:"vault"`
}

type ExecutionConfig struct {
	MaxGenerationBytes int64         `mapstructure:"max_generation_bytes"`
	StreamStallTimeout time.Duration `mapstructure:"stream_stall_timeout"`
}

type PoolConfig struct {
	MaxOpen         int           `mapstructure:"max_open"`
	MaxIdle         int           `mapstructure:"max_idle"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type GRPCConfig struct {
	MaxConnsPerEndpoint int           `mapstructure:"max_conns_per_endpoint"`
	RPCTimeout          time.Duration `mapstructure:"rpc_timeout"`
	// Backends lists "Service=host:port" mappings used by grpcCall nodes
	// that do not name an endpoint. "*" sets the default.
	Backends []string `mapstructure:"backends"`
}

type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// OtelConfig enables tracing when Endpoint is set.
type OtelConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Service  string `mapstructure:"service"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// VaultConfig holds a static secret map for development setups.
type VaultConfig struct {
	Secrets map[string]string `mapstructure:"secrets"`
}

// Load reads configuration into v. cfgFile overrides the search path; a
// missing file on the search path is not an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.planexec")
		v.AddConfigPath("/etc/planexec")
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfgFile != "" {
			return nil, errors.Wrapf(err, "read config %s", v.ConfigFileUsed())
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("execution.max_generation_bytes", int64(1_000_000))
	v.SetDefault("execution.stream_stall_timeout", 5*time.Minute)

	v.SetDefault("pool.max_open", 10)
	v.SetDefault("pool.max_idle", 2)
	v.SetDefault("pool.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("pool.acquire_timeout", 30*time.Second)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.timeout", 5*time.Minute)
	v.SetDefault("server.max_body_bytes", int64(10<<20))

	v.SetDefault("grpc.max_conns_per_endpoint", 2)
	v.SetDefault("grpc.rpc_timeout", 3*time.Second)
	v.SetDefault("grpc.backends", []string{})

	v.SetDefault("http.timeout", 30*time.Second)

	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.service", "planexec")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("vault.secrets", map[string]string{})
}

func (c *Config) validate() error {
	switch {
	case c.Execution.MaxGenerationBytes <= 0:
		return errors.Newf("execution.max_generation_bytes must be positive, got %d", c.Execution.MaxGenerationBytes)
	case c.Pool.MaxOpen <= 0:
		return errors.Newf("pool.max_open must be positive, got %d", c.Pool.MaxOpen)
	case c.Pool.MaxIdle > c.Pool.MaxOpen:
		return errors.Newf("pool.max_idle (%d) exceeds pool.max_open (%d)", c.Pool.MaxIdle, c.Pool.MaxOpen)
	case c.GRPC.MaxConnsPerEndpoint <= 0:
		return errors.Newf("grpc.max_conns_per_endpoint must be positive, got %d", c.GRPC.MaxConnsPerEndpoint)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return errors.Newf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
