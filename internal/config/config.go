package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "STOREFRONT_"

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		HTTPAddr string `koanf:"http_addr"`
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout     time.Duration `koanf:"read_timeout"`
		WriteTimeout    time.Duration `koanf:"write_timeout"`
		IdleTimeout     time.Duration `koanf:"idle_timeout"`
		RequestTimeout  time.Duration `koanf:"request_timeout"`
		ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	} `koanf:"http"`

	Database struct {
		Driver        string `koanf:"driver"`
		Host          string `koanf:"host"`
		Port          int    `koanf:"port"`
		User          string `koanf:"user"`
		Password      string `koanf:"password"`
		Name          string `koanf:"name"`
		SQLitePath    string `koanf:"sqlite_path"`
		MigrationsDir string `koanf:"migrations_dir"`
	} `koanf:"database"`

	Cart struct {
		Backend string `koanf:"backend"`
	} `koanf:"cart"`

	Mongo struct {
		URI      string `koanf:"uri"`
		Database string `koanf:"database"`
	} `koanf:"mongo"`

	Redis struct {
		Addr     string        `koanf:"addr"`
		Password string        `koanf:"password"`
		CartTTL  time.Duration `koanf:"cart_ttl"`
	} `koanf:"redis"`

	Kafka struct {
		Brokers []string `koanf:"brokers"`
		Topic   string   `koanf:"topic"`
		GroupID string   `koanf:"group_id"`
	} `koanf:"kafka"`

	Checkout struct {
		Placement      string        `koanf:"placement"`
		IdempotencyTTL time.Duration `koanf:"idempotency_ttl"`
	} `koanf:"checkout"`

	Persistence struct {
		CallTimeout        time.Duration `koanf:"call_timeout"`
		BreakerFailures    uint32        `koanf:"breaker_failures"`
		BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
	} `koanf:"persistence"`

	Security struct {
		JWTSecret string        `koanf:"jwt_secret"`
		Issuer    string        `koanf:"issuer"`
		Audience  string        `koanf:"audience"`
		TokenTTL  time.Duration `koanf:"token_ttl"`
	} `koanf:"security"`
}

// Load reads <dir>/base.yaml, then the optional <dir>/<envName>.yaml, then
// STOREFRONT_ environment variables (nested keys joined with "__", e.g.
// STOREFRONT_DATABASE__HOST). A .env file in the working directory is loaded
// into the environment first when present.
func Load(dir, envName string) (Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(file.Provider(filepath.Join(dir, "base.yaml")), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	if envName != "" {
		overlay := filepath.Join(dir, envName+".yaml")
		if _, err := os.Stat(overlay); err == nil {
			if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", envName, err)
			}
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", envValue), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envValue(key, value string) (string, interface{}) {
	key = strings.TrimPrefix(key, envPrefix)
	key = strings.ToLower(strings.ReplaceAll(key, "__", "."))
	if key == "kafka.brokers" {
		if value == "" {
			return key, []string{}
		}
		return key, strings.Split(value, ",")
	}
	return key, value
}

func (c Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("app.http_addr required")
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			return fmt.Errorf("database.host and database.name required for postgres")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path required for sqlite")
		}
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	switch c.Cart.Backend {
	case "sql":
	case "mongo":
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return fmt.Errorf("mongo.uri and mongo.database required for cart.backend=mongo")
		}
	default:
		return fmt.Errorf("cart.backend must be sql or mongo, got %q", c.Cart.Backend)
	}
	switch c.Checkout.Placement {
	case "atomic", "compensating", "sequential":
	default:
		return fmt.Errorf("checkout.placement must be atomic, compensating or sequential, got %q", c.Checkout.Placement)
	}
	if c.Persistence.CallTimeout <= 0 {
		return fmt.Errorf("persistence.call_timeout must be positive")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret required")
	}
	return nil
}

// KafkaEnabled reports whether outbox publishing and cart reconciliation run.
func (c Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

// RedisEnabled reports whether the cart cache and idempotency store run.
func (c Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}
