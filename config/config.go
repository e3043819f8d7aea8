package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved configuration surface consumed by the core. The
// loading mechanism (file + env) is owned here; everything downstream only
// sees values.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Grapevine GrapevineConfig `mapstructure:"grapevine"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Otel      OtelConfig      `mapstructure:"otel"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug | release
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres | sqlite
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// SendQueue is the list key the async sender pushes to.
	SendQueue string `mapstructure:"send_queue"`
}

// GrapevineConfig mirrors the original GRAPEVINE settings block.
type GrapevineConfig struct {
	// SenderStrategy selects how the scheduler dispatches eligible
	// sendables: "sync" calls Send inline, "async" enqueues to Redis.
	SenderStrategy string `mapstructure:"sender_strategy"`

	// Debug reroutes every outbound message to DebugEmailAddress
	// instead of filtering unsubscribes.
	Debug             bool   `mapstructure:"debug"`
	DebugEmailAddress string `mapstructure:"debug_email_address"`

	DefaultFromEmail string `mapstructure:"default_from_email"`
	DefaultReplyTo   string `mapstructure:"default_reply_to"`
	DefaultSubject   string `mapstructure:"default_subject"`

	// DefaultBackend names the backend used when an Email row carries none.
	DefaultBackend string `mapstructure:"default_backend"`
	// FailSilently degrades backend construction/send errors to no-ops.
	FailSilently bool `mapstructure:"fail_silently"`

	SendTimeout time.Duration `mapstructure:"send_timeout"`

	Mailgun MailgunConfig `mapstructure:"mailgun"`
	SMTP    SMTPConfig    `mapstructure:"smtp"`
	Chat    ChatConfig    `mapstructure:"chat"`
}

type MailgunConfig struct {
	APIKey     string  `mapstructure:"api_key"`
	ServerName string  `mapstructure:"server_name"`
	RateLimit  float64 `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type ChatConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	AuthToken  string `mapstructure:"auth_token"`
}

type SentryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type OtelConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Enabled  bool   `mapstructure:"enabled"`
}

// Load reads config.yaml from the working directory (or CONFIG_PATH) and
// applies GRAPEVINE_* environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if p := v.GetString("CONFIG_PATH"); p != "" {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("GRAPEVINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.send_queue", "grapevine:send_queue")
	v.SetDefault("grapevine.sender_strategy", "sync")
	v.SetDefault("grapevine.debug_email_address", "test@email.com")
	v.SetDefault("grapevine.default_subject", "A message for you")
	v.SetDefault("grapevine.send_timeout", 30*time.Second)

	if err := v.ReadInConfig(); err != nil {
		// Missing file is fine: env + defaults carry local and test runs.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
