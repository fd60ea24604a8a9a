package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every runtime setting of the service.
type Config struct {
	Environment string

	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	MQ        MQConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

// DBConfig selects the GORM dialector. DSN, when set, wins over the split MySQL fields.
type DBConfig struct {
	Driver     string
	DSN        string
	User       string
	Password   string
	Host       string
	Port       string
	Name       string
	SQLitePath string
	SeedSample bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MQConfig struct {
	Driver            string
	RocketNameServers []string
	MaxRetries        int
	RetryDelay        time.Duration
}

type SessionConfig struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
}

type RateLimitConfig struct {
	Enabled   bool
	VoteRate  float64
	VoteBurst int
}

type CORSConfig struct {
	AllowOrigins []string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// MySQLDSN builds the go-sql-driver DSN from the split fields.
func (c DBConfig) MySQLDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

var bindings = map[string]string{
	"environment":            "ENVIRONMENT",
	"server.port":            "SERVER_PORT",
	"server.shutdown":        "SERVER_SHUTDOWN_TIMEOUT",
	"db.driver":              "DB_DRIVER",
	"db.dsn":                 "DATABASE_URL",
	"db.user":                "DB_USER",
	"db.password":            "DB_PASSWORD",
	"db.host":                "DB_HOST",
	"db.port":                "DB_PORT",
	"db.name":                "DB_NAME",
	"db.sqlite_path":         "SQLITE_PATH",
	"db.seed_sample":         "DB_SEED_SAMPLE",
	"redis.addr":             "REDIS_ADDR",
	"redis.password":         "REDIS_PASSWORD",
	"redis.db":               "REDIS_DB",
	"mq.driver":              "MQ_DRIVER",
	"mq.rocketmq.nameserver": "ROCKETMQ_NAMESRV_ADDR",
	"mq.max_retries":         "MQ_MAX_RETRIES",
	"mq.retry_delay":         "MQ_RETRY_DELAY",
	"session.cookie_name":    "SESSION_COOKIE_NAME",
	"session.ttl":            "SESSION_TTL",
	"session.secure":         "SESSION_SECURE",
	"ratelimit.enabled":      "ENABLE_RATE_LIMIT",
	"ratelimit.vote_rate":    "VOTE_RATE_LIMIT",
	"ratelimit.vote_burst":   "VOTE_RATE_BURST",
	"cors.allow_origins":     "CORS_ALLOW_ORIGINS",
	"log.level":              "LOG_LEVEL",
	"log.pretty":             "LOG_PRETTY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("server.port", "8090")
	v.SetDefault("server.shutdown", 5*time.Second)
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.user", "voteuser")
	v.SetDefault("db.password", "votepassword")
	v.SetDefault("db.host", "mysql")
	v.SetDefault("db.port", "3306")
	v.SetDefault("db.name", "votingdb")
	v.SetDefault("db.sqlite_path", "polls.db")
	v.SetDefault("db.seed_sample", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mq.driver", "memory")
	v.SetDefault("mq.rocketmq.nameserver", "localhost:9876")
	v.SetDefault("mq.max_retries", 3)
	v.SetDefault("mq.retry_delay", 30*time.Second)
	v.SetDefault("session.cookie_name", "sid")
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.secure", false)
	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.vote_rate", 5.0)
	v.SetDefault("ratelimit.vote_burst", 10)
	v.SetDefault("cors.allow_origins", "http://localhost:5173")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads defaults, an optional file named by POLL_CONFIG, then the environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}

	if path := os.Getenv("POLL_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Environment: v.GetString("environment"),
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			ShutdownTimeout: v.GetDuration("server.shutdown"),
		},
		DB: DBConfig{
			Driver:     strings.ToLower(v.GetString("db.driver")),
			DSN:        v.GetString("db.dsn"),
			User:       v.GetString("db.user"),
			Password:   v.GetString("db.password"),
			Host:       v.GetString("db.host"),
			Port:       v.GetString("db.port"),
			Name:       v.GetString("db.name"),
			SQLitePath: v.GetString("db.sqlite_path"),
			SeedSample: v.GetBool("db.seed_sample"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		MQ: MQConfig{
			Driver:            strings.ToLower(v.GetString("mq.driver")),
			RocketNameServers: splitList(v.GetString("mq.rocketmq.nameserver")),
			MaxRetries:        v.GetInt("mq.max_retries"),
			RetryDelay:        v.GetDuration("mq.retry_delay"),
		},
		Session: SessionConfig{
			CookieName: v.GetString("session.cookie_name"),
			TTL:        v.GetDuration("session.ttl"),
			Secure:     v.GetBool("session.secure"),
		},
		RateLimit: RateLimitConfig{
			Enabled:   v.GetBool("ratelimit.enabled"),
			VoteRate:  v.GetFloat64("ratelimit.vote_rate"),
			VoteBurst: v.GetInt("ratelimit.vote_burst"),
		},
		CORS: CORSConfig{
			AllowOrigins: splitList(v.GetString("cors.allow_origins")),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Pretty: v.GetBool("log.pretty"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported db driver %q", c.DB.Driver)
	}
	switch c.MQ.Driver {
	case "memory", "redis", "rocketmq":
	default:
		return fmt.Errorf("unsupported mq driver %q", c.MQ.Driver)
	}
	if c.MQ.Driver == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("mq driver redis requires REDIS_ADDR")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
