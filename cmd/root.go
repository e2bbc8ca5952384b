package cmd

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/hh-autoreply/internal/ai"
	"github.com/spigell/hh-autoreply/internal/ai/gemini"
	"github.com/spigell/hh-autoreply/internal/autoreply"
	"github.com/spigell/hh-autoreply/internal/headhunter"
	"github.com/spigell/hh-autoreply/internal/matchcache"
)

const (
	app       = "hh-autoreply"
	envPrefix = "HH_AUTOREPLY"
)

const (
	BackendLocal    = "local"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Headhunter HeadhunterConfig `mapstructure:"headhunter"`
	RateLimit  RateLimitConfig  `mapstructure:"rate-limit"`
	Session    SessionConfig    `mapstructure:"session"`
	AI         AIConfig         `mapstructure:"ai"`
	Match      MatchConfig      `mapstructure:"match"`
	AutoReply  AutoReplyConfig  `mapstructure:"autoreply"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type PostgresConfig struct {
	DSN     string `mapstructure:"dsn"`
	DSNFile string `mapstructure:"dsn-file"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	PasswordFile string `mapstructure:"password-file"`
	DB           int    `mapstructure:"db"`
}

type HeadhunterConfig struct {
	APIURL    string        `mapstructure:"api-url"`
	UserAgent string        `mapstructure:"user-agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type RateLimitConfig struct {
	Backend           string  `mapstructure:"backend"`
	RequestsPerSecond float64 `mapstructure:"requests-per-second"`
	Key               string  `mapstructure:"key"`
}

type SessionConfig struct {
	LockBackend string        `mapstructure:"lock-backend"`
	LockWait    time.Duration `mapstructure:"lock-wait"`
}

type AIConfig struct {
	Provider       string        `mapstructure:"provider"`
	MaxAttempts    int           `mapstructure:"max-attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt-timeout"`
	Gemini         GeminiConfig  `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey       string        `mapstructure:"api-key"`
	APIKeyFile   string        `mapstructure:"api-key-file"`
	Model        string        `mapstructure:"model"`
	MaxRetries   int           `mapstructure:"max-retries"`
	MaxLogLength int           `mapstructure:"max-log-length"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type MatchConfig struct {
	MinimumConfidence float64 `mapstructure:"minimum-confidence"`
	ChunkSize         int     `mapstructure:"chunk-size"`
	MaxParallel       int     `mapstructure:"max-parallel"`
}

type AutoReplyConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	MaxVacancies  int           `mapstructure:"max-vacancies"`
	PerPage       int           `mapstructure:"per-page"`
	Pacing        time.Duration `mapstructure:"pacing"`
	ShutdownGrace time.Duration `mapstructure:"shutdown-grace"`
	DefaultLetter string        `mapstructure:"default-letter"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Validate rejects values the components cannot work with.
func (c *Config) Validate() error {
	var errs []error

	switch c.RateLimit.Backend {
	case BackendLocal, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("rate-limit.backend: unknown backend %q", c.RateLimit.Backend))
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("rate-limit.requests-per-second must be positive"))
	}

	switch c.Session.LockBackend {
	case BackendPostgres, BackendRedis, BackendLocal:
	default:
		errs = append(errs, fmt.Errorf("session.lock-backend: unknown backend %q", c.Session.LockBackend))
	}
	if c.Session.LockWait <= 0 {
		errs = append(errs, errors.New("session.lock-wait must be positive"))
	}

	if (c.RateLimit.Backend == BackendRedis || c.Session.LockBackend == BackendRedis) && strings.TrimSpace(c.Redis.Addr) == "" {
		errs = append(errs, errors.New("redis.addr is required for redis backends"))
	}

	if p := strings.ToLower(strings.TrimSpace(c.AI.Provider)); p != "" && p != "gemini" {
		errs = append(errs, fmt.Errorf("unsupported ai provider: %s", c.AI.Provider))
	}
	if c.AI.AttemptTimeout <= 0 || c.AI.Gemini.Timeout <= 0 {
		errs = append(errs, errors.New("ai.attempt-timeout and ai.gemini.timeout must be positive"))
	}

	if c.Match.MinimumConfidence < 0 || c.Match.MinimumConfidence > 1 {
		errs = append(errs, errors.New("match.minimum-confidence must be within [0, 1]"))
	}
	if c.Match.ChunkSize <= 0 || c.Match.MaxParallel <= 0 {
		errs = append(errs, errors.New("match.chunk-size and match.max-parallel must be positive"))
	}

	if c.AutoReply.Interval <= 0 || c.AutoReply.ShutdownGrace <= 0 {
		errs = append(errs, errors.New("autoreply.interval and autoreply.shutdown-grace must be positive"))
	}
	if c.AutoReply.MaxVacancies <= 0 {
		errs = append(errs, errors.New("autoreply.max-vacancies must be positive"))
	}
	if c.AutoReply.PerPage <= 0 || c.AutoReply.PerPage > headhunter.MaxPerPage {
		errs = append(errs, fmt.Errorf("autoreply.per-page must be within [1, %d]", headhunter.MaxPerPage))
	}
	if c.AutoReply.Pacing < 0 {
		errs = append(errs, errors.New("autoreply.pacing must not be negative"))
	}

	return errors.Join(errs...)
}

// redacted returns a copy safe to log.
func (c Config) redacted() Config {
	const mask = "***"
	if c.Postgres.DSN != "" {
		c.Postgres.DSN = mask
	}
	if c.Redis.Password != "" {
		c.Redis.Password = mask
	}
	if c.AI.Gemini.APIKey != "" {
		c.AI.Gemini.APIKey = mask
	}
	return c
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "hh-autoreply applies to hh.ru vacancies on behalf of users with auto-reply enabled",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is hh-autoreply.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	setDefaults(viper.GetViper())
}

// setDefaults registers every key so env overrides work for all of them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.dsn-file", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.password-file", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("headhunter.api-url", headhunter.DefaultAPIURL)
	v.SetDefault("headhunter.user-agent", headhunter.DefaultUserAgent)
	v.SetDefault("headhunter.timeout", headhunter.DefaultTimeout)

	v.SetDefault("rate-limit.backend", BackendLocal)
	v.SetDefault("rate-limit.requests-per-second", 2.0)
	v.SetDefault("rate-limit.key", app+":ratelimit:headhunter")

	v.SetDefault("session.lock-backend", BackendPostgres)
	v.SetDefault("session.lock-wait", 3*time.Second)

	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.max-attempts", ai.DefaultAttempts)
	v.SetDefault("ai.attempt-timeout", ai.DefaultAttemptTimeout)
	v.SetDefault("ai.gemini.api-key", "")
	v.SetDefault("ai.gemini.api-key-file", "")
	v.SetDefault("ai.gemini.model", "")
	v.SetDefault("ai.gemini.max-retries", 3)
	v.SetDefault("ai.gemini.max-log-length", 2000)
	v.SetDefault("ai.gemini.timeout", gemini.DefaultTimeout)

	v.SetDefault("match.minimum-confidence", matchcache.DefaultMinConfidence)
	v.SetDefault("match.chunk-size", matchcache.DefaultChunkSize)
	v.SetDefault("match.max-parallel", matchcache.DefaultMaxParallel)

	v.SetDefault("autoreply.interval", autoreply.DefaultInterval)
	v.SetDefault("autoreply.max-vacancies", autoreply.DefaultMaxVacancies)
	v.SetDefault("autoreply.per-page", autoreply.DefaultPerPage)
	v.SetDefault("autoreply.pacing", autoreply.DefaultPacing)
	v.SetDefault("autoreply.shutdown-grace", autoreply.DefaultShutdownGrace)
	v.SetDefault("autoreply.default-letter", autoreply.DefaultLetter)

	v.SetDefault("metrics.addr", ":9090")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// A missing default config is fine, everything can come from env.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func loadConfig(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	config.RateLimit.Backend = strings.ToLower(strings.TrimSpace(config.RateLimit.Backend))
	config.Session.LockBackend = strings.ToLower(strings.TrimSpace(config.Session.LockBackend))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
