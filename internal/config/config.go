package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Mongo       MongoConfig       `yaml:"mongo"`
	Redis       RedisConfig       `yaml:"redis"`
	NATS        NATSConfig        `yaml:"nats"`
	Auth        AuthConfig        `yaml:"auth"`
	Race        RaceConfig        `yaml:"race"`
	Matchmaking MatchmakingConfig `yaml:"matchmaking"`
	Recorder    RecorderConfig    `yaml:"recorder"`
	WS          WSConfig          `yaml:"ws"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  string        `yaml:"allowed_origins"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// NATSConfig is optional; an empty URL disables event publishing
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	RequireToken bool          `yaml:"require_token"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

type RaceConfig struct {
	MaxPlayers        int           `yaml:"max_players"`
	MinPlayers        int           `yaml:"min_players"`
	Countdown         time.Duration `yaml:"countdown"`
	TimeLimit         time.Duration `yaml:"time_limit"`
	FinishedGrace     time.Duration `yaml:"finished_grace"`
	IdleWaitingGrace  time.Duration `yaml:"idle_waiting_grace"`
	ProgressInterval  time.Duration `yaml:"progress_interval"`
	ChallengesPerRace int           `yaml:"challenges_per_race"`
	DefaultCategory   string        `yaml:"default_category"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
}

type MatchmakingConfig struct {
	GroupSize          int           `yaml:"group_size"`
	BaseTolerance      float64       `yaml:"base_tolerance"`
	TolerancePerSecond float64       `yaml:"tolerance_per_second"`
	MaxTolerance       float64       `yaml:"max_tolerance"`
	EntryTimeout       time.Duration `yaml:"entry_timeout"`
	ScanInterval       time.Duration `yaml:"scan_interval"`
}

type RecorderConfig struct {
	Workers     int           `yaml:"workers"`
	Buffer      int           `yaml:"buffer"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

type WSConfig struct {
	SendBuffer     int   `yaml:"send_buffer"`
	MaxMessageSize int64 `yaml:"max_message_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  "*",
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "typerace",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  24 * time.Hour,
		},
		NATS: NATSConfig{
			SubjectPrefix: "typerace",
		},
		Auth: AuthConfig{
			JWTSecret: "dev-secret-change-me",
			TokenTTL:  7 * 24 * time.Hour,
		},
		Race: RaceConfig{
			MaxPlayers:        4,
			MinPlayers:        2,
			Countdown:         3 * time.Second,
			TimeLimit:         5 * time.Minute,
			FinishedGrace:     2 * time.Minute,
			IdleWaitingGrace:  5 * time.Minute,
			ProgressInterval:  100 * time.Millisecond,
			ChallengesPerRace: 1,
			DefaultCategory:   "general",
			SweepInterval:     15 * time.Second,
		},
		Matchmaking: MatchmakingConfig{
			GroupSize:          2,
			BaseTolerance:      10,
			TolerancePerSecond: 1,
			MaxTolerance:       60,
			EntryTimeout:       60 * time.Second,
			ScanInterval:       2 * time.Second,
		},
		Recorder: RecorderConfig{
			Workers:     4,
			Buffer:      1024,
			MaxAttempts: 3,
			Backoff:     500 * time.Millisecond,
			CallTimeout: 5 * time.Second,
		},
		WS: WSConfig{
			SendBuffer:     64,
			MaxMessageSize: 4096,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the config from defaults, an optional YAML file and the
// environment (a .env file in the working directory is honoured).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.AllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", c.Server.AllowedOrigins)
	c.Mongo.URI = getEnv("MONGO_URI", c.Mongo.URI)
	c.Mongo.Database = getEnv("MONGO_DATABASE", c.Mongo.Database)
	c.Redis.Addr = trimRedisScheme(getEnv("REDIS_URI", c.Redis.Addr))
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.RequireToken = getEnvBool("AUTH_REQUIRE_TOKEN", c.Auth.RequireToken)
	c.Race.MaxPlayers = getEnvInt("RACE_MAX_PLAYERS", c.Race.MaxPlayers)
	c.Race.Countdown = getEnvDuration("RACE_COUNTDOWN", c.Race.Countdown)
	c.Race.TimeLimit = getEnvDuration("RACE_TIME_LIMIT", c.Race.TimeLimit)
	c.Race.DefaultCategory = getEnv("RACE_DEFAULT_CATEGORY", c.Race.DefaultCategory)
	c.Matchmaking.GroupSize = getEnvInt("MATCHMAKING_GROUP_SIZE", c.Matchmaking.GroupSize)
	c.Matchmaking.EntryTimeout = getEnvDuration("MATCHMAKING_ENTRY_TIMEOUT", c.Matchmaking.EntryTimeout)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Race.MinPlayers < 2 {
		errs = append(errs, errors.New("race.min_players must be at least 2"))
	}
	if c.Race.MaxPlayers < c.Race.MinPlayers {
		errs = append(errs, errors.New("race.max_players must be >= race.min_players"))
	}
	if c.Race.Countdown <= 0 {
		errs = append(errs, errors.New("race.countdown must be positive"))
	}
	if c.Race.TimeLimit <= 0 {
		errs = append(errs, errors.New("race.time_limit must be positive"))
	}
	if c.Race.ChallengesPerRace < 1 {
		errs = append(errs, errors.New("race.challenges_per_race must be at least 1"))
	}
	if c.Matchmaking.GroupSize < 2 || c.Matchmaking.GroupSize > c.Race.MaxPlayers {
		errs = append(errs, fmt.Errorf("matchmaking.group_size must be between 2 and %d", c.Race.MaxPlayers))
	}
	if c.Matchmaking.BaseTolerance < 0 || c.Matchmaking.MaxTolerance < c.Matchmaking.BaseTolerance {
		errs = append(errs, errors.New("matchmaking tolerance band is invalid"))
	}
	if c.Recorder.Workers < 1 || c.Recorder.Buffer < 1 || c.Recorder.MaxAttempts < 1 {
		errs = append(errs, errors.New("recorder workers, buffer and max_attempts must be positive"))
	}
	if c.WS.SendBuffer < 1 {
		errs = append(errs, errors.New("ws.send_buffer must be positive"))
	}
	if c.Auth.RequireToken && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required when auth.require_token is set"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultVal
}

// Remove redis:// prefix if present
func trimRedisScheme(addr string) string {
	if len(addr) > 8 && addr[:8] == "redis://" {
		return addr[8:]
	}
	return addr
}
