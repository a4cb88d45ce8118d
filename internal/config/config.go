package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// getEnv returns the environment variable key or defaultValue.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads key as an integer, falling back to defaultValue.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

const (
	SourceFile  = "file"
	SourceNeo4j = "neo4j"
)

type Config struct {
	Port           int         `toml:"port"`
	LogLevel       string      `toml:"log_level"`
	LevelSource    string      `toml:"level_source"`
	LevelFile      string      `toml:"level_file"`
	LevelName      string      `toml:"level_name"`
	TickInterval   Duration    `toml:"tick_interval"`
	WatchLevelFile bool        `toml:"watch_level_file"`
	CORSOrigins    []string    `toml:"cors_origins"`
	Neo4j          Neo4jConfig `toml:"neo4j"`
	Redis          RedisConfig `toml:"redis"`
}

type Neo4jConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// RedisConfig enables the audit stream when Addr is set.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Stream   string `toml:"stream"`
}

// Duration lets TOML carry values such as "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:         8080,
		LogLevel:     "info",
		LevelSource:  SourceFile,
		LevelFile:    "data/nav_graph.json",
		LevelName:    "level1",
		TickInterval: Duration{500 * time.Millisecond},
		CORSOrigins:  []string{"*"},
		Neo4j: Neo4jConfig{
			URI:  "bolt://localhost:7687",
			User: "neo4j",
		},
		Redis: RedisConfig{
			Stream: "fleet:events",
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decoding config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvAsInt("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LevelSource = getEnv("LEVEL_SOURCE", c.LevelSource)
	c.LevelFile = getEnv("LEVEL_FILE", c.LevelFile)
	c.LevelName = getEnv("LEVEL_NAME", c.LevelName)
	c.TickInterval.Duration = getEnvAsDuration("TICK_INTERVAL", c.TickInterval.Duration)
	c.WatchLevelFile = getEnvAsBool("WATCH_LEVEL_FILE", c.WatchLevelFile)
	if origins := getEnv("CORS_ORIGINS", ""); origins != "" {
		c.CORSOrigins = strings.Split(origins, ",")
	}

	c.Neo4j.URI = getEnv("NEO4J_URI", c.Neo4j.URI)
	c.Neo4j.User = getEnv("NEO4J_USER", c.Neo4j.User)
	c.Neo4j.Password = getEnv("NEO4J_PASSWORD", c.Neo4j.Password)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvAsInt("REDIS_DB", c.Redis.DB)
	c.Redis.Stream = getEnv("REDIS_STREAM", c.Redis.Stream)
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.LevelSource {
	case SourceFile:
		if c.LevelFile == "" {
			return fmt.Errorf("level_file is required when level_source is %q", SourceFile)
		}
	case SourceNeo4j:
		if c.Neo4j.URI == "" {
			return fmt.Errorf("neo4j.uri is required when level_source is %q", SourceNeo4j)
		}
	default:
		return fmt.Errorf("unknown level_source %q", c.LevelSource)
	}
	if c.LevelName == "" {
		return fmt.Errorf("level_name is required")
	}
	if c.TickInterval.Duration <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval.Duration)
	}
	return nil
}
