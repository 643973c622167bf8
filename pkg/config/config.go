package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/siohaza/catchd/internal/stats"
)

const (
	GamemodeCatch = "catch"
	GamemodeLua   = "lua"
)

type Config struct {
	Server ServerConfig `toml:"server"`
	Catch  CatchConfig  `toml:"catch"`
	Timers TimersConfig `toml:"timers"`
	Match  MatchConfig  `toml:"match"`
	Stats  StatsConfig  `toml:"stats"`
}

type ServerConfig struct {
	Name       string `toml:"name"`
	Port       int    `toml:"port"`
	MaxPlayers int    `toml:"max_players"`
	TickRate   int    `toml:"tick_rate"`
	Map        string `toml:"map"`

	// logging configuration
	LogToFile bool `toml:"log_to_file"`

	Gamemode string `toml:"gamemode"`
	Script   string `toml:"script"`

	MetricsAddr  string `toml:"metrics_addr"`
	OTelEndpoint string `toml:"otel_endpoint" env:"CATCHD_OTEL_ENDPOINT"`
}

type CatchConfig struct {
	MinPlayers  int    `toml:"min_players" env:"CATCHD_MIN_PLAYERS"`
	ReleaseGame bool   `toml:"release_game" env:"CATCHD_RELEASE_GAME"`
	Tournament  bool   `toml:"tournament"`
	StatsTable  string `toml:"stats_table"`
}

// TimersConfig durations are in seconds. Warmup 0 skips the warmup and -1
// waits for an operator.
type TimersConfig struct {
	Warmup    int `toml:"warmup"`
	Countdown int `toml:"countdown"`
	RoundEnd  int `toml:"round_end"`
	MatchEnd  int `toml:"match_end"`
}

// MatchConfig limits are off when zero.
type MatchConfig struct {
	Rounds     int `toml:"rounds"`
	ScoreLimit int `toml:"score_limit"`
}

type StatsConfig struct {
	Enabled   bool   `toml:"enabled"`
	DBPath    string `toml:"db_path" env:"CATCHD_DB_PATH"`
	Workers   int    `toml:"workers" env:"CATCHD_STATS_WORKERS"`
	QueueSize int    `toml:"queue_size"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	config := &Config{Server: ServerConfig{Name: "catchd"}}
	config.applyDefaults()
	return config
}

func LoadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()

	if err := ParseEnv(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ParseEnv overrides fields tagged with env from the environment. Unset
// variables leave the field alone.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 32887
	}
	if c.Server.MaxPlayers == 0 {
		c.Server.MaxPlayers = 16
	}
	if c.Server.TickRate == 0 {
		c.Server.TickRate = 50
	}
	if c.Server.Map == "" {
		c.Server.Map = "default"
	}
	if c.Server.Gamemode == "" {
		c.Server.Gamemode = GamemodeCatch
	}
	if c.Server.Gamemode == GamemodeLua && c.Server.Script == "" {
		c.Server.Script = "scripts/gamemodes/lms.lua"
	}

	if c.Catch.MinPlayers == 0 {
		c.Catch.MinPlayers = 3
	}
	if c.Catch.StatsTable == "" {
		c.Catch.StatsTable = "zcatch"
	}

	if c.Timers.Countdown == 0 {
		c.Timers.Countdown = 3
	}
	if c.Timers.RoundEnd == 0 {
		c.Timers.RoundEnd = 5
	}
	if c.Timers.MatchEnd == 0 {
		c.Timers.MatchEnd = 10
	}

	if c.Stats.DBPath == "" {
		c.Stats.DBPath = "data/stats.db"
	}
	if c.Stats.Workers == 0 {
		c.Stats.Workers = 4
	}
	if c.Stats.QueueSize == 0 {
		c.Stats.QueueSize = 256
	}
}

func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("server name cannot be empty")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.MaxPlayers < 2 || c.Server.MaxPlayers > 64 {
		return fmt.Errorf("max_players must be between 2 and 64")
	}

	if c.Server.TickRate < 1 || c.Server.TickRate > 1000 {
		return fmt.Errorf("invalid tick_rate: %d", c.Server.TickRate)
	}

	switch c.Server.Gamemode {
	case GamemodeCatch:
	case GamemodeLua:
		if c.Server.Script == "" {
			return fmt.Errorf("lua gamemode needs a script")
		}
	default:
		return fmt.Errorf("unknown gamemode: %q", c.Server.Gamemode)
	}

	if c.Catch.MinPlayers < 2 {
		return fmt.Errorf("min_players must be at least 2")
	}

	if !stats.ValidIdentifier(c.Catch.StatsTable) {
		return fmt.Errorf("invalid stats_table: %q", c.Catch.StatsTable)
	}

	if c.Timers.Countdown < 0 || c.Timers.RoundEnd < 0 || c.Timers.MatchEnd < 0 || c.Timers.Warmup < -1 {
		return fmt.Errorf("timers cannot be negative")
	}

	if c.Match.Rounds < 0 || c.Match.ScoreLimit < 0 {
		return fmt.Errorf("match limits cannot be negative")
	}

	if c.Stats.Enabled {
		if c.Stats.DBPath == "" {
			return fmt.Errorf("stats db_path cannot be empty")
		}
		if c.Stats.Workers < 1 {
			return fmt.Errorf("stats workers must be at least 1")
		}
		if c.Stats.QueueSize < c.Stats.Workers {
			return fmt.Errorf("stats queue_size must be at least the worker count")
		}
	}

	return nil
}
