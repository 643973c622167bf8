package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "[server]\nname = \"test\"\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != 32887 || cfg.Server.TickRate != 50 || cfg.Server.Gamemode != GamemodeCatch {
		t.Fatalf("server defaults = %+v", cfg.Server)
	}
	if cfg.Catch.MinPlayers != 3 || cfg.Catch.StatsTable != "zcatch" {
		t.Fatalf("catch defaults = %+v", cfg.Catch)
	}
	if cfg.Timers.Countdown != 3 || cfg.Timers.RoundEnd != 5 || cfg.Timers.MatchEnd != 10 || cfg.Timers.Warmup != 0 {
		t.Fatalf("timer defaults = %+v", cfg.Timers)
	}
	if cfg.Stats.Workers != 4 || cfg.Stats.QueueSize != 256 || cfg.Stats.DBPath != "data/stats.db" {
		t.Fatalf("stats defaults = %+v", cfg.Stats)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
[server]
name = "zcatch eu"
gamemode = "lua"

[catch]
min_players = 4
release_game = true

[timers]
warmup = -1

[match]
rounds = 7
`))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Script != "scripts/gamemodes/lms.lua" {
		t.Fatalf("script = %q", cfg.Server.Script)
	}
	if cfg.Catch.MinPlayers != 4 || !cfg.Catch.ReleaseGame || cfg.Timers.Warmup != -1 || cfg.Match.Rounds != 7 {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CATCHD_DB_PATH", "/var/lib/catchd/stats.db")
	t.Setenv("CATCHD_RELEASE_GAME", "true")
	t.Setenv("CATCHD_MIN_PLAYERS", "5")
	t.Setenv("CATCHD_STATS_WORKERS", "2")
	t.Setenv("CATCHD_OTEL_ENDPOINT", "localhost:4318")

	cfg, err := LoadConfig(writeConfig(t, "[server]\nname = \"test\"\n[catch]\nmin_players = 3\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Stats.DBPath != "/var/lib/catchd/stats.db" || cfg.Stats.Workers != 2 {
		t.Fatalf("stats = %+v", cfg.Stats)
	}
	if !cfg.Catch.ReleaseGame || cfg.Catch.MinPlayers != 5 {
		t.Fatalf("catch = %+v", cfg.Catch)
	}
	if cfg.Server.OTelEndpoint != "localhost:4318" {
		t.Fatalf("otel endpoint = %q", cfg.Server.OTelEndpoint)
	}
}

func TestBadEnvValue(t *testing.T) {
	t.Setenv("CATCHD_MIN_PLAYERS", "many")
	if _, err := LoadConfig(writeConfig(t, "[server]\nname = \"test\"\n")); err == nil {
		t.Fatalf("expected env parse error")
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := LoadConfig(writeConfig(t, "[server\n")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty name":      func(c *Config) { c.Server.Name = "" },
		"bad port":        func(c *Config) { c.Server.Port = 70000 },
		"one player":      func(c *Config) { c.Server.MaxPlayers = 1 },
		"too many":        func(c *Config) { c.Server.MaxPlayers = 65 },
		"unknown mode":    func(c *Config) { c.Server.Gamemode = "ctf" },
		"min players":     func(c *Config) { c.Catch.MinPlayers = 1 },
		"bad table":       func(c *Config) { c.Catch.StatsTable = "zcatch; drop" },
		"negative timer":  func(c *Config) { c.Timers.RoundEnd = -2 },
		"no workers":      func(c *Config) { c.Stats.Enabled = true; c.Stats.Workers = 0 },
		"lua no script":   func(c *Config) { c.Server.Gamemode = GamemodeLua; c.Server.Script = "" },
		"negative rounds": func(c *Config) { c.Match.Rounds = -1 },
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestShippedConfigIsValid(t *testing.T) {
	cfg, err := LoadConfig("../../configs/config.toml")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
