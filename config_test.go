package main

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"moonvillage/internal/game"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := loadConfig([]string{"--config", filepath.Join(t.TempDir(), "missing.json"), "--dev"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":8080" || cfg.DB != "file::memory:?cache=shared" || cfg.MinPlayers != 3 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.JWTSecret != devSecret {
		t.Errorf("dev secret = %q", cfg.JWTSecret)
	}
	if cfg.NightDuration != game.DefaultSettings().Durations[game.PhaseNight] {
		t.Errorf("night = %v", cfg.NightDuration)
	}
}

func TestLayering(t *testing.T) {
	t.Setenv("ADDR", ":7000")
	t.Setenv("DB", "memory")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("DAY_DURATION", "3m")
	t.Setenv("FORBIDDEN_WORDS", "darn,heck")
	path := writeConfig(t, `{"db": "file:village.db", "day_duration": "4m", "log_debug": true}`)

	cfg, err := loadConfig([]string{"--config", path, "--day-duration", "5m", "--min-players", "5"})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name      string
		got, want any
	}{
		{"env beats default", cfg.Addr, ":7000"},
		{"file beats env", cfg.DB, "file:village.db"},
		{"flag beats file", cfg.DayDuration, 5 * time.Minute},
		{"flag beats default", cfg.MinPlayers, 5},
		{"file sets bool", cfg.LogDebug, true},
		{"env secret", cfg.JWTSecret, "from-env"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if !slices.Equal(cfg.ForbiddenWords, []string{"darn", "heck"}) {
		t.Errorf("forbidden words = %q", cfg.ForbiddenWords)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no secret outside dev", nil},
		{"too few players", []string{"--dev", "--min-players", "2"}},
		{"max below min", []string{"--dev", "--min-players", "6", "--max-players", "4"}},
		{"zero phase", []string{"--dev", "--voting-duration", "0s"}},
		{"hot storyteller", []string{"--dev", "--storyteller-temperature", "1.5"}},
		{"unknown flag", []string{"--dev", "--wolves", "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config", ""}, tt.args...)
			if _, err := loadConfig(args); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestBrokenConfigFile(t *testing.T) {
	path := writeConfig(t, `{"db": `)
	if _, err := loadConfig([]string{"--config", path, "--dev"}); err == nil {
		t.Error("malformed config file accepted")
	}
}

func TestEngineOptions(t *testing.T) {
	cfg, err := loadConfig([]string{"--config", "", "--dev", "--night-duration", "30s", "--require-majority"})
	if err != nil {
		t.Fatal(err)
	}
	opts := cfg.engineOptions()
	if opts.Settings.Duration(game.PhaseNight) != 30*time.Second || !opts.Settings.RequireMajority {
		t.Errorf("settings = %+v", opts.Settings)
	}
	if !opts.Settings.TeamMayChat(game.TeamWerewolf, game.PhaseNight) {
		t.Error("werewolf night chat lost")
	}
}
