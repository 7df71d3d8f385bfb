package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"moonvillage/internal/engine"
	"moonvillage/internal/game"
	"moonvillage/internal/logging"
	"moonvillage/internal/storyteller"
)

// AppConfig holds all server configuration.
// Priority (lowest → highest): defaults < env vars < JSON config file < CLI flags.
type AppConfig struct {
	// Server
	Addr           string   `mapstructure:"addr"`
	DB             string   `mapstructure:"db"` // sqlite DSN, or "memory" for the in-process store
	Dev            bool     `mapstructure:"dev"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// Auth
	JWTSecret  string        `mapstructure:"jwt_secret"`
	JWTIssuer  string        `mapstructure:"jwt_issuer"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`

	// Presence mirror, disabled when RedisAddr is empty
	RedisAddr   string        `mapstructure:"redis_addr"`
	PresenceTTL time.Duration `mapstructure:"presence_ttl"`

	// Logging
	LogDebug     bool   `mapstructure:"log_debug"`
	LogWS        bool   `mapstructure:"log_ws"`
	LogOutputDir string `mapstructure:"log_output_dir"`

	// Game
	MinPlayers         int           `mapstructure:"min_players"`
	MaxPlayers         int           `mapstructure:"max_players"`
	NightDuration      time.Duration `mapstructure:"night_duration"`
	DayDuration        time.Duration `mapstructure:"day_duration"`
	VotingDuration     time.Duration `mapstructure:"voting_duration"`
	ResultsDuration    time.Duration `mapstructure:"results_duration"`
	RequireMajority    bool          `mapstructure:"require_majority"`
	ForbiddenWords     []string      `mapstructure:"forbidden_words"`
	HistoryLimit       int           `mapstructure:"history_limit"`
	AdvanceRetryWindow time.Duration `mapstructure:"advance_retry_window"`

	// AI Storyteller
	StorytellerProvider    string  `mapstructure:"storyteller_provider"` // ollama | openai | claude | gemini | groq | openai-compatible
	StorytellerModel       string  `mapstructure:"storyteller_model"`
	StorytellerOllamaURL   string  `mapstructure:"storyteller_ollama_url"`
	StorytellerURL         string  `mapstructure:"storyteller_url"`
	StorytellerAPIKey      string  `mapstructure:"storyteller_api_key"`
	StorytellerTemperature float64 `mapstructure:"storyteller_temperature"`
	StorytellerThinking    string  `mapstructure:"storyteller_thinking"`
}

const devSecret = "moonvillage-dev-secret"

func setDefaults(v *viper.Viper) {
	def := game.DefaultSettings()
	v.SetDefault("addr", ":8080")
	v.SetDefault("db", "file::memory:?cache=shared")
	v.SetDefault("dev", false)
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_issuer", "moonvillage")
	v.SetDefault("token_ttl", 24*time.Hour)
	v.SetDefault("bcrypt_cost", 10)
	v.SetDefault("redis_addr", "")
	v.SetDefault("presence_ttl", 6*time.Hour)
	v.SetDefault("log_debug", false)
	v.SetDefault("log_ws", false)
	v.SetDefault("log_output_dir", "")
	v.SetDefault("min_players", 3)
	v.SetDefault("max_players", 16)
	v.SetDefault("night_duration", def.Durations[game.PhaseNight])
	v.SetDefault("day_duration", def.Durations[game.PhaseDay])
	v.SetDefault("voting_duration", def.Durations[game.PhaseVoting])
	v.SetDefault("results_duration", def.Durations[game.PhaseResults])
	v.SetDefault("require_majority", false)
	v.SetDefault("forbidden_words", []string{})
	v.SetDefault("history_limit", 50)
	v.SetDefault("advance_retry_window", 10*time.Second)
	v.SetDefault("storyteller_provider", "")
	v.SetDefault("storyteller_model", "")
	v.SetDefault("storyteller_ollama_url", "http://localhost:11434")
	v.SetDefault("storyteller_url", "")
	v.SetDefault("storyteller_api_key", "")
	v.SetDefault("storyteller_temperature", 0.0)
	v.SetDefault("storyteller_thinking", "")
}

// registerFlags registers every CLI flag on flags. Flag names are config keys with dashes.
func registerFlags(flags *pflag.FlagSet) {
	flags.String("config", "config.json", "path to JSON config file")
	flags.String("addr", "", "HTTP listen address (e.g. :8080)")
	flags.String("db", "", `sqlite DSN, or "memory" for the in-process store`)
	flags.Bool("dev", false, "development mode: console logs, dev token endpoint")
	flags.StringSlice("allowed-origins", nil, "browser origins allowed to open a websocket")
	flags.String("jwt-secret", "", "HMAC secret for connection tokens")
	flags.String("jwt-issuer", "", "issuer claim of connection tokens")
	flags.Duration("token-ttl", 0, "lifetime of tokens issued by the dev endpoint")
	flags.Int("bcrypt-cost", 0, "bcrypt cost for session passwords")
	flags.String("redis-addr", "", "redis address for the presence mirror")
	flags.Duration("presence-ttl", 0, "expiry of a session's presence set")
	flags.Bool("log-debug", false, "enable debug logging")
	flags.Bool("log-ws", false, "log websocket frames")
	flags.String("log-output-dir", "", "directory for websocket.log")
	flags.Int("min-players", 0, "players needed to start")
	flags.Int("max-players", 0, "default seat limit of a lobby")
	flags.Duration("night-duration", 0, "night phase length")
	flags.Duration("day-duration", 0, "day phase length")
	flags.Duration("voting-duration", 0, "voting phase length")
	flags.Duration("results-duration", 0, "results phase length")
	flags.Bool("require-majority", false, "a lynch needs more than half of the living seats")
	flags.StringSlice("forbidden-words", nil, "words masked in chat")
	flags.Int("history-limit", 0, "public messages replayed on connect")
	flags.Duration("advance-retry-window", 0, "how long a timed phase advance retries storage errors")
	flags.String("storyteller-provider", "", "AI storyteller provider (ollama|openai|claude|gemini|groq|openai-compatible)")
	flags.String("storyteller-model", "", "AI storyteller model name")
	flags.String("storyteller-ollama-url", "", "Ollama server URL")
	flags.String("storyteller-url", "", "base URL for openai-compatible provider")
	flags.String("storyteller-api-key", "", "API key for groq and openai-compatible providers")
	flags.Float64("storyteller-temperature", 0, "sampling temperature 0-1")
	flags.String("storyteller-thinking", "", "thinking mode: none|low|medium|high|auto")
}

func flagKey(name string) string { return strings.ReplaceAll(name, "-", "_") }

// loadConfig parses args and layers defaults, env vars, the JSON config file and the flags
// that were set explicitly.
func loadConfig(args []string) (AppConfig, error) {
	flags := pflag.NewFlagSet("moonvillage", pflag.ContinueOnError)
	registerFlags(flags)
	if err := flags.Parse(args); err != nil {
		return AppConfig{}, err
	}

	v := viper.New()
	setDefaults(v)

	// Layer 1: env vars, named like the keys in upper case (DB, ADDR, LOG_DEBUG, ...)
	v.AutomaticEnv()

	// Layer 2: JSON config file. Keys present in the file override env vars.
	path, _ := flags.GetString("config")
	if path != "" {
		file := viper.New()
		file.SetConfigFile(path)
		file.SetConfigType("json")
		switch err := file.ReadInConfig(); {
		case err == nil:
			for _, key := range file.AllKeys() {
				v.Set(key, file.Get(key))
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return AppConfig{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	// Layer 3: flags passed on the command line
	var flagErr error
	flags.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || flagErr != nil {
			return
		}
		val, err := flagValue(flags, f)
		if err != nil {
			flagErr = err
			return
		}
		v.Set(flagKey(f.Name), val)
	})
	if flagErr != nil {
		return AppConfig{}, flagErr
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func flagValue(flags *pflag.FlagSet, f *pflag.Flag) (any, error) {
	switch f.Value.Type() {
	case "bool":
		return flags.GetBool(f.Name)
	case "int":
		return flags.GetInt(f.Name)
	case "float64":
		return flags.GetFloat64(f.Name)
	case "duration":
		return flags.GetDuration(f.Name)
	case "stringSlice":
		return flags.GetStringSlice(f.Name)
	}
	return f.Value.String(), nil
}

func (cfg *AppConfig) validate() error {
	if cfg.Addr == "" {
		return errors.New("config: addr must be set")
	}
	if cfg.JWTSecret == "" {
		if !cfg.Dev {
			return errors.New("config: jwt_secret must be set outside dev mode")
		}
		cfg.JWTSecret = devSecret
	}
	if cfg.MinPlayers < 3 {
		return fmt.Errorf("config: min_players must be at least 3, got %d", cfg.MinPlayers)
	}
	if cfg.MaxPlayers < cfg.MinPlayers {
		return fmt.Errorf("config: max_players (%d) is below min_players (%d)", cfg.MaxPlayers, cfg.MinPlayers)
	}
	for key, d := range map[string]time.Duration{
		"night_duration":   cfg.NightDuration,
		"day_duration":     cfg.DayDuration,
		"voting_duration":  cfg.VotingDuration,
		"results_duration": cfg.ResultsDuration,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", key)
		}
	}
	if cfg.StorytellerTemperature < 0 || cfg.StorytellerTemperature > 1 {
		return fmt.Errorf("config: storyteller_temperature must be within 0-1, got %v", cfg.StorytellerTemperature)
	}
	return nil
}

func (cfg AppConfig) logConfig() logging.Config {
	return logging.Config{
		Dev:       cfg.Dev,
		Debug:     cfg.LogDebug,
		WS:        cfg.LogWS,
		OutputDir: cfg.LogOutputDir,
	}
}

func (cfg AppConfig) engineOptions() engine.Options {
	settings := game.DefaultSettings()
	settings.Durations = map[game.Phase]time.Duration{
		game.PhaseNight:   cfg.NightDuration,
		game.PhaseDay:     cfg.DayDuration,
		game.PhaseVoting:  cfg.VotingDuration,
		game.PhaseResults: cfg.ResultsDuration,
	}
	settings.RequireMajority = cfg.RequireMajority
	return engine.Options{
		MinPlayers:        cfg.MinPlayers,
		DefaultMaxPlayers: cfg.MaxPlayers,
		Settings:          settings,
		HistoryLimit:      cfg.HistoryLimit,
		ForbiddenWords:    cfg.ForbiddenWords,
		RetryWindow:       cfg.AdvanceRetryWindow,
	}
}

func (cfg AppConfig) storytellerConfig() storyteller.Config {
	return storyteller.Config{
		Provider:    cfg.StorytellerProvider,
		Model:       cfg.StorytellerModel,
		OllamaURL:   cfg.StorytellerOllamaURL,
		URL:         cfg.StorytellerURL,
		APIKey:      cfg.StorytellerAPIKey,
		Temperature: cfg.StorytellerTemperature,
		Thinking:    cfg.StorytellerThinking,
	}
}
