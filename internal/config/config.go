package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"speakloop/agent/internal/turn"
)

type Config struct {
	Server struct {
		Port     string
		GRPCPort string
		LogLevel string
	}
	Turn struct {
		WatchdogMs         int
		WatchdogPerRuneMs  int
		WatchdogMaxMs      int
		BargeInGuardMs     int
		BargeInEnabled     bool
		EvaluatorTimeoutMs int
		EmptyRestartMs     int
		StarterPrompt      string
		VoiceCommands      bool
		AutoPlay           bool
		EventBuffer        int
	}
	Auth struct {
		TokenSecret   string
		TokenTTLMin   int
		TokenSkewSecs int
	}
	Evaluator struct {
		Mode         string // "openai" or "echo"
		BaseURL      string
		APIKey       string
		Model        string
		SystemPrompt string
	}
	History struct {
		DSN string
	}
	Events struct {
		MaxPerSession int
		RetentionSecs int
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("turn.watchdog_ms", 8000)
	v.SetDefault("turn.watchdog_per_rune_ms", 70)
	v.SetDefault("turn.watchdog_max_ms", 120000)
	v.SetDefault("turn.barge_in_guard_ms", 300)
	v.SetDefault("turn.barge_in_enabled", true)
	v.SetDefault("turn.evaluator_timeout_ms", 30000)
	v.SetDefault("turn.empty_restart_ms", 250)
	v.SetDefault("turn.voice_commands", true)
	v.SetDefault("turn.auto_play", true)
	v.SetDefault("turn.event_buffer", 64)

	v.SetDefault("auth.token_ttl_min", 60)
	v.SetDefault("auth.token_skew_secs", 30)

	v.SetDefault("evaluator.mode", "echo")
	v.SetDefault("evaluator.model", "gpt-4o-mini")
	v.SetDefault("evaluator.system_prompt", "You are a friendly conversation partner helping a learner practise speaking. Keep replies short.")

	v.SetDefault("events.max_per_session", 200)
	v.SetDefault("events.retention_secs", 600)

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.grpc_port", "GRPC_PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")

	v.BindEnv("turn.watchdog_ms", "TURN_WATCHDOG_MS")
	v.BindEnv("turn.watchdog_per_rune_ms", "TURN_WATCHDOG_PER_RUNE_MS")
	v.BindEnv("turn.watchdog_max_ms", "TURN_WATCHDOG_MAX_MS")
	v.BindEnv("turn.barge_in_guard_ms", "TURN_BARGE_IN_GUARD_MS")
	v.BindEnv("turn.barge_in_enabled", "TURN_BARGE_IN_ENABLED")
	v.BindEnv("turn.evaluator_timeout_ms", "TURN_EVALUATOR_TIMEOUT_MS")
	v.BindEnv("turn.empty_restart_ms", "TURN_EMPTY_RESTART_MS")
	v.BindEnv("turn.starter_prompt", "TURN_STARTER_PROMPT")
	v.BindEnv("turn.voice_commands", "TURN_VOICE_COMMANDS")
	v.BindEnv("turn.auto_play", "TURN_AUTO_PLAY")

	v.BindEnv("auth.token_secret", "SESSION_TOKEN_SECRET")
	v.BindEnv("auth.token_ttl_min", "SESSION_TOKEN_TTL_MIN")
	v.BindEnv("auth.token_skew_secs", "SESSION_TOKEN_SKEW_SECS")

	v.BindEnv("evaluator.mode", "EVALUATOR_MODE")
	v.BindEnv("evaluator.base_url", "OPENAI_BASE_URL")
	v.BindEnv("evaluator.api_key", "OPENAI_API_KEY")
	v.BindEnv("evaluator.model", "EVALUATOR_MODEL")
	v.BindEnv("evaluator.system_prompt", "EVALUATOR_SYSTEM_PROMPT")

	v.BindEnv("history.dsn", "HISTORY_DSN")
	v.BindEnv("events.max_per_session", "EVENTS_MAX_PER_SESSION")
	v.BindEnv("events.retention_secs", "EVENTS_RETENTION_SECS")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.GRPCPort = toString(v.Get("server.grpc_port"))
	c.Server.LogLevel = v.GetString("server.log_level")

	c.Turn.WatchdogMs = v.GetInt("turn.watchdog_ms")
	c.Turn.WatchdogPerRuneMs = v.GetInt("turn.watchdog_per_rune_ms")
	c.Turn.WatchdogMaxMs = v.GetInt("turn.watchdog_max_ms")
	c.Turn.BargeInGuardMs = v.GetInt("turn.barge_in_guard_ms")
	c.Turn.BargeInEnabled = v.GetBool("turn.barge_in_enabled")
	c.Turn.EvaluatorTimeoutMs = v.GetInt("turn.evaluator_timeout_ms")
	c.Turn.EmptyRestartMs = v.GetInt("turn.empty_restart_ms")
	c.Turn.StarterPrompt = v.GetString("turn.starter_prompt")
	c.Turn.VoiceCommands = v.GetBool("turn.voice_commands")
	c.Turn.AutoPlay = v.GetBool("turn.auto_play")
	c.Turn.EventBuffer = v.GetInt("turn.event_buffer")

	c.Auth.TokenSecret = v.GetString("auth.token_secret")
	c.Auth.TokenTTLMin = v.GetInt("auth.token_ttl_min")
	c.Auth.TokenSkewSecs = v.GetInt("auth.token_skew_secs")

	c.Evaluator.Mode = v.GetString("evaluator.mode")
	c.Evaluator.BaseURL = v.GetString("evaluator.base_url")
	c.Evaluator.APIKey = v.GetString("evaluator.api_key")
	c.Evaluator.Model = v.GetString("evaluator.model")
	c.Evaluator.SystemPrompt = v.GetString("evaluator.system_prompt")

	c.History.DSN = v.GetString("history.dsn")
	c.Events.MaxPerSession = v.GetInt("events.max_per_session")
	c.Events.RetentionSecs = v.GetInt("events.retention_secs")

	log.Info().Str("port", c.Server.Port).Str("grpc_port", c.Server.GRPCPort).
		Str("evaluator", c.Evaluator.Mode).Bool("history", c.History.DSN != "").Msg("config loaded")
	return c
}

// TurnConfig converts the flat settings into controller tuning.
func (c Config) TurnConfig() turn.Config {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return turn.Config{
		WatchdogBase:      ms(c.Turn.WatchdogMs),
		WatchdogPerRune:   ms(c.Turn.WatchdogPerRuneMs),
		WatchdogMax:       ms(c.Turn.WatchdogMaxMs),
		BargeInGuard:      ms(c.Turn.BargeInGuardMs),
		BargeInEnabled:    c.Turn.BargeInEnabled,
		EvaluatorTimeout:  ms(c.Turn.EvaluatorTimeoutMs),
		EmptyRestartDelay: ms(c.Turn.EmptyRestartMs),
		StarterPrompt:     c.Turn.StarterPrompt,
		VoiceCommands:     c.Turn.VoiceCommands,
		AutoPlay:          c.Turn.AutoPlay,
		EventBuffer:       c.Turn.EventBuffer,
	}
}

func toString(v any) string { return fmt.Sprint(v) }
