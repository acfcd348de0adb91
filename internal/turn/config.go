package turn

import "time"

// Config tunes the controller. DefaultConfig returns production values.
type Config struct {
	// Speaking deadline: WatchdogBase plus WatchdogPerRune per rune of the
	// utterance, capped at WatchdogMax.
	WatchdogBase    time.Duration
	WatchdogPerRune time.Duration
	WatchdogMax     time.Duration

	// BargeInGuard ignores capture activity right after speech starts.
	BargeInGuard   time.Duration
	BargeInEnabled bool

	EvaluatorTimeout  time.Duration
	EmptyRestartDelay time.Duration

	// StarterPrompt is spoken by Start, and by Resume when no turn exists.
	StarterPrompt string
	// VoiceCommands treats a transcript that is exactly a command phrase as a
	// command instead of an answer.
	VoiceCommands bool
	// AutoPlay speaks assistant messages added through AddMessage.
	AutoPlay bool

	EventBuffer int
}

func DefaultConfig() Config {
	return Config{
		WatchdogBase:      8 * time.Second,
		WatchdogPerRune:   70 * time.Millisecond,
		WatchdogMax:       2 * time.Minute,
		BargeInGuard:      300 * time.Millisecond,
		BargeInEnabled:    true,
		EvaluatorTimeout:  30 * time.Second,
		EmptyRestartDelay: 250 * time.Millisecond,
		VoiceCommands:     true,
		AutoPlay:          true,
		EventBuffer:       64,
	}
}
