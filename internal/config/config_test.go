package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Clear relevant envs
	os.Unsetenv("PORT")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("TURN_WATCHDOG_MS")
	os.Unsetenv("TURN_STARTER_PROMPT")
	os.Unsetenv("EVALUATOR_MODE")

	c := Load()

	if c.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", c.Server.Port)
	}
	if c.Server.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", c.Server.LogLevel)
	}
	if c.Turn.WatchdogMs != 8000 {
		t.Fatalf("expected default watchdog 8000ms, got %d", c.Turn.WatchdogMs)
	}
	if !c.Turn.BargeInEnabled || !c.Turn.VoiceCommands {
		t.Fatalf("barge-in and voice commands should default on")
	}
	if c.Evaluator.Mode != "echo" {
		t.Fatalf("expected echo evaluator by default, got %q", c.Evaluator.Mode)
	}
	if c.Events.MaxPerSession != 200 {
		t.Fatalf("expected 200 events per session, got %d", c.Events.MaxPerSession)
	}
	if c.Events.RetentionSecs != 600 {
		t.Fatalf("expected 600s retention, got %d", c.Events.RetentionSecs)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("TURN_WATCHDOG_MS", "1500")
	t.Setenv("TURN_BARGE_IN_GUARD_MS", "0")
	t.Setenv("TURN_STARTER_PROMPT", "Hello there!")

	c := Load()
	if c.Server.Port != "9999" {
		t.Fatalf("expected port override, got %q", c.Server.Port)
	}

	tc := c.TurnConfig()
	if tc.WatchdogBase != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s watchdog, got %s", tc.WatchdogBase)
	}
	if tc.BargeInGuard != 0 {
		t.Fatalf("expected guard disabled, got %s", tc.BargeInGuard)
	}
	if tc.StarterPrompt != "Hello there!" {
		t.Fatalf("expected starter prompt, got %q", tc.StarterPrompt)
	}
	if tc.EvaluatorTimeout != 30*time.Second {
		t.Fatalf("expected default evaluator timeout, got %s", tc.EvaluatorTimeout)
	}
}
