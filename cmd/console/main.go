// Command console runs one dialogue session in the terminal: assistant
// speech is printed and each typed line is a user utterance.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"speakloop/agent/internal/config"
	"speakloop/agent/internal/evaluator"
	"speakloop/agent/internal/history"
	"speakloop/agent/internal/logging"
	"speakloop/agent/internal/token"
	"speakloop/agent/internal/turn"
)

func main() {
	_ = godotenv.Load()

	var (
		mode    string
		starter string
		dsn     string
		perRune time.Duration
	)
	root := &cobra.Command{
		Use:          "console",
		Short:        "Talk to the turn controller from a terminal",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if mode != "" {
				cfg.Evaluator.Mode = mode
			}
			if starter != "" {
				cfg.Turn.StarterPrompt = starter
			}
			if dsn != "" {
				cfg.History.DSN = dsn
			}
			return run(cmd.Context(), cfg, perRune, os.Stdin, os.Stdout)
		},
	}
	root.Flags().StringVar(&mode, "evaluator", "", "evaluator mode: echo or openai")
	root.Flags().StringVar(&starter, "starter", "Hi! What would you like to talk about?", "opening assistant line")
	root.Flags().StringVar(&dsn, "history", "", "sqlite DSN for the transcript")
	root.Flags().DurationVar(&perRune, "reading-speed", 40*time.Millisecond, "simulated speaking time per character")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, perRune time.Duration, in io.Reader, out io.Writer) error {
	logger := logging.Setup(cfg.Server.LogLevel, os.Stderr)

	eval, err := evaluator.New(evaluator.Config{
		Mode:         cfg.Evaluator.Mode,
		APIKey:       cfg.Evaluator.APIKey,
		BaseURL:      cfg.Evaluator.BaseURL,
		Model:        cfg.Evaluator.Model,
		SystemPrompt: cfg.Evaluator.SystemPrompt,
	})
	if err != nil {
		return errors.Wrap(err, "build evaluator")
	}
	hist, err := history.Open(cfg.History.DSN)
	if err != nil {
		return errors.Wrap(err, "open history")
	}
	defer func() { _ = hist.Close() }()

	speech := &textSpeech{out: out, perRune: perRune}
	capture := newLineCapture(speech)
	c := turn.New(speech, capture, eval, turn.WithConfig(cfg.TurnConfig()), turn.WithLogger(logger))
	defer c.Dispose()

	sessionID := token.New()
	events, _ := c.SubscribeAll()
	go func() {
		for ev := range events {
			switch ev.Type {
			case turn.EventState:
				if ev.To == turn.StateListening {
					fmt.Fprint(out, "you> ")
				}
				if ev.To == turn.StatePaused {
					fmt.Fprintln(out, "[paused, /resume to continue]")
				}
			case turn.EventMessage:
				if err := hist.Append(context.Background(), sessionID, *ev.Message); err != nil {
					logger.Error().Err(err).Msg("history append failed")
				}
			case turn.EventError:
				fmt.Fprintf(out, "[%s]\n", ev.Err.Message())
			case turn.EventCommand:
				fmt.Fprintf(out, "[command: %s]\n", ev.Command)
			}
		}
	}()

	quit := make(chan struct{})
	var quitOnce sync.Once
	go func() {
		capture.Feed(in, func(line string) bool {
			cmd, ok := strings.CutPrefix(strings.TrimSpace(line), "/")
			if !ok {
				return false
			}
			var err error
			switch cmd {
			case "pause":
				err = c.Pause()
			case "resume":
				err = c.Resume()
			case "stop", "interrupt":
				err = c.HandleBargeIn()
			case "quit", "exit":
				quitOnce.Do(func() { close(quit) })
			default:
				err = c.HandleVoiceCommand(cmd)
			}
			if err != nil {
				fmt.Fprintf(out, "[%v]\n", err)
			}
			return true
		})
	}()

	if err := c.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-quit:
	}
	logger.Info().Str("session_id", sessionID).Msg("bye")
	return nil
}
