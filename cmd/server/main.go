package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"speakloop/agent/internal/api"
	"speakloop/agent/internal/auth"
	"speakloop/agent/internal/config"
	"speakloop/agent/internal/evaluator"
	"speakloop/agent/internal/health"
	"speakloop/agent/internal/history"
	"speakloop/agent/internal/logging"
	"speakloop/agent/internal/loop"
	"speakloop/agent/internal/session"
	"speakloop/agent/internal/store"
	"speakloop/agent/internal/uiws"
)

const healthService = "speakloop.Sessions"

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "speakloop-server",
		Short:        "Serve turn-taking dialogue sessions over HTTP and websockets",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if v, _ := cmd.Flags().GetString("port"); v != "" {
				cfg.Server.Port = v
			}
			if v, _ := cmd.Flags().GetString("grpc-port"); v != "" {
				cfg.Server.GRPCPort = v
			}
			if v, _ := cmd.Flags().GetString("log-level"); v != "" {
				cfg.Server.LogLevel = v
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.Flags().String("port", "", "HTTP port (overrides PORT)")
	root.Flags().String("grpc-port", "", "gRPC health port (overrides GRPC_PORT)")
	root.Flags().String("log-level", "", "log level (overrides LOG_LEVEL)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := logging.Setup(cfg.Server.LogLevel, os.Stderr)

	hist, err := history.Open(cfg.History.DSN)
	if err != nil {
		return errors.Wrap(err, "open history")
	}
	defer func() { _ = hist.Close() }()

	evalCfg := evaluator.Config{
		Mode:         cfg.Evaluator.Mode,
		APIKey:       cfg.Evaluator.APIKey,
		BaseURL:      cfg.Evaluator.BaseURL,
		Model:        cfg.Evaluator.Model,
		SystemPrompt: cfg.Evaluator.SystemPrompt,
	}
	eval, err := evaluator.New(evalCfg)
	if err != nil {
		return errors.Wrap(err, "build evaluator")
	}

	reg := uiws.NewRegistry()
	mgr := session.NewManager(session.Options{
		Turn:      cfg.TurnConfig(),
		Store:     store.New(cfg.Events.MaxPerSession),
		History:   hist,
		Registry:  reg,
		Evaluator: eval,
		Logger:    logger,
		Retention: time.Duration(cfg.Events.RetentionSecs) * time.Second,
	})
	signer := auth.NewSigner(cfg.Auth.TokenSecret,
		time.Duration(cfg.Auth.TokenTTLMin)*time.Minute,
		time.Duration(cfg.Auth.TokenSkewSecs)*time.Second)
	if !signer.Enabled() {
		logger.Warn().Msg("SESSION_TOKEN_SECRET not set; websocket auth disabled")
	}

	ui := uiws.NewServer(mgr.Store(), reg, signer, logger)
	disp := loop.New(mgr.Lookup, mgr.Store(), reg, logger)
	ui.OnMessage = disp.OnMessage
	ui.OnConnect = func(sessionID string) { disp.OnMessage(sessionID, uiws.Message{Type: loop.MsgHello}) }

	// gRPC server with keepalive for fast death detection
	hs := grpchealth.NewServer()
	gs := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     2 * time.Minute,
			MaxConnectionAge:      15 * time.Minute,
			MaxConnectionAgeGrace: 30 * time.Second,
			Time:                  30 * time.Second,
			Timeout:               10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	healthpb.RegisterHealthServer(gs, hs)
	mon := health.NewMonitor(hs, healthService, logger, health.HistoryCheck(hist), health.EvaluatorCheck(evalCfg))

	h := api.NewHandlers(mgr, signer, ui, mon.Status, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return mon.Run(egCtx, 30*time.Second) })
	eg.Go(func() error { return mgr.Run(egCtx, time.Minute) })
	eg.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "http serve")
		}
		return nil
	})
	eg.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
		if err != nil {
			return errors.Wrap(err, "grpc listen")
		}
		logger.Info().Str("addr", lis.Addr().String()).Msg("grpc health starting")
		return errors.Wrap(gs.Serve(lis), "grpc serve")
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info().Msg("shutdown signal received; draining")
		hs.Shutdown()
		mgr.Close()
		reg.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		gs.GracefulStop()
		return err
	})
	return eg.Wait()
}
