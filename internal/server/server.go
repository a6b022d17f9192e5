package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/yigit/clubchat/internal/app/services"
	"github.com/yigit/clubchat/internal/bootstrap"
	"github.com/yigit/clubchat/internal/config"
	"github.com/yigit/clubchat/internal/pkg/clock"
	"github.com/yigit/clubchat/internal/pkg/helpers"
	"github.com/yigit/clubchat/internal/pkg/logger"
	"github.com/yigit/clubchat/internal/pkg/telemetry"
)

// Options locate the configuration of the server
type Options struct {
	ConfigPath string
	EnvFile    string
}

// Server holds the state for the HTTP server.
type Server struct {
	config    *config.Config
	infra     *bootstrap.Infrastructure
	deps      *bootstrap.Dependencies
	clock     clock.Clock
	logger    zerolog.Logger
	http      *http.Server
	telemetry telemetry.ShutdownFunc

	// cancel stops the hub and the sweeper
	cancel context.CancelFunc
}

// NewServer creates and initializes a new server instance by calling bootstrap functions.
func NewServer(ctx context.Context, opts Options) (*Server, error) {
	cfg, lgr, err := bootstrap.LoadConfigAndSetupLogger(opts.ConfigPath, opts.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config or setup logger: %w", err)
	}

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Telemetry.Environment,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup telemetry: %w", err)
	}

	infra, err := bootstrap.SetupInfrastructure(ctx, cfg, lgr)
	if err != nil {
		_ = shutdownTelemetry(ctx)
		return nil, err
	}

	clk := clock.Real()
	deps := bootstrap.BuildDependencies(cfg, infra, clk, lgr)
	router := bootstrap.SetupRouter(cfg, deps, infra.Metrics, lgr)

	s := &Server{
		config:    cfg,
		infra:     infra,
		deps:      deps,
		clock:     clk,
		logger:    lgr,
		telemetry: shutdownTelemetry,
		http: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      otelhttp.NewHandler(router, "http.server"),
			ReadTimeout:  helpers.ParseDuration(cfg.Server.ReadTimeout, 10*time.Second),
			WriteTimeout: helpers.ParseDuration(cfg.Server.WriteTimeout, 30*time.Second),
			IdleTimeout:  120 * time.Second,
		},
	}

	return s, nil
}

// Run starts the HTTP server and handles graceful shutdown.
func (s *Server) Run() error {
	bgCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.infra.Hub.Run(bgCtx)

	// Re-arm the expiry timers lost by the previous process
	recoverCtx, recoverCancel := context.WithTimeout(bgCtx, time.Minute)
	if _, err := s.deps.Expirer.Recover(recoverCtx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to recover ephemeral expiry timers")
	}
	recoverCancel()

	go services.RunSweeper(
		bgCtx,
		s.deps.Expirer,
		s.clock,
		helpers.ParseDuration(s.config.Chat.SweepInterval, time.Minute),
		logger.Component("sweeper"),
	)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("HTTP server listening")
		serverErrors <- s.http.ListenAndServe()
	}()

	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("error starting server: %w", err)
		}
	case sig := <-osSignals:
		s.logger.Info().Str("signal", sig.String()).Msg("Received OS signal, initiating shutdown...")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully stops the server and closes resources. In-flight
// fan-out finishes before the connections it needs are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var errs []error

	if s.http != nil {
		s.logger.Info().Msg("Shutting down HTTP server...")
		if err := s.http.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("HTTP server shutdown error")
			errs = append(errs, err)
		} else {
			s.logger.Info().Msg("HTTP server gracefully stopped.")
		}
	}

	s.deps.Expirer.Stop()
	s.deps.Background.Close()

	if s.cancel != nil {
		s.cancel()
	}

	s.infra.Close(s.logger)

	if s.telemetry != nil {
		if err := s.telemetry(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Telemetry shutdown error")
			errs = append(errs, err)
		}
	}

	s.logger.Info().Msg("Server shutdown process complete.")
	if len(errs) > 0 {
		return fmt.Errorf("server shutdown completed with errors: %w", errors.Join(errs...))
	}
	return nil
}
