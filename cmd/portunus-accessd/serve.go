package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/PRsofteng/start-control-access/internal/clock"
	"github.com/PRsofteng/start-control-access/internal/db"
	"github.com/PRsofteng/start-control-access/internal/events"
	"github.com/PRsofteng/start-control-access/internal/grpcapi"
	"github.com/PRsofteng/start-control-access/internal/httpapi"
	"github.com/PRsofteng/start-control-access/internal/portunus/door"
	"github.com/PRsofteng/start-control-access/internal/portunus/service"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the access service (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(parent context.Context, opts *rootOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, logger := opts.cfg, opts.logger

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	clk := clock.Real()
	dir := service.NewDirectory(st.directory, clk, logger)

	if err := importBootRoster(ctx, opts, dir); err != nil {
		return err
	}

	// Notifications
	var sink events.Sink
	if cfg.NATSURL != "" {
		nc, err := events.NewNATSPublisher(cfg.NATSURL, logger)
		if err != nil {
			// The door keeps working without the bus.
			logger.Error("nats unavailable, forwarding disabled", "url", cfg.NATSURL, "err", err)
		} else {
			defer nc.Close()
			sink = nc
		}
	}
	hub := events.NewHub(events.HubConfig{Sink: sink, Logger: logger})
	defer hub.Close()

	// Door and coordinator
	machine := door.NewMachine(door.Config{
		Clock: clk,
		Timing: door.Timing{
			OpenLatency:  cfg.OpenLatency,
			Hold:         cfg.HoldDuration,
			CloseLatency: cfg.CloseLatency,
		},
		Actuator: door.NewLogActuator(logger),
		Logger:   logger,
		Notify:   hub.PublishDoorTransition,
	})
	coord := service.NewCoordinator(service.CoordinatorConfig{
		Verifier:      service.NewVerifier(dir, logger),
		Directory:     dir,
		Door:          machine,
		Events:        st.events,
		Ledger:        service.NewLedger(),
		Publisher:     hub,
		Clock:         clk,
		Logger:        logger,
		AppendRetries: cfg.AppendRetries,
		RetryBackoff:  cfg.RetryBackoff,
		Location:      cfg.Location,
	})
	if err := coord.Recover(ctx); err != nil {
		return fmt.Errorf("recover occupancy: %w", err)
	}

	sweeper := service.NewOccupancySweeper(coord, service.SweeperConfig{
		MaxDwell: time.Duration(cfg.MaxDwellHours) * time.Hour,
		Interval: time.Duration(cfg.SweepIntervalMinutes) * time.Minute,
	}, clk, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// Transports
	errCh := make(chan error, 2)

	httpSrv := httpapi.NewServer(httpapi.Dependencies{
		Logger:      logger,
		Addr:        cfg.HTTPAddr,
		Coordinator: coord,
		Directory:   dir,
		Hub:         hub,
		RateLimit:   rate.Limit(cfg.RateLimitPerSecond),
		RateBurst:   cfg.RateBurst,
	})
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr, "env", cfg.Env, "store", cfg.Store)
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcSrv *grpcapi.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", cfg.GRPCAddr, err)
		}
		grpcSrv = grpcapi.NewServer(grpcapi.Dependencies{Logger: logger, Coordinator: coord, Hub: hub})
		go func() {
			logger.Info("grpc listening", "addr", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		logger.Error("server error", "err", err)
	}

	// Live streams end first so draining does not wait on them.
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shErr := httpSrv.Shutdown(shutdownCtx); shErr != nil {
		logger.Warn("http shutdown", "err", shErr)
	}
	if grpcSrv != nil {
		grpcSrv.Stop(shutdownCtx)
	}
	return err
}

// importBootRoster loads PORTUNUS_ROSTER_PATH when set, and the built-in
// development roster in dev.
func importBootRoster(ctx context.Context, opts *rootOptions, dir *service.Directory) error {
	cfg, logger := opts.cfg, opts.logger

	if cfg.RosterPath != "" {
		r, err := db.LoadRoster(cfg.RosterPath)
		if err != nil {
			return err
		}
		if _, err := dir.ImportRoster(ctx, r); err != nil {
			return fmt.Errorf("import roster %s: %w", cfg.RosterPath, err)
		}
	}

	if cfg.Env == "dev" {
		if _, err := dir.ImportRoster(ctx, db.DevRoster(time.Now())); err != nil {
			return fmt.Errorf("import dev roster: %w", err)
		}
		logger.Info("dev roster loaded")
	}
	return nil
}
