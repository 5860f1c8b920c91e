package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/trade-ingest/internal/app"
	"github.com/joseph-ayodele/trade-ingest/internal/async"
	"github.com/joseph-ayodele/trade-ingest/internal/common"
	repo "github.com/joseph-ayodele/trade-ingest/internal/repository"
	"github.com/joseph-ayodele/trade-ingest/internal/server"
)

func main() {
	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := repo.Open(ctx, repo.Config{
		Driver:           cfg.Database.Driver,
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close(logger)

	if err := store.HealthCheck(ctx, 5*time.Second, logger); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if err := repo.Migrate(store, logger); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	a := app.New(cfg, store, logger)
	queue := async.NewProcessorQueue(a.Coordinator, logger,
		async.WithWorkers(cfg.Pipeline.Workers),
		async.WithQueueSize(cfg.Pipeline.QueueSize),
		async.WithProcessTimeout(cfg.Pipeline.BatchTimeout),
	)
	a.Coordinator.SetDispatcher(queue)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.Ledger.RunSweeper(sweepCtx, cfg.Ledger.SweepInterval)

	auth := server.NewAuthenticator(cfg.Auth.JWTSecret)

	var grpcServer *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
			os.Exit(1)
		}
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(server.AuthInterceptor(auth, logger)))
		server.RegisterIngestionServer(grpcServer, server.NewIngestionService(a.Coordinator, logger))

		healthServer := health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		reflection.Register(grpcServer)

		logger.Info("grpc.listening", "addr", cfg.Server.GRPCAddr)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("grpc.serve.failed", "error", err)
				stop()
			}
		}()
	}

	var httpServer *http.Server
	if cfg.Server.HTTPAddr != "" {
		api := server.NewHTTPServer(a.Coordinator, a.Exporter, auth, server.HTTPConfig{
			UploadRatePerMin:  cfg.Server.UploadRate,
			MaxImageBytes:     cfg.Pipeline.MaxImageBytes,
			MaxImagesPerBatch: cfg.Pipeline.MaxImagesPerBatch,
			Health: func(ctx context.Context) error {
				return store.HealthCheck(ctx, 2*time.Second, logger)
			},
		}, logger)
		httpServer = &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           api.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		logger.Info("http.listening", "addr", cfg.Server.HTTPAddr)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http.serve.failed", "error", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("tradeingestd.shutdown.start")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http.shutdown.failed", "error", err)
		}
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	// drain accepted batches so their reservations settle before the store closes
	queue.Shutdown(shutdownCtx)
	stopSweep()
	logger.Info("tradeingestd.shutdown.done")
}
