package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/note2tex/internal/app"
	"github.com/joseph-ayodele/note2tex/internal/common"
	"github.com/joseph-ayodele/note2tex/internal/ingest"
)

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stdout, cfg.Server.LogFormat, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	addr := cfg.Server.GRPCAddr
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.StartWorkers(); err != nil {
		logger.Error("failed to start workers", "error", err)
		os.Exit(1)
	}

	if cfg.Inbox.Dir != "" {
		userID, err := uuid.Parse(cfg.Inbox.UserID)
		if err != nil {
			logger.Error("INBOX_USER_ID must be a UUID", "value", cfg.Inbox.UserID, "error", err)
			os.Exit(1)
		}
		inbox := ingest.NewInbox(cfg.Inbox.Dir, userID, cfg.Inbox.Debounce, a.Service, logger)
		go func() {
			if err := inbox.Run(ctx); err != nil {
				logger.Error("inbox stopped", "error", err)
			}
		}()
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", addr, "error", err)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	// empty service name means overall server health
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	logger.Info("note2texd listening", "addr", addr, "workers", cfg.Worker.Workers, "storage", cfg.Storage.Backend)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC serve error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	a.Shutdown()
	grpcServer.GracefulStop()
}
