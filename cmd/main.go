package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tarot-live/auth"
	"tarot-live/directory"
	"tarot-live/moderation"
	"tarot-live/repositories"
	"tarot-live/runtime"
	"tarot-live/runtime/workers"
	"tarot-live/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting. This pattern is preferred over calling
// os.Exit or panic directly because:
//  1. It ensures all 'defer' statements (like database cleanup) are executed
//     before the program exits.
//  2. It improves testability by decoupling the initialization logic from
//     the main entry point.
//  3. It provides a structured way to handle graceful shutdowns for the
//     transport and background workers.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB, the coordinator's best-effort copy)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Content masking
	var masker *moderation.Masker
	if config.EnableModeration {
		maskChar, err := maskRune(config.MaskCharacter)
		if err != nil {
			return err
		}
		blacklist, err := moderation.LoadBlacklist()
		if err != nil {
			return fmt.Errorf("blacklist loading failed: %w", err)
		}
		log.Info(fmt.Sprintf("%d blacklisted words loaded [%v]",
			len(blacklist.Words), blacklist.Languages))
		masker, err = moderation.NewMasker(blacklist.Words, maskChar)
		if err != nil {
			return fmt.Errorf("masker build failed: %w", err)
		}
	}

	// 4. External collaborators & coordinator
	verifier := auth.NewJWTVerifier(config.AuthSecret)
	sessionDirectory := directory.NewHTTPDirectory(
		config.DirectoryBaseURL, config.DirectoryToken, config.UpstreamTimeout, log)
	store := repositories.NewBadgerStore(db, log)
	supervisor := workers.NewSupervisor(log, config.RestartInterval)

	coordinator := runtime.NewCoordinator(log, supervisor, verifier, sessionDirectory, store, masker,
		runtime.Options{
			BufferSize:       config.BufferSize,
			SinkTimeout:      config.SinkTimeout,
			UpstreamTimeout:  config.UpstreamTimeout,
			HeartbeatTimeout: config.HeartbeatTimeout,
			SweepInterval:    config.SweepInterval,
			TypingTTL:        config.TypingTTL,
			PersistQueueSize: config.PersistQueueSize,
			PersistAttempts:  config.PersistAttempts,
			PersistBackoff:   config.PersistBackoff,
		})

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coordinator.Start(ctx)

	// 6. gRPC health endpoint for infra probes
	healthAddr := fmt.Sprintf("%s:%d", config.Host, config.HealthGrpcPort)
	healthListener, err := net.Listen("tcp", healthAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", healthAddr, err)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	go func() {
		log.Info("Starting gRPC health server", "address", healthAddr)
		if err := grpcServer.Serve(healthListener); err != nil && err != grpc.ErrServerStopped {
			log.Error("gRPC health server error", "error", err)
		}
	}()

	// 7. Transport server
	transport := server.New(log, coordinator, config.ConnectionBufferSize)
	errChan := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
		errChan <- transport.ListenAndServe(addr)
	}()

	// 8. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 9. Final Cleanup
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	grpcServer.GracefulStop()
	coordinator.Stop()
	log.Info("Program stopped cleanly")

	return nil
}

func maskRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf("MASK_CHARACTER must be a single character, got %q", str)
	}
	return r[0], nil
}
