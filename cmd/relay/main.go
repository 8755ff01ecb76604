package main

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/mailer"
	"chat-relay/notification"
	"chat-relay/queue"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/transport/ws"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and owns the process lifecycle, so deferred
// cleanups always execute before exit.
func run() error {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messages := repositories.NewMessageRepository(db, log, config.HistoryLimit)
	records := repositories.NewNotificationRepository(db, log)
	checks := repositories.NewCheckRepository(db, log)

	limiter, closeLimiter, err := newRateLimiter(ctx, log, config, db)
	if err != nil {
		return err
	}
	defer closeLimiter()

	// Notification pipeline: broker -> consumer -> dispatcher -> mailer
	smtp := mailer.NewSMTP(log, config.SMTPHost, config.SMTPPort, config.SMTPUser, config.SMTPPassword, config.SMTPFrom)
	dispatcher := notification.NewDispatcher(log, records, smtp, limiter)
	topology := queue.Topology{Exchange: config.AMQPExchange, Queue: config.AMQPQueue}
	broker := queue.NewBroker(log, config.AMQPURL, topology, nil)
	publisher := queue.NewPublisher(log, broker, topology.Exchange)
	consumer := queue.NewConsumer(log, broker, topology, notification.NewHandler(log, dispatcher), config.AMQPRequeueDelay)
	monitor := notification.NewMonitor(log, messages, checks, publisher, config.GracePeriod)

	// Realtime side
	coordinator := runtime.NewCoordinator(log, messages, monitor, config.MaxContentLength)
	var verifier ws.TokenVerifier
	if config.JWTSecret != "" {
		verifier = auth.NewTokenVerifier(config.JWTSecret)
	} else {
		log.Warn("JWT_SECRET is empty, websocket handshakes are not authenticated")
	}
	realtime := ws.NewServer(log, coordinator, verifier, config.ConnectionBufferSize).
		WithMaxFrameSize(maxFrameSize(config.MaxContentLength)).
		WithHealthCheck("broker", broker.Available)

	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(
		broker,
		consumer,
		workers.NewDeferredSweepWorker(log, monitor, config.SweepInterval),
		workers.NewSamplerWorker(log, samples(monitor, realtime, limiter), config.SampleInterval),
	)
	supervisorDone := make(chan struct{})
	go func() {
		defer close(supervisorDone)
		sup.Run(ctx)
	}()

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{
		Addr:              address,
		Handler:           realtime.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting relay", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		stop()
		shutdown(log, monitor, realtime, coordinator, httpServer)
		<-supervisorDone
		return err
	}

	shutdown(log, monitor, realtime, coordinator, httpServer)
	<-supervisorDone
	log.Info("Program stopped cleanly")
	return nil
}

// shutdown stops intake first; pending checks stay persisted for the next start.
func shutdown(log *slog.Logger, monitor *notification.Monitor, realtime *ws.Server, coordinator *runtime.Coordinator, httpServer *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	realtime.Close()
	coordinator.Close()
	monitor.Stop()
	monitor.Wait()
}

// newRateLimiter shares the window through redis when configured, otherwise
// keeps it in process and persists it to badger.
func newRateLimiter(ctx context.Context, log *slog.Logger, config Config, db *badger.DB) (contract.RateLimiter, func(), error) {
	if config.RateLimitRedisURL != "" {
		limiter, err := notification.NewRedisRateLimiter(config.RateLimitRedisURL, log, config.RateLimitCap, config.RateLimitWindow)
		if err != nil {
			return nil, nil, fmt.Errorf("rate limiter: %w", err)
		}
		return limiter, func() { _ = limiter.Close() }, nil
	}
	limiter, err := notification.NewRateLimiter(ctx, log, repositories.NewWindowRepository(db), config.RateLimitCap, config.RateLimitWindow)
	if err != nil {
		return nil, nil, fmt.Errorf("rate limiter: %w", err)
	}
	return limiter, func() {}, nil
}

func samples(monitor *notification.Monitor, realtime *ws.Server, limiter contract.RateLimiter) []workers.Sample {
	return []workers.Sample{
		{Name: "deferred_checks_armed", Read: func(context.Context) (float64, error) {
			return float64(monitor.Pending()), nil
		}},
		{Name: "websocket_connections", Read: func(context.Context) (float64, error) {
			return float64(realtime.ConnectionCount()), nil
		}},
		{Name: "rate_limit_remaining", Read: func(ctx context.Context) (float64, error) {
			status, err := limiter.Status(ctx)
			return float64(status.Remaining), err
		}},
	}
}

// maxFrameSize leaves room for 4-byte runes and the envelope around the content.
func maxFrameSize(maxContentLength int) int64 {
	return int64(4*maxContentLength + 4096)
}
