package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PulseBoard/internal/usecase"
	xhttp "PulseBoard/pkg/http"
	pkgkafka "PulseBoard/pkg/kafka"
	applogger "PulseBoard/pkg/logger"
)

type closer struct {
	name string
	fn   func() error
}

// App owns the process lifecycle: the tick coordinator, the HTTP server, the
// optional Kafka consumer and every infrastructure client that needs closing.
type App struct {
	log             *applogger.Logger
	httpServer      *xhttp.Server
	coordinator     *usecase.Coordinator
	broadcaster     *usecase.Broadcaster
	consumer        *pkgkafka.Consumer
	handlers        []pkgkafka.MessageHandler
	closers         []closer
	shutdownTimeout time.Duration
}

func New(
	log *applogger.Logger,
	httpServer *xhttp.Server,
	coordinator *usecase.Coordinator,
	broadcaster *usecase.Broadcaster,
	shutdownTimeout time.Duration,
) *App {
	if log == nil {
		log = applogger.Nop()
	}
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	return &App{
		log:             log.Named("app"),
		httpServer:      httpServer,
		coordinator:     coordinator,
		broadcaster:     broadcaster,
		shutdownTimeout: shutdownTimeout,
	}
}

// SetConsumer attaches a Kafka consumer and the handlers it should serve.
// A nil consumer is ignored.
func (a *App) SetConsumer(c *pkgkafka.Consumer, handlers ...pkgkafka.MessageHandler) {
	if c == nil {
		return
	}
	a.consumer = c
	a.handlers = handlers
}

// OnShutdown registers fn to run during shutdown. Closers run in reverse
// registration order after the server and consumer have stopped.
func (a *App) OnShutdown(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Run starts the application and blocks until SIGINT/SIGTERM or a listener
// failure, then shuts down.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-a.httpServer.Err():
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Shutdown(shutdownCtx))
}

// Start launches the consumer, the coordinator and the HTTP listener.
func (a *App) Start(ctx context.Context) error {
	if a.consumer != nil {
		for _, h := range a.handlers {
			a.consumer.RegisterHandler(h)
		}
		if err := a.consumer.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		topics := make([]string, 0, len(a.handlers))
		for _, h := range a.handlers {
			topics = append(topics, h.Topic())
		}
		a.log.Info("kafka consumer started", applogger.Strings("topics", topics))
	}

	a.coordinator.Start(ctx)

	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops producers of work first, then live connections, then the
// listener, and finally closes infrastructure clients.
func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info("shutting down")
	var errs []error

	a.coordinator.Stop()
	a.broadcaster.Close()

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown", applogger.Error(err))
		errs = append(errs, err)
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.log.Warn("close "+c.name, applogger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
