// Command billingd runs the subscription billing engine: the Paddle webhook
// ingress, the expiry sweeper, and health probes, over PostgreSQL with domain
// events fanned out through Redis.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/crewtube/billing/pkg/billing"
	"github.com/crewtube/billing/pkg/billing/pgstore"
	"github.com/crewtube/billing/pkg/config"
	"github.com/crewtube/billing/pkg/events"
	"github.com/crewtube/billing/pkg/logger"
	"github.com/crewtube/billing/pkg/pg"
	"github.com/crewtube/billing/pkg/redis"
)

type appConfig struct {
	Env             string        `env:"APP_ENV" envDefault:"development"`
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	EventsChannel   string        `env:"BILLING_EVENTS_CHANNEL"`

	Billing billing.Config
	Paddle  billing.PaddleConfig
	PG      pg.Config
	Redis   redis.Config
}

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(logger.WithEnvironment(cfg.Env, "billingd"))

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("billingd exited", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg appConfig, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.PG, log); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	publisher, err := events.NewRedisPublisher(rdb, cfg.EventsChannel)
	if err != nil {
		return err
	}

	svc := billing.NewService(pgstore.New(pool), cfg.Billing,
		billing.WithLogger(log),
		billing.WithPublisher(publisher),
	)
	sweeper := billing.NewSweeper(svc)

	ingress, err := billing.NewPaddleIngress(cfg.Paddle)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Get("/health", healthHandler(pg.Healthcheck(pool), redis.Healthcheck(rdb)))
	r.Mount("/", billing.Router(svc, ingress, log))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sweeper.Run(ctx)
	})

	g.Go(func() error {
		log.InfoContext(ctx, "http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// healthHandler reports 200 only when every probe answers.
func healthHandler(probes ...func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, probe := range probes {
			if err := probe(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
