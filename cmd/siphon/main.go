// siphon drains the spectrum coordination topics into the two
// destination stores. Modes:
//
//	siphon init      create the destination databases, then exit
//	siphon run       consume (databases assumed present)
//	siphon init-run  initialize, then consume
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"spectralog/internal/corrstore"
	"spectralog/internal/initdb"
	"spectralog/internal/jsonlog"
	"spectralog/internal/platform/config"
	"spectralog/internal/platform/httpserver"
	"spectralog/internal/platform/kafka/consumer"
	"spectralog/internal/platform/logger"
	"spectralog/internal/platform/metrics"
	"spectralog/internal/siphon"
)

const (
	storeProbeTimeout = 30 * time.Second
	drainTimeout      = 10 * time.Second
)

const usageText = `Usage: siphon [flags] <init|run|init-run>

Modes:
  init      create the destination databases and apply their schemas, then exit
  run       consume the configured topics (databases assumed present)
  init-run  initialize, then consume

Configuration comes from SPECTRALOG_* environment variables.

Flags:
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "siphon: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("siphon", pflag.ContinueOnError)
	envFile := flags.String("env-file", "", "load environment from this file before reading config")
	policyFlag := flags.String("exists-policy", "", "override the configured exists policy (skip|recreate|fail)")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usageText)
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return fmt.Errorf("exactly one mode expected")
	}
	mode := flags.Arg(0)
	switch mode {
	case "init", "run", "init-run":
	default:
		return fmt.Errorf("unknown mode %q: want init, run or init-run", mode)
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", *envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if mode == "init" || mode == "init-run" {
		if err := initialize(ctx, cfg, *policyFlag, log); err != nil {
			return err
		}
		if mode == "init" {
			return nil
		}
	}

	return serve(ctx, cfg, log)
}

// initialize provisions both destination databases under the exists
// policy from the flag override or the configuration.
func initialize(ctx context.Context, cfg *config.Config, policyOverride string, log *slog.Logger) error {
	raw := cfg.Init.Policy
	if policyOverride != "" {
		raw = policyOverride
	}
	policy, err := initdb.ParsePolicy(raw)
	if err != nil {
		return err
	}
	if cfg.Stores.Admin.Host == "" {
		return fmt.Errorf("stores.admin_dsn is required to initialize")
	}

	res, err := initdb.New(cfg.Stores.Admin, log).Initialize(ctx, initdb.Targets{
		EventLog: cfg.Stores.EventLog,
		CorrLog:  cfg.Stores.CorrLog,
	}, policy)
	if err != nil {
		return err
	}
	log.Info("destination databases ready",
		"event_log", res.EventLog,
		"corr_log", res.CorrLog,
		"policy", policy,
	)
	return nil
}

// serve runs the ingestion engine, the lag monitor, and the ops HTTP
// surface until a signal arrives, then drains the in-flight record.
func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	eventsPool, err := pgxpool.New(ctx, cfg.Stores.EventLog.URL())
	if err != nil {
		return fmt.Errorf("open event log pool: %w", err)
	}
	defer eventsPool.Close()
	corrPool, err := pgxpool.New(ctx, cfg.Stores.CorrLog.URL())
	if err != nil {
		return fmt.Errorf("open correlated pool: %w", err)
	}
	defer corrPool.Close()

	events := jsonlog.New(eventsPool, log)
	corr := corrstore.New(corrPool, log)

	// The error relation must exist before the first park; creating it
	// here also proves both stores are reachable before consuming.
	probeCtx, cancel := context.WithTimeout(ctx, storeProbeTimeout)
	err = events.Init(probeCtx)
	if err == nil {
		err = corr.Healthy(probeCtx)
	}
	cancel()
	if err != nil {
		return fmt.Errorf("probe destination stores: %w", err)
	}

	engine, err := siphon.NewEngine(siphon.Config{
		StructuredTopic: cfg.Kafka.StructuredTopic,
		BackoffMin:      cfg.Siphon.BackoffMin,
		BackoffMax:      cfg.Siphon.BackoffMax,
	}, corr, events, m, log)
	if err != nil {
		return err
	}

	cons, err := consumer.New(consumer.Config{
		Brokers:  cfg.Kafka.Brokers,
		Group:    cfg.Kafka.Group,
		Topics:   cfg.Kafka.Topics,
		ClientID: cfg.Kafka.ClientID,
	}, engine, log,
		consumer.WithPollHook(func(int) { m.LastPoll.SetToCurrentTime() }),
		consumer.WithCommitHook(m.Commits.Inc),
	)
	if err != nil {
		return err
	}

	lag := siphon.NewLagMonitor(cons.Client(), cfg.Kafka.Group, cfg.Kafka.Topics,
		cfg.Siphon.LagInterval, m.ConsumerLag, log)

	router := siphon.NewOpsRouter(map[string]siphon.HealthChecker{
		"event_log": events,
		"corr_log":  corr,
	}, log)
	srv := httpserver.New(cfg.HTTP.Addr, router)

	log.Info("siphon running",
		"brokers", cfg.Kafka.Brokers,
		"group", cfg.Kafka.Group,
		"topics", cfg.Kafka.Topics,
		"structured_topic", cfg.Kafka.StructuredTopic,
		"http", cfg.HTTP.Addr,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cons.Run(ctx) })
	g.Go(func() error { return lag.Run(ctx) })
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("siphon stopped")
	return nil
}
