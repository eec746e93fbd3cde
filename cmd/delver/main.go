// Command delver serves the research API. With the "worker" argument it runs
// a Temporal worker instead.
//
// Configuration is environment driven:
//
//	DELVER_ADDR    listen address for the HTTP API (default :8080)
//	DELVER_DB      SQLite database path (default delver.db)
//	DELVER_BROKER  "local" or "nats" (default local)
//	DELVER_RUNNER  "local" or "temporal" (default local)
//	SEARX_URL      base URL of a SearxNG instance; unset uses simulated search
//	OPENAI_MODEL   model name for the planner and reasoner (default gpt-4o-mini)
//	NATS_URL       NATS server URL when DELVER_BROKER=nats
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

	_ "github.com/joho/godotenv/autoload"

	"github.com/casualjim/delver/api"
	"github.com/casualjim/delver/internal/broker"
	"github.com/casualjim/delver/pkg/natsx"
	"github.com/casualjim/delver/pkg/slogx"
	"github.com/casualjim/delver/pkg/tprl"
	"github.com/casualjim/delver/planner"
	"github.com/casualjim/delver/provider/models"
	"github.com/casualjim/delver/provider/openai"
	"github.com/casualjim/delver/reason"
	"github.com/casualjim/delver/runner"
	"github.com/casualjim/delver/search"
	"github.com/casualjim/delver/server"
	"github.com/casualjim/delver/store"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log = zerolog.New(output).With().Timestamp().Logger()
	level := slog.LevelInfo
	if os.Getenv("DELVER_DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: level}),
	))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := serveE
	if len(os.Args) > 1 && os.Args[1] == "worker" {
		run = workerE
	}

	if err := run(ctx); err != nil {
		slog.Error("delver exited", slogx.Error(err))
		os.Exit(1)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newStore() (store.Store, error) {
	return store.Sqlite(envOrDefault("DELVER_DB", "delver.db"))
}

func newBroker() (broker.Broker, error) {
	switch name := envOrDefault("DELVER_BROKER", "local"); name {
	case "local":
		return broker.Local(), nil
	case "nats":
		nc, err := natsx.NewClient()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		return broker.NATS(nc), nil
	default:
		return nil, fmt.Errorf("unknown broker %q", name)
	}
}

func newSearcher() (search.Searcher, error) {
	if base := os.Getenv("SEARX_URL"); base != "" {
		return search.Searx(base)
	}
	slog.Warn("SEARX_URL is not set, using simulated search results")
	return search.Simulated(), nil
}

func newModel() (api.Model, func()) {
	name := envOrDefault("OPENAI_MODEL", "gpt-4o-mini")
	model := openai.Model(name)
	// Registered so Temporal workers can rehydrate agents by model name.
	models.Add(model)
	return model, func() { models.Del(name) }
}

func serveE(ctx context.Context) error {
	st, err := newStore()
	if err != nil {
		return err
	}
	defer st.Close()

	br, err := newBroker()
	if err != nil {
		return err
	}

	searcher, err := newSearcher()
	if err != nil {
		return err
	}

	model, unregister := newModel()
	defer unregister()

	var rn runner.Runner
	switch name := envOrDefault("DELVER_RUNNER", "local"); name {
	case "local":
		rn, err = runner.NewLocal(
			runner.Store(st),
			runner.Broker(br),
			runner.Planner(planner.New(planner.Agent(model))),
			runner.Searcher(searcher),
			runner.Reasoner(reason.New(reason.Agent(model))),
		)
		if err != nil {
			return err
		}
	case "temporal":
		tp, err := tprl.NewClient()
		if err != nil {
			return fmt.Errorf("failed to create temporal client: %w", err)
		}
		defer tp.Close()
		rn = runner.NewTemporalProxy(tp, br, planner.Agent(model), reason.Agent(model))
	default:
		return fmt.Errorf("unknown runner %q", name)
	}

	addr := envOrDefault("DELVER_ADDR", ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(st, br, rn).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		slog.Info("delver api listening", slog.String("addr", addr))
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func workerE(ctx context.Context) error {
	st, err := newStore()
	if err != nil {
		return err
	}
	defer st.Close()

	br, err := newBroker()
	if err != nil {
		return err
	}

	searcher, err := newSearcher()
	if err != nil {
		return err
	}

	_, unregister := newModel()
	defer unregister()

	tp, err := tprl.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create temporal client: %w", err)
	}
	defer tp.Close()

	w := runner.NewWorker(tp, st, br, searcher)
	slog.Info("delver worker listening", slog.String("task_queue", runner.TaskQueue))

	errs := make(chan error, 1)
	go func() { errs <- w.Run(nil) }()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		w.Stop()
		return nil
	}
}
