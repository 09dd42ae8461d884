package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"emberhall.gg/internal/gate"
	"emberhall.gg/internal/persistence/eventlog"
	"emberhall.gg/internal/persistence/store"
	"emberhall.gg/internal/session"
	"emberhall.gg/internal/sim/skirmish"
	"emberhall.gg/internal/transport/ws"
	"emberhall.gg/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", "", "http listen address (overrides tuning)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides tuning)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		debug      = flag.Bool("debug", false, "debug log level")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info().Str("path", *tuningPath).Msg("tuning not found, using defaults")
			tune = tuning.Defaults()
		} else {
			logger.Fatal().Err(err).Msg("load tuning")
		}
	}
	if strings.TrimSpace(*addr) != "" {
		tune.ListenAddr = *addr
	}
	if strings.TrimSpace(*dataDir) != "" {
		tune.DataDir = *dataDir
	}

	db, err := store.OpenSQLite(filepath.Join(tune.DataDir, "sessions.db"), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer db.Close()

	archive := eventlog.New(filepath.Join(tune.DataDir, "archive"))

	registry := session.NewRegistry(logger, session.SystemClock, skirmish.New(), db, archive, session.ActorConfig{
		DisconnectGrace: time.Duration(tune.DisconnectGraceSeconds) * time.Second,
		CheckpointEvery: tune.CheckpointEveryActions,
	})

	limiter := gate.NewRateLimiter(time.Now, map[gate.Category]gate.Limit{
		gate.CategoryAction:     {Window: time.Duration(tune.RateLimits.ActionWindowSeconds) * time.Second, Max: tune.RateLimits.ActionMax},
		gate.CategoryChat:       {Window: time.Duration(tune.RateLimits.ChatWindowSeconds) * time.Second, Max: tune.RateLimits.ChatMax},
		gate.CategoryPrivileged: {Window: time.Duration(tune.RateLimits.PrivilegedWindowSeconds) * time.Second, Max: tune.RateLimits.PrivilegedMax},
	})

	g := gate.New(logger, registry, gate.NewTokenIdentity(), limiter, time.Now)

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		sessions, maxDepth := registry.Stats()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP emberhall_sessions Active sessions in the registry.\n")
		fmt.Fprintf(rw, "# TYPE emberhall_sessions gauge\n")
		fmt.Fprintf(rw, "emberhall_sessions %d\n", sessions)

		fmt.Fprintf(rw, "# HELP emberhall_actor_queue_depth_max Deepest actor inbox backlog.\n")
		fmt.Fprintf(rw, "# TYPE emberhall_actor_queue_depth_max gauge\n")
		fmt.Fprintf(rw, "emberhall_actor_queue_depth_max %d\n", maxDepth)

		fmt.Fprintf(rw, "# HELP emberhall_store_dropped_writes_total Durability writes dropped to backpressure.\n")
		fmt.Fprintf(rw, "# TYPE emberhall_store_dropped_writes_total counter\n")
		fmt.Fprintf(rw, "emberhall_store_dropped_writes_total %d\n", db.Dropped())
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(g, logger).Handler())

	srv := &http.Server{
		Addr:              tune.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
		registry.Close(5 * time.Second)
	}()

	logger.Info().Str("addr", tune.ListenAddr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("listen")
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
