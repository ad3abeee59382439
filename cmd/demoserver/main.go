package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"spectator-recorder/internal/platform/config"
	"spectator-recorder/internal/platform/logger"
	"spectator-recorder/internal/platform/metrics"
	"spectator-recorder/internal/replay"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.LoadEnv()

	port := config.GetEnv("PORT", "8080")
	seedDir := config.GetEnv("DEMO_SEED_DIR", "")
	seedEnded := config.GetEnvBool("DEMO_SEED_ENDED", true)
	chunkInterval := config.GetEnvDuration("DEMO_CHUNK_INTERVAL", replay.DefaultChunkInterval)
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	repo := replay.NewInMemoryRepository()
	svc := replay.NewService(repo, chunkInterval)
	met := metrics.New()
	h := replay.NewHandler(svc, log, met)

	if seedDir != "" {
		keys, err := svc.SeedDir(context.Background(), seedDir, seedEnded)
		if err != nil {
			log.Error("seed recordings failed", "dir", seedDir, "error", err)
			os.Exit(1)
		}
		for _, key := range keys {
			log.Info("seeded session", "session", key.String(), "ended", seedEnded)
		}
	}

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(repo.ActiveSessionCount()) }).ServeHTTP(w, r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h.Mount(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("demo spectator server starting",
		"port", port,
		"chunk_interval", chunkInterval.String(),
		"seed_dir", seedDir,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
