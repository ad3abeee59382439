package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"spectator-recorder/internal/platform/config"
	"spectator-recorder/internal/platform/logger"
	"spectator-recorder/internal/platform/metrics"
	"spectator-recorder/internal/recording"
	"spectator-recorder/internal/spectator"
	"spectator-recorder/internal/storage"
)

const metricsShutdownTimeout = 5 * time.Second

type recordFlags struct {
	sessionID     string
	region        string
	baseURL       string
	platformID    string
	encryptionKey string
	storageDir    string
	storage       string
	completedDir  string
	metricsListen string
	logLevel      string
}

func newRecordCommand(configPath *string) *cobra.Command {
	var f recordFlags

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one session until its final chunk is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			applyRecordFlags(cmd, &cfg, f)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			sessionID := strings.TrimSpace(f.sessionID)
			if sessionID == "" {
				return errors.New("--session-id is required")
			}
			ep, err := resolveEndpoint(cfg.Recorder)
			if err != nil {
				return err
			}
			return runRecord(cmd, cfg, ep, sessionID, f.encryptionKey)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.sessionID, "session-id", "", "Session (game) id to record")
	flags.StringVar(&f.region, "region", "", "Spectator region: "+strings.Join(spectator.Regions(), ", "))
	flags.StringVar(&f.baseURL, "base-url", "", "Custom spectator server base URL")
	flags.StringVar(&f.platformID, "platform-id", "", "Platform id to use with --base-url")
	flags.StringVar(&f.encryptionKey, "encryption-key", "", "Opaque key recorded alongside the snapshot")
	flags.StringVar(&f.storageDir, "storage-dir", "", "Directory for disk (and default sqlite) storage")
	flags.StringVar(&f.storage, "storage", "", "Storage backend: disk, s3 or sqlite")
	flags.StringVar(&f.completedDir, "completed-dir", "", "Directory for finalization snapshots")
	flags.StringVar(&f.metricsListen, "metrics-listen", "", "Address to serve /metrics and /healthz on, e.g. :9090")
	flags.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	return cmd
}

// applyRecordFlags overlays only the flags the user set.
func applyRecordFlags(cmd *cobra.Command, cfg *config.Config, f recordFlags) {
	changed := cmd.Flags().Changed
	if changed("region") {
		cfg.Recorder.Region = f.region
	}
	if changed("base-url") {
		cfg.Recorder.BaseURL = f.baseURL
	}
	if changed("platform-id") {
		cfg.Recorder.PlatformID = f.platformID
	}
	if changed("storage-dir") {
		cfg.Storage.Dir = f.storageDir
	}
	if changed("storage") {
		cfg.Storage.Backend = f.storage
	}
	if changed("completed-dir") {
		cfg.Storage.CompletedDir = f.completedDir
	}
	if changed("metrics-listen") {
		cfg.Metrics.Listen = f.metricsListen
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
}

// resolveEndpoint prefers an explicit base URL over a region lookup.
func resolveEndpoint(r config.Recorder) (spectator.Endpoint, error) {
	if r.BaseURL != "" {
		if r.PlatformID == "" {
			return spectator.Endpoint{}, errors.New("--platform-id is required with --base-url")
		}
		ep := spectator.NewEndpoint(r.BaseURL, r.PlatformID)
		return ep, ep.Validate()
	}
	if r.Region != "" {
		region, err := spectator.ParseRegion(r.Region)
		if err != nil {
			return spectator.Endpoint{}, err
		}
		return region.Endpoint(), nil
	}
	return spectator.Endpoint{}, errors.New("either --region or --base-url with --platform-id is required")
}

func runRecord(cmd *cobra.Command, cfg config.Config, ep spectator.Endpoint, sessionID, encryptionKey string) error {
	runID := uuid.NewString()
	log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := storage.Open(ctx, storage.OptionsFromConfig(cfg), ep.PlatformID, sessionID)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn("close storage failed", slog.String("error", err.Error()))
		}
	}()

	met := metrics.New()
	snapshots := recording.NewFileSnapshotWriter(cfg.Storage.CompletedDir)
	client := spectator.New(
		spectator.WithTimeout(cfg.Recorder.RequestTimeout.Duration),
		spectator.WithUserAgent(cfg.Recorder.UserAgent),
	)

	opts := []recording.ControllerOption{
		recording.WithLogger(log),
		recording.WithMetrics(met),
		recording.WithSnapshotWriter(snapshots),
		recording.WithRetryPolicy(recording.RetryPolicy{
			Interval:    cfg.Recorder.PollRetryInterval.Duration,
			MaxAttempts: cfg.Recorder.PollMaxAttempts,
		}),
		recording.WithPacePadding(cfg.Recorder.PacePadding.Duration),
		recording.WithResume(cfg.Recorder.Resume),
		recording.WithRunID(runID),
		recording.WithEncryptionKey(encryptionKey),
	}
	if cfg.Recorder.BackfillRate > 0 {
		opts = append(opts, recording.WithBackfillLimiter(
			rate.NewLimiter(rate.Limit(cfg.Recorder.BackfillRate), 1)))
	}
	ctrl := recording.NewController(client, opts...)

	log.Info("recording session",
		slog.String("run_id", runID),
		slog.String("endpoint", ep.String()),
		slog.String("session_id", sessionID),
		slog.String("storage", backend.Describe()),
	)

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if cfg.Metrics.Listen != "" {
		srv = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           newMetricsRouter(met, log),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info("metrics listener starting", slog.String("addr", cfg.Metrics.Listen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		err := ctrl.Run(gctx, ep, sessionID, backend)
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}
		return err
	})

	err = g.Wait()
	switch {
	case err == nil:
		log.Info("recording complete",
			slog.String("snapshot", snapshots.Path(ep.PlatformID, sessionID)))
		fmt.Fprintln(cmd.OutOrStdout(), snapshots.Path(ep.PlatformID, sessionID))
		return nil
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		log.Warn("recording interrupted before the final chunk; rerun to resume",
			slog.String("session_id", sessionID))
		return nil
	default:
		return err
	}
}

func newMetricsRouter(met *metrics.Metrics, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Get("/metrics", met.Handler(nil).ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}
