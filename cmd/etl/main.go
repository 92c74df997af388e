package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/couchcryptid/epiweek-climate-etl/internal/adapter/aoi"
	"github.com/couchcryptid/epiweek-climate-etl/internal/adapter/archive"
	"github.com/couchcryptid/epiweek-climate-etl/internal/adapter/geoapi"
	"github.com/couchcryptid/epiweek-climate-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/epiweek-climate-etl/internal/adapter/kafka"
	"github.com/couchcryptid/epiweek-climate-etl/internal/adapter/sheet"
	"github.com/couchcryptid/epiweek-climate-etl/internal/config"
	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
	"github.com/couchcryptid/epiweek-climate-etl/internal/observability"
	"github.com/couchcryptid/epiweek-climate-etl/internal/pipeline"
)

// CHIRPS daily precipitation is archived as hundredths of a millimetre.
const chirpsStorageScale = 0.01

func main() {
	// A .env file in the working directory is optional; real env vars win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to read .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, metrics); err != nil {
		logger.Error("run failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	weeks, err := sheet.ReadWeeks(cfg.WeeksFile)
	if err != nil {
		return fmt.Errorf("load weeks: %w", err)
	}
	windows, err := domain.BuildWindows(weeks)
	if err != nil {
		return fmt.Errorf("build windows: %w", err)
	}
	polygons, err := aoi.Load(cfg.AOIFile)
	if err != nil {
		return fmt.Errorf("load aoi: %w", err)
	}
	logger.Info("inputs loaded",
		"weeks_file", cfg.WeeksFile,
		"windows", len(windows),
		"aoi_file", cfg.AOIFile,
		"polygons", len(polygons),
	)

	source, reducer, err := newBackend(cfg, logger, metrics)
	if err != nil {
		return err
	}

	writer, err := sheet.NewWriter(cfg.OutputFile, logger, metrics)
	if err != nil {
		return err
	}
	loaders := []pipeline.Loader{writer}
	if cfg.KafkaEnabled {
		publisher := kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger, metrics)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		loaders = append(loaders, publisher)
		logger.Info("kafka publishing enabled", "topic", cfg.KafkaTopic)
	}

	retry := pipeline.RetryPolicy{
		MaxAttempts:    cfg.BackendMaxAttempts,
		InitialBackoff: cfg.BackendBackoffInitial,
		MaxBackoff:     cfg.BackendBackoffMax,
		Timeout:        cfg.BackendTimeout,
	}
	p := pipeline.New(source, reducer, loaders, logger, metrics, retry)

	if cfg.MetricsEnabled {
		srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, prometheus.DefaultGatherer, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
		}()
	}

	_, err = p.Run(ctx, pipeline.Job{
		Product:    cfg.Product,
		Windows:    windows,
		Polygons:   polygons,
		Statistics: cfg.Statistics,
		Resolution: cfg.Resolution,
	})
	if err != nil {
		return err
	}
	logger.Info("output written", "path", cfg.OutputFile)
	return nil
}

func newBackend(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (pipeline.ObservationSource, pipeline.ZonalReducer, error) {
	switch cfg.Backend {
	case config.BackendRemote:
		client := geoapi.NewClient(cfg.GeoAPIURL, cfg.GeoAPIToken, cfg.BackendTimeout, logger)
		logger.Info("using remote backend", "url", cfg.GeoAPIURL)
		return client, client, nil
	default:
		opts := []archive.Option{
			archive.WithCacheSize(cfg.ArchiveCacheSize),
			archive.WithBandScale("precipitation", chirpsStorageScale),
			archive.WithMetrics(metrics),
		}
		if cfg.ArchiveNoData != nil {
			opts = append(opts, archive.WithNoData(*cfg.ArchiveNoData))
		}
		store, err := archive.New(os.DirFS(cfg.ArchiveDir), logger, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("open archive: %w", err)
		}
		logger.Info("using archive backend", "dir", cfg.ArchiveDir, "cache_size", cfg.ArchiveCacheSize)
		return store, store, nil
	}
}
