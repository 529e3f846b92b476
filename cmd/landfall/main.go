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

	"github.com/couchcryptid/ar-landfall/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/ar-landfall/internal/adapter/kafka"
	"github.com/couchcryptid/ar-landfall/internal/adapter/store"
	"github.com/couchcryptid/ar-landfall/internal/adapter/tracks"
	"github.com/couchcryptid/ar-landfall/internal/config"
	"github.com/couchcryptid/ar-landfall/internal/continent"
	"github.com/couchcryptid/ar-landfall/internal/geodesy"
	"github.com/couchcryptid/ar-landfall/internal/grid"
	"github.com/couchcryptid/ar-landfall/internal/landfall"
	"github.com/couchcryptid/ar-landfall/internal/observability"
	"github.com/couchcryptid/ar-landfall/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	slog.SetDefault(logger)
	metrics := observability.NewMetrics()

	if err := run(cfg, logger, metrics); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	el, err := geodesy.Lookup(cfg.Ellipsoid)
	if err != nil {
		return err
	}
	set, err := continent.Load(cfg.ContinentsPath, cfg.ContinentNameField)
	if err != nil {
		return err
	}
	if err := set.CheckPriority(cfg.Priority); err != nil {
		return err
	}
	columns := set.ColumnOrder(cfg.Priority)
	logger.Info("continents loaded", "path", cfg.ContinentsPath, "continents", columns, "ellipsoid", cfg.Ellipsoid)

	source := grid.NewNetCDFSource(cfg.IVTDir, cfg.IVTVariable)
	defer func() {
		if err := source.Close(); err != nil {
			logger.Error("ivt source close error", "error", err)
		}
	}()
	grids := grid.NewCache(source, cfg.GridCacheSize)
	grids.OnLookup = metrics.ObserveCache
	grids.OnLoad = metrics.GridLoads.Inc

	out := store.New(cfg.OutputDir, cfg.DropColumns, cfg.OutputCompression, logger)
	loaders := []pipeline.ScopeLoader{out}
	if cfg.KafkaEnabled() {
		writer := kafkaadapter.NewWriter(cfg, logger, metrics)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		loaders = append(loaders, writer)
		logger.Info("kafka sink enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSinkTopic)
	}

	p, err := pipeline.New(pipeline.Options{
		Tracks:     tracks.NewReader(cfg.TracksPath, logger),
		Loaders:    loaders,
		Combiner:   out,
		GridCache:  grids,
		Continents: columns,
		YearStart:  cfg.YearStart,
		YearEnd:    cfg.YearEnd,
		Workers:    cfg.Workers,
		NewAttributor: func() (*pipeline.Attributor, error) {
			isect, err := continent.NewIntersector(set, el)
			if err != nil {
				return nil, err
			}
			return pipeline.NewAttributor(pipeline.AttributorConfig{
				Ellipsoid:   el,
				Intersector: isect,
				Grids:       grids,
				TieBreaker:  newTieBreaker(cfg.TieBreak),
				Priority:    cfg.Priority,
				Columns:     columns,
				Logger:      logger,
				Metrics:     metrics,
			}), nil
		},
	}, logger, metrics)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *httpadapter.Server
	if cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(cfg.HTTPAddr, p, logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	runErr := p.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		logger.Info("shutting down", "reason", "signal")
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("pipeline: %w", runErr)
	}

	logger.Info("attribution complete", "output", out.CombinedTablePath())
	return nil
}

func newTieBreaker(name string) landfall.TieBreaker {
	if name == "lowest-index" {
		return landfall.LowestIndexTieBreaker{}
	}
	return landfall.NewPerturbTieBreaker(nil)
}
