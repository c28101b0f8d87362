// wheeld is the wheel strategy tracker daemon: a JSON HTTP API over a
// file-backed event store, with optional market data for live metrics and
// strategy detection.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/wheelhouse/internal/api"
	"github.com/eddiefleurent/wheelhouse/internal/config"
	"github.com/eddiefleurent/wheelhouse/internal/detector"
	"github.com/eddiefleurent/wheelhouse/internal/importer"
	"github.com/eddiefleurent/wheelhouse/internal/lots"
	"github.com/eddiefleurent/wheelhouse/internal/models"
	"github.com/eddiefleurent/wheelhouse/internal/pricing"
	"github.com/eddiefleurent/wheelhouse/internal/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env is optional, real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.Environment.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.Environment.LogLevel)
		if err != nil {
			logger.Fatalf("Invalid log level %q: %v", cfg.Environment.LogLevel, err)
		}
		logger.SetLevel(level)
	}

	logger.Infof("Starting wheeld in %s mode", cfg.Environment.Mode)

	if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			logger.Fatalf("Failed to create storage directory: %v", err)
		}
	}
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		logger.Fatalf("Failed to open storage: %v", err)
	}

	assembler := lots.NewAssembler(store)
	imp := importer.NewImporter(store, assembler, logger)

	// Market data is optional. Without an endpoint the tracker still records
	// events and computes realized P&L; live prices and detection are off.
	var (
		prices    pricing.PriceLookup
		positions detector.PositionSource
	)
	if cfg.Pricing.APIEndpoint != "" {
		client := pricing.NewClient(cfg.Pricing.APIEndpoint, cfg.Pricing.APIKey, cfg.PricingTimeout(), logger)
		breaker := pricing.NewCircuitBreakerSource(client)
		prices = pricing.NewCachedQuotes(breaker, cfg.CacheTTL())
		positions = breaker
		logger.WithField("endpoint", cfg.Pricing.APIEndpoint).Info("Market data source configured")
	} else {
		logger.Info("No market data endpoint configured, live pricing disabled")
	}

	srv := api.NewServer(api.Config{
		ListenAddr:    cfg.Server.ListenAddr,
		AuthToken:     cfg.Server.AuthToken,
		AccountID:     cfg.Pricing.AccountID,
		RiskTolerance: models.RiskTolerance(cfg.Detection.RiskTolerance),
		Tickers:       cfg.Detection.Tickers,
		CashBalance:   cfg.Detection.CashBalance,
		MinConfidence: cfg.Detection.MinConfidence,
	}, store, assembler, imp, prices, positions, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutdown signal received, stopping server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Refresh.Enabled && prices != nil {
		g.Go(func() error {
			runMetricsRefresher(ctx, store, prices, cfg.RefreshInterval(), logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Fatalf("wheeld exited with error: %v", err)
	}
	logger.Info("wheeld stopped")
}

// runMetricsRefresher periodically recomputes cached lot metrics for every
// open lot using fresh quotes, so reads between trades still show current
// unrealized P&L.
func runMetricsRefresher(ctx context.Context, store storage.Interface, prices pricing.PriceLookup, interval time.Duration, logger *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	refreshOnce(ctx, store, prices, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshOnce(ctx, store, prices, logger)
		}
	}
}

func refreshOnce(ctx context.Context, store storage.Interface, prices pricing.PriceLookup, logger *logrus.Logger) {
	cycles, err := store.ListCycles()
	if err != nil {
		logger.WithError(err).Error("metrics refresh: listing cycles failed")
		return
	}

	tickerSet := make(map[string]struct{})
	openCycleIDs := make([]string, 0, len(cycles))
	for i := range cycles {
		if cycles[i].Status != models.CycleOpen {
			continue
		}
		openCycleIDs = append(openCycleIDs, cycles[i].ID)
		tickerSet[cycles[i].Ticker] = struct{}{}
	}
	if len(openCycleIDs) == 0 {
		return
	}

	tickers := make([]string, 0, len(tickerSet))
	for t := range tickerSet {
		tickers = append(tickers, t)
	}
	snapshot := pricing.Snapshot(ctx, prices, tickers)

	now := time.Now().UTC()
	refreshed := 0
	for _, cycleID := range openCycleIDs {
		lotList, err := store.ListLots(storage.LotFilter{CycleID: cycleID})
		if err != nil {
			logger.WithError(err).WithField("cycle_id", cycleID).Error("metrics refresh: listing lots failed")
			continue
		}
		for i := range lotList {
			lot := &lotList[i]
			if !lot.Status.IsOpen() {
				continue
			}
			var price *float64
			if p, ok := snapshot[lot.Ticker]; ok {
				price = &p
			}
			if _, err := lots.RefreshMetrics(store, lot, price, now); err != nil {
				logger.WithError(err).WithField("lot_id", lot.ID).Warn("metrics refresh failed for lot")
				continue
			}
			refreshed++
		}
	}

	logger.WithFields(logrus.Fields{
		"lots":    refreshed,
		"tickers": len(tickers),
	}).Debug("lot metrics refreshed")
}
