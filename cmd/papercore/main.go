// Command papercore runs the paper-trading core: order manager, risk engine,
// ledger, HTTP API, and an optional simulated market-data feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/frontier-trading/papercore/internal/config"
	"github.com/frontier-trading/papercore/internal/engine"
	"github.com/frontier-trading/papercore/internal/events"
	"github.com/frontier-trading/papercore/internal/ledger"
	"github.com/frontier-trading/papercore/internal/marketdata"
	"github.com/frontier-trading/papercore/internal/risk"
	"github.com/frontier-trading/papercore/internal/server"
	"github.com/frontier-trading/papercore/internal/store"
	"github.com/frontier-trading/papercore/pkg/logger"
	"github.com/frontier-trading/papercore/pkg/models"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	assets, err := cfg.Assets()
	if err != nil {
		return err
	}
	limits, err := cfg.RiskLimits()
	if err != nil {
		return err
	}

	bus := events.NewBus()
	led := ledger.New(log.Named("ledger"), cfg.StartingCash())
	riskEngine := risk.NewEngine(log.Named("risk"), led, limits, bus)
	riskEngine.SetPolicyFraction(cfg.PositionEquityFraction())
	manager := engine.NewManager(log.Named("engine"), led, riskEngine, bus, engine.Config{
		CommissionRate: cfg.CommissionRate(),
		Assets:         assets,
	})
	if err := manager.Start(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	var db *store.Store
	if cfg.Store.Enabled {
		db, err = store.Open(log.Named("store"), cfg.Store.Path)
		if err != nil {
			return err
		}
	}

	srv := server.New(log.Named("http"), manager, bus, cfg.Server.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Start() }()

	if cfg.Feed.Simulate {
		start := make(map[string]decimal.Decimal, len(assets))
		for _, a := range assets {
			if !contains(cfg.Feed.Symbols, a.Symbol) && len(cfg.Feed.Symbols) > 0 {
				continue
			}
			start[a.Symbol] = decimal.NewFromInt(100)
		}
		sim := marketdata.NewSimulator(log.Named("feed"), start,
			time.Duration(cfg.Feed.IntervalMs)*time.Millisecond, cfg.Feed.Seed)
		go func() {
			if err := sim.Run(ctx, manager.ProcessMarketTick); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("simulator feed failed: %w", err)
			}
		}()
	}

	// Persist and drain event streams for the audit trail while running.
	go persistEvents(ctx, log, bus, db)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("fatal error", zap.Error(err))
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
	if db != nil {
		snapshotState(log, manager, db)
	}
	if err := manager.Stop(); err != nil {
		log.Warn("engine stop failed", zap.Error(err))
	}
	bus.Close()
	return nil
}

// persistEvents writes orders and trades to the store as they happen. With
// persistence disabled it still drains the subscriptions so the bus never
// counts this consumer as slow.
func persistEvents(ctx context.Context, log *zap.Logger, bus *events.Bus, db *store.Store) {
	orders := bus.SubscribeOrders()
	trades := bus.SubscribeTrades()
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-orders:
			if !ok {
				return
			}
			if db != nil {
				if err := db.SaveOrder(&o); err != nil {
					log.Warn("failed to persist order", zap.Uint64("order_id", o.ID), zap.Error(err))
				}
			}
		case t, ok := <-trades:
			if !ok {
				return
			}
			if db != nil {
				if err := db.SaveTrades([]models.Trade{t}); err != nil {
					log.Warn("failed to persist trade", zap.String("trade_id", t.ID.String()), zap.Error(err))
				}
			}
		}
	}
}

// snapshotState writes the final positions and account on shutdown.
func snapshotState(log *zap.Logger, manager *engine.Manager, db *store.Store) {
	if err := db.SavePositions(manager.GetPositions()); err != nil {
		log.Warn("failed to persist positions", zap.Error(err))
	}
	account := manager.GetAccount()
	if err := db.SaveAccount(&account); err != nil {
		log.Warn("failed to persist account", zap.Error(err))
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
