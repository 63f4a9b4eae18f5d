// Package marketdata provides tick sources for the paper-trading core.
// Acquisition from external venues is out of scope; the sources here replay
// recorded ticks or synthesize a random walk for local sessions and tests.
package marketdata

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/frontier-trading/papercore/pkg/models"
)

// Handler consumes ticks as the source produces them.
type Handler func(models.MarketTick) error

// Source pushes market ticks until its context is cancelled.
type Source interface {
	Run(ctx context.Context, h Handler) error
}

// Simulator is a seeded random-walk tick source. The same seed yields the
// same tick sequence, which the tests rely on.
type Simulator struct {
	logger   *zap.Logger
	interval time.Duration
	rng      *rand.Rand
	prices   map[string]decimal.Decimal
	symbols  []string

	spreadBps decimal.Decimal
	stepBps   float64
}

// NewSimulator creates a simulator starting each symbol at the given price.
func NewSimulator(logger *zap.Logger, start map[string]decimal.Decimal, interval time.Duration, seed int64) *Simulator {
	s := &Simulator{
		logger:    logger,
		interval:  interval,
		rng:       rand.New(rand.NewSource(seed)),
		prices:    make(map[string]decimal.Decimal, len(start)),
		spreadBps: decimal.NewFromFloat(0.0005),
		stepBps:   0.002,
	}
	for sym, p := range start {
		s.prices[sym] = p
		s.symbols = append(s.symbols, sym)
	}
	return s
}

// Run emits one tick per symbol per interval until ctx is done.
func (s *Simulator) Run(ctx context.Context, h Handler) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, sym := range s.symbols {
				tick := s.next(sym)
				if err := h(tick); err != nil {
					s.logger.Warn("tick handler failed", zap.String("symbol", sym), zap.Error(err))
				}
			}
		}
	}
}

// next advances one symbol's price by a bounded random step.
func (s *Simulator) next(symbol string) models.MarketTick {
	last := s.prices[symbol]
	step := decimal.NewFromFloat((s.rng.Float64()*2 - 1) * s.stepBps)
	last = last.Mul(decimal.NewFromInt(1).Add(step))
	if last.LessThanOrEqual(decimal.Zero) {
		last = s.prices[symbol]
	}
	s.prices[symbol] = last

	half := last.Mul(s.spreadBps)
	return models.MarketTick{
		Symbol:    symbol,
		Bid:       last.Sub(half),
		Ask:       last.Add(half),
		Last:      last,
		Volume:    decimal.NewFromInt(int64(s.rng.Intn(9000) + 1000)),
		Timestamp: time.Now(),
	}
}

// Replay plays back a recorded tick sequence at a fixed interval. A zero
// interval replays as fast as the handler accepts.
type Replay struct {
	Ticks    []models.MarketTick
	Interval time.Duration
}

// Run pushes the recorded ticks in order.
func (r *Replay) Run(ctx context.Context, h Handler) error {
	for _, tick := range r.Ticks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := h(tick); err != nil {
			return err
		}
		if r.Interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.Interval):
			}
		}
	}
	return nil
}
