package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	pkgerrors "github.com/frontier-trading/papercore/pkg/errors"
	"github.com/frontier-trading/papercore/pkg/models"
)

func newTradeID() uuid.UUID { return uuid.New() }

// ProcessMarketTick applies a new tick: mark-to-market first, then stop
// triggers, then resting limit orders that the tick makes marketable, in
// strict price-time order. Filled orders leave the book; partially filled
// orders keep their place. The advisory portfolio check runs last and never
// undoes a fill.
func (m *Manager) ProcessMarketTick(tick models.MarketTick) error {
	if err := tick.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.KindValidation, err, "invalid tick")
	}
	st, ok := m.symbolState(tick.Symbol)
	if !ok {
		// Ticks for unknown symbols are ignored, not an error: the feed may
		// cover a wider universe than this session trades.
		return nil
	}
	if tick.Timestamp.IsZero() {
		tick.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.ticks[tick.Symbol] = tick
	m.mu.Unlock()

	m.ledger.MarkToMarket(&tick)
	ticksProcessed.Inc()
	accountEquity.Set(m.ledger.Equity().InexactFloat64())

	st.mu.Lock()
	m.triggerStops(st, &tick)
	m.fillMarketable(st, &tick)
	st.mu.Unlock()

	m.risk.RecordEquity(m.ledger.Equity())
	m.risk.CheckPortfolio()
	return nil
}

// triggerStops converts stop orders whose trigger the tick touched into
// market executions. Buy stops trigger at or above the stop price, sell
// stops at or below. The caller holds the symbol lock.
func (m *Manager) triggerStops(st *symbolState, tick *models.MarketTick) {
	remaining := st.stops[:0]
	for _, o := range st.stops {
		if o.IsTerminal() {
			continue
		}
		triggered := (o.Side == models.SideBuy && tick.Last.GreaterThanOrEqual(*o.StopPrice)) ||
			(o.Side == models.SideSell && tick.Last.LessThanOrEqual(*o.StopPrice))
		if !triggered {
			remaining = append(remaining, o)
			continue
		}
		price := marketPrice(o.Side, tick)
		if err := m.executeFill(o, o.Remaining(), price); err != nil {
			// The trigger fired but the account cannot carry the fill;
			// the order dies rather than re-arming.
			m.rejectOrder(o, pkgerrors.KindOf(err), err.Error())
			m.logger.Warn("stop order rejected on trigger",
				zap.Uint64("order_id", o.ID), zap.Error(err))
		}
	}
	st.stops = remaining
}

// fillMarketable executes resting limit orders the tick has made marketable.
// Fills are simulated against the quoted price capped at the order's limit;
// the tick's volume, when present, bounds how much quantity this tick can
// absorb, which is what produces partial fills. The caller holds the symbol
// lock.
func (m *Manager) fillMarketable(st *symbolState, tick *models.MarketTick) {
	available := tick.Volume
	unlimited := available.LessThanOrEqual(decimal.Zero)

	for _, o := range st.book.Marketable(tick) {
		if !unlimited && available.LessThanOrEqual(decimal.Zero) {
			break
		}
		qty := o.Remaining()
		if !unlimited && qty.GreaterThan(available) {
			qty = available
		}
		if qty.LessThanOrEqual(decimal.Zero) {
			continue
		}
		price := cappedPrice(o, tick)
		if err := m.executeFill(o, qty, price); err != nil {
			// A resting order the ledger cannot honor (e.g. the position it
			// would reduce is gone) is removed and rejected.
			st.book.Remove(o.ID)
			m.rejectOrder(o, pkgerrors.KindOf(err), err.Error())
			m.logger.Warn("resting order rejected on fill",
				zap.Uint64("order_id", o.ID), zap.Error(err))
			continue
		}
		if !unlimited {
			available = available.Sub(qty)
		}
		if o.Status == models.OrderStatusFilled {
			st.book.Remove(o.ID)
		}
	}
}
