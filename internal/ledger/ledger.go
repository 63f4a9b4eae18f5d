// Package ledger owns the cash, equity, and per-symbol cost basis of the
// single paper account. All mutating operations are serialized through one
// mutex so the non-commutative weighted-average cost math is applied in
// strict event order.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	pkgerrors "github.com/frontier-trading/papercore/pkg/errors"
	"github.com/frontier-trading/papercore/pkg/models"
)

// Ledger tracks the account and open positions.
type Ledger struct {
	mu        sync.Mutex
	logger    *zap.Logger
	account   models.Account
	positions map[string]*models.Position

	startOfDayEquity decimal.Decimal
	peakEquity       decimal.Decimal
}

// New creates a ledger with the given starting cash.
func New(logger *zap.Logger, startingCash decimal.Decimal) *Ledger {
	return &Ledger{
		logger: logger,
		account: models.Account{
			ID:              uuid.New(),
			Cash:            startingCash,
			Equity:          startingCash,
			BuyingPower:     startingCash,
			MarginAvailable: startingCash,
			UpdatedAt:       time.Now(),
		},
		positions:        make(map[string]*models.Position),
		startOfDayEquity: startingCash,
		peakEquity:       startingCash,
	}
}

// ApplyFill mutates cash and the symbol's position for one fill. On a buy the
// average cost is recomputed as a weighted average; on a sell realized PnL
// accrues and the average cost is untouched. A sell larger than the held
// quantity is rejected with no state change (positions are long only; the
// risk engine rejects oversize sells before execution reaches the ledger).
func (l *Ledger) ApplyFill(t *models.Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	notional := t.Notional()
	pos := l.positions[t.Symbol]

	switch t.Side {
	case models.SideBuy:
		if pos == nil {
			pos = &models.Position{Symbol: t.Symbol, AvgPrice: decimal.Zero, MarketPrice: t.Price}
			l.positions[t.Symbol] = pos
		}
		totalCost := pos.Quantity.Mul(pos.AvgPrice).Add(notional)
		totalQty := pos.Quantity.Add(t.Quantity)
		pos.AvgPrice = totalCost.Div(totalQty)
		pos.Quantity = totalQty
		l.account.Cash = l.account.Cash.Sub(notional).Sub(t.Commission)

	case models.SideSell:
		if pos == nil || pos.Quantity.LessThan(t.Quantity) {
			held := decimal.Zero
			if pos != nil {
				held = pos.Quantity
			}
			return pkgerrors.New(pkgerrors.KindInsufficientShares,
				"cannot sell %s %s: holding %s", t.Quantity, t.Symbol, held)
		}
		realized := t.Price.Sub(pos.AvgPrice).Mul(t.Quantity)
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
		l.account.RealizedPnL = l.account.RealizedPnL.Add(realized)
		pos.Quantity = pos.Quantity.Sub(t.Quantity)
		l.account.Cash = l.account.Cash.Add(notional).Sub(t.Commission)
		if pos.Quantity.IsZero() {
			// The position record is dropped once flat; realized PnL
			// attribution survives on the account.
			delete(l.positions, t.Symbol)
		}
	}

	if pos != nil && !pos.Quantity.IsZero() {
		pos.MarketPrice = t.Price
		pos.UnrealizedPnL = pos.MarketPrice.Sub(pos.AvgPrice).Mul(pos.Quantity)
		pos.UpdatedAt = t.Timestamp
	}
	l.refreshEquityLocked()
	return nil
}

// MarkToMarket revalues the symbol's position against the latest price and
// refreshes equity. Equity is never served from a stale computation once a
// newer tick has arrived.
func (l *Ledger) MarkToMarket(tick *models.MarketTick) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[tick.Symbol]
	if !ok {
		return
	}
	pos.MarketPrice = tick.Last
	pos.UnrealizedPnL = pos.MarketPrice.Sub(pos.AvgPrice).Mul(pos.Quantity)
	pos.UpdatedAt = tick.Timestamp
	l.refreshEquityLocked()
}

// refreshEquityLocked recomputes equity, buying power, and margin. Must be
// called with l.mu held.
func (l *Ledger) refreshEquityLocked() {
	marketValue := decimal.Zero
	for _, pos := range l.positions {
		if pos.Quantity.IsNegative() {
			// Positions are long only; a negative quantity means the gates
			// above were bypassed: a bug, not a user error.
			l.logger.Panic("position went negative",
				zap.String("symbol", pos.Symbol),
				zap.String("quantity", pos.Quantity.String()))
		}
		marketValue = marketValue.Add(pos.MarketValue())
	}
	l.account.Equity = l.account.Cash.Add(marketValue)
	l.account.MarginUsed = marketValue
	l.account.MarginAvailable = l.account.Equity.Sub(l.account.MarginUsed)
	l.account.BuyingPower = l.account.Cash
	l.account.UpdatedAt = time.Now()
	if l.account.Equity.GreaterThan(l.peakEquity) {
		l.peakEquity = l.account.Equity
	}
}

// Account returns a copy of the current account state.
func (l *Ledger) Account() models.Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account
}

// Positions returns copies of all open positions.
func (l *Ledger) Positions() []models.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	return out
}

// Position returns a copy of the position for one symbol.
func (l *Ledger) Position(symbol string) (models.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

// HeldQuantity returns the quantity currently held for a symbol.
func (l *Ledger) HeldQuantity(symbol string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, ok := l.positions[symbol]; ok {
		return pos.Quantity
	}
	return decimal.Zero
}

// Equity returns the current account equity.
func (l *Ledger) Equity() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account.Equity
}

// PeakEquity returns the session's running peak equity, used for drawdown.
func (l *Ledger) PeakEquity() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peakEquity
}

// DailyPnL returns equity relative to the start-of-day mark.
func (l *Ledger) DailyPnL() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account.Equity.Sub(l.startOfDayEquity)
}

// ResetDaily re-marks the start-of-day equity, typically at session rollover.
func (l *Ledger) ResetDaily() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startOfDayEquity = l.account.Equity
}

// GrossExposure returns the summed absolute market value of open positions.
func (l *Ledger) GrossExposure() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, pos := range l.positions {
		total = total.Add(pos.MarketValue().Abs())
	}
	return total
}
