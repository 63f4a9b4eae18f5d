package engine

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	pkgerrors "github.com/frontier-trading/papercore/pkg/errors"
	"github.com/frontier-trading/papercore/pkg/models"
)

// SubmitOrder runs an order through validation and the blocking risk check,
// then executes it against the latest market tick or rests it in the book.
// Rejections carry a categorized reason and leave book and ledger untouched.
// There is no opposing participant book: fills are simulated against the
// quoted price, which is the paper-trading model.
func (m *Manager) SubmitOrder(req models.Order) models.ExecutionResult {
	o := req
	o.ID = m.nextID()
	o.Status = models.OrderStatusPending
	o.FilledQuantity = decimal.Zero
	o.AvgFillPrice = decimal.Zero
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	if o.TimeInForce == "" {
		o.TimeInForce = models.TimeInForceGTC
	}

	res := m.submit(&o)
	m.bus.PublishExecution(res)
	if res.Success {
		ordersAccepted.Inc()
	} else {
		ordersRejected.WithLabelValues(res.Reason).Inc()
	}
	return res
}

func (m *Manager) submit(o *models.Order) models.ExecutionResult {
	if err := o.Validate(); err != nil {
		return m.rejectOrder(o, pkgerrors.KindValidation, err.Error())
	}

	st, ok := m.symbolState(o.Symbol)
	if !ok {
		return m.rejectOrder(o, pkgerrors.KindInvalidSymbol, "unknown symbol "+o.Symbol)
	}

	tick, hasTick := m.lastTick(o.Symbol)
	if o.Type == models.OrderTypeMarket && !hasTick {
		return m.rejectOrder(o, pkgerrors.KindMarketUnavailable, "no market data for "+o.Symbol)
	}

	// Pre-trade risk check against the price the order would execute or
	// rest at. Any breach rejects before any state mutation.
	refPrice := m.referencePrice(o, tick, hasTick)
	if refPrice.IsZero() {
		return m.rejectOrder(o, pkgerrors.KindMarketUnavailable, "no reference price for "+o.Symbol)
	}
	if err := m.riskCheck(o, refPrice); err != nil {
		kind := pkgerrors.KindOf(err)
		m.logger.Info("order rejected by risk check",
			zap.Uint64("order_id", o.ID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return m.rejectOrder(o, kind, err.Error())
	}

	m.registerOrder(o)

	st.mu.Lock()
	defer st.mu.Unlock()

	switch o.Type {
	case models.OrderTypeMarket:
		price := marketPrice(o.Side, &tick)
		if err := m.executeFill(o, o.Quantity, price); err != nil {
			return m.rejectOrder(o, pkgerrors.KindOf(err), err.Error())
		}
		return m.executed(o)

	case models.OrderTypeLimit:
		if hasTick && crosses(o, &tick) {
			price := cappedPrice(o, &tick)
			if err := m.executeFill(o, o.Quantity, price); err != nil {
				return m.rejectOrder(o, pkgerrors.KindOf(err), err.Error())
			}
			return m.executed(o)
		}
		// Not immediately marketable. IOC and FOK never rest.
		if o.TimeInForce == models.TimeInForceIOC || o.TimeInForce == models.TimeInForceFOK {
			m.mu.Lock()
			o.Status = models.OrderStatusCancelled
			o.UpdatedAt = time.Now()
			snap := *o
			m.mu.Unlock()
			m.bus.PublishOrder(snap)
			return reject(&snap, pkgerrors.KindRejected, "%s order not immediately fillable", snap.TimeInForce)
		}
		if err := st.book.Add(o); err != nil {
			return m.rejectOrder(o, pkgerrors.KindRejected, err.Error())
		}
		m.bus.PublishOrder(*o)
		m.logger.Info("order resting",
			zap.Uint64("order_id", o.ID),
			zap.String("symbol", o.Symbol),
			zap.String("side", o.Side),
			zap.String("limit", o.LimitPrice.String()))
		return models.ExecutionResult{Success: true, Order: snapshot(o)}

	case models.OrderTypeStop:
		st.stops = append(st.stops, o)
		m.bus.PublishOrder(*o)
		m.logger.Info("stop order pending trigger",
			zap.Uint64("order_id", o.ID),
			zap.String("symbol", o.Symbol),
			zap.String("stop", o.StopPrice.String()))
		return models.ExecutionResult{Success: true, Order: snapshot(o)}
	}

	return m.rejectOrder(o, pkgerrors.KindRejected, "unsupported order type "+o.Type)
}

// riskCheck gates the order. Sells reducing an existing position are checked
// for share sufficiency; buys for funds, position ceiling, and leverage.
func (m *Manager) riskCheck(o *models.Order, refPrice decimal.Decimal) error {
	return m.risk.CheckOrder(o, refPrice)
}

// referencePrice picks the price used for the pre-trade check.
func (m *Manager) referencePrice(o *models.Order, tick models.MarketTick, hasTick bool) decimal.Decimal {
	switch o.Type {
	case models.OrderTypeMarket:
		return marketPrice(o.Side, &tick)
	case models.OrderTypeLimit:
		return *o.LimitPrice
	case models.OrderTypeStop:
		return *o.StopPrice
	}
	if hasTick {
		return tick.Last
	}
	return decimal.Zero
}

// marketPrice is the quoted price a market order executes at: the ask for
// buys, the bid for sells.
func marketPrice(side string, tick *models.MarketTick) decimal.Decimal {
	if side == models.SideBuy {
		return tick.Ask
	}
	return tick.Bid
}

// crosses reports whether a limit order is immediately marketable against
// the tick.
func crosses(o *models.Order, tick *models.MarketTick) bool {
	if o.Side == models.SideBuy {
		return o.LimitPrice.GreaterThanOrEqual(tick.Ask)
	}
	return o.LimitPrice.LessThanOrEqual(tick.Bid)
}

// cappedPrice is the execution price for a crossing limit order: the quoted
// price, never worse than the limit.
func cappedPrice(o *models.Order, tick *models.MarketTick) decimal.Decimal {
	if o.Side == models.SideBuy {
		return decimal.Min(*o.LimitPrice, tick.Ask)
	}
	return decimal.Max(*o.LimitPrice, tick.Bid)
}

// executeFill applies one fill to the order and the ledger and publishes the
// trade. The caller holds the symbol lock.
func (m *Manager) executeFill(o *models.Order, qty, price decimal.Decimal) error {
	notional := qty.Mul(price)
	trade := models.Trade{
		ID:         newTradeID(),
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   qty,
		Price:      price,
		Commission: notional.Mul(m.cfg.CommissionRate),
		Timestamp:  time.Now(),
	}

	if err := m.ledger.ApplyFill(&trade); err != nil {
		return err
	}

	// Order mutation shares the manager lock with the trade append so query
	// reads never observe a half-updated order.
	m.mu.Lock()
	// Average fill price is recomputed as a weighted average over fills.
	filledNotional := o.AvgFillPrice.Mul(o.FilledQuantity).Add(notional)
	o.FilledQuantity = o.FilledQuantity.Add(qty)
	o.AvgFillPrice = filledNotional.Div(o.FilledQuantity)
	if o.FilledQuantity.GreaterThanOrEqual(o.Quantity) {
		o.Status = models.OrderStatusFilled
	} else {
		o.Status = models.OrderStatusPartiallyFilled
	}
	o.UpdatedAt = trade.Timestamp
	snap := *o
	m.trades[o.ID] = append(m.trades[o.ID], trade)
	m.mu.Unlock()

	tradesExecuted.Inc()
	accountEquity.Set(m.ledger.Equity().InexactFloat64())
	m.bus.PublishTrade(trade)
	m.bus.PublishOrder(snap)
	m.logger.Info("fill",
		zap.Uint64("order_id", o.ID),
		zap.String("symbol", o.Symbol),
		zap.String("side", o.Side),
		zap.String("quantity", qty.String()),
		zap.String("price", price.String()))
	return nil
}

// executed finalizes a successful immediate execution: records equity for
// the risk series and runs the advisory portfolio check.
func (m *Manager) executed(o *models.Order) models.ExecutionResult {
	m.risk.RecordEquity(m.ledger.Equity())
	m.risk.CheckPortfolio()
	return models.ExecutionResult{
		Success: true,
		Order:   snapshot(o),
		Trades:  m.GetOrderTrades(o.ID),
	}
}

// rejectOrder marks the order rejected and returns the categorized result.
// Rejected is terminal; the order never touches book or ledger again. The
// status write and the registration share the manager lock because the order
// may already be visible to queries.
func (m *Manager) rejectOrder(o *models.Order, kind pkgerrors.Kind, msg string) models.ExecutionResult {
	m.mu.Lock()
	o.Status = models.OrderStatusRejected
	o.UpdatedAt = time.Now()
	if _, ok := m.orders[o.ID]; !ok {
		m.orders[o.ID] = o
	}
	snap := *o
	m.mu.Unlock()
	m.bus.PublishOrder(snap)
	return models.ExecutionResult{
		Success: false,
		Reason:  string(kind),
		Message: msg,
		Order:   &snap,
	}
}

// registerOrder records the order for queries; idempotent.
func (m *Manager) registerOrder(o *models.Order) {
	m.mu.Lock()
	if _, ok := m.orders[o.ID]; !ok {
		m.orders[o.ID] = o
	}
	m.mu.Unlock()
}
