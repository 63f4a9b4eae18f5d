// Package engine implements the order manager: the orchestration layer that
// validates and risk-gates order submissions, executes fills against the
// latest market tick, maintains the per-symbol resting books, and mutates
// the ledger. All ledger-mutating operations for the account observe a
// single total order; book mutation is locked per symbol so different
// symbols proceed in parallel, and no operation ever holds more than one
// symbol's lock.
package engine

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/frontier-trading/papercore/internal/book"
	"github.com/frontier-trading/papercore/internal/events"
	"github.com/frontier-trading/papercore/internal/ledger"
	"github.com/frontier-trading/papercore/internal/risk"
	pkgerrors "github.com/frontier-trading/papercore/pkg/errors"
	"github.com/frontier-trading/papercore/pkg/models"
)

// Config carries the engine's trading parameters.
type Config struct {
	CommissionRate decimal.Decimal // rate applied to fill notional
	Assets         []models.Asset  // tradable universe
}

// symbolState pairs a book with its own lock. Locks for different symbols
// are never held together.
type symbolState struct {
	mu    sync.Mutex
	book  *book.Book
	stops []*models.Order // stop orders pending trigger, arrival order
}

// Manager is the order manager.
type Manager struct {
	logger *zap.Logger
	ledger *ledger.Ledger
	risk   *risk.Engine
	bus    *events.Bus
	cfg    Config

	idSeq atomic.Uint64

	mu      sync.RWMutex
	assets  map[string]models.Asset
	symbols map[string]*symbolState
	orders  map[uint64]*models.Order
	trades  map[uint64][]models.Trade
	ticks   map[string]models.MarketTick
}

// NewManager creates an order manager over the given collaborators.
func NewManager(logger *zap.Logger, l *ledger.Ledger, r *risk.Engine, bus *events.Bus, cfg Config) *Manager {
	m := &Manager{
		logger:  logger,
		ledger:  l,
		risk:    r,
		bus:     bus,
		cfg:     cfg,
		assets:  make(map[string]models.Asset),
		symbols: make(map[string]*symbolState),
		orders:  make(map[uint64]*models.Order),
		trades:  make(map[uint64][]models.Trade),
		ticks:   make(map[string]models.MarketTick),
	}
	for _, a := range cfg.Assets {
		m.assets[a.Symbol] = a
		m.symbols[a.Symbol] = &symbolState{book: book.New(a.Symbol)}
	}
	return m
}

// Start logs engine readiness.
func (m *Manager) Start() error {
	m.logger.Info("order manager started",
		zap.Int("symbols", len(m.assets)),
		zap.String("commission_rate", m.cfg.CommissionRate.String()))
	return nil
}

// Stop closes the event bus.
func (m *Manager) Stop() error {
	m.bus.Close()
	m.logger.Info("order manager stopped")
	return nil
}

// nextID returns the next monotonically increasing order id.
func (m *Manager) nextID() uint64 {
	return m.idSeq.Add(1)
}

func (m *Manager) symbolState(symbol string) (*symbolState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.symbols[symbol]
	return st, ok
}

func (m *Manager) lastTick(symbol string) (models.MarketTick, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.ticks[symbol]
	return t, ok
}

// GetOrder returns a copy of the order with the given id.
func (m *Manager) GetOrder(id uint64) (models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, pkgerrors.New(pkgerrors.KindNotFound, "order %d not found", id)
	}
	return *o, nil
}

// GetActiveOrders returns copies of all non-terminal orders, oldest first.
func (m *Manager) GetActiveOrders() []models.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Order, 0)
	for _, o := range m.orders {
		if !o.IsTerminal() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetOrdersBySymbol returns copies of all orders for a symbol, oldest first.
func (m *Manager) GetOrdersBySymbol(symbol string) []models.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Order, 0)
	for _, o := range m.orders {
		if o.Symbol == symbol {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetOrderTrades returns the executions recorded against an order.
func (m *Manager) GetOrderTrades(id uint64) []models.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts := m.trades[id]
	out := make([]models.Trade, len(ts))
	copy(out, ts)
	return out
}

// GetBookLevels returns up to n aggregated levels per side for a symbol.
func (m *Manager) GetBookLevels(symbol string, n int) (bids, asks []book.Level, err error) {
	st, ok := m.symbolState(symbol)
	if !ok {
		return nil, nil, pkgerrors.New(pkgerrors.KindInvalidSymbol, "unknown symbol %s", symbol)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	bids, asks = st.book.TopLevels(n)
	return bids, asks, nil
}

// GetPositions returns the ledger's open positions.
func (m *Manager) GetPositions() []models.Position { return m.ledger.Positions() }

// GetPosition returns the position for one symbol.
func (m *Manager) GetPosition(symbol string) (models.Position, error) {
	pos, ok := m.ledger.Position(symbol)
	if !ok {
		return models.Position{}, pkgerrors.New(pkgerrors.KindNotFound, "no position in %s", symbol)
	}
	return pos, nil
}

// GetAccount returns the account snapshot.
func (m *Manager) GetAccount() models.Account { return m.ledger.Account() }

// GetRiskMetrics returns the portfolio risk snapshot.
func (m *Manager) GetRiskMetrics() risk.Metrics { return m.risk.Metrics() }

// GetRiskViolations returns the advisory violation log.
func (m *Manager) GetRiskViolations() []models.RiskViolation { return m.risk.Violations() }

// CancelOrder removes a non-terminal order from its book and marks it
// cancelled. An unknown id or a terminal order yields a definitive
// not-cancellable outcome, never a silent no-op: a cancel racing a fill
// resolves to "already filled".
func (m *Manager) CancelOrder(id uint64) models.ExecutionResult {
	m.mu.RLock()
	o, ok := m.orders[id]
	m.mu.RUnlock()
	if !ok {
		return reject(nil, pkgerrors.KindNotFound, "order %d not found", id)
	}

	// A rejected order was registered for queries but never reached a book;
	// its symbol may have no state at all.
	st, hasState := m.symbolState(o.Symbol)
	if hasState {
		st.mu.Lock()
		defer st.mu.Unlock()
	}

	// Re-check status under the locks: a concurrent fill may have completed
	// the order between lookup and here.
	m.mu.Lock()
	if o.IsTerminal() {
		res := reject(o, pkgerrors.KindStateConflict, "order %d already %s", id, o.Status)
		m.mu.Unlock()
		return res
	}
	o.Status = models.OrderStatusCancelled
	o.UpdatedAt = time.Now()
	snap := *o
	m.mu.Unlock()

	if hasState {
		st.book.Remove(id)
		for i, s := range st.stops {
			if s.ID == id {
				st.stops = append(st.stops[:i], st.stops[i+1:]...)
				break
			}
		}
	}
	ordersCancelled.Inc()
	m.bus.PublishOrder(snap)
	m.logger.Info("order cancelled", zap.Uint64("order_id", id), zap.String("symbol", snap.Symbol))
	return models.ExecutionResult{Success: true, Order: &snap}
}

// CancelAllOrders cancels every active order and returns how many were
// cancelled.
func (m *Manager) CancelAllOrders() int {
	active := m.GetActiveOrders()
	n := 0
	for _, o := range active {
		if res := m.CancelOrder(o.ID); res.Success {
			n++
		}
	}
	return n
}

// ModifyOrder is cancel-and-resubmit under a new id. The replacement loses
// time priority.
func (m *Manager) ModifyOrder(id uint64, quantity decimal.Decimal, limitPrice *decimal.Decimal) models.ExecutionResult {
	m.mu.RLock()
	orig, ok := m.orders[id]
	m.mu.RUnlock()
	if !ok {
		return reject(nil, pkgerrors.KindNotFound, "order %d not found", id)
	}

	replacement := models.Order{
		Symbol:      orig.Symbol,
		Side:        orig.Side,
		Type:        orig.Type,
		Quantity:    quantity,
		LimitPrice:  limitPrice,
		StopPrice:   orig.StopPrice,
		TimeInForce: orig.TimeInForce,
	}
	if replacement.LimitPrice == nil {
		replacement.LimitPrice = orig.LimitPrice
	}

	if res := m.CancelOrder(id); !res.Success {
		return res
	}
	return m.SubmitOrder(replacement)
}

// snapshot returns a copy of an order for results and events.
func snapshot(o *models.Order) *models.Order {
	c := *o
	return &c
}

func reject(o *models.Order, kind pkgerrors.Kind, format string, args ...any) models.ExecutionResult {
	err := pkgerrors.New(kind, format, args...)
	res := models.ExecutionResult{
		Success: false,
		Reason:  string(kind),
		Message: err.Message,
	}
	if o != nil {
		res.Order = snapshot(o)
	}
	return res
}
