// Package risk gates orders before execution and watches the portfolio after
// it. Pre-trade checks are blocking: any breach rejects the order before any
// state mutation. Post-trade checks are advisory: they log and notify, never
// undo an executed trade.
package risk

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/frontier-trading/papercore/internal/ledger"
	pkgerrors "github.com/frontier-trading/papercore/pkg/errors"
	"github.com/frontier-trading/papercore/pkg/models"
)

// Position-size policy: besides the explicit notional ceiling, no single
// position may exceed this fraction of equity. The tightest constraint
// governs.
const defaultPolicyFraction = 0.20

// Bounded violation log length.
const maxViolations = 256

// Bounded equity series length. The statistical metrics run over a recent
// window, not the whole session.
const maxEquityPoints = 4096

// ViolationSink receives advisory violations as they are raised.
type ViolationSink interface {
	PublishViolation(models.RiskViolation)
}

// Metrics is the portfolio risk snapshot served to callers.
type Metrics struct {
	PortfolioValue  decimal.Decimal `json:"portfolio_value"`
	Cash            decimal.Decimal `json:"cash"`
	DailyPnL        decimal.Decimal `json:"daily_pnl"`
	Leverage        decimal.Decimal `json:"leverage"`
	CurrentDrawdown float64         `json:"current_drawdown"`
	MaxDrawdown     float64         `json:"max_drawdown"`
	Volatility      float64         `json:"volatility"`
	SharpeRatio     float64         `json:"sharpe_ratio"`
}

// Engine evaluates risk rules over the ledger and the configured limits.
type Engine struct {
	mu     sync.RWMutex
	logger *zap.Logger
	ledger *ledger.Ledger
	limits models.RiskLimits
	sink   ViolationSink

	policyFraction decimal.Decimal
	violations     []models.RiskViolation
	equityCurve    []float64
}

// NewEngine creates a risk engine over the given ledger. sink may be nil.
func NewEngine(logger *zap.Logger, l *ledger.Ledger, limits models.RiskLimits, sink ViolationSink) *Engine {
	return &Engine{
		logger:         logger,
		ledger:         l,
		limits:         limits,
		sink:           sink,
		policyFraction: decimal.NewFromFloat(defaultPolicyFraction),
	}
}

// SetPolicyFraction overrides the per-position equity cap fraction.
// Non-positive values are ignored.
func (e *Engine) SetPolicyFraction(f decimal.Decimal) {
	if !f.IsPositive() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policyFraction = f
}

// SetLimits replaces the configured limits at runtime.
func (e *Engine) SetLimits(limits models.RiskLimits) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limits = limits
}

// Limits returns the configured limits.
func (e *Engine) Limits() models.RiskLimits {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.limits
}

// CheckOrder is the blocking pre-trade check. refPrice is the price the
// order would execute or rest at. A nil return accepts the order.
func (e *Engine) CheckOrder(o *models.Order, refPrice decimal.Decimal) error {
	e.mu.RLock()
	limits := e.limits
	policy := e.policyFraction
	e.mu.RUnlock()

	notional := o.Quantity.Mul(refPrice)
	account := e.ledger.Account()
	held := e.ledger.HeldQuantity(o.Symbol)

	if o.Side == models.SideSell {
		// The ledger carries long positions only, so a sell exceeding the
		// held quantity can never settle. AllowShortSelling is reserved for
		// a margin model that supports shorts.
		if o.Quantity.GreaterThan(held) {
			return pkgerrors.New(pkgerrors.KindInsufficientShares,
				"sell %s exceeds held %s", o.Quantity, held)
		}
		return nil
	}

	// Buying-power sufficiency.
	if notional.GreaterThan(account.BuyingPower) {
		return pkgerrors.New(pkgerrors.KindInsufficientFunds,
			"order notional %s exceeds buying power %s", notional, account.BuyingPower)
	}

	// Position-size ceiling: explicit maximum AND equity-fraction policy,
	// whichever is tighter.
	resulting := held.Add(o.Quantity).Mul(refPrice)
	ceiling := limits.MaxPositionSize
	if policyCeiling := account.Equity.Mul(policy); policyCeiling.LessThan(ceiling) {
		ceiling = policyCeiling
	}
	if resulting.GreaterThan(ceiling) {
		return pkgerrors.New(pkgerrors.KindRiskRejected,
			"resulting position %s exceeds limit %s", resulting, ceiling)
	}

	// Leverage: projected gross exposure over equity.
	if account.Equity.IsPositive() {
		projected := e.ledger.GrossExposure().Add(notional)
		leverage := projected.Div(account.Equity)
		if leverage.GreaterThan(limits.MaxLeverage) {
			return pkgerrors.New(pkgerrors.KindRiskRejected,
				"projected leverage %s exceeds limit %s", leverage.StringFixed(2), limits.MaxLeverage)
		}
	}

	return nil
}

// CheckPortfolio runs the advisory post-trade checks. It is called after
// every fill and mark-to-market; breaches are appended to the violation log
// and forwarded to the sink but never block the triggering change.
func (e *Engine) CheckPortfolio() []models.RiskViolation {
	e.mu.RLock()
	limits := e.limits
	e.mu.RUnlock()

	account := e.ledger.Account()
	peak := e.ledger.PeakEquity()
	var found []models.RiskViolation

	// Daily loss.
	if daily := e.ledger.DailyPnL(); daily.IsNegative() && daily.Neg().GreaterThan(limits.MaxDailyLoss) {
		found = append(found, e.violation(models.ViolationDailyLoss, models.SeverityCritical,
			"daily loss exceeds limit", daily.Neg(), limits.MaxDailyLoss))
	}

	// Drawdown from peak equity.
	if peak.IsPositive() {
		dd := peak.Sub(account.Equity).Div(peak)
		if dd.GreaterThan(limits.MaxDrawdown) {
			found = append(found, e.violation(models.ViolationDrawdown, models.SeverityCritical,
				"drawdown exceeds limit", dd, limits.MaxDrawdown))
		}
	}

	// Concentration per position.
	if account.Equity.IsPositive() {
		for _, pos := range e.ledger.Positions() {
			conc := pos.MarketValue().Div(account.Equity)
			if conc.GreaterThan(limits.MaxConcentration) {
				found = append(found, e.violation(models.ViolationConcentration, models.SeverityWarning,
					"position "+pos.Symbol+" concentration exceeds threshold", conc, limits.MaxConcentration))
			}
		}
	}

	// Margin.
	if account.MarginUsed.GreaterThan(account.MarginAvailable) {
		found = append(found, e.violation(models.ViolationMargin, models.SeverityCritical,
			"margin used exceeds margin available", account.MarginUsed, account.MarginAvailable))
	}

	if len(found) > 0 {
		e.record(found)
	}
	return found
}

func (e *Engine) violation(kind, severity, msg string, current, limit decimal.Decimal) models.RiskViolation {
	return models.RiskViolation{
		ID:           uuid.New(),
		Kind:         kind,
		Severity:     severity,
		Message:      msg,
		CurrentValue: current,
		LimitValue:   limit,
		Timestamp:    time.Now(),
	}
}

func (e *Engine) record(vs []models.RiskViolation) {
	e.mu.Lock()
	e.violations = append(e.violations, vs...)
	if over := len(e.violations) - maxViolations; over > 0 {
		e.violations = e.violations[over:]
	}
	sink := e.sink
	e.mu.Unlock()

	for _, v := range vs {
		e.logger.Warn("risk violation",
			zap.String("kind", v.Kind),
			zap.String("severity", v.Severity),
			zap.String("current", v.CurrentValue.String()),
			zap.String("limit", v.LimitValue.String()))
		if sink != nil {
			sink.PublishViolation(v)
		}
	}
}

// Violations returns a copy of the bounded violation log, oldest first.
func (e *Engine) Violations() []models.RiskViolation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.RiskViolation, len(e.violations))
	copy(out, e.violations)
	return out
}

// RecordEquity appends an equity observation for the statistical metrics.
func (e *Engine) RecordEquity(equity decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.equityCurve = append(e.equityCurve, equity.InexactFloat64())
	if over := len(e.equityCurve) - maxEquityPoints; over > 0 {
		e.equityCurve = e.equityCurve[over:]
	}
}

// Metrics computes the portfolio risk snapshot.
func (e *Engine) Metrics() Metrics {
	account := e.ledger.Account()

	e.mu.RLock()
	curve := make([]float64, len(e.equityCurve))
	copy(curve, e.equityCurve)
	e.mu.RUnlock()

	m := Metrics{
		PortfolioValue:  account.Equity,
		Cash:            account.Cash,
		DailyPnL:        e.ledger.DailyPnL(),
		CurrentDrawdown: CurrentDrawdown(curve),
		MaxDrawdown:     MaxDrawdown(curve),
	}
	if account.Equity.IsPositive() {
		m.Leverage = e.ledger.GrossExposure().Div(account.Equity)
	}
	if len(curve) >= 3 {
		returns := make([]float64, 0, len(curve)-1)
		for i := 1; i < len(curve); i++ {
			if curve[i-1] != 0 {
				returns = append(returns, curve[i]/curve[i-1]-1)
			}
		}
		m.Volatility = Volatility(returns)
		m.SharpeRatio = SharpeRatio(returns)
	}
	return m
}
