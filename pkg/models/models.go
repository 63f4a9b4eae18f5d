// Package models holds the shared domain types of the paper-trading core.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Constants for order sides, types, statuses, and time in force options
const (
	// Order sides
	SideBuy  = "BUY"
	SideSell = "SELL"

	// Order types
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
	OrderTypeStop   = "STOP"

	// Order statuses
	OrderStatusPending         = "PENDING"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCancelled       = "CANCELLED"
	OrderStatusRejected        = "REJECTED"
	OrderStatusExpired         = "EXPIRED"

	// Time in force
	TimeInForceDay = "DAY"
	TimeInForceGTC = "GTC" // Good Till Cancelled
	TimeInForceIOC = "IOC" // Immediate Or Cancel
	TimeInForceFOK = "FOK" // Fill Or Kill
)

// Asset describes a tradable instrument known to the engine.
type Asset struct {
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name,omitempty"`
	Exchange string          `json:"exchange,omitempty"`
	TickSize decimal.Decimal `json:"tick_size"`
	LotSize  decimal.Decimal `json:"lot_size"`
}

// Order represents a trading order in the system. IDs are assigned by the
// order manager and increase monotonically within a session.
type Order struct {
	ID             uint64           `json:"id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Type           string           `json:"type"`
	Quantity       decimal.Decimal  `json:"quantity"`
	LimitPrice     *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice      *decimal.Decimal `json:"stop_price,omitempty"`
	TimeInForce    string           `json:"time_in_force"`
	Status         string           `json:"status"`
	FilledQuantity decimal.Decimal  `json:"filled_quantity"`
	AvgFillPrice   decimal.Decimal  `json:"avg_fill_price"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// IsTerminal reports whether the order can no longer change state.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// Validate checks structural integrity of an order before it enters the
// pipeline. Risk checks are separate; this covers malformed requests only.
func (o *Order) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if o.Quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("quantity must be positive")
	}
	switch o.Side {
	case SideBuy, SideSell:
	default:
		return fmt.Errorf("invalid side %q", o.Side)
	}
	switch o.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if o.LimitPrice == nil || o.LimitPrice.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("limit order requires a positive limit price")
		}
	case OrderTypeStop:
		if o.StopPrice == nil || o.StopPrice.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("stop order requires a positive stop price")
		}
	default:
		return fmt.Errorf("invalid order type %q", o.Type)
	}
	switch o.TimeInForce {
	case "", TimeInForceDay, TimeInForceGTC, TimeInForceIOC, TimeInForceFOK:
	default:
		return fmt.Errorf("invalid time in force %q", o.TimeInForce)
	}
	return nil
}

// Trade represents a single execution against an order.
type Trade struct {
	ID         uuid.UUID       `json:"id"`
	OrderID    uint64          `json:"order_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Notional returns quantity * price.
func (t *Trade) Notional() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// Position is the per-symbol holding tracked by the ledger.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      decimal.Decimal `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	MarketPrice   decimal.Decimal `json:"market_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MarketValue returns quantity * last market price.
func (p *Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.MarketPrice)
}

// TotalPnL returns realized plus unrealized PnL.
func (p *Position) TotalPnL() decimal.Decimal {
	return p.RealizedPnL.Add(p.UnrealizedPnL)
}

// Account holds the cash and equity state of the single paper account.
type Account struct {
	ID              uuid.UUID       `json:"id"`
	Cash            decimal.Decimal `json:"cash"`
	Equity          decimal.Decimal `json:"equity"`
	BuyingPower     decimal.Decimal `json:"buying_power"`
	MarginUsed      decimal.Decimal `json:"margin_used"`
	MarginAvailable decimal.Decimal `json:"margin_available"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// MarketTick is pushed by the market-data collaborator whenever price data
// updates. It drives mark-to-market and limit/stop crossing.
type MarketTick struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Last      decimal.Decimal `json:"last"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// Mid returns the bid/ask midpoint.
func (t *MarketTick) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// Spread returns ask minus bid.
func (t *MarketTick) Spread() decimal.Decimal {
	return t.Ask.Sub(t.Bid)
}

// Validate checks a tick before it is applied.
func (t *MarketTick) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if t.Bid.LessThanOrEqual(decimal.Zero) || t.Ask.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("bid and ask must be positive")
	}
	if t.Ask.LessThan(t.Bid) {
		return fmt.Errorf("crossed tick: ask %s below bid %s", t.Ask, t.Bid)
	}
	return nil
}

// RiskLimits is the configured limit set supplied at session start and
// updatable at runtime. The Allow* instrument flags are reserved; the
// ledger settles cash-equity longs only.
type RiskLimits struct {
	MaxPositionSize   decimal.Decimal `json:"max_position_size" yaml:"max_position_size" mapstructure:"max_position_size"`
	MaxDailyLoss      decimal.Decimal `json:"max_daily_loss" yaml:"max_daily_loss" mapstructure:"max_daily_loss"`
	MaxDrawdown       decimal.Decimal `json:"max_drawdown" yaml:"max_drawdown" mapstructure:"max_drawdown"`
	MaxLeverage       decimal.Decimal `json:"max_leverage" yaml:"max_leverage" mapstructure:"max_leverage"`
	MaxConcentration  decimal.Decimal `json:"max_concentration" yaml:"max_concentration" mapstructure:"max_concentration"`
	AllowShortSelling bool            `json:"allow_short_selling" yaml:"allow_short_selling" mapstructure:"allow_short_selling"`
	AllowOptions      bool            `json:"allow_options" yaml:"allow_options" mapstructure:"allow_options"`
	AllowFutures      bool            `json:"allow_futures" yaml:"allow_futures" mapstructure:"allow_futures"`
}

// DefaultRiskLimits returns the limit set used when none is configured.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositionSize:  decimal.NewFromInt(100000),
		MaxDailyLoss:     decimal.NewFromInt(5000),
		MaxDrawdown:      decimal.NewFromFloat(0.10),
		MaxLeverage:      decimal.NewFromInt(2),
		MaxConcentration: decimal.NewFromFloat(0.25),
	}
}

// Risk violation kinds raised by the advisory portfolio checks.
const (
	ViolationPositionSize  = "POSITION_SIZE"
	ViolationDailyLoss     = "DAILY_LOSS"
	ViolationDrawdown      = "DRAWDOWN"
	ViolationLeverage      = "LEVERAGE"
	ViolationConcentration = "CONCENTRATION"
	ViolationMargin        = "MARGIN"
)

// Violation severities.
const (
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

// RiskViolation records an advisory limit breach. Violations never undo the
// state change that triggered them.
type RiskViolation struct {
	ID           uuid.UUID       `json:"id"`
	Kind         string          `json:"kind"`
	Severity     string          `json:"severity"`
	Message      string          `json:"message"`
	CurrentValue decimal.Decimal `json:"current_value"`
	LimitValue   decimal.Decimal `json:"limit_value"`
	Timestamp    time.Time       `json:"timestamp"`
}

// ExecutionResult is returned by submit/cancel operations. Rejections are
// carried here as values, never as panics crossing the module boundary.
type ExecutionResult struct {
	Success bool    `json:"success"`
	Reason  string  `json:"reason,omitempty"`
	Message string  `json:"message,omitempty"`
	Order   *Order  `json:"order,omitempty"`
	Trades  []Trade `json:"trades,omitempty"`
}
