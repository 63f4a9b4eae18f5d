// Package store persists the core's compatibility contract: orders, trades,
// positions, and the account, with every decimal field stored as text so
// quantity, prices, and PnL round-trip losslessly.
package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frontier-trading/papercore/pkg/models"
)

// OrderRecord is the persisted order row.
type OrderRecord struct {
	ID             uint64 `gorm:"primaryKey"`
	Symbol         string `gorm:"index"`
	Side           string
	Type           string
	Quantity       string
	LimitPrice     *string
	StopPrice      *string
	TimeInForce    string
	Status         string
	FilledQuantity string
	AvgFillPrice   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TradeRecord is the persisted trade row.
type TradeRecord struct {
	ID         string `gorm:"primaryKey;type:uuid"`
	OrderID    uint64 `gorm:"index"`
	Symbol     string `gorm:"index"`
	Side       string
	Quantity   string
	Price      string
	Commission string
	Timestamp  time.Time
}

// PositionRecord is the persisted position row.
type PositionRecord struct {
	Symbol        string `gorm:"primaryKey"`
	Quantity      string
	AvgPrice      string
	MarketPrice   string
	UnrealizedPnL string
	RealizedPnL   string
	UpdatedAt     time.Time
}

// AccountRecord is the persisted account row.
type AccountRecord struct {
	ID              string `gorm:"primaryKey;type:uuid"`
	Cash            string
	Equity          string
	BuyingPower     string
	MarginUsed      string
	MarginAvailable string
	RealizedPnL     string
	UpdatedAt       time.Time
}

// Store wraps the sqlite database.
type Store struct {
	logger *zap.Logger
	db     *gorm.DB
}

// Open opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for tests.
func Open(logger *zap.Logger, path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", path, err)
	}
	if err := db.AutoMigrate(&OrderRecord{}, &TradeRecord{}, &PositionRecord{}, &AccountRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate store schema: %w", err)
	}
	return &Store{logger: logger, db: db}, nil
}

// SaveOrder upserts an order.
func (s *Store) SaveOrder(o *models.Order) error {
	rec := orderToRecord(o)
	if err := s.db.Save(&rec).Error; err != nil {
		return fmt.Errorf("failed to save order %d: %w", o.ID, err)
	}
	return nil
}

// Order loads one order by id.
func (s *Store) Order(id uint64) (*models.Order, error) {
	var rec OrderRecord
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to load order %d: %w", id, err)
	}
	return recordToOrder(&rec)
}

// SaveTrades appends executed trades.
func (s *Store) SaveTrades(trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	recs := make([]TradeRecord, 0, len(trades))
	for i := range trades {
		recs = append(recs, tradeToRecord(&trades[i]))
	}
	if err := s.db.Save(&recs).Error; err != nil {
		return fmt.Errorf("failed to save trades: %w", err)
	}
	return nil
}

// TradesForOrder loads the executions recorded against an order.
func (s *Store) TradesForOrder(orderID uint64) ([]models.Trade, error) {
	var recs []TradeRecord
	if err := s.db.Where("order_id = ?", orderID).Order("timestamp").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load trades for order %d: %w", orderID, err)
	}
	out := make([]models.Trade, 0, len(recs))
	for i := range recs {
		t, err := recordToTrade(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

// SavePositions replaces the stored position set with the given one.
func (s *Store) SavePositions(positions []models.Position) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&PositionRecord{}).Error; err != nil {
			return err
		}
		for i := range positions {
			rec := positionToRecord(&positions[i])
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Positions loads all stored positions.
func (s *Store) Positions() ([]models.Position, error) {
	var recs []PositionRecord
	if err := s.db.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}
	out := make([]models.Position, 0, len(recs))
	for i := range recs {
		p, err := recordToPosition(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

// SaveAccount upserts the account snapshot.
func (s *Store) SaveAccount(a *models.Account) error {
	rec := accountToRecord(a)
	if err := s.db.Save(&rec).Error; err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// Account loads the stored account snapshot.
func (s *Store) Account() (*models.Account, error) {
	var rec AccountRecord
	if err := s.db.First(&rec).Error; err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return recordToAccount(&rec)
}

func orderToRecord(o *models.Order) OrderRecord {
	rec := OrderRecord{
		ID:             o.ID,
		Symbol:         o.Symbol,
		Side:           o.Side,
		Type:           o.Type,
		Quantity:       o.Quantity.String(),
		TimeInForce:    o.TimeInForce,
		Status:         o.Status,
		FilledQuantity: o.FilledQuantity.String(),
		AvgFillPrice:   o.AvgFillPrice.String(),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if o.LimitPrice != nil {
		s := o.LimitPrice.String()
		rec.LimitPrice = &s
	}
	if o.StopPrice != nil {
		s := o.StopPrice.String()
		rec.StopPrice = &s
	}
	return rec
}

func recordToOrder(rec *OrderRecord) (*models.Order, error) {
	o := &models.Order{
		ID:          rec.ID,
		Symbol:      rec.Symbol,
		Side:        rec.Side,
		Type:        rec.Type,
		TimeInForce: rec.TimeInForce,
		Status:      rec.Status,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	var err error
	if o.Quantity, err = decimal.NewFromString(rec.Quantity); err != nil {
		return nil, fmt.Errorf("corrupt quantity for order %d: %w", rec.ID, err)
	}
	if o.FilledQuantity, err = decimal.NewFromString(rec.FilledQuantity); err != nil {
		return nil, fmt.Errorf("corrupt filled quantity for order %d: %w", rec.ID, err)
	}
	if o.AvgFillPrice, err = decimal.NewFromString(rec.AvgFillPrice); err != nil {
		return nil, fmt.Errorf("corrupt avg fill price for order %d: %w", rec.ID, err)
	}
	if rec.LimitPrice != nil {
		p, err := decimal.NewFromString(*rec.LimitPrice)
		if err != nil {
			return nil, fmt.Errorf("corrupt limit price for order %d: %w", rec.ID, err)
		}
		o.LimitPrice = &p
	}
	if rec.StopPrice != nil {
		p, err := decimal.NewFromString(*rec.StopPrice)
		if err != nil {
			return nil, fmt.Errorf("corrupt stop price for order %d: %w", rec.ID, err)
		}
		o.StopPrice = &p
	}
	return o, nil
}

func tradeToRecord(t *models.Trade) TradeRecord {
	return TradeRecord{
		ID:         t.ID.String(),
		OrderID:    t.OrderID,
		Symbol:     t.Symbol,
		Side:       t.Side,
		Quantity:   t.Quantity.String(),
		Price:      t.Price.String(),
		Commission: t.Commission.String(),
		Timestamp:  t.Timestamp,
	}
}

func recordToTrade(rec *TradeRecord) (*models.Trade, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt trade id %q: %w", rec.ID, err)
	}
	t := &models.Trade{
		ID:        id,
		OrderID:   rec.OrderID,
		Symbol:    rec.Symbol,
		Side:      rec.Side,
		Timestamp: rec.Timestamp,
	}
	if t.Quantity, err = decimal.NewFromString(rec.Quantity); err != nil {
		return nil, fmt.Errorf("corrupt quantity for trade %s: %w", rec.ID, err)
	}
	if t.Price, err = decimal.NewFromString(rec.Price); err != nil {
		return nil, fmt.Errorf("corrupt price for trade %s: %w", rec.ID, err)
	}
	if t.Commission, err = decimal.NewFromString(rec.Commission); err != nil {
		return nil, fmt.Errorf("corrupt commission for trade %s: %w", rec.ID, err)
	}
	return t, nil
}

func positionToRecord(p *models.Position) PositionRecord {
	return PositionRecord{
		Symbol:        p.Symbol,
		Quantity:      p.Quantity.String(),
		AvgPrice:      p.AvgPrice.String(),
		MarketPrice:   p.MarketPrice.String(),
		UnrealizedPnL: p.UnrealizedPnL.String(),
		RealizedPnL:   p.RealizedPnL.String(),
		UpdatedAt:     p.UpdatedAt,
	}
}

func recordToPosition(rec *PositionRecord) (*models.Position, error) {
	p := &models.Position{Symbol: rec.Symbol, UpdatedAt: rec.UpdatedAt}
	var err error
	if p.Quantity, err = decimal.NewFromString(rec.Quantity); err != nil {
		return nil, fmt.Errorf("corrupt quantity for position %s: %w", rec.Symbol, err)
	}
	if p.AvgPrice, err = decimal.NewFromString(rec.AvgPrice); err != nil {
		return nil, fmt.Errorf("corrupt avg price for position %s: %w", rec.Symbol, err)
	}
	if p.MarketPrice, err = decimal.NewFromString(rec.MarketPrice); err != nil {
		return nil, fmt.Errorf("corrupt market price for position %s: %w", rec.Symbol, err)
	}
	if p.UnrealizedPnL, err = decimal.NewFromString(rec.UnrealizedPnL); err != nil {
		return nil, fmt.Errorf("corrupt unrealized pnl for position %s: %w", rec.Symbol, err)
	}
	if p.RealizedPnL, err = decimal.NewFromString(rec.RealizedPnL); err != nil {
		return nil, fmt.Errorf("corrupt realized pnl for position %s: %w", rec.Symbol, err)
	}
	return p, nil
}

func accountToRecord(a *models.Account) AccountRecord {
	return AccountRecord{
		ID:              a.ID.String(),
		Cash:            a.Cash.String(),
		Equity:          a.Equity.String(),
		BuyingPower:     a.BuyingPower.String(),
		MarginUsed:      a.MarginUsed.String(),
		MarginAvailable: a.MarginAvailable.String(),
		RealizedPnL:     a.RealizedPnL.String(),
		UpdatedAt:       a.UpdatedAt,
	}
}

func recordToAccount(rec *AccountRecord) (*models.Account, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt account id %q: %w", rec.ID, err)
	}
	a := &models.Account{ID: id, UpdatedAt: rec.UpdatedAt}
	if a.Cash, err = decimal.NewFromString(rec.Cash); err != nil {
		return nil, fmt.Errorf("corrupt cash: %w", err)
	}
	if a.Equity, err = decimal.NewFromString(rec.Equity); err != nil {
		return nil, fmt.Errorf("corrupt equity: %w", err)
	}
	if a.BuyingPower, err = decimal.NewFromString(rec.BuyingPower); err != nil {
		return nil, fmt.Errorf("corrupt buying power: %w", err)
	}
	if a.MarginUsed, err = decimal.NewFromString(rec.MarginUsed); err != nil {
		return nil, fmt.Errorf("corrupt margin used: %w", err)
	}
	if a.MarginAvailable, err = decimal.NewFromString(rec.MarginAvailable); err != nil {
		return nil, fmt.Errorf("corrupt margin available: %w", err)
	}
	if a.RealizedPnL, err = decimal.NewFromString(rec.RealizedPnL); err != nil {
		return nil, fmt.Errorf("corrupt realized pnl: %w", err)
	}
	return a, nil
}
