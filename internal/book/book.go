// Package book implements the per-symbol resting order book. Entries are
// ordered by price (bids descending, asks ascending) and strict FIFO within
// a price level. Books are not self-locking; the owning order manager
// serializes access per symbol.
package book

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/frontier-trading/papercore/pkg/models"
)

// PriceLevel holds all resting orders at a single price, oldest first.
type PriceLevel struct {
	Price  decimal.Decimal
	orders []*models.Order
}

// Orders returns the level's orders in arrival order.
func (pl *PriceLevel) Orders() []*models.Order {
	return pl.orders
}

// Quantity returns the total unfilled quantity resting at this level.
func (pl *PriceLevel) Quantity() decimal.Decimal {
	total := decimal.Zero
	for _, o := range pl.orders {
		total = total.Add(o.Remaining())
	}
	return total
}

func (pl *PriceLevel) add(o *models.Order) {
	pl.orders = append(pl.orders, o)
}

// remove excises the order with the given id without disturbing the order of
// the remaining entries.
func (pl *PriceLevel) remove(id uint64) bool {
	for i, o := range pl.orders {
		if o.ID == id {
			pl.orders = append(pl.orders[:i], pl.orders[i+1:]...)
			return true
		}
	}
	return false
}

// Level is an aggregated price level as exposed to callers.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

// Book is the resting order book for one symbol. The caller must not mutate
// orders it hands in while they rest here except through the owning order
// manager.
type Book struct {
	Symbol string

	bids *btree.BTreeG[*PriceLevel]
	asks *btree.BTreeG[*PriceLevel]
	byID map[uint64]*models.Order
}

// New creates an empty book for the given symbol.
func New(symbol string) *Book {
	return &Book{
		Symbol: symbol,
		// Bids iterate highest price first, asks lowest first, so a forward
		// scan of either side walks orders in priority order.
		bids: btree.NewBTreeG(func(a, b *PriceLevel) bool { return a.Price.GreaterThan(b.Price) }),
		asks: btree.NewBTreeG(func(a, b *PriceLevel) bool { return a.Price.LessThan(b.Price) }),
		byID: make(map[uint64]*models.Order),
	}
}

func (b *Book) side(side string) *btree.BTreeG[*PriceLevel] {
	if side == models.SideBuy {
		return b.bids
	}
	return b.asks
}

// Add inserts a limit order maintaining price-time order. The order must
// carry a limit price.
func (b *Book) Add(o *models.Order) error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}
	if o.Symbol != b.Symbol {
		return fmt.Errorf("order symbol %s does not match book %s", o.Symbol, b.Symbol)
	}
	if o.LimitPrice == nil {
		return fmt.Errorf("resting order %d has no limit price", o.ID)
	}
	if _, exists := b.byID[o.ID]; exists {
		return fmt.Errorf("order %d already in book", o.ID)
	}
	tree := b.side(o.Side)
	pivot := &PriceLevel{Price: *o.LimitPrice}
	level, ok := tree.Get(pivot)
	if !ok {
		level = pivot
		tree.Set(level)
	}
	level.add(o)
	b.byID[o.ID] = o
	return nil
}

// Remove locates an order by id and excises it. It returns the removed order,
// or false if the id is not resting here.
func (b *Book) Remove(id uint64) (*models.Order, bool) {
	o, ok := b.byID[id]
	if !ok {
		return nil, false
	}
	tree := b.side(o.Side)
	pivot := &PriceLevel{Price: *o.LimitPrice}
	if level, found := tree.Get(pivot); found {
		level.remove(id)
		if len(level.orders) == 0 {
			tree.Delete(level)
		}
	}
	delete(b.byID, id)
	return o, true
}

// Update changes an order's price and/or quantity. A price change is
// cancel-then-reinsert and therefore loses time priority; this is a
// documented convention, not an oversight.
func (b *Book) Update(id uint64, newPrice, newQuantity decimal.Decimal) error {
	o, ok := b.byID[id]
	if !ok {
		return fmt.Errorf("order %d not in book", id)
	}
	if newQuantity.LessThanOrEqual(o.FilledQuantity) {
		return fmt.Errorf("new quantity %s below filled quantity %s", newQuantity, o.FilledQuantity)
	}
	b.Remove(id)
	price := newPrice
	o.LimitPrice = &price
	o.Quantity = newQuantity
	return b.Add(o)
}

// Get returns the resting order with the given id.
func (b *Book) Get(id uint64) (*models.Order, bool) {
	o, ok := b.byID[id]
	return o, ok
}

// Len returns the number of resting orders on both sides.
func (b *Book) Len() int {
	return len(b.byID)
}

// BestBid returns the highest resting bid price.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	if level, ok := b.bids.Min(); ok {
		return level.Price, true
	}
	return decimal.Zero, false
}

// BestAsk returns the lowest resting ask price.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	if level, ok := b.asks.Min(); ok {
		return level.Price, true
	}
	return decimal.Zero, false
}

// Spread returns best ask minus best bid. It reports false unless both sides
// have at least one resting order.
func (b *Book) Spread() (decimal.Decimal, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

// TopLevels returns up to n aggregated price levels per side, best first.
func (b *Book) TopLevels(n int) (bids, asks []Level) {
	collect := func(tree *btree.BTreeG[*PriceLevel]) []Level {
		out := make([]Level, 0, n)
		tree.Scan(func(level *PriceLevel) bool {
			out = append(out, Level{
				Price:    level.Price,
				Quantity: level.Quantity(),
				Orders:   len(level.orders),
			})
			return len(out) < n
		})
		return out
	}
	return collect(b.bids), collect(b.asks)
}

// Marketable returns the resting orders made executable by the given tick, in
// strict price-time order: bids whose limit is at or above the new ask, then
// asks whose limit is at or below the new bid. The caller executes the fills
// and removes filled orders via Remove.
func (b *Book) Marketable(tick *models.MarketTick) []*models.Order {
	var out []*models.Order
	b.bids.Scan(func(level *PriceLevel) bool {
		if level.Price.LessThan(tick.Ask) {
			return false
		}
		out = append(out, level.orders...)
		return true
	})
	b.asks.Scan(func(level *PriceLevel) bool {
		if level.Price.GreaterThan(tick.Bid) {
			return false
		}
		out = append(out, level.orders...)
		return true
	})
	return out
}

// Snapshot returns every resting order, bids in priority order then asks.
func (b *Book) Snapshot() []*models.Order {
	out := make([]*models.Order, 0, len(b.byID))
	b.bids.Scan(func(level *PriceLevel) bool {
		out = append(out, level.orders...)
		return true
	})
	b.asks.Scan(func(level *PriceLevel) bool {
		out = append(out, level.orders...)
		return true
	})
	return out
}
