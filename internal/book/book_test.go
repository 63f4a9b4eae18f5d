package book

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontier-trading/papercore/pkg/models"
)

func limitOrder(id uint64, side string, price float64, qty int64) *models.Order {
	p := decimal.NewFromFloat(price)
	return &models.Order{
		ID:         id,
		Symbol:     "AAPL",
		Side:       side,
		Type:       models.OrderTypeLimit,
		Quantity:   decimal.NewFromInt(qty),
		LimitPrice: &p,
		Status:     models.OrderStatusPending,
	}
}

func TestAddAndBestPrices(t *testing.T) {
	b := New("AAPL")

	require.NoError(t, b.Add(limitOrder(1, models.SideBuy, 100.50, 10)))
	require.NoError(t, b.Add(limitOrder(2, models.SideBuy, 101.00, 5)))
	require.NoError(t, b.Add(limitOrder(3, models.SideSell, 102.00, 7)))
	require.NoError(t, b.Add(limitOrder(4, models.SideSell, 101.50, 3)))

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Equal(decimal.NewFromFloat(101.00)))

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Equal(decimal.NewFromFloat(101.50)))

	spread, ok := b.Spread()
	require.True(t, ok)
	assert.True(t, spread.Equal(decimal.NewFromFloat(0.50)))
	assert.Equal(t, 4, b.Len())
}

func TestAddRejectsBadOrders(t *testing.T) {
	b := New("AAPL")

	assert.Error(t, b.Add(nil))

	wrong := limitOrder(1, models.SideBuy, 100, 10)
	wrong.Symbol = "MSFT"
	assert.Error(t, b.Add(wrong))

	noPrice := limitOrder(2, models.SideBuy, 100, 10)
	noPrice.LimitPrice = nil
	assert.Error(t, b.Add(noPrice))

	require.NoError(t, b.Add(limitOrder(3, models.SideBuy, 100, 10)))
	assert.Error(t, b.Add(limitOrder(3, models.SideBuy, 100, 10)), "duplicate id must be rejected")
}

func TestFIFOWithinLevel(t *testing.T) {
	b := New("AAPL")

	require.NoError(t, b.Add(limitOrder(10, models.SideBuy, 100, 1)))
	require.NoError(t, b.Add(limitOrder(11, models.SideBuy, 100, 1)))
	require.NoError(t, b.Add(limitOrder(12, models.SideBuy, 100, 1)))

	snap := b.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, uint64(10), snap[0].ID)
	assert.Equal(t, uint64(11), snap[1].ID)
	assert.Equal(t, uint64(12), snap[2].ID)

	// Removing the middle order must not disturb arrival order.
	_, ok := b.Remove(11)
	require.True(t, ok)
	snap = b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, uint64(10), snap[0].ID)
	assert.Equal(t, uint64(12), snap[1].ID)
}

func TestPriceTimePriorityAcrossLevels(t *testing.T) {
	b := New("AAPL")

	require.NoError(t, b.Add(limitOrder(1, models.SideBuy, 100, 1)))
	require.NoError(t, b.Add(limitOrder(2, models.SideBuy, 102, 1)))
	require.NoError(t, b.Add(limitOrder(3, models.SideBuy, 101, 1)))
	require.NoError(t, b.Add(limitOrder(4, models.SideBuy, 102, 1)))

	snap := b.Snapshot()
	require.Len(t, snap, 4)
	// Highest price first; FIFO between 2 and 4 at 102.
	assert.Equal(t, []uint64{2, 4, 3, 1}, []uint64{snap[0].ID, snap[1].ID, snap[2].ID, snap[3].ID})
}

func TestUpdateLosesTimePriority(t *testing.T) {
	b := New("AAPL")

	require.NoError(t, b.Add(limitOrder(1, models.SideBuy, 100, 5)))
	require.NoError(t, b.Add(limitOrder(2, models.SideBuy, 100, 5)))

	// Re-pricing order 1 back onto the same level puts it behind order 2.
	require.NoError(t, b.Update(1, decimal.NewFromInt(100), decimal.NewFromInt(8)))

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, uint64(2), snap[0].ID)
	assert.Equal(t, uint64(1), snap[1].ID)
	assert.True(t, snap[1].Quantity.Equal(decimal.NewFromInt(8)))
}

func TestUpdateRejectsQuantityBelowFilled(t *testing.T) {
	b := New("AAPL")

	o := limitOrder(1, models.SideBuy, 100, 10)
	o.FilledQuantity = decimal.NewFromInt(4)
	require.NoError(t, b.Add(o))

	assert.Error(t, b.Update(1, decimal.NewFromInt(100), decimal.NewFromInt(3)))
	assert.Error(t, b.Update(99, decimal.NewFromInt(100), decimal.NewFromInt(3)))
}

func TestRemoveUnknown(t *testing.T) {
	b := New("AAPL")
	_, ok := b.Remove(42)
	assert.False(t, ok)
}

func TestTopLevelsAggregation(t *testing.T) {
	b := New("AAPL")

	require.NoError(t, b.Add(limitOrder(1, models.SideBuy, 100, 10)))
	require.NoError(t, b.Add(limitOrder(2, models.SideBuy, 100, 5)))
	require.NoError(t, b.Add(limitOrder(3, models.SideBuy, 99, 7)))
	require.NoError(t, b.Add(limitOrder(4, models.SideSell, 101, 2)))

	bids, asks := b.TopLevels(2)
	require.Len(t, bids, 2)
	require.Len(t, asks, 1)

	assert.True(t, bids[0].Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, bids[0].Quantity.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, 2, bids[0].Orders)
	assert.True(t, bids[1].Price.Equal(decimal.NewFromInt(99)))
	assert.True(t, asks[0].Price.Equal(decimal.NewFromInt(101)))

	// Partially filled quantity counts only the remainder.
	b2 := New("AAPL")
	o := limitOrder(9, models.SideBuy, 50, 10)
	o.FilledQuantity = decimal.NewFromInt(6)
	require.NoError(t, b2.Add(o))
	bids, _ = b2.TopLevels(1)
	require.Len(t, bids, 1)
	assert.True(t, bids[0].Quantity.Equal(decimal.NewFromInt(4)))
}

func TestMarketable(t *testing.T) {
	b := New("AAPL")

	require.NoError(t, b.Add(limitOrder(1, models.SideBuy, 105, 1))) // above new ask
	require.NoError(t, b.Add(limitOrder(2, models.SideBuy, 101, 1))) // above new ask
	require.NoError(t, b.Add(limitOrder(3, models.SideBuy, 95, 1)))  // not marketable
	require.NoError(t, b.Add(limitOrder(4, models.SideSell, 99, 1))) // below new bid
	require.NoError(t, b.Add(limitOrder(5, models.SideSell, 103, 1)))

	tick := models.MarketTick{
		Symbol: "AAPL",
		Bid:    decimal.NewFromInt(100),
		Ask:    decimal.NewFromInt(101),
		Last:   decimal.NewFromFloat(100.5),
	}
	got := b.Marketable(&tick)
	require.Len(t, got, 3)
	// Bids first in price order, then asks.
	assert.Equal(t, uint64(1), got[0].ID)
	assert.Equal(t, uint64(2), got[1].ID)
	assert.Equal(t, uint64(4), got[2].ID)
}
