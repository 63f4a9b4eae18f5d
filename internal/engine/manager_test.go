package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/frontier-trading/papercore/internal/events"
	"github.com/frontier-trading/papercore/internal/ledger"
	"github.com/frontier-trading/papercore/internal/risk"
	pkgerrors "github.com/frontier-trading/papercore/pkg/errors"
	"github.com/frontier-trading/papercore/pkg/models"
)

func newTestManager() (*Manager, *ledger.Ledger) {
	log := zap.NewNop()
	led := ledger.New(log, decimal.NewFromInt(100000))
	bus := events.NewBus()
	riskEngine := risk.NewEngine(log, led, models.DefaultRiskLimits(), bus)
	m := NewManager(log, led, riskEngine, bus, Config{
		CommissionRate: decimal.Zero,
		Assets: []models.Asset{
			{Symbol: "AAPL", TickSize: decimal.NewFromFloat(0.01), LotSize: decimal.NewFromInt(1)},
			{Symbol: "MSFT", TickSize: decimal.NewFromFloat(0.01), LotSize: decimal.NewFromInt(1)},
		},
	})
	return m, led
}

func tick(symbol string, bid, ask, last, volume int64) models.MarketTick {
	return models.MarketTick{
		Symbol:    symbol,
		Bid:       decimal.NewFromInt(bid),
		Ask:       decimal.NewFromInt(ask),
		Last:      decimal.NewFromInt(last),
		Volume:    decimal.NewFromInt(volume),
		Timestamp: time.Now(),
	}
}

func marketOrder(symbol, side string, qty int64) models.Order {
	return models.Order{
		Symbol:   symbol,
		Side:     side,
		Type:     models.OrderTypeMarket,
		Quantity: decimal.NewFromInt(qty),
	}
}

func limitOrder(symbol, side string, qty, price int64) models.Order {
	p := decimal.NewFromInt(price)
	return models.Order{
		Symbol:     symbol,
		Side:       side,
		Type:       models.OrderTypeLimit,
		Quantity:   decimal.NewFromInt(qty),
		LimitPrice: &p,
	}
}

func TestSubmitRejectsInvalidOrder(t *testing.T) {
	m, _ := newTestManager()
	res := m.SubmitOrder(marketOrder("AAPL", models.SideBuy, 0))
	require.False(t, res.Success)
	assert.Equal(t, string(pkgerrors.KindValidation), res.Reason)
	assert.Equal(t, models.OrderStatusRejected, res.Order.Status)
}

func TestSubmitRejectsUnknownSymbol(t *testing.T) {
	m, _ := newTestManager()
	res := m.SubmitOrder(marketOrder("TSLA", models.SideBuy, 1))
	require.False(t, res.Success)
	assert.Equal(t, string(pkgerrors.KindInvalidSymbol), res.Reason)
}

func TestMarketOrderWithoutTickRejected(t *testing.T) {
	m, _ := newTestManager()
	res := m.SubmitOrder(marketOrder("AAPL", models.SideBuy, 1))
	require.False(t, res.Success)
	assert.Equal(t, string(pkgerrors.KindMarketUnavailable), res.Reason)
}

func TestMarketBuyFillsAtAsk(t *testing.T) {
	m, led := newTestManager()
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))

	res := m.SubmitOrder(marketOrder("AAPL", models.SideBuy, 50))
	require.True(t, res.Success, res.Message)
	assert.Equal(t, models.OrderStatusFilled, res.Order.Status)
	assert.True(t, res.Order.AvgFillPrice.Equal(decimal.NewFromInt(100)))
	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(decimal.NewFromInt(100)))

	assert.True(t, led.Account().Cash.Equal(decimal.NewFromInt(95000)))
	pos, err := m.GetPosition("AAPL")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(50)))
}

func TestMarketSellFillsAtBid(t *testing.T) {
	m, led := newTestManager()
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))
	require.True(t, m.SubmitOrder(marketOrder("AAPL", models.SideBuy, 50)).Success)

	res := m.SubmitOrder(marketOrder("AAPL", models.SideSell, 50))
	require.True(t, res.Success, res.Message)
	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(decimal.NewFromInt(99)))

	// Bought at 100, sold at 99.
	assert.True(t, led.Account().Cash.Equal(decimal.NewFromInt(99950)))
	_, err := m.GetPosition("AAPL")
	assert.Error(t, err)
}

func TestOrderIDsMonotonic(t *testing.T) {
	m, _ := newTestManager()
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))

	var last uint64
	for i := 0; i < 5; i++ {
		res := m.SubmitOrder(limitOrder("AAPL", models.SideBuy, 1, 90))
		require.True(t, res.Success)
		assert.Greater(t, res.Order.ID, last)
		last = res.Order.ID
	}
}

func TestLimitBuyRestsBelowMarket(t *testing.T) {
	m, _ := newTestManager()
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))

	res := m.SubmitOrder(limitOrder("AAPL", models.SideBuy, 10, 95))
	require.True(t, res.Success)
	assert.Equal(t, models.OrderStatusPending, res.Order.Status)
	assert.Empty(t, res.Trades)

	bids, _, err := m.GetBookLevels("AAPL", 5)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.True(t, bids[0].Price.Equal(decimal.NewFromInt(95)))

	active := m.GetActiveOrders()
	require.Len(t, active, 1)
	assert.Equal(t, res.Order.ID, active[0].ID)
}

func TestLimitBuyCrossingFillsAtCappedPrice(t *testing.T) {
	m, _ := newTestManager()
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))

	// Limit above the ask executes at the ask, never worse than the limit.
	res := m.SubmitOrder(limitOrder("AAPL", models.SideBuy, 10, 105))
	require.True(t, res.Success, res.Message)
	assert.Equal(t, models.OrderStatusFilled, res.Order.Status)
	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Price.Equal(decimal.NewFromInt(100)))
}

func TestIOCAndFOKNeverRest(t *testing.T) {
	m, _ := newTestManager()
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))

	for _, tif := range []string{models.TimeInForceIOC, models.TimeInForceFOK} {
		o := limitOrder("AAPL", models.SideBuy, 10, 95)
		o.TimeInForce = tif
		res := m.SubmitOrder(o)
		require.False(t, res.Success, tif)
		assert.Equal(t, string(pkgerrors.KindRejected), res.Reason)
		assert.Equal(t, models.OrderStatusCancelled, res.Order.Status)
	}

	bids, _, err := m.GetBookLevels("AAPL", 5)
	require.NoError(t, err)
	assert.Empty(t, bids)
}

func TestCancelRestingOrder(t *testing.T) {
	m, _ := newTestManager()
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))

	res := m.SubmitOrder(limitOrder("AAPL", models.SideBuy, 10, 95))
	require.True(t, res.Success)
	id := res.Order.ID

	cancel := m.CancelOrder(id)
	require.True(t, cancel.Success)
	assert.Equal(t, models.OrderStatusCancelled, cancel.Order.Status)

	// Cancelling again is a definitive conflict, not a silent no-op.
	again := m.CancelOrder(id)
	require.False(t, again.Success)
	assert.Equal(t, string(pkgerrors.KindStateConflict), again.Reason)

	unknown := m.CancelOrder(9999)
	require.False(t, unknown.Success)
	assert.Equal(t, string(pkgerrors.KindNotFound), unknown.Reason)
}

func TestCancelRejectedOrderIsStateConflict(t *testing.T) {
	m, _ := newTestManager()

	// An unknown-symbol rejection is registered for queries but never gets
	// book state for its symbol. Cancelling it must resolve to a conflict.
	res := m.SubmitOrder(marketOrder("TSLA", models.SideBuy, 1))
	require.False(t, res.Success)
	id := res.Order.ID

	var cancel models.ExecutionResult
	require.NotPanics(t, func() { cancel = m.CancelOrder(id) })
	require.False(t, cancel.Success)
	assert.Equal(t, string(pkgerrors.KindStateConflict), cancel.Reason)
	assert.Contains(t, cancel.Message, models.OrderStatusRejected)

	var modify models.ExecutionResult
	require.NotPanics(t, func() { modify = m.ModifyOrder(id, decimal.NewFromInt(2), nil) })
	require.False(t, modify.Success)
	assert.Equal(t, string(pkgerrors.KindStateConflict), modify.Reason)
}

func TestCancelAfterFillIsStateConflict(t *testing.T) {
	m, _ := newTestManager()
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))

	res := m.SubmitOrder(marketOrder("AAPL", models.SideBuy, 10))
	require.True(t, res.Success)

	cancel := m.CancelOrder(res.Order.ID)
	require.False(t, cancel.Success)
	assert.Equal(t, string(pkgerrors.KindStateConflict), cancel.Reason)
	assert.Contains(t, cancel.Message, models.OrderStatusFilled)
}

func TestCancelAllOrders(t *testing.T) {
	m, _ := newTestManager()
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))
	require.NoError(t, m.ProcessMarketTick(tick("MSFT", 199, 200, 200, 0)))

	require.True(t, m.SubmitOrder(limitOrder("AAPL", models.SideBuy, 1, 90)).Success)
	require.True(t, m.SubmitOrder(limitOrder("AAPL", models.SideBuy, 1, 91)).Success)
	require.True(t, m.SubmitOrder(limitOrder("MSFT", models.SideBuy, 1, 190)).Success)

	assert.Equal(t, 3, m.CancelAllOrders())
	assert.Empty(t, m.GetActiveOrders())
}

func TestModifyOrderIsCancelAndResubmit(t *testing.T) {
	m, _ := newTestManager()
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))

	res := m.SubmitOrder(limitOrder("AAPL", models.SideBuy, 10, 95))
	require.True(t, res.Success)
	origID := res.Order.ID

	newPrice := decimal.NewFromInt(96)
	mod := m.ModifyOrder(origID, decimal.NewFromInt(20), &newPrice)
	require.True(t, mod.Success, mod.Message)
	assert.Greater(t, mod.Order.ID, origID, "replacement gets a fresh id")
	assert.True(t, mod.Order.Quantity.Equal(decimal.NewFromInt(20)))
	assert.True(t, mod.Order.LimitPrice.Equal(newPrice))

	orig, err := m.GetOrder(origID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, orig.Status)
}

func TestModifyFilledOrderFails(t *testing.T) {
	m, _ := newTestManager()
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))

	res := m.SubmitOrder(marketOrder("AAPL", models.SideBuy, 10))
	require.True(t, res.Success)

	mod := m.ModifyOrder(res.Order.ID, decimal.NewFromInt(5), nil)
	require.False(t, mod.Success)
	assert.Equal(t, string(pkgerrors.KindStateConflict), mod.Reason)
}

func TestTickFillsRestingOrder(t *testing.T) {
	m, led := newTestManager()
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))

	res := m.SubmitOrder(limitOrder("AAPL", models.SideBuy, 10, 95))
	require.True(t, res.Success)

	// Market drops through the limit: execute at the quote, capped by the
	// limit.
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 90, 94, 92, 0)))

	o, err := m.GetOrder(res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, o.Status)
	assert.True(t, o.AvgFillPrice.Equal(decimal.NewFromInt(94)))
	assert.True(t, led.Account().Cash.Equal(decimal.NewFromInt(99060)))

	bids, _, err := m.GetBookLevels("AAPL", 5)
	require.NoError(t, err)
	assert.Empty(t, bids, "filled order must leave the book")
}

func TestTickVolumeCapsFillQuantity(t *testing.T) {
	m, _ := newTestManager()
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))

	res := m.SubmitOrder(limitOrder("AAPL", models.SideBuy, 100, 95))
	require.True(t, res.Success)

	// Only 30 units of liquidity this tick: partial fill, order keeps its
	// place in the book.
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 90, 94, 92, 30)))
	o, err := m.GetOrder(res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPartiallyFilled, o.Status)
	assert.True(t, o.FilledQuantity.Equal(decimal.NewFromInt(30)))

	bids, _, err := m.GetBookLevels("AAPL", 5)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.True(t, bids[0].Quantity.Equal(decimal.NewFromInt(70)))

	// The next tick finishes it.
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 90, 94, 92, 100)))
	o, err = m.GetOrder(res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusFilled, o.Status)
	require.Len(t, m.GetOrderTrades(o.ID), 2)
	assert.True(t, o.AvgFillPrice.Equal(decimal.NewFromInt(94)))
}

func TestStopOrderTriggers(t *testing.T) {
	m, _ := newTestManager()
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))

	stop := decimal.NewFromInt(105)
	res := m.SubmitOrder(models.Order{
		Symbol:    "AAPL",
		Side:      models.SideBuy,
		Type:      models.OrderTypeStop,
		Quantity:  decimal.NewFromInt(10),
		StopPrice: &stop,
	})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, models.OrderStatusPending, res.Order.Status)

	// Below the trigger: nothing happens.
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 103, 104, 104, 0)))
	o, _ := m.GetOrder(res.Order.ID)
	assert.Equal(t, models.OrderStatusPending, o.Status)

	// Through the trigger: executes as a market order at the ask.
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 105, 106, 105, 0)))
	o, _ = m.GetOrder(res.Order.ID)
	assert.Equal(t, models.OrderStatusFilled, o.Status)
	assert.True(t, o.AvgFillPrice.Equal(decimal.NewFromInt(106)))
}

func TestStopSellTriggersAtOrBelow(t *testing.T) {
	m, _ := newTestManager()
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))
	require.True(t, m.SubmitOrder(marketOrder("AAPL", models.SideBuy, 10)).Success)

	stop := decimal.NewFromInt(95)
	res := m.SubmitOrder(models.Order{
		Symbol:    "AAPL",
		Side:      models.SideSell,
		Type:      models.OrderTypeStop,
		Quantity:  decimal.NewFromInt(10),
		StopPrice: &stop,
	})
	require.True(t, res.Success, res.Message)

	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 94, 95, 94, 0)))
	o, _ := m.GetOrder(res.Order.ID)
	assert.Equal(t, models.OrderStatusFilled, o.Status)
	assert.True(t, o.AvgFillPrice.Equal(decimal.NewFromInt(94)))
}

func TestCommissionApplied(t *testing.T) {
	log := zap.NewNop()
	led := ledger.New(log, decimal.NewFromInt(100000))
	bus := events.NewBus()
	riskEngine := risk.NewEngine(log, led, models.DefaultRiskLimits(), bus)
	m := NewManager(log, led, riskEngine, bus, Config{
		CommissionRate: decimal.NewFromFloat(0.001),
		Assets:         []models.Asset{{Symbol: "AAPL"}},
	})
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))

	res := m.SubmitOrder(marketOrder("AAPL", models.SideBuy, 10))
	require.True(t, res.Success)
	require.Len(t, res.Trades, 1)
	assert.True(t, res.Trades[0].Commission.Equal(decimal.NewFromInt(1)))
	assert.True(t, led.Account().Cash.Equal(decimal.NewFromInt(98999)))
}

func TestRiskRejectionLeavesStateUntouched(t *testing.T) {
	m, led := newTestManager()
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))

	// 300 * 100 = 30000 breaches the 20% equity position policy.
	res := m.SubmitOrder(marketOrder("AAPL", models.SideBuy, 300))
	require.False(t, res.Success)
	assert.Equal(t, string(pkgerrors.KindRiskRejected), res.Reason)
	assert.True(t, led.Account().Cash.Equal(decimal.NewFromInt(100000)))
	assert.Empty(t, m.GetOrderTrades(res.Order.ID))
}

func TestParallelSubmitsAcrossSymbols(t *testing.T) {
	m, _ := newTestManager()
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))
	require.NoError(t, m.ProcessMarketTick(tick("MSFT", 199, 200, 200, 0)))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		symbol := "AAPL"
		price := int64(90)
		if i%2 == 1 {
			symbol = "MSFT"
			price = 190
		}
		wg.Add(1)
		go func(symbol string, price int64) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				res := m.SubmitOrder(limitOrder(symbol, models.SideBuy, 1, price))
				if !res.Success {
					panic(fmt.Sprintf("submit failed: %s", res.Message))
				}
			}
		}(symbol, price)
	}
	wg.Wait()

	assert.Len(t, m.GetActiveOrders(), 100)
	assert.Len(t, m.GetOrdersBySymbol("AAPL"), 50)
	assert.Len(t, m.GetOrdersBySymbol("MSFT"), 50)
}

func TestQueriesDuringTickFills(t *testing.T) {
	m, _ := newTestManager()
	require.NoError(t, m.ProcessMarketTick(tick("AAPL", 99, 100, 100, 0)))

	ids := make([]uint64, 0, 20)
	for i := 0; i < 20; i++ {
		res := m.SubmitOrder(limitOrder("AAPL", models.SideBuy, 10, 95))
		require.True(t, res.Success)
		ids = append(ids, res.Order.ID)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				for _, id := range ids {
					if _, err := m.GetOrder(id); err != nil {
						panic(fmt.Sprintf("query failed: %v", err))
					}
				}
				m.GetActiveOrders()
				m.GetOrdersBySymbol("AAPL")
				m.GetOrderTrades(ids[0])
			}
		}()
	}

	// Walk the price down through the resting limits. Each tick's volume
	// bounds the fill, so orders mutate repeatedly while being queried.
	for p := int64(97); p >= 90; p-- {
		require.NoError(t, m.ProcessMarketTick(tick("AAPL", p-1, p, p, 15)))
	}
	close(done)
	wg.Wait()

	for _, id := range ids {
		o, err := m.GetOrder(id)
		require.NoError(t, err)
		if o.Status == models.OrderStatusFilled {
			assert.True(t, o.FilledQuantity.Equal(o.Quantity))
		}
	}
}
