// Package events provides the typed event bus through which the core
// notifies callers of order updates, trades, execution results, and risk
// violations. Publishing never blocks: a subscriber that falls behind has
// events dropped and counted rather than stalling the trading path.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/frontier-trading/papercore/pkg/models"
)

const defaultBuffer = 256

// Bus fans out core events to per-kind subscriber channels.
type Bus struct {
	mu     sync.RWMutex
	closed bool

	orderSubs     []chan models.Order
	tradeSubs     []chan models.Trade
	execSubs      []chan models.ExecutionResult
	violationSubs []chan models.RiskViolation

	dropped atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// SubscribeOrders returns a channel receiving order state changes.
func (b *Bus) SubscribeOrders() <-chan models.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan models.Order, defaultBuffer)
	b.orderSubs = append(b.orderSubs, ch)
	return ch
}

// SubscribeTrades returns a channel receiving executed trades.
func (b *Bus) SubscribeTrades() <-chan models.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan models.Trade, defaultBuffer)
	b.tradeSubs = append(b.tradeSubs, ch)
	return ch
}

// SubscribeExecutions returns a channel receiving execution results.
func (b *Bus) SubscribeExecutions() <-chan models.ExecutionResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan models.ExecutionResult, defaultBuffer)
	b.execSubs = append(b.execSubs, ch)
	return ch
}

// SubscribeViolations returns a channel receiving advisory risk violations.
func (b *Bus) SubscribeViolations() <-chan models.RiskViolation {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan models.RiskViolation, defaultBuffer)
	b.violationSubs = append(b.violationSubs, ch)
	return ch
}

// PublishOrder delivers an order update to all subscribers.
func (b *Bus) PublishOrder(o models.Order) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.orderSubs {
		select {
		case ch <- o:
		default:
			b.dropped.Add(1)
		}
	}
}

// PublishTrade delivers a trade to all subscribers.
func (b *Bus) PublishTrade(t models.Trade) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.tradeSubs {
		select {
		case ch <- t:
		default:
			b.dropped.Add(1)
		}
	}
}

// PublishExecution delivers an execution result to all subscribers.
func (b *Bus) PublishExecution(r models.ExecutionResult) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.execSubs {
		select {
		case ch <- r:
		default:
			b.dropped.Add(1)
		}
	}
}

// PublishViolation delivers a risk violation to all subscribers.
func (b *Bus) PublishViolation(v models.RiskViolation) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.violationSubs {
		select {
		case ch <- v:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events dropped on slow subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.orderSubs {
		close(ch)
	}
	for _, ch := range b.tradeSubs {
		close(ch)
	}
	for _, ch := range b.execSubs {
		close(ch)
	}
	for _, ch := range b.violationSubs {
		close(ch)
	}
}
