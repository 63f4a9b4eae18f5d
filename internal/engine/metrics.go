package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papercore_orders_accepted_total",
		Help: "Orders accepted by the order manager.",
	})
	ordersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papercore_orders_rejected_total",
		Help: "Orders rejected, by reason.",
	}, []string{"reason"})
	ordersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papercore_orders_cancelled_total",
		Help: "Orders cancelled.",
	})
	tradesExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papercore_trades_total",
		Help: "Fills executed.",
	})
	ticksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papercore_ticks_total",
		Help: "Market ticks processed.",
	})
	accountEquity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papercore_account_equity",
		Help: "Current account equity.",
	})
)
