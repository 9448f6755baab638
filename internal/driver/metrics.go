package driver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrader_cycles_total",
		Help: "Trading cycles by market and outcome.",
	}, []string{"market", "outcome"}) // traded, closed, error

	ordersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrader_orders_submitted_total",
		Help: "Orders accepted by the engine, by market.",
	}, []string{"market"})

	ordersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrader_orders_rejected_total",
		Help: "Orders declined before or at admission, by market.",
	}, []string{"market"})

	walletErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrader_wallet_errors_total",
		Help: "Per-wallet strategy passes that panicked or errored.",
	})
)
