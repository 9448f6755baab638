package marketdata

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	quoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrader_quote_requests_total",
		Help: "Upstream quote requests by outcome.",
	}, []string{"outcome"}) // success, failure, cache_hit, synthetic

	breakerTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrader_quote_breaker_trips_total",
		Help: "Times the market-data circuit breaker opened.",
	})
)
