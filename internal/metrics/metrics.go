// Package metrics exposes engine health and throughput gauges via
// Prometheus. Durability problems in the writer pipeline surface here
// rather than as errors on the matching path.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all engine metrics. One instance is shared by the
// exchange and every writer.
type Collector struct {
	registry *prometheus.Registry

	// Matching metrics
	OrdersAccepted *prometheus.CounterVec // by instrument, order type
	OrdersRejected prometheus.Counter
	TradesMatched  *prometheus.CounterVec // by instrument
	TradeVolume    *prometheus.CounterVec // contracts, by instrument
	CancelsTotal   *prometheus.CounterVec // by instrument
	RestingOrders  *prometheus.GaugeVec   // by instrument

	// Durable writer health
	QueueDepth         prometheus.Gauge
	WriterRetries      prometheus.Counter
	WriterPoisoned     prometheus.Counter
	WriterBackpressure prometheus.Counter

	// Broadcast
	BroadcastClients prometheus.Gauge
	BroadcastDropped prometheus.Counter
}

// NewCollector builds and registers all metrics on a private registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		OrdersAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clob_orders_accepted_total",
			Help: "Orders accepted by the exchange",
		}, []string{"instrument", "type"}),
		OrdersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clob_orders_rejected_total",
			Help: "Order submissions rejected at validation",
		}),
		TradesMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clob_trades_total",
			Help: "Trades produced by matching",
		}, []string{"instrument"}),
		TradeVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clob_trade_volume_contracts_total",
			Help: "Total contracts traded",
		}, []string{"instrument"}),
		CancelsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clob_cancels_total",
			Help: "Successful order cancellations",
		}, []string{"instrument"}),
		RestingOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "clob_resting_orders",
			Help: "Live orders currently resting per book",
		}, []string{"instrument"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clob_durable_queue_depth",
			Help: "Events waiting in the durable writer queue",
		}),
		WriterRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clob_durable_retries_total",
			Help: "Transient storage errors retried by the durable consumer",
		}),
		WriterPoisoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clob_durable_poisoned_total",
			Help: "Events skipped after exhausting retries; durability was lost",
		}),
		WriterBackpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clob_durable_backpressure_total",
			Help: "Enqueues that found the durable queue full",
		}),
		BroadcastClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clob_broadcast_clients",
			Help: "Connected broadcast subscribers",
		}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clob_broadcast_dropped_total",
			Help: "Broadcast events dropped on a full channel or slow client",
		}),
	}

	c.registry.MustRegister(
		c.OrdersAccepted, c.OrdersRejected, c.TradesMatched, c.TradeVolume,
		c.CancelsTotal, c.RestingOrders,
		c.QueueDepth, c.WriterRetries, c.WriterPoisoned, c.WriterBackpressure,
		c.BroadcastClients, c.BroadcastDropped,
	)
	return c
}

// Handler returns the scrape handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing /metrics on the given port.
func (c *Collector) NewServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}
