// Package metrics exposes Prometheus counters and gauges for the trading
// loop, served at /metrics in the Prometheus text exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mtxTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exbot_ticks_total",
			Help: "Engine ticks by outcome",
		},
		[]string{"symbol", "outcome"}, // outcome: ok|error
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exbot_orders_total",
			Help: "Market orders placed",
		},
		[]string{"side"},
	)

	mtxExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exbot_exits_total",
			Help: "Position exits by category",
		},
		[]string{"category"},
	)

	mtxUpnl = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exbot_position_upnl",
			Help: "Unrealised pnl per position leg",
		},
		[]string{"symbol", "hold"},
	)
)

func init() {
	prometheus.MustRegister(mtxTicks, mtxOrders, mtxExits, mtxUpnl)
}

func TickProcessed(symbol string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	mtxTicks.WithLabelValues(symbol, outcome).Inc()
}

func OrderPlaced(side string) {
	mtxOrders.WithLabelValues(side).Inc()
}

func ExitFired(category string) {
	mtxExits.WithLabelValues(category).Inc()
}

func SetUpnl(symbol, hold string, v float64) {
	mtxUpnl.WithLabelValues(symbol, hold).Set(v)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
