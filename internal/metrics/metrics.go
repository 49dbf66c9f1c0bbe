package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Service health
var ServiceUp = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "service_up",
		Help: "Whether the service is up (1 = up, 0 = down)",
	},
)

// SetServiceUp sets the service health status
func SetServiceUp(up bool) {
	if up {
		ServiceUp.Set(1)
	} else {
		ServiceUp.Set(0)
	}
}
