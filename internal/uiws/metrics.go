package uiws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "uiws_connections",
		Help: "Open UI websocket connections",
	})
	metricMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uiws_messages_total",
		Help: "UI websocket messages by direction and type",
	}, []string{"direction", "type"})
	metricInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uiws_invalid_messages_total",
		Help: "Inbound UI messages that could not be decoded",
	})
)
