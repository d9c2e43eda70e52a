package ws

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce     sync.Once
	droppedMessages *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		droppedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "punchcard",
			Subsystem: "stream",
			Name:      "dropped_messages_total",
			Help:      "Stream payloads not delivered because the hub or a client queue was full",
		}, []string{"reason"})
		if err := prometheus.Register(droppedMessages); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					droppedMessages = existing
				}
			}
		}
	})
}

func recordDropped(reason string) {
	droppedMessages.With(prometheus.Labels{"reason": reason}).Inc()
}
