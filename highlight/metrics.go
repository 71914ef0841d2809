package highlight

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricsMessagesScanned = promauto.NewCounter(prometheus.CounterOpts{
	Name: "glowbot_highlight_messages_scanned_total",
	Help: "Messages run through the pattern index",
})

var metricsMatchesFound = promauto.NewCounter(prometheus.CounterOpts{
	Name: "glowbot_highlight_matches_total",
	Help: "Raw pattern matches before filtering",
})

var metricsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "glowbot_highlight_suppressed_total",
	Help: "Notification candidates suppressed, by reason",
}, []string{"reason"})

var metricsNotifications = promauto.NewCounter(prometheus.CounterOpts{
	Name: "glowbot_highlight_notifications_total",
	Help: "Notifications handed to the dispatcher",
})

var metricsIndexRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "glowbot_highlight_index_rebuilds_total",
	Help: "Pattern index rebuilds, by outcome",
}, []string{"result"})
