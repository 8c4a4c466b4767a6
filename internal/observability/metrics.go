package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crtplink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"device", "link", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crtplink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"device", "link", "method", "path", "status"},
	)
	packets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crtplink",
			Subsystem: "link",
			Name:      "packets_total",
			Help:      "CRTP packets by direction and port.",
		},
		[]string{"direction", "port"},
	)
	drops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crtplink",
			Subsystem: "link",
			Name:      "dropped_total",
			Help:      "Inbound packets dropped by reason.",
		},
		[]string{"port", "reason"},
	)
	tocFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crtplink",
			Subsystem: "toc",
			Name:      "fetches_total",
			Help:      "Completed TOC synchronizations by namespace and source.",
		},
		[]string{"namespace", "source"},
	)
	tocItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "crtplink",
			Subsystem: "toc",
			Name:      "items",
			Help:      "Registered variables per namespace.",
		},
		[]string{"namespace"},
	)
	logSamples = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crtplink",
			Subsystem: "log",
			Name:      "samples_total",
			Help:      "Decoded log block samples.",
		},
		[]string{"block"},
	)
	handshakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crtplink",
			Subsystem: "handshake",
			Name:      "duration_seconds",
			Help:      "Connection handshake duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			packets,
			drops,
			tocFetches,
			tocItems,
			logSamples,
			handshakeDuration,
		)
	})
}

// RecordHTTPRequest counts one status request; link is the link state
// (LinkDown, LinkHandshake, LinkReady) when it was answered.
func RecordHTTPRequest(device, link, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(device, link, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(device, link, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordPacket(direction, port string) {
	RegisterMetrics()
	packets.WithLabelValues(direction, port).Inc()
}

func RecordDrop(port, reason string) {
	RegisterMetrics()
	drops.WithLabelValues(port, reason).Inc()
}

func RecordTOCFetch(namespace string, fromCache bool, items int) {
	RegisterMetrics()
	source := "device"
	if fromCache {
		source = "cache"
	}
	tocFetches.WithLabelValues(namespace, source).Inc()
	tocItems.WithLabelValues(namespace).Set(float64(items))
}

func RecordLogSample(block uint8) {
	RegisterMetrics()
	logSamples.WithLabelValues(strconv.Itoa(int(block))).Inc()
}

func RecordHandshake(duration time.Duration, success bool) {
	RegisterMetrics()
	handshakeDuration.WithLabelValues(strconv.FormatBool(success)).Observe(duration.Seconds())
}
