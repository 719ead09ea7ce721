package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "session",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "session",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	TorrentsManaged = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "session",
		Name:      "torrents_managed",
		Help:      "Number of torrents currently in the registry.",
	})

	TorrentsByState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "session",
		Name:      "torrents_by_state",
		Help:      "Number of torrents per derived state.",
	}, []string{"state"})

	AlertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "session",
		Name:      "alerts_total",
		Help:      "Total engine alerts dispatched by kind.",
	}, []string{"kind"})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "session",
		Name:      "download_speed_bytes",
		Help:      "Current aggregate download speed in bytes per second.",
	})

	UploadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "session",
		Name:      "upload_speed_bytes",
		Help:      "Current aggregate upload speed in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "session",
		Name:      "peers_connected",
		Help:      "Total number of peers connected across all torrents.",
	})

	StateSavesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "session",
		Name:      "state_saves_total",
		Help:      "Total session state file writes.",
	})

	ResumeDataSavesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "session",
		Name:      "resume_data_saves_total",
		Help:      "Total fastresume archive writes.",
	})

	PersistDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "session",
		Name:      "persist_duration_seconds",
		Help:      "Duration of state and resume data writes in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	ObserverSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "session",
		Name:      "observer_sessions",
		Help:      "Number of connected status observers.",
	})

	EventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "session",
		Name:      "events_published_total",
		Help:      "Total session events published to observers by kind.",
	}, []string{"kind"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TorrentsManaged,
		TorrentsByState,
		AlertsTotal,
		DownloadSpeedBytes,
		UploadSpeedBytes,
		PeersConnected,
		StateSavesTotal,
		ResumeDataSavesTotal,
		PersistDuration,
		ObserverSessions,
		EventsPublishedTotal,
	)
}
