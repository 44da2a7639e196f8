package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// simulation pipeline.
type Metrics struct {
	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsFailed  prometheus.Counter

	// Radar acquisition metrics.
	VolumesDownloaded prometheus.Counter
	DownloadErrors    prometheus.Counter
	DownloadBytes     prometheus.Counter
	DownloadDuration  prometheus.Histogram

	// Munger metrics.
	VolumesMunged prometheus.Counter
	MungeErrors   prometheus.Counter
	MungeDuration prometheus.Histogram

	// Placefile metrics.
	PlacefilesTransposed prometheus.Counter
	TransposeLineErrors  prometheus.Counter

	// Playback metrics.
	PlaybackTicks   prometheus.Counter
	TickDuration    prometheus.Histogram
	PublishErrors   prometheus.Counter
	ToolInvocations *prometheus.CounterVec // labels: tool, outcome={ok,error}
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "radar_sim",
			Name:      "sessions_active",
			Help:      "Number of sessions currently registered.",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_sim",
			Name:      "sessions_created_total",
			Help:      "Total sessions created.",
		}),
		SessionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_sim",
			Name:      "sessions_failed_total",
			Help:      "Total sessions that reached the FAILED state.",
		}),
		VolumesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_sim",
			Name:      "volumes_downloaded_total",
			Help:      "Total Archive-II volume files fetched from the store.",
		}),
		DownloadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_sim",
			Name:      "download_errors_total",
			Help:      "Total objects abandoned after retry exhaustion.",
		}),
		DownloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_sim",
			Name:      "download_bytes_total",
			Help:      "Total bytes fetched from the Level-II store.",
		}),
		DownloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "radar_sim",
			Name:      "download_duration_seconds",
			Help:      "Duration of a single object download.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		VolumesMunged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_sim",
			Name:      "volumes_munged_total",
			Help:      "Total volume files re-timed and republished.",
		}),
		MungeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_sim",
			Name:      "munge_errors_total",
			Help:      "Total volume files skipped by the munger.",
		}),
		MungeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "radar_sim",
			Name:      "munge_duration_seconds",
			Help:      "Duration of a single header rewrite and recompression.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		PlacefilesTransposed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_sim",
			Name:      "placefiles_transposed_total",
			Help:      "Total placefiles shifted in time and space.",
		}),
		TransposeLineErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_sim",
			Name:      "transpose_line_errors_total",
			Help:      "Total placefile lines passed through after a parse failure.",
		}),
		PlaybackTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_sim",
			Name:      "playback_ticks_total",
			Help:      "Total playback clock ticks across all sessions.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "radar_sim",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one publish pass (dir.list, placefile trim, gallery).",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "radar_sim",
			Name:      "publish_errors_total",
			Help:      "Total aborted ticks due to manifest write failures.",
		}),
		ToolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "radar_sim",
			Name:      "tool_invocations_total",
			Help:      "External helper invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
	}

	prometheus.MustRegister(
		m.SessionsActive,
		m.SessionsCreated,
		m.SessionsFailed,
		m.VolumesDownloaded,
		m.DownloadErrors,
		m.DownloadBytes,
		m.DownloadDuration,
		m.VolumesMunged,
		m.MungeErrors,
		m.MungeDuration,
		m.PlacefilesTransposed,
		m.TransposeLineErrors,
		m.PlaybackTicks,
		m.TickDuration,
		m.PublishErrors,
		m.ToolInvocations,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		SessionsActive:       prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "radar_sim", Name: "sessions_active"}),
		SessionsCreated:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_sim", Name: "sessions_created_total"}),
		SessionsFailed:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_sim", Name: "sessions_failed_total"}),
		VolumesDownloaded:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_sim", Name: "volumes_downloaded_total"}),
		DownloadErrors:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_sim", Name: "download_errors_total"}),
		DownloadBytes:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_sim", Name: "download_bytes_total"}),
		DownloadDuration:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "radar_sim", Name: "download_duration_seconds"}),
		VolumesMunged:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_sim", Name: "volumes_munged_total"}),
		MungeErrors:          prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_sim", Name: "munge_errors_total"}),
		MungeDuration:        prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "radar_sim", Name: "munge_duration_seconds"}),
		PlacefilesTransposed: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_sim", Name: "placefiles_transposed_total"}),
		TransposeLineErrors:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_sim", Name: "transpose_line_errors_total"}),
		PlaybackTicks:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_sim", Name: "playback_ticks_total"}),
		TickDuration:         prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "radar_sim", Name: "tick_duration_seconds"}),
		PublishErrors:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "radar_sim", Name: "publish_errors_total"}),
		ToolInvocations:      prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "radar_sim", Name: "tool_invocations_total"}, []string{"tool", "outcome"}),
	}
}
