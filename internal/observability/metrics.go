package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "intelliguard",
		Name:      "faces_detected_total",
		Help:      "Total number of frames in which at least one face was detected",
	})

	Recognitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intelliguard",
		Name:      "recognitions_total",
		Help:      "Recognition attempts by outcome",
	}, []string{"result"})

	MatchConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "intelliguard",
		Name:      "match_confidence_percent",
		Help:      "Confidence of predictions before the confidence floor is applied",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "intelliguard",
		Name:      "inference_duration_seconds",
		Help:      "Duration of vision stages",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"stage"})

	SamplesEnrolled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "intelliguard",
		Name:      "samples_enrolled_total",
		Help:      "Total number of face samples written to the corpus",
	})

	Trainings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intelliguard",
		Name:      "trainings_total",
		Help:      "Model trainings by outcome",
	}, []string{"result"})

	CorpusSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "intelliguard",
		Name:      "corpus_samples",
		Help:      "Number of samples in the currently loaded model",
	})

	CustodyOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intelliguard",
		Name:      "custody_operations_total",
		Help:      "Custody ledger operations by operation and outcome",
	}, []string{"op", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "intelliguard",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "intelliguard",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
