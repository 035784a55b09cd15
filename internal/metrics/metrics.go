// Package metrics holds the Prometheus collectors for ingestion, embedding and retrieval.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pdfrag"

var (
	DocumentsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "documents_ingested_total",
		Help:      "Documents committed to the index.",
	})

	ChunksIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_ingested_total",
		Help:      "Chunks committed to the index.",
	})

	IngestRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_rejected_total",
		Help:      "Uploads rejected before commit, by reason.",
	}, []string{"reason"})

	EmbedDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "embed_duration_seconds",
		Help:      "Time spent producing one embedding.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"embedder"})

	EmbedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embed_errors_total",
		Help:      "Failed embedding calls.",
	}, []string{"embedder"})

	RetrievalHits = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "retrieval_hits",
		Help:      "Chunks returned per retrieval after thresholding.",
		Buckets:   prometheus.LinearBuckets(0, 1, 11),
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
