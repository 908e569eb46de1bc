// Package metrics collects Prometheus metrics for API calls, store
// operations and image uploads.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements brain.Recorder and store.Recorder.
type Collector struct {
	apiCalls      *prometheus.CounterVec
	apiLatency    *prometheus.HistogramVec
	storeOps      *prometheus.CounterVec
	uploadBatches *prometheus.CounterVec
	uploadedFiles prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resellkit_api_calls_total",
			Help: "Calls to the AI/analytics backend by route and HTTP status.",
		}, []string{"route", "status_code"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resellkit_api_call_duration_seconds",
			Help:    "Latency of calls to the AI/analytics backend.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resellkit_store_operations_total",
			Help: "Store operations by store, operation and result.",
		}, []string{"store", "op", "result"}),
		uploadBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resellkit_image_upload_batches_total",
			Help: "Listing image upload batches by result.",
		}, []string{"result"}),
		uploadedFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "resellkit_images_uploaded_total",
			Help: "Listing images uploaded in successful batches.",
		}),
	}

	reg.MustRegister(
		c.apiCalls,
		c.apiLatency,
		c.storeOps,
		c.uploadBatches,
		c.uploadedFiles,
	)

	return c
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveAPICall records one backend call. status is 0 when no response was
// received.
func (c *Collector) ObserveAPICall(route string, status int, duration time.Duration) {
	c.apiCalls.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.apiLatency.WithLabelValues(route).Observe(duration.Seconds())
}

func (c *Collector) ObserveStoreOp(store, op string, err error) {
	c.storeOps.WithLabelValues(store, op, result(err)).Inc()
}

func (c *Collector) ObserveUpload(count int, err error) {
	c.uploadBatches.WithLabelValues(result(err)).Inc()
	if err == nil {
		c.uploadedFiles.Add(float64(count))
	}
}

// Handler returns the HTTP handler for Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
