package publisher

import "github.com/prometheus/client_golang/prometheus"

var (
	recordsWrittenTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_publisher_records_written_total",
		Help: "Records serialized into the send buffer",
	}, []string{"endpoint"})

	overflowFlushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_publisher_overflow_flush_total",
		Help: "Flushes forced by an append overflow",
	}, []string{"endpoint"})

	publishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_publisher_publish_total",
		Help: "Batches published",
	}, []string{"endpoint"})

	publishErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_publisher_publish_errors_total",
		Help: "Failed publish attempts",
	}, []string{"endpoint"})

	publishedBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_publisher_published_bytes_total",
		Help: "Payload bytes handed to the transport",
	}, []string{"endpoint"})

	connectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_publisher_connects_total",
		Help: "Successful connects and reconnects",
	}, []string{"endpoint"})

	connectErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_publisher_connect_errors_total",
		Help: "Failed connect and reconnect attempts",
	}, []string{"endpoint"})

	framingErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_publisher_framing_errors_total",
		Help: "Batches dropped because the framing could not be closed",
	}, []string{"endpoint"})

	bufferFillBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mqtt_publisher_buffer_fill_bytes",
		Help: "Current fill of the send buffer",
	}, []string{"endpoint"})
)

func init() {
	prometheus.MustRegister(recordsWrittenTotal)
	prometheus.MustRegister(overflowFlushTotal)
	prometheus.MustRegister(publishTotal)
	prometheus.MustRegister(publishErrorsTotal)
	prometheus.MustRegister(publishedBytesTotal)
	prometheus.MustRegister(connectsTotal)
	prometheus.MustRegister(connectErrorsTotal)
	prometheus.MustRegister(framingErrorsTotal)
	prometheus.MustRegister(bufferFillBytes)
}
