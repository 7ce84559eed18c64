// Package receiver accepts telemetry records over HTTP and hands them to
// the endpoint registry.
package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/szibis/mqtt-publisher/internal/logging"
	"github.com/szibis/mqtt-publisher/internal/record"
)

const maxRequestBodySize = 4 << 20

var (
	recordsReceivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mqtt_publisher_records_received_total",
		Help: "Records accepted by the ingest receiver",
	})

	receiverErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mqtt_publisher_receiver_errors_total",
		Help: "Ingest requests rejected, by reason",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(recordsReceivedTotal)
	prometheus.MustRegister(receiverErrorsTotal)
}

// Writer delivers one record to all configured destinations.
type Writer interface {
	Write(rec *record.Record) error
}

// HTTP is the record ingest receiver. It accepts POST /v1/records with a
// JSON array of record objects in the same field layout the publisher emits.
type HTTP struct {
	addr   string
	writer Writer
	server *http.Server
}

// NewHTTP creates an ingest receiver writing into w.
func NewHTTP(addr string, w Writer) *HTTP {
	r := &HTTP{addr: addr, writer: w}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/records", r.handleRecords)
	r.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return r
}

// Start serves until Stop is called.
func (r *HTTP) Start() error {
	logging.Info("ingest receiver started", logging.F("addr", r.addr, "path", "/v1/records"))
	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (r *HTTP) Stop(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}

// wireRecord is the ingest wire layout; time and interval are seconds, as in
// the published encoding.
type wireRecord struct {
	Host           string          `json:"host"`
	Plugin         string          `json:"plugin"`
	PluginInstance string          `json:"plugin_instance"`
	Type           string          `json:"type"`
	TypeInstance   string          `json:"type_instance"`
	Time           float64         `json:"time"`
	Interval       float64         `json:"interval"`
	DSNames        []string        `json:"dsnames"`
	DSTypes        []record.DSType `json:"dstypes"`
	Values         []float64       `json:"values"`
}

func (w *wireRecord) toRecord() *record.Record {
	rec := &record.Record{
		Host:           w.Host,
		Plugin:         w.Plugin,
		PluginInstance: w.PluginInstance,
		Type:           w.Type,
		TypeInstance:   w.TypeInstance,
		Interval:       time.Duration(w.Interval * float64(time.Second)),
		DSNames:        w.DSNames,
		DSTypes:        w.DSTypes,
		Values:         w.Values,
	}
	if w.Time > 0 {
		sec, frac := math.Modf(w.Time)
		rec.Time = time.Unix(int64(sec), int64(frac*1e9))
	} else {
		rec.Time = time.Now()
	}
	return rec
}

func (r *HTTP) handleRecords(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		receiverErrorsTotal.WithLabelValues("method").Inc()
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var wires []wireRecord
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxRequestBodySize))
	if err := dec.Decode(&wires); err != nil {
		receiverErrorsTotal.WithLabelValues("decode").Inc()
		http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
		return
	}

	for i := range wires {
		rec := wires[i].toRecord()
		if err := rec.Validate(); err != nil {
			receiverErrorsTotal.WithLabelValues("invalid_record").Inc()
			http.Error(w, fmt.Sprintf("invalid record: %v", err), http.StatusBadRequest)
			return
		}
		if err := r.writer.Write(rec); err != nil {
			// Endpoint failures are logged (throttled) at the
			// endpoint; the producer only needs the status.
			receiverErrorsTotal.WithLabelValues("write").Inc()
			http.Error(w, "write failed", http.StatusServiceUnavailable)
			return
		}
		recordsReceivedTotal.Inc()
	}

	w.WriteHeader(http.StatusNoContent)
}
