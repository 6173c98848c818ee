// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes decoder and telemetry counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Thermoquad/smastat/pkg/smabt"
)

const namespace = "smastat"

// NewRegistry creates a registry with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the scrape handler for reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics holds the smastat collectors
type Metrics struct {
	LinkPackets    *prometheus.CounterVec // labels: command
	SessionPackets *prometheus.CounterVec // labels: kind, direction
	DecodeErrors   *prometheus.CounterVec // labels: kind
	Anomalies      *prometheus.CounterVec // labels: type
	Queries        *prometheus.CounterVec // labels: query, result
	Connects       *prometheus.CounterVec // labels: result
	Values         *prometheus.GaugeVec   // labels: quantity, unit
	LastUpdate     prometheus.Gauge
}

// New registers and returns the smastat collectors
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LinkPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_packets_total",
			Help:      "Link packets decoded, by command.",
		}, []string{"command"}),
		SessionPackets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_packets_total",
			Help:      "Session packets decoded, by command kind and direction.",
		}, []string{"kind", "direction"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Decode errors, by kind.",
		}, []string{"kind"}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Validation anomalies, by type.",
		}, []string{"type"}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Inverter queries, by query type and result.",
		}, []string{"query", "result"}),
		Connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Session open attempts, by result.",
		}, []string{"result"}),
		Values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "value",
			Help:      "Latest decoded inverter value.",
		}, []string{"quantity", "unit"}),
		LastUpdate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_update_timestamp_seconds",
			Help:      "Unix time of the latest decoded value.",
		}),
	}
	reg.MustRegister(m.LinkPackets, m.SessionPackets, m.DecodeErrors, m.Anomalies,
		m.Queries, m.Connects, m.Values, m.LastUpdate)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveLink counts a decoded link packet
func (m *Metrics) ObserveLink(p *smabt.LinkPacket) {
	m.LinkPackets.WithLabelValues(p.Command.String()).Inc()
}

// ObserveSession counts a decoded session packet
func (m *Metrics) ObserveSession(p *smabt.SessionPacket) {
	direction := "request"
	if p.Command.IsResponse() {
		direction = "response"
	}
	kind := "unknown"
	if k, err := p.Command.Kind(); err == nil {
		kind = k.String()
	}
	m.SessionPackets.WithLabelValues(kind, direction).Inc()
}

// ObserveError counts a decode error
func (m *Metrics) ObserveError(err error) {
	m.DecodeErrors.WithLabelValues(smabt.ErrorKind(err)).Inc()
}

// ObserveAnomalies counts validation anomalies
func (m *Metrics) ObserveAnomalies(anomalies []smabt.ValidationError) {
	for _, a := range anomalies {
		m.Anomalies.WithLabelValues(a.Type.String()).Inc()
	}
}

// ObserveQuery counts a query result
func (m *Metrics) ObserveQuery(q smabt.QueryType, err error) {
	m.Queries.WithLabelValues(q.String(), result(err)).Inc()
}

// ObserveConnect counts a session open attempt
func (m *Metrics) ObserveConnect(err error) {
	m.Connects.WithLabelValues(result(err)).Inc()
}

// ObserveElements publishes the decoded values as gauges
func (m *Metrics) ObserveElements(elements smabt.Elements) {
	var latest time.Time
	for q, e := range elements {
		m.Values.WithLabelValues(q.String(), q.Unit()).Set(e.Value.Float64())
		if e.Timestamp.After(latest) {
			latest = e.Timestamp
		}
	}
	if !latest.IsZero() {
		m.LastUpdate.Set(float64(latest.Unix()))
	}
}

// Serve runs the scrape endpoint until ctx is cancelled
func Serve(ctx context.Context, addr, path string, reg *prometheus.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(path, Handler(reg))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server forced to shutdown", zap.Error(err))
		}
	}()

	logger.Info("Serving metrics", zap.String("addr", addr), zap.String("path", path))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
