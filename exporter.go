// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "modbus_sim"

// ExporterOptions selects the runtime collectors registered next to the
// simulator metrics.
type ExporterOptions struct {
	GoCollector      bool
	ProcessCollector bool
}

// Exporter publishes ServerMetrics in the Prometheus text format.
type Exporter struct {
	reg *prometheus.Registry
}

// NewExporter creates a registry holding a collector over m.
func NewExporter(m *ServerMetrics, opts ExporterOptions) *Exporter {
	e := &Exporter{reg: prometheus.NewRegistry()}
	e.reg.MustRegister(newServerCollector(m))

	e.reg.MustRegister(collectors.NewBuildInfoCollector())
	if opts.GoCollector {
		e.reg.MustRegister(collectors.NewGoCollector())
	}
	if opts.ProcessCollector {
		e.reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return e
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.reg
}

// Handler returns the /metrics HTTP handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{Registry: e.reg})
}

// ListenAndServe serves /metrics on addr until ctx is done.
func (e *Exporter) ListenAndServe(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics listener: %w", err)
	}
	return nil
}

// serverCollector converts a ServerMetrics snapshot into const metrics on
// every scrape.
type serverCollector struct {
	m *ServerMetrics

	requests      *prometheus.Desc
	exceptions    *prometheus.Desc
	duration      *prometheus.Desc
	framingErrors *prometheus.Desc
	activeConns   *prometheus.Desc
	totalConns    *prometheus.Desc
	rejectedConns *prometheus.Desc
}

func newServerCollector(m *ServerMetrics) *serverCollector {
	fn := []string{"function"}
	return &serverCollector{
		m: m,
		requests: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "requests_total"),
			"Requests served, by function code", fn, nil),
		exceptions: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "exceptions_total"),
			"Requests answered with an exception response, by function code", fn, nil),
		duration: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "request_duration_seconds"),
			"Time from decoding a request to encoding its response", fn, nil),
		framingErrors: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "framing_errors_total"),
			"Connections closed because of an undecodable frame", nil, nil),
		activeConns: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "connections_active"),
			"Currently open client connections", nil, nil),
		totalConns: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "connections_total"),
			"Client connections accepted", nil, nil),
		rejectedConns: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "connections_rejected_total"),
			"Client connections refused at the connection limit", nil, nil),
	}
}

func (c *serverCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.exceptions
	ch <- c.duration
	ch <- c.framingErrors
	ch <- c.activeConns
	ch <- c.totalConns
	ch <- c.rejectedConns
}

func (c *serverCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.framingErrors, prometheus.CounterValue, float64(c.m.FramingErrors.Value()))
	ch <- prometheus.MustNewConstMetric(c.activeConns, prometheus.GaugeValue, float64(c.m.ActiveConns.Value()))
	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.CounterValue, float64(c.m.TotalConns.Value()))
	ch <- prometheus.MustNewConstMetric(c.rejectedConns, prometheus.CounterValue, float64(c.m.RejectedConns.Value()))

	c.m.rangeFunctions(func(fc FunctionCode, fm *FunctionMetrics) {
		name := fc.String()
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(fm.Requests.Value()), name)
		ch <- prometheus.MustNewConstMetric(c.exceptions, prometheus.CounterValue, float64(fm.Exceptions.Value()), name)
		buckets, count, sum := fm.Latency.cumulative()
		ch <- prometheus.MustNewConstHistogram(c.duration, count, sum, buckets, name)
	})
}
