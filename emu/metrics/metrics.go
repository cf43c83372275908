/*
 * scsihba - Adapter metrics
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package metrics counts adapter activity for Prometheus. Every adapter
// has its own registry, a nil *Metrics counts nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scsihba"

type Metrics struct {
	reg          *prometheus.Registry
	submitted    prometheus.Counter
	completed    *prometheus.CounterVec
	interrupts   *prometheus.CounterVec
	negotiations *prometheus.CounterVec
	recovery     *prometheus.CounterVec
	resets       *prometheus.CounterVec
	busy         prometheus.Gauge
}

// Create metrics labeled with adapter id.
func New(adapter string) *Metrics {
	labels := prometheus.Labels{"adapter": adapter}
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_submitted_total",
			Help: "Commands accepted by the adapter.", ConstLabels: labels,
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "commands_completed_total",
			Help: "Commands completed, by completion status.", ConstLabels: labels,
		}, []string{"status"}),
		interrupts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "interrupts_total",
			Help: "Interrupts serviced, by class.", ConstLabels: labels,
		}, []string{"class"}),
		negotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "negotiations_total",
			Help: "Transfer negotiations, by message family and outcome.", ConstLabels: labels,
		}, []string{"family", "outcome"}),
		recovery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "recovery_messages_total",
			Help: "Abort and reset messages sent to targets.", ConstLabels: labels,
		}, []string{"message"}),
		resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "resets_total",
			Help: "Adapter and bus resets, by kind.", ConstLabels: labels,
		}, []string{"kind"}),
		busy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "tasks_busy",
			Help: "Task records in flight.", ConstLabels: labels,
		}),
	}
	m.reg.MustRegister(m.submitted, m.completed, m.interrupts, m.negotiations,
		m.recovery, m.resets, m.busy)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// HTTP handler serving this adapter's metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Submitted() {
	if m != nil {
		m.submitted.Inc()
	}
}

func (m *Metrics) Completed(status string) {
	if m != nil {
		m.completed.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) Interrupt(class string) {
	if m != nil {
		m.interrupts.WithLabelValues(class).Inc()
	}
}

func (m *Metrics) Negotiation(family, outcome string) {
	if m != nil {
		m.negotiations.WithLabelValues(family, outcome).Inc()
	}
}

func (m *Metrics) Recovery(message string) {
	if m != nil {
		m.recovery.WithLabelValues(message).Inc()
	}
}

func (m *Metrics) Reset(kind string) {
	if m != nil {
		m.resets.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Busy(n int) {
	if m != nil {
		m.busy.Set(float64(n))
	}
}
