// Copyright 2025 UMH Systems GmbH
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

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/united-manufacturing-hub/transition/pkg/logger"
)

const (
	// Component Labels.
	ComponentTransitionMachine = "transition_machine"
	ComponentTransitionGroup   = "transition_group"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "umh"
	subsystem = "transition"

	// Phase change counters.
	phaseChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "phase_changes_total",
			Help:      "Total number of phase changes by component and target phase",
		},
		[]string{"component", "instance", "phase"},
	)

	// Interrupted transitions: a pending completion cancelled by a
	// superseding intent change or destruction.
	interruptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "interruptions_total",
			Help:      "Total number of in-flight transitions cancelled before completion",
		},
		[]string{"component", "instance"},
	)

	// Sequence timing.
	sequenceDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sequence_duration_milliseconds",
			Help:      "Time from sequence start to completion (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01, // 50th percentile with 1% error
				0.9:  0.01, // 90th percentile with 1% error
				0.95: 0.01, // 95th percentile with 1% error
				0.99: 0.01, // 99th percentile with 1% error
			},
		},
		[]string{"component", "instance", "direction"},
	)

	// Current phase metric.
	currentPhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "current_phase",
			Help:      "Current phase of the instance (0=Unmounted, 1=Exited, 2=Entering, 3=Entered, 4=Exiting, -1=Unknown)",
		},
		[]string{"component", "instance"},
	)
)

// RecordPhaseChange counts a phase change and updates the phase gauge.
func RecordPhaseChange(component, instance, phase string) {
	phaseChangesTotal.WithLabelValues(component, instance, phase).Inc()
	currentPhase.WithLabelValues(component, instance).Set(getPhaseValue(phase))
}

// InitPhaseMetrics initializes the metrics for an instance so dashboards see
// the instance before its first transition.
func InitPhaseMetrics(component, instance, phase string) {
	phaseChangesTotal.WithLabelValues(component, instance, phase).Add(0)
	interruptionsTotal.WithLabelValues(component, instance).Add(0)
	currentPhase.WithLabelValues(component, instance).Set(getPhaseValue(phase))
}

// IncInterruptions counts a cancelled in-flight transition.
func IncInterruptions(component, instance string) {
	interruptionsTotal.WithLabelValues(component, instance).Inc()
}

// ObserveSequenceDuration records the time a sequence took from start to
// completion. Direction is "enter", "appear" or "exit".
func ObserveSequenceDuration(component, instance, direction string, duration time.Duration) {
	sequenceDuration.WithLabelValues(component, instance, direction).Observe(float64(duration.Milliseconds()))
}

// getPhaseValue converts a phase string to a numeric value for the metric.
func getPhaseValue(phase string) float64 {
	switch phase {
	case "unmounted":
		return 0
	case "exited":
		return 1
	case "entering":
		return 2
	case "entered":
		return 3
	case "exiting":
		return 4
	default:
		return -1 // Unknown phase
	}
}

// SetupMetricsEndpoint starts an HTTP server to expose metrics
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.For("metrics").Errorf("Metrics endpoint failed: %v", err)
		}
	}()

	return server
}
