// Copyright 2025 Tom Barlow
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

// Package metrics holds the daemon-health counters/gauges the runner and
// trigger manager update as they work: active runs, trigger registrations,
// audit chain length, and budget rejections.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_runs_started_total",
			Help: "Total workflow runs started, by workflow name",
		},
		[]string{"workflow"},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_runs_completed_total",
			Help: "Total workflow runs completed, by workflow name and final status",
		},
		[]string{"workflow", "status"},
	)

	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conductor_active_runs",
			Help: "Number of workflow runs currently executing",
		},
	)

	BudgetRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_budget_rejections_total",
			Help: "Total runs aborted for exceeding their token/cost/resource budget, by workflow name and dimension",
		},
		[]string{"workflow", "dimension"},
	)

	PermissionDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conductor_permission_denials_total",
			Help: "Total tool/shell/file actions denied by the permission engine, by resource type",
		},
		[]string{"resource_type"},
	)

	AuditChainLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conductor_audit_chain_length",
			Help: "Number of entries appended to a run's hash-chained audit log",
		},
		[]string{"workflow"},
	)

	TriggerQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "conductor_trigger_queue_depth",
			Help: "Number of registered triggers by mechanism (cron, watch, event)",
		},
		[]string{"mechanism"},
	)
)
