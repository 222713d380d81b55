package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRunsStarted_IncrementsByWorkflow(t *testing.T) {
	RunsStarted.Reset()
	RunsStarted.WithLabelValues("deploy").Inc()
	RunsStarted.WithLabelValues("deploy").Inc()
	RunsStarted.WithLabelValues("backup").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(RunsStarted.WithLabelValues("deploy")))
	assert.Equal(t, float64(1), testutil.ToFloat64(RunsStarted.WithLabelValues("backup")))
}

func TestRunsCompleted_TracksStatus(t *testing.T) {
	RunsCompleted.Reset()
	RunsCompleted.WithLabelValues("deploy", "success").Inc()
	RunsCompleted.WithLabelValues("deploy", "failed").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(RunsCompleted.WithLabelValues("deploy", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(RunsCompleted.WithLabelValues("deploy", "failed")))
}

func TestActiveRuns_GaugeIncDec(t *testing.T) {
	ActiveRuns.Set(0)
	ActiveRuns.Inc()
	ActiveRuns.Inc()
	assert.Equal(t, float64(2), testutil.ToFloat64(ActiveRuns))
	ActiveRuns.Dec()
	assert.Equal(t, float64(1), testutil.ToFloat64(ActiveRuns))
}

func TestBudgetRejections_ByDimension(t *testing.T) {
	BudgetRejections.Reset()
	BudgetRejections.WithLabelValues("deploy", "tokens").Inc()
	BudgetRejections.WithLabelValues("deploy", "cost").Inc()
	BudgetRejections.WithLabelValues("deploy", "cost").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(BudgetRejections.WithLabelValues("deploy", "tokens")))
	assert.Equal(t, float64(2), testutil.ToFloat64(BudgetRejections.WithLabelValues("deploy", "cost")))
}

func TestPermissionDenials_ByResourceType(t *testing.T) {
	PermissionDenials.Reset()
	PermissionDenials.WithLabelValues("shell").Inc()
	PermissionDenials.WithLabelValues("tool").Inc()
	PermissionDenials.WithLabelValues("tool").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(PermissionDenials.WithLabelValues("shell")))
	assert.Equal(t, float64(2), testutil.ToFloat64(PermissionDenials.WithLabelValues("tool")))
}

func TestAuditChainLength_Gauge(t *testing.T) {
	AuditChainLength.Reset()
	AuditChainLength.WithLabelValues("deploy").Set(5)
	assert.Equal(t, float64(5), testutil.ToFloat64(AuditChainLength.WithLabelValues("deploy")))
}

func TestTriggerQueueDepth_ByMechanism(t *testing.T) {
	TriggerQueueDepth.Reset()
	TriggerQueueDepth.WithLabelValues("cron").Set(3)
	TriggerQueueDepth.WithLabelValues("watch").Set(1)

	assert.Equal(t, float64(3), testutil.ToFloat64(TriggerQueueDepth.WithLabelValues("cron")))
	assert.Equal(t, float64(1), testutil.ToFloat64(TriggerQueueDepth.WithLabelValues("watch")))
}
