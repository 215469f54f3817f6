package response

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secops-platform/secops-core/internal/playbook"
)

func terminalExecution(status playbook.ExecutionStatus, steps ...playbook.StepResult) *playbook.Execution {
	started := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	exec := &playbook.Execution{
		ID:         "exec-1",
		PlaybookID: "malware-response",
		EventID:    "event-1",
		Status:     status,
		Steps:      steps,
		StartedAt:  started,
		EndedAt:    started.Add(12 * time.Minute),
	}
	exec.ComputeMetrics()
	return exec
}

// TestBuildReport tests the full report derivation for a clean execution.
func TestBuildReport(t *testing.T) {
	exec := terminalExecution(playbook.ExecutionCompleted,
		playbook.StepResult{StepID: "isolate", Name: "Isolate", Type: playbook.StepContainment,
			Automated: true, Status: playbook.StepCompleted, Attempts: 1, Duration: 30 * time.Second},
		playbook.StepResult{StepID: "forensics", Name: "Forensics", Type: playbook.StepInvestigation,
			Automated: true, Status: playbook.StepCompleted, Attempts: 1, Duration: 2 * time.Minute},
		playbook.StepResult{StepID: "notify", Name: "Notify", Type: playbook.StepNotification,
			Automated: true, Status: playbook.StepCompleted, Attempts: 1, Duration: 5 * time.Second},
	)
	pb := &playbook.Playbook{ID: "malware-response", Name: "Malware Response"}

	report := BuildReport(exec, pb)

	assert.Equal(t, "exec-1", report.ExecutionID)
	assert.Equal(t, "malware-response", report.PlaybookID)
	assert.Equal(t, "completed", report.Status)
	assert.Contains(t, report.Summary, "Malware Response")
	assert.Contains(t, report.Summary, "3/3 steps completed")
	require.Len(t, report.ActionLog, 3)
	assert.Equal(t, "isolate", report.ActionLog[0].StepID)
	assert.Equal(t, "containment", report.ActionLog[0].Type)

	// Phase attribution by step type.
	assert.Equal(t, 2*time.Minute, report.Timing.Detection)
	assert.Equal(t, 30*time.Second, report.Timing.Containment)
	assert.Equal(t, 5*time.Second, report.Timing.Response)
	assert.Equal(t, exec.Metrics.TotalDuration, report.Timing.Total)

	assert.Equal(t, []string{"No remediation gaps identified"}, report.Recommendations)
}

// TestBuildReportRecommendations tests the remediation heuristics.
func TestBuildReportRecommendations(t *testing.T) {
	t.Run("failed steps and slow containment", func(t *testing.T) {
		started := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
		exec := &playbook.Execution{
			ID: "exec-2", PlaybookID: "p", EventID: "e",
			Status: playbook.ExecutionFailed,
			Steps: []playbook.StepResult{
				{StepID: "a", Type: playbook.StepContainment, Automated: false, Status: playbook.StepFailed, Error: "timeout"},
			},
			StartedAt: started,
			EndedAt:   started.Add(45 * time.Minute),
		}
		exec.ComputeMetrics()

		report := BuildReport(exec, nil)
		require.Len(t, report.Recommendations, 3)
		assert.Contains(t, report.Recommendations[0], "1 failed step(s)")
		assert.Contains(t, report.Recommendations[1], "exceeded 30 minutes")
		assert.Contains(t, report.Recommendations[2], "Automation rate")
	})

	t.Run("manual-heavy playbook", func(t *testing.T) {
		exec := terminalExecution(playbook.ExecutionCompleted,
			playbook.StepResult{StepID: "a", Type: playbook.StepContainment, Automated: true, Status: playbook.StepCompleted},
			playbook.StepResult{StepID: "b", Type: playbook.StepRecovery, Automated: false, Status: playbook.StepCompleted},
		)
		report := BuildReport(exec, nil)
		require.NotEmpty(t, report.Recommendations)
		assert.Contains(t, report.Recommendations[0], "Automation rate")
	})
}

// TestComplianceMappings tests the framework control tables and the
// completion-ratio bucketing.
func TestComplianceMappings(t *testing.T) {
	exec := terminalExecution(playbook.ExecutionCompleted,
		playbook.StepResult{StepID: "contain-1", Type: playbook.StepContainment, Automated: true, Status: playbook.StepCompleted},
		playbook.StepResult{StepID: "contain-2", Type: playbook.StepContainment, Automated: true, Status: playbook.StepFailed},
		playbook.StepResult{StepID: "investigate", Type: playbook.StepInvestigation, Automated: true, Status: playbook.StepCompleted},
	)

	report := BuildReport(exec, nil)

	byControl := make(map[string]ComplianceMapping)
	for _, m := range report.Compliance {
		byControl[m.Framework+"/"+m.ControlID] = m
	}

	// Containment maps to RS.MI-1/RS.MI-2 under NIST and A.16.1.5 under
	// ISO 27001; one of two containment steps completed -> 0.5 ratio.
	mi1, ok := byControl["nist_csf/RS.MI-1"]
	require.True(t, ok)
	assert.Equal(t, []string{"contain-1", "contain-2"}, mi1.Steps)
	assert.Equal(t, StatusNonCompliant, mi1.Status)

	iso, ok := byControl["iso27001/A.16.1.5"]
	require.True(t, ok)
	assert.Equal(t, StatusNonCompliant, iso.Status)

	// The investigation step completed fully.
	ae2, ok := byControl["nist_csf/DE.AE-2"]
	require.True(t, ok)
	assert.Equal(t, StatusCompliant, ae2.Status)

	// Recovery never ran, so its controls are absent rather than failed.
	_, ok = byControl["nist_csf/RC.RP-1"]
	assert.False(t, ok)
}

func TestBucketStatus(t *testing.T) {
	tests := []struct {
		ratio float64
		want  ComplianceStatus
	}{
		{1.0, StatusCompliant},
		{0.9, StatusCompliant},
		{0.89, StatusPartial},
		{0.7, StatusPartial},
		{0.69, StatusNonCompliant},
		{0.0, StatusNonCompliant},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, bucketStatus(tt.ratio), "ratio %.2f", tt.ratio)
	}
}
