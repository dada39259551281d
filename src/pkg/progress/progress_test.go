package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTrackerWithSteps(t *testing.T) *Tracker {
	tr := New()
	require.NoError(t, tr.RegisterStep("export", 3))
	require.NoError(t, tr.RegisterStep("import", 5))
	require.NoError(t, tr.RegisterStep("verify", 2))
	return tr
}

func TestTracker_WeightedPercentage(t *testing.T) {
	tr := newTrackerWithSteps(t)
	assert.Equal(t, 0.0, tr.Percentage())

	require.NoError(t, tr.StartStep("export"))
	require.NoError(t, tr.CompleteStep("export", nil))
	assert.InDelta(t, 30.0, tr.Percentage(), 0.01)

	require.NoError(t, tr.StartStep("import"))
	require.NoError(t, tr.CompleteStep("import", map[string]interface{}{"imported": 10}))
	assert.InDelta(t, 80.0, tr.Percentage(), 0.01)

	// 失败的步骤不计入完成度
	require.NoError(t, tr.StartStep("verify"))
	require.NoError(t, tr.FailStep("verify", "integrity issues"))
	assert.InDelta(t, 80.0, tr.Percentage(), 0.01)
}

func TestTracker_CompleteBeforeStartIsError(t *testing.T) {
	tr := newTrackerWithSteps(t)
	err := tr.CompleteStep("export", nil)
	assert.Error(t, err)
}

func TestTracker_DoubleCompleteIsError(t *testing.T) {
	tr := newTrackerWithSteps(t)
	require.NoError(t, tr.StartStep("export"))
	require.NoError(t, tr.CompleteStep("export", nil))

	err := tr.CompleteStep("export", nil)
	assert.Error(t, err)
}

func TestTracker_UnknownStepIsError(t *testing.T) {
	tr := newTrackerWithSteps(t)
	assert.Error(t, tr.StartStep("no-such-step"))
	assert.Error(t, tr.FailStep("no-such-step", "x"))
}

func TestTracker_DuplicateRegistrationIsError(t *testing.T) {
	tr := New()
	require.NoError(t, tr.RegisterStep("export", 1))
	assert.Error(t, tr.RegisterStep("export", 2))
	assert.Error(t, tr.RegisterStep("zero", 0))
}

func TestTracker_EmitsEventsOnEveryTransition(t *testing.T) {
	tr := newTrackerWithSteps(t)

	var events []Event
	tr.AddListener(func(e Event) {
		events = append(events, e)
	})

	require.NoError(t, tr.StartStep("export"))
	require.NoError(t, tr.CompleteStep("export", nil))
	require.NoError(t, tr.StartStep("import"))
	require.NoError(t, tr.FailStep("import", "boom"))

	require.Len(t, events, 4)
	assert.Equal(t, StatusRunning, events[0].Status)
	assert.Equal(t, StatusCompleted, events[1].Status)
	assert.InDelta(t, 30.0, events[1].Percentage, 0.01)
	assert.Equal(t, StatusFailed, events[3].Status)
	assert.Equal(t, "boom", events[3].Message)
}

func TestTracker_Report(t *testing.T) {
	tr := newTrackerWithSteps(t)
	require.NoError(t, tr.StartStep("export"))
	require.NoError(t, tr.CompleteStep("export", nil))
	require.NoError(t, tr.StartStep("import"))
	require.NoError(t, tr.FailStep("import", "boom"))

	report := tr.Report()
	assert.InDelta(t, 30.0, report.Percentage, 0.01)
	assert.Len(t, report.Steps, 3)
	assert.Equal(t, []string{"import"}, report.FailedSteps)
}
