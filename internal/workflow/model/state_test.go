package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tale-weaver-api/internal/domain/entity"
)

func TestRubricWeightsSumToOne(t *testing.T) {
	sum := 0.0
	for _, cw := range Rubric {
		sum += cw.Weight
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Len(t, Criteria(), 6)
	assert.Equal(t, 0.15, WeightOf(CriterionEngagement))
	assert.Zero(t, WeightOf("humour"))
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusValidating))
	assert.True(t, CanTransition(StatusAssessing, StatusGenerating))
	assert.True(t, CanTransition(StatusGenerating, StatusGenerating))
	assert.False(t, CanTransition(StatusPending, StatusGenerating))
	assert.False(t, CanTransition(StatusAssessing, StatusFailed))

	for _, terminal := range []WorkflowStatus{StatusSelected, StatusRejected, StatusFailed} {
		assert.True(t, terminal.IsTerminal())
		for _, to := range []WorkflowStatus{StatusPending, StatusValidating, StatusGenerating, StatusAssessing} {
			assert.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}
}

func TestStateRecordsAlignedAttempts(t *testing.T) {
	s := NewWorkflowState("wf-1", &entity.GenerationRequest{})
	require.NoError(t, s.TransitionTo(StatusValidating, ""))
	require.NoError(t, s.TransitionTo(StatusGenerating, "approved"))

	require.NoError(t, s.AddAttempt(&GenerationAttempt{AttemptNumber: 1}))
	assert.Error(t, s.AddAttempt(&GenerationAttempt{AttemptNumber: 2}), "attempt 1 is not assessed yet")
	assert.Error(t, s.AddAssessment(&QualityAssessment{AttemptNumber: 2}))
	require.NoError(t, s.AddAssessment(&QualityAssessment{AttemptNumber: 1, OverallScore: 6}))
	assert.Error(t, s.AddAssessment(&QualityAssessment{AttemptNumber: 1}))
	assert.Error(t, s.AddAttempt(&GenerationAttempt{AttemptNumber: 3}))

	require.NoError(t, s.TransitionTo(StatusAssessing, ""))
	require.NoError(t, s.Select(1, "best of available"))

	require.NoError(t, s.CheckInvariants())
	assert.Equal(t, StatusSelected, s.Status)
	assert.Equal(t, 1, *s.SelectedAttemptNumber)
	assert.False(t, s.FinishedAt.IsZero())
	assert.Len(t, s.Transitions, 4)
}

func TestSelectRejectsUnknownAttempt(t *testing.T) {
	s := NewWorkflowState("wf-2", &entity.GenerationRequest{})
	require.NoError(t, s.TransitionTo(StatusValidating, ""))
	require.NoError(t, s.TransitionTo(StatusGenerating, ""))

	assert.Error(t, s.Select(1, ""))
	assert.Nil(t, s.SelectedAttemptNumber)
	require.NoError(t, s.Fail("generation failed"))
	require.NoError(t, s.CheckInvariants())
	assert.Error(t, s.TransitionTo(StatusGenerating, ""))
}
