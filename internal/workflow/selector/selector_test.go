package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wfmodel "tale-weaver-api/internal/workflow/model"
	apperrors "tale-weaver-api/pkg/errors"
)

func history(scores ...float64) ([]*wfmodel.GenerationAttempt, []*wfmodel.QualityAssessment) {
	attempts := make([]*wfmodel.GenerationAttempt, 0, len(scores))
	assessments := make([]*wfmodel.QualityAssessment, 0, len(scores))
	for i, s := range scores {
		n := i + 1
		attempts = append(attempts, &wfmodel.GenerationAttempt{AttemptNumber: n, Round: n})
		assessments = append(assessments, &wfmodel.QualityAssessment{AttemptNumber: n, OverallScore: s})
	}
	return attempts, assessments
}

func TestSelect(t *testing.T) {
	cases := map[string]struct {
		scores []float64
		want   int
	}{
		"single attempt below threshold": {[]float64{3.2}, 1},
		"highest wins":                   {[]float64{6, 8.5, 7}, 2},
		"tie prefers later attempt":      {[]float64{7, 9, 9}, 3},
		"earlier best beats final":       {[]float64{8.8, 5, 6}, 1},
		"all equal":                      {[]float64{5, 5, 5}, 3},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			attempts, assessments := history(tc.scores...)
			sel, err := Select(attempts, assessments)
			require.NoError(t, err)
			assert.Equal(t, tc.want, sel.AttemptNumber)
			assert.Same(t, attempts[tc.want-1], sel.Attempt)
			assert.Equal(t, tc.want, sel.Assessment.AttemptNumber)
		})
	}
}

func TestSelect_OrderIndependent(t *testing.T) {
	attempts, assessments := history(7, 9, 9)
	reversed := []*wfmodel.QualityAssessment{assessments[2], assessments[1], assessments[0]}

	sel, err := Select(attempts, reversed)
	require.NoError(t, err)
	assert.Equal(t, 3, sel.AttemptNumber)
}

func TestSelect_IgnoresUnmatchedAssessments(t *testing.T) {
	attempts, assessments := history(6, 7)
	assessments = append(assessments, &wfmodel.QualityAssessment{AttemptNumber: 9, OverallScore: 10})

	sel, err := Select(attempts, assessments)
	require.NoError(t, err)
	assert.Equal(t, 2, sel.AttemptNumber)
}

func TestSelect_Empty(t *testing.T) {
	_, err := Select(nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrSelectionFailed)

	attempts, _ := history(8)
	_, err = Select(attempts, nil)
	assert.ErrorIs(t, err, apperrors.ErrSelectionFailed)
}
