// Package selector 在已评估的尝试中挑选最终结果
package selector

import (
	wfmodel "tale-weaver-api/internal/workflow/model"
	apperrors "tale-weaver-api/pkg/errors"
)

// Select 选出加权总分最高的尝试，同分取编号更大者；纯函数
func Select(attempts []*wfmodel.GenerationAttempt, assessments []*wfmodel.QualityAssessment) (*wfmodel.Selection, error) {
	byNumber := make(map[int]*wfmodel.GenerationAttempt, len(attempts))
	for _, a := range attempts {
		if a != nil {
			byNumber[a.AttemptNumber] = a
		}
	}

	var best *wfmodel.Selection
	for _, qa := range assessments {
		if qa == nil {
			continue
		}
		attempt, ok := byNumber[qa.AttemptNumber]
		if !ok {
			continue
		}
		if best == nil || beats(qa, best.Assessment) {
			best = &wfmodel.Selection{AttemptNumber: qa.AttemptNumber, Attempt: attempt, Assessment: qa}
		}
	}
	if best == nil {
		return nil, apperrors.ErrSelectionFailed.WithDetail("no assessed attempt to select from")
	}
	return best, nil
}

func beats(candidate, current *wfmodel.QualityAssessment) bool {
	if candidate.OverallScore != current.OverallScore {
		return candidate.OverallScore > current.OverallScore
	}
	return candidate.AttemptNumber > current.AttemptNumber
}
