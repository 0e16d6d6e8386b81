package orchestrator

import (
	wfmodel "tale-weaver-api/internal/workflow/model"
	apperrors "tale-weaver-api/pkg/errors"
)

// BuildOutcome 将终态快照转换为对外结果
func BuildOutcome(s *wfmodel.WorkflowState) *wfmodel.WorkflowOutcome {
	out := &wfmodel.WorkflowOutcome{
		WorkflowID:  s.ID,
		Diagnostics: buildDiagnostics(s),
	}

	switch s.Status {
	case wfmodel.StatusSelected:
		n := *s.SelectedAttemptNumber
		attempt := s.Attempt(n)
		qa := s.AssessmentFor(n)
		out.Status = wfmodel.OutcomeAccepted
		out.Accepted = &wfmodel.AcceptedOutcome{
			Content:               attempt.Content,
			Title:                 attempt.Title,
			QualityScore:          qa.OverallScore,
			AttemptsMade:          len(s.Attempts),
			SelectedAttemptNumber: n,
			ThresholdMet:          qa.MeetsThreshold,
			Degraded:              qa.Degraded,
			Cancelled:             s.Cancelled,
		}
	case wfmodel.StatusRejected:
		out.Status = wfmodel.OutcomeRejected
		rej := &wfmodel.RejectedOutcome{Reasons: []string{}, DetectedIssues: []string{}}
		if v := s.Validation; v != nil {
			rej.Reasons = v.Reasons
			rej.DetectedIssues = v.DetectedIssues
			rej.Code = v.Code
		}
		out.Rejected = rej
	default:
		out.Status = wfmodel.OutcomeFailed
		out.Failed = &wfmodel.FailedOutcome{
			Error:     s.Error,
			Code:      string(failureCode(s)),
			Cancelled: s.Cancelled,
		}
	}
	return out
}

func failureCode(s *wfmodel.WorkflowState) apperrors.ErrorCode {
	switch {
	case s.Cancelled:
		return apperrors.CodeCancelled
	case len(s.GenerationErrors) > 0 && len(s.Assessments) == 0:
		return apperrors.CodeGenerationFailed
	default:
		return apperrors.CodeInternalError
	}
}

func buildDiagnostics(s *wfmodel.WorkflowState) *wfmodel.Diagnostics {
	d := &wfmodel.Diagnostics{
		Validation:       s.Validation,
		Attempts:         s.Attempts,
		Assessments:      s.Assessments,
		GenerationErrors: s.GenerationErrors,
		Transitions:      s.Transitions,
		Rounds:           s.Rounds,
		DurationMs:       s.FinishedAt.Sub(s.StartedAt).Milliseconds(),
	}
	if d.Attempts == nil {
		d.Attempts = []*wfmodel.GenerationAttempt{}
	}
	if d.Assessments == nil {
		d.Assessments = []*wfmodel.QualityAssessment{}
	}
	for _, a := range s.Attempts {
		if d.Usage.Provider == "" {
			d.Usage.Provider = a.Usage.Provider
			d.Usage.Model = a.Usage.Model
		}
		d.Usage.Add(a.Usage)
	}
	return d
}
