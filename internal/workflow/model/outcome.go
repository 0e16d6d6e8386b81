package model

// OutcomeStatus 工作流对外结果类型
type OutcomeStatus string

const (
	OutcomeAccepted OutcomeStatus = "accepted"
	OutcomeRejected OutcomeStatus = "rejected"
	OutcomeFailed   OutcomeStatus = "failed"
)

// WorkflowOutcome 工作流唯一对外结果，Status 决定哪一个分支字段非空
// JSON 形状稳定，调用方可原样落库
type WorkflowOutcome struct {
	Status      OutcomeStatus    `json:"status"`
	WorkflowID  string           `json:"workflow_id"`
	Accepted    *AcceptedOutcome `json:"accepted,omitempty"`
	Rejected    *RejectedOutcome `json:"rejected,omitempty"`
	Failed      *FailedOutcome   `json:"failed,omitempty"`
	Diagnostics *Diagnostics     `json:"diagnostics,omitempty"`
}

type AcceptedOutcome struct {
	Content               string  `json:"content"`
	Title                 string  `json:"title"`
	QualityScore          float64 `json:"quality_score"`
	AttemptsMade          int     `json:"attempts_made"`
	SelectedAttemptNumber int     `json:"selected_attempt_number"`
	ThresholdMet          bool    `json:"threshold_met"`
	Degraded              bool    `json:"degraded,omitempty"`
	Cancelled             bool    `json:"cancelled,omitempty"`
}

type RejectedOutcome struct {
	Reasons        []string       `json:"reasons"`
	DetectedIssues []string       `json:"detected_issues,omitempty"`
	Code           ValidationCode `json:"code"`
}

type FailedOutcome struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

// Diagnostics 尝试历史，仅用于排查
type Diagnostics struct {
	Validation       *ValidationResult    `json:"validation,omitempty"`
	Attempts         []*GenerationAttempt `json:"attempts"`
	Assessments      []*QualityAssessment `json:"assessments"`
	GenerationErrors []string             `json:"generation_errors,omitempty"`
	Transitions      []Transition         `json:"transitions"`
	Rounds           int                  `json:"rounds"`
	DurationMs       int64                `json:"duration_ms"`
	Usage            LLMUsageMeta         `json:"usage"`
}

// IsAccepted 便捷判断
func (o *WorkflowOutcome) IsAccepted() bool {
	return o != nil && o.Status == OutcomeAccepted && o.Accepted != nil
}

// WithoutDiagnostics 返回去掉诊断信息的副本
func (o *WorkflowOutcome) WithoutDiagnostics() *WorkflowOutcome {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Diagnostics = nil
	return &cp
}
