package model

import (
	"fmt"
	"time"

	"tale-weaver-api/internal/domain/entity"
)

// WorkflowStatus 工作流状态
type WorkflowStatus string

const (
	StatusPending    WorkflowStatus = "PENDING"
	StatusValidating WorkflowStatus = "VALIDATING"
	StatusGenerating WorkflowStatus = "GENERATING"
	StatusAssessing  WorkflowStatus = "ASSESSING"
	StatusSelected   WorkflowStatus = "SELECTED"
	StatusRejected   WorkflowStatus = "REJECTED"
	StatusFailed     WorkflowStatus = "FAILED"
)

// IsTerminal 是否为终态
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case StatusSelected, StatusRejected, StatusFailed:
		return true
	default:
		return false
	}
}

// allowedTransitions 状态机允许的迁移
// VALIDATING -> FAILED 仅用于校验期间调用方取消
var allowedTransitions = map[WorkflowStatus][]WorkflowStatus{
	StatusPending:    {StatusValidating},
	StatusValidating: {StatusRejected, StatusGenerating, StatusFailed},
	StatusGenerating: {StatusAssessing, StatusGenerating, StatusSelected, StatusFailed},
	StatusAssessing:  {StatusSelected, StatusGenerating},
}

// CanTransition 判断迁移是否合法
func CanTransition(from, to WorkflowStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type ValidationCode string

const (
	ValidationApproved           ValidationCode = "approved"
	ValidationPolicyViolation    ValidationCode = "policy_violation"
	ValidationIPReference        ValidationCode = "ip_reference"
	ValidationServiceUnavailable ValidationCode = "service_unavailable"
	ValidationInvalidRequest     ValidationCode = "invalid_request"
)

// ReasonValidationUnavailable 校验服务不可用时的固定拒绝理由
const ReasonValidationUnavailable = "validation service unavailable"

// ValidationResult 请求校验结论
// Stage 为给出结论的阶段：1 为本地词表扫描，2 为外部分类服务
type ValidationResult struct {
	Approved       bool           `json:"approved"`
	Reasons        []string       `json:"reasons"`
	DetectedIssues []string       `json:"detected_issues"`
	Code           ValidationCode `json:"code"`
	Stage          int            `json:"stage"`
	Cached         bool           `json:"cached,omitempty"`
}

type GenerationAttempt struct {
	AttemptNumber   int          `json:"attempt_number"`
	Round           int          `json:"round"`
	Content         string       `json:"content"`
	Title           string       `json:"title"`
	Temperature     float32      `json:"temperature"`
	ModelIdentifier string       `json:"model_identifier"`
	CreatedAt       time.Time    `json:"created_at"`
	Usage           LLMUsageMeta `json:"usage"`
}

// AssessmentSource 评估结果的解析来源
type AssessmentSource string

const (
	AssessmentSourceStructured AssessmentSource = "structured"
	AssessmentSourceText       AssessmentSource = "text"
	AssessmentSourceDefault    AssessmentSource = "default"
)

type QualityAssessment struct {
	AttemptNumber  int                  `json:"attempt_number"`
	Scores         map[Criterion]int    `json:"per_criterion_scores"`
	Comments       map[Criterion]string `json:"comments,omitempty"`
	OverallScore   float64              `json:"overall_score"`
	FeedbackText   string               `json:"feedback_text"`
	MeetsThreshold bool                 `json:"meets_threshold"`
	Degraded       bool                 `json:"degraded"`
	Source         AssessmentSource     `json:"source"`
}

// Selection 选择结果
type Selection struct {
	AttemptNumber int
	Attempt       *GenerationAttempt
	Assessment    *QualityAssessment
}

type Transition struct {
	From   WorkflowStatus `json:"from"`
	To     WorkflowStatus `json:"to"`
	Reason string         `json:"reason,omitempty"`
	At     time.Time      `json:"at"`
}

// WorkflowState 单次工作流执行的聚合根，只由编排器持有和修改
type WorkflowState struct {
	ID                    string                    `json:"id"`
	Request               *entity.GenerationRequest `json:"request"`
	Validation            *ValidationResult         `json:"validation,omitempty"`
	Attempts              []*GenerationAttempt      `json:"attempts"`
	Assessments           []*QualityAssessment      `json:"assessments"`
	Status                WorkflowStatus            `json:"status"`
	SelectedAttemptNumber *int                      `json:"selected_attempt_number,omitempty"`
	Error                 string                    `json:"error,omitempty"`
	Cancelled             bool                      `json:"cancelled,omitempty"`
	Rounds                int                       `json:"rounds"`
	GenerationErrors      []string                  `json:"generation_errors,omitempty"`
	Transitions           []Transition              `json:"transitions"`
	StartedAt             time.Time                 `json:"started_at"`
	FinishedAt            time.Time                 `json:"finished_at,omitempty"`
}

func NewWorkflowState(id string, req *entity.GenerationRequest) *WorkflowState {
	return &WorkflowState{
		ID:        id,
		Request:   req,
		Status:    StatusPending,
		StartedAt: time.Now(),
	}
}

// TransitionTo 执行状态迁移并记录
func (s *WorkflowState) TransitionTo(to WorkflowStatus, reason string) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("illegal workflow transition %s -> %s", s.Status, to)
	}
	s.Transitions = append(s.Transitions, Transition{From: s.Status, To: to, Reason: reason, At: time.Now()})
	s.Status = to
	if to.IsTerminal() {
		s.FinishedAt = time.Now()
	}
	return nil
}

// Select 记录被选中的尝试并进入 SELECTED
func (s *WorkflowState) Select(n int, reason string) error {
	if s.Attempt(n) == nil {
		return fmt.Errorf("selected attempt %d does not exist", n)
	}
	if !CanTransition(s.Status, StatusSelected) {
		return fmt.Errorf("illegal workflow transition %s -> %s", s.Status, StatusSelected)
	}
	s.SelectedAttemptNumber = &n
	return s.TransitionTo(StatusSelected, reason)
}

// Fail 记录错误并进入 FAILED
func (s *WorkflowState) Fail(errMsg string) error {
	s.Error = errMsg
	return s.TransitionTo(StatusFailed, errMsg)
}

// NextAttemptNumber 下一次成功生成将获得的编号
func (s *WorkflowState) NextAttemptNumber() int {
	return len(s.Attempts) + 1
}

// AddAttempt 记录一次成功生成；上一条尝试必须已评估
func (s *WorkflowState) AddAttempt(a *GenerationAttempt) error {
	if len(s.Attempts) != len(s.Assessments) {
		return fmt.Errorf("attempt %d recorded before attempt %d was assessed", a.AttemptNumber, len(s.Attempts))
	}
	if a.AttemptNumber != s.NextAttemptNumber() {
		return fmt.Errorf("attempt number %d out of sequence, expected %d", a.AttemptNumber, s.NextAttemptNumber())
	}
	s.Attempts = append(s.Attempts, a)
	return nil
}

// AddAssessment 记录最新一次尝试的评估
func (s *WorkflowState) AddAssessment(q *QualityAssessment) error {
	if len(s.Assessments) != len(s.Attempts)-1 {
		return fmt.Errorf("no pending attempt to assess")
	}
	if last := s.Attempts[len(s.Attempts)-1]; last.AttemptNumber != q.AttemptNumber {
		return fmt.Errorf("assessment for attempt %d does not match pending attempt %d", q.AttemptNumber, last.AttemptNumber)
	}
	s.Assessments = append(s.Assessments, q)
	return nil
}

// Attempt 按编号查找尝试
func (s *WorkflowState) Attempt(n int) *GenerationAttempt {
	if n < 1 || n > len(s.Attempts) {
		return nil
	}
	return s.Attempts[n-1]
}

// AssessmentFor 按编号查找评估
func (s *WorkflowState) AssessmentFor(n int) *QualityAssessment {
	for _, a := range s.Assessments {
		if a.AttemptNumber == n {
			return a
		}
	}
	return nil
}

// CheckInvariants 校验终态不变量
func (s *WorkflowState) CheckInvariants() error {
	if s.Status == StatusSelected && len(s.Attempts) != len(s.Assessments) {
		return fmt.Errorf("attempts (%d) and assessments (%d) are not aligned", len(s.Attempts), len(s.Assessments))
	}
	if (s.SelectedAttemptNumber != nil) != (s.Status == StatusSelected) {
		return fmt.Errorf("selected attempt set=%t with status %s", s.SelectedAttemptNumber != nil, s.Status)
	}
	if s.SelectedAttemptNumber != nil {
		n := *s.SelectedAttemptNumber
		if len(s.Attempts) < 1 || n < 1 || n > len(s.Attempts) {
			return fmt.Errorf("selected attempt %d outside [1, %d]", n, len(s.Attempts))
		}
	}
	return nil
}
