// Package orchestrator 以显式状态机串联校验、生成、评估与选择
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"tale-weaver-api/internal/domain/entity"
	"tale-weaver-api/internal/workflow/generator"
	wfmodel "tale-weaver-api/internal/workflow/model"
	wfnode "tale-weaver-api/internal/workflow/node"
	"tale-weaver-api/internal/workflow/selector"
	apperrors "tale-weaver-api/pkg/errors"
	"tale-weaver-api/pkg/errreport"
	"tale-weaver-api/pkg/logger"
	"tale-weaver-api/pkg/metrics"
	"tale-weaver-api/pkg/tracer"
)

const (
	defaultMaxAttempts = 3
	maxAttemptsCeiling = 10
)

type RequestValidator interface {
	Validate(ctx context.Context, req *entity.GenerationRequest) *wfmodel.ValidationResult
}

type CandidateGenerator interface {
	Generate(ctx context.Context, in *generator.GenerateInput) (*wfmodel.GenerationAttempt, error)
}

type QualityAssessor interface {
	Assess(ctx context.Context, attempt *wfmodel.GenerationAttempt, req *entity.GenerationRequest) *wfmodel.QualityAssessment
}

// SelectFunc 从已评估尝试中选择结果
type SelectFunc func(attempts []*wfmodel.GenerationAttempt, assessments []*wfmodel.QualityAssessment) (*wfmodel.Selection, error)

type Config struct {
	// MaxAttempts 循环轮次上限，成功与失败的生成都计入
	MaxAttempts int
}

// Orchestrator 只持有不可变依赖，可被多个请求并发使用
type Orchestrator struct {
	validator RequestValidator
	generator CandidateGenerator
	assessor  QualityAssessor
	selectFn  SelectFunc
	cfg       Config
}

func New(v RequestValidator, g CandidateGenerator, a QualityAssessor, cfg Config) (*Orchestrator, error) {
	if v == nil || g == nil || a == nil {
		return nil, fmt.Errorf("validator, generator and assessor are required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.MaxAttempts > maxAttemptsCeiling {
		return nil, fmt.Errorf("max attempts %d exceeds ceiling %d", cfg.MaxAttempts, maxAttemptsCeiling)
	}
	return &Orchestrator{
		validator: v,
		generator: g,
		assessor:  a,
		selectFn:  selector.Select,
		cfg:       cfg,
	}, nil
}

// Execute 执行一次完整工作流并返回唯一结果
func (o *Orchestrator) Execute(ctx context.Context, req *entity.GenerationRequest) *wfmodel.WorkflowOutcome {
	_, outcome := o.Run(ctx, req)
	return outcome
}

// run 单次执行的可变上下文
type run struct {
	state    *wfmodel.WorkflowState
	round    int
	feedback string
}

// Run 执行工作流，同时返回终态快照用于诊断
func (o *Orchestrator) Run(ctx context.Context, req *entity.GenerationRequest) (*wfmodel.WorkflowState, *wfmodel.WorkflowOutcome) {
	id := uuid.NewString()
	ctx = logger.WithContext(ctx, logger.WorkflowIDKey, id)
	ctx, span := tracer.Start(ctx, "workflow.execute")
	defer span.End()
	span.SetAttributes(attribute.String("workflow.id", id), attribute.Int("workflow.max_attempts", o.cfg.MaxAttempts))

	r := &run{state: wfmodel.NewWorkflowState(id, req)}
	logger.Info(ctx, "story workflow started", "max_attempts", o.cfg.MaxAttempts)

	for !r.state.Status.IsTerminal() {
		switch r.state.Status {
		case wfmodel.StatusPending:
			o.advance(ctx, r.state, wfmodel.StatusValidating, "request received")
		case wfmodel.StatusValidating:
			o.validate(ctx, r)
		case wfmodel.StatusGenerating:
			o.generate(ctx, r)
		case wfmodel.StatusAssessing:
			o.assess(ctx, r)
		default:
			o.abort(ctx, r.state, fmt.Errorf("unhandled workflow status %s", r.state.Status))
		}
	}

	if err := r.state.CheckInvariants(); err != nil {
		logger.Error(ctx, "workflow finished with broken invariants", err)
		errreport.Capture(ctx, err, map[string]string{"workflow_id": id})
	}

	outcome := BuildOutcome(r.state)
	o.observe(ctx, r.state, outcome)
	if outcome.Status == wfmodel.OutcomeFailed {
		span.SetStatus(codes.Error, outcome.Failed.Error)
	}
	span.SetAttributes(
		attribute.String("workflow.status", string(outcome.Status)),
		attribute.Int("workflow.rounds", r.state.Rounds),
		attribute.Int("workflow.attempts", len(r.state.Attempts)),
	)
	return r.state, outcome
}

func (o *Orchestrator) validate(ctx context.Context, r *run) {
	s := r.state
	if err := s.Request.Check(); err != nil {
		detail := err.Error()
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Detail != "" {
			detail = appErr.Detail
		}
		s.Validation = &wfmodel.ValidationResult{
			Approved:       false,
			Reasons:        []string{detail},
			DetectedIssues: []string{},
			Code:           wfmodel.ValidationInvalidRequest,
		}
		o.advance(ctx, s, wfmodel.StatusRejected, "malformed request")
		return
	}

	result := o.validator.Validate(ctx, s.Request)
	s.Validation = result

	if wfnode.IsCancellation(ctx) {
		o.stopOnCancel(ctx, r)
		return
	}
	if !result.Approved {
		logger.Info(ctx, "request rejected",
			"code", string(result.Code),
			"stage", result.Stage,
			"reasons", result.Reasons,
		)
		o.advance(ctx, s, wfmodel.StatusRejected, string(result.Code))
		return
	}
	o.advance(ctx, s, wfmodel.StatusGenerating, "request approved")
}

func (o *Orchestrator) generate(ctx context.Context, r *run) {
	s := r.state
	if wfnode.IsCancellation(ctx) {
		o.stopOnCancel(ctx, r)
		return
	}

	r.round++
	s.Rounds = r.round
	attempt, err := o.generator.Generate(ctx, &generator.GenerateInput{
		Request:       s.Request,
		AttemptNumber: s.NextAttemptNumber(),
		Round:         r.round,
		PriorFeedback: r.feedback,
	})
	if err != nil {
		s.GenerationErrors = append(s.GenerationErrors, err.Error())
		if wfnode.IsCancellation(ctx) {
			o.stopOnCancel(ctx, r)
			return
		}
		logger.Warn(ctx, "generation round failed",
			"round", r.round,
			"max_attempts", o.cfg.MaxAttempts,
			"error", err.Error(),
		)
		switch {
		case r.round < o.cfg.MaxAttempts:
			o.advance(ctx, s, wfmodel.StatusGenerating, fmt.Sprintf("round %d generation failed, retrying", r.round))
		case len(s.Assessments) > 0:
			o.selectBest(ctx, r, "attempt budget exhausted after generation failure")
		default:
			s.Error = aggregateGenerationError(s.GenerationErrors)
			o.advance(ctx, s, wfmodel.StatusFailed, "generation failed on every round")
		}
		return
	}

	if err := s.AddAttempt(attempt); err != nil {
		o.abort(ctx, s, err)
		return
	}
	o.advance(ctx, s, wfmodel.StatusAssessing, fmt.Sprintf("attempt %d generated", attempt.AttemptNumber))
}

func (o *Orchestrator) assess(ctx context.Context, r *run) {
	s := r.state
	attempt := s.Attempts[len(s.Attempts)-1]

	qa := o.assessor.Assess(ctx, attempt, s.Request)
	if err := s.AddAssessment(qa); err != nil {
		o.abort(ctx, s, err)
		return
	}
	logger.Info(ctx, "attempt assessed",
		"attempt_number", qa.AttemptNumber,
		"round", r.round,
		"overall_score", qa.OverallScore,
		"meets_threshold", qa.MeetsThreshold,
		"degraded", qa.Degraded,
	)

	switch {
	case wfnode.IsCancellation(ctx):
		o.stopOnCancel(ctx, r)
	case qa.MeetsThreshold:
		o.selectBest(ctx, r, fmt.Sprintf("attempt %d met the quality threshold", qa.AttemptNumber))
	case r.round < o.cfg.MaxAttempts:
		r.feedback = qa.FeedbackText
		o.advance(ctx, s, wfmodel.StatusGenerating, fmt.Sprintf("attempt %d below threshold", qa.AttemptNumber))
	default:
		o.selectBest(ctx, r, "attempt budget exhausted, selecting best of available")
	}
}

// stopOnCancel 取消策略：已有评估过的尝试则尽力选出结果，否则失败
func (o *Orchestrator) stopOnCancel(ctx context.Context, r *run) {
	s := r.state
	s.Cancelled = true
	logger.Warn(ctx, "workflow cancelled",
		"status", string(s.Status),
		"assessed_attempts", len(s.Assessments),
	)
	if len(s.Assessments) > 0 {
		o.selectBest(ctx, r, "cancelled, selecting best assessed attempt")
		return
	}
	s.Error = fmt.Sprintf("%s: %v", apperrors.ErrCancelled.Message, context.Cause(ctx))
	o.advance(ctx, s, wfmodel.StatusFailed, "cancelled")
}

func (o *Orchestrator) selectBest(ctx context.Context, r *run, reason string) {
	s := r.state
	sel, err := o.selectFn(s.Attempts, s.Assessments)
	if err != nil {
		s.Error = err.Error()
		o.advance(ctx, s, wfmodel.StatusFailed, "selection failed")
		return
	}
	if err := s.Select(sel.AttemptNumber, reason); err != nil {
		o.abort(ctx, s, err)
		return
	}
	logger.Info(ctx, "attempt selected",
		"attempt_number", sel.AttemptNumber,
		"overall_score", sel.Assessment.OverallScore,
		"threshold_met", sel.Assessment.MeetsThreshold,
		"reason", reason,
	)
}

// advance 执行迁移；非法迁移视为内部错误并终止
func (o *Orchestrator) advance(ctx context.Context, s *wfmodel.WorkflowState, to wfmodel.WorkflowStatus, reason string) {
	from := s.Status
	if err := s.TransitionTo(to, reason); err != nil {
		o.abort(ctx, s, err)
		return
	}
	logger.Debug(ctx, "workflow transition", "from", string(from), "to", string(to), "reason", reason)
}

// abort 内部错误时强制进入 FAILED，保证循环终止
func (o *Orchestrator) abort(ctx context.Context, s *wfmodel.WorkflowState, err error) {
	logger.Error(ctx, "workflow aborted", err, "status", string(s.Status))
	errreport.Capture(ctx, err, map[string]string{"workflow_id": s.ID, "status": string(s.Status)})
	if s.Fail(err.Error()) == nil {
		return
	}
	// 当前状态不允许进入 FAILED（如 ASSESSING），直接终止
	s.Transitions = append(s.Transitions, wfmodel.Transition{From: s.Status, To: wfmodel.StatusFailed, Reason: err.Error(), At: time.Now()})
	s.Status = wfmodel.StatusFailed
	s.SelectedAttemptNumber = nil
	s.Error = err.Error()
	s.FinishedAt = time.Now()
}

func (o *Orchestrator) observe(ctx context.Context, s *wfmodel.WorkflowState, outcome *wfmodel.WorkflowOutcome) {
	status := string(outcome.Status)
	metrics.WorkflowOutcomesTotal.WithLabelValues(status).Inc()
	metrics.WorkflowDuration.WithLabelValues(status).Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
	if len(s.Attempts) > 0 {
		metrics.WorkflowAttempts.Observe(float64(len(s.Attempts)))
	}

	switch outcome.Status {
	case wfmodel.OutcomeAccepted:
		metrics.WorkflowQualityScore.Observe(outcome.Accepted.QualityScore)
		metrics.StoryWordCount.Observe(float64(len(strings.Fields(outcome.Accepted.Content))))
		logger.Info(ctx, "story workflow finished",
			"status", status,
			"attempts_made", outcome.Accepted.AttemptsMade,
			"selected_attempt_number", outcome.Accepted.SelectedAttemptNumber,
			"quality_score", outcome.Accepted.QualityScore,
			"cancelled", outcome.Accepted.Cancelled,
		)
	case wfmodel.OutcomeRejected:
		logger.Info(ctx, "story workflow finished", "status", status, "code", string(outcome.Rejected.Code))
	default:
		logger.Warn(ctx, "story workflow finished", "status", status, "error", outcome.Failed.Error)
		if !outcome.Failed.Cancelled {
			errreport.Capture(ctx, errors.New(outcome.Failed.Error), map[string]string{
				"workflow_id": s.ID,
				"rounds":      fmt.Sprint(s.Rounds),
			})
		}
	}
}

func aggregateGenerationError(errs []string) string {
	if len(errs) == 0 {
		return apperrors.ErrGenerationFailed.Message
	}
	return fmt.Sprintf("%s after %d rounds: %s", apperrors.ErrGenerationFailed.Message, len(errs), strings.Join(errs, "; "))
}
