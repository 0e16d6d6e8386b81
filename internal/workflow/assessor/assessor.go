// Package assessor 按固定量表为故事候选打分，从不让工作流失败
package assessor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tale-weaver-api/internal/domain/entity"
	llmctx "tale-weaver-api/internal/domain/service"
	wfmodel "tale-weaver-api/internal/workflow/model"
	wfnode "tale-weaver-api/internal/workflow/node"
	workflowport "tale-weaver-api/internal/workflow/port"
	workflowprompt "tale-weaver-api/internal/workflow/prompt"
	"tale-weaver-api/pkg/logger"
	"tale-weaver-api/pkg/metrics"
	"tale-weaver-api/pkg/tracer"
)

const (
	workflowName          = "quality_assess"
	defaultTimeout        = 60 * time.Second
	defaultThreshold      = 7.0
	defaultWordsPerMinute = 150
	maxStoryRunes         = 24000
	weakScoreBelow        = 7
)

type Config struct {
	Provider       string
	Timeout        time.Duration
	Threshold      float64
	WordsPerMinute int
}

type Assessor struct {
	factory workflowport.ChatModelFactory
	prompts *workflowprompt.Registry
	cfg     Config
}

func New(factory workflowport.ChatModelFactory, prompts *workflowprompt.Registry, cfg Config) (*Assessor, error) {
	if factory == nil {
		return nil, fmt.Errorf("llm factory not configured")
	}
	if strings.TrimSpace(cfg.Provider) == "" {
		return nil, fmt.Errorf("assessor provider is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.WordsPerMinute <= 0 {
		cfg.WordsPerMinute = defaultWordsPerMinute
	}
	if prompts == nil {
		prompts = workflowprompt.NewRegistry()
	}
	return &Assessor{factory: factory, prompts: prompts, cfg: cfg}, nil
}

// Assess 为一次尝试打分；服务异常或输出无法解析时返回保守的默认评估
func (a *Assessor) Assess(ctx context.Context, attempt *wfmodel.GenerationAttempt, req *entity.GenerationRequest) *wfmodel.QualityAssessment {
	ctx, span := tracer.Start(ctx, "workflow.assess")
	defer span.End()
	span.SetAttributes(attribute.Int("workflow.attempt_number", attempt.AttemptNumber))

	raw, err := a.callAssessor(ctx, attempt, req)
	if err != nil {
		logger.Warn(ctx, "quality assessment unavailable, using default scores",
			"attempt_number", attempt.AttemptNumber,
			"error", err.Error(),
		)
		cause := "the assessment service could not be reached"
		if wfnode.IsTimeout(err) {
			cause = "the assessment service timed out"
		}
		return a.finish(span, a.defaultAssessment(attempt.AttemptNumber, cause))
	}

	parsed, err := parseStructured(raw)
	if err != nil {
		logger.Warn(ctx, "structured assessment unparseable, trying text extraction",
			"attempt_number", attempt.AttemptNumber,
			"error", err.Error(),
		)
		parsed, err = parseText(raw)
	}
	if err != nil {
		logger.Warn(ctx, "assessment output unusable, using default scores",
			"attempt_number", attempt.AttemptNumber,
			"error", err.Error(),
		)
		return a.finish(span, a.defaultAssessment(attempt.AttemptNumber, "the assessment response could not be parsed"))
	}

	overall := WeightedScore(parsed.scores)
	qa := &wfmodel.QualityAssessment{
		AttemptNumber:  attempt.AttemptNumber,
		Scores:         parsed.scores,
		Comments:       parsed.comments,
		OverallScore:   overall,
		FeedbackText:   BuildFeedback(parsed.scores, parsed.comments, parsed.summary, overall),
		MeetsThreshold: overall >= a.cfg.Threshold,
		Source:         parsed.source,
	}
	logger.Debug(ctx, "attempt assessed",
		"attempt_number", qa.AttemptNumber,
		"overall_score", qa.OverallScore,
		"meets_threshold", qa.MeetsThreshold,
		"source", string(qa.Source),
	)
	return a.finish(span, qa)
}

func (a *Assessor) finish(span trace.Span, qa *wfmodel.QualityAssessment) *wfmodel.QualityAssessment {
	metrics.AssessmentTotal.WithLabelValues(string(qa.Source)).Inc()
	span.SetAttributes(
		attribute.Float64("assessment.overall_score", qa.OverallScore),
		attribute.Bool("assessment.meets_threshold", qa.MeetsThreshold),
		attribute.String("assessment.source", string(qa.Source)),
	)
	return qa
}

func (a *Assessor) callAssessor(ctx context.Context, attempt *wfmodel.GenerationAttempt, req *entity.GenerationRequest) (string, error) {
	ctx = llmctx.WithWorkflowProvider(ctx, workflowName, a.cfg.Provider)
	chatModel, err := a.factory.Get(ctx, a.cfg.Provider)
	if err != nil {
		return "", err
	}
	msgs, err := a.buildMessages(ctx, attempt, req)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	outMsg, err := wfnode.GenerateStructured(callCtx, chatModel, msgs, workflowName, rubricJSONSchema(), model.WithTemperature(0))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(outMsg.Content) == "" {
		return "", wfnode.ErrEmptyOutput
	}
	return outMsg.Content, nil
}

func (a *Assessor) buildMessages(ctx context.Context, attempt *wfmodel.GenerationAttempt, req *entity.GenerationRequest) ([]*schema.Message, error) {
	tpl, err := a.prompts.ChatTemplate(workflowprompt.PromptQualityAssessV1)
	if err != nil {
		return nil, err
	}
	return tpl.Format(ctx, map[string]any{
		"rubric_block":     rubricBlock(),
		"audience":         req.AudienceLabel(),
		"language":         req.Language,
		"moral":            strings.TrimSpace(req.Moral),
		"characters_block": wfnode.BuildCharactersBlock(req.Characters),
		"word_budget":      req.WordBudget(a.cfg.WordsPerMinute),
		"title":            attempt.Title,
		"story":            wfnode.TruncateByRunes(attempt.Content, maxStoryRunes),
	})
}

// defaultAssessment 保守默认评估：各维度取中值，不达标，标记降级
func (a *Assessor) defaultAssessment(attemptNumber int, cause string) *wfmodel.QualityAssessment {
	scores := make(map[wfmodel.Criterion]int, len(wfmodel.Rubric))
	for _, c := range wfmodel.Criteria() {
		scores[c] = wfmodel.DefaultScore
	}
	return &wfmodel.QualityAssessment{
		AttemptNumber: attemptNumber,
		Scores:        scores,
		OverallScore:  float64(wfmodel.DefaultScore),
		FeedbackText: fmt.Sprintf(
			"Automatic quality assessment was unavailable (%s), so every criterion defaulted to %d/10. "+
				"Revise with extra care: make the moral explicit, keep vocabulary suited to the audience, "+
				"and keep every character true to their traits.",
			cause, wfmodel.DefaultScore),
		MeetsThreshold: false,
		Degraded:       true,
		Source:         wfmodel.AssessmentSourceDefault,
	}
}

type scoredCriterion struct {
	criterion wfmodel.Criterion
	score     int
}

// BuildFeedback 生成下一轮可用的修改意见：弱项（低于 7 分）列为改进点，其余列为保留点
func BuildFeedback(scores map[wfmodel.Criterion]int, comments map[wfmodel.Criterion]string, summary string, overall float64) string {
	var weak, strong []scoredCriterion
	for _, c := range wfmodel.Criteria() {
		sc := scoredCriterion{criterion: c, score: scores[c]}
		if sc.score < weakScoreBelow {
			weak = append(weak, sc)
		} else {
			strong = append(strong, sc)
		}
	}
	sort.SliceStable(weak, func(i, j int) bool { return weak[i].score < weak[j].score })
	sort.SliceStable(strong, func(i, j int) bool { return strong[i].score > strong[j].score })

	line := func(sc scoredCriterion) string {
		s := fmt.Sprintf("- %s (%d/10)", sc.criterion, sc.score)
		if note := comments[sc.criterion]; note != "" {
			s += ": " + note
		}
		return s
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Overall score: %.2f/10.", overall)
	if len(weak) > 0 {
		sb.WriteString("\nImprove:")
		for _, sc := range weak {
			sb.WriteString("\n" + line(sc))
		}
	}
	if len(strong) > 0 {
		sb.WriteString("\nKeep:")
		for _, sc := range strong {
			sb.WriteString("\n" + line(sc))
		}
	}
	if summary = strings.TrimSpace(summary); summary != "" {
		sb.WriteString("\nEditor summary: " + summary)
	}
	return sb.String()
}

func rubricBlock() string {
	lines := make([]string, 0, len(wfmodel.Rubric))
	for _, cw := range wfmodel.Rubric {
		lines = append(lines, fmt.Sprintf("- %s (weight %.2f): %s", cw.Criterion, cw.Weight, cw.Description))
	}
	return strings.Join(lines, "\n")
}

func rubricJSONSchema() map[string]any {
	scoreProps := make(map[string]any, len(wfmodel.Rubric))
	commentProps := make(map[string]any, len(wfmodel.Rubric))
	required := make([]any, 0, len(wfmodel.Rubric))
	for _, c := range wfmodel.Criteria() {
		scoreProps[string(c)] = map[string]any{"type": "integer", "minimum": wfmodel.MinScore, "maximum": wfmodel.MaxScore}
		commentProps[string(c)] = map[string]any{"type": "string"}
		required = append(required, string(c))
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"scores", "comments", "summary"},
		"properties": map[string]any{
			"scores": map[string]any{
				"type":       "object",
				"properties": scoreProps,
				"required":   required,
			},
			"comments": map[string]any{
				"type":       "object",
				"properties": commentProps,
			},
			"summary": map[string]any{"type": "string"},
		},
	}
}
