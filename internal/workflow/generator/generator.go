// Package generator 每次调用产出一个故事候选
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel/attribute"

	"tale-weaver-api/internal/domain/entity"
	llmctx "tale-weaver-api/internal/domain/service"
	wfmodel "tale-weaver-api/internal/workflow/model"
	wfnode "tale-weaver-api/internal/workflow/node"
	workflowport "tale-weaver-api/internal/workflow/port"
	workflowprompt "tale-weaver-api/internal/workflow/prompt"
	apperrors "tale-weaver-api/pkg/errors"
	"tale-weaver-api/pkg/logger"
	"tale-weaver-api/pkg/metrics"
	"tale-weaver-api/pkg/tracer"
)

const (
	workflowName          = "story_gen"
	defaultTimeout        = 120 * time.Second
	defaultWordsPerMinute = 150
)

// DefaultTemperatureSchedule 第 1 轮适中，第 2 轮更发散，第 3 轮更保守
var DefaultTemperatureSchedule = []float64{0.7, 0.9, 0.5}

// RetryPolicy 单轮内对瞬时失败的重试
type RetryPolicy struct {
	MaxTries   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

type Config struct {
	Provider            string
	ModelIdentifier     string
	TemperatureSchedule []float64
	WordsPerMinute      int
	Timeout             time.Duration
	MaxTokens           int
	Retry               RetryPolicy
}

// GenerateInput 一次生成的输入；Round 为编排循环轮次（从 1 开始），决定温度
type GenerateInput struct {
	Request       *entity.GenerationRequest
	AttemptNumber int
	Round         int
	PriorFeedback string
}

// GenerationError 重试预算耗尽仍无可用输出
type GenerationError struct {
	AttemptNumber int
	Round         int
	Tries         int
	Err           error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation round %d failed after %d tries: %v", e.Round, e.Tries, e.Err)
}

func (e *GenerationError) Unwrap() []error {
	return []error{apperrors.ErrLLMCallFailed, e.Err}
}

type Generator struct {
	factory workflowport.ChatModelFactory
	prompts *workflowprompt.Registry
	cfg     Config
}

func New(factory workflowport.ChatModelFactory, prompts *workflowprompt.Registry, cfg Config) (*Generator, error) {
	if factory == nil {
		return nil, fmt.Errorf("llm factory not configured")
	}
	if strings.TrimSpace(cfg.Provider) == "" {
		return nil, fmt.Errorf("generation provider is required")
	}
	if len(cfg.TemperatureSchedule) == 0 {
		cfg.TemperatureSchedule = DefaultTemperatureSchedule
	}
	if cfg.WordsPerMinute <= 0 {
		cfg.WordsPerMinute = defaultWordsPerMinute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry.MaxTries <= 0 {
		cfg.Retry.MaxTries = 3
	}
	if cfg.Retry.Initial <= 0 {
		cfg.Retry.Initial = time.Second
	}
	if cfg.Retry.Max <= 0 {
		cfg.Retry.Max = 10 * time.Second
	}
	if cfg.Retry.Multiplier < 1 {
		cfg.Retry.Multiplier = 2
	}
	if cfg.ModelIdentifier == "" {
		cfg.ModelIdentifier = cfg.Provider
	}
	if prompts == nil {
		prompts = workflowprompt.NewRegistry()
	}
	return &Generator{factory: factory, prompts: prompts, cfg: cfg}, nil
}

// TemperatureFor 返回第 round 轮的温度，超出调度表时沿用最后一项
func (g *Generator) TemperatureFor(round int) float32 {
	schedule := g.cfg.TemperatureSchedule
	idx := round - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return float32(schedule[idx])
}

// Generate 生成一个候选；失败时返回 *GenerationError
func (g *Generator) Generate(ctx context.Context, in *GenerateInput) (*wfmodel.GenerationAttempt, error) {
	if in == nil || in.Request == nil {
		return nil, fmt.Errorf("generate input is nil")
	}
	temperature := g.TemperatureFor(in.Round)

	ctx, span := tracer.Start(ctx, "workflow.generate")
	defer span.End()
	span.SetAttributes(
		attribute.Int("workflow.round", in.Round),
		attribute.Int("workflow.attempt_number", in.AttemptNumber),
		attribute.Float64("llm.temperature", float64(temperature)),
		attribute.Bool("workflow.has_feedback", strings.TrimSpace(in.PriorFeedback) != ""),
	)

	ctx = llmctx.WithWorkflowProvider(ctx, workflowName, g.cfg.Provider)
	genErr := func(tries int, err error) *GenerationError {
		span.RecordError(err)
		return &GenerationError{AttemptNumber: in.AttemptNumber, Round: in.Round, Tries: tries, Err: err}
	}

	chatModel, err := g.factory.Get(ctx, g.cfg.Provider)
	if err != nil {
		return nil, genErr(0, err)
	}
	msgs, err := g.buildMessages(ctx, in)
	if err != nil {
		return nil, genErr(0, err)
	}

	opts := []model.Option{model.WithTemperature(temperature)}
	if g.cfg.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(g.cfg.MaxTokens))
	}

	usage := wfmodel.LLMUsageMeta{Provider: g.cfg.Provider, Model: g.cfg.ModelIdentifier}
	tries := 0
	operation := func() (*schema.Message, error) {
		tries++
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		outMsg, err := chatModel.Generate(callCtx, msgs, opts...)
		if err != nil {
			if wfnode.IsCancellation(ctx) {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		p, c := wfnode.UsageOf(outMsg)
		usage.Add(wfmodel.LLMUsageMeta{PromptTokens: p, CompletionTokens: c, Calls: 1})
		if outMsg == nil || strings.TrimSpace(outMsg.Content) == "" {
			return nil, wfnode.ErrEmptyOutput
		}
		return outMsg, nil
	}

	outMsg, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(g.newBackOff()),
		backoff.WithMaxTries(uint(g.cfg.Retry.MaxTries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.GenerationRetries.Inc()
			logger.Warn(ctx, "story generation call failed, retrying",
				"round", in.Round,
				"try", tries,
				"next_in", next.String(),
				"error", err.Error(),
			)
		}),
	)
	if err != nil {
		if wfnode.IsCancellation(ctx) && !errors.Is(err, ctx.Err()) {
			err = fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return nil, genErr(tries, err)
	}

	title, body := SplitTitle(outMsg.Content)
	if title == "" {
		title = FallbackTitle(in.Request)
	}

	attempt := &wfmodel.GenerationAttempt{
		AttemptNumber:   in.AttemptNumber,
		Round:           in.Round,
		Content:         body,
		Title:           title,
		Temperature:     temperature,
		ModelIdentifier: g.cfg.ModelIdentifier,
		CreatedAt:       time.Now(),
		Usage:           usage,
	}
	span.SetAttributes(attribute.Int("llm.tries", tries), attribute.Int("story.runes", len([]rune(body))))
	logger.Debug(ctx, "story candidate generated",
		"attempt_number", attempt.AttemptNumber,
		"round", in.Round,
		"tries", tries,
		"title", title,
	)
	return attempt, nil
}

func (g *Generator) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.Retry.Initial
	b.MaxInterval = g.cfg.Retry.Max
	b.Multiplier = g.cfg.Retry.Multiplier
	return b
}

func (g *Generator) buildMessages(ctx context.Context, in *GenerateInput) ([]*schema.Message, error) {
	tpl, err := g.prompts.ChatTemplate(workflowprompt.PromptStoryGenV1)
	if err != nil {
		return nil, err
	}
	req := in.Request
	return tpl.Format(ctx, map[string]any{
		"mode_description":   modeDescription(req),
		"characters_block":   wfnode.BuildCharactersBlock(req.Characters),
		"moral":              strings.TrimSpace(req.Moral),
		"theme":              orNone(req.EffectiveTheme()),
		"interests":          orNone(strings.Join(req.Interests, ", ")),
		"language":           req.Language,
		"audience":           req.AudienceLabel(),
		"word_budget":        req.WordBudget(g.cfg.WordsPerMinute),
		"duration_minutes":   req.DurationMinutes,
		"continuation_block": wfnode.BuildContinuationBlock(req.Continuation),
		"revision_block":     wfnode.BuildRevisionBlock(in.PriorFeedback),
	})
}

func modeDescription(req *entity.GenerationRequest) string {
	if req.Mode == entity.StoryModeDual {
		return "children's story with two main characters who share the adventure"
	}
	return "children's story with a single main character"
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
