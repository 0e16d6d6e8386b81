// Package validator 在产生任何生成成本之前对请求做内容策略校验
package validator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

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
	workflowName      = "request_review"
	verdictKeyPrefix  = "verdict:v1:"
	defaultTimeout    = 30 * time.Second
	maxRequestJSONLen = 12000
)

type Config struct {
	Provider        string
	Timeout         time.Duration
	DisallowedTerms []string
	CacheTTL        time.Duration
}

// Validator 两阶段请求校验：本地词表扫描 + 外部分类服务（失败即拒绝）
type Validator struct {
	factory workflowport.ChatModelFactory
	prompts *workflowprompt.Registry
	cache   workflowport.VerdictCache
	scanner *termScanner
	cfg     Config
	group   singleflight.Group
}

// New 创建校验器；cache 可为 nil
func New(factory workflowport.ChatModelFactory, prompts *workflowprompt.Registry, cache workflowport.VerdictCache, cfg Config) (*Validator, error) {
	if factory == nil {
		return nil, fmt.Errorf("llm factory not configured")
	}
	if strings.TrimSpace(cfg.Provider) == "" {
		return nil, fmt.Errorf("classifier provider is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if prompts == nil {
		prompts = workflowprompt.NewRegistry()
	}
	scanner, err := newTermScanner(cfg.DisallowedTerms)
	if err != nil {
		return nil, err
	}
	return &Validator{
		factory: factory,
		prompts: prompts,
		cache:   cache,
		scanner: scanner,
		cfg:     cfg,
	}, nil
}

// Validate 返回校验结论，从不返回错误
func (v *Validator) Validate(ctx context.Context, req *entity.GenerationRequest) *wfmodel.ValidationResult {
	ctx, span := tracer.Start(ctx, "workflow.validate")
	defer span.End()

	if hits := v.scanner.scan(req.FreeText()); len(hits) > 0 {
		result := ipReferenceResult(hits)
		metrics.ValidationTotal.WithLabelValues("keyword", "rejected").Inc()
		span.SetAttributes(attribute.Int("validation.stage", 1), attribute.Bool("validation.approved", false))
		logger.Info(ctx, "request rejected by disallowed term scan", "terms", result.DetectedIssues)
		return result
	}
	metrics.ValidationTotal.WithLabelValues("keyword", "passed").Inc()

	result := v.classifyCached(ctx, req)
	span.SetAttributes(
		attribute.Int("validation.stage", 2),
		attribute.Bool("validation.approved", result.Approved),
		attribute.String("validation.code", string(result.Code)),
	)
	return result
}

func ipReferenceResult(hits []termHit) *wfmodel.ValidationResult {
	reasons := make([]string, 0, len(hits))
	issues := make([]string, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		reasons = append(reasons, fmt.Sprintf("%s references third-party intellectual property %q", h.Field, h.Term))
		if _, dup := seen[h.Term]; !dup {
			seen[h.Term] = struct{}{}
			issues = append(issues, h.Term)
		}
	}
	return &wfmodel.ValidationResult{
		Approved:       false,
		Reasons:        reasons,
		DetectedIssues: issues,
		Code:           wfmodel.ValidationIPReference,
		Stage:          1,
	}
}

func unavailableResult() *wfmodel.ValidationResult {
	return &wfmodel.ValidationResult{
		Approved:       false,
		Reasons:        []string{wfmodel.ReasonValidationUnavailable},
		DetectedIssues: []string{},
		Code:           wfmodel.ValidationServiceUnavailable,
		Stage:          2,
	}
}

// classifyCached 先查缓存，未命中时合并并发的相同请求再调用分类服务
func (v *Validator) classifyCached(ctx context.Context, req *entity.GenerationRequest) *wfmodel.ValidationResult {
	payload, err := reviewPayload(req)
	if err != nil {
		logger.Error(ctx, "failed to encode request for review", err)
		metrics.ValidationTotal.WithLabelValues("classifier", "unavailable").Inc()
		return unavailableResult()
	}
	key := verdictKey(payload)

	if v.cache != nil {
		cached, ok, err := v.cache.Get(ctx, key)
		switch {
		case err != nil:
			metrics.CacheRequests.WithLabelValues("verdict", "error").Inc()
			logger.Warn(ctx, "verdict cache read failed", "error", err.Error())
		case ok && cached != nil:
			metrics.CacheRequests.WithLabelValues("verdict", "hit").Inc()
			cached.Cached = true
			return cached
		default:
			metrics.CacheRequests.WithLabelValues("verdict", "miss").Inc()
		}
	}

	// 共享调用不随单个调用方取消
	shared := context.WithoutCancel(ctx)
	ch := v.group.DoChan(key, func() (any, error) {
		return v.classify(shared, req, payload)
	})

	var result *wfmodel.ValidationResult
	select {
	case <-ctx.Done():
		logger.Warn(ctx, "request review abandoned", "error", ctx.Err().Error())
		metrics.ValidationTotal.WithLabelValues("classifier", "unavailable").Inc()
		return unavailableResult()
	case r := <-ch:
		if r.Err != nil {
			logger.Warn(ctx, "classification service unavailable, failing closed", "error", r.Err.Error())
			metrics.ValidationTotal.WithLabelValues("classifier", "unavailable").Inc()
			return unavailableResult()
		}
		cp := *r.Val.(*wfmodel.ValidationResult)
		result = &cp
	}

	if result.Approved {
		metrics.ValidationTotal.WithLabelValues("classifier", "approved").Inc()
	} else {
		metrics.ValidationTotal.WithLabelValues("classifier", "rejected").Inc()
	}

	if v.cache != nil && v.cfg.CacheTTL > 0 {
		if err := v.cache.Set(ctx, key, result, v.cfg.CacheTTL); err != nil {
			logger.Warn(ctx, "verdict cache write failed", "error", err.Error())
		}
	}
	return result
}

type classifierVerdict struct {
	Approved *bool    `json:"approved"`
	Reasons  []string `json:"reasons"`
	Issues   []string `json:"issues"`
}

func (v *Validator) classify(ctx context.Context, req *entity.GenerationRequest, payload []byte) (*wfmodel.ValidationResult, error) {
	ctx = llmctx.WithWorkflowProvider(ctx, workflowName, v.cfg.Provider)
	chatModel, err := v.factory.Get(ctx, v.cfg.Provider)
	if err != nil {
		return nil, err
	}

	tpl, err := v.prompts.ChatTemplate(workflowprompt.PromptRequestReviewV1)
	if err != nil {
		return nil, err
	}
	msgs, err := tpl.Format(ctx, map[string]any{
		"audience":     req.AudienceLabel(),
		"request_json": wfnode.TruncateByRunes(string(payload), maxRequestJSONLen),
	})
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	outMsg, err := wfnode.GenerateStructured(callCtx, chatModel, msgs, workflowName, reviewJSONSchema(), model.WithTemperature(0))
	if err != nil {
		return nil, err
	}

	verdict, err := wfnode.DecodeJSONObject[classifierVerdict](outMsg.Content)
	if err != nil {
		return nil, err
	}
	if verdict.Approved == nil {
		return nil, &wfnode.ParseError{Raw: outMsg.Content, Err: fmt.Errorf("missing approved field")}
	}

	result := &wfmodel.ValidationResult{
		Approved:       *verdict.Approved,
		Reasons:        cleanList(verdict.Reasons),
		DetectedIssues: cleanList(verdict.Issues),
		Stage:          2,
	}
	if result.Approved {
		result.Code = wfmodel.ValidationApproved
	} else {
		result.Code = wfmodel.ValidationPolicyViolation
		if len(result.Reasons) == 0 {
			result.Reasons = []string{"request rejected by content policy"}
		}
	}
	return result, nil
}

// reviewPayload 送审的请求快照，续写正文只保留开头
func reviewPayload(req *entity.GenerationRequest) ([]byte, error) {
	cp := *req
	if req.Continuation != nil {
		c := *req.Continuation
		c.Content = wfnode.TruncateByRunes(c.Content, 1500)
		cp.Continuation = &c
	}
	return json.Marshal(&cp)
}

func verdictKey(payload []byte) string {
	sum := sha256.Sum256(payload)
	return verdictKeyPrefix + hex.EncodeToString(sum[:])
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func reviewJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"approved", "reasons", "issues"},
		"properties": map[string]any{
			"approved": map[string]any{"type": "boolean"},
			"reasons":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"issues":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}
}
