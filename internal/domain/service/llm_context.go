// Package service 定义跨层传递的 LLM 调用标签
package service

import (
	"context"
	"strings"
)

const unknownLabel = "unknown"

type callLabelsKey struct{}

// CallLabels 一次模型调用的可观测标签：所属工作流阶段与提供商
type CallLabels struct {
	Workflow string
	Provider string
}

func labelsFrom(ctx context.Context) CallLabels {
	if ctx == nil {
		return CallLabels{}
	}
	l, _ := ctx.Value(callLabelsKey{}).(CallLabels)
	return l
}

func WithWorkflow(ctx context.Context, workflow string) context.Context {
	w := strings.TrimSpace(workflow)
	if ctx == nil || w == "" {
		return ctx
	}
	l := labelsFrom(ctx)
	l.Workflow = w
	return context.WithValue(ctx, callLabelsKey{}, l)
}

func WithProvider(ctx context.Context, provider string) context.Context {
	p := strings.TrimSpace(provider)
	if ctx == nil || p == "" {
		return ctx
	}
	l := labelsFrom(ctx)
	l.Provider = p
	return context.WithValue(ctx, callLabelsKey{}, l)
}

// WithWorkflowProvider 同时标记工作流阶段与提供商
func WithWorkflowProvider(ctx context.Context, workflow, provider string) context.Context {
	return WithProvider(WithWorkflow(ctx, workflow), provider)
}

func WorkflowFromContext(ctx context.Context) string {
	return orUnknown(labelsFrom(ctx).Workflow)
}

func ProviderFromContext(ctx context.Context) string {
	return orUnknown(labelsFrom(ctx).Provider)
}

func orUnknown(s string) string {
	if s == "" {
		return unknownLabel
	}
	return s
}
