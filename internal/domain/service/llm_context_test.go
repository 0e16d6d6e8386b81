package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallLabels(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "unknown", WorkflowFromContext(ctx))
	assert.Equal(t, "unknown", ProviderFromContext(ctx))

	ctx = WithWorkflowProvider(ctx, " story_gen ", "openai")
	assert.Equal(t, "story_gen", WorkflowFromContext(ctx))
	assert.Equal(t, "openai", ProviderFromContext(ctx))

	// 覆盖阶段时保留提供商
	ctx = WithWorkflow(ctx, "quality_assess")
	assert.Equal(t, "quality_assess", WorkflowFromContext(ctx))
	assert.Equal(t, "openai", ProviderFromContext(ctx))

	assert.Equal(t, "openai", ProviderFromContext(WithProvider(ctx, "  ")))
}
