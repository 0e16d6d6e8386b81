package eino

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	llmctx "tale-weaver-api/internal/domain/service"
	"tale-weaver-api/pkg/metrics"
)

func TestChatModelCallbacks_RecordMetrics(t *testing.T) {
	h := newChatModelCallbackHandler()
	ctx := llmctx.WithWorkflowProvider(context.Background(), "story_gen_test", "openai")

	ctx = h.OnStart(ctx, nil, &model.CallbackInput{
		Messages: []*schema.Message{schema.UserMessage("hi")},
		Config:   &model.Config{Model: "gpt-4o"},
	})
	assert.Equal(t, "gpt-4o", startedModel(ctx))
	time.Sleep(time.Millisecond)
	assert.Greater(t, elapsedSeconds(ctx), 0.0)

	h.OnEnd(ctx, nil, &model.CallbackOutput{
		TokenUsage: &model.TokenUsage{PromptTokens: 12, CompletionTokens: 30},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LLMCallTotal.WithLabelValues("story_gen_test", "openai", "gpt-4o", "success")))
	assert.Equal(t, 30.0, testutil.ToFloat64(metrics.LLMTokensUsed.WithLabelValues("story_gen_test", "openai", "gpt-4o", "completion")))

	ctx = h.OnStart(ctx, nil, &model.CallbackInput{Config: &model.Config{Model: "gpt-4o"}})
	h.OnError(ctx, nil, errors.New("rate limited"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LLMCallTotal.WithLabelValues("story_gen_test", "openai", "gpt-4o", "error")))
}

func TestElapsedSeconds_NoStart(t *testing.T) {
	assert.Equal(t, 0.0, elapsedSeconds(context.Background()))
	assert.Equal(t, "", modelNameFromInput(nil))
	assert.Equal(t, "", modelNameFromOutput(&model.CallbackOutput{}))
}
