// Package workflowtest 提供工作流测试用的可编排 ChatModel 与端口替身
package workflowtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	wfmodel "tale-weaver-api/internal/workflow/model"
)

// Reply 一次模型调用的预设结果
type Reply struct {
	Content          string
	Err              error
	Delay            time.Duration
	Block            bool // 阻塞直到 ctx 结束
	PromptTokens     int
	CompletionTokens int
}

// Call 记录一次调用
type Call struct {
	Messages []*schema.Message
	Options  *model.Options
}

// ChatModel 按脚本依次返回结果的 model.BaseChatModel
type ChatModel struct {
	mu       sync.Mutex
	respond  func(n int, msgs []*schema.Message) Reply
	calls    []Call
	OnCalled func(n int)
}

// NewScripted 按顺序返回 replies，耗尽后重复最后一项
func NewScripted(replies ...Reply) *ChatModel {
	return NewFunc(func(n int, _ []*schema.Message) Reply {
		if len(replies) == 0 {
			return Reply{Err: fmt.Errorf("no scripted reply for call %d", n)}
		}
		if n > len(replies) {
			return replies[len(replies)-1]
		}
		return replies[n-1]
	})
}

// NewFunc 由函数决定第 n 次（从 1 开始）调用的结果
func NewFunc(fn func(n int, msgs []*schema.Message) Reply) *ChatModel {
	return &ChatModel{respond: fn}
}

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Messages: input, Options: model.GetCommonOptions(nil, opts...)})
	n := len(m.calls)
	onCalled := m.OnCalled
	m.mu.Unlock()

	if onCalled != nil {
		onCalled(n)
	}

	r := m.respond(n, input)
	if r.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}

	msg := schema.AssistantMessage(r.Content, nil)
	msg.ResponseMeta = &schema.ResponseMeta{
		Usage: &schema.TokenUsage{
			PromptTokens:     r.PromptTokens,
			CompletionTokens: r.CompletionTokens,
			TotalTokens:      r.PromptTokens + r.CompletionTokens,
		},
	}
	return msg, nil
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// Calls 返回调用次数
func (m *ChatModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Call 返回第 n 次（从 1 开始）调用记录
func (m *ChatModel) Call(n int) Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[n-1]
}

// LastUserMessage 返回第 n 次调用的最后一条用户消息
func (m *ChatModel) LastUserMessage(n int) string {
	c := m.Call(n)
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == schema.User {
			return c.Messages[i].Content
		}
	}
	return ""
}

// Factory 按名称返回预置模型的 port.ChatModelFactory
type Factory struct {
	Models map[string]model.BaseChatModel
	Err    error
}

func NewFactory(models map[string]model.BaseChatModel) *Factory {
	return &Factory{Models: models}
}

func (f *Factory) Get(_ context.Context, name string) (model.BaseChatModel, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	m, ok := f.Models[name]
	if !ok {
		return nil, fmt.Errorf("provider %s not found in LLM config", name)
	}
	return m, nil
}

// VerdictCache 内存版校验结论缓存
type VerdictCache struct {
	mu      sync.Mutex
	entries map[string]wfmodel.ValidationResult
	Sets    int
	GetErr  error
}

func NewVerdictCache() *VerdictCache {
	return &VerdictCache{entries: make(map[string]wfmodel.ValidationResult)}
}

func (c *VerdictCache) Get(_ context.Context, key string) (*wfmodel.ValidationResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GetErr != nil {
		return nil, false, c.GetErr
	}
	v, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (c *VerdictCache) Set(_ context.Context, key string, verdict *wfmodel.ValidationResult, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = *verdict
	c.Sets++
	return nil
}
