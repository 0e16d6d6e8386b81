package node

import (
	"context"

	openaiopts "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ResponseFormatOption 以 json_schema response_format 请求结构化输出
func ResponseFormatOption(name string, jsonSchema map[string]any) model.Option {
	return openaiopts.WithExtraFields(map[string]any{
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   name,
				"strict": false,
				"schema": jsonSchema,
			},
		},
	})
}

// GenerateStructured 先带 response_format 调用；提供方不支持时退回纯提示词约束再试一次
func GenerateStructured(ctx context.Context, chatModel model.BaseChatModel, msgs []*schema.Message, name string, jsonSchema map[string]any, opts ...model.Option) (*schema.Message, error) {
	withSchema := append(append(make([]model.Option, 0, len(opts)+1), opts...), ResponseFormatOption(name, jsonSchema))

	outMsg, err := chatModel.Generate(ctx, msgs, withSchema...)
	if err != nil && IsResponseFormatUnsupportedError(err) && ctx.Err() == nil {
		outMsg, err = chatModel.Generate(ctx, msgs, opts...)
	}
	if err != nil {
		return nil, err
	}
	if outMsg == nil {
		return nil, ErrEmptyOutput
	}
	return outMsg, nil
}

// UsageOf 读取消息中的 token 用量
func UsageOf(msg *schema.Message) (promptTokens, completionTokens int) {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return 0, 0
	}
	return msg.ResponseMeta.Usage.PromptTokens, msg.ResponseMeta.Usage.CompletionTokens
}
