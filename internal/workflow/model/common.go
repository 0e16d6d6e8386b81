package model

// LLMUsageMeta 一次（含重试）模型调用的用量信息
type LLMUsageMeta struct {
	Provider         string `json:"provider"`
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	Calls            int    `json:"calls"`
}

// Add 累加另一份用量
func (m *LLMUsageMeta) Add(o LLMUsageMeta) {
	m.PromptTokens += o.PromptTokens
	m.CompletionTokens += o.CompletionTokens
	m.Calls += o.Calls
}
