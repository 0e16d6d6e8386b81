// Package messaging 基于 Redis Streams 投递异步故事生成任务
package messaging

import (
	"encoding/json"
	"time"
)

// MessageTypeStoryGen 故事生成任务消息类型
const MessageTypeStoryGen = "story_gen"

// Message 流消息信封，序列化后放在 Stream 条目的 data 字段
type Message struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewMessage 创建新消息
func NewMessage(id, msgType string, payload any) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        id,
		Type:      msgType,
		Payload:   raw,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now(),
	}, nil
}

func (m *Message) SetMetadata(key, value string) {
	if value == "" {
		return
	}
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}

func (m *Message) GetMetadata(key string) string {
	return m.Metadata[key]
}

// UnmarshalPayload 解析消息载荷
func (m *Message) UnmarshalPayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// StoryJobMessage 故事生成任务载荷；请求本体保存在任务表中
type StoryJobMessage struct {
	JobID     string `json:"job_id"`
	RequestID string `json:"request_id,omitempty"`
}

// Stream 流定义
type Stream string

const StreamStoryGen Stream = "stream:story:gen"

// DLQStream 对应的死信队列流名称
func (s Stream) DLQStream() string {
	return "dlq:" + string(s)
}

// ConsumerGroup 消费者组定义
type ConsumerGroup string

const ConsumerGroupStoryWorker ConsumerGroup = "cg-story-worker"

// GroupName 带前缀的消费者组名
func GroupName(prefix string, group ConsumerGroup) ConsumerGroup {
	if prefix == "" {
		return group
	}
	return ConsumerGroup(prefix + string(group))
}

// BackoffConfig 待处理消息的重投退避
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    time.Second,
		Max:        time.Minute,
		Multiplier: 2,
	}
}

// Delay 第 deliveries 次投递后需要等待的空闲时长
func (c BackoffConfig) Delay(deliveries int) time.Duration {
	d := c.Initial
	for i := 0; i < deliveries; i++ {
		d = time.Duration(float64(d) * c.Multiplier)
		if d >= c.Max {
			return c.Max
		}
	}
	return d
}
