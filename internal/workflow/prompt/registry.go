package prompt

import (
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed templates/*.txt
var templatesFS embed.FS

type PromptID string

const (
	PromptStoryGenV1      PromptID = "story_gen_v1"
	PromptRequestReviewV1 PromptID = "request_review_v1"
	PromptQualityAssessV1 PromptID = "quality_assess_v1"
)

// IDs 工作流用到的全部模板
func IDs() []PromptID {
	return []PromptID{PromptStoryGenV1, PromptRequestReviewV1, PromptQualityAssessV1}
}

// Registry 按 PromptID 懒加载并缓存 eino ChatTemplate，可并发使用
// 每个模板由 templates/<id>.system.txt 与 templates/<id>.user.txt 组成
type Registry struct {
	mu    sync.RWMutex
	cache map[PromptID]einoprompt.ChatTemplate
}

func NewRegistry() *Registry {
	return &Registry{
		cache: make(map[PromptID]einoprompt.ChatTemplate),
	}
}

// Warm 预加载全部模板，启动时暴露缺失的模板文件
func (r *Registry) Warm() error {
	var errs []error
	for _, id := range IDs() {
		if _, err := r.ChatTemplate(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) ChatTemplate(id PromptID) (einoprompt.ChatTemplate, error) {
	if r == nil {
		return nil, fmt.Errorf("prompt registry is nil")
	}

	r.mu.RLock()
	tpl, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	if !known(id) {
		return nil, fmt.Errorf("unknown prompt id: %s", id)
	}
	system, err := readEmbeddedText(string(id) + ".system.txt")
	if err != nil {
		return nil, err
	}
	user, err := readEmbeddedText(string(id) + ".user.txt")
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tpl, ok := r.cache[id]; ok {
		return tpl, nil
	}
	tpl = einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
	r.cache[id] = tpl
	return tpl, nil
}

func known(id PromptID) bool {
	for _, k := range IDs() {
		if k == id {
			return true
		}
	}
	return false
}

func readEmbeddedText(name string) (string, error) {
	b, err := templatesFS.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("prompt template %s: %w", name, err)
	}
	text := strings.TrimSpace(string(b))
	if text == "" {
		return "", fmt.Errorf("prompt template %s is empty", name)
	}
	return text, nil
}
