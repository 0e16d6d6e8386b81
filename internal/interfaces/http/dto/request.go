package dto

import (
	"strings"

	"github.com/gin-gonic/gin"

	"tale-weaver-api/internal/domain/entity"
)

// IdempotencyKeyHeader 异步任务幂等键请求头
const IdempotencyKeyHeader = "Idempotency-Key"

// CharacterRequest 角色
type CharacterRequest struct {
	Name        string   `json:"name" yaml:"name" binding:"required"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Traits      []string `json:"traits,omitempty" yaml:"traits,omitempty"`
}

// ContinuationRequest 续写上下文
type ContinuationRequest struct {
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content" binding:"required"`
}

// GenerateStoryRequest 故事生成请求
type GenerateStoryRequest struct {
	Mode            string               `json:"mode" yaml:"mode" binding:"required,oneof=single dual"`
	Characters      []CharacterRequest   `json:"characters" yaml:"characters" binding:"required,min=1,max=2,dive"`
	Moral           string               `json:"moral" yaml:"moral" binding:"required"`
	Theme           string               `json:"theme,omitempty" yaml:"theme,omitempty"`
	CustomTheme     string               `json:"custom_theme,omitempty" yaml:"custom_theme,omitempty"`
	Interests       []string             `json:"interests,omitempty" yaml:"interests,omitempty" binding:"max=20"`
	Language        string               `json:"language" yaml:"language" binding:"required"`
	DurationMinutes int                  `json:"duration_minutes" yaml:"duration_minutes" binding:"required,min=1"`
	AudienceAge     int                  `json:"audience_age,omitempty" yaml:"audience_age,omitempty" binding:"min=0"`
	Continuation    *ContinuationRequest `json:"continuation,omitempty" yaml:"continuation,omitempty"`
}

// ToEntity 转换为领域请求；模式与角色数量等一致性由 Check 负责
func (r *GenerateStoryRequest) ToEntity() *entity.GenerationRequest {
	chars := make([]entity.Character, 0, len(r.Characters))
	for _, c := range r.Characters {
		chars = append(chars, entity.Character{
			Name:        strings.TrimSpace(c.Name),
			Description: strings.TrimSpace(c.Description),
			Traits:      c.Traits,
		})
	}
	req := &entity.GenerationRequest{
		Mode:            entity.StoryMode(r.Mode),
		Characters:      chars,
		Moral:           strings.TrimSpace(r.Moral),
		Theme:           strings.TrimSpace(r.Theme),
		CustomTheme:     strings.TrimSpace(r.CustomTheme),
		Interests:       r.Interests,
		Language:        strings.TrimSpace(r.Language),
		DurationMinutes: r.DurationMinutes,
		AudienceAge:     r.AudienceAge,
	}
	if r.Continuation != nil {
		req.Continuation = &entity.Continuation{
			Title:   strings.TrimSpace(r.Continuation.Title),
			Content: r.Continuation.Content,
		}
	}
	return req
}

// BindJobID 获取任务 ID 路径参数
func BindJobID(c *gin.Context) string {
	return c.Param("jid")
}
