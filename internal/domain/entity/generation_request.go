// Package entity 定义领域实体
package entity

import (
	"fmt"
	"strings"

	apperrors "tale-weaver-api/pkg/errors"
)

// StoryMode 故事模式
type StoryMode string

const (
	StoryModeSingle StoryMode = "single"
	StoryModeDual   StoryMode = "dual"
)

// 请求边界
const (
	MaxDurationMinutes = 30
	MaxAudienceAge     = 17
	maxFreeTextRunes   = 2000
)

// Character 故事角色
type Character struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Traits      []string `json:"traits,omitempty" yaml:"traits,omitempty"`
}

// Continuation 续写上下文（上一篇已接受的故事）
type Continuation struct {
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
}

// GenerationRequest 故事生成请求，创建后不可修改
type GenerationRequest struct {
	Mode            StoryMode     `json:"mode" yaml:"mode"`
	Characters      []Character   `json:"characters" yaml:"characters"`
	Moral           string        `json:"moral" yaml:"moral"`
	Theme           string        `json:"theme,omitempty" yaml:"theme,omitempty"`
	CustomTheme     string        `json:"custom_theme,omitempty" yaml:"custom_theme,omitempty"`
	Interests       []string      `json:"interests,omitempty" yaml:"interests,omitempty"`
	Language        string        `json:"language" yaml:"language"`
	DurationMinutes int           `json:"duration_minutes" yaml:"duration_minutes"`
	AudienceAge     int           `json:"audience_age,omitempty" yaml:"audience_age,omitempty"`
	Continuation    *Continuation `json:"continuation,omitempty" yaml:"continuation,omitempty"`
}

// TextField 请求中的一个自由文本字段
type TextField struct {
	Field string
	Value string
}

// WordBudget 将目标时长换算为大致字数
func (r *GenerationRequest) WordBudget(wordsPerMinute int) int {
	if r == nil || r.DurationMinutes <= 0 || wordsPerMinute <= 0 {
		return 0
	}
	return r.DurationMinutes * wordsPerMinute
}

// PrimaryCharacter 返回主角；无角色时返回零值
func (r *GenerationRequest) PrimaryCharacter() Character {
	if r == nil || len(r.Characters) == 0 {
		return Character{}
	}
	return r.Characters[0]
}

// AudienceLabel 目标读者描述，未指定年龄时按低龄儿童处理
func (r *GenerationRequest) AudienceLabel() string {
	if r == nil || r.AudienceAge <= 0 {
		return "young children (ages 4-8)"
	}
	return fmt.Sprintf("children aged %d", r.AudienceAge)
}

// EffectiveTheme 自定义主题优先于预设主题
func (r *GenerationRequest) EffectiveTheme() string {
	if s := strings.TrimSpace(r.CustomTheme); s != "" {
		return s
	}
	return strings.TrimSpace(r.Theme)
}

// FreeText 返回所有需要做内容审查的自由文本字段
func (r *GenerationRequest) FreeText() []TextField {
	if r == nil {
		return nil
	}

	fields := make([]TextField, 0, 8)
	add := func(field, value string) {
		if strings.TrimSpace(value) != "" {
			fields = append(fields, TextField{Field: field, Value: value})
		}
	}

	for i, interest := range r.Interests {
		add(fmt.Sprintf("interests[%d]", i), interest)
	}
	for i, c := range r.Characters {
		add(fmt.Sprintf("characters[%d].name", i), c.Name)
		add(fmt.Sprintf("characters[%d].description", i), c.Description)
		for j, trait := range c.Traits {
			add(fmt.Sprintf("characters[%d].traits[%d]", i, j), trait)
		}
	}
	add("custom_theme", r.CustomTheme)
	add("moral", r.Moral)
	if r.Continuation != nil {
		add("continuation.title", r.Continuation.Title)
	}
	return fields
}

// Check 校验请求结构（不涉及内容策略）
func (r *GenerationRequest) Check() error {
	if r == nil {
		return apperrors.ErrInvalidParam.WithDetail("request is required")
	}

	switch r.Mode {
	case StoryModeSingle:
		if len(r.Characters) != 1 {
			return apperrors.ErrInvalidParam.WithDetail("single mode requires exactly one character")
		}
	case StoryModeDual:
		if len(r.Characters) != 2 {
			return apperrors.ErrInvalidParam.WithDetail("dual mode requires exactly two characters")
		}
	default:
		return apperrors.ErrInvalidParam.WithDetail(fmt.Sprintf("unknown story mode %q", r.Mode))
	}

	for i, c := range r.Characters {
		if strings.TrimSpace(c.Name) == "" {
			return apperrors.ErrInvalidParam.WithDetail(fmt.Sprintf("characters[%d].name is required", i))
		}
	}

	if strings.TrimSpace(r.Moral) == "" {
		return apperrors.ErrInvalidParam.WithDetail("moral is required")
	}
	if strings.TrimSpace(r.Language) == "" {
		return apperrors.ErrInvalidParam.WithDetail("language is required")
	}
	if r.DurationMinutes <= 0 || r.DurationMinutes > MaxDurationMinutes {
		return apperrors.ErrInvalidParam.WithDetail(fmt.Sprintf("duration_minutes must be within [1, %d]", MaxDurationMinutes))
	}
	if r.AudienceAge < 0 || r.AudienceAge > MaxAudienceAge {
		return apperrors.ErrInvalidParam.WithDetail(fmt.Sprintf("audience_age must be within [0, %d]", MaxAudienceAge))
	}

	for _, f := range r.FreeText() {
		if len([]rune(f.Value)) > maxFreeTextRunes {
			return apperrors.ErrInvalidParam.WithDetail(fmt.Sprintf("%s exceeds %d characters", f.Field, maxFreeTextRunes))
		}
	}
	return nil
}
