package node

import (
	"strings"

	"tale-weaver-api/internal/domain/entity"
)

const maxContinuationRunes = 6000

// BuildCharactersBlock 渲染角色列表，生成与评估提示词共用
func BuildCharactersBlock(chars []entity.Character) string {
	lines := make([]string, 0, len(chars))
	for _, c := range chars {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		line := "- " + name
		if d := strings.TrimSpace(c.Description); d != "" {
			line += ": " + d
		}
		if len(c.Traits) > 0 {
			line += " (traits: " + strings.Join(c.Traits, ", ") + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// BuildContinuationBlock 续写上下文；无续写时为空
func BuildContinuationBlock(c *entity.Continuation) string {
	if c == nil || strings.TrimSpace(c.Content) == "" {
		return ""
	}
	lines := []string{"", "This story continues an earlier one. Keep names, facts and tone consistent and start where it ended."}
	if t := strings.TrimSpace(c.Title); t != "" {
		lines = append(lines, "Previous title: "+t)
	}
	lines = append(lines, "Previous story:", TruncateByRunes(NormalizeText(c.Content), maxContinuationRunes), "")
	return strings.Join(lines, "\n")
}

// BuildRevisionBlock 把上一轮评估意见转成修改指令
func BuildRevisionBlock(feedback string) string {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return ""
	}
	return "\nAn editor reviewed a previous draft of this story. Write a new draft that fixes the deficiencies below while keeping what scored well:\n" +
		feedback + "\n"
}
