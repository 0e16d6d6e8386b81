package generator

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"tale-weaver-api/internal/domain/entity"
	wfnode "tale-weaver-api/internal/workflow/node"
)

const maxTitleRunes = 80

var titlePrefixRe = regexp.MustCompile(`(?i)^(title|story title|标题)\s*[:：]\s*`)

// SplitTitle 从模型输出中拆出标题与正文；首行不像标题时标题为空，正文保持原样
func SplitTitle(raw string) (title, body string) {
	text := wfnode.NormalizeText(raw)
	if text == "" {
		return "", ""
	}

	first, rest, _ := strings.Cut(text, "\n")
	candidate := cleanTitleLine(first)
	if !looksLikeTitle(candidate) {
		return "", text
	}
	body = strings.TrimSpace(rest)
	if body == "" {
		return "", text
	}
	return candidate, body
}

func cleanTitleLine(line string) string {
	s := strings.TrimSpace(line)
	s = strings.TrimLeft(s, "#")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*_")
	s = titlePrefixRe.ReplaceAllString(s, "")
	s = strings.Trim(s, "\"'“”‘’「」《》 ")
	return strings.TrimSpace(s)
}

func looksLikeTitle(s string) bool {
	n := utf8.RuneCountInString(s)
	if n == 0 || n > maxTitleRunes {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(s)
	switch last {
	case '.', ',', ';', '。', '，', '；':
		// "!" 与 "?" 在童话标题中常见，不视为句末
		return false
	}
	return true
}

// FallbackTitle 模型未给出标题时按请求合成
func FallbackTitle(req *entity.GenerationRequest) string {
	name := strings.TrimSpace(req.PrimaryCharacter().Name)
	if name == "" {
		name = "A Little Friend"
	}
	moral := strings.TrimSpace(req.Moral)
	if moral == "" {
		return name + "'s Story"
	}
	return fmt.Sprintf("%s and the Lesson of %s", name, titleCase(moral))
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
