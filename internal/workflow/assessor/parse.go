package assessor

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	wfmodel "tale-weaver-api/internal/workflow/model"
	wfnode "tale-weaver-api/internal/workflow/node"
)

// rubricReply 评估服务的结构化输出
type rubricReply struct {
	Scores   map[string]float64 `json:"scores"`
	Comments map[string]string  `json:"comments"`
	Summary  string             `json:"summary"`
}

type parsedScores struct {
	scores   map[wfmodel.Criterion]int
	comments map[wfmodel.Criterion]string
	summary  string
	source   wfmodel.AssessmentSource
}

// parseStructured 解析 JSON 输出，六个维度必须齐全
func parseStructured(raw string) (*parsedScores, error) {
	reply, err := wfnode.DecodeJSONObject[rubricReply](raw)
	if err != nil {
		return nil, err
	}

	normalized := make(map[string]float64, len(reply.Scores))
	for k, v := range reply.Scores {
		normalized[criterionKey(k)] = v
	}
	notes := make(map[string]string, len(reply.Comments))
	for k, v := range reply.Comments {
		notes[criterionKey(k)] = strings.TrimSpace(v)
	}

	out := &parsedScores{
		scores:   make(map[wfmodel.Criterion]int, len(wfmodel.Rubric)),
		comments: make(map[wfmodel.Criterion]string, len(wfmodel.Rubric)),
		summary:  strings.TrimSpace(reply.Summary),
		source:   wfmodel.AssessmentSourceStructured,
	}
	for _, c := range wfmodel.Criteria() {
		v, ok := normalized[string(c)]
		if !ok {
			return nil, &wfnode.ParseError{Raw: raw, Err: fmt.Errorf("missing score for %s", c)}
		}
		score, err := clampScore(v)
		if err != nil {
			return nil, &wfnode.ParseError{Raw: raw, Err: fmt.Errorf("score for %s: %w", c, err)}
		}
		out.scores[c] = score
		if note := notes[string(c)]; note != "" {
			out.comments[c] = note
		}
	}
	return out, nil
}

var criterionLineRes = buildCriterionLineRes()

func buildCriterionLineRes() map[wfmodel.Criterion]*regexp.Regexp {
	res := make(map[wfmodel.Criterion]*regexp.Regexp, len(wfmodel.Rubric))
	for _, c := range wfmodel.Criteria() {
		name := strings.ReplaceAll(string(c), "_", `[\s_-]+`)
		// "Moral clarity: 8"、"moral_clarity = 8/10"、"- **Moral Clarity** - 8 / 10"，
		// 以及截断 JSON 中的 `"moral_clarity": 8,`
		res[c] = regexp.MustCompile(`(?im)(?:^|[{,])[\s\-\*#>"]*` + name + `[\s\*"]*[:=\-]\s*(\d+(?:\.\d+)?)(?:\s*/\s*10)?`)
	}
	return res
}

// parseText 文本兜底：逐行提取 "criterion: N"，六个维度必须齐全
func parseText(raw string) (*parsedScores, error) {
	out := &parsedScores{
		scores:   make(map[wfmodel.Criterion]int, len(wfmodel.Rubric)),
		comments: map[wfmodel.Criterion]string{},
		source:   wfmodel.AssessmentSourceText,
	}
	for _, c := range wfmodel.Criteria() {
		m := criterionLineRes[c].FindStringSubmatch(raw)
		if m == nil {
			return nil, fmt.Errorf("text fallback: no score for %s", c)
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil, fmt.Errorf("text fallback: bad score for %s: %w", c, err)
		}
		score, err := clampScore(v)
		if err != nil {
			return nil, fmt.Errorf("text fallback: score for %s: %w", c, err)
		}
		out.scores[c] = score
	}
	return out, nil
}

func criterionKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.NewReplacer(" ", "_", "-", "_").Replace(k)
	return k
}

// clampScore 先在浮点域内截断到量表范围再取整
func clampScore(v float64) (int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("score %v is not a finite number", v)
	}
	v = math.Min(math.Max(v, wfmodel.MinScore), wfmodel.MaxScore)
	return int(math.Round(v)), nil
}

// WeightedScore 加权总分，保留两位小数
func WeightedScore(scores map[wfmodel.Criterion]int) float64 {
	total := 0.0
	for _, cw := range wfmodel.Rubric {
		total += float64(scores[cw.Criterion]) * cw.Weight
	}
	return math.Round(total*100) / 100
}
