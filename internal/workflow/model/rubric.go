package model

// Criterion 质量评估维度
type Criterion string

const (
	CriterionAgeAppropriateness   Criterion = "age_appropriateness"
	CriterionMoralClarity         Criterion = "moral_clarity"
	CriterionNarrativeCoherence   Criterion = "narrative_coherence"
	CriterionCharacterConsistency Criterion = "character_consistency"
	CriterionEngagement           Criterion = "engagement"
	CriterionLanguageQuality      Criterion = "language_quality"
)

// 评分区间
const (
	MinScore     = 1
	MaxScore     = 10
	DefaultScore = 5
)

type CriterionWeight struct {
	Criterion   Criterion
	Weight      float64
	Description string
}

// Rubric 固定评估量表，权重之和为 1.0
var Rubric = []CriterionWeight{
	{CriterionAgeAppropriateness, 0.20, "vocabulary and themes match the target audience"},
	{CriterionMoralClarity, 0.20, "the intended lesson is legible and integrated into the plot"},
	{CriterionNarrativeCoherence, 0.20, "logical cause and effect, no contradictions"},
	{CriterionCharacterConsistency, 0.15, "characters act in line with their stated traits"},
	{CriterionEngagement, 0.15, "pacing and interest sustained throughout"},
	{CriterionLanguageQuality, 0.10, "grammar, vocabulary and fluency"},
}

// Criteria 按量表顺序返回评估维度
func Criteria() []Criterion {
	out := make([]Criterion, len(Rubric))
	for i, c := range Rubric {
		out[i] = c.Criterion
	}
	return out
}

// WeightOf 返回维度权重；未知维度为 0
func WeightOf(c Criterion) float64 {
	for _, cw := range Rubric {
		if cw.Criterion == c {
			return cw.Weight
		}
	}
	return 0
}
