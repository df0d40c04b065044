package retrieval

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// strategyTemplate parameterizes one retrieval pass (spec.md §4.7 stage 3).
type strategyTemplate struct {
	Name           string
	PoolMultiplier int
	KeywordWeight  float64
	SemanticWeight float64
	RerankWeight   float64
	TimeWindow     time.Duration // 0 means no time filter
	MinScoreCut    float64
	MaxResults     int
}

var templates = map[Intent]strategyTemplate{
	IntentFactual: {
		Name: "factual_high_precision", PoolMultiplier: 2,
		KeywordWeight: 0.6, SemanticWeight: 0.4, RerankWeight: 0.3,
		MinScoreCut: 0.15, MaxResults: 10,
	},
	IntentExploratory: {
		Name: "exploratory_high_recall", PoolMultiplier: 4,
		KeywordWeight: 0.4, SemanticWeight: 0.6, RerankWeight: 0.2,
		MinScoreCut: 0.05, MaxResults: 25,
	},
	IntentTemporal: {
		Name: "temporal_time_filtered", PoolMultiplier: 3,
		KeywordWeight: 0.5, SemanticWeight: 0.5, RerankWeight: 0.2,
		TimeWindow: 30 * 24 * time.Hour, MinScoreCut: 0.1, MaxResults: 15,
	},
	IntentCausal: {
		Name: "causal_wide_pool", PoolMultiplier: 4,
		KeywordWeight: 0.45, SemanticWeight: 0.55, RerankWeight: 0.35,
		MinScoreCut: 0.1, MaxResults: 20,
	},
	IntentUnknown: {
		Name: "default", PoolMultiplier: 2,
		KeywordWeight: 0.5, SemanticWeight: 0.5, RerankWeight: 0.2,
		MinScoreCut: 0.1, MaxResults: 10,
	},
}

func strategyFor(intent Intent) strategyTemplate {
	if t, ok := templates[intent]; ok {
		return t
	}
	return templates[IntentUnknown]
}

var (
	temporalPattern = regexp.MustCompile(`\b(yesterday|today|tomorrow|last week|last month|ago|\d{4}-\d{2}-\d{2}|before|after|since|until)\b`)
	causalPattern   = regexp.MustCompile(`\b(why|because|cause|caused|reason|reasons)\b`)
	exploratoryPattern = regexp.MustCompile(`\b(list|what kinds|kinds of|examples|example|options|alternatives)\b`)
)

// classifyIntent assigns scores to the four intents from keyword/regex
// signals and applies the selection rule from spec.md §4.7 stage 2.
func classifyIntent(query string, t Thresholds) Intent {
	lower := strings.ToLower(query)

	scores := map[Intent]float64{
		IntentTemporal:    float64(len(temporalPattern.FindAllString(lower, -1))),
		IntentCausal:      float64(len(causalPattern.FindAllString(lower, -1))),
		IntentExploratory: float64(len(exploratoryPattern.FindAllString(lower, -1))),
	}

	factualScore := 0.0
	if scores[IntentTemporal] == 0 && scores[IntentCausal] == 0 && scores[IntentExploratory] == 0 && strings.TrimSpace(lower) != "" {
		factualScore = 1
	}
	scores[IntentFactual] = factualScore

	ranked := make([]intentScore, 0, len(scores))
	for i, s := range scores {
		ranked = append(ranked, intentScore{i, s})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) == 0 {
		return IntentFactual
	}

	top := ranked[0]
	var runnerUp intentScore
	if len(ranked) > 1 {
		runnerUp = ranked[1]
	}

	if top.score-runnerUp.score >= t.IntentStrongMargin {
		return top.intent
	}

	allBelowFloor := true
	for _, s := range ranked {
		if s.score >= t.IntentFloor {
			allBelowFloor = false
			break
		}
	}
	if allBelowFloor {
		return IntentFactual
	}

	ambiguousCount := 0
	for _, s := range ranked {
		if top.score-s.score <= t.IntentAmbiguousMargin {
			ambiguousCount++
		}
	}
	if ambiguousCount >= 2 {
		return IntentUnknown
	}

	return top.intent
}

type intentScore struct {
	intent Intent
	score  float64
}
