package rehydrate

import (
	"strings"
)

// intentPatterns is the rule-based weighted pattern table of spec.md §4.6
// step 1. Each intent accumulates the weight of every pattern found as a
// substring of the lower-cased query; the intent with the highest total
// wins, defaulting to IntentGeneral when nothing scores above zero. This
// mirrors the teacher's verb-predicate boost tables in
// internal/context/activation.go (computeRelevanceScore), adapted from
// fact-predicate matching to query-text matching.
var intentPatterns = map[Intent]map[string]float64{
	IntentCodeAssist: {
		"function": 3, "bug": 3, "error": 3, "stack trace": 4, "compile": 3,
		"refactor": 3, "code": 2, "implement": 2, "api": 2, "class": 2,
		"variable": 2, "exception": 3, "debug": 3, "test fails": 3, "repo": 1,
	},
	IntentResearch: {
		"compare": 3, "evaluate": 3, "survey": 3, "literature": 4, "state of the art": 4,
		"pros and cons": 3, "tradeoff": 3, "benchmark": 2, "paper": 2, "study": 2,
		"investigate": 3, "why does": 2,
	},
	IntentMeetingPrep: {
		"meeting": 4, "agenda": 4, "standup": 3, "attendees": 3, "recap": 3,
		"follow up": 3, "action items": 4, "schedule": 2, "sync": 2, "1:1": 3,
	},
	IntentWriting: {
		"draft": 4, "write": 3, "essay": 3, "rewrite": 3, "tone": 3,
		"blog post": 4, "email to": 3, "proofread": 3, "outline": 2, "summary for": 2,
	},
	IntentAnalysis: {
		"analyze": 4, "trend": 3, "root cause": 4, "metric": 3, "dashboard": 2,
		"report": 2, "correlation": 3, "forecast": 3, "breakdown": 2,
	},
}

// Classifier's extra field, when non-nil, supplies additional configuration-provided
// intent tags (spec.md §4.6 step 1 "plus any domain-specific tags provided
// by configuration") layered on top of the built-in table.
type Classifier struct {
	extra map[Intent]map[string]float64
}

// NewClassifier builds a Classifier, merging any domain-specific pattern
// tables on top of the built-in ones. extra may be nil.
func NewClassifier(extra map[Intent]map[string]float64) *Classifier {
	return &Classifier{extra: extra}
}

// Classify tags a query with the highest-scoring intent (spec.md §4.6 step
// 1). Ties are broken by a fixed priority order so the result is
// deterministic.
func (c *Classifier) Classify(query string) Intent {
	lower := strings.ToLower(query)

	scores := make(map[Intent]float64, len(intentPatterns))
	accumulate := func(table map[Intent]map[string]float64) {
		for intent, patterns := range table {
			for pattern, weight := range patterns {
				if strings.Contains(lower, pattern) {
					scores[intent] += weight
				}
			}
		}
	}
	accumulate(intentPatterns)
	if c != nil {
		accumulate(c.extra)
	}

	best := IntentGeneral
	bestScore := 0.0
	for _, intent := range priorityOrder {
		if s := scores[intent]; s > bestScore {
			bestScore = s
			best = intent
		}
	}
	return best
}

// priorityOrder fixes tie-break order among intents sharing the top score.
var priorityOrder = []Intent{
	IntentCodeAssist, IntentResearch, IntentMeetingPrep, IntentWriting, IntentAnalysis,
}
