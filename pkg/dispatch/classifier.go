package dispatch

import "strings"

// Complexity is the routing class of an intent.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityComplex Complexity = "complex"
)

// Category names a capability area an intent can reference.
type Category string

const (
	CategoryCommunication Category = "communication"
	CategoryScheduling    Category = "scheduling"
	CategoryMemory        Category = "memory"
	CategoryRetrieval     Category = "retrieval"
	CategoryReasoning     Category = "reasoning"
)

// sequencingIndicators are connectors that signal a multi-step request.
var sequencingIndicators = []string{
	"and then",
	"after that",
	"afterwards",
	"followed by",
	"first",
	"second",
	"next",
	"finally",
	"once done",
	"before you",
	"step by step",
}

// categoryKeywords maps each capability category to its trigger words.
var categoryKeywords = map[Category][]string{
	CategoryCommunication: {"send", "email", "message", "reply", "notify", "tell", "text", "write to"},
	CategoryScheduling:    {"schedule", "calendar", "meeting", "remind", "appointment", "event", "tomorrow", "today"},
	CategoryMemory:        {"remember", "recall", "note", "save this", "what did i", "look up my"},
	CategoryRetrieval:     {"search", "find", "look up", "fetch", "browse", "news", "weather"},
	CategoryReasoning:     {"summarize", "analyze", "compare", "explain", "draft", "plan", "decide"},
}

// ClassifyComplexity applies a deterministic heuristic to an intent: two or
// more sequencing indicators, or references to two or more capability
// categories, make it complex. The result is monotonic in match count:
// adding matching text can only move simple toward complex, never back.
func ClassifyComplexity(intent string) Complexity {
	text := strings.ToLower(intent)

	indicators := 0
	for _, ind := range sequencingIndicators {
		if strings.Contains(text, ind) {
			indicators++
		}
	}
	if indicators >= 2 {
		return ComplexityComplex
	}

	categories := 0
	for _, keywords := range categoryKeywords {
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				categories++
				break
			}
		}
	}
	if categories >= 2 {
		return ComplexityComplex
	}

	return ComplexitySimple
}
