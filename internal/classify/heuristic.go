package classify

import (
	"regexp"
	"strconv"
	"strings"
)

// pageRefPattern matches "page 4", "pages 3, 4 and 7", "sheet 12", "pg. 2".
var pageRefPattern = regexp.MustCompile(`(?i)\b(?:pages?|sheets?|pg\.?)\s*#?\s*((?:\d+\s*(?:,|and|&)?\s*)+)`)

var digitPattern = regexp.MustCompile(`\d+`)

var (
	costWords = []string{"cost", "price", "pricing", "budget", "expensive", "dollar", "$", "bid amount"}
	qtyWords  = []string{"how many", "how much", "quantity", "quantities", "count", "linear feet", "square feet", "total of"}
	pageWords = []string{"what's on", "what is on", "what does", "show me page", "content of"}
	planWords = []string{"blueprint", "drawing", "drawings", "detail", "details", "elevation", "section", "schedule", "spec", "specification", "note", "legend"}

	addWords     = []string{"add", "include", "insert"}
	removeWords  = []string{"remove", "delete", "take out", "drop"}
	updateWords  = []string{"update", "change", "set", "increase", "decrease", "correct", "fix", "adjust", "revise"}
	missingWords = []string{"missing", "miss anything", "overlooked", "left out", "forgot"}

	exploratoryWords = []string{"why", "explain", "analyze", "recommend", "should", "think", "compare", "suggest"}
)

// wordPatterns holds whole-word matchers for the verb lists. Substring
// matching misfires there: "address" contains "add", "fixed" contains
// "fix".
var wordPatterns = map[string]*regexp.Regexp{}

func init() {
	for _, list := range [][]string{addWords, removeWords, updateWords, missingWords, exploratoryWords} {
		for _, w := range list {
			wordPatterns[w] = regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `\b`)
		}
	}
}

// stopwords excluded when extracting targets from the raw question.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"of": true, "on": true, "in": true, "to": true, "for": true, "per": true,
	"what": true, "whats": true, "how": true, "many": true, "much": true,
	"do": true, "does": true, "did": true, "we": true, "i": true, "you": true,
	"there": true, "this": true, "that": true, "it": true, "and": true,
	"or": true, "with": true, "have": true, "has": true, "be": true,
	"page": true, "pages": true, "sheet": true, "sheets": true, "pg": true,
	"plan": true, "plans": true, "takeoff": true, "please": true, "can": true,
	"show": true, "me": true, "my": true, "tell": true, "about": true,
	"cost": true, "costs": true, "quantity": true, "total": true,
	"add": true, "remove": true, "delete": true, "update": true,
	"change": true, "set": true, "from": true, "at": true, "by": true,
}

// Heuristic classifies a question with deterministic keyword rules. It is
// the fallback when the LLM classifier is unavailable or unparsable, and
// also supplies page numbers and targets the LLM path merges in.
func Heuristic(question string) Classification {
	q := strings.ToLower(question)

	out := Classification{
		QuestionType:       Other,
		Pages:              extractPages(question),
		Targets:            extractTargets(q),
		ModificationIntent: IntentNone,
	}

	hasCost := containsAny(q, costWords)
	hasQty := containsAny(q, qtyWords)
	hasPlan := containsAny(q, planWords)
	hasPages := len(out.Pages) > 0

	switch {
	case containsWord(q, missingWords):
		out.QuestionType = TakeoffAnalyze
		out.ModificationIntent = IntentAnalyzeMissing
	case containsWord(q, removeWords):
		out.QuestionType = TakeoffModify
		out.ModificationIntent = IntentRemove
	case containsWord(q, updateWords):
		out.QuestionType = TakeoffModify
		out.ModificationIntent = IntentUpdate
	case containsWord(q, addWords):
		out.QuestionType = TakeoffModify
		out.ModificationIntent = IntentAdd
	case (hasCost || hasQty) && (hasPlan || hasPages):
		out.QuestionType = Combined
	case hasCost:
		out.QuestionType = TakeoffCost
	case hasQty:
		out.QuestionType = TakeoffQuantity
	case hasPages && containsAny(q, pageWords):
		out.QuestionType = PageContent
	case hasPages:
		out.QuestionType = PageContent
	case hasPlan:
		out.QuestionType = BlueprintContext
	}

	if (out.QuestionType == TakeoffCost || out.QuestionType == TakeoffQuantity) &&
		!containsWord(q, exploratoryWords) {
		out.StrictTakeoffOnly = true
	}

	return out
}

// containsAny is plain substring matching, used for lists whose entries
// are phrases or symbols ("how many", "$") rather than single verbs.
func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func containsWord(s string, words []string) bool {
	for _, w := range words {
		if wordPatterns[w].MatchString(s) {
			return true
		}
	}
	return false
}

// extractPages pulls explicit page numbers out of the question text.
func extractPages(question string) []int {
	var pages []int
	seen := make(map[int]bool)
	for _, m := range pageRefPattern.FindAllStringSubmatch(question, -1) {
		for _, d := range digitPattern.FindAllString(m[1], -1) {
			n, err := strconv.Atoi(d)
			if err != nil || n <= 0 || seen[n] {
				continue
			}
			seen[n] = true
			pages = append(pages, n)
		}
	}
	return pages
}

// extractTargets derives search targets by grouping consecutive
// non-stopword tokens into phrases. Capped at five targets.
func extractTargets(q string) []string {
	clean := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == ' ' || r == '-' {
			return r
		}
		return ' '
	}, q)

	var targets []string
	var phrase []string
	flush := func() {
		if len(phrase) > 0 {
			targets = append(targets, strings.Join(phrase, " "))
			phrase = nil
		}
	}

	for _, tok := range strings.Fields(clean) {
		if stopwords[tok] || digitPattern.MatchString(tok) {
			flush()
			continue
		}
		phrase = append(phrase, tok)
	}
	flush()

	if len(targets) > 5 {
		targets = targets[:5]
	}
	return targets
}
