package takeoff

import (
	"sort"
	"strings"
)

// MatchThreshold is the minimum fuzzy score for an item to count as
// matching a retrieval target.
const MatchThreshold = 0.4

// IdentityThreshold is the stricter score above which a parsed phrase is
// considered to refer to an existing item (add-vs-update coercion).
const IdentityThreshold = 0.6

// SearchText concatenates an item's descriptive fields into one lowercase
// string used for fuzzy matching.
func SearchText(item Item) string {
	parts := []string{item.Category, item.Subcategory, item.Name, item.Description}
	if item.Location != nil {
		parts = append(parts, *item.Location)
	}
	if item.Notes != nil {
		parts = append(parts, *item.Notes)
	}
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.ToLower(strings.Join(kept, " "))
}

// Score rates how well a phrase matches the given searchable text, in
// [0,1]. Whole-phrase containment scores 1.0; otherwise the score is the
// fraction of the phrase's tokens present in the text, with light
// singular/plural normalization on both sides.
func Score(text, phrase string) float64 {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if phrase == "" || text == "" {
		return 0
	}
	if strings.Contains(text, phrase) {
		return 1.0
	}

	textTokens := make(map[string]bool)
	for _, t := range strings.Fields(text) {
		textTokens[stem(t)] = true
	}

	tokens := strings.Fields(phrase)
	if len(tokens) == 0 {
		return 0
	}
	matched := 0
	for _, t := range tokens {
		if textTokens[stem(t)] {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}

// MatchScore is the best Score of any target against the item's search text.
func MatchScore(item Item, targets []string) float64 {
	text := SearchText(item)
	best := 0.0
	for _, t := range targets {
		if s := Score(text, t); s > best {
			best = s
		}
	}
	return best
}

// scoredItem pairs an item with its match score for sorting.
type scoredItem struct {
	item  Item
	score float64
}

// FilterByTargets keeps items scoring above MatchThreshold against the
// targets, sorted by score descending, capped at limit. With no targets
// it returns the first limit items unchanged (broad questions).
func FilterByTargets(items []Item, targets []string, limit int) []Item {
	if limit <= 0 {
		limit = len(items)
	}
	if len(targets) == 0 {
		if len(items) > limit {
			return items[:limit]
		}
		return items
	}

	scored := make([]scoredItem, 0, len(items))
	for _, it := range items {
		s := MatchScore(it, targets)
		if s >= MatchThreshold {
			scored = append(scored, scoredItem{item: it, score: s})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]Item, len(scored))
	for i, s := range scored {
		out[i] = s.item
	}
	return out
}

// FindByPhrase returns the best-matching existing item for a phrase, or
// nil when nothing clears IdentityThreshold.
func FindByPhrase(items []Item, phrase string) *Item {
	bestScore := 0.0
	bestIdx := -1
	for i, it := range items {
		if s := Score(SearchText(it), strings.ToLower(phrase)); s > bestScore {
			bestScore = s
			bestIdx = i
		}
	}
	if bestIdx == -1 || bestScore < IdentityThreshold {
		return nil
	}
	return &items[bestIdx]
}

// stem applies light plural stripping so "extinguishers" matches
// "extinguisher" and "boxes" matches "box".
func stem(w string) string {
	w = strings.Trim(w, ".,;:!?()\"'")
	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "es") && len(w) > 3:
		return w[:len(w)-2]
	case strings.HasSuffix(w, "s") && len(w) > 3 && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}
