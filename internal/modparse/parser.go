// Package modparse extracts takeoff modifications from model answers. It
// tries a structured JSON block first and falls back to phrase patterns
// over the answer text, so a model that narrates its changes instead of
// emitting JSON still results in applied modifications.
package modparse

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/buildra/planchat/internal/takeoff"
)

// Result is the outcome of parsing one answer. Parsing never fails; an
// answer with no recognizable modifications yields an empty list.
type Result struct {
	Modifications     []takeoff.Modification
	Explanation       string
	NeedsConfirmation bool
}

// Parse scans an answer for modifications. existing is the current takeoff
// item list, used to resolve named items to IDs and to coerce adds that
// duplicate an existing item into updates.
func Parse(answer string, existing []takeoff.Item) Result {
	if block, rest, ok := extractJSONBlock(answer); ok {
		if mods := parseJSONModifications(block); len(mods) > 0 {
			return Result{
				Modifications: finalize(mods, existing),
				Explanation:   strings.TrimSpace(rest),
			}
		}
	}

	mods, unresolved := parseTextModifications(answer, existing)
	return Result{
		Modifications:     finalize(mods, existing),
		Explanation:       strings.TrimSpace(answer),
		NeedsConfirmation: unresolved,
	}
}

// finalize applies the shared post-processing: adds that identity-match an
// existing item become quantity-preserving updates, then the list is
// deduplicated.
func finalize(mods []takeoff.Modification, existing []takeoff.Item) []takeoff.Modification {
	out := make([]takeoff.Modification, 0, len(mods))
	for _, m := range mods {
		if m.Action == takeoff.ActionAdd {
			name := m.Item.Name
			if name == "" {
				name = m.Item.Description
			}
			if found := takeoff.FindByPhrase(existing, name); found != nil {
				m.Action = takeoff.ActionUpdate
				m.ItemID = found.ID
			}
		}
		out = append(out, m)
	}
	return takeoff.Dedupe(out)
}

var (
	fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
)

// extractJSONBlock pulls the first JSON object mentioning "modifications"
// out of the answer, fenced or bare, and returns the remaining prose.
func extractJSONBlock(answer string) (block, rest string, ok bool) {
	if m := fencedJSONPattern.FindStringSubmatchIndex(answer); m != nil {
		block = answer[m[2]:m[3]]
		if strings.Contains(block, "\"modifications\"") {
			return block, answer[:m[0]] + answer[m[1]:], true
		}
	}

	start := strings.Index(answer, "{")
	if start < 0 || !strings.Contains(answer[start:], "\"modifications\"") {
		return "", "", false
	}
	depth := 0
	for i := start; i < len(answer); i++ {
		switch answer[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return answer[start : i+1], answer[:start] + answer[i+1:], true
			}
		}
	}
	return "", "", false
}

type wireModification struct {
	Action string          `json:"action"`
	ItemID string          `json:"item_id"`
	ItemId string          `json:"itemId"`
	Item   json.RawMessage `json:"item"`
	Reason string          `json:"reason"`
}

type wireEnvelope struct {
	Modifications []wireModification `json:"modifications"`
}

func parseJSONModifications(block string) []takeoff.Modification {
	var env wireEnvelope
	if err := json.Unmarshal([]byte(block), &env); err != nil {
		return nil
	}

	var mods []takeoff.Modification
	for _, w := range env.Modifications {
		action := takeoff.Action(strings.ToLower(strings.TrimSpace(w.Action)))
		switch action {
		case takeoff.ActionAdd, takeoff.ActionUpdate, takeoff.ActionRemove:
		default:
			continue
		}
		id := w.ItemID
		if id == "" {
			id = w.ItemId
		}
		m := takeoff.Modification{Action: action, ItemID: id, Reason: w.Reason}
		if len(w.Item) > 0 {
			var raw map[string]any
			if err := json.Unmarshal(w.Item, &raw); err == nil {
				normalized := takeoff.NormalizeItems([]map[string]any{raw})
				if len(normalized) == 1 {
					m.Item = normalized[0]
					if action != takeoff.ActionAdd {
						// Updates patch an existing item; a generated ID
						// on the patch would be mistaken for a real one.
						m.Item.ID = ""
					}
				}
			}
		}
		if action == takeoff.ActionRemove && m.ItemID == "" && m.Item.Name == "" {
			continue
		}
		mods = append(mods, m)
	}
	return mods
}

var wordNumbers = map[string]float64{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

const numberAlternatives = `\d[\d,]*(?:\.\d+)?|one|two|three|four|five|six|seven|eight|nine|ten`

var (
	addPattern = regexp.MustCompile(`(?i)\badd(?:ed|ing)?\s+(?:(` + numberAlternatives + `)\s+)?(?:units?\s+of\s+)?([A-Za-z][A-Za-z0-9' -]{1,60}?)(?:\s+to\s+the\s+(?:takeoff|list|plan|estimate)\b|[.,;:!?\n)]|$)`)

	removePattern = regexp.MustCompile(`(?i)\b(?:remov(?:e|ed|ing)|delet(?:e|ed|ing))\s+(?:the\s+)?([A-Za-z][A-Za-z0-9' -]{1,60}?)(?:\s+from\s+the\s+(?:takeoff|list|plan|estimate)\b|[.,;:!?\n)]|$)`)

	updatePattern = regexp.MustCompile(`(?i)\b(?:updat(?:e|ed|ing)|chang(?:e|ed|ing)|set(?:ting)?)\s+(?:the\s+)?([A-Za-z][A-Za-z0-9' -]{1,60}?)\s+to\s+(?:a\s+)?(?:quantity\s+of\s+)?(` + numberAlternatives + `)\b`)
)

// parseTextModifications runs the phrase patterns. unresolved reports
// whether any update or removal named an item that could not be matched
// against the existing list; those are dropped rather than guessed at.
func parseTextModifications(answer string, existing []takeoff.Item) (mods []takeoff.Modification, unresolved bool) {
	for _, m := range updatePattern.FindAllStringSubmatch(answer, -1) {
		phrase := cleanPhrase(m[1])
		qty, ok := parseNumber(m[2])
		if phrase == "" || !ok {
			continue
		}
		found := takeoff.FindByPhrase(existing, phrase)
		if found == nil {
			unresolved = true
			continue
		}
		q := qty
		mods = append(mods, takeoff.Modification{
			Action: takeoff.ActionUpdate,
			ItemID: found.ID,
			Item:   takeoff.Item{Quantity: &q},
		})
	}

	for _, m := range removePattern.FindAllStringSubmatch(answer, -1) {
		phrase := cleanPhrase(m[1])
		if phrase == "" {
			continue
		}
		found := takeoff.FindByPhrase(existing, phrase)
		if found == nil {
			unresolved = true
			continue
		}
		mods = append(mods, takeoff.Modification{Action: takeoff.ActionRemove, ItemID: found.ID})
	}

	for _, m := range addPattern.FindAllStringSubmatch(answer, -1) {
		phrase := cleanPhrase(m[2])
		if phrase == "" {
			continue
		}
		mod := takeoff.Modification{Action: takeoff.ActionAdd, Item: takeoff.Item{Name: phrase}}
		if qty, ok := parseNumber(m[1]); ok {
			q := qty
			mod.Item.Quantity = &q
		}
		mods = append(mods, mod)
	}

	return mods, unresolved
}

var phraseStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "some": true, "more": true,
	"new": true, "it": true, "them": true, "that": true, "this": true,
	"quantity": true, "of": true,
}

// cleanPhrase trims articles and filler from a captured item phrase.
func cleanPhrase(s string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	for len(words) > 0 && phraseStopwords[words[0]] {
		words = words[1:]
	}
	for len(words) > 0 && phraseStopwords[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func parseNumber(s string) (float64, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	if v, ok := wordNumbers[s]; ok {
		return v, true
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
