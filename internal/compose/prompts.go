package compose

import (
	"fmt"
	"strings"

	"github.com/buildra/planchat/internal/classify"
	"github.com/buildra/planchat/internal/takeoff"
)

// Mode names the persona a response was generated under. It is reported
// back to the caller alongside the answer.
type Mode string

const (
	ModeStrict       Mode = "strict"
	ModeCopilot      Mode = "copilot"
	ModeModification Mode = "modification"
)

const strictSystemPrompt = `You are a construction takeoff assistant operating in strict data mode.

Answer ONLY from the takeoff items and blueprint excerpts provided in the context.
- Report quantities, units, and costs exactly as they appear. Do not estimate, extrapolate, or infer values that are not present.
- If the context does not contain the data needed to answer, say so plainly and name what is missing.
- Keep answers short and numeric. Cite page numbers when the context provides them.
- Never invent items, quantities, or prices.`

const copilotSystemPrompt = `You are an experienced construction estimator helping a contractor understand their plans.

Use the takeoff items, blueprint excerpts, and project details in the context as your primary source. You may add trade knowledge and reasonable interpretation, but clearly separate what the plans say from what you are inferring.
- Be practical and conversational, like a senior estimator reviewing plans with a colleague.
- Point out gaps, ambiguities, or items worth double-checking when you notice them.
- Cite page or sheet numbers when the context provides them.`

const modificationSystemPrompt = `You are a construction takeoff assistant that can modify the takeoff list.

When the user asks to add, remove, or change items, respond with a short confirmation of what you are changing, followed by a fenced JSON block describing the modifications:

` + "```json" + `
{"modifications": [
  {"action": "add", "item": {"name": "...", "category": "...", "quantity": 0, "unit": "...", "unit_cost": 0}},
  {"action": "update", "item_id": "...", "item": {"quantity": 0}},
  {"action": "remove", "item_id": "..."}
]}
` + "```" + `

Rules:
- Match requested items against the existing takeoff list in the context. Prefer updating an existing item over adding a duplicate.
- Use the item_id from the context for updates and removals.
- Only include fields that change in an update.
- If the user is asking what might be missing from the takeoff, analyze the blueprint excerpts against the item list and suggest additions.
- Never modify items the user did not ask about.`

// SelectSystemPrompt picks the persona for a classification. Modification
// and analysis intents take priority, then strict numeric mode, then the
// exploratory copilot. A classification flagged strict_takeoff_only always
// lands on the strict prompt unless a modification is requested.
func SelectSystemPrompt(cls classify.Classification) (string, Mode) {
	switch cls.ModificationIntent {
	case classify.IntentAdd, classify.IntentRemove, classify.IntentUpdate, classify.IntentAnalyzeMissing:
		return modificationSystemPrompt, ModeModification
	}
	if cls.StrictTakeoffOnly {
		return strictSystemPrompt, ModeStrict
	}
	if cls.QuestionType == classify.TakeoffModify || cls.QuestionType == classify.TakeoffAnalyze {
		return modificationSystemPrompt, ModeModification
	}
	if cls.QuestionType == classify.TakeoffCost || cls.QuestionType == classify.TakeoffQuantity {
		return strictSystemPrompt, ModeStrict
	}
	return copilotSystemPrompt, ModeCopilot
}

// RenderUserPrompt flattens a PlanContext into the user message sent to
// the model: project details, conversation history, takeoff items,
// blueprint excerpts grouped by page, related sheets, then the question.
func RenderUserPrompt(pc *PlanContext) string {
	var b strings.Builder

	if pc.Metadata != nil {
		b.WriteString("## Project\n")
		if pc.Metadata.JobName != "" {
			fmt.Fprintf(&b, "Job: %s\n", pc.Metadata.JobName)
		}
		if pc.Metadata.PlanTitle != "" {
			fmt.Fprintf(&b, "Plan: %s\n", pc.Metadata.PlanTitle)
		}
		if pc.Metadata.Address != "" {
			fmt.Fprintf(&b, "Address: %s\n", pc.Metadata.Address)
		}
		if n := len(pc.Metadata.SheetIndexSummary); n > 0 {
			fmt.Fprintf(&b, "Sheets: %d", n)
			if len(pc.Metadata.Disciplines) > 0 {
				fmt.Fprintf(&b, " (%s)", strings.Join(pc.Metadata.Disciplines, ", "))
			}
			b.WriteString("\n")
		}
		if len(pc.Metadata.MajorCostCategories) > 0 {
			b.WriteString("Major cost categories: ")
			parts := make([]string, 0, len(pc.Metadata.MajorCostCategories))
			for _, c := range pc.Metadata.MajorCostCategories {
				parts = append(parts, c.Category)
			}
			b.WriteString(strings.Join(parts, ", "))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if pc.CompressedSummary != "" || len(pc.RecentTurns) > 0 {
		b.WriteString("## Conversation so far\n")
		if pc.CompressedSummary != "" {
			fmt.Fprintf(&b, "[Earlier conversation] %s\n", pc.CompressedSummary)
		}
		for _, t := range pc.RecentTurns {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", t.UserMessage, t.AssistantMessage)
		}
		b.WriteString("\n")
	}

	if len(pc.Items) > 0 {
		b.WriteString("## Takeoff items\n")
		for _, it := range pc.Items {
			b.WriteString(FormatItemLine(it))
			b.WriteString("\n")
		}
		if pc.QuantityTotal > 0 || pc.CostTotal > 0 {
			fmt.Fprintf(&b, "Listed totals: quantity %s, cost $%s\n", FormatNumber(pc.QuantityTotal), FormatNumber(pc.CostTotal))
		}
		b.WriteString("\n")
	}

	if len(pc.Chunks) > 0 {
		b.WriteString("## Blueprint excerpts\n")
		lastPage := -1
		first := true
		for _, c := range pc.Chunks {
			page := -1
			if c.PageNumber != nil {
				page = *c.PageNumber
			}
			if first || page != lastPage {
				if page >= 0 {
					fmt.Fprintf(&b, "### Page %d", page)
					if c.Sheet != nil && c.Sheet.SheetID != "" {
						fmt.Fprintf(&b, " (%s)", c.Sheet.SheetID)
					}
					b.WriteString("\n")
				} else {
					b.WriteString("### Unpaged\n")
				}
				lastPage = page
				first = false
			}
			b.WriteString(c.SnippetText)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(pc.Sheets) > 0 {
		b.WriteString("## Related sheets\n")
		for _, s := range pc.Sheets {
			fmt.Fprintf(&b, "- Page %d", s.PageNumber)
			if s.SheetID != "" {
				fmt.Fprintf(&b, " %s", s.SheetID)
			}
			if s.Title != "" {
				fmt.Fprintf(&b, ": %s", s.Title)
			}
			if s.Discipline != "" {
				fmt.Fprintf(&b, " [%s]", s.Discipline)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(pc.Notes) > 0 {
		b.WriteString("## Notes\n")
		for _, n := range pc.Notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Question\n%s\n", pc.Question)
	return b.String()
}

// FormatItemLine renders one takeoff item as a bullet with its quantity,
// unit, costs, and page when present.
func FormatItemLine(it takeoff.Item) string {
	var b strings.Builder
	b.WriteString("- ")
	name := it.Name
	if name == "" {
		name = it.Description
	}
	if name == "" {
		name = "(unnamed item)"
	}
	b.WriteString(name)
	if it.Category != "" {
		fmt.Fprintf(&b, " (%s)", it.Category)
	}
	if it.Quantity != nil {
		fmt.Fprintf(&b, ": %s", FormatNumber(*it.Quantity))
		if it.Unit != nil && *it.Unit != "" {
			fmt.Fprintf(&b, " %s", *it.Unit)
		}
	}
	if it.UnitCost != nil {
		fmt.Fprintf(&b, " @ $%s", FormatNumber(*it.UnitCost))
	}
	if it.TotalCost != nil {
		fmt.Fprintf(&b, " = $%s", FormatNumber(*it.TotalCost))
	}
	if it.PageNumber != nil {
		fmt.Fprintf(&b, " [page %d]", *it.PageNumber)
	}
	if it.ID != "" {
		fmt.Fprintf(&b, " {id: %s}", it.ID)
	}
	return b.String()
}

// FormatNumber renders a quantity or cost with thousands separators and
// at most two decimal places, trimming trailing zeros.
func FormatNumber(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")

	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteString("-")
	}
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteString(",")
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteString(".")
		b.WriteString(frac)
	}
	return b.String()
}
