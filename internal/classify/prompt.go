package classify

import (
	"fmt"

	"github.com/buildra/planchat/internal/llm"
)

const systemPromptTemplate = `You are a question classification engine for a construction plan assistant. Analyze the user's question and output ONLY a single valid JSON object with these fields:

- "question_type": one of "TAKEOFF_COST", "TAKEOFF_QUANTITY", "TAKEOFF_MODIFY", "TAKEOFF_ANALYZE", "PAGE_CONTENT", "BLUEPRINT_CONTEXT", "COMBINED", "OTHER"
- "targets": array of the materials, trades, or items the question is about (e.g. ["drywall", "fire extinguisher"])
- "pages": array of page numbers explicitly mentioned, or [] if none
- "strict_takeoff_only": true when the question asks for exact quantities or costs and nothing else
- "modification_intent": one of "add", "remove", "update", "analyze_missing", "none"

Question type guide:
- TAKEOFF_COST: asks about prices, costs, or budget totals
- TAKEOFF_QUANTITY: asks how many/how much of something is in the takeoff
- TAKEOFF_MODIFY: asks to add, remove, or change takeoff items
- TAKEOFF_ANALYZE: asks what might be missing or wrong in the takeoff
- PAGE_CONTENT: asks what is on a specific page or sheet
- BLUEPRINT_CONTEXT: asks about drawings, details, or specifications
- COMBINED: needs both takeoff data and blueprint content
- OTHER: anything else

Do not include any other text, prose, or markdown.`

// BuildPrompt constructs the chat messages for question classification.
func BuildPrompt(question string, pages []int) []llm.Message {
	user := question
	if len(pages) > 0 {
		user = fmt.Sprintf("%s\n\n(The caller has already scoped this to pages %v.)", question, pages)
	}
	return []llm.Message{
		{Role: "system", Content: systemPromptTemplate},
		{Role: "user", Content: user},
	}
}
