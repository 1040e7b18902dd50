package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/buildra/planchat/internal/answer"
	"github.com/buildra/planchat/internal/retrieval"
	"github.com/buildra/planchat/internal/storage"
	"github.com/buildra/planchat/internal/takeoff"
)

// MCPSearcher abstracts semantic chunk search for the MCP layer.
type MCPSearcher interface {
	SearchChunks(ctx context.Context, planID, query string, limit int) ([]retrieval.Chunk, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Engine   AnswerEngine
	Searcher MCPSearcher
}

// NewMCPServer creates an MCP server exposing the plan chat pipeline as
// tools, so agent hosts can ask questions and inspect takeoffs directly.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"planchat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("planchat — question answering and takeoff management over processed construction plans."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_plan",
			mcp.WithDescription("Ask a free-text question about a plan's blueprints and takeoff. Modification requests (add/remove/update items) are applied."),
			mcp.WithString("plan_id", mcp.Description("Plan identifier"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("User identifier, scopes takeoff and conversation state"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("chat_id", mcp.Description("Optional conversation identifier for follow-up questions")),
		),
		mcpAskPlan(deps),
	)

	s.AddTool(
		mcp.NewTool("search_plan",
			mcp.WithDescription("Semantically search a plan's indexed blueprint text and return matching chunks with page numbers."),
			mcp.WithString("plan_id", mcp.Description("Plan identifier"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchPlan(deps),
	)

	s.AddTool(
		mcp.NewTool("takeoff_summary",
			mcp.WithDescription("Summarize the current takeoff for a plan: item count and per-category quantity and cost totals."),
			mcp.WithString("plan_id", mcp.Description("Plan identifier"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("User identifier"), mcp.Required()),
		),
		mcpTakeoffSummary(deps),
	)

	return s
}

func mcpAskPlan(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		planID, err := req.RequireString("plan_id")
		if err != nil {
			return mcpError("plan_id is required"), nil
		}
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		chatID := req.GetString("chat_id", "")

		resp, err := deps.Engine.Generate(ctx, answer.Request{
			PlanID:   planID,
			UserID:   userID,
			ChatID:   chatID,
			Question: question,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("answering failed: %v", err)), nil
		}

		return mcpText(resp.Answer), nil
	}
}

func mcpSearchPlan(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		planID, err := req.RequireString("plan_id")
		if err != nil {
			return mcpError("plan_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		chunks, err := deps.Searcher.SearchChunks(ctx, planID, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		type chunkResult struct {
			Text       string  `json:"text"`
			PageNumber *int    `json:"page_number,omitempty"`
			SheetID    string  `json:"sheet_id,omitempty"`
			Score      float64 `json:"score"`
		}
		results := make([]chunkResult, len(chunks))
		for i, c := range chunks {
			results[i] = chunkResult{
				Text:       c.SnippetText,
				PageNumber: c.PageNumber,
				Score:      c.Similarity,
			}
			if c.Sheet != nil {
				results[i].SheetID = c.Sheet.SheetID
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpTakeoffSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		planID, err := req.RequireString("plan_id")
		if err != nil {
			return mcpError("plan_id is required"), nil
		}
		userID, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}

		rec, err := deps.Store.LatestTakeoffRecord(planID, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpText(`{"item_count": 0, "categories": []}`), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("loading takeoff failed: %v", err)), nil
		}

		items := takeoff.ParseItemsJSON(rec.ItemsJSON)

		type categoryTotal struct {
			Category  string  `json:"category"`
			ItemCount int     `json:"item_count"`
			Quantity  float64 `json:"quantity"`
			TotalCost float64 `json:"total_cost"`
		}
		byCategory := map[string]*categoryTotal{}
		var order []string
		for _, it := range items {
			cat := it.Category
			if cat == "" {
				cat = "uncategorized"
			}
			ct, ok := byCategory[cat]
			if !ok {
				ct = &categoryTotal{Category: cat}
				byCategory[cat] = ct
				order = append(order, cat)
			}
			ct.ItemCount++
			if it.Quantity != nil {
				ct.Quantity += *it.Quantity
			}
			if it.TotalCost != nil {
				ct.TotalCost += *it.TotalCost
			}
		}

		categories := make([]categoryTotal, len(order))
		for i, cat := range order {
			categories[i] = *byCategory[cat]
		}

		b, err := json.Marshal(map[string]any{
			"item_count": len(items),
			"categories": categories,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
