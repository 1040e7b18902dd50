// Package answer drives the full question lifecycle: classify, retrieve
// and build context, select a prompt, call the model, repair degenerate
// output, apply any requested takeoff modifications, and record the turn.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/buildra/planchat/internal/classify"
	"github.com/buildra/planchat/internal/compose"
	"github.com/buildra/planchat/internal/llm"
	"github.com/buildra/planchat/internal/modparse"
	"github.com/buildra/planchat/internal/storage"
	"github.com/buildra/planchat/internal/takeoff"
)

// ErrNoLLM is returned when no model client is configured. Everything
// upstream of the model call degrades gracefully; the call itself cannot.
var ErrNoLLM = errors.New("llm client is not configured")

// ModificationVerbPatterns is the second, classifier-independent trigger
// for modification parsing: if the model's own answer claims it changed
// the takeoff, the parser runs even when classification said otherwise.
// The list is a variable so deployments can tune it without a rebuild.
var ModificationVerbPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:added|removed|deleted|updated|changed|adjusted|set)\b.{0,80}\b(?:takeoff|item|quantity|list|estimate)\b`),
	regexp.MustCompile(`(?i)\bupdated the\b`),
	regexp.MustCompile(`(?i)"modifications"\s*:`),
}

// Classifier produces a classification for a question. It never fails.
type Classifier interface {
	Classify(ctx context.Context, question string) classify.Classification
}

// ContextBuilder assembles the bounded plan context for a question.
type ContextBuilder interface {
	Build(ctx context.Context, planID, userID, jobID string, cls classify.Classification, question string) *compose.PlanContext
}

// Generator is the model call surface.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error)
}

// Reindexer rebuilds the vector index for a plan and reports how many
// chunks it produced.
type Reindexer interface {
	Reindex(ctx context.Context, planID string) (int, error)
}

// ChunkCounter reports how many chunks a plan has indexed.
type ChunkCounter interface {
	CountByPlan(planID string) (int, error)
}

// TakeoffSource loads the current takeoff snapshot for modification
// resolution.
type TakeoffSource interface {
	LatestTakeoffRecord(planID, userID string) (storage.TakeoffRecord, error)
}

// Applier applies parsed modifications transactionally.
type Applier interface {
	Apply(planID, userID string, mods []takeoff.Modification) (int, error)
}

// TurnRecorder persists one conversation turn without blocking the caller.
type TurnRecorder interface {
	Record(turn storage.ConversationTurn)
}

// Request is one chat question against a plan.
type Request struct {
	PlanID   string
	UserID   string
	JobID    string
	ChatID   string
	Question string
}

// Metadata summarizes what the answer was grounded on.
type Metadata struct {
	ChunkCount           int  `json:"chunkCount"`
	ItemCount            int  `json:"itemCount"`
	SheetCount           int  `json:"sheetCount"`
	ModificationsApplied int  `json:"modificationsApplied"`
	Reindexed            bool `json:"reindexed"`
}

// Response is the engine's result. Answer is always non-empty on success.
type Response struct {
	Answer         string                  `json:"answer"`
	Classification classify.Classification `json:"classification"`
	Mode           compose.Mode            `json:"mode"`
	Metadata       Metadata                `json:"metadata"`
}

// Engine orchestrates one request lifecycle end to end.
type Engine struct {
	classifier Classifier
	builder    ContextBuilder
	client     Generator
	model      string

	counter   ChunkCounter
	reindexer Reindexer
	takeoffs  TakeoffSource
	applier   Applier
	memory    TurnRecorder

	logger *slog.Logger
}

// Config wires the engine's collaborators. Classifier, Builder, Client,
// and Model are required; the rest enable optional stages when present.
type Config struct {
	Classifier Classifier
	Builder    ContextBuilder
	Client     Generator
	Model      string
	Counter    ChunkCounter
	Reindexer  Reindexer
	Takeoffs   TakeoffSource
	Applier    Applier
	Memory     TurnRecorder
	Logger     *slog.Logger
}

func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		classifier: cfg.Classifier,
		builder:    cfg.Builder,
		client:     cfg.Client,
		model:      cfg.Model,
		counter:    cfg.Counter,
		reindexer:  cfg.Reindexer,
		takeoffs:   cfg.Takeoffs,
		applier:    cfg.Applier,
		memory:     cfg.Memory,
		logger:     logger,
	}
}

// Generate answers one question. It returns an error only when the model
// client is unconfigured, the model call itself fails, or the one allowed
// reindex attempt fails; every other degradation is absorbed into the
// answer.
func (e *Engine) Generate(ctx context.Context, req Request) (Response, error) {
	if e.client == nil {
		return Response{}, ErrNoLLM
	}

	cls := e.classifier.Classify(ctx, req.Question)
	pc := e.builder.Build(ctx, req.PlanID, req.UserID, req.JobID, cls, req.Question)

	var meta Metadata
	if len(pc.Chunks) == 0 && e.reindexer != nil && e.counter != nil {
		indexed, reindexed, err := e.maybeReindex(ctx, req.PlanID)
		if err != nil {
			return Response{}, fmt.Errorf("plan %s has no indexed content and reindexing failed: %w", req.PlanID, err)
		}
		meta.Reindexed = reindexed
		if reindexed && indexed > 0 {
			pc = e.builder.Build(ctx, req.PlanID, req.UserID, req.JobID, cls, req.Question)
		}
	}

	systemPrompt, mode := compose.SelectSystemPrompt(cls)
	userPrompt := compose.RenderUserPrompt(pc)

	answerText, err := e.callModel(ctx, systemPrompt, userPrompt)
	if err != nil {
		return Response{}, fmt.Errorf("model call failed: %w", err)
	}
	if degenerate(answerText) {
		answerText = fallbackAnswer(pc)
	}

	if e.shouldParse(cls, answerText) {
		meta.ModificationsApplied = e.parseAndApply(req, answerText)
	}

	meta.ChunkCount = len(pc.Chunks)
	meta.ItemCount = len(pc.Items)
	meta.SheetCount = len(pc.Sheets)

	if e.memory != nil {
		e.memory.Record(storage.ConversationTurn{
			ID:               uuid.NewString(),
			PlanID:           req.PlanID,
			UserID:           req.UserID,
			ChatID:           req.ChatID,
			UserMessage:      req.Question,
			AssistantMessage: answerText,
		})
	}

	return Response{
		Answer:         answerText,
		Classification: cls,
		Mode:           mode,
		Metadata:       meta,
	}, nil
}

// maybeReindex triggers one reindex when the plan has nothing indexed.
// indexed is the resulting chunk count; reindexed reports whether the
// attempt ran at all.
func (e *Engine) maybeReindex(ctx context.Context, planID string) (indexed int, reindexed bool, err error) {
	count, err := e.counter.CountByPlan(planID)
	if err != nil {
		e.logger.Warn("chunk count failed, skipping reindex", "plan_id", planID, "error", err)
		return 0, false, nil
	}
	if count > 0 {
		// Chunks exist but none matched the query. Reindexing would not
		// change that.
		return count, false, nil
	}

	e.logger.Info("no indexed content, triggering reindex", "plan_id", planID)
	indexed, err = e.reindexer.Reindex(ctx, planID)
	if err != nil {
		return 0, true, err
	}
	return indexed, true, nil
}

// callModel performs the chat completion. Call failures propagate: the
// client has already done its own retries, and a dead model endpoint is
// the one collaborator outage the caller must see.
func (e *Engine) callModel(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := e.client.Generate(ctx, llm.GenerateRequest{
		Model: e.model,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// degenerate reports whether a model answer is unusable: empty, bare
// punctuation, or a refusal stub with no content.
func degenerate(answer string) bool {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return true
	}
	if len(trimmed) <= 2 && strings.Trim(trimmed, ".,!?-") == "" {
		return true
	}
	return false
}

// fallbackAnswer builds a usable answer from whatever the context holds.
// The generic no-data message is the last rung only.
func fallbackAnswer(pc *compose.PlanContext) string {
	if len(pc.Items) > 0 {
		var b strings.Builder
		fmt.Fprintf(&b, "Here is what the takeoff shows (%d matching item(s)):\n", len(pc.Items))
		for _, it := range pc.Items {
			b.WriteString(compose.FormatItemLine(it))
			b.WriteString("\n")
		}
		if pc.QuantityTotal > 0 {
			fmt.Fprintf(&b, "Total quantity across listed items: %s.\n", compose.FormatNumber(pc.QuantityTotal))
		}
		if pc.CostTotal > 0 {
			fmt.Fprintf(&b, "Total cost across listed items: $%s.\n", compose.FormatNumber(pc.CostTotal))
		}
		return strings.TrimSpace(b.String())
	}

	if len(pc.Chunks) > 0 {
		seen := map[int]bool{}
		var pages []int
		for _, c := range pc.Chunks {
			if c.PageNumber != nil && !seen[*c.PageNumber] {
				seen[*c.PageNumber] = true
				pages = append(pages, *c.PageNumber)
			}
		}
		if len(pages) > 0 {
			sort.Ints(pages)
			nums := make([]string, len(pages))
			for i, p := range pages {
				nums[i] = fmt.Sprintf("%d", p)
			}
			return fmt.Sprintf("I found relevant content on page(s) %s of the plans, but could not produce a direct answer. Try asking about those pages specifically.", strings.Join(nums, ", "))
		}
		return "I found some relevant blueprint text but could not produce a direct answer. Try rephrasing the question."
	}

	if len(pc.Sheets) > 0 {
		names := make([]string, 0, len(pc.Sheets))
		for _, s := range pc.Sheets {
			names = append(names, fmt.Sprintf("page %d (%s)", s.PageNumber, s.Title))
		}
		return "These sheets look related to your question: " + strings.Join(names, ", ") + "."
	}

	return "I don't have any processed plan data for this project yet. Once the plans are uploaded and processed, ask again and I can dig into them."
}

// shouldParse combines the two modification triggers.
func (e *Engine) shouldParse(cls classify.Classification, answerText string) bool {
	if e.applier == nil {
		return false
	}
	if cls.WantsModification() {
		return true
	}
	for _, p := range ModificationVerbPatterns {
		if p.MatchString(answerText) {
			return true
		}
	}
	return false
}

// parseAndApply extracts modifications from the answer and applies them.
// Failures are logged, never surfaced: the answer has already been
// produced and the user sees it either way.
func (e *Engine) parseAndApply(req Request, answerText string) int {
	var existing []takeoff.Item
	if e.takeoffs != nil {
		rec, err := e.takeoffs.LatestTakeoffRecord(req.PlanID, req.UserID)
		switch {
		case err == nil:
			existing = takeoff.ParseItemsJSON(rec.ItemsJSON)
		case errors.Is(err, storage.ErrNotFound):
		default:
			e.logger.Warn("loading takeoff for modification parsing failed", "plan_id", req.PlanID, "error", err)
		}
	}

	result := modparse.Parse(answerText, existing)
	if len(result.Modifications) == 0 {
		return 0
	}
	if result.NeedsConfirmation {
		e.logger.Info("modification parse left unresolved references", "plan_id", req.PlanID)
	}

	applied, err := e.applier.Apply(req.PlanID, req.UserID, result.Modifications)
	if err != nil {
		e.logger.Warn("applying modifications failed", "plan_id", req.PlanID, "error", err)
		return 0
	}
	e.logger.Info("modifications applied", "plan_id", req.PlanID, "count", applied)
	return applied
}
