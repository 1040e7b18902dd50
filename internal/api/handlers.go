package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/buildra/planchat/internal/answer"
	"github.com/buildra/planchat/internal/ingest"
	"github.com/buildra/planchat/internal/storage"
	"github.com/buildra/planchat/internal/takeoff"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AnswerEngine abstracts the chat pipeline for the API layer.
type AnswerEngine interface {
	Generate(ctx context.Context, req answer.Request) (answer.Response, error)
}

type AppDeps struct {
	Store  *storage.Store
	Engine AnswerEngine
	Token  string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/plans/{planID}/chat", handleChat(deps))
		r.Get("/v1/plans/{planID}/takeoff", handleGetTakeoff(deps))
		r.Get("/v1/plans/{planID}/sheets", handleListSheets(deps))
		r.Get("/v1/plans/{planID}/conversations", handleListConversations(deps))
		r.Post("/v1/plans/{planID}/reindex", handleReindex(deps))
	})

	return r
}

type ChatRequest struct {
	UserID   string `json:"user_id"`
	ChatID   string `json:"chat_id"`
	JobID    string `json:"job_id"`
	Question string `json:"question"`
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		if req.ChatID == "" {
			req.ChatID = uuid.New().String()
		}

		resp, err := deps.Engine.Generate(r.Context(), answer.Request{
			PlanID:   chi.URLParam(r, "planID"),
			UserID:   req.UserID,
			JobID:    req.JobID,
			ChatID:   req.ChatID,
			Question: req.Question,
		})
		if errors.Is(err, answer.ErrNoLLM) {
			httpError(w, http.StatusServiceUnavailable, "api_error", "no model configured")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "answering failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			answer.Response
			ChatID string `json:"chatId"`
		}{Response: resp, ChatID: req.ChatID})
	}
}

func handleGetTakeoff(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		planID := chi.URLParam(r, "planID")
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		items := []takeoff.Item{}
		rec, err := deps.Store.LatestTakeoffRecord(planID, userID)
		switch {
		case err == nil:
			items = takeoff.ParseItemsJSON(rec.ItemsJSON)
		case errors.Is(err, storage.ErrNotFound):
		default:
			httpError(w, http.StatusInternalServerError, "api_error", "loading takeoff failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"items": items,
			"count": len(items),
		})
	}
}

func handleListSheets(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sheets, err := deps.Store.SheetsByPlan(chi.URLParam(r, "planID"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing sheets failed: %v", err)
			return
		}

		type sheetView struct {
			PageNumber int    `json:"pageNumber"`
			SheetID    string `json:"sheetId,omitempty"`
			Title      string `json:"title,omitempty"`
			Discipline string `json:"discipline,omitempty"`
			SheetType  string `json:"sheetType,omitempty"`
		}
		views := make([]sheetView, len(sheets))
		for i, s := range sheets {
			views[i] = sheetView{
				PageNumber: s.PageNumber,
				SheetID:    s.SheetID,
				Title:      s.Title,
				Discipline: s.Discipline,
				SheetType:  s.SheetType,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

func handleListConversations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		planID := chi.URLParam(r, "planID")
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		turns, err := deps.Store.RecentTurns(planID, userID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing conversations failed: %v", err)
			return
		}
		if turns == nil {
			turns = []storage.ConversationTurn{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(turns)
	}
}

func handleReindex(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		planID := chi.URLParam(r, "planID")

		payload, err := json.Marshal(map[string]string{"plan_id": planID})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
			return
		}
		job := storage.IngestJob{
			ID:          uuid.New().String(),
			Type:        ingest.JobTypeReindex,
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueIngestJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"jobId":  job.ID,
			"status": "queued",
		})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
