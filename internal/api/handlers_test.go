package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/buildra/planchat/internal/answer"
	"github.com/buildra/planchat/internal/storage"
)

const testToken = "test-token"

type fakeEngine struct {
	resp answer.Response
	err  error
	req  answer.Request
}

func (f *fakeEngine) Generate(_ context.Context, req answer.Request) (answer.Response, error) {
	f.req = req
	if f.err != nil {
		return answer.Response{}, f.err
	}
	return f.resp, nil
}

func newTestHandler(t *testing.T, engine AnswerEngine) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewAppHandler(AppDeps{Store: store, Engine: engine, Token: testToken}), store
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthUnauthenticated(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEngine{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 without auth", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEngine{})

	for _, header := range []string{"", "Bearer wrong-token", "Basic dXNlcg=="} {
		req := httptest.NewRequest(http.MethodGet, "/v1/plans/plan-1/sheets", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, rec.Code)
		}
	}
}

func TestChatHappyPath(t *testing.T) {
	engine := &fakeEngine{resp: answer.Response{Answer: "1,240 LF of copper pipe."}}
	h, _ := newTestHandler(t, engine)

	rec := doRequest(t, h, http.MethodPost, "/v1/plans/plan-1/chat",
		`{"user_id": "user-1", "question": "how much copper pipe?", "chat_id": "chat-9"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if engine.req.PlanID != "plan-1" || engine.req.UserID != "user-1" || engine.req.ChatID != "chat-9" {
		t.Errorf("engine request = %+v", engine.req)
	}

	var resp struct {
		Answer string `json:"answer"`
		ChatID string `json:"chatId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Answer != "1,240 LF of copper pipe." || resp.ChatID != "chat-9" {
		t.Errorf("response = %+v", resp)
	}
}

func TestChatGeneratesChatID(t *testing.T) {
	engine := &fakeEngine{resp: answer.Response{Answer: "ok"}}
	h, _ := newTestHandler(t, engine)

	rec := doRequest(t, h, http.MethodPost, "/v1/plans/plan-1/chat",
		`{"user_id": "user-1", "question": "q"}`)

	var resp struct {
		ChatID string `json:"chatId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ChatID == "" {
		t.Error("chatId should be generated when absent")
	}
	if engine.req.ChatID != resp.ChatID {
		t.Error("generated chatId should be passed to the engine")
	}
}

func TestChatValidation(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEngine{})

	cases := []struct {
		name string
		body string
	}{
		{"missing question", `{"user_id": "user-1"}`},
		{"missing user", `{"question": "q"}`},
		{"malformed body", `{`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/v1/plans/plan-1/chat", c.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			var errResp struct {
				Error struct {
					Message string `json:"message"`
					Type    string `json:"type"`
				} `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("decoding error body: %v", err)
			}
			if errResp.Error.Type != "invalid_request_error" {
				t.Errorf("error type = %q", errResp.Error.Type)
			}
		})
	}
}

func TestChatNoLLM(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEngine{err: answer.ErrNoLLM})

	rec := doRequest(t, h, http.MethodPost, "/v1/plans/plan-1/chat",
		`{"user_id": "user-1", "question": "q"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestGetTakeoff(t *testing.T) {
	h, store := newTestHandler(t, &fakeEngine{})

	if err := store.SaveTakeoffRecord(storage.TakeoffRecord{
		ID: "rec-1", PlanID: "plan-1", UserID: "user-1",
		ItemsJSON: `[{"name": "Copper Pipe", "quantity": 1240}]`,
	}); err != nil {
		t.Fatalf("seeding record: %v", err)
	}

	rec := doRequest(t, h, http.MethodGet, "/v1/plans/plan-1/takeoff?user_id=user-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Items []struct {
			Name string `json:"name"`
		} `json:"items"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Count != 1 || len(resp.Items) != 1 || resp.Items[0].Name != "Copper Pipe" {
		t.Errorf("response = %+v", resp)
	}
}

func TestGetTakeoffMissingRecordIsEmpty(t *testing.T) {
	h, _ := newTestHandler(t, &fakeEngine{})

	rec := doRequest(t, h, http.MethodGet, "/v1/plans/plan-1/takeoff?user_id=user-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with empty list", rec.Code)
	}
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Count != 0 {
		t.Errorf("count = %d, want 0", resp.Count)
	}

	rec = doRequest(t, h, http.MethodGet, "/v1/plans/plan-1/takeoff", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing user_id: status = %d, want 400", rec.Code)
	}
}

func TestListSheets(t *testing.T) {
	h, store := newTestHandler(t, &fakeEngine{})

	if err := store.UpsertSheet(storage.SheetEntry{
		ID: "sheet-1", PlanID: "plan-1", PageNumber: 4,
		SheetID: "P-101", Title: "Plumbing Plan", Discipline: "plumbing",
	}); err != nil {
		t.Fatalf("seeding sheet: %v", err)
	}

	rec := doRequest(t, h, http.MethodGet, "/v1/plans/plan-1/sheets", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var views []struct {
		PageNumber int    `json:"pageNumber"`
		SheetID    string `json:"sheetId"`
		Title      string `json:"title"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(views) != 1 || views[0].PageNumber != 4 || views[0].SheetID != "P-101" {
		t.Errorf("views = %+v", views)
	}
}

func TestListConversations(t *testing.T) {
	h, store := newTestHandler(t, &fakeEngine{})

	if err := store.SaveTurn(storage.ConversationTurn{
		ID: "turn-1", PlanID: "plan-1", UserID: "user-1",
		UserMessage: "q", AssistantMessage: "a",
	}); err != nil {
		t.Fatalf("seeding turn: %v", err)
	}

	rec := doRequest(t, h, http.MethodGet, "/v1/plans/plan-1/conversations?user_id=user-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var turns []storage.ConversationTurn
	if err := json.Unmarshal(rec.Body.Bytes(), &turns); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(turns) != 1 || turns[0].UserMessage != "q" {
		t.Errorf("turns = %+v", turns)
	}

	// No history is an empty array, not null.
	rec = doRequest(t, h, http.MethodGet, "/v1/plans/plan-1/conversations?user_id=nobody", "")
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("empty history body = %q, want []", body)
	}
}

func TestReindexEnqueuesJob(t *testing.T) {
	h, store := newTestHandler(t, &fakeEngine{})

	rec := doRequest(t, h, http.MethodPost, "/v1/plans/plan-1/reindex", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		JobID  string `json:"jobId"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.JobID == "" || resp.Status != "queued" {
		t.Errorf("response = %+v", resp)
	}

	job, err := store.ClaimNextIngestJob([]string{"reindex"})
	if err != nil || job == nil {
		t.Fatalf("claim: %v, %v", job, err)
	}
	if job.ID != resp.JobID || !strings.Contains(job.PayloadJSON, `"plan_id":"plan-1"`) {
		t.Errorf("job = %+v", job)
	}
}
