package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/buildra/planchat/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func TestAskRequestShape(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/plans/plan-1/chat": `{"answer":"There are 1,240 LF of pipe.","mode":"strict","chatId":"chat-1","metadata":{"chunkCount":3,"itemCount":5,"modificationsApplied":0}}`,
	})

	client := ts.client()
	resp, err := client.post("/v1/plans/plan-1/chat", map[string]string{
		"user_id":  "user-1",
		"chat_id":  "chat-1",
		"question": "how many linear feet of pipe?",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Answer string `json:"answer"`
		Mode   string `json:"mode"`
		ChatID string `json:"chatId"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.Answer != "There are 1,240 LF of pipe." {
		t.Errorf("answer = %q", result.Answer)
	}
	if result.Mode != "strict" {
		t.Errorf("mode = %q, want strict", result.Mode)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" {
		t.Errorf("method = %q, want POST", r.Method)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["user_id"] != "user-1" {
		t.Errorf("body.user_id = %q", body["user_id"])
	}
	if body["question"] != "how many linear feet of pipe?" {
		t.Errorf("body.question = %q", body["question"])
	}
}

func TestAskCommand_MissingPlan(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask", "--user", "user-1", "how many doors?"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing --plan")
	}
	if !strings.Contains(err.Error(), "--plan") {
		t.Errorf("error = %q, want it to mention --plan", err.Error())
	}
}

func TestTakeoffList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/plans/plan-1/takeoff": `{"count":1,"items":[{"name":"Copper Pipe","category":"plumbing","quantity":1240,"unit":"LF","total_cost":3100}]}`,
	})

	client := ts.client()
	resp, err := client.get("/v1/plans/plan-1/takeoff?user_id=user+one")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Count int `json:"count"`
		Items []struct {
			Name     string   `json:"name"`
			Quantity *float64 `json:"quantity"`
		} `json:"items"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.Count != 1 {
		t.Fatalf("count = %d, want 1", result.Count)
	}
	if result.Items[0].Name != "Copper Pipe" {
		t.Errorf("name = %q", result.Items[0].Name)
	}
	if result.Items[0].Quantity == nil || *result.Items[0].Quantity != 1240 {
		t.Errorf("quantity = %v, want 1240", result.Items[0].Quantity)
	}

	reqPath := ts.requests[0].Path
	if !strings.Contains(reqPath, "user_id=user+one") {
		t.Errorf("query not URL-encoded: %q", reqPath)
	}
}

func TestSheetsList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/plans/plan-1/sheets": `[{"pageNumber":1,"sheetId":"A1.0","title":"Floor Plan","discipline":"architectural"}]`,
	})

	client := ts.client()
	resp, err := client.get("/v1/plans/plan-1/sheets")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sheets []struct {
		PageNumber int    `json:"pageNumber"`
		SheetID    string `json:"sheetId"`
	}
	if err := decodeJSON(resp, &sheets); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(sheets) != 1 {
		t.Fatalf("expected 1 sheet, got %d", len(sheets))
	}
	if sheets[0].SheetID != "A1.0" || sheets[0].PageNumber != 1 {
		t.Errorf("sheet = %+v", sheets[0])
	}
}

func TestReindexQueued(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/plans/plan-1/reindex": `{"jobId":"job-42","status":"queued"}`,
	})

	client := ts.client()
	resp, err := client.post("/v1/plans/plan-1/reindex", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["jobId"] != "job-42" {
		t.Errorf("jobId = %q, want job-42", result["jobId"])
	}

	r := ts.requests[0]
	if r.Body != "" {
		t.Errorf("reindex should send an empty body, got %q", r.Body)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get("/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"auth_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get("/v1/plans/plan-1/sheets")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4200
	cfg.LLM.AnswerModel = "anthropic/claude-sonnet-4"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4200" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4200 in ShowAll output")
	}
}
