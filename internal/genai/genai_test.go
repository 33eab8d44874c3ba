package genai

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/openai/openai-go"
	gemini "google.golang.org/genai"

	"github.com/BTreeMap/PlanPipe/internal/models"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func chatResponse(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

// scriptedCompleter returns a fixed answer and records requests.
type scriptedCompleter struct {
	out  string
	err  error
	reqs []completionRequest
}

func (s *scriptedCompleter) complete(ctx context.Context, req completionRequest) (string, error) {
	s.reqs = append(s.reqs, req)
	return s.out, s.err
}

func (s *scriptedCompleter) name() string { return "scripted" }

func newScriptedClient(out string) (*Client, *scriptedCompleter) {
	sc := &scriptedCompleter{out: out}
	fixed := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	return &Client{backend: sc, loc: time.UTC, now: func() time.Time { return fixed }}, sc
}

func TestOpenAIBackend_Success(t *testing.T) {
	mock := &mockChatService{resp: chatResponse("Hello World")}
	b := &openAIBackend{chat: mock, model: "test-model", temperature: 0.1, maxCompletionTokens: 100}
	out, err := b.complete(context.Background(), completionRequest{System: "sys", User: "usr"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if len(mock.params.Messages) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(mock.params.Messages))
	}
	if mock.params.ResponseFormat.OfJSONObject == nil {
		t.Error("expected JSON object response format")
	}
}

func TestOpenAIBackend_ImageAddsContentParts(t *testing.T) {
	mock := &mockChatService{resp: chatResponse("{}")}
	b := &openAIBackend{chat: mock, model: "test-model"}
	_, err := b.complete(context.Background(), completionRequest{System: "sys", User: "look", Image: []byte{0xff, 0xd8}, ImageMIME: "image/jpeg"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	user := mock.params.Messages[1].OfUser
	if user == nil {
		t.Fatal("expected a user message")
	}
	if got := len(user.Content.OfArrayOfContentParts); got != 2 {
		t.Errorf("expected text and image parts, got %d", got)
	}
}

func TestOpenAIBackend_ServiceError(t *testing.T) {
	b := &openAIBackend{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := b.complete(context.Background(), completionRequest{System: "sys", User: "usr"})
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestOpenAIBackend_NoChoices(t *testing.T) {
	b := &openAIBackend{chat: &mockChatService{resp: openai.ChatCompletion{}}}
	_, err := b.complete(context.Background(), completionRequest{System: "sys", User: "usr"})
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

// fakeModels implements contentGenerator.
type fakeModels struct {
	resp     *gemini.GenerateContentResponse
	err      error
	contents []*gemini.Content
	config   *gemini.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*gemini.Content, config *gemini.GenerateContentConfig) (*gemini.GenerateContentResponse, error) {
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

func TestGeminiBackend_Success(t *testing.T) {
	fm := &fakeModels{resp: &gemini.GenerateContentResponse{
		Candidates: []*gemini.Candidate{{Content: gemini.NewContentFromText(`{"action":"list_events"}`, gemini.RoleModel)}},
	}}
	b := &geminiBackend{models: fm, model: "test-model", temperature: 0.2}
	out, err := b.complete(context.Background(), completionRequest{System: "sys", User: "usr", Image: []byte{1, 2}, ImageMIME: "image/png"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != `{"action":"list_events"}` {
		t.Errorf("unexpected output %q", out)
	}
	if fm.config.ResponseMIMEType != "application/json" {
		t.Errorf("expected JSON response type, got %q", fm.config.ResponseMIMEType)
	}
	if got := len(fm.contents[0].Parts); got != 2 {
		t.Errorf("expected text and image parts, got %d", got)
	}
}

func TestGeminiBackend_NoCandidates(t *testing.T) {
	b := &geminiBackend{models: &fakeModels{resp: &gemini.GenerateContentResponse{}}}
	_, err := b.complete(context.Background(), completionRequest{User: "usr"})
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil {
		t.Error("expected client instance, got nil")
	}
}

func TestNewClient_UnknownBackend(t *testing.T) {
	if _, err := NewClient(WithBackend("llama"), WithAPIKey("k")); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestDecodeIntent(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    models.Intent
		wantErr error
	}{
		{
			name: "plain",
			raw:  `{"action":"list_events","params":{"range":"week"}}`,
			want: models.Intent{Action: models.ActionListEvents, Params: models.IntentParams{Range: "week"}},
		},
		{
			name: "fenced and upper case",
			raw:  "```json\n{\"action\":\"DELETE_EVENT\",\"params\":{\"query\":\"牙醫\"}}\n```",
			want: models.Intent{Action: models.ActionDeleteEvent, Params: models.IntentParams{Query: "牙醫"}},
		},
		{
			name: "trailing comma repaired",
			raw:  `{"action":"create_objective","params":{"title":"學 Go",},}`,
			want: models.Intent{Action: models.ActionCreateObjective, Params: models.IntentParams{Title: "學 Go"}},
		},
		{
			name: "error envelope",
			raw:  `{"error":"看不懂你的修改"}`,
			want: models.Clarify("看不懂你的修改"),
		},
		{
			name:    "unknown action",
			raw:     `{"action":"book_flight","params":{}}`,
			wantErr: models.ErrInvalidIntent,
		},
		{
			name:    "missing required param",
			raw:     `{"action":"create_event","params":{"summary":"開會"}}`,
			wantErr: ErrMalformedOutput,
		},
		{
			name:    "empty",
			raw:     "  ",
			wantErr: ErrMalformedOutput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeIntent(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("intent mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUnderstandAndPlan_SendsTodayInPrompt(t *testing.T) {
	client, sc := newScriptedClient(`{"action":"create_event","params":{"summary":"跟 David 開會","start_time":"2026-10-16T14:00:00"}}`)
	intent, err := client.UnderstandAndPlan(context.Background(), "明天下午兩點跟 David 開會")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.Action != models.ActionCreateEvent || intent.Params.Summary != "跟 David 開會" {
		t.Errorf("unexpected intent %+v", intent)
	}
	if !strings.Contains(sc.reqs[0].System, "2026-10-15 (Thursday)") {
		t.Errorf("expected system prompt to carry today's date, got %q", sc.reqs[0].System)
	}
	if sc.reqs[0].User != "明天下午兩點跟 David 開會" {
		t.Errorf("unexpected user prompt %q", sc.reqs[0].User)
	}
}

func TestUnderstandAndPlan_BackendError(t *testing.T) {
	client, sc := newScriptedClient("")
	sc.err = errors.New("timeout")
	if _, err := client.UnderstandAndPlan(context.Background(), "hi"); err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Errorf("expected backend error, got %v", err)
	}
}

func TestLatencyObserver(t *testing.T) {
	client, _ := newScriptedClient(`{"text":"重點整理"}`)
	var ops []string
	client.observe = func(op string, d time.Duration) { ops = append(ops, op) }

	if _, err := client.ProcessKnowledge(context.Background(), models.KnowledgeNote{}, "摘要"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ops) != 1 || ops[0] != "ProcessKnowledge" {
		t.Errorf("observed ops = %v", ops)
	}

	var cfg Opts
	WithLatencyObserver(func(string, time.Duration) {})(&cfg)
	if cfg.Observe == nil {
		t.Error("WithLatencyObserver did not set Observe")
	}
}

func TestModifyPlan_IncludesCurrentPlan(t *testing.T) {
	client, sc := newScriptedClient(`{"action":"plan_complex_task","params":{"steps":[{"summary":"A","date":"2026-10-20"}]}}`)
	plan := models.Plan{{Summary: "A", Date: "2026-10-19"}}
	intent, err := client.ModifyPlan(context.Background(), plan, "第1階段改到20號")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := intent.Params.Steps[0].Date; got != "2026-10-20" {
		t.Errorf("expected modified date, got %q", got)
	}
	if !strings.Contains(sc.reqs[0].User, `"date":"2026-10-19"`) {
		t.Errorf("expected current plan in prompt, got %q", sc.reqs[0].User)
	}
}

func TestParseDeletionChoice(t *testing.T) {
	tests := []struct {
		raw  string
		want models.DeletionChoice
	}{
		{`{"selection":"all"}`, models.DeletionChoice{All: true}},
		{`{"selection":"none"}`, models.DeletionChoice{None: true}},
		{`{"selection":[0,2]}`, models.DeletionChoice{Indices: []int{0, 2}}},
	}
	for _, tt := range tests {
		client, sc := newScriptedClient(tt.raw)
		got, err := client.ParseDeletionChoice(context.Background(), "1 和 3", 3)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.raw, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("%s: choice mismatch (-want +got):\n%s", tt.raw, diff)
		}
		if !strings.Contains(sc.reqs[0].System, "3 numbered candidate") {
			t.Errorf("expected candidate count in prompt, got %q", sc.reqs[0].System)
		}
	}

	client, _ := newScriptedClient(`{"selection":"some"}`)
	if _, err := client.ParseDeletionChoice(context.Background(), "?", 2); !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("expected malformed output error, got %v", err)
	}
}

func TestAnalyzeImageAndPlan_DefaultsMIME(t *testing.T) {
	client, sc := newScriptedClient(`{"action":"save_knowledge","params":{"source_type":"image","content":{"title":"TCP"}}}`)
	intent, err := client.AnalyzeImageAndPlan(context.Background(), []byte{1}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.Action != models.ActionSaveKnowledge {
		t.Errorf("expected save_knowledge, got %s", intent.Action)
	}
	if sc.reqs[0].ImageMIME != "image/jpeg" {
		t.Errorf("expected default MIME type, got %q", sc.reqs[0].ImageMIME)
	}
}

func TestProcessKnowledge(t *testing.T) {
	client, sc := newScriptedClient(`{"text":"1. 什麼是 TCP?"}`)
	note := models.KnowledgeNote{ID: 1, Content: json.RawMessage(`{"title":"TCP"}`)}
	out, err := client.ProcessKnowledge(context.Background(), note, "幫我出題")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "1. 什麼是 TCP?" {
		t.Errorf("unexpected text %q", out)
	}
	if !strings.Contains(sc.reqs[0].User, `{"title":"TCP"}`) || !strings.Contains(sc.reqs[0].User, "幫我出題") {
		t.Errorf("expected note and goal in prompt, got %q", sc.reqs[0].User)
	}

	empty, _ := newScriptedClient(`{"text":""}`)
	if _, err := empty.ProcessKnowledge(context.Background(), note, "x"); !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("expected malformed output error, got %v", err)
	}
}

func TestGeneratePlanForObjective(t *testing.T) {
	client, _ := newScriptedClient(`{"plan":[{"summary":"讀第一章"},{"summary":""},{"summary":"做練習","duration_hours":2}]}`)
	plan, err := client.GeneratePlanForObjective(context.Background(), "學 Go")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := models.Plan{{Summary: "讀第一章"}, {Summary: "做練習", DurationHours: 2}}
	if diff := cmp.Diff(want, plan); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}

	empty, _ := newScriptedClient(`{"steps":[]}`)
	if _, err := empty.GeneratePlanForObjective(context.Background(), "學 Go"); !errors.Is(err, ErrMalformedOutput) {
		t.Errorf("expected malformed output error, got %v", err)
	}
}

func TestDebugDump(t *testing.T) {
	tempDir := t.TempDir()
	client, _ := newScriptedClient(`{"action":"query_progress","params":{}}`)
	client.debugDir = tempDir

	if _, err := client.UnderstandAndPlan(context.Background(), "進度如何?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	files, err := os.ReadDir(filepath.Join(tempDir, "debug"))
	if err != nil {
		t.Fatalf("failed to read debug directory: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected one debug file, got %d", len(files))
	}
	content, err := os.ReadFile(filepath.Join(tempDir, "debug", files[0].Name()))
	if err != nil {
		t.Fatalf("failed to read debug file: %v", err)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(content, &entry); err != nil {
		t.Fatalf("failed to unmarshal debug entry: %v", err)
	}
	for _, field := range []string{"timestamp", "method", "backend", "system", "user", "response"} {
		if _, ok := entry[field]; !ok {
			t.Errorf("required field %q missing from debug entry", field)
		}
	}
	if entry["method"] != "UnderstandAndPlan" {
		t.Errorf("expected method UnderstandAndPlan, got %v", entry["method"])
	}
}

func TestDebugDumpDisabled(t *testing.T) {
	tempDir := t.TempDir()
	client, _ := newScriptedClient(`{"action":"query_progress","params":{}}`)
	if _, err := client.UnderstandAndPlan(context.Background(), "進度如何?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "debug")); !os.IsNotExist(err) {
		t.Error("debug directory should not exist when debugging is disabled")
	}
}
