package testutil

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/PlanPipe/internal/models"
)

func TestNewTestStoreAndSeedUser(t *testing.T) {
	st := NewTestStore(t)
	state := models.WaitingKnowledgeAction{NoteID: 3}
	user := SeedUser(t, st, "886912345678", state)

	got, err := st.GetState(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got.Kind() != state.Kind() {
		t.Errorf("state kind = %v, want %v", got.Kind(), state.Kind())
	}

	again := SeedUser(t, st, "886912345678", nil)
	if again.ID != user.ID {
		t.Errorf("SeedUser should find the existing user: %d != %d", again.ID, user.ID)
	}
}

func TestAssertHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		expected   int
		actual     int
		shouldFail bool
	}{
		{"matching status codes", 200, 200, false},
		{"different status codes", 200, 404, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			AssertHTTPStatus(mockT, tt.expected, tt.actual, "test context")

			if tt.shouldFail != mockT.failed {
				t.Errorf("failed = %v, want %v (%s)", mockT.failed, tt.shouldFail, mockT.errorMsg)
			}
		})
	}
}

func TestAssertJSONResponse(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		expected   string
		shouldFail bool
	}{
		{"matching status", `{"status":"ok","result":[]}`, "ok", false},
		{"wrong status", `{"status":"error","message":"boom"}`, "ok", true},
		{"missing status", `{"result":1}`, "ok", true},
		{"invalid json", `{`, "ok", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			rr.WriteString(tt.body)
			mockT := &mockTestingT{}
			AssertJSONResponse(mockT, rr, tt.expected)
			if tt.shouldFail != mockT.failed {
				t.Errorf("failed = %v, want %v (%s)", mockT.failed, tt.shouldFail, mockT.errorMsg)
			}
		})
	}
}

func TestCreateJSONRequest(t *testing.T) {
	req := CreateJSONRequest(t, http.MethodPost, "/users", map[string]string{"external_id": "886912345678"})
	if req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", req.Header.Get("Content-Type"))
	}
	if req.ContentLength == 0 {
		t.Error("expected a request body")
	}

	req = CreateJSONRequest(t, http.MethodGet, "/healthz", nil)
	if req.Header.Get("Content-Type") != "" {
		t.Errorf("GET without body should not set Content-Type")
	}
}

func TestDecodeResult(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.WriteString(`{"status":"ok","result":{"id":7}}`)
	var got struct {
		ID int `json:"id"`
	}
	DecodeResult(t, rr, &got)
	if got.ID != 7 {
		t.Errorf("ID = %d, want 7", got.ID)
	}
}

// mockTestingT records failures instead of failing the enclosing test.
type mockTestingT struct {
	failed   bool
	errorMsg string
}

func (m *mockTestingT) Helper() {}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}

func (m *mockTestingT) Error(args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprint(args...)
}

func (m *mockTestingT) Fatalf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}
