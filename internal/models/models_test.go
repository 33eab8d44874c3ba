package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestStateRoundTrip(t *testing.T) {
	start := time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		state ConversationState
	}{
		{"confirmation", WaitingConfirmation{Plan: Plan{{Summary: "讀第一章", Date: "2026-10-16"}, {Summary: "做練習"}}}},
		{"delete", WaitingDeleteConfirmation{Candidates: []CalendarEvent{
			{ID: "e1", Summary: "開會", Start: EventTime{DateTime: &start}, Status: EventConfirmed},
			{ID: "e2", Summary: "旅行", Start: EventTime{Date: "2026-10-20"}, Status: EventConfirmed},
		}}},
		{"correction", WaitingPlanCorrection{PartialPlan: Intent{Action: ActionPlanComplexTask, Params: IntentParams{Steps: Plan{{Summary: "交報告"}}}}}},
		{"knowledge", WaitingKnowledgeAction{NoteID: 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := EncodeState(tt.state)
			if err != nil {
				t.Fatalf("EncodeState failed: %v", err)
			}
			got := DecodeState(raw)
			if diff := cmp.Diff(tt.state, got); diff != "" {
				t.Errorf("state round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeIdleIsEmpty(t *testing.T) {
	raw, err := EncodeState(nil)
	if err != nil || raw != "" {
		t.Errorf("expected empty encoding for idle, got %q, %v", raw, err)
	}
}

func TestDecodeStateFallbacks(t *testing.T) {
	if s := DecodeState(""); s != nil {
		t.Errorf("expected idle for empty input, got %v", s)
	}
	if s := DecodeState("{not json"); s != nil {
		t.Errorf("expected idle for malformed input, got %v", s)
	}
	s := DecodeState(`{"kind":"waiting_for_godot"}`)
	u, ok := s.(UnknownState)
	if !ok || u.Tag != "waiting_for_godot" {
		t.Errorf("expected UnknownState, got %#v", s)
	}
	if _, err := EncodeState(u); err == nil {
		t.Error("expected error encoding unknown state")
	}
}

func TestPlanIsComplete(t *testing.T) {
	if !(Plan{{Summary: "a", Date: "2026-10-16"}, {Summary: "b", StartTime: "2026-10-17T10:00:00"}}).IsComplete() {
		t.Error("expected dated plan to be complete")
	}
	if (Plan{{Summary: "a", Date: "2026-10-16"}, {Summary: "b"}}).IsComplete() {
		t.Error("expected plan with undated step to be incomplete")
	}
}

func TestIntentValidate(t *testing.T) {
	tests := []struct {
		name    string
		intent  Intent
		wantErr bool
	}{
		{"list default range", Intent{Action: ActionListEvents}, false},
		{"list bad range", Intent{Action: ActionListEvents, Params: IntentParams{Range: "decade"}}, true},
		{"create ok", Intent{Action: ActionCreateEvent, Params: IntentParams{Summary: "開會", StartTime: "2026-10-16T14:00:00"}}, false},
		{"create all day", Intent{Action: ActionCreateEvent, Params: IntentParams{Summary: "旅行", Date: "2026-10-16"}}, false},
		{"create no time", Intent{Action: ActionCreateEvent, Params: IntentParams{Summary: "開會"}}, true},
		{"create no summary", Intent{Action: ActionCreateEvent, Params: IntentParams{Date: "2026-10-16"}}, true},
		{"delete no query", Intent{Action: ActionDeleteEvent}, true},
		{"objective", Intent{Action: ActionCreateObjective, Params: IntentParams{Title: "Go"}}, false},
		{"plan objective no title", Intent{Action: ActionPlanForObjective}, true},
		{"complex no steps", Intent{Action: ActionPlanComplexTask}, true},
		{"clarify", Clarify("請再說一次"), false},
		{"link", Intent{Action: ActionLinkNoteToObjective, Params: IntentParams{ObjectiveTitle: "Go"}}, false},
		{"progress", Intent{Action: ActionQueryProgress}, false},
		{"knowledge null", Intent{Action: ActionSaveKnowledge, Params: IntentParams{Content: json.RawMessage("null")}}, true},
		{"knowledge", Intent{Action: ActionSaveKnowledge, Params: IntentParams{Content: json.RawMessage(`{"title":"x"}`)}}, false},
		{"unknown", Intent{Action: "dance"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.intent.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidIntent) {
				t.Errorf("expected ErrInvalidIntent, got %v", err)
			}
		})
	}
}

func TestDeletionChoiceDecodeAndResolve(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  []int
	}{
		{`{"selection":"all"}`, 3, []int{0, 1, 2}},
		{`{"selection":"none"}`, 3, nil},
		{`{"selection":[0,2]}`, 3, []int{0, 2}},
		{`{"selection":[2,2,7,-1,0]}`, 3, []int{2, 0}},
		{`{"selection":[]}`, 3, nil},
	}
	for _, tt := range tests {
		var c DeletionChoice
		if err := json.Unmarshal([]byte(tt.input), &c); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.input, err)
		}
		if diff := cmp.Diff(tt.want, c.Resolve(tt.n)); diff != "" {
			t.Errorf("Resolve(%s) mismatch (-want +got):\n%s", tt.input, diff)
		}
	}

	for _, bad := range []string{`{"selection":"some"}`, `{"selection":{"a":1}}`, `{}`, `[1]`} {
		var c DeletionChoice
		if err := json.Unmarshal([]byte(bad), &c); !errors.Is(err, ErrInvalidDeletionChoice) {
			t.Errorf("expected ErrInvalidDeletionChoice for %s, got %v", bad, err)
		}
	}
}

func TestRangeBounds(t *testing.T) {
	loc := time.FixedZone("TST", 8*3600)
	now := time.Date(2026, 10, 15, 22, 30, 0, 0, loc)
	from, to := RangeTomorrow.Bounds(now, loc)
	if !from.Equal(time.Date(2026, 10, 16, 0, 0, 0, 0, loc)) || !to.Equal(time.Date(2026, 10, 17, 0, 0, 0, 0, loc)) {
		t.Errorf("unexpected tomorrow bounds %v - %v", from, to)
	}
	from, to = RangeWeek.Bounds(now, loc)
	if to.Sub(from) != 7*24*time.Hour {
		t.Errorf("expected a seven day week, got %v", to.Sub(from))
	}
	if _, err := ParseRange("someday"); err == nil {
		t.Error("expected error for unknown range")
	}
}

func TestParseDateTime(t *testing.T) {
	loc := time.FixedZone("TST", 8*3600)
	for _, s := range []string{"2026-10-16T14:00:00", "2026-10-16T14:00", "2026-10-16 14:00", "2026-10-16T06:00:00Z"} {
		got, err := ParseDateTime(s, loc)
		if err != nil {
			t.Fatalf("ParseDateTime(%q): %v", s, err)
		}
		if want := time.Date(2026, 10, 16, 14, 0, 0, 0, loc); !got.Equal(want) {
			t.Errorf("ParseDateTime(%q) = %v, want %v", s, got, want)
		}
	}
	if _, err := ParseDateTime("next tuesday", loc); err == nil {
		t.Error("expected error for free text")
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	if r := Success(map[string]int{"n": 1}); r.Status != string(APIStatusOK) || r.Result == nil {
		t.Errorf("unexpected success response %+v", r)
	}
	if r := Error("boom"); r.Status != string(APIStatusError) || r.Message != "boom" {
		t.Errorf("unexpected error response %+v", r)
	}
}
