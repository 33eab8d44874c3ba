package models

import (
	"encoding/json"
	"fmt"
)

// StateKind tags a persisted conversation state.
type StateKind string

const (
	StateWaitingConfirmation       StateKind = "waiting_confirmation"
	StateWaitingDeleteConfirmation StateKind = "waiting_delete_confirmation"
	StateWaitingPlanCorrection     StateKind = "waiting_plan_correction"
	StateWaitingKnowledgeAction    StateKind = "waiting_knowledge_action"

	// StateIdle is reported for a nil state and is never persisted.
	StateIdle StateKind = "idle"
)

// ConversationState is the pending dialogue step for a user. A nil value is Idle.
// States are always replaced wholesale, never patched.
type ConversationState interface {
	Kind() StateKind
}

// WaitingConfirmation holds a plan awaiting yes, no or an edit.
type WaitingConfirmation struct {
	Plan Plan
}

// WaitingDeleteConfirmation holds the events a delete request matched.
type WaitingDeleteConfirmation struct {
	Candidates []CalendarEvent
}

// WaitingPlanCorrection holds an image-derived plan with undated steps.
type WaitingPlanCorrection struct {
	PartialPlan Intent
}

// WaitingKnowledgeAction holds a freshly saved note awaiting a follow-up instruction.
type WaitingKnowledgeAction struct {
	NoteID int64
}

// UnknownState is a well-formed envelope whose tag is not recognised.
type UnknownState struct {
	Tag StateKind
}

func (WaitingConfirmation) Kind() StateKind       { return StateWaitingConfirmation }
func (WaitingDeleteConfirmation) Kind() StateKind { return StateWaitingDeleteConfirmation }
func (WaitingPlanCorrection) Kind() StateKind     { return StateWaitingPlanCorrection }
func (WaitingKnowledgeAction) Kind() StateKind    { return StateWaitingKnowledgeAction }
func (s UnknownState) Kind() StateKind            { return s.Tag }

// KindOf returns the kind of s, reporting StateIdle for nil.
func KindOf(s ConversationState) StateKind {
	if s == nil {
		return StateIdle
	}
	return s.Kind()
}

type stateEnvelope struct {
	Kind        StateKind       `json:"kind"`
	Plan        Plan            `json:"plan,omitempty"`
	Candidates  []CalendarEvent `json:"candidates,omitempty"`
	PartialPlan *Intent         `json:"partial_plan,omitempty"`
	NoteID      int64           `json:"note_id,omitempty"`
}

// EncodeState serializes s into its JSON envelope. Idle encodes to the empty string,
// which the store persists as NULL.
func EncodeState(s ConversationState) (string, error) {
	var env stateEnvelope
	switch v := s.(type) {
	case nil:
		return "", nil
	case WaitingConfirmation:
		env = stateEnvelope{Kind: v.Kind(), Plan: v.Plan}
	case WaitingDeleteConfirmation:
		env = stateEnvelope{Kind: v.Kind(), Candidates: v.Candidates}
	case WaitingPlanCorrection:
		partial := v.PartialPlan
		env = stateEnvelope{Kind: v.Kind(), PartialPlan: &partial}
	case WaitingKnowledgeAction:
		env = stateEnvelope{Kind: v.Kind(), NoteID: v.NoteID}
	default:
		return "", fmt.Errorf("cannot encode conversation state %q", KindOf(s))
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal conversation state: %w", err)
	}
	return string(data), nil
}

// DecodeState parses a persisted envelope. Empty or unparseable input yields Idle;
// an envelope with an unrecognised tag yields UnknownState.
func DecodeState(raw string) ConversationState {
	if raw == "" {
		return nil
	}
	var env stateEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || env.Kind == "" {
		return nil
	}
	switch env.Kind {
	case StateWaitingConfirmation:
		return WaitingConfirmation{Plan: env.Plan}
	case StateWaitingDeleteConfirmation:
		return WaitingDeleteConfirmation{Candidates: env.Candidates}
	case StateWaitingPlanCorrection:
		var partial Intent
		if env.PartialPlan != nil {
			partial = *env.PartialPlan
		}
		return WaitingPlanCorrection{PartialPlan: partial}
	case StateWaitingKnowledgeAction:
		return WaitingKnowledgeAction{NoteID: env.NoteID}
	default:
		return UnknownState{Tag: env.Kind}
	}
}
