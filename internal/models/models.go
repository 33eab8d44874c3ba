// Package models defines the core data structures for PlanPipe.
//
// It includes the user record, the persisted conversation state, calendar events,
// learning objectives, knowledge notes and the intents produced by the language model,
// which are shared across modules.
package models

import (
	"time"
)

// MessageKind distinguishes inbound message payloads.
type MessageKind string

const (
	// MessageKindText is a plain text message.
	MessageKindText MessageKind = "text"
	// MessageKindImage is an image attachment, optionally with a caption.
	MessageKindImage MessageKind = "image"
)

// InboundMessage is a message received from a messaging transport.
type InboundMessage struct {
	ID        string      `json:"id"`   // transport message id, used for deduplication
	From      string      `json:"from"` // canonical external user id (phone digits)
	Kind      MessageKind `json:"kind"`
	Text      string      `json:"text,omitempty"`
	Image     []byte      `json:"-"`
	ImageMIME string      `json:"image_mime,omitempty"`
	Time      time.Time   `json:"time"`
}

// APIStatus is the status field of the admin API envelope.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the JSON envelope every admin API endpoint answers with.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success wraps result in an ok envelope.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage wraps result in an ok envelope with a human-readable note.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error builds an error envelope.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
