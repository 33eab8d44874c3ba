package genai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/BTreeMap/PlanPipe/internal/models"
)

// stripCodeFence removes a surrounding ```json ... ``` block if present.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// decodeJSON decodes model output into v, repairing it first if needed.
func decodeJSON(raw string, v any) error {
	s := stripCodeFence(raw)
	if s == "" {
		return fmt.Errorf("%w: empty output", ErrMalformedOutput)
	}
	err := json.Unmarshal([]byte(s), v)
	if err == nil {
		return nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(s)
	if repairErr != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	slog.Debug("GenAI.decodeJSON: repaired model output", "original_len", len(s), "repaired_len", len(repaired))
	return nil
}

// intentEnvelope is the wire shape of an intent, with the optional error signal.
type intentEnvelope struct {
	Action models.Action       `json:"action"`
	Params models.IntentParams `json:"params"`
	Error  string              `json:"error"`
}

// decodeIntent decodes and validates an intent. An {"error": "..."} answer
// becomes a clarification carrying that message.
func decodeIntent(raw string) (models.Intent, error) {
	var env intentEnvelope
	if err := decodeJSON(raw, &env); err != nil {
		return models.Intent{}, err
	}
	env.Action = models.Action(strings.ToLower(strings.TrimSpace(string(env.Action))))
	if env.Action == "" && env.Error != "" {
		return models.Clarify(env.Error), nil
	}

	intent := models.Intent{Action: env.Action, Params: env.Params}
	if err := intent.Validate(); err != nil {
		return models.Intent{}, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}
	return intent, nil
}
