package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/PlanPipe/internal/models"
)

// internalErrorBody is written when a response value cannot be encoded.
var internalErrorBody = mustMarshal(models.Error("Internal server error"))

func mustMarshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("api: marshal static response: " + err.Error())
	}
	return b
}

// writeJSONResponse encodes body before touching headers so an encoding failure
// still produces a well-formed 500 envelope.
func writeJSONResponse(w http.ResponseWriter, status int, body interface{}) {
	payload, err := json.Marshal(body)
	if err != nil {
		slog.Error("Server.writeJSONResponse: encode failed", "status", status, "error", err)
		payload, status = internalErrorBody, http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		slog.Debug("Server.writeJSONResponse: client write failed", "error", err)
	}
}
