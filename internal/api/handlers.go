package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/PlanPipe/internal/models"
)

// userSummary is a user as listed by the admin API.
type userSummary struct {
	models.User
	State models.StateKind `json:"state"`
}

// stateView is the admin view of a user's conversation state.
type stateView struct {
	UserID int64            `json:"user_id"`
	Kind   models.StateKind `json:"kind"`
	State  json.RawMessage  `json:"state,omitempty"` // persisted envelope, absent when Idle
}

type objectiveStatusRequest struct {
	Status models.ObjectiveStatus `json:"status"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.st.Ping(r.Context()); err != nil {
		slog.Error("Server.healthHandler: store ping failed", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Store unavailable"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"store": "ok"}))
}

func (s *Server) listUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := s.st.GetAllUsers(r.Context())
	if err != nil {
		slog.Error("Server.listUsersHandler: failed to list users", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list users"))
		return
	}
	out := make([]userSummary, 0, len(users))
	for _, u := range users {
		out = append(out, userSummary{User: u, State: models.KindOf(u.State)})
	}
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

func (s *Server) getStateHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := s.loadUser(w, r)
	if !ok {
		return
	}
	state, err := s.st.GetState(r.Context(), user.ID)
	if err != nil {
		slog.Error("Server.getStateHandler: failed to load state", "error", err, "userID", user.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load state"))
		return
	}
	view := stateView{UserID: user.ID, Kind: models.KindOf(state)}
	if raw, err := models.EncodeState(state); err == nil && raw != "" {
		view.State = json.RawMessage(raw)
	}
	writeJSONResponse(w, http.StatusOK, models.Success(view))
}

// resetStateHandler clears a stuck conversation back to Idle.
func (s *Server) resetStateHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := s.loadUser(w, r)
	if !ok {
		return
	}
	if err := s.st.SetState(r.Context(), user.ID, nil); err != nil {
		slog.Error("Server.resetStateHandler: failed to reset state", "error", err, "userID", user.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset state"))
		return
	}
	slog.Info("Server.resetStateHandler: state reset", "userID", user.ID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("State reset", stateView{UserID: user.ID, Kind: models.StateIdle}))
}

func (s *Server) listObjectivesHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := s.loadUser(w, r)
	if !ok {
		return
	}
	objectives, err := s.st.ListObjectives(r.Context(), user.ID)
	if err != nil {
		slog.Error("Server.listObjectivesHandler: failed to list objectives", "error", err, "userID", user.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list objectives"))
		return
	}
	if objectives == nil {
		objectives = []models.LearningObjective{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(objectives))
}

func (s *Server) setObjectiveStatusHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	user, ok := s.loadUser(w, r)
	if !ok {
		return
	}
	objectiveID, err := strconv.ParseInt(chi.URLParam(r, "objectiveID"), 10, 64)
	if err != nil || objectiveID <= 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid objective id"))
		return
	}
	var req objectiveStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if !models.IsValidObjectiveStatus(req.Status) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid objective status"))
		return
	}

	objective, err := s.st.GetObjective(r.Context(), objectiveID)
	if err != nil {
		slog.Error("Server.setObjectiveStatusHandler: failed to load objective", "error", err, "objectiveID", objectiveID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load objective"))
		return
	}
	if objective == nil || objective.UserID != user.ID {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Objective not found"))
		return
	}
	if err := s.st.SetObjectiveStatus(r.Context(), objectiveID, req.Status); err != nil {
		slog.Error("Server.setObjectiveStatusHandler: update failed", "error", err, "objectiveID", objectiveID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update objective"))
		return
	}
	objective.Status = req.Status
	slog.Info("Server.setObjectiveStatusHandler: status updated", "objectiveID", objectiveID, "status", req.Status)
	writeJSONResponse(w, http.StatusOK, models.Success(objective))
}

// loadUser resolves the {userID} path parameter, writing the error response
// itself when the id is malformed or unknown.
func (s *Server) loadUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid user id"))
		return nil, false
	}
	user, err := s.st.GetUser(r.Context(), userID)
	if err != nil {
		slog.Error("Server.loadUser: failed to load user", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load user"))
		return nil, false
	}
	if user == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("User not found"))
		return nil, false
	}
	return user, true
}
