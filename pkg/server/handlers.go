package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"chat-escalation-engine/pkg/errs"
	"chat-escalation-engine/pkg/models"
)

func (s *Server) handleUserMessage(w http.ResponseWriter, r *http.Request) {
	var request struct {
		SessionID string `json:"session_id,omitempty"`
		Text      string `json:"text"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ev := s.engine.Classify(request.Text)
	reply, err := s.engine.HandleEvent(r.Context(), request.SessionID, ev)
	if err != nil {
		s.logger.WithError(err).WithField("session_id", request.SessionID).Error("Failed to handle message")
		s.writeError(w, err, reply)
		return
	}

	response := map[string]interface{}{
		"session_id": reply.SessionID,
		"text":       reply.Text,
		"state":      reply.State,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)

	s.logger.WithFields(logrus.Fields{
		"session_id": reply.SessionID,
		"state":      reply.State,
	}).Debug("Handled user message")
}

func (s *Server) handleOperatorAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID := vars["id"]

	if sessionID == "" {
		http.Error(w, "Missing session ID", http.StatusBadRequest)
		return
	}

	var request struct {
		OperatorID string `json:"operator_id"`
		Action     string `json:"action"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var action models.OperatorActionKind
	switch request.Action {
	case "offer_close":
		action = models.OperatorOfferClose
	case "message":
		action = models.OperatorMessage
	default:
		http.Error(w, "Unknown action", http.StatusBadRequest)
		return
	}

	reply, err := s.engine.HandleOperatorAction(r.Context(), sessionID, request.OperatorID, action)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"session_id":  sessionID,
			"operator_id": request.OperatorID,
		}).Error("Failed to handle operator action")
		s.writeError(w, err, reply)
		return
	}

	response := map[string]interface{}{
		"session_id": reply.SessionID,
		"text":       reply.Text,
		"state":      reply.State,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	operatorID := vars["id"]

	if operatorID == "" {
		http.Error(w, "Missing operator ID", http.StatusBadRequest)
		return
	}

	sessionID, assigned, err := s.engine.TryAssign(r.Context(), operatorID)
	if err != nil {
		s.logger.WithError(err).WithField("operator_id", operatorID).Error("Failed to assign session")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"assigned":    assigned,
		"operator_id": operatorID,
	}
	if assigned {
		response["session_id"] = sessionID
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)

	s.logger.WithFields(logrus.Fields{
		"operator_id": operatorID,
		"assigned":    assigned,
		"session_id":  sessionID,
	}).Debug("Processed claim request")
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	token := vars["token"]

	sessionID, err := s.engine.Resume(r.Context(), token)
	if err != nil {
		if errors.Is(err, errs.ErrTokenNotFound) {
			http.Error(w, "Unknown resume token", http.StatusNotFound)
			return
		}
		s.logger.WithError(err).Error("Failed to resolve resume token")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"session_id": sessionID,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":      "healthy",
		"instance_id": s.cfg.InstanceID,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Stats()

	status := map[string]interface{}{
		"instance_id":   s.cfg.InstanceID,
		"queue_depth":   stats.QueueDepth,
		"sessions":      stats.InMemorySessions,
		"active_timers": stats.ActiveTimers,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// writeError maps engine errors onto HTTP statuses. When the engine
// produced a user-facing reply despite the error (the storage retry
// prompt), it rides along in the body.
func (s *Server) writeError(w http.ResponseWriter, err error, reply *models.Reply) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, errs.ErrValidationFailed):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := map[string]interface{}{
		"error": err.Error(),
	}
	if reply != nil && reply.Text != "" {
		body["text"] = reply.Text
	}
	json.NewEncoder(w).Encode(body)
}
