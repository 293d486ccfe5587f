// internal/attempt/handler.go
package attempt

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"quizroom-server/internal/models"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) StartAttempt(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomCode := vars["roomCode"]
	userID, ok := r.Context().Value("user_id").(uint)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	attempt, err := h.service.StartAttempt(roomCode, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(attempt)
}

func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomCode := vars["roomCode"]
	userID, ok := r.Context().Value("user_id").(uint)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.SubmitAnswer(roomCode, userID, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(result)
}

func (h *Handler) SubmitAttempt(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomCode := vars["roomCode"]
	userID, ok := r.Context().Value("user_id").(uint)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	attempt, err := h.service.SubmitAttempt(roomCode, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(attempt)
}

func (h *Handler) GetUserAttempt(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomCode := vars["roomCode"]
	userID, ok := r.Context().Value("user_id").(uint)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	attempt, err := h.service.GetUserAttempt(roomCode, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(attempt)
}

func writeError(w http.ResponseWriter, err error) {
	status := models.ErrorStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("Internal error: %v", err)
		http.Error(w, "internal server error", status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
