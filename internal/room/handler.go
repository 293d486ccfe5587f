// internal/room/handler.go
package room

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"quizroom-server/internal/models"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(uint)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req models.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	room, err := h.service.CreateRoom(userID, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(room)
}

func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomCode := vars["roomCode"]
	userID, ok := r.Context().Value("user_id").(uint)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	result, err := h.service.JoinRoom(roomCode, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(result)
}

func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomCode := vars["roomCode"]

	room, err := h.service.GetRoomByCode(roomCode)
	if err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(room)
}

func (h *Handler) StartRoom(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomCode := vars["roomCode"]
	userID, ok := r.Context().Value("user_id").(uint)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	room, err := h.service.StartRoom(roomCode, userID)
	if err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(room)
}

func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomCode := vars["roomCode"]

	room, err := h.service.GetRoomByCode(roomCode)
	if err != nil {
		writeError(w, err)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))

	leaderboard, err := h.service.GetLeaderboard(room.ID, page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(leaderboard)
}

// writeError renders a domain error with its mapped status; anything
// unclassified becomes a 500 without leaking store internals.
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
