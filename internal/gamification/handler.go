package gamification

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/finlit-network/backend/internal/models"
	"github.com/gorilla/mux"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the gamification endpoints on an authenticated router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/gamification", h.GetGamification).Methods("GET")
	r.HandleFunc("/gamification/rewards", h.ClaimReward).Methods("POST")
	r.HandleFunc("/gamification/streak", h.UpdateStreak).Methods("POST")
	r.HandleFunc("/gamification/streak/rewards/{day}", h.ClaimStreakReward).Methods("POST")
	r.HandleFunc("/gamification/challenges/{id}/claim", h.ClaimChallengeReward).Methods("POST")
	r.HandleFunc("/gamification/skin", h.SetSkin).Methods("PUT")
	r.HandleFunc("/gamification/username", h.SetUsername).Methods("PUT")
	r.HandleFunc("/gamification/badges/{id}/progress", h.BadgeProgress).Methods("GET")
	r.HandleFunc("/gamification/pending", h.ClearPending).Methods("DELETE")
	r.HandleFunc("/gamification/event-id", h.EventID).Methods("GET")
}

func getUserID(r *http.Request) (int64, bool) {
	uid, ok := r.Context().Value("user_id").(int64)
	return uid, ok
}

// ── Gamification State ──────────────────────────────────

func (h *Handler) GetGamification(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	writeJSON(w, http.StatusOK, h.service.GetGamification(userID))
}

// ── Claims ──────────────────────────────────────────────

func (h *Handler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	var req models.ClaimRewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := h.service.ClaimReward(userID, req)
	if err != nil {
		writeClaimError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ClaimStreakReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	day, err := strconv.Atoi(mux.Vars(r)["day"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid streak day"})
		return
	}

	resp, err := h.service.ClaimStreakReward(userID, day)
	if err != nil {
		writeClaimError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ClaimChallengeReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	resp, err := h.service.ClaimChallengeReward(userID, mux.Vars(r)["id"])
	if err != nil {
		writeClaimError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeClaimError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, ErrUnknownChallenge):
		status = http.StatusNotFound
	case errors.Is(err, ErrLedgerUnavailable):
		w.Header().Set("Retry-After", "5")
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, models.ErrorResponse{Error: err.Error()})
}

// ── Streak ──────────────────────────────────────────────

func (h *Handler) UpdateStreak(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	writeJSON(w, http.StatusOK, h.service.UpdateStreak(userID))
}

// ── Profile ─────────────────────────────────────────────

func (h *Handler) SetSkin(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	var req models.SetSkinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	err := h.service.SetSkin(userID, req.SkinID)
	switch {
	case errors.Is(err, ErrSkinLocked):
		writeJSON(w, http.StatusForbidden, models.ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"current_skin": req.SkinID})
}

func (h *Handler) SetUsername(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	var req models.SetUsernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if err := h.service.SetUsername(userID, req.Username); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"username": strings.TrimSpace(req.Username)})
}

func (h *Handler) BadgeProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	resp, err := h.service.BadgeProgress(userID, mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ClearPending(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	h.service.ClearPending(userID)
	w.WriteHeader(http.StatusNoContent)
}

// EventID builds a claim id for content the client is about to reward.
// Daily ids are stable for the UTC day; repeatable ids are unique per call.
func (h *Handler) EventID(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	contentType := strings.TrimSpace(query.Get("content_type"))
	if contentType == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "content_type is required"})
		return
	}

	if boolQueryParam(query, "repeatable") {
		writeJSON(w, http.StatusOK, models.EventIDResponse{EventID: RepeatableEventID(contentType)})
		return
	}

	contentID := strings.TrimSpace(query.Get("content_id"))
	if contentID == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "content_id is required"})
		return
	}
	writeJSON(w, http.StatusOK, models.EventIDResponse{EventID: DailyEventID(contentType, contentID, h.service.now())})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func boolQueryParam(query url.Values, key string) bool {
	v, err := strconv.ParseBool(query.Get(key))
	return err == nil && v
}
