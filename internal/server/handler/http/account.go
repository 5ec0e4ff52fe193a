package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/mishura/stylist/internal/middleware"
	"github.com/mishura/stylist/internal/models"
	"github.com/mishura/stylist/internal/service"
)

// AccountService defines the account operations required by the AccountHandler.
type AccountService interface {
	// Init creates the user on first contact and returns the stored account otherwise.
	Init(ctx context.Context, userID, username string) (*service.InitResult, error)
	// Balance returns the current STcoin balance.
	Balance(ctx context.Context, userID string) (int, error)
	// History returns the latest consultations, newest first.
	History(ctx context.Context, userID string, limit int) ([]models.Consultation, error)
}

// AccountHandler handles user initialization, balance and history requests.
type AccountHandler struct {
	AccountService AccountService
	Log            *zap.Logger
}

type initRequest struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type initResponse struct {
	Status            string `json:"status"`
	UserID            string `json:"userId"`
	Balance           int    `json:"balance"`
	IsNewUser         bool   `json:"isNewUser"`
	ConsultationsUsed int    `json:"consultationsUsed"`
	ConsultationCost  int    `json:"consultationCost"`
}

// Init handles POST /user/init.
func (h *AccountHandler) Init(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid body")
		return
	}
	if !middleware.PeerMatches(r, req.UserID) {
		writeError(w, http.StatusForbidden, CodeForbidden, peerMismatch)
		return
	}

	name := req.Username
	if name == "" {
		name = req.FirstName
	}
	res, err := h.AccountService.Init(r.Context(), req.UserID, name)
	if err != nil {
		writeServiceError(w, r, h.Log, err)
		return
	}
	if res.IsNew {
		h.Log.Info("user registered", zap.String("user", req.UserID), zap.Int("balance", res.User.Balance))
	}
	writeJSON(w, http.StatusOK, initResponse{
		Status:            "success",
		UserID:            res.User.ID,
		Balance:           res.User.Balance,
		IsNewUser:         res.IsNew,
		ConsultationsUsed: res.User.ConsultationsUsed,
		ConsultationCost:  res.ConsultationCost,
	})
}

// Balance handles GET /user/{userId}/balance.
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	balance, err := h.AccountService.Balance(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"userId":  userID,
		"balance": balance,
	})
}

// History handles GET /user/{userId}/history?limit=N.
func (h *AccountHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "limit must be a number")
			return
		}
		limit = n
	}
	items, err := h.AccountService.History(r.Context(), userID, limit)
	if err != nil {
		writeServiceError(w, r, h.Log, err)
		return
	}
	if items == nil {
		items = []models.Consultation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "success",
		"consultations": items,
	})
}
