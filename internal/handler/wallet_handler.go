// internal/handler/wallet_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"deposit-service/internal/domain"
	"deposit-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// WalletService is the address assignment surface used by the handler.
type WalletService interface {
	AssignAddress(ctx context.Context, userID, assetClass string) (*domain.WalletBinding, error)
	GetBinding(ctx context.Context, userID, assetClass string) (*domain.WalletBinding, error)
}

type WalletHandler struct {
	walletUsecase WalletService
	requireAuth   bool
	logger        *zap.Logger
}

func NewWalletHandler(walletUsecase WalletService, requireAuth bool, logger *zap.Logger) *WalletHandler {
	return &WalletHandler{
		walletUsecase: walletUsecase,
		requireAuth:   requireAuth,
		logger:        logger,
	}
}

type generateRequest struct {
	UserID     string `json:"userId"`
	AssetClass string `json:"assetClass,omitempty"`
}

type bindingResponse struct {
	UserID      string    `json:"userId"`
	AssetClass  string    `json:"assetClass"`
	Address     string    `json:"address"`
	WalletIndex uint32    `json:"walletIndex"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toBindingResponse(b *domain.WalletBinding) bindingResponse {
	return bindingResponse{
		UserID:      b.UserID,
		AssetClass:  b.AssetClass,
		Address:     b.Address,
		WalletIndex: b.WalletIndex,
		CreatedAt:   b.CreatedAt,
	}
}

// Generate handles POST /api/v1/wallets/generate
func (h *WalletHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		response.Error(w, http.StatusBadRequest, "User ID is required")
		return
	}
	if !h.authorized(w, r, req.UserID) {
		return
	}

	binding, err := h.walletUsecase.AssignAddress(r.Context(), req.UserID, req.AssetClass)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	response.Message(w, http.StatusCreated, "Wallet generated successfully", toBindingResponse(binding))
}

// Get handles GET /api/v1/wallets/{userId}
func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if !h.authorized(w, r, userID) {
		return
	}

	binding, err := h.walletUsecase.GetBinding(r.Context(), userID, r.URL.Query().Get("assetClass"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, toBindingResponse(binding))
}

// authorized checks that the token belongs to the user being acted on.
func (h *WalletHandler) authorized(w http.ResponseWriter, r *http.Request, userID string) bool {
	if !h.requireAuth {
		return true
	}
	caller, ok := GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "Unauthorized: Missing or invalid token")
		return false
	}
	if caller != userID {
		h.logger.Warn("token does not match requested user",
			zap.String("caller", caller),
			zap.String("user_id", userID))
		response.Error(w, http.StatusForbidden, "Forbidden: User ID mismatch")
		return false
	}
	return true
}
