// internal/handler/deposit_handler.go
package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"deposit-service/internal/domain"
	"deposit-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// DepositService is the notification processing surface used by the handler.
type DepositService interface {
	Process(ctx context.Context, n *domain.DepositNotification) (*domain.ProcessResult, error)
	GetDeposit(ctx context.Context, txID string) (*domain.DepositRecord, error)
}

type DepositHandler struct {
	depositUsecase DepositService
	logger         *zap.Logger
}

func NewDepositHandler(depositUsecase DepositService, logger *zap.Logger) *DepositHandler {
	return &DepositHandler{
		depositUsecase: depositUsecase,
		logger:         logger,
	}
}

// HandleNotification handles POST /api/v1/webhooks/deposits.
//
// Any failed entry answers 503 so the feed redelivers; processing is
// idempotent. Otherwise a confirmation without its pending record answers
// 404, and everything else 200.
func (h *DepositHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Failed to read payload")
		return
	}

	var n domain.DepositNotification
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &n); err != nil {
			h.logger.Warn("malformed deposit notification", zap.Error(err))
			response.Error(w, http.StatusBadRequest, "Invalid notification body")
			return
		}
	}

	if n.IsEmpty() {
		response.Message(w, http.StatusOK, "No transactions provided", nil)
		return
	}

	h.logger.Info("received deposit notification",
		zap.String("chain_id", n.ChainID),
		zap.Bool("confirmed", n.Confirmed),
		zap.Int("txs", len(n.Txs)),
		zap.Int("erc20_transfers", len(n.ERC20Transfers)))

	result, err := h.depositUsecase.Process(r.Context(), &n)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	switch {
	case result.Count(domain.OutcomeFailed) > 0:
		h.logger.Error("deposit notification left entries unprocessed",
			zap.String("chain_id", result.ChainID),
			zap.Int("failed", result.Count(domain.OutcomeFailed)),
			zap.Error(result.FirstError(domain.OutcomeFailed)))
		response.Error(w, http.StatusServiceUnavailable, "Failed to process webhook")
	case result.Count(domain.OutcomePendingMissing) > 0:
		response.ErrorData(w, http.StatusNotFound, "Pending transaction not found", result)
	case n.Confirmed:
		response.Message(w, http.StatusOK, "Transaction confirmed", result)
	default:
		response.Message(w, http.StatusOK, "Transaction logged as pending", result)
	}
}

type depositResponse struct {
	TxID          string     `json:"txId"`
	Kind          string     `json:"kind"`
	TxHash        string     `json:"txHash"`
	Contract      string     `json:"contract,omitempty"`
	ChainID       string     `json:"chainId"`
	FromAddress   string     `json:"fromAddress"`
	ToAddress     string     `json:"toAddress"`
	UserID        string     `json:"userId"`
	AssetSymbol   string     `json:"asset"`
	RawValue      string     `json:"rawValue"`
	AmountAsset   string     `json:"amount"`
	UnitPriceUSD  string     `json:"unitPriceUsd"`
	FXRate        string     `json:"fxRate"`
	AmountUSD     string     `json:"amountUsd"`
	AmountLocal   string     `json:"amountLocal"`
	LocalCurrency string     `json:"currency"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	ConfirmedAt   *time.Time `json:"confirmedAt,omitempty"`
}

// GetDeposit handles GET /api/v1/deposits/{txId}
func (h *DepositHandler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	rec, err := h.depositUsecase.GetDeposit(r.Context(), chi.URLParam(r, "txId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	// callers only see their own deposits
	if caller, ok := GetUserID(r.Context()); ok && caller != rec.UserID {
		response.Error(w, http.StatusNotFound, "not found")
		return
	}

	raw := ""
	if rec.RawValue != nil {
		raw = rec.RawValue.String()
	}
	response.JSON(w, http.StatusOK, depositResponse{
		TxID:          rec.TxID,
		Kind:          string(rec.Kind),
		TxHash:        rec.TxHash,
		Contract:      rec.Contract,
		ChainID:       rec.ChainID,
		FromAddress:   rec.FromAddress,
		ToAddress:     rec.ToAddress,
		UserID:        rec.UserID,
		AssetSymbol:   rec.AssetSymbol,
		RawValue:      raw,
		AmountAsset:   rec.AmountAsset.String(),
		UnitPriceUSD:  rec.UnitPriceUSD.String(),
		FXRate:        rec.FXRate.String(),
		AmountUSD:     rec.AmountUSD.String(),
		AmountLocal:   rec.AmountLocal.String(),
		LocalCurrency: rec.LocalCurrency,
		Status:        string(rec.Status),
		CreatedAt:     rec.CreatedAt,
		ConfirmedAt:   rec.ConfirmedAt,
	})
}
