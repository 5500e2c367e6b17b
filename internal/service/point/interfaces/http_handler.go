package interfaces

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"fulfillment/internal/pkg/httpx"
	"fulfillment/internal/service/point/application"
	"fulfillment/internal/service/point/domain"
)

// PointHandler 封装了积分服务的 HTTP 处理器
type PointHandler struct {
	service *application.PointService
}

func NewPointHandler(service *application.PointService) *PointHandler {
	return &PointHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *PointHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /points/{userId}", h.handleGet)
	mux.HandleFunc("GET /points/{userId}/history", h.handleHistory)
	mux.HandleFunc("POST /points/{userId}/charge", h.handleCharge)
	mux.HandleFunc("POST /points/{userId}/use", h.handleUse)
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type balanceResponse struct {
	UserID  int64 `json:"userId"`
	Amount  int64 `json:"amount"`
	Version int64 `json:"version"`
}

type historyResponse struct {
	Type         string    `json:"type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balanceAfter"`
	OrderID      int64     `json:"orderId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInsufficientPoint):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusUnprocessableEntity
	default:
		return 0
	}
}

func (h *PointHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.Extract(r)
	userID, err := httpx.PathInt64(r, "userId")
	if err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	p, err := h.service.GetPoint(ctx, userID)
	if err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, balanceResponse{UserID: p.UserID, Amount: p.Amount, Version: p.Version})
}

func (h *PointHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.Extract(r)
	userID, err := httpx.PathInt64(r, "userId")
	if err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.service.History(ctx, userID, limit)
	if err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	out := make([]historyResponse, 0, len(list))
	for _, item := range list {
		out = append(out, historyResponse{
			Type: string(item.Type), Amount: item.Amount, BalanceAfter: item.BalanceAfter,
			OrderID: item.OrderID, CreatedAt: item.CreatedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *PointHandler) handleCharge(w http.ResponseWriter, r *http.Request) {
	h.handleChange(w, r, h.service.ChargePoint)
}

func (h *PointHandler) handleUse(w http.ResponseWriter, r *http.Request) {
	h.handleChange(w, r, h.service.UsePoint)
}

func (h *PointHandler) handleChange(w http.ResponseWriter, r *http.Request,
	change func(ctx context.Context, userID, amount int64) (*domain.UserPoint, error)) {
	ctx := httpx.Extract(r)
	userID, err := httpx.PathInt64(r, "userId")
	if err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	var req amountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	p, err := change(ctx, userID, req.Amount)
	if err != nil {
		httpx.WriteError(ctx, w, err, statusOf(err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, balanceResponse{UserID: p.UserID, Amount: p.Amount, Version: p.Version})
}
