package interfaces

import (
	"errors"
	"net/http"
	"time"

	"fulfillment/internal/pkg/httpx"
	"fulfillment/internal/service/coupon/application"
	"fulfillment/internal/service/coupon/domain"
)

// CouponHandler 封装了优惠券服务的 HTTP 处理器
type CouponHandler struct {
	service *application.CouponService
}

// NewCouponHandler 创建一个新的 HTTP 处理器实例
func NewCouponHandler(service *application.CouponService) *CouponHandler {
	return &CouponHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *CouponHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /coupons/events", h.handleCreateEvent)
	mux.HandleFunc("GET /coupons/events/{id}", h.handleGetEvent)
	mux.HandleFunc("POST /coupons/events/{id}/issue", h.handleIssue)
	mux.HandleFunc("GET /coupons/{id}", h.handleGetCoupon)
	mux.HandleFunc("POST /coupons/{id}/use", h.handleUse)
}

type userRequest struct {
	UserID int64 `json:"userId"`
}

type eventResponse struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	DiscountType     string    `json:"discountType"`
	DiscountValue    int64     `json:"discountValue"`
	TotalIssueAmount int64     `json:"totalIssueAmount"`
	LeftIssueAmount  int64     `json:"leftIssueAmount"`
	ExpireAt         time.Time `json:"expireAt"`
	Condition        string    `json:"condition,omitempty"`
	Version          int64     `json:"version"`
}

type couponResponse struct {
	ID            int64      `json:"id"`
	CouponEventID int64      `json:"couponEventId"`
	UserID        int64      `json:"userId"`
	ExpireAt      time.Time  `json:"expireAt"`
	UsedAt        *time.Time `json:"usedAt"`
	Version       int64      `json:"version"`
}

func toEventResponse(e *domain.CouponEvent) eventResponse {
	return eventResponse{
		ID: e.ID, Name: e.Name, DiscountType: string(e.DiscountType), DiscountValue: e.DiscountValue,
		TotalIssueAmount: e.TotalIssueAmount, LeftIssueAmount: e.LeftIssueAmount, ExpireAt: e.ExpireAt,
		Condition: e.Condition, Version: e.Version,
	}
}

func toCouponResponse(c *domain.CouponUser) couponResponse {
	return couponResponse{ID: c.ID, CouponEventID: c.CouponEventID, UserID: c.UserID, ExpireAt: c.ExpireAt, UsedAt: c.UsedAt, Version: c.Version}
}

// statusOf 根据错误类型返回不同的 HTTP 状态码，未识别的交给通用规则
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrCouponPoolExhausted),
		errors.Is(err, domain.ErrCouponAlreadyIssued),
		errors.Is(err, domain.ErrCouponAlreadyUsed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCouponNotOwned):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrCouponExpired),
		errors.Is(err, domain.ErrCouponNotApplicable),
		errors.Is(err, domain.ErrInvalidCouponEvent):
		return http.StatusUnprocessableEntity
	default:
		return 0
	}
}

func (h *CouponHandler) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.Extract(r)
	var req application.CreateEventRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	e, err := h.service.CreateEvent(ctx, &req)
	if err != nil {
		httpx.WriteError(ctx, w, err, statusOf(err))
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toEventResponse(e))
}

func (h *CouponHandler) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.Extract(r)
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	e, err := h.service.GetEvent(ctx, id)
	if err != nil {
		httpx.WriteError(ctx, w, err, statusOf(err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toEventResponse(e))
}

func (h *CouponHandler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.Extract(r)
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	var req userRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	c, err := h.service.IssueCoupon(ctx, id, req.UserID)
	if err != nil {
		httpx.WriteError(ctx, w, err, statusOf(err))
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toCouponResponse(c))
}

func (h *CouponHandler) handleGetCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.Extract(r)
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	c, err := h.service.GetCoupon(ctx, id)
	if err != nil {
		httpx.WriteError(ctx, w, err, statusOf(err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toCouponResponse(c))
}

func (h *CouponHandler) handleUse(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.Extract(r)
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	var req userRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	c, err := h.service.UseCoupon(ctx, id, req.UserID)
	if err != nil {
		httpx.WriteError(ctx, w, err, statusOf(err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toCouponResponse(c))
}
