package interfaces

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fulfillment/internal/pkg/httpx"
	coupondomain "fulfillment/internal/service/coupon/domain"
	"fulfillment/internal/service/order/application"
	"fulfillment/internal/service/order/domain"
	pointdomain "fulfillment/internal/service/point/domain"
	productdomain "fulfillment/internal/service/product/domain"
)

// OrderHandler 封装了下单服务的 HTTP 处理器
type OrderHandler struct {
	service *application.CheckoutService
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例
func NewOrderHandler(service *application.CheckoutService) *OrderHandler {
	return &OrderHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("POST /orders", h.handleCreate)
	mux.HandleFunc("GET /orders/{id}", h.handleGet)
}

type itemResponse struct {
	ProductID int64 `json:"productId"`
	Quantity  int64 `json:"quantity"`
	UnitPrice int64 `json:"unitPrice"`
	Amount    int64 `json:"amount"`
}

type paymentResponse struct {
	Method         string `json:"method"`
	Amount         int64  `json:"amount"`
	Status         string `json:"status"`
	TransactionKey string `json:"transactionKey"`
}

type orderResponse struct {
	ID             int64            `json:"id"`
	OrderNo        string           `json:"orderNo"`
	UserID         int64            `json:"userId"`
	State          string           `json:"state"`
	TotalAmount    int64            `json:"totalAmount"`
	DiscountAmount int64            `json:"discountAmount"`
	FinalAmount    int64            `json:"finalAmount"`
	CouponUserIDs  []int64          `json:"couponUserIds,omitempty"`
	Items          []itemResponse   `json:"items"`
	Payment        *paymentResponse `json:"payment,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

func toResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		ID:             o.ID,
		OrderNo:        o.OrderNo,
		UserID:         o.UserID,
		State:          string(o.State),
		TotalAmount:    o.TotalAmount,
		DiscountAmount: o.DiscountAmount,
		FinalAmount:    o.FinalAmount,
		Items:          make([]itemResponse, 0, len(o.Items)),
		CreatedAt:      o.CreatedAt,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, itemResponse{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice, Amount: it.Amount})
	}
	for _, d := range o.Discounts {
		resp.CouponUserIDs = append(resp.CouponUserIDs, d.CouponUserID)
	}
	if p := o.Payment; p != nil {
		resp.Payment = &paymentResponse{Method: string(p.Method), Amount: p.Amount, Status: string(p.Status), TransactionKey: p.TransactionKey}
	}
	return resp
}

// statusOf 与各聚合自己的 HTTP 接口保持一致：资源冲突 409，归属错误 403，其余业务规则 422。
// 锁超时等可重试错误交给通用规则
func statusOf(err error) int {
	switch {
	case errors.Is(err, productdomain.ErrStockUnderflow),
		errors.Is(err, coupondomain.ErrCouponAlreadyUsed),
		errors.Is(err, pointdomain.ErrInsufficientPoint):
		return http.StatusConflict
	case errors.Is(err, coupondomain.ErrCouponNotOwned):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidUser),
		errors.Is(err, domain.ErrEmptyOrder),
		errors.Is(err, domain.ErrInvalidLineItem),
		errors.Is(err, domain.ErrInvalidPaymentMethod),
		errors.Is(err, domain.ErrInvalidCoupon):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrFinalAmountInvalid),
		errors.Is(err, coupondomain.ErrCouponExpired),
		errors.Is(err, coupondomain.ErrCouponNotApplicable):
		return http.StatusUnprocessableEntity
	default:
		return 0
	}
}

func (h *OrderHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.Extract(r)
	var req application.CreateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	o, err := h.service.CreateOrder(ctx, &req)
	if err != nil {
		httpx.WriteError(ctx, w, err, statusOf(err))
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toResponse(o))
}

func (h *OrderHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.Extract(r)
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	o, err := h.service.GetOrder(ctx, id)
	if err != nil {
		httpx.WriteError(ctx, w, err, statusOf(err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(o))
}
