package interfaces

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"fulfillment/internal/pkg/httpx"
	"fulfillment/internal/service/product/application"
	"fulfillment/internal/service/product/domain"
)

// ProductHandler 封装了商品服务的 HTTP 处理器
type ProductHandler struct {
	service *application.ProductService
}

func NewProductHandler(service *application.ProductService) *ProductHandler {
	return &ProductHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *ProductHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /products", h.handleCreate)
	mux.HandleFunc("GET /products/ranking", h.handleRanking)
	mux.HandleFunc("GET /products/{id}", h.handleGet)
	mux.HandleFunc("PUT /products/{id}", h.handleUpdate)
	mux.HandleFunc("POST /products/{id}/stock/decrease", h.handleDecrease)
	mux.HandleFunc("POST /products/{id}/stock/increase", h.handleIncrease)
}

type createRequest struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
	Stock int64  `json:"stock"`
}

type updateRequest struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

type quantityRequest struct {
	Quantity int64 `json:"quantity"`
}

type productResponse struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Price   int64  `json:"price"`
	Stock   int64  `json:"stock"`
	Version int64  `json:"version"`
}

func toResponse(p *domain.Product) productResponse {
	return productResponse{ID: p.ID, Name: p.Name, Price: p.Price, Stock: p.Stock, Version: p.Version}
}

// statusOf 业务规则错误映射为 422，其余交给通用规则
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrStockUnderflow):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrInvalidProduct):
		return http.StatusUnprocessableEntity
	default:
		return 0
	}
}

func (h *ProductHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.Extract(r)
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	p, err := h.service.CreateProduct(ctx, req.Name, req.Price, req.Stock)
	if err != nil {
		httpx.WriteError(ctx, w, err, statusOf(err))
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toResponse(p))
}

func (h *ProductHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.Extract(r)
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	p, err := h.service.GetProduct(ctx, id)
	if err != nil {
		httpx.WriteError(ctx, w, err, statusOf(err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(p))
}

func (h *ProductHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.Extract(r)
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	p, err := h.service.UpdateProduct(ctx, id, req.Name, req.Price)
	if err != nil {
		httpx.WriteError(ctx, w, err, statusOf(err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(p))
}

func (h *ProductHandler) handleDecrease(w http.ResponseWriter, r *http.Request) {
	h.handleStock(w, r, h.service.DecreaseStock)
}

func (h *ProductHandler) handleIncrease(w http.ResponseWriter, r *http.Request) {
	h.handleStock(w, r, h.service.IncreaseStock)
}

func (h *ProductHandler) handleStock(w http.ResponseWriter, r *http.Request,
	change func(ctx context.Context, productID, quantity int64) (*domain.Product, error)) {
	ctx := httpx.Extract(r)
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	var req quantityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	p, err := change(ctx, id, req.Quantity)
	if err != nil {
		httpx.WriteError(ctx, w, err, statusOf(err))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(p))
}

func (h *ProductHandler) handleRanking(w http.ResponseWriter, r *http.Request) {
	ctx := httpx.Extract(r)
	n := 10
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 100 {
			httpx.WriteError(ctx, w, httpx.ErrBadRequest, http.StatusBadRequest)
			return
		}
		n = parsed
	}
	top, err := h.service.TopSelling(ctx, n)
	if err != nil {
		httpx.WriteError(ctx, w, err, 0)
		return
	}
	type entry struct {
		ProductID int64 `json:"productId"`
		Sold      int64 `json:"sold"`
	}
	out := make([]entry, 0, len(top))
	for _, e := range top {
		out = append(out, entry{ProductID: e.ProductID, Sold: e.Sold})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}
