// Package httpx 收敛各服务 HTTP 处理器共用的请求解析与错误响应
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"fulfillment/domain"
	"fulfillment/internal/pkg/logger"
)

// ErrBadRequest 表示请求参数不合法
var ErrBadRequest = errors.New("bad request")

// Extract 从请求头中恢复上游的追踪上下文
func Extract(r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

// DecodeJSON 解析请求体
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(ErrBadRequest, err)
	}
	return nil
}

// PathInt64 读取路径参数并转为 int64
func PathInt64(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, errors.Join(ErrBadRequest, err)
	}
	return v, nil
}

// WriteJSON 以 JSON 写出响应
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// WriteError 写出错误响应。status 为 0 时按通用规则推断：
// 可重试错误 409 并带 Retry-After，未找到 404，参数错误 400，其余 500。
func WriteError(ctx context.Context, w http.ResponseWriter, err error, status int) {
	retryable := domain.IsRetryable(err)
	if status == 0 {
		switch {
		case retryable:
			status = http.StatusConflict
		case errors.Is(err, domain.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, ErrBadRequest):
			status = http.StatusBadRequest
		default:
			status = http.StatusInternalServerError
		}
	}
	if retryable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		logger.Ctx(ctx).Error().Err(err).Int("status", status).Msg("Request failed")
	}
	WriteJSON(w, status, errorBody{Error: err.Error(), Retryable: retryable})
}
