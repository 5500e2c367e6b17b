package interfaces

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"fulfillment/internal/pkg/lock"
	coupondomain "fulfillment/internal/service/coupon/domain"
	"fulfillment/internal/service/order/application"
	"fulfillment/internal/service/order/domain"
	pointdomain "fulfillment/internal/service/point/domain"
	productdomain "fulfillment/internal/service/product/domain"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("deduct: %w", productdomain.ErrStockUnderflow), http.StatusConflict},
		{domain.ErrEmptyOrder, http.StatusBadRequest},
		{domain.ErrInvalidPaymentMethod, http.StatusBadRequest},
		{domain.ErrInvalidCoupon, http.StatusBadRequest},
		{domain.ErrFinalAmountInvalid, http.StatusUnprocessableEntity},
		{coupondomain.ErrCouponAlreadyUsed, http.StatusConflict},
		{coupondomain.ErrCouponNotOwned, http.StatusForbidden},
		{coupondomain.ErrCouponNotApplicable, http.StatusUnprocessableEntity},
		{pointdomain.ErrInsufficientPoint, http.StatusConflict},
		{&lock.AcquisitionError{Key: "lock:user:point:1", Timeout: time.Second}, 0},
		{domain.ErrOrderNotFound, 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusOf(c.err), c.err.Error())
	}
}

func TestOrderResponse(t *testing.T) {
	o, err := domain.NewOrder(3, domain.PaymentPoint, []domain.OrderItem{{ProductID: 1, Quantity: 2, UnitPrice: 500}}, time.Now())
	require.NoError(t, err)
	o.ApplyDiscount(domain.OrderDiscount{CouponUserID: 4, Amount: 100})
	require.NoError(t, o.Finalize())
	o.AttachPayment(time.Now())

	resp := toResponse(o)
	assert.EqualValues(t, 900, resp.FinalAmount)
	assert.Equal(t, []int64{4}, resp.CouponUserIDs)
	require.NotNil(t, resp.Payment)
	assert.Equal(t, "PAID", resp.Payment.Status)
	assert.EqualValues(t, 1000, resp.Items[0].Amount)
}

func TestCreateOrder_RejectsBadInputBeforeLocking(t *testing.T) {
	// 校验失败时不会触碰任何依赖
	svc := application.NewCheckoutService(nil, nil, nil, nil, nil, nil, nil, otel.Tracer("order-handler-test"), application.Config{})
	mux := http.NewServeMux()
	NewOrderHandler(svc).RegisterRoutes(mux)

	cases := []struct {
		body string
		want int
	}{
		{`{`, http.StatusBadRequest},
		{`{"userId":1,"items":[]}`, http.StatusBadRequest},
		{`{"userId":0,"items":[{"productId":1,"quantity":1}]}`, http.StatusBadRequest},
		{`{"userId":1,"items":[{"productId":1,"quantity":1}],"paymentMethod":"CARD"}`, http.StatusBadRequest},
		{`{"userId":1,"items":[{"productId":1,"quantity":1}],"couponUserId":-7}`, http.StatusBadRequest},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(c.body)))
		assert.Equal(t, c.want, rec.Code, c.body)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
