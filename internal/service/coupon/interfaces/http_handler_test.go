package interfaces

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"fulfillment/internal/pkg/lock"
	"fulfillment/internal/service/coupon/domain"
)

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusOf(domain.ErrCouponPoolExhausted))
	assert.Equal(t, http.StatusConflict, statusOf(domain.ErrCouponAlreadyUsed))
	assert.Equal(t, http.StatusForbidden, statusOf(domain.ErrCouponNotOwned))
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(domain.ErrCouponNotApplicable))
	// 未识别的错误交给 httpx 的通用规则
	assert.Zero(t, statusOf(domain.ErrCouponNotFound))
	assert.Zero(t, statusOf(&lock.AcquisitionError{Key: "k", Cause: errors.New("timeout")}))
}
