package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrder_Finalize(t *testing.T) {
	now := time.Now()
	o, err := NewOrder(1, PaymentExternal, []OrderItem{
		{ProductID: 1, Quantity: 2, UnitPrice: 1500},
		{ProductID: 2, Quantity: 1, UnitPrice: 1000},
	}, now)
	require.NoError(t, err)
	assert.EqualValues(t, 4000, o.TotalAmount)
	assert.EqualValues(t, 3, o.ItemCount())

	o.ApplyDiscount(OrderDiscount{CouponUserID: 9, Amount: 1000})
	require.NoError(t, o.Finalize())
	assert.EqualValues(t, 3000, o.FinalAmount)
	assert.Equal(t, StateCompleted, o.State)

	p := o.AttachPayment(now)
	assert.Equal(t, PaymentPending, p.Status)
	assert.EqualValues(t, 3000, p.Amount)
	assert.NotEmpty(t, p.TransactionKey)

	e := o.CompletedEvent()
	assert.EqualValues(t, 9, e.CouponUserID)
	assert.Len(t, e.Items, 2)
}

func TestOrder_FinalizeRejectsNonPositive(t *testing.T) {
	o, err := NewOrder(1, PaymentPoint, []OrderItem{{ProductID: 1, Quantity: 1, UnitPrice: 1000}}, time.Now())
	require.NoError(t, err)

	o.ApplyDiscount(OrderDiscount{Amount: 1000})
	assert.ErrorIs(t, o.Finalize(), ErrFinalAmountInvalid)
	assert.Equal(t, StatePending, o.State)
}

func TestValidateLines(t *testing.T) {
	ids, err := ValidateLines([]LineItem{{ProductID: 2, Quantity: 1}, {ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 3}})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, ids)

	_, err = ValidateLines(nil)
	assert.ErrorIs(t, err, ErrEmptyOrder)
	_, err = ValidateLines([]LineItem{{ProductID: 1, Quantity: 0}})
	assert.ErrorIs(t, err, ErrInvalidLineItem)
}

func TestNewOrder_RejectsOverflow(t *testing.T) {
	now := time.Now()
	_, err := NewOrder(1, PaymentExternal, []OrderItem{{ProductID: 1, Quantity: 1 << 62, UnitPrice: 4}}, now)
	assert.ErrorIs(t, err, ErrInvalidLineItem)

	_, err = NewOrder(1, PaymentExternal, []OrderItem{
		{ProductID: 1, Quantity: 1, UnitPrice: math.MaxInt64 - 10},
		{ProductID: 2, Quantity: 1, UnitPrice: 11},
	}, now)
	assert.ErrorIs(t, err, ErrInvalidLineItem)

	_, err = NewOrder(1, PaymentExternal, []OrderItem{
		{ProductID: 1, Quantity: math.MaxInt64, UnitPrice: 0},
		{ProductID: 2, Quantity: 1, UnitPrice: 0},
	}, now)
	assert.ErrorIs(t, err, ErrInvalidLineItem)

	o, err := NewOrder(1, PaymentExternal, []OrderItem{{ProductID: 1, Quantity: 1, UnitPrice: math.MaxInt64}}, now)
	require.NoError(t, err)
	assert.EqualValues(t, int64(math.MaxInt64), o.TotalAmount)
}

func TestParsePaymentMethod(t *testing.T) {
	m, err := ParsePaymentMethod("")
	require.NoError(t, err)
	assert.Equal(t, PaymentExternal, m)

	m, err = ParsePaymentMethod("POINT")
	require.NoError(t, err)
	assert.Equal(t, PaymentPoint, m)

	_, err = ParsePaymentMethod("CARD")
	assert.ErrorIs(t, err, ErrInvalidPaymentMethod)
}

func TestAttempt_Transitions(t *testing.T) {
	a := NewAttempt()
	require.NoError(t, a.Advance(PhaseLocked))
	require.NoError(t, a.Advance(PhaseTransacting))
	require.NoError(t, a.Advance(PhaseRolledBack))
	require.NoError(t, a.Advance(PhaseUnlocked))
	assert.Equal(t, []Phase{PhaseLocking, PhaseLocked, PhaseTransacting, PhaseRolledBack, PhaseUnlocked}, a.History())
	assert.Error(t, a.Advance(PhaseCommitted))

	timeout := NewAttempt()
	require.NoError(t, timeout.Advance(PhaseLockTimeout))
	assert.Error(t, timeout.Advance(PhaseTransacting), "a timed-out attempt never transacts")
}
