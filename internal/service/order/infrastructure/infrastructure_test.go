package infrastructure

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "fulfillment/domain"
	"fulfillment/internal/pkg/database"
	"fulfillment/internal/service/order/domain"
)

func newRepo(t *testing.T) (*GormOrderRepository, *database.Transactor) {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "order.db"))
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return NewGormOrderRepository(db), database.NewTransactor(db)
}

func completedOrder(t *testing.T, method domain.PaymentMethod) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder(5, method, []domain.OrderItem{
		{ProductID: 1, Quantity: 2, UnitPrice: 300},
		{ProductID: 2, Quantity: 1, UnitPrice: 1000},
	}, time.Now())
	require.NoError(t, err)
	o.ApplyDiscount(domain.OrderDiscount{CouponUserID: 8, CouponEventID: 3, Amount: 200})
	require.NoError(t, o.Finalize())
	return o
}

func TestGormOrderRepository_CreateAndFind(t *testing.T) {
	repo, tx := newRepo(t)
	ctx := context.Background()
	o := completedOrder(t, domain.PaymentPoint)

	require.NoError(t, tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := repo.Create(ctx, o); err != nil {
			return err
		}
		return repo.CreatePayment(ctx, o.AttachPayment(time.Now()))
	}))
	require.NotZero(t, o.ID)
	assert.Equal(t, o.ID, o.Items[0].OrderID)

	got, err := repo.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNo, got.OrderNo)
	assert.Equal(t, domain.StateCompleted, got.State)
	assert.EqualValues(t, 1600, got.TotalAmount)
	assert.EqualValues(t, 1400, got.FinalAmount)
	assert.Len(t, got.Items, 2)
	require.Len(t, got.Discounts, 1)
	assert.EqualValues(t, 8, got.Discounts[0].CouponUserID)
	require.NotNil(t, got.Payment)
	assert.Equal(t, domain.PaymentPaid, got.Payment.Status)
	assert.Equal(t, o.ID, got.Payment.OrderID)
}

func TestGormOrderRepository_RollbackLeavesNothing(t *testing.T) {
	repo, tx := newRepo(t)
	ctx := context.Background()
	o := completedOrder(t, domain.PaymentExternal)

	err := tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := repo.Create(ctx, o); err != nil {
			return err
		}
		return domain.ErrFinalAmountInvalid
	})
	require.ErrorIs(t, err, domain.ErrFinalAmountInvalid)

	_, err = repo.FindByID(ctx, o.ID)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

type recordingWriter struct {
	msgs []kafka.Message
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestKafkaEventPublisher_KeysByUser(t *testing.T) {
	w := &recordingWriter{}
	o := completedOrder(t, domain.PaymentExternal)
	o.ID = 42

	require.NoError(t, NewKafkaEventPublisher(w).PublishOrderCompleted(context.Background(), o.CompletedEvent()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "5", string(w.msgs[0].Key))

	var event shared.OrderCompleted
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &event))
	assert.EqualValues(t, 42, event.OrderID)
	assert.EqualValues(t, 8, event.CouponUserID)
	assert.Len(t, event.Items, 2)
}
