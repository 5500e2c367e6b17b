package domain

import "context"

// EventRepository 是发券活动的持久化接口，Update 按版本号条件更新
type EventRepository interface {
	Create(ctx context.Context, e *CouponEvent) error
	FindByID(ctx context.Context, id int64) (*CouponEvent, error)
	FindByIDForUpdate(ctx context.Context, id int64) (*CouponEvent, error)
	Update(ctx context.Context, e *CouponEvent) error
}

// CouponUserRepository 是用户优惠券的持久化接口，Update 按版本号条件更新
type CouponUserRepository interface {
	Create(ctx context.Context, c *CouponUser) error
	FindByID(ctx context.Context, id int64) (*CouponUser, error)
	FindByIDForUpdate(ctx context.Context, id int64) (*CouponUser, error)
	ExistsByEventAndUser(ctx context.Context, eventID, userID int64) (bool, error)
	CountByEvent(ctx context.Context, eventID int64) (int64, error)
	Update(ctx context.Context, c *CouponUser) error
}
