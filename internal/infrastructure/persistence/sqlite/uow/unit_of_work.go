package uow

import (
	"context"

	"gorm.io/gorm"

	"companion/internal/ports"
)

// UnitOfWork implements ports.UnitOfWork with gorm. The logout sweep wraps
// its key deletions in one transaction through this.
type UnitOfWork struct {
	db *gorm.DB
}

func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

func (u *UnitOfWork) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ports.WithTxContext(ctx, tx))
	})
}
