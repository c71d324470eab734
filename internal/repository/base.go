package repository

import (
	"context"

	"gorm.io/gorm"
)

// conn picks the caller's transaction when one is open, so reads inside Submit see its own writes.
func conn(ctx context.Context, db *gorm.DB, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
