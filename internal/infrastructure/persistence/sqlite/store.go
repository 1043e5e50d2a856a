// Package sqlite adapts the persistent key-value store onto a local SQLite
// database.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"companion/internal/errs"
	"companion/internal/infrastructure/persistence/sqlite/model"
	"companion/internal/ports"
)

type Store struct {
	db *gorm.DB
}

var _ ports.KeyValueStore = (*Store)(nil)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return s.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return "", false, err
	}

	trimmedKey := strings.TrimSpace(key)
	if trimmedKey == "" {
		return "", false, errors.New("key is required")
	}

	var row model.CompanionKV
	if err := db.Where("key = ?", trimmedKey).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, errs.Wrap(err, "query store by key")
	}

	return row.Value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value string) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}

	trimmedKey := strings.TrimSpace(key)
	if trimmedKey == "" {
		return errors.New("key is required")
	}

	row := model.CompanionKV{
		Key:       trimmedKey,
		Value:     value,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}

	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      row.Value,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error; err != nil {
		return errs.Wrap(err, "upsert store key")
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return err
	}

	trimmedKey := strings.TrimSpace(key)
	if trimmedKey == "" {
		return errors.New("key is required")
	}

	if err := db.Where("key = ?", trimmedKey).Delete(&model.CompanionKV{}).Error; err != nil {
		return errs.Wrap(err, "delete store key")
	}
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	db, err := s.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var keys []string
	if err := db.Model(&model.CompanionKV{}).Order("key").Pluck("key", &keys).Error; err != nil {
		return nil, errs.Wrap(err, "enumerate store keys")
	}
	return keys, nil
}
