package record

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordRow is the single key-value table the SQL backend stores records in.
type RecordRow struct {
	Key   string `gorm:"column:record_key;primaryKey;type:varchar(191)"`
	Value string `gorm:"column:value;type:longtext"`
}

func (RecordRow) TableName() string { return "records" }

// GormStore backs the record store with a SQL database through GORM. Prefix
// scans use an indexed LIKE on the primary key; the continuation cursor is
// the last key of the previous page.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps a GORM connection and ensures the records table exists.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&RecordRow{}); err != nil {
		return nil, fmt.Errorf("migrate records table: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, key string) ([]byte, error) {
	var row RecordRow
	err := s.db.WithContext(ctx).First(&row, "record_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return []byte(row.Value), nil
}

func (s *GormStore) Set(ctx context.Context, key string, value []byte) error {
	row := RecordRow{Key: key, Value: string(value)}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "record_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).
		Create(&row).Error
}

func (s *GormStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&RecordRow{}, "record_key = ?", key).Error
}

func (s *GormStore) Scan(ctx context.Context, prefix, cursor string, limit int) ([]string, string, error) {
	if limit <= 0 {
		limit = 100
	}

	tx := s.db.WithContext(ctx).
		Model(&RecordRow{}).
		Where("record_key LIKE ?", escapeLike(prefix)+"%").
		Order("record_key ASC").
		Limit(limit)
	if cursor != "" {
		tx = tx.Where("record_key > ?", cursor)
	}

	var keys []string
	if err := tx.Pluck("record_key", &keys).Error; err != nil {
		return nil, "", err
	}
	if len(keys) < limit {
		return keys, "", nil
	}
	return keys, keys[len(keys)-1], nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
