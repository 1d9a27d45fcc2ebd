package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/contentforge/core/internal/pkg/record"
)

// SafeWrite validates an entity and only then persists it, logging the size
// of what was replaced. check runs the entity-appropriate validator; a
// refusal leaves the stored record untouched.
func SafeWrite(ctx context.Context, store record.Store, key string, entity interface{}, check func() error, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if check != nil {
		if err := check(); err != nil {
			logger.Warn("write refused", zap.String("key", key), zap.Error(err))
			return err
		}
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", key, err)
	}

	prevSize := 0
	if prev, err := store.Get(ctx, key); err == nil {
		prevSize = len(prev)
	} else if !errors.Is(err, record.ErrNotFound) {
		return err
	}

	if err := store.Set(ctx, key, data); err != nil {
		return err
	}
	logger.Debug("record written",
		zap.String("key", key),
		zap.Int("bytes", len(data)),
		zap.Int("replacedBytes", prevSize))
	return nil
}
