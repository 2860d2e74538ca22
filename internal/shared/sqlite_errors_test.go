package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsSQLiteConflictError(t *testing.T) {
	assert.False(t, IsSQLiteConflictError(nil))
	assert.False(t, IsSQLiteConflictError(errors.New("no such table")))
	assert.True(t, IsSQLiteConflictError(errors.New("exec: SQLITE_BUSY")))
	assert.True(t, IsSQLiteConflictError(errors.New("database is locked (5)")))
}

func TestRetryOnConflict(t *testing.T) {
	t.Run("recovers after busy", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), "test", 3, time.Millisecond, func() error {
			calls++
			if calls < 3 {
				return errors.New("SQLITE_BUSY")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), "test", 2, time.Millisecond, func() error {
			calls++
			return errors.New("database is locked")
		})
		assert.Error(t, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		err := RetryOnConflict(context.Background(), "test", 3, time.Millisecond, func() error {
			calls++
			return errors.New("constraint failed")
		})
		assert.EqualError(t, err, "constraint failed")
		assert.Equal(t, 1, calls)
	})
}
