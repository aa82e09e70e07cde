package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-identity-service/internal/model"
)

func testPolicy(attempts uint) Policy {
	return Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestDoRetriesStorageUnavailable(t *testing.T) {
	t.Parallel()

	calls := 0
	retried := 0
	p := testPolicy(3)
	p.OnRetry = func(operation string, err error) {
		assert.Equal(t, "lookup", operation)
		retried++
	}

	got, err := Do(context.Background(), p, "lookup", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", fmt.Errorf("%w: connection refused", model.ErrStorageUnavailable)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retried)
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Exec(context.Background(), testPolicy(2), "delete", func(context.Context) error {
		calls++
		return fmt.Errorf("%w: timeout", model.ErrStorageUnavailable)
	})

	require.ErrorIs(t, err, model.ErrStorageUnavailable)
	assert.Equal(t, 2, calls)
}

func TestDoDoesNotRetryDomainErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := Do(context.Background(), testPolicy(5), "lookup", func(context.Context) (int, error) {
		calls++
		return 0, model.ErrUserNotFound
	})

	require.ErrorIs(t, err, model.ErrUserNotFound)
	assert.Equal(t, 1, calls)

	var conflict *model.ConflictError
	err = Exec(context.Background(), testPolicy(5), "create", func(context.Context) error {
		return &model.ConflictError{Field: "email"}
	})
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "email", conflict.Field)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	p := Policy{MaxAttempts: 10, InitialInterval: time.Second}
	err := Exec(ctx, p, "get", func(context.Context) error {
		calls++
		return model.ErrStorageUnavailable
	})

	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}
