package hashfield

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ratio1/r1-hashfield/kvstore"
)

func TestGoResolvesFutureAndCallback(t *testing.T) {
	ctx := context.Background()
	l := New(kvstore.NewMemory())

	type outcome struct {
		n   float64
		err error
	}
	calls := make(chan outcome, 2)
	f := Go(ctx, func(ctx context.Context) (float64, error) {
		return l.HIncrBy(ctx, "k", "n", 3)
	}, func(n float64, err error) {
		calls <- outcome{n, err}
	})

	n, err := f.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.0, n)

	select {
	case got := <-calls:
		assert.Equal(t, outcome{n: 3}, got)
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
	assert.Empty(t, calls)
}

func TestGoDeliversErrorsOnBothChannels(t *testing.T) {
	ctx := context.Background()
	l := New(kvstore.NewMemory())

	var cbErr error
	done := make(chan struct{})
	f := Go(ctx, func(ctx context.Context) (Hash, error) {
		return l.HGetAll(ctx, "missing")
	}, func(_ Hash, err error) {
		cbErr = err
		close(done)
	})

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, ErrNoSuchKey)
	<-done
	assert.ErrorIs(t, cbErr, ErrNoSuchKey)
}

func TestFutureWaitGivesUpOnContext(t *testing.T) {
	release := make(chan struct{})
	f := Go(context.Background(), func(context.Context) (int, error) {
		<-release
		return 1, nil
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-f.Done()
	n, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
