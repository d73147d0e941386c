package lease

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attestra/internal/tokenization/ports"
)

func TestInMemoryLease(t *testing.T) {
	ctx := context.Background()
	l := NewInMemoryLease()

	release, err := l.Acquire(ctx, "asset-1")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "asset-1")
	assert.ErrorIs(t, err, ports.ErrLeaseHeld)

	other, err := l.Acquire(ctx, "asset-2")
	require.NoError(t, err)
	other()

	release()
	release()

	again, err := l.Acquire(ctx, "asset-1")
	require.NoError(t, err)
	again()
}

func TestInMemoryLease_SingleWinnerUnderContention(t *testing.T) {
	l := NewInMemoryLease()
	const contenders = 32

	var wg sync.WaitGroup
	var winners atomic.Int32
	start := make(chan struct{})
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := l.Acquire(context.Background(), "hot"); err == nil {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}
