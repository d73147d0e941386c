package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"attestra/internal/audit"
	"attestra/internal/audit/store/memory"
	tokenmodels "attestra/internal/tokenization/models"
	"attestra/pkg/platform/sentinel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
	failFor int
}

func (r *recordingSink) Publish(_ context.Context, entries []audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor > 0 {
		r.failFor--
		return errors.New("broker down")
	}
	r.entries = append(r.entries, entries...)
	return nil
}

func (r *recordingSink) published() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

func newEntry(t *testing.T, kind audit.Kind, subject string) audit.Entry {
	t.Helper()
	e, err := audit.NewEntry(kind, subject, "tester", map[string]string{"k": "v"})
	require.NoError(t, err)
	return e
}

func TestPublisher_ForwardsCommittedEntries(t *testing.T) {
	store := memory.NewInMemoryStore()
	sink := &recordingSink{}
	pub := NewPublisher(store, sink, WithFlushInterval(10*time.Millisecond))

	ctx := context.Background()
	id, err := pub.Append(ctx, newEntry(t, audit.KindVerification, "asset-1"))
	require.NoError(t, err)

	record := tokenmodels.TokenRecord{TokenID: "tok-1", AssetID: "asset-1", DealID: "deal-1", MintedAt: time.Now()}
	_, err = pub.CreateToken(ctx, record, newEntry(t, audit.KindMint, "tok-1"))
	require.NoError(t, err)

	_, err = pub.RevokeToken(ctx, "tok-1", "fraud", "admin", time.Now(), newEntry(t, audit.KindRevoke, "tok-1"))
	require.NoError(t, err)

	require.NoError(t, pub.Close(ctx))

	got := sink.published()
	require.Len(t, got, 3)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, audit.KindMint, got[1].Kind)
	assert.Equal(t, audit.KindRevoke, got[2].Kind)

	stored, err := store.Latest(ctx, "asset-1", audit.KindVerification)
	require.NoError(t, err)
	assert.Equal(t, got[0].ID, stored.ID, "stream and store share the entry id")
}

func TestPublisher_RejectedWritesAreNotStreamed(t *testing.T) {
	store := memory.NewInMemoryStore()
	sink := &recordingSink{}
	pub := NewPublisher(store, sink)
	ctx := context.Background()

	_, err := pub.RevokeToken(ctx, "missing", "r", "admin", time.Now(), newEntry(t, audit.KindRevoke, "missing"))
	require.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, pub.Close(ctx))
	assert.Empty(t, sink.published())
}

func TestPublisher_RetriesFailedBatch(t *testing.T) {
	store := memory.NewInMemoryStore()
	sink := &recordingSink{failFor: 1}
	pub := NewPublisher(store, sink, WithFlushInterval(5*time.Millisecond))
	ctx := context.Background()

	_, err := pub.Append(ctx, newEntry(t, audit.KindVerification, "asset-1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(sink.published()) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, pub.Close(ctx))
}

func TestPublisher_NilLoggerKeepsDefault(t *testing.T) {
	store := memory.NewInMemoryStore()
	sink := &recordingSink{failFor: 1}
	pub := NewPublisher(store, sink, WithLogger(nil), WithBufferSize(1), WithFlushInterval(5*time.Millisecond))
	require.NotNil(t, pub.logger)
	ctx := context.Background()

	for _, subject := range []string{"asset-1", "asset-2", "asset-3"} {
		_, err := pub.Append(ctx, newEntry(t, audit.KindVerification, subject))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(sink.published()) > 0
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, pub.Close(ctx))
}

func TestRingBuffer_DropsOldestWhenFull(t *testing.T) {
	b := newRingBuffer(2)
	assert.False(t, b.enqueue(audit.Entry{ID: "1"}))
	assert.False(t, b.enqueue(audit.Entry{ID: "2"}))
	assert.True(t, b.enqueue(audit.Entry{ID: "3"}))

	batch := b.dequeueBatch(10)
	require.Len(t, batch, 2)
	assert.Equal(t, "2", batch[0].ID)
	assert.Equal(t, "3", batch[1].ID)
	assert.Equal(t, int64(1), b.droppedTotal())
	assert.Zero(t, b.len())
}
