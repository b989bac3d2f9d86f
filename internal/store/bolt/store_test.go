package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

func openTestStore(t *testing.T, keep int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "estate.db"), keep)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSnapshotsKeepNewest(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()

	_, err := s.Latest(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)

	for _, seq := range []uint64{3, 10, 7} {
		require.NoError(t, s.Save(ctx, domain.Snapshot{ID: "s", Seq: seq}))
	}

	snap, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), snap.Seq)

	n := 0
	require.NoError(t, s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	}))
	assert.Equal(t, 2, n)
}

func TestEventLogQueries(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0).UTC()

	var events []domain.Event
	for i := uint64(1); i <= 6; i++ {
		events = append(events, domain.Event{
			Seq:        i,
			Kind:       domain.EventBidPlaced,
			EntityType: domain.EntityAuction,
			EntityID:   i % 2,
			At:         t0.Add(time.Duration(i) * time.Minute),
		})
	}
	require.NoError(t, s.Append(ctx, events))

	last, err := s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), last)

	odd, err := s.ListByEntity(ctx, domain.EntityAuction, 1, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, odd, 3)
	assert.Equal(t, []uint64{1, 3, 5}, []uint64{odd[0].Seq, odd[1].Seq, odd[2].Seq})

	since := t0.Add(3 * time.Minute)
	page, err := s.List(ctx, domain.ListOpts{Since: &since, Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(4), page[0].Seq)
	assert.Equal(t, uint64(5), page[1].Seq)
}

func TestAppendKeepsFirstRecordPerSeq(t *testing.T) {
	s := openTestStore(t, 1)
	ctx := context.Background()
	first := domain.Event{Seq: 2, Kind: domain.EventDeposited, EntityType: domain.EntityMarket, Fields: map[string]string{"to": "c2"}}
	require.NoError(t, s.Append(ctx, []domain.Event{first}))

	again := first
	again.Fields = map[string]string{"to": "c3"}
	require.NoError(t, s.Append(ctx, []domain.Event{again, {Seq: 3, Kind: domain.EventDeposited, EntityType: domain.EntityMarket}}))

	got, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[0].Fields["to"])
	assert.Equal(t, uint64(3), got[1].Seq)
}
