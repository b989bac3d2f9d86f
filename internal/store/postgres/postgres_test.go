package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

func TestQueryWindow(t *testing.T) {
	since := time.Unix(1_700_000_000, 0)
	q := newQuery(`SELECT seq FROM events WHERE entity_type = $1`, "listing")
	q.window(domain.ListOpts{Since: &since, Limit: 10, Offset: 20}, "at", "seq ASC")

	assert.Equal(t, `SELECT seq FROM events WHERE entity_type = $1 AND at >= $2 ORDER BY seq ASC LIMIT $3 OFFSET $4`, q.String())
	assert.Equal(t, []any{"listing", since, 10, 20}, q.args)
}

// newTestClient connects to ESTATE_TEST_POSTGRES_DSN and resets the tables.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("ESTATE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ESTATE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.RunMigrations(ctx))
	require.NoError(t, c.RunMigrations(ctx), "migrations are idempotent")
	_, err = c.Pool().Exec(ctx, `TRUNCATE events, snapshots, audit_log`)
	require.NoError(t, err)
	return c
}

func TestEventStoreRoundTrip(t *testing.T) {
	c := newTestClient(t)
	s := NewEventStore(c.Pool())
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0).UTC()
	alice := common.HexToAddress("0x00000000000000000000000000000000000a11ce")

	events := []domain.Event{
		{Seq: 1, ID: "0x01", Kind: domain.EventPropertyRegistered, EntityType: domain.EntityProperty, EntityID: 1, Actor: alice, At: t0},
		{Seq: 2, ID: "0x02", Kind: domain.EventListingCreated, EntityType: domain.EntityListing, EntityID: 1, Actor: alice,
			Fields: map[string]string{"shares": "10"}, At: t0.Add(time.Hour)},
	}
	require.NoError(t, s.Append(ctx, events))
	require.NoError(t, s.Append(ctx, events[:1]), "duplicate seq is ignored")

	last, err := s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)

	got, err := s.ListByEntity(ctx, domain.EntityListing, 1, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "10", got[0].Fields["shares"])
	assert.Equal(t, alice, got[0].Actor)

	old, err := s.ListBefore(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, old, 1)

	n, err := s.DeleteThrough(ctx, old[len(old)-1].Seq)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSnapshotStoreLatest(t *testing.T) {
	c := newTestClient(t)
	s := NewSnapshotStore(c.Pool(), 2)
	ctx := context.Background()

	_, err := s.Latest(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	t0 := time.Unix(1_700_000_000, 0).UTC()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, domain.Snapshot{ID: id, Seq: uint64(i + 1), TakenAt: t0}))
	}

	snap, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", snap.ID)

	var n int
	require.NoError(t, c.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n))
	assert.Equal(t, 2, n)
}
