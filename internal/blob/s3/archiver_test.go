package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// memBlobs is an in-memory BlobWriter and BlobReader.
type memBlobs struct {
	objects map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type staticEvents []domain.Event

func (s staticEvents) ListBefore(_ context.Context, before time.Time) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range s {
		if e.At.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

type memAudit struct {
	entries []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.entries = append(a.entries, event)
	return nil
}

func (a *memAudit) List(context.Context, string, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiveEvents(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0).UTC()
	events := staticEvents{
		{Seq: 7, Kind: domain.EventPropertyRegistered, EntityType: domain.EntityProperty, EntityID: 1, At: t0},
		{Seq: 8, Kind: domain.EventSharesPurchased, EntityType: domain.EntityProperty, EntityID: 1, At: t0.Add(time.Minute)},
		{Seq: 9, Kind: domain.EventSaleConcluded, EntityType: domain.EntityProperty, EntityID: 1, At: t0.Add(48 * time.Hour)},
	}
	blobs := newMemBlobs()
	audit := &memAudit{}
	a := NewArchiver(blobs, blobs, events, audit)

	n, err := a.ArchiveEvents(context.Background(), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	body, ok := blobs.objects["archive/events/00000000000000000007-00000000000000000008.jsonl"]
	require.True(t, ok)
	sc := bufio.NewScanner(bytes.NewReader(body))
	var seqs []uint64
	for sc.Scan() {
		var e domain.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		seqs = append(seqs, e.Seq)
	}
	assert.Equal(t, []uint64{7, 8}, seqs)
	assert.Equal(t, []string{"archive.events"}, audit.entries)

	n, err = a.ArchiveEvents(context.Background(), t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchiveSnapshotLatest(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, staticEvents{}, &memAudit{})

	_, err := a.LatestSnapshot(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	for _, seq := range []uint64{9, 120, 15} {
		_, err := a.ArchiveSnapshot(context.Background(), domain.Snapshot{ID: "snap", Seq: seq})
		require.NoError(t, err)
	}

	snap, err := a.LatestSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(120), snap.Seq)
}
