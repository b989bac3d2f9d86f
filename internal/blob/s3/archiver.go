package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/estatemarket/internal/domain"
)

// EventArchiveStore is the slice of the event store the archiver reads.
type EventArchiveStore interface {
	// ListBefore returns events recorded strictly before the cutoff, oldest
	// first.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error)
}

const (
	eventsPrefix    = "archive/events/"
	snapshotsPrefix = "archive/snapshots/"
)

// ArchiveImpl implements domain.Archiver. It serializes old events to JSONL
// and snapshots to JSON, uploads them, and records each upload in the audit
// log.
//
// Pruning archived events from the primary store is a separate step run by
// the caller once the upload has succeeded.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	events EventArchiveStore
	audit  domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	events EventArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		events: events,
		audit:  audit,
	}
}

// ArchiveEvents uploads every event before the cutoff to
// archive/events/<first-seq>-<last-seq>.jsonl and returns how many were
// written.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := eventArchivePath(events[0].Seq, events[len(events)-1].Seq)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	count := int64(len(events))
	if err := a.audit.Log(ctx, "archive.events", map[string]any{
		"path":      path,
		"count":     count,
		"first_seq": events[0].Seq,
		"last_seq":  events[len(events)-1].Seq,
		"before":    before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive events audit log: %w", err)
	}

	return count, nil
}

// ArchiveSnapshot uploads snap as JSON and returns its object path. Paths
// sort by sequence so LatestSnapshot can pick the newest by name.
func (a *ArchiveImpl) ArchiveSnapshot(ctx context.Context, snap domain.Snapshot) (string, error) {
	buf, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot marshal: %w", err)
	}

	path := snapshotArchivePath(snap.Seq, snap.ID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot upload: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.snapshot", map[string]any{
		"path": path,
		"seq":  snap.Seq,
		"id":   snap.ID,
	}); err != nil {
		return path, fmt.Errorf("s3blob: archive snapshot audit log: %w", err)
	}
	return path, nil
}

// LatestSnapshot downloads the most recent archived snapshot, or returns
// domain.ErrNotFound if none has been archived.
func (a *ArchiveImpl) LatestSnapshot(ctx context.Context) (domain.Snapshot, error) {
	infos, err := a.reader.List(ctx, snapshotsPrefix)
	if err != nil {
		return domain.Snapshot{}, err
	}
	var paths []string
	for _, info := range infos {
		if strings.HasSuffix(info.Path, ".json") {
			paths = append(paths, info.Path)
		}
	}
	if len(paths) == 0 {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	sort.Strings(paths)

	rc, err := a.reader.Get(ctx, paths[len(paths)-1])
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("s3blob: read snapshot: %w", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("s3blob: decode snapshot: %w", err)
	}
	return snap, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// eventArchivePath zero-pads sequence numbers so object names sort in order.
//
//	archive/events/00000000000000000001-00000000000000000420.jsonl
func eventArchivePath(first, last uint64) string {
	return fmt.Sprintf("%s%020d-%020d.jsonl", eventsPrefix, first, last)
}

func snapshotArchivePath(seq uint64, id string) string {
	return fmt.Sprintf("%s%020d-%s.json", snapshotsPrefix, seq, id)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
