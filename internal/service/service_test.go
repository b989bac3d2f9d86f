package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/estatemarket/internal/domain"
	"github.com/alanyoungcy/estatemarket/internal/market"
)

var (
	t0 = time.Unix(1_700_000_000, 0).UTC()

	owner  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	issuer = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	usdt   = common.HexToAddress("0x00000000000000000000000000000000000000e1")

	stable = domain.Stable(usdt)
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newEngine(t *testing.T, opts ...market.Option) *market.Engine {
	t.Helper()
	opts = append([]market.Option{market.WithClock(fixedClock{now: t0})}, opts...)
	e, err := market.New(market.Config{
		Owner:               owner,
		StableToken:         usdt,
		PlatformFeeBips:     250,
		DefaultReferralBips: 1000,
		MinBidIncrementBips: 500,
		MinListingPriceBips: 9000,
	}, nil, opts...)
	require.NoError(t, err)
	return e
}

// seed registers a property and buys part of it, committing three operations.
func seed(t *testing.T, e *market.Engine) uint64 {
	t.Helper()
	id, err := e.RegisterProperty(owner, market.PropertyParams{
		Owner:         issuer,
		PricePerShare: big.NewInt(5),
		TotalShares:   100,
		URI:           "ipfs://villa",
		SaleStart:     t0,
		SaleEnd:       t0.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, e.Deposit(owner, alice, stable, big.NewInt(50)))
	require.NoError(t, e.BuyShares(context.Background(), alice, id, 10, stable, common.Address{}))
	return id
}

type memEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *memEvents) Append(_ context.Context, events []domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *memEvents) ListByEntity(_ context.Context, entityType string, id uint64, opts domain.ListOpts) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, ev := range m.events {
		if ev.EntityType == entityType && ev.EntityID == id {
			out = append(out, ev)
		}
	}
	return page(out, opts), nil
}

func (m *memEvents) List(_ context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return page(append([]domain.Event(nil), m.events...), opts), nil
}

func (m *memEvents) LastSeq(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return 0, nil
	}
	return m.events[len(m.events)-1].Seq, nil
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type countingNotifier struct {
	mu    sync.Mutex
	kinds []domain.EventKind
}

func (n *countingNotifier) NotifyEvent(_ context.Context, ev domain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, ev.Kind)
	return nil
}

type memAudit struct {
	entries []domain.AuditEntry
	err     error
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, domain.AuditEntry{ID: int64(len(a.entries) + 1), Event: event, Detail: detail})
	return nil
}

func (a *memAudit) List(_ context.Context, event string, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range a.entries {
		if event == "" || e.Event == event {
			out = append(out, e)
		}
	}
	return out, nil
}

type memSnapshots struct {
	saved []domain.Snapshot
}

func (s *memSnapshots) Save(_ context.Context, snap domain.Snapshot) error {
	s.saved = append(s.saved, snap)
	return nil
}

func (s *memSnapshots) Latest(context.Context) (domain.Snapshot, error) {
	if len(s.saved) == 0 {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return s.saved[len(s.saved)-1], nil
}

// memArchive serves one archived snapshot, or ErrNotFound when empty.
type memArchive struct {
	snap *domain.Snapshot
}

func (a *memArchive) ArchiveEvents(context.Context, time.Time) (int64, error) { return 0, nil }

func (a *memArchive) ArchiveSnapshot(_ context.Context, snap domain.Snapshot) (string, error) {
	a.snap = &snap
	return "archive/snapshots/latest.json", nil
}

func (a *memArchive) LatestSnapshot(context.Context) (domain.Snapshot, error) {
	if a.snap == nil {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return *a.snap, nil
}

// runUntilFlushed starts p, lets fn commit operations, then stops p and waits
// for the final flush.
func runUntilFlushed(t *testing.T, p *Publisher, fn func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	fn()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not stop")
	}
}

func TestPublisherDeliversEveryEventInOrder(t *testing.T) {
	store := &memEvents{}
	bus := newFakeBus()
	notifier := &countingNotifier{}
	pub := NewPublisher(PublisherConfig{Size: 2, Store: store, Bus: bus, Notifier: notifier}, testLogger())
	e := newEngine(t, market.WithEventSink(pub))

	runUntilFlushed(t, pub, func() { seed(t, e) })

	require.Len(t, store.events, int(e.Seq()))
	for i, ev := range store.events {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
	assert.Len(t, bus.published[EventsChannel], 3)
	assert.Len(t, bus.streamed[EventsStream], 3)
	assert.Equal(t, []domain.EventKind{
		domain.EventPropertyRegistered,
		domain.EventDeposited,
		domain.EventSharesPurchased,
	}, notifier.kinds)

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(bus.published[EventsChannel][2], &decoded))
	assert.Equal(t, domain.EventSharesPurchased, decoded.Kind)
	assert.Equal(t, alice, decoded.Actor)
	assert.Equal(t, "50", decoded.Fields["gross"])
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages int
}

func (b *recordingBroadcaster) Broadcast(string, []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages++
}

func TestPublisherBroadcastsLocallyWithoutBus(t *testing.T) {
	local := &recordingBroadcaster{}
	pub := NewPublisher(PublisherConfig{Local: local}, testLogger())
	e := newEngine(t, market.WithEventSink(pub))

	runUntilFlushed(t, pub, func() { seed(t, e) })
	assert.Equal(t, 3, local.messages)
}

func TestPublisherDropsAfterStop(t *testing.T) {
	pub := NewPublisher(PublisherConfig{Size: 1}, testLogger())
	runUntilFlushed(t, pub, func() {})

	pub.Publish([]domain.Event{{Seq: 1}, {Seq: 2}})
	pub.Publish([]domain.Event{{Seq: 3}})
	assert.Equal(t, uint64(3), pub.Dropped())
}

func TestAuditPayoutRecordsWithdrawals(t *testing.T) {
	audit := &memAudit{}
	e := newEngine(t, market.WithPayout(NewAuditPayout(audit, nil, testLogger())))
	require.NoError(t, e.Deposit(owner, alice, stable, big.NewInt(40)))

	require.NoError(t, e.Withdraw(context.Background(), alice, stable, big.NewInt(15)))
	require.Len(t, audit.entries, 1)
	assert.Equal(t, payoutEvent, audit.entries[0].Event)
	assert.Equal(t, alice.Hex(), audit.entries[0].Detail["to"])
	assert.Equal(t, "15", audit.entries[0].Detail["amount"])
	assert.Equal(t, stable.Key(), audit.entries[0].Detail["currency"])
	assert.Equal(t, big.NewInt(25), e.Balance(alice, stable))
}

func TestAuditPayoutFailureRollsBackWithdrawal(t *testing.T) {
	audit := &memAudit{err: errors.New("db down")}
	e := newEngine(t, market.WithPayout(NewAuditPayout(audit, nil, testLogger())))
	require.NoError(t, e.Deposit(owner, alice, stable, big.NewInt(40)))
	seq := e.Seq()

	err := e.Withdraw(context.Background(), alice, stable, big.NewInt(15))
	require.ErrorIs(t, err, domain.ErrPayoutFailed)
	assert.Equal(t, big.NewInt(40), e.Balance(alice, stable))
	assert.Equal(t, seq, e.Seq())
}

func TestSnapshotterRestoresSavedState(t *testing.T) {
	store := &memSnapshots{}
	src := newEngine(t)
	id := seed(t, src)

	snapper := NewSnapshotter(src, store, nil, time.Minute, testLogger())
	saved, err := snapper.SaveNow(context.Background())
	require.NoError(t, err)
	assert.True(t, saved)

	saved, err = snapper.SaveNow(context.Background())
	require.NoError(t, err)
	assert.False(t, saved, "no new events since the last snapshot")

	dst := newEngine(t)
	require.NoError(t, NewSnapshotter(dst, store, nil, time.Minute, testLogger()).Restore(context.Background()))
	assert.Equal(t, src.Seq(), dst.Seq())

	want, err := src.Property(id)
	require.NoError(t, err)
	got, err := dst.Property(id)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, src.PendingClaim(alice, id), dst.PendingClaim(alice, id))
}

func TestSnapshotterRestoreFromEmptyStore(t *testing.T) {
	e := newEngine(t)
	snapper := NewSnapshotter(e, &memSnapshots{}, nil, time.Minute, testLogger())
	require.NoError(t, snapper.Restore(context.Background()))
	assert.Equal(t, uint64(0), e.Seq())

	_, err := snapper.Archive(context.Background())
	require.Error(t, err)
}

func TestSnapshotterRestoreFallsBackToArchive(t *testing.T) {
	archive := &memArchive{}

	empty := newEngine(t)
	require.NoError(t, NewSnapshotter(empty, &memSnapshots{}, archive, time.Minute, testLogger()).Restore(context.Background()))
	assert.Equal(t, uint64(0), empty.Seq())

	src := newEngine(t)
	id := seed(t, src)
	_, err := NewSnapshotter(src, &memSnapshots{}, archive, time.Minute, testLogger()).Archive(context.Background())
	require.NoError(t, err)

	dst := newEngine(t)
	require.NoError(t, NewSnapshotter(dst, &memSnapshots{}, archive, time.Minute, testLogger()).Restore(context.Background()))
	assert.Equal(t, src.Seq(), dst.Seq())
	_, err = dst.Property(id)
	require.NoError(t, err)
}

func TestSnapshotterFinalSaveOnShutdown(t *testing.T) {
	store := &memSnapshots{}
	e := newEngine(t)
	seed(t, e)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, NewSnapshotter(e, store, nil, time.Hour, testLogger()).Run(ctx))
	require.Len(t, store.saved, 1)
	assert.Equal(t, e.Seq(), store.saved[0].Seq)
}

func TestMarketServiceHistory(t *testing.T) {
	e := newEngine(t)
	svc := NewMarketService(e, nil, testLogger())
	id := seed(t, e)

	history, err := svc.History(context.Background(), domain.EntityProperty, id, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.EventPropertyRegistered, history[0].Kind)

	history, err = svc.History(context.Background(), domain.EntityProperty, id, domain.ListOpts{Offset: 1, Limit: 5})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.EventSharesPurchased, history[0].Kind)

	store := &memEvents{}
	require.NoError(t, store.Append(context.Background(), e.EventsSince(0, 0)))
	stored := NewMarketService(e, store, testLogger())
	history, err = stored.History(context.Background(), domain.EntityProperty, id, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestMarketServiceSetBips(t *testing.T) {
	e := newEngine(t)
	svc := NewMarketService(e, nil, testLogger())

	require.NoError(t, svc.SetBips(context.Background(), owner, "platform_fee_bips", 300))
	assert.Equal(t, uint32(300), e.Settings().PlatformFeeBips)

	err := svc.SetBips(context.Background(), owner, "bogus", 1)
	require.ErrorIs(t, err, domain.ErrInvalidParameters)

	err = svc.SetBips(context.Background(), alice, "platform_fee_bips", 100)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAlignSequenceSkipsPersistedEvents(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	require.NoError(t, AlignSequence(ctx, e, nil, testLogger()))

	events := &memEvents{}
	require.NoError(t, AlignSequence(ctx, e, events, testLogger()))
	assert.Equal(t, uint64(0), e.Seq())

	require.NoError(t, events.Append(ctx, []domain.Event{{Seq: 1}, {Seq: 2}, {Seq: 3}}))
	require.NoError(t, AlignSequence(ctx, e, events, testLogger()))
	assert.Equal(t, uint64(3), e.Seq())

	require.NoError(t, e.Deposit(owner, alice, stable, big.NewInt(1)))
	assert.Equal(t, uint64(4), e.Seq())
	require.NoError(t, AlignSequence(ctx, e, events, testLogger()))
	assert.Equal(t, uint64(4), e.Seq(), "never moves backwards")
}

type countingCheckpoint struct {
	calls int
	err   error
}

func (c *countingCheckpoint) SaveNow(context.Context) (bool, error) {
	c.calls++
	return c.err == nil, c.err
}

func TestWithdrawCheckpoints(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	cp := &countingCheckpoint{}
	svc := NewMarketService(e, nil, testLogger(), WithCheckpoint(cp))
	require.NoError(t, svc.Deposit(ctx, owner, alice, stable, big.NewInt(50)))
	assert.Zero(t, cp.calls, "only withdrawals checkpoint")

	require.NoError(t, svc.Withdraw(ctx, alice, stable, big.NewInt(20)))
	assert.Equal(t, 1, cp.calls)

	require.Error(t, svc.Withdraw(ctx, alice, stable, big.NewInt(100)))
	assert.Equal(t, 1, cp.calls, "failed withdrawals do not checkpoint")

	cp.err = errors.New("disk full")
	require.NoError(t, svc.Withdraw(ctx, alice, stable, big.NewInt(10)), "the payout already happened")
	assert.Equal(t, "20", e.Balance(alice, stable).String())
}

func TestSnapshotterRefusesFencedEngine(t *testing.T) {
	store := &memSnapshots{}
	e := newEngine(t)
	seed(t, e)
	e.Fence(domain.ErrLockLost)

	snapper := NewSnapshotter(e, store, nil, time.Hour, testLogger())
	_, err := snapper.SaveNow(context.Background())
	require.ErrorIs(t, err, domain.ErrLockLost)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, snapper.Run(ctx))
	assert.Empty(t, store.saved)
}
