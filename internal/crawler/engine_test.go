package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/store"
	memorystore "github.com/JakeFAU/snowball-crawler/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedFetcher serves pages keyed by cursor token.
type scriptedFetcher struct {
	mu      sync.Mutex
	pages   map[string]Page
	errs    map[string]error
	cursors []string
}

func (f *scriptedFetcher) FetchPage(_ context.Context, _ Entity, cursor Cursor) (Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, cursor.Token)
	if err := f.errs[cursor.Token]; err != nil {
		return Page{}, err
	}
	return f.pages[cursor.Token], nil
}

func (f *scriptedFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cursors)
}

type recordingSink struct {
	chunks [][]Chunk
	err    error
}

func (s *recordingSink) Emit(_ context.Context, _ Entity, chunks []Chunk) error {
	if s.err != nil {
		return s.err
	}
	s.chunks = append(s.chunks, chunks)
	return nil
}

type recordingNotifier struct {
	notified []Watermark
}

func (n *recordingNotifier) Notify(_ context.Context, _ Entity, wm Watermark) error {
	n.notified = append(n.notified, wm)
	return nil
}

func items(ids ...int64) []Item {
	out := make([]Item, len(ids))
	for i, id := range ids {
		out[i] = Item{ID: id, Payload: json.RawMessage(`{"id":` + FormatID(id) + `}`)}
	}
	return out
}

type engineFixture struct {
	engine   *Engine
	records  *memorystore.Store
	fetcher  *scriptedFetcher
	sink     *recordingSink
	notifier *recordingNotifier
	clock    *fakeClock
}

func newFixture(t *testing.T, stop StopPredicate, pages map[string]Page) *engineFixture {
	t.Helper()
	f := &engineFixture{
		records:  memorystore.New(),
		fetcher:  &scriptedFetcher{pages: pages, errs: map[string]error{}},
		sink:     &recordingSink{},
		notifier: &recordingNotifier{},
		clock:    &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	engine, err := NewEngine(Config{
		Namespace:         "snowball:comments",
		Tag:               ":test",
		FrequencyFloor:    10 * time.Minute,
		InactivityCeiling: 10 * 24 * time.Hour,
	}, Deps{
		Records:  f.records,
		Fetcher:  f.fetcher,
		Stop:     stop,
		Sink:     f.sink,
		Notifier: f.notifier,
		Clock:    f.clock,
	}, zap.NewNop())
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *engineFixture) seed(t *testing.T, id string, wm Watermark) {
	t.Helper()
	rec, err := store.NewRecord(id, wm, f.clock.Now(), ":test", "")
	require.NoError(t, err)
	_, err = f.records.Upsert(context.Background(), "snowball:comments", rec)
	require.NoError(t, err)
}

func TestNewEngineValidates(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(Config{}, Deps{}, nil)
	require.Error(t, err)
	_, err = NewEngine(Config{Namespace: "ns"}, Deps{}, nil)
	require.Error(t, err)
}

func TestCycleAscendingStreamStopsAtEmptyPage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, StopOnEmpty{}, map[string]Page{
		"":  {Items: items(11, 12), Next: "2"},
		"2": {Items: items(13, 14), Next: "3"},
		"3": {Next: "3"},
	})
	entity := Entity{ID: "100"}

	res, err := f.engine.Cycle(context.Background(), entity)
	require.NoError(t, err)
	require.Equal(t, OutcomeUpdated, res.Outcome)
	require.True(t, res.Created)
	require.True(t, res.Notified)
	require.True(t, res.Requeue())
	require.Equal(t, 4, res.Kept)
	require.Equal(t, 3, res.Pages)
	require.Equal(t, []string{"", "2", "3"}, f.fetcher.cursors)

	require.Len(t, f.sink.chunks, 1)
	require.Len(t, f.sink.chunks[0], 2)
	require.Len(t, f.notifier.notified, 1)

	wm, found, err := f.engine.Watermark(context.Background(), "100")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(14), wm.LatestID)
	require.Equal(t, "3", wm.ResumeToken)
	require.Equal(t, int64(4), wm.Count)
	require.Equal(t, f.clock.Now().UnixMilli(), wm.LastUpdate)
}

func TestCycleDiscardsOverlappingItems(t *testing.T) {
	t.Parallel()

	f := newFixture(t, StopOnEmpty{}, map[string]Page{
		"2": {Items: items(13, 14, 15, 15), Next: "3"},
		"3": {Next: "3"},
	})
	f.seed(t, "100", Watermark{LatestID: 14, ResumeToken: "2", LastUpdate: f.clock.Now().UnixMilli(), Count: 4})
	f.clock.Advance(time.Hour)

	res, err := f.engine.Cycle(context.Background(), Entity{ID: "100"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Kept)
	require.Len(t, f.sink.chunks, 1)
	require.Equal(t, []Chunk{{Cursor: "2", Items: items(15)}}, f.sink.chunks[0])
	require.Equal(t, int64(15), res.Watermark.LatestID)
	require.Equal(t, int64(5), res.Watermark.Count)
}

func TestCycleBackoffSkipsFetch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, StopOnEmpty{}, map[string]Page{})
	prev := Watermark{LatestID: 3, ResumeToken: "2", LastUpdate: f.clock.Now().UnixMilli(), Count: 3}
	f.seed(t, "100", prev)
	f.clock.Advance(time.Minute)

	res, err := f.engine.Cycle(context.Background(), Entity{ID: "100"})
	require.NoError(t, err)
	require.Equal(t, OutcomeBackoff, res.Outcome)
	require.True(t, res.Requeue())
	require.Zero(t, f.fetcher.calls())
	require.Equal(t, prev, res.Watermark)
}

func TestCycleExpiryDropsEntity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, StopOnEmpty{}, map[string]Page{})
	f.seed(t, "100", Watermark{LatestID: 3, LastUpdate: f.clock.Now().UnixMilli()})
	f.clock.Advance(11 * 24 * time.Hour)

	res, err := f.engine.Cycle(context.Background(), Entity{ID: "100"})
	require.NoError(t, err)
	require.Equal(t, OutcomeExpired, res.Outcome)
	require.False(t, res.Requeue())
	require.Zero(t, f.fetcher.calls())
}

func TestCycleFetchErrorCommitsNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, StopOnEmpty{}, map[string]Page{
		"": {Items: items(1, 2), Next: "2"},
	})
	f.fetcher.errs["2"] = errors.New("connection reset")

	res, err := f.engine.Cycle(context.Background(), Entity{ID: "100"})
	require.Error(t, err)
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.True(t, res.Requeue())
	require.Empty(t, f.sink.chunks)
	require.Empty(t, f.notifier.notified)

	_, found, err := f.engine.Watermark(context.Background(), "100")
	require.NoError(t, err)
	require.False(t, found)
}

func TestCycleSinkFailureLeavesWatermark(t *testing.T) {
	t.Parallel()

	f := newFixture(t, StopOnEmpty{}, map[string]Page{
		"": {Items: items(1), Next: "1"},
	})
	f.sink.err = errors.New("blob write failed")

	_, err := f.engine.Cycle(context.Background(), Entity{ID: "100"})
	require.ErrorIs(t, err, ErrSinkFailed)
	require.Empty(t, f.notifier.notified)

	_, found, err := f.engine.Watermark(context.Background(), "100")
	require.NoError(t, err)
	require.False(t, found)
}

func TestLatestIDNeverDecreases(t *testing.T) {
	t.Parallel()

	f := newFixture(t, StopOnEmpty{}, map[string]Page{
		"": {Items: items(5, 3), Next: "1"},
	})
	ctx := context.Background()

	res, err := f.engine.Cycle(ctx, Entity{ID: "100"})
	require.NoError(t, err)
	require.Equal(t, int64(5), res.Watermark.LatestID)

	// Next cycle sees only older, out-of-order ids.
	f.fetcher.pages["1"] = Page{Items: items(2, 4), Next: "1"}
	f.clock.Advance(time.Hour)
	res, err = f.engine.Cycle(ctx, Entity{ID: "100"})
	require.NoError(t, err)
	require.Equal(t, OutcomeUnchanged, res.Outcome)
	require.Equal(t, int64(5), res.Watermark.LatestID)
	require.Len(t, f.sink.chunks, 1)
	require.Len(t, f.notifier.notified, 1)
}

func TestUnchangedCycleOnlyStampsVisit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, StopOnEmpty{}, map[string]Page{
		"3": {Next: "3"},
	})
	created := f.clock.Now().UnixMilli()
	f.seed(t, "100", Watermark{LatestID: 14, ResumeToken: "3", LastUpdate: created, Count: 4})
	f.clock.Advance(time.Hour)

	res, err := f.engine.Cycle(context.Background(), Entity{ID: "100"})
	require.NoError(t, err)
	require.Equal(t, OutcomeUnchanged, res.Outcome)
	require.False(t, res.Notified)
	require.Empty(t, f.sink.chunks)

	wm, found, err := f.engine.Watermark(context.Background(), "100")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, Watermark{
		LatestID:    14,
		ResumeToken: "3",
		LastUpdate:  created,
		LastCycle:   f.clock.Now().UnixMilli(),
		Count:       4,
	}, wm)
}

func TestQuietCyclesRespectFrequencyFloor(t *testing.T) {
	t.Parallel()

	f := newFixture(t, StopOnEmpty{}, map[string]Page{
		"":  {Items: items(1, 2), Next: "1"},
		"1": {Next: "1"},
	})
	ctx := context.Background()
	entity := Entity{ID: "100"}

	res, err := f.engine.Cycle(ctx, entity)
	require.NoError(t, err)
	require.Equal(t, OutcomeUpdated, res.Outcome)
	require.Equal(t, 2, f.fetcher.calls())

	f.clock.Advance(20 * time.Minute)
	res, err = f.engine.Cycle(ctx, entity)
	require.NoError(t, err)
	require.Equal(t, OutcomeUnchanged, res.Outcome)
	require.Equal(t, 3, f.fetcher.calls())

	for i := 0; i < 10; i++ {
		f.clock.Advance(time.Second)
		res, err = f.engine.Cycle(ctx, entity)
		require.NoError(t, err)
		require.Equal(t, OutcomeBackoff, res.Outcome, "cycle %d", i)
	}
	require.Equal(t, 3, f.fetcher.calls())

	// Expiry still counts from the last kept content, not the last visit.
	f.clock.Advance(10 * 24 * time.Hour)
	res, err = f.engine.Cycle(ctx, entity)
	require.NoError(t, err)
	require.Equal(t, OutcomeExpired, res.Outcome)
}

func TestFirstCycleWithoutContentCreatesWatermark(t *testing.T) {
	t.Parallel()

	f := newFixture(t, StopOnEmpty{}, map[string]Page{"": {Next: ""}})

	res, err := f.engine.Cycle(context.Background(), Entity{ID: "100"})
	require.NoError(t, err)
	require.Equal(t, OutcomeUnchanged, res.Outcome)
	require.True(t, res.Created)
	require.False(t, res.Notified)
	require.Equal(t, int64(-1), res.Watermark.LatestID)
	require.Equal(t, f.clock.Now().UnixMilli(), res.Watermark.LastUpdate)
}

func TestCycleNewestFirstStreamStopsAtSeenID(t *testing.T) {
	t.Parallel()

	f := newFixture(t, StopOnSeen{}, map[string]Page{
		"":    {Items: items(105, 104), Next: "104"},
		"104": {Items: items(103, 100, 99), Next: "99"},
	})
	f.seed(t, "1", Watermark{LatestID: 100, LastUpdate: f.clock.Now().UnixMilli()})
	f.clock.Advance(time.Hour)

	res, err := f.engine.Cycle(context.Background(), Entity{ID: "1"})
	require.NoError(t, err)
	require.Equal(t, 3, res.Kept)
	require.Equal(t, int64(105), res.Watermark.LatestID)
	require.Equal(t, "", res.Watermark.ResumeToken)
	require.Equal(t, []string{"", "104"}, f.fetcher.cursors)
}

func TestCycleStopsWhenCursorCannotAdvance(t *testing.T) {
	t.Parallel()

	f := newFixture(t, StopOnEmpty{}, map[string]Page{
		"":  {Items: items(1, 2), Next: "2"},
		"2": {Items: items(3), Next: "2"},
	})

	res, err := f.engine.Cycle(context.Background(), Entity{ID: "100"})
	require.NoError(t, err)
	require.Equal(t, 2, res.Pages)
	require.Equal(t, "2", res.Watermark.ResumeToken)
}

type unavailableRecords struct {
	store.Store
}

func (unavailableRecords) Lookup(context.Context, string, string) (store.Record, bool, error) {
	return store.Record{}, false, store.ErrUnavailable
}

func TestCycleReportsStoreUnavailable(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(Config{Namespace: "ns"}, Deps{
		Records: unavailableRecords{},
		Fetcher: &scriptedFetcher{},
		Stop:    StopOnEmpty{},
		Sink:    &recordingSink{},
		Clock:   &fakeClock{},
	}, nil)
	require.NoError(t, err)

	res, err := engine.Cycle(context.Background(), Entity{ID: "1"})
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.Equal(t, OutcomeFailed, res.Outcome)
}

func TestCycleHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t, StopOnEmpty{}, map[string]Page{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Cycle(ctx, Entity{ID: "100"})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, f.fetcher.calls())
}
