package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/config"
	"github.com/JakeFAU/snowball-crawler/internal/queue"
	queueMemory "github.com/JakeFAU/snowball-crawler/internal/queue/memory"
	"github.com/JakeFAU/snowball-crawler/internal/store"
	storeMemory "github.com/JakeFAU/snowball-crawler/internal/store/memory"
)

type fakeApp struct {
	queues  queue.Store
	records store.Store
	seeded  []int64
	ran     bool
	closed  bool
}

func (f *fakeApp) Run(context.Context) error {
	f.ran = true
	return nil
}

func (f *fakeApp) Seed(_ context.Context, categories []int64) (int, error) {
	f.seeded = append(f.seeded, categories...)
	return len(categories), nil
}

func (f *fakeApp) Queues() queue.Store { return f.queues }
func (f *fakeApp) Records() store.Store { return f.records }
func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }
func (f *fakeApp) Close(context.Context) { f.closed = true }

// execute runs the root command against fake. Tests using it must not run in
// parallel because newApp is package state.
func execute(t *testing.T, fake *fakeApp, args ...string) (string, error) {
	t.Helper()
	prev := newApp
	newApp = func(context.Context, config.Config) (App, error) { return fake, nil }
	t.Cleanup(func() { newApp = prev })

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func newFakeApp() *fakeApp {
	return &fakeApp{queues: queueMemory.NewQueue(), records: storeMemory.New()}
}

func TestRunCommand(t *testing.T) {
	fake := newFakeApp()
	_, err := execute(t, fake, "run")
	require.NoError(t, err)
	assert.True(t, fake.ran)
	assert.True(t, fake.closed)
}

func TestSeedCommand(t *testing.T) {
	fake := newFakeApp()
	out, err := execute(t, fake, "seed", "105", "111")
	require.NoError(t, err)
	assert.Equal(t, []int64{105, 111}, fake.seeded)
	assert.Contains(t, out, "queued 2 of 2 categories")

	fake = newFakeApp()
	_, err = execute(t, fake, "seed")
	require.NoError(t, err)
	assert.Equal(t, []int64{-1}, fake.seeded)

	_, err = execute(t, newFakeApp(), "seed", "abc")
	require.Error(t, err)
}

func TestInspectQueueCommand(t *testing.T) {
	fake := newFakeApp()
	require.NoError(t, fake.queues.Push(context.Background(), "snowball:comments",
		map[string]int64{"id": 1, "time": 0}, map[string]int64{"id": 2, "time": 0}))

	out, err := execute(t, fake, "inspect", "queue", "snowball:comments", "--limit", "1")
	require.NoError(t, err)

	var got struct {
		Length int64             `json:"length"`
		Items  []json.RawMessage `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, int64(2), got.Length)
	require.Len(t, got.Items, 1)
	assert.JSONEq(t, `{"id":1,"time":0}`, string(got.Items[0]))
}

func TestInspectRecordsCommand(t *testing.T) {
	fake := newFakeApp()
	rec, err := store.NewRecord("100", map[string]any{"comments": 4, "locator": "memory://schema/100.json"}, time.UnixMilli(1), "test", "")
	require.NoError(t, err)
	_, err = fake.records.Upsert(context.Background(), "snowball:schema", rec)
	require.NoError(t, err)

	out, err := execute(t, fake, "inspect", "records", "snowball:schema", "--field", "comments")
	require.NoError(t, err)
	assert.JSONEq(t, `{"100":4}`, out)

	out, err = execute(t, fake, "inspect", "records", "snowball:schema", "--key", "100")
	require.NoError(t, err)
	assert.Contains(t, out, `"k": "100"`)

	_, err = execute(t, fake, "inspect", "records", "snowball:schema", "--key", "missing")
	require.Error(t, err)
}
