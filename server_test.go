package resqueue

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemant/resqueue/internal/base"
	"github.com/hemant/resqueue/internal/errors"
	"github.com/hemant/resqueue/internal/log"
	"github.com/hemant/resqueue/internal/rdb"
)

func testLogger() *log.Logger { return log.NewLogger(nil) }

func newTestRDBForReaper(t *testing.T, client *redis.Client, ns base.Namespace) *rdb.RDB {
	t.Helper()
	return rdb.NewRDB(client, ns, nil)
}

func newTestWorker(t *testing.T, cfg Config) (*Worker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg.Namespace = "testResque"
	if cfg.Registry == nil {
		cfg.Registry = NewHandlerRegistry()
	}
	w := NewWorker(RedisClientOpt{Addr: mr.Addr()}, cfg)
	return w, mr
}

func TestWorkerIDFormat(t *testing.T) {
	w, _ := newTestWorker(t, Config{Queues: []string{"high", "low"}})
	hostname, _ := os.Hostname()
	expected := base.WorkerID(hostname, os.Getpid(), []string{"high", "low"})
	assert.Equal(t, expected, w.ID())
}

func TestNormalizeQueuesDefault(t *testing.T) {
	queues, wildcard := normalizeQueues(nil)
	assert.False(t, wildcard)
	assert.Equal(t, []string{base.DefaultQueueName}, queues)
}

func TestNormalizeQueuesWildcard(t *testing.T) {
	_, wildcard := normalizeQueues([]string{"*"})
	assert.True(t, wildcard)
}

func TestActiveQueuesWildcardSortsAlphabetically(t *testing.T) {
	w, _ := newTestWorker(t, Config{Queues: []string{"*"}})
	require.NoError(t, w.rt.rdb.Push("zeta", base.Envelope{Class: "A", ID: "1"}))
	require.NoError(t, w.rt.rdb.Push("alpha", base.Envelope{Class: "A", ID: "2"}))
	require.NoError(t, w.rt.rdb.Push("mid", base.Envelope{Class: "A", ID: "3"}))

	active, err := w.activeQueues()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, active)
}

// E1: enqueue + process success.
func TestWorkSingleShotProcessesSuccessfulJob(t *testing.T) {
	registry := NewHandlerRegistry()
	handlerRan := false
	registry.Register("J", func() Handler {
		return HandlerFunc(func(job *Job, args map[string]any) error {
			handlerRan = true
			return nil
		})
	})

	w, _ := newTestWorker(t, Config{Queues: []string{"jobs"}, Interval: 0, Registry: registry})
	id, err := w.rt.createJob(context.Background(), "jobs", "J", map[string]any{"k": 1}, CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, w.Work(context.Background()))

	assert.True(t, handlerRan)
	n, err := w.rt.rdb.GetStat("processed")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, found, err := w.rt.rdb.GetWorkingOn(w.id)
	require.NoError(t, err)
	assert.False(t, found)

	var rec base.FailedRecord
	found, err = w.rt.rdb.GetJSON(w.rt.rdb.Namespace().FailedKey(id), &rec)
	require.NoError(t, err)
	assert.False(t, found)
}

// E2: handler throws.
func TestWorkSingleShotRecordsHandlerFailure(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Register("F", func() Handler {
		return HandlerFunc(func(job *Job, args map[string]any) error {
			return fmt.Errorf("handler broke")
		})
	})

	w, _ := newTestWorker(t, Config{Queues: []string{"jobs"}, Interval: 0, Registry: registry})
	id, err := w.rt.createJob(context.Background(), "jobs", "F", nil, CreateOptions{TrackStatus: true})
	require.NoError(t, err)

	require.NoError(t, w.Work(context.Background()))

	n, err := w.rt.rdb.GetStat("failed")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var rec base.FailedRecord
	found, err := w.rt.rdb.GetJSON(w.rt.rdb.Namespace().FailedKey(id), &rec)
	require.NoError(t, err)
	require.True(t, found)
	assert.NotEmpty(t, rec.Exception)
	assert.NotEmpty(t, rec.Backtrace)

	code, ok, err := w.rt.status.Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, base.StatusFailed, code)
}

// E3: a beforePerform listener raising DontPerform skips the handler;
// neither processed nor failed are incremented.
func TestWorkSingleShotDontPerformSkip(t *testing.T) {
	registry := NewHandlerRegistry()
	handlerRan := false
	registry.Register("J", func() Handler {
		return HandlerFunc(func(job *Job, args map[string]any) error {
			handlerRan = true
			return nil
		})
	})

	w, _ := newTestWorker(t, Config{Queues: []string{"jobs"}, Interval: 0, Registry: registry})
	w.Events().Listen(EventBeforePerform, func(data interface{}) error {
		return errors.ErrDontPerform
	})

	_, err := w.rt.createJob(context.Background(), "jobs", "J", nil, CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, w.Work(context.Background()))

	assert.False(t, handlerRan)
	processed, err := w.rt.rdb.GetStat("processed")
	require.NoError(t, err)
	assert.Equal(t, int64(0), processed)
	failed, err := w.rt.rdb.GetStat("failed")
	require.NoError(t, err)
	assert.Equal(t, int64(0), failed)
}

// E6: queue priority. A worker configured [high, medium, low] reserves
// in that priority order regardless of push order.
func TestWorkerReservesInQueuePriorityOrder(t *testing.T) {
	w, _ := newTestWorker(t, Config{Queues: []string{"high", "medium", "low"}})

	require.NoError(t, w.rt.rdb.Push("low", base.Envelope{Class: "L", ID: "1"}))
	require.NoError(t, w.rt.rdb.Push("high", base.Envelope{Class: "H", ID: "2"}))
	require.NoError(t, w.rt.rdb.Push("medium", base.Envelope{Class: "M", ID: "3"}))

	first, err := w.reserveNext()
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "H", first.Class())

	second, err := w.reserveNext()
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "M", second.Class())

	third, err := w.reserveNext()
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, "L", third.Class())
}

// Invariant 7: while paused, no job is reserved and no processed stat is
// incremented; unpausing lets the same job through.
func TestWorkerPausedBlocksProcessedIncrements(t *testing.T) {
	registry := NewHandlerRegistry()
	handlerRan := false
	registry.Register("J", func() Handler {
		return HandlerFunc(func(job *Job, args map[string]any) error {
			handlerRan = true
			return nil
		})
	})

	w, _ := newTestWorker(t, Config{Queues: []string{"jobs"}, Interval: 0, Registry: registry})
	_, err := w.rt.createJob(context.Background(), "jobs", "J", nil, CreateOptions{})
	require.NoError(t, err)

	w.paused.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Work(ctx))

	assert.False(t, handlerRan, "a paused worker must not run the handler")
	processed, err := w.rt.rdb.GetStat("processed")
	require.NoError(t, err)
	assert.Equal(t, int64(0), processed)

	size, err := w.rt.rdb.Size("jobs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), size, "the job must still be sitting on the queue, untouched")

	w.paused.Store(false)
	require.NoError(t, w.Work(context.Background()))

	assert.True(t, handlerRan, "unpausing must let the same job through")
	processed, err = w.rt.rdb.GetStat("processed")
	require.NoError(t, err)
	assert.Equal(t, int64(1), processed)
}

// E5: dead-worker prune removes only the fabricated dead entry, leaving
// a genuinely live worker's registration alone.
func TestReaperPruneOnceRemovesOnlyDeadEntries(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ns := base.NewNamespace("testResque")
	store := newTestRDBForReaper(t, client, ns)

	liveID := base.WorkerID("H", os.Getpid(), []string{"jobs"})
	deadID := "H:1:jobs"
	require.NoError(t, store.RegisterWorker(liveID, "started"))
	require.NoError(t, store.RegisterWorker(deadID, "started"))

	r := newReaper(reaperParams{
		logger:   testLogger(),
		rdb:      store,
		hostname: "H",
		selfPID:  os.Getpid(),
	})
	require.NoError(t, r.pruneOnce())

	workers, err := store.Workers()
	require.NoError(t, err)
	assert.Contains(t, workers, liveID)
	assert.NotContains(t, workers, deadID)
}

func TestReaperPruneFailsInFlightJobOnDeadWorker(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ns := base.NewNamespace("testResque")
	store := newTestRDBForReaper(t, client, ns)

	deadID := "H:1:jobs"
	require.NoError(t, store.RegisterWorker(deadID, "started"))
	require.NoError(t, store.SetWorkingOn(deadID, base.WorkerPayload{
		Queue:   "jobs",
		RunAt:   time.Now().Unix(),
		Payload: base.Envelope{Class: "J", ID: "job1"},
	}))

	r := newReaper(reaperParams{logger: testLogger(), rdb: store, hostname: "H", selfPID: os.Getpid()})
	require.NoError(t, r.pruneOnce())

	var rec base.FailedRecord
	found, err := store.GetJSON(store.Namespace().FailedKey("job1"), &rec)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "resqueue.DirtyExitError", rec.Exception)
}
