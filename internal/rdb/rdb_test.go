package rdb

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemant/resqueue/internal/base"
)

func setup(t *testing.T) (*RDB, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ns := base.NewNamespace("testResque")
	return NewRDB(client, ns, nil), mr
}

func TestPushPopFIFOOrder(t *testing.T) {
	r, _ := setup(t)

	envs := []base.Envelope{
		{Class: "A", ID: "1"},
		{Class: "B", ID: "2"},
		{Class: "C", ID: "3"},
	}
	for _, e := range envs {
		require.NoError(t, r.Push("jobs", e))
	}

	size, err := r.Size("jobs")
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)

	for _, want := range envs {
		got, found, err := r.Pop("jobs")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, want.Class, got.Class)
		assert.Equal(t, want.ID, got.ID)
	}

	_, found, err := r.Pop("jobs")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPushRegistersQueueName(t *testing.T) {
	r, _ := setup(t)
	require.NoError(t, r.Push("jobs", base.Envelope{Class: "A", ID: "1"}))

	queues, err := r.Queues()
	require.NoError(t, err)
	assert.Contains(t, queues, "jobs")
}

func TestDequeueEmptySelectorDeletesWholeQueue(t *testing.T) {
	r, _ := setup(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Push("jobs", base.Envelope{Class: "A", ID: "x"}))
	}

	removed, err := r.Dequeue("jobs", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	size, err := r.Size("jobs")
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

// Selective dequeue by class+id: surviving envelopes retain their original
// relative order, and the returned count equals the number removed
// (spec.md §8, invariant 4 / scenario E4).
func TestDequeueSelectivePreservesOrderOfSurvivors(t *testing.T) {
	r, _ := setup(t)
	require.NoError(t, r.Push("jobs", base.Envelope{Class: "A", ID: "1"}))
	require.NoError(t, r.Push("jobs", base.Envelope{Class: "B", ID: "2"}))
	require.NoError(t, r.Push("jobs", base.Envelope{Class: "C", ID: "3"}))

	removed, err := r.Dequeue("jobs", []base.MatchItem{{Class: "B", ID: "2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	first, found, err := r.Pop("jobs")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "A", first.Class)

	second, found, err := r.Pop("jobs")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "C", second.Class)

	_, found, err = r.Pop("jobs")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDequeueNoMatchLeavesQueueIntact(t *testing.T) {
	r, _ := setup(t)
	require.NoError(t, r.Push("jobs", base.Envelope{Class: "A", ID: "1"}))
	require.NoError(t, r.Push("jobs", base.Envelope{Class: "B", ID: "2"}))

	removed, err := r.Dequeue("jobs", []base.MatchItem{{Class: "Z"}})
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	size, err := r.Size("jobs")
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)
}

func TestWorkerRegistry(t *testing.T) {
	r, _ := setup(t)
	id := "host1:100:jobs"

	require.NoError(t, r.RegisterWorker(id, "Mon Jan 02 15:04:05 2006"))
	workers, err := r.Workers()
	require.NoError(t, err)
	assert.Contains(t, workers, id)

	payload := base.WorkerPayload{Queue: "jobs", RunAt: 1, Payload: base.Envelope{Class: "A", ID: "1"}}
	require.NoError(t, r.SetWorkingOn(id, payload))

	got, found, err := r.GetWorkingOn(id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, payload, got)

	require.NoError(t, r.ClearWorkingOn(id))
	_, found, err = r.GetWorkingOn(id)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, r.UnregisterWorker(id))
	workers, err = r.Workers()
	require.NoError(t, err)
	assert.NotContains(t, workers, id)
}

func TestStatCounters(t *testing.T) {
	r, _ := setup(t)

	require.NoError(t, r.IncrStat("processed", 1))
	require.NoError(t, r.IncrStat("processed", 1))
	n, err := r.GetStat("processed")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, r.DecrStat("processed", 1))
	n, err = r.GetStat("processed")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, r.ClearStat("processed"))
	n, err = r.GetStat("processed")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestGetStatAbsentIsZero(t *testing.T) {
	r, _ := setup(t)
	n, err := r.GetStat("never-set")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSetJSONAndGetJSONRoundTrip(t *testing.T) {
	r, _ := setup(t)
	rec := base.StatusRecord{Status: base.StatusRunning, Updated: 10, Started: 5}
	require.NoError(t, r.SetJSON("some:key", rec, 0))

	var got base.StatusRecord
	found, err := r.GetJSON("some:key", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec, got)
}

func TestGetJSONMissingKey(t *testing.T) {
	r, _ := setup(t)
	var got base.StatusRecord
	found, err := r.GetJSON("absent", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetJSONTTLExpires(t *testing.T) {
	r, mr := setup(t)
	require.NoError(t, r.SetJSON("ttl:key", base.StatusRecord{Status: base.StatusWaiting}, time.Minute))

	var got base.StatusRecord
	found, err := r.GetJSON("ttl:key", &got)
	require.NoError(t, err)
	require.True(t, found)

	mr.FastForward(2 * time.Minute)

	found, err = r.GetJSON("ttl:key", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReconnectWithoutNewClientIsNoop(t *testing.T) {
	r, _ := setup(t)
	assert.NoError(t, r.Reconnect())
}
