package base

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespaceKeys(t *testing.T) {
	ns := NewNamespace("testResque")
	assert.Equal(t, "testResque:queues", ns.QueuesKey())
	assert.Equal(t, "testResque:queue:jobs", ns.QueueKey("jobs"))
	assert.Equal(t, "testResque:job:abc:status", ns.StatusKey("abc"))
	assert.Equal(t, "testResque:workers", ns.WorkersKey())
	assert.Equal(t, "testResque:worker:h:1:jobs:started", ns.WorkerStartedKey("h:1:jobs"))
	assert.Equal(t, "testResque:worker:h:1:jobs", ns.WorkerKey("h:1:jobs"))
	assert.Equal(t, "testResque:stat:processed", ns.StatKey("processed"))
	assert.Equal(t, "testResque:failed:abc", ns.FailedKey("abc"))
}

func TestNewNamespaceDefaultsAndColon(t *testing.T) {
	assert.Equal(t, DefaultNamespace, NewNamespace("").QueuesKey()[:len(DefaultNamespace)])
	assert.Equal(t, "foo:queues", NewNamespace("foo").QueuesKey())
	assert.Equal(t, "foo:queues", NewNamespace("foo:").QueuesKey())
}

func TestEnvelopeUserArgs(t *testing.T) {
	var empty Envelope
	assert.Nil(t, empty.UserArgs())

	env := Envelope{Class: "J", Args: []map[string]any{{"k": float64(1)}}, ID: "x"}
	assert.Equal(t, map[string]any{"k": float64(1)}, env.UserArgs())
}

func TestNewIDIsUniqueAndHex(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		require.Len(t, id, 32)
		assert.False(t, seen[id], "id %q generated twice", id)
		seen[id] = true
		for _, r := range id {
			assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'), "non-hex rune %q in id %q", r, id)
		}
	}
}

func TestWorkerIDRoundTrip(t *testing.T) {
	id := WorkerID("host1", 4242, []string{"high", "low"})
	assert.Equal(t, "host1:4242:high,low", id)

	host, pid, queues, ok := ParseWorkerID(id)
	require.True(t, ok)
	assert.Equal(t, "host1", host)
	assert.Equal(t, 4242, pid)
	assert.Equal(t, []string{"high", "low"}, queues)
}

func TestParseWorkerIDNoQueues(t *testing.T) {
	host, pid, queues, ok := ParseWorkerID("host1:99:")
	require.True(t, ok)
	assert.Equal(t, "host1", host)
	assert.Equal(t, 99, pid)
	assert.Nil(t, queues)
}

func TestParseWorkerIDMalformed(t *testing.T) {
	cases := []string{"", "host-only", "host:notanumber:jobs"}
	for _, s := range cases {
		_, _, _, ok := ParseWorkerID(s)
		assert.False(t, ok, "expected %q to fail to parse", s)
	}
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, ProcessAlive(os.Getpid()), "the current process must report alive")
	assert.False(t, ProcessAlive(0))
	assert.False(t, ProcessAlive(-1))
}

func TestMatchItemBareClass(t *testing.T) {
	m := MatchItem{Class: "SendEmail"}
	assert.True(t, m.Matches(Envelope{Class: "SendEmail", ID: "1"}))
	assert.False(t, m.Matches(Envelope{Class: "Other", ID: "1"}))
}

func TestMatchItemByID(t *testing.T) {
	m := MatchItem{Class: "SendEmail", ID: "2"}
	assert.True(t, m.Matches(Envelope{Class: "SendEmail", ID: "2"}))
	assert.False(t, m.Matches(Envelope{Class: "SendEmail", ID: "3"}))
}

func TestMatchItemByArgs(t *testing.T) {
	m := MatchItem{Class: "SendEmail", Args: map[string]any{"to": "a@example.com"}}
	assert.True(t, m.Matches(Envelope{
		Class: "SendEmail",
		Args:  []map[string]any{{"to": "a@example.com", "subject": "hi"}},
	}))
	assert.False(t, m.Matches(Envelope{
		Class: "SendEmail",
		Args:  []map[string]any{{"to": "b@example.com"}},
	}))
}

// ArgsSubset is a value-wise diff, not a key-wise subset check: a wanted
// value must appear somewhere among got's values, regardless of which key
// it sits under in either mapping. This test pins that surprising
// semantics (spec.md §9).
func TestArgsSubsetIsValueWiseNotKeyWise(t *testing.T) {
	want := map[string]any{"anything": "hello"}
	got := map[string]any{"greeting": "hello", "extra": "world"}
	assert.True(t, ArgsSubset(want, got), "value-wise match should ignore key names")
}

func TestArgsSubsetNumericStringCoercion(t *testing.T) {
	want := map[string]any{"k": "1"}
	got := map[string]any{"k": 1}
	assert.True(t, ArgsSubset(want, got))
}

func TestArgsSubsetMissingValueFails(t *testing.T) {
	want := map[string]any{"k": "missing"}
	got := map[string]any{"k": "present"}
	assert.False(t, ArgsSubset(want, got))
}

func TestArgsSubsetEmptyWantAlwaysMatches(t *testing.T) {
	assert.True(t, ArgsSubset(nil, map[string]any{"k": "v"}))
	assert.True(t, ArgsSubset(map[string]any{}, nil))
}

func TestArgsSubsetConsumesEachGotValueOnce(t *testing.T) {
	want := map[string]any{"a": "x", "b": "x"}
	got := map[string]any{"a": "x", "b": "y"}
	assert.False(t, ArgsSubset(want, got), "each occurrence of a wanted value must consume a distinct got value")
}
