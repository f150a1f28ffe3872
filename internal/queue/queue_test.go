package queue

import (
	"fmt"
	"sync"
	"testing"

	"github.com/muurk/tuyalink/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func control(payload, key string) Item {
	return Item{Payload: []byte(payload), Kind: protocol.CommandControl, ConflictKey: key}
}

func TestEnqueueCoalescing(t *testing.T) {
	q := New(DefaultCapacity)

	assert.Equal(t, Enqueued, q.Enqueue(control(`{"dps":{"1":true}}`, "bf01/1")))
	assert.Equal(t, Coalesced, q.Enqueue(control(`{"dps":{"1":false}}`, "bf01/1")))

	require.Equal(t, 1, q.Len())
	item, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, `{"dps":{"1":false}}`, string(item.Payload))
}

func TestEnqueueOrder(t *testing.T) {
	q := New(5)

	q.Enqueue(control("a", "dev/1"))
	q.Enqueue(control("b", "dev/2"))
	q.Enqueue(control("c", ""))
	q.Enqueue(control("d", "dev/1"))

	var got []string
	for _, it := range q.Items() {
		got = append(got, string(it.Payload))
	}
	assert.Equal(t, []string{"b", "c", "d"}, got)
}

func TestEnqueueEmptyKeyNeverConflicts(t *testing.T) {
	q := New(5)

	assert.Equal(t, Enqueued, q.Enqueue(control("a", "")))
	assert.Equal(t, Enqueued, q.Enqueue(control("b", "")))
	assert.Equal(t, 2, q.Len())
}

func TestEnqueueFull(t *testing.T) {
	tests := []struct {
		name string
		next Item
		want Result
	}{
		{name: "new key rejected", next: control("x", "dev/9"), want: Full},
		{name: "unkeyed rejected", next: control("x", ""), want: Full},
		{name: "conflicting key makes room", next: control("x", "dev/0"), want: Coalesced},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New(3)
			for i := 0; i < 3; i++ {
				require.Equal(t, Enqueued, q.Enqueue(control(fmt.Sprint(i), fmt.Sprintf("dev/%d", i))))
			}

			assert.Equal(t, tt.want, q.Enqueue(tt.next))
			assert.Equal(t, 3, q.Len())

			if tt.want == Full {
				first, _ := q.Dequeue()
				assert.Equal(t, "0", string(first.Payload), "full queue must keep its contents")
			}
		})
	}
}

func TestDequeueEmpty(t *testing.T) {
	q := New(1)
	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	q := New(4)
	q.Enqueue(control("a", ""))
	q.Enqueue(control("b", ""))

	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 4, q.Cap())
}

func TestNewDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Cap())
	assert.Equal(t, DefaultCapacity, New(-3).Cap())
}

func TestResult(t *testing.T) {
	assert.True(t, Enqueued.Accepted())
	assert.True(t, Coalesced.Accepted())
	assert.False(t, Full.Accepted())
	assert.Equal(t, "full", Full.String())
}

func TestConcurrentEnqueue(t *testing.T) {
	q := New(100)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Enqueue(control(fmt.Sprint(i), fmt.Sprintf("dev/%d", g)))
			}
		}(g)
	}
	wg.Wait()

	// Each goroutine owns one key, so exactly one item per key survives.
	assert.Equal(t, 10, q.Len())
}
