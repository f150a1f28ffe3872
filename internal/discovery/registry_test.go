package discovery

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestRegistryDeduplicates(t *testing.T) {
	reg := NewRegistry(IPPolicyKeep)
	rec := &recorder{}
	reg.Subscribe(MatchAll(), rec.add)

	for i := 0; i < 5; i++ {
		reg.Upsert(DeviceRecord{ID: "bf01", IP: "192.168.1.20", Version: "3.3"})
	}

	assert.Equal(t, 1, reg.Len())
	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, DeviceFound, events[0].Kind)
	assert.Equal(t, "192.168.1.20", events[0].Record.IP)
}

func TestRegistryIPPolicy(t *testing.T) {
	tests := []struct {
		name       string
		policy     IPPolicy
		wantIP     string
		wantEvents []EventKind
	}{
		{
			name:       "keep first address",
			policy:     IPPolicyKeep,
			wantIP:     "192.168.1.20",
			wantEvents: []EventKind{DeviceFound},
		},
		{
			name:       "refresh address",
			policy:     IPPolicyRefresh,
			wantIP:     "192.168.1.21",
			wantEvents: []EventKind{DeviceFound, DeviceUpdated},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(tt.policy)
			rec := &recorder{}
			reg.Subscribe(MatchID("bf01"), rec.add)

			reg.Upsert(DeviceRecord{ID: "bf01", IP: "192.168.1.20"})
			reg.Upsert(DeviceRecord{ID: "bf01", IP: "192.168.1.21"})
			reg.Upsert(DeviceRecord{ID: "bf01", IP: "192.168.1.21"})

			got, ok := reg.Get("bf01")
			require.True(t, ok)
			assert.Equal(t, tt.wantIP, got.IP)
			assert.Equal(t, 1, reg.Len())

			var kinds []EventKind
			for _, ev := range rec.snapshot() {
				kinds = append(kinds, ev.Kind)
			}
			assert.Equal(t, tt.wantEvents, kinds)
		})
	}
}

func TestRegistryRefreshesLastSeen(t *testing.T) {
	reg := NewRegistry(IPPolicyKeep)
	first, _ := reg.Upsert(DeviceRecord{ID: "bf01", IP: "192.168.1.20"})

	_, changed := reg.Upsert(DeviceRecord{ID: "bf01", IP: "192.168.1.20"})
	assert.False(t, changed)

	got, _ := reg.Get("bf01")
	assert.False(t, got.LastSeen.Before(first.Record.LastSeen))
}

func TestRegistrySubscribeReplays(t *testing.T) {
	reg := NewRegistry(IPPolicyKeep)
	reg.Upsert(DeviceRecord{ID: "bf02", IP: "192.168.1.22"})
	reg.Upsert(DeviceRecord{ID: "bf01", IP: "192.168.1.21"})

	all := &recorder{}
	reg.Subscribe(MatchAll(), all.add)

	one := &recorder{}
	reg.Subscribe(MatchID("bf02"), one.add)

	events := all.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, "bf01", events[0].Record.ID)
	assert.Equal(t, "bf02", events[1].Record.ID)

	require.Len(t, one.snapshot(), 1)
	assert.Equal(t, "bf02", one.snapshot()[0].Record.ID)

	reg.Upsert(DeviceRecord{ID: "bf03", IP: "192.168.1.23"})
	assert.Len(t, all.snapshot(), 3)
	assert.Len(t, one.snapshot(), 1, "matcher must filter live events")
}

func TestRegistryUnsubscribe(t *testing.T) {
	reg := NewRegistry(IPPolicyKeep)
	rec := &recorder{}
	id := reg.Subscribe(nil, rec.add)

	reg.Upsert(DeviceRecord{ID: "bf01", IP: "192.168.1.20"})
	reg.Unsubscribe(id)
	reg.Upsert(DeviceRecord{ID: "bf02", IP: "192.168.1.21"})

	assert.Len(t, rec.snapshot(), 1)
}

func TestRegistrySetLocalKey(t *testing.T) {
	reg := NewRegistry(IPPolicyKeep)

	err := reg.SetLocalKey("missing", []byte("0123456789abcdef"))
	assert.ErrorIs(t, err, ErrUnknownDevice)

	reg.Upsert(DeviceRecord{ID: "bf01", IP: "192.168.1.20"})
	key := []byte("0123456789abcdef")
	require.NoError(t, reg.SetLocalKey("bf01", key))
	key[0] = 'X'

	got, _ := reg.Get("bf01")
	assert.Equal(t, []byte("0123456789abcdef"), got.LocalKey)
}

func TestRegistryIgnoresEmptyID(t *testing.T) {
	reg := NewRegistry(IPPolicyKeep)
	_, changed := reg.Upsert(DeviceRecord{IP: "192.168.1.20"})
	assert.False(t, changed)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryConcurrentUpsert(t *testing.T) {
	reg := NewRegistry(IPPolicyRefresh)
	rec := &recorder{}
	reg.Subscribe(MatchAll(), rec.add)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				reg.Upsert(DeviceRecord{ID: fmt.Sprintf("bf%02d", i%4), IP: "192.168.1.20"})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, reg.Len())
	found := 0
	for _, ev := range rec.snapshot() {
		if ev.Kind == DeviceFound {
			found++
		}
	}
	assert.Equal(t, 4, found, "exactly one DeviceFound per ID")
}

func TestParseIPPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    IPPolicy
		wantErr bool
	}{
		{"", IPPolicyKeep, false},
		{"keep", IPPolicyKeep, false},
		{"refresh", IPPolicyRefresh, false},
		{"sometimes", IPPolicyKeep, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIPPolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseIPPolicy() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseIPPolicy() = %v, want %v", got, tt.want)
			}
		})
	}
}
