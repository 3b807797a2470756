package tablet

import (
	"hash/maphash"
	"sync"
	"sync/atomic"

	"github.com/lakehouse-go/deltawriter/model"
)

const inWritingShardCount = 16

// inWritingKey identifies one writer's in-flight contribution to a
// tablet's cumulative size, keyed by (tablet-id, txn-id) as in the
// original source's in_writing_data_size map.
type inWritingKey struct {
	TabletID model.TabletID
	TxnID    model.TxnID
}

type inWritingShard struct {
	mu sync.Mutex
	m  map[inWritingKey]*atomic.Int64
}

// Manager is a process-wide registry of tablet handles plus the
// (tablet-id, txn-id)-keyed in-writing byte counters used by immutable-
// tablet admission. It is the Go rendering of TabletManager's get_tablet,
// add_in_writing_data_size, in_writing_data_size and
// remove_in_writing_data_size.
//
// The in-writing counters are split across a fixed number of mutex-
// guarded shards rather than one lock, since every flush on every open
// writer touches this map.
type Manager struct {
	mu      sync.RWMutex
	tablets map[model.TabletID]*Handle

	seed   maphash.Seed
	shards [inWritingShardCount]inWritingShard
}

// NewManager creates an empty tablet manager.
func NewManager() *Manager {
	m := &Manager{
		tablets: make(map[model.TabletID]*Handle),
		seed:    maphash.MakeSeed(),
	}
	for i := range m.shards {
		m.shards[i].m = make(map[inWritingKey]*atomic.Int64)
	}
	return m
}

// RegisterTablet installs or replaces the handle for a tablet id.
func (m *Manager) RegisterTablet(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tablets[h.ID()] = h
}

// GetTablet returns the handle for a tablet id, or false if unknown —
// the delta writer treats that as a fatal "tablet not found" error on
// its first Write or Finish, where the tablet is first looked up.
func (m *Manager) GetTablet(id model.TabletID) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.tablets[id]
	return h, ok
}

func (m *Manager) shardFor(key inWritingKey) *inWritingShard {
	var h maphash.Hash
	h.SetSeed(m.seed)
	var buf [16]byte
	be := func(v int64) {
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
	}
	be(int64(key.TabletID))
	h.Write(buf[:8])
	be(int64(key.TxnID))
	h.Write(buf[:8])
	return &m.shards[h.Sum64()%inWritingShardCount]
}

// AddInWritingDataSize adds delta (which may be negative) to the
// in-writing byte counter for (tabletID, txnID) and returns the new
// total, creating the counter on first use.
func (m *Manager) AddInWritingDataSize(tabletID model.TabletID, txnID model.TxnID, delta int64) int64 {
	key := inWritingKey{tabletID, txnID}
	shard := m.shardFor(key)

	shard.mu.Lock()
	counter, ok := shard.m[key]
	if !ok {
		counter = &atomic.Int64{}
		shard.m[key] = counter
	}
	shard.mu.Unlock()

	return counter.Add(delta)
}

// InWritingDataSize returns the current in-writing byte total for
// (tabletID, txnID), or zero if no writer has ever added to it.
func (m *Manager) InWritingDataSize(tabletID model.TabletID, txnID model.TxnID) int64 {
	key := inWritingKey{tabletID, txnID}
	shard := m.shardFor(key)

	shard.mu.Lock()
	counter, ok := shard.m[key]
	shard.mu.Unlock()
	if !ok {
		return 0
	}
	return counter.Load()
}

// RemoveInWritingDataSize deletes the in-writing counter for
// (tabletID, txnID) entirely. Close calls this exactly once when
// immutable tracking was enabled, regardless of the counter's value at
// that point.
func (m *Manager) RemoveInWritingDataSize(tabletID model.TabletID, txnID model.TxnID) {
	key := inWritingKey{tabletID, txnID}
	shard := m.shardFor(key)

	shard.mu.Lock()
	delete(shard.m, key)
	shard.mu.Unlock()
}
