package blobstore

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Fault describes one injected failure mode for a name pattern.
type Fault struct {
	// FailAfterBytes fails a WritableBlob's Write once this many bytes
	// have been written to that blob. Zero or negative disables the limit.
	FailAfterBytes int64
	// FailOnCreate fails Store.Create outright, before any bytes are
	// written.
	FailOnCreate bool
	// FailOnSync fails WritableBlob.Sync.
	FailOnSync bool
	// FailOnClose fails WritableBlob.Close, after the underlying blob's
	// Close has already run (so the fault is about the call returning
	// an error, not about skipping the close).
	FailOnClose bool
	// Err is the error returned for this fault. A generic "injected
	// fault" error is used when nil.
	Err error
}

var errInjectedFault = errors.New("blobstore: injected fault")

// FaultyStore wraps a Store and can be configured to fail specific blob
// operations by name pattern, for exercising a tablet writer's flush
// error handling without a real storage outage. Grounded on the
// teacher's internal/fs.FaultyFS, generalized from a FileSystem wrapper
// to this package's Store/WritableBlob interfaces.
type FaultyStore struct {
	Store Store

	mu      sync.Mutex
	rules   map[string]Fault
	Default Fault
}

// NewFaultyStore wraps store (or an empty MemoryStore if nil) with no
// fault rules configured; every call passes through until AddRule is
// called.
func NewFaultyStore(store Store) *FaultyStore {
	if store == nil {
		store = NewMemoryStore()
	}
	return &FaultyStore{
		Store:   store,
		rules:   make(map[string]Fault),
		Default: Fault{FailAfterBytes: -1},
	}
}

// AddRule installs a fault for every blob name containing pattern,
// overriding Default for matching names. The last call for a given
// pattern wins.
func (f *FaultyStore) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[pattern] = fault
}

func (f *FaultyStore) faultFor(name string) Fault {
	f.mu.Lock()
	defer f.mu.Unlock()
	fault := f.Default
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) {
			fault = rule
		}
	}
	if fault.Err == nil {
		fault.Err = errInjectedFault
	}
	return fault
}

func (f *FaultyStore) Open(ctx context.Context, name string) (Blob, error) {
	return f.Store.Open(ctx, name)
}

func (f *FaultyStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	fault := f.faultFor(name)
	if fault.FailOnCreate {
		return nil, fault.Err
	}
	blob, err := f.Store.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	return &faultyWritableBlob{WritableBlob: blob, fault: fault}, nil
}

func (f *FaultyStore) Put(ctx context.Context, name string, data []byte) error {
	fault := f.faultFor(name)
	if fault.FailOnCreate {
		return fault.Err
	}
	if fault.FailAfterBytes > 0 && int64(len(data)) > fault.FailAfterBytes {
		return fault.Err
	}
	return f.Store.Put(ctx, name, data)
}

func (f *FaultyStore) Delete(ctx context.Context, name string) error {
	return f.Store.Delete(ctx, name)
}

func (f *FaultyStore) List(ctx context.Context, prefix string) ([]string, error) {
	return f.Store.List(ctx, prefix)
}

type faultyWritableBlob struct {
	WritableBlob
	fault   Fault
	written int64
}

func (b *faultyWritableBlob) Write(p []byte) (int, error) {
	if b.fault.FailAfterBytes > 0 && b.written+int64(len(p)) > b.fault.FailAfterBytes {
		return 0, b.fault.Err
	}
	n, err := b.WritableBlob.Write(p)
	b.written += int64(n)
	return n, err
}

func (b *faultyWritableBlob) Sync() error {
	if b.fault.FailOnSync {
		return b.fault.Err
	}
	return b.WritableBlob.Sync()
}

func (b *faultyWritableBlob) Close() error {
	closeErr := b.WritableBlob.Close()
	if b.fault.FailOnClose {
		return b.fault.Err
	}
	return closeErr
}
