// Package tablet models the piece of the lakehouse metadata layer a delta
// writer talks to directly: the per-tablet schema cache, the in-writing
// byte accounting used for immutable-tablet admission, and the durable
// transaction-log sink a writer's Finish commits to.
//
// Handle and Manager are deliberately thin. A production tablet service
// would back Handle with real versioned metadata and put_txn_log with a
// real metadata-version chain (S3+DynamoDB, as blobstore/minio/s3
// implement for segment bytes); Handle keeps the same public surface so
// swapping one in is a wiring change, not a rewrite.
package tablet

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lakehouse-go/deltawriter/blobstore"
	"github.com/lakehouse-go/deltawriter/model"
	"github.com/lakehouse-go/deltawriter/schema"
)

// ErrSchemaNotFound is returned by GetSchemaByIndexID when no schema is
// registered for the requested index, and by GetSchema when the tablet
// itself has no schema at all. It is schema.ErrSchemaNotFound under the
// hood so a schema.Reconciler's not-found fallback recognizes it via
// errors.Is without this package importing the reconciler.
var ErrSchemaNotFound = schema.ErrSchemaNotFound

// CommitSink is the durable backing a tablet's PutTxnLog delegates to
// when one is configured, e.g. DDBCommitSink. A Handle with no commit
// sink keeps the in-memory log as its only durability (the default,
// test-friendly behavior).
type CommitSink interface {
	PutTxnLog(ctx context.Context, log model.TxnLog) error
}

// Handle is a process-local stand-in for a tablet's metadata and data.
type Handle struct {
	id model.TabletID

	mu       sync.RWMutex
	schema   *model.TabletSchema
	indexID  model.IndexID
	metadata *model.TabletMetadataSnapshot

	dataSize atomic.Int64

	store blobstore.Store

	logMu      sync.Mutex
	log        []model.TxnLog
	commitSink CommitSink
}

// NewHandle creates a tablet handle backed by store for segment and
// delete-file bytes. schema may be nil for a tablet not yet initialized.
func NewHandle(id model.TabletID, indexID model.IndexID, schema *model.TabletSchema, store blobstore.Store) *Handle {
	return &Handle{id: id, indexID: indexID, schema: schema, store: store}
}

// ID returns the tablet's id.
func (h *Handle) ID() model.TabletID { return h.id }

// Store returns the blob store backing this tablet's segment and
// delete-file bytes.
func (h *Handle) Store() blobstore.Store { return h.store }

// SetSchema installs (or replaces) the tablet's current schema, as would
// happen after a schema-change alter job completes.
func (h *Handle) SetSchema(indexID model.IndexID, schema *model.TabletSchema) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.indexID = indexID
	h.schema = schema
}

// GetSchemaByIndexID returns the tablet's schema if it matches indexID,
// mirroring TabletManager::get_tablet_schema_by_id's index-scoped lookup.
// Ambiguity between "this tablet doesn't have that index" and "this
// tablet has no schema at all" is collapsed into ErrSchemaNotFound, same
// as the not-found fallback in the original source's
// init_tablet_schema.
func (h *Handle) GetSchemaByIndexID(indexID model.IndexID) (*model.TabletSchema, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.schema == nil || h.indexID != indexID {
		return nil, ErrSchemaNotFound
	}
	return h.schema, nil
}

// GetSchema returns the tablet's current schema regardless of index,
// the fallback path init_tablet_schema takes when the index-scoped
// lookup fails.
func (h *Handle) GetSchema() (*model.TabletSchema, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.schema == nil {
		return nil, ErrSchemaNotFound
	}
	return h.schema, nil
}

// DataSize returns the tablet's current durable rowset size, used by
// immutable-tablet admission to decide whether cumulative size exceeds
// the configured threshold.
func (h *Handle) DataSize() int64 { return h.dataSize.Load() }

// SetDataSize sets the tablet's durable rowset size, as a test harness
// or a real metadata-version update would after a commit lands.
func (h *Handle) SetDataSize(n int64) { h.dataSize.Store(n) }

// SetMetadata installs the tablet's best-effort cached metadata snapshot,
// read by the auto-increment filler via LatestMetadata.
func (h *Handle) SetMetadata(snap *model.TabletMetadataSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metadata = snap
}

// LatestMetadata returns the tablet's best-effort cached metadata
// snapshot, modeling get_latest_cached_tablet_metadata. The auto-increment
// filler treats a false second return as "no cached metadata available"
// rather than as an error.
func (h *Handle) LatestMetadata() (*model.TabletMetadataSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.metadata == nil {
		return nil, false
	}
	return h.metadata, true
}

// SetCommitSink installs the durable sink PutTxnLog delegates to, e.g.
// a DDBCommitSink backed by DynamoDB conditional writes. A nil sink
// (the default) leaves PutTxnLog backed only by the in-memory log.
func (h *Handle) SetCommitSink(sink CommitSink) {
	h.logMu.Lock()
	defer h.logMu.Unlock()
	h.commitSink = sink
}

// PutTxnLog durably appends a transaction log entry. This is the writer's
// commit point: once PutTxnLog returns nil, the rowset it describes is
// considered part of the tablet. If a commit sink is configured, the log
// is committed there first — a commit sink failure (including
// ErrConcurrentCommit) fails the call before the in-memory log or data
// size is touched.
func (h *Handle) PutTxnLog(ctx context.Context, log model.TxnLog) error {
	h.logMu.Lock()
	defer h.logMu.Unlock()
	if h.commitSink != nil {
		if err := h.commitSink.PutTxnLog(ctx, log); err != nil {
			return err
		}
	}
	h.log = append(h.log, log)
	h.dataSize.Add(log.OpWrite.Rowset.DataSize)
	return nil
}

// TxnLogs returns a copy of every transaction log committed against this
// tablet, in commit order. Exposed for tests.
func (h *Handle) TxnLogs() []model.TxnLog {
	h.logMu.Lock()
	defer h.logMu.Unlock()
	out := make([]model.TxnLog, len(h.log))
	copy(out, h.log)
	return out
}
