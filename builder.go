package deltawriter

import (
	"fmt"

	"github.com/lakehouse-go/deltawriter/autoincrement"
	"github.com/lakehouse-go/deltawriter/core"
	"github.com/lakehouse-go/deltawriter/memtracker"
	"github.com/lakehouse-go/deltawriter/model"
	"github.com/lakehouse-go/deltawriter/tablet"
	"github.com/lakehouse-go/deltawriter/tabletwriter"
)

// DeltaWriterBuilder builds one DeltaWriter against an Engine, per §6's
// programmatic surface. Required fields (tablet manager, tablet id,
// txn id, index id, mem tracker) must be set before Build is called;
// everything else defaults to the Engine's Config.
//
// Mirrors the teacher's immutable fluent builders (HNSWBuilder et al.):
// each With* method returns a new builder value rather than mutating
// in place, so a partially-configured builder can be shared or reused
// safely across goroutines.
type DeltaWriterBuilder struct {
	engine *Engine

	tabletMgr               *tablet.Manager
	tabletID                model.TabletID
	txnID                   model.TxnID
	partitionID             model.PartitionID
	tableID                 model.TableID
	indexID                 model.IndexID
	memTracker              *memtracker.Tracker
	slots                   []string
	mergeCondition          string
	missAutoIncrementColumn bool
	immutableTabletSize     int64
	maxBufferSize           int64
	codec                   *tabletwriter.Codec

	allocator   autoincrement.Allocator
	updateProbe autoincrement.UpdateStateProbe
	preloader   core.Preloader
	logger      *Logger
	metrics     MetricsObserver
}

// NewDeltaWriterBuilder creates a builder bound to e's shared flush
// pool, schema reconciler, and engine-wide defaults, against the given
// tablet manager (required, §6).
func (e *Engine) NewDeltaWriterBuilder(tabletMgr *tablet.Manager) DeltaWriterBuilder {
	return DeltaWriterBuilder{engine: e, tabletMgr: tabletMgr}
}

func (b DeltaWriterBuilder) TabletID(id model.TabletID) DeltaWriterBuilder {
	b.tabletID = id
	return b
}

func (b DeltaWriterBuilder) TxnID(id model.TxnID) DeltaWriterBuilder {
	b.txnID = id
	return b
}

func (b DeltaWriterBuilder) PartitionID(id model.PartitionID) DeltaWriterBuilder {
	b.partitionID = id
	return b
}

func (b DeltaWriterBuilder) TableID(id model.TableID) DeltaWriterBuilder {
	b.tableID = id
	return b
}

func (b DeltaWriterBuilder) IndexID(id model.IndexID) DeltaWriterBuilder {
	b.indexID = id
	return b
}

// MemTracker supplies the writer's own memory tracker (required).
func (b DeltaWriterBuilder) MemTracker(t *memtracker.Tracker) DeltaWriterBuilder {
	b.memTracker = t
	return b
}

// Slots sets the requested write-column names, optionally ending in
// the synthetic "__op" pseudo-column. Omit for a full write.
func (b DeltaWriterBuilder) Slots(slots []string) DeltaWriterBuilder {
	b.slots = slots
	return b
}

func (b DeltaWriterBuilder) MergeCondition(cond string) DeltaWriterBuilder {
	b.mergeCondition = cond
	return b
}

// MissAutoIncrementColumn signals that Slots by construction omitted
// the tablet's auto-increment column and the filler (§4.6) should
// allocate and fill ids for rows new to the primary-key index. TableID
// is required whenever this is true (§6).
func (b DeltaWriterBuilder) MissAutoIncrementColumn(miss bool) DeltaWriterBuilder {
	b.missAutoIncrementColumn = miss
	return b
}

// ImmutableTabletSize enables immutable-tablet admission tracking
// (§4.5) at the given cumulative byte threshold. Zero means "use the
// engine default" (Config.DefaultImmutableTabletSize); tracking is
// disabled only when that default is zero too.
func (b DeltaWriterBuilder) ImmutableTabletSize(bytes int64) DeltaWriterBuilder {
	b.immutableTabletSize = bytes
	return b
}

// MaxBufferSize overrides the engine-wide default memtable buffer
// size. Zero means "use the engine default" (§6).
func (b DeltaWriterBuilder) MaxBufferSize(bytes int64) DeltaWriterBuilder {
	b.maxBufferSize = bytes
	return b
}

// Codec overrides the engine-wide default segment compression codec.
func (b DeltaWriterBuilder) Codec(codec tabletwriter.Codec) DeltaWriterBuilder {
	b.codec = &codec
	return b
}

// Allocator supplies the cluster-global id allocator the auto-increment
// filler uses (§4.6). Required whenever MissAutoIncrementColumn(true)
// is set and the tablet turns out to be primary-keyed.
func (b DeltaWriterBuilder) Allocator(a autoincrement.Allocator) DeltaWriterBuilder {
	b.allocator = a
	return b
}

// UpdateProbe supplies the update-manager probe used to skip
// allocation for rows already present in the primary-key index (§4.6
// step 2). Optional; a nil probe makes every row look new.
func (b DeltaWriterBuilder) UpdateProbe(p autoincrement.UpdateStateProbe) DeltaWriterBuilder {
	b.updateProbe = p
	return b
}

// Preloader supplies the best-effort update-state warm-up hook invoked
// after Finish builds its txn log (§4.7 step 8). Optional.
func (b DeltaWriterBuilder) Preloader(p core.Preloader) DeltaWriterBuilder {
	b.preloader = p
	return b
}

// Logger overrides the engine-wide logger for this writer only.
func (b DeltaWriterBuilder) Logger(l *Logger) DeltaWriterBuilder {
	b.logger = l
	return b
}

// Metrics overrides the engine-wide metrics observer for this writer
// only.
func (b DeltaWriterBuilder) Metrics(m MetricsObserver) DeltaWriterBuilder {
	b.metrics = m
	return b
}

// Build validates the builder's required fields (§6) and constructs a
// DeltaWriter in state New. Missing required fields surface as
// ErrInvalidArgument.
func (b DeltaWriterBuilder) Build() (*DeltaWriter, error) {
	if b.engine == nil || b.tabletMgr == nil {
		return nil, fmt.Errorf("%w: tablet manager is required", ErrInvalidArgument)
	}
	if b.tabletID == 0 {
		return nil, fmt.Errorf("%w: tablet id is required", ErrInvalidArgument)
	}
	if b.txnID == 0 {
		return nil, fmt.Errorf("%w: txn id is required", ErrInvalidArgument)
	}
	if b.indexID == 0 {
		return nil, fmt.Errorf("%w: index id is required", ErrInvalidArgument)
	}
	if b.memTracker == nil {
		return nil, fmt.Errorf("%w: mem tracker is required", ErrInvalidArgument)
	}
	if b.missAutoIncrementColumn && b.tableID == 0 {
		return nil, fmt.Errorf("%w: table id is required when miss_auto_increment_column is set", ErrInvalidArgument)
	}
	if b.immutableTabletSize < 0 {
		return nil, fmt.Errorf("%w: immutable tablet size must be non-negative", ErrInvalidArgument)
	}
	if b.maxBufferSize < 0 {
		return nil, fmt.Errorf("%w: max buffer size must be non-negative", ErrInvalidArgument)
	}

	cfg := b.engine.cfg

	logger := cfg.logger
	if b.logger != nil {
		logger = b.logger
	}
	metrics := cfg.metrics
	if b.metrics != nil {
		metrics = b.metrics
	}
	codec := cfg.DefaultCodec
	if b.codec != nil {
		codec = *b.codec
	}
	maxBufferSize := b.maxBufferSize
	if maxBufferSize == 0 {
		maxBufferSize = cfg.DefaultMaxBufferSize
	}
	immutableTabletSize := b.immutableTabletSize
	if immutableTabletSize == 0 {
		immutableTabletSize = cfg.DefaultImmutableTabletSize
	}

	params := core.Params{
		TabletManager:           b.tabletMgr,
		TabletID:                b.tabletID,
		TxnID:                   b.txnID,
		PartitionID:             b.partitionID,
		TableID:                 b.tableID,
		IndexID:                 b.indexID,
		MemTracker:              b.memTracker,
		Slots:                   b.slots,
		MergeCondition:          b.mergeCondition,
		MissAutoIncrementColumn: b.missAutoIncrementColumn,
		ImmutableTabletSize:     immutableTabletSize,
		MaxBufferSize:           maxBufferSize,
		Codec:                   codec,
		Pool:                    b.engine.pool,
		Reconciler:              b.engine.reconciler,
		Allocator:               b.allocator,
		UpdateProbe:             b.updateProbe,
		Preloader:               b.preloader,
		Logger:                  logger,
	}

	return &DeltaWriter{core: core.New(params), logger: logger, metrics: metrics}, nil
}
