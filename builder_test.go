package deltawriter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakehouse-go/deltawriter/blobstore"
	"github.com/lakehouse-go/deltawriter/memtracker"
	"github.com/lakehouse-go/deltawriter/model"
	"github.com/lakehouse-go/deltawriter/tablet"
)

func dupKeysSchema() *model.TabletSchema {
	return &model.TabletSchema{
		KeysType: model.DupKeys,
		Columns: []model.Column{
			{UniqueID: 1, Name: "id", Type: model.ColumnTypeInt64, IsKey: true},
			{UniqueID: 2, Name: "v", Type: model.ColumnTypeString},
		},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine()
	t.Cleanup(e.Close)
	return e
}

func newRegisteredManager(t *testing.T, tabletID model.TabletID, s *model.TabletSchema) *tablet.Manager {
	t.Helper()
	mgr := tablet.NewManager()
	mgr.RegisterTablet(tablet.NewHandle(tabletID, 10, s, blobstore.NewMemoryStore()))
	return mgr
}

func TestBuildRejectsMissingTabletManager(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.NewDeltaWriterBuilder(nil).
		TabletID(1).TxnID(1).IndexID(1).
		MemTracker(memtracker.New("t", 0, nil)).
		Build()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBuildRejectsMissingTabletID(t *testing.T) {
	e := newTestEngine(t)
	mgr := newRegisteredManager(t, 1, dupKeysSchema())
	_, err := e.NewDeltaWriterBuilder(mgr).
		TxnID(1).IndexID(1).
		MemTracker(memtracker.New("t", 0, nil)).
		Build()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBuildRejectsMissingTxnID(t *testing.T) {
	e := newTestEngine(t)
	mgr := newRegisteredManager(t, 1, dupKeysSchema())
	_, err := e.NewDeltaWriterBuilder(mgr).
		TabletID(1).IndexID(1).
		MemTracker(memtracker.New("t", 0, nil)).
		Build()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBuildRejectsMissingIndexID(t *testing.T) {
	e := newTestEngine(t)
	mgr := newRegisteredManager(t, 1, dupKeysSchema())
	_, err := e.NewDeltaWriterBuilder(mgr).
		TabletID(1).TxnID(1).
		MemTracker(memtracker.New("t", 0, nil)).
		Build()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBuildRejectsMissingMemTracker(t *testing.T) {
	e := newTestEngine(t)
	mgr := newRegisteredManager(t, 1, dupKeysSchema())
	_, err := e.NewDeltaWriterBuilder(mgr).
		TabletID(1).TxnID(1).IndexID(1).
		Build()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBuildRequiresTableIDWhenMissAutoIncrementColumn(t *testing.T) {
	e := newTestEngine(t)
	mgr := newRegisteredManager(t, 1, dupKeysSchema())
	_, err := e.NewDeltaWriterBuilder(mgr).
		TabletID(1).TxnID(1).IndexID(1).
		MemTracker(memtracker.New("t", 0, nil)).
		MissAutoIncrementColumn(true).
		Build()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBuildRejectsNegativeImmutableTabletSize(t *testing.T) {
	e := newTestEngine(t)
	mgr := newRegisteredManager(t, 1, dupKeysSchema())
	_, err := e.NewDeltaWriterBuilder(mgr).
		TabletID(1).TxnID(1).IndexID(1).
		MemTracker(memtracker.New("t", 0, nil)).
		ImmutableTabletSize(-1).
		Build()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBuildRejectsNegativeMaxBufferSize(t *testing.T) {
	e := newTestEngine(t)
	mgr := newRegisteredManager(t, 1, dupKeysSchema())
	_, err := e.NewDeltaWriterBuilder(mgr).
		TabletID(1).TxnID(1).IndexID(1).
		MemTracker(memtracker.New("t", 0, nil)).
		MaxBufferSize(-1).
		Build()
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBuildSucceedsWithRequiredFieldsOnly(t *testing.T) {
	e := newTestEngine(t)
	mgr := newRegisteredManager(t, 1, dupKeysSchema())
	w, err := e.NewDeltaWriterBuilder(mgr).
		TabletID(1).TxnID(1).IndexID(1).
		MemTracker(memtracker.New("t", 0, nil)).
		Build()
	require.NoError(t, err)
	assert.Equal(t, model.TabletID(1), w.TabletID())
	assert.Equal(t, model.TxnID(1), w.TxnID())
}

func TestBuildAppliesEngineDefaultsWhenUnset(t *testing.T) {
	e := NewEngine(WithDefaultMaxBufferSize(12345), WithDefaultImmutableTabletSize(999))
	t.Cleanup(e.Close)
	mgr := newRegisteredManager(t, 1, dupKeysSchema())

	w, err := e.NewDeltaWriterBuilder(mgr).
		TabletID(1).TxnID(1).IndexID(1).
		MemTracker(memtracker.New("t", 0, nil)).
		Build()
	require.NoError(t, err)
	require.NotNil(t, w)
}

func TestBuilderIsImmutableAcrossCalls(t *testing.T) {
	e := newTestEngine(t)
	mgr := newRegisteredManager(t, 1, dupKeysSchema())
	base := e.NewDeltaWriterBuilder(mgr).TabletID(1).TxnID(1).IndexID(1)

	withTracker := base.MemTracker(memtracker.New("a", 0, nil))
	_, err := base.Build()
	assert.ErrorIs(t, err, ErrInvalidArgument, "base builder must remain unmodified by withTracker's chain")

	_, err = withTracker.Build()
	assert.NoError(t, err)
}
