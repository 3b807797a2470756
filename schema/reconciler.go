// Package schema implements tablet schema reconciliation: resolving a
// writer's requested column slots against the tablet's authoritative
// schema to produce a write schema, classifying the write as full or
// partial, and enforcing the sort-key/auto-increment/partial-update
// guards from §4.1.
package schema

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/lakehouse-go/deltawriter/model"
)

// Errors returned by Reconcile and CheckPartialUpdateWithSortKey.
var (
	ErrUnknownColumn             = errors.New("schema: unknown column name")
	ErrAutoIncrementInSortKey    = errors.New("schema: auto increment column in sort key do not support partial update")
	ErrSortKeyPartialUpdateWrite = errors.New("schema: table with sort key do not support partial update")
)

// SchemaSource is the tablet-side lookup Reconcile drives: index-scoped
// lookup first, tablet-wide fallback second, per §4.1 step 1.
type SchemaSource interface {
	GetSchemaByIndexID(indexID model.IndexID) (*model.TabletSchema, error)
	GetSchema() (*model.TabletSchema, error)
}

// ErrSchemaNotFound is the sentinel SchemaSource implementations return
// from GetSchemaByIndexID when no schema is registered for an index —
// Reconcile treats exactly this as "fall back to GetSchema", any other
// error is propagated verbatim.
var ErrSchemaNotFound = errors.New("schema: not found")

// Result is the outcome of reconciling a write against a tablet schema.
type Result struct {
	TabletSchema  *model.TabletSchema
	WriteSchema   *model.TabletSchema
	WriteColumnIDs []int // indices into TabletSchema; empty for a full write

	IsPartialUpdate          bool
	PartialSchemaWithSortKey bool
}

// Reconciler resolves write schemas against tablet schemas, collapsing
// concurrent lookups for the same (tabletID, indexID) pair via
// singleflight so that two writers racing to open against the same
// tablet issue one physical schema load, matching the "tablet_schema is
// loaded at most once per writer" invariant under concurrent first-write
// races across writers sharing a tablet manager (§2B).
type Reconciler struct {
	group singleflight.Group
}

// New creates an empty Reconciler.
func New() *Reconciler {
	return &Reconciler{}
}

// loadKey is unexported to keep singleflight's string-keyed API from
// leaking into callers.
func loadKey(tabletID model.TabletID, indexID model.IndexID) string {
	return fmt.Sprintf("%d/%d", tabletID, indexID)
}

// LoadTabletSchema implements §4.1 step 1: get_schema_by_index_id with a
// not-found fallback to get_schema, deduplicated across concurrent
// callers for the same (tabletID, indexID).
func (r *Reconciler) LoadTabletSchema(tabletID model.TabletID, indexID model.IndexID, source SchemaSource) (*model.TabletSchema, error) {
	v, err, _ := r.group.Do(loadKey(tabletID, indexID), func() (any, error) {
		s, err := source.GetSchemaByIndexID(indexID)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrSchemaNotFound) {
			return nil, err
		}
		return source.GetSchema()
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.TabletSchema), nil
}

// Reconcile implements §4.1 steps 2-6: given a loaded tablet schema and
// the caller's requested column slots (empty meaning "every column"),
// produce the write schema and partial-update classification.
//
// missAutoIncrementColumn mirrors the builder flag of the same name
// (§6); slotNames may include a trailing "__op" pseudo-column, which is
// excluded from the effective write-column count (§4.1 step 3).
func Reconcile(tabletSchema *model.TabletSchema, slotNames []string, missAutoIncrementColumn bool) (Result, error) {
	res := Result{TabletSchema: tabletSchema}

	if len(slotNames) == 0 {
		res.WriteSchema = tabletSchema
		return res, nil
	}

	hasOpColumn := slotNames[len(slotNames)-1] == model.OpColumnName
	effectiveCount := len(slotNames)
	if hasOpColumn {
		effectiveCount--
	}

	res.IsPartialUpdate = tabletSchema.KeysType == model.PrimaryKeys && effectiveCount < tabletSchema.NumColumns()

	if !res.IsPartialUpdate {
		res.WriteSchema = tabletSchema
		return res, nil
	}

	writeColumnIDs := make([]int, 0, effectiveCount)
	for i := 0; i < effectiveCount; i++ {
		idx := tabletSchema.FieldIndex(slotNames[i])
		if idx < 0 {
			return Result{}, fmt.Errorf("%w: %q", ErrUnknownColumn, slotNames[i])
		}
		writeColumnIDs = append(writeColumnIDs, idx)
	}

	// A caller signaling missAutoIncrementColumn by construction omitted
	// the auto increment column from its slots; the filler still needs
	// it present in the write schema to have somewhere to write the
	// ids it allocates, so it is appended here if not already selected.
	// This is what makes "record the auto increment column's position
	// within the write schema" (§4.7 step 7) meaningful.
	if missAutoIncrementColumn {
		for i, c := range tabletSchema.Columns {
			if c.IsAutoIncrement && !contains(writeColumnIDs, i) {
				writeColumnIDs = append(writeColumnIDs, i)
			}
		}
	}

	res.WriteColumnIDs = writeColumnIDs
	res.WriteSchema = tabletSchema.Project(writeColumnIDs)

	sortKeyIdx := tabletSchema.SortKeyIndexes()
	sorted := append([]int(nil), writeColumnIDs...)
	sort.Ints(sorted)
	if !model.IncludesAll(sorted, sortKeyIdx) {
		res.PartialSchemaWithSortKey = true
	}

	if missAutoIncrementColumn {
		for _, idx := range sortKeyIdx {
			if contains(writeColumnIDs, idx) && tabletSchema.Column(idx).IsAutoIncrement {
				return Result{}, ErrAutoIncrementInSortKey
			}
		}
	}

	return res, nil
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// CheckPartialUpdateWithSortKey implements the per-write guard of §4.1:
// when the reconciliation flagged PartialSchemaWithSortKey and the chunk
// carries a trailing "__op" column, any UPSERT row is rejected. Delete-
// only partial writes to sort-keyed tables are permitted.
func CheckPartialUpdateWithSortKey(result Result, chunk *model.Chunk) error {
	if !result.PartialSchemaWithSortKey {
		return nil
	}
	ops, ok := chunk.OpColumn()
	if !ok {
		return nil
	}
	for _, op := range ops {
		if op == model.OpUpsert {
			return ErrSortKeyPartialUpdateWrite
		}
	}
	return nil
}
