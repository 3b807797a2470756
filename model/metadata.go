package model

// TabletMetadataSnapshot is the minimal slice of a tablet's versioned
// metadata the auto-increment filler needs: enough to ask the update
// manager for existing primary-key-to-row mappings at a specific version.
// A real lakehouse tablet metadata record carries far more (rowset list,
// schema version, ...); this spec only consumes the version.
type TabletMetadataSnapshot struct {
	Version int64
}
