package models

// ConflictType classifies a detected divergence.
type ConflictType string

const (
	ConflictInsert ConflictType = "insert" // id present on one side only
	ConflictUpdate ConflictType = "update" // both sides diverged
	ConflictDelete ConflictType = "delete" // one side tombstoned or deleted
)

// Resolution records which side a resolved conflict adopted.
type Resolution string

const (
	ResolutionServer Resolution = "server"
	ResolutionClient Resolution = "client"
	ResolutionMerge  Resolution = "merge"
)

// Conflict is a divergence between the local and remote version of one
// record. Until resolved it retains both original versions untouched;
// resolution produces a new reconciled record and never mutates either
// version, only tags the conflict with the chosen resolution for audit.
type Conflict struct {
	ID            UUID         `db:"id" json:"id"`
	Table         string       `db:"tbl" json:"table"`
	RecordID      UUID         `db:"record_id" json:"recordId"`
	ServerVersion *Record      `db:"server_version" json:"serverVersion,omitempty"`
	ClientVersion *Record      `db:"client_version" json:"clientVersion,omitempty"`
	Type          ConflictType `db:"conflict_type" json:"conflictType"`
	Resolved      bool         `db:"resolved" json:"resolved"`
	Resolution    Resolution   `db:"resolution" json:"resolution,omitempty"`
	MergedFields  Fields       `db:"merged_fields" json:"mergedData,omitempty"`
	DetectedAt    int64        `db:"detected_at" json:"detectedAt"`
	ResolvedAt    int64        `db:"resolved_at" json:"resolvedAt,omitempty"`
}

// OneSided reports whether only one version exists. One-sided conflicts
// bypass strategy selection and adopt whichever version is present.
func (c *Conflict) OneSided() bool {
	return c.ServerVersion == nil || c.ClientVersion == nil
}

// Clone returns a deep copy. Nil-safe.
func (c *Conflict) Clone() *Conflict {
	if c == nil {
		return nil
	}
	out := *c
	out.ServerVersion = c.ServerVersion.Clone()
	out.ClientVersion = c.ClientVersion.Clone()
	out.MergedFields = c.MergedFields.Clone()
	return &out
}
