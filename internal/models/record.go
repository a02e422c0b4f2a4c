package models

import "time"

// Record is the envelope every synced entity travels in. The mandatory
// sync metadata lives on the struct; business attributes live in Fields.
type Record struct {
	ID        UUID   `db:"id" json:"id"`
	UserID    string `db:"user_id" json:"userId"`
	CreatedAt int64  `db:"created_at" json:"createdAt"` // Unix milliseconds
	UpdatedAt int64  `db:"updated_at" json:"updatedAt"` // Unix milliseconds, strictly increasing per mutation
	Deleted   bool   `db:"deleted" json:"deleted"`      // tombstone until the remote delete is confirmed
	Local     bool   `db:"local" json:"local"`          // true until confirmed by the remote service
	Fields    Fields `db:"fields" json:"fields"`
}

// NewRecord constructs a locally-created record with a fresh id and
// matching created/updated timestamps.
func NewRecord(userID string, fields Fields, now int64) *Record {
	return &Record{
		ID:        NewUUID(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		Local:     true,
		Fields:    fields.Clone(),
	}
}

// Touch bumps UpdatedAt to now, or to the next millisecond when now does
// not strictly exceed the previous value. Two mutations inside the same
// millisecond still produce strictly increasing timestamps.
func (r *Record) Touch(now int64) {
	if now <= r.UpdatedAt {
		now = r.UpdatedAt + 1
	}
	r.UpdatedAt = now
}

// Clone returns a copy of the record with its own fields map.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Fields = r.Fields.Clone()
	return &out
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (r *Record) UpdatedAtTime() time.Time {
	return time.UnixMilli(r.UpdatedAt)
}

// CreatedAtTime returns CreatedAt as time.Time.
func (r *Record) CreatedAtTime() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// NowMilli is the timestamp source for record mutations.
func NowMilli() int64 {
	return time.Now().UnixMilli()
}
