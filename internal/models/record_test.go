package models

import "testing"

// TestNewRecord verifies a fresh record's metadata.
func TestNewRecord(t *testing.T) {
	rec := NewRecord("user-1", Fields{"name": "groceries"}, 1000)

	if !rec.ID.Valid() {
		t.Errorf("NewRecord() produced invalid id %q", rec.ID)
	}
	if rec.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", rec.UserID)
	}
	if rec.CreatedAt != 1000 || rec.UpdatedAt != 1000 {
		t.Errorf("timestamps = (%d, %d), want (1000, 1000)", rec.CreatedAt, rec.UpdatedAt)
	}
	if !rec.Local {
		t.Error("new record should be marked local until confirmed")
	}
	if rec.Deleted {
		t.Error("new record should not be tombstoned")
	}
}

// TestNewRecord_copiesFields verifies the record does not alias the
// caller's map.
func TestNewRecord_copiesFields(t *testing.T) {
	fields := Fields{"name": "rent"}
	rec := NewRecord("user-1", fields, 1000)

	fields["name"] = "mutated"
	if got, _ := rec.Fields.GetString("name"); got != "rent" {
		t.Errorf("record fields aliased caller map, name = %q", got)
	}
}

// TestTouch verifies strictly increasing UpdatedAt.
func TestTouch(t *testing.T) {
	rec := NewRecord("user-1", nil, 1000)

	rec.Touch(2000)
	if rec.UpdatedAt != 2000 {
		t.Errorf("UpdatedAt = %d, want 2000", rec.UpdatedAt)
	}

	// Same millisecond: must still advance.
	rec.Touch(2000)
	if rec.UpdatedAt != 2001 {
		t.Errorf("UpdatedAt = %d, want 2001", rec.UpdatedAt)
	}

	// Clock going backwards: must still advance.
	rec.Touch(1500)
	if rec.UpdatedAt != 2002 {
		t.Errorf("UpdatedAt = %d, want 2002", rec.UpdatedAt)
	}
}

// TestClone verifies deep-enough copies and nil safety.
func TestClone(t *testing.T) {
	rec := NewRecord("user-1", Fields{"amount": 50.0}, 1000)

	clone := rec.Clone()
	clone.Fields["amount"] = 75.0
	clone.UpdatedAt = 9999

	if rec.Fields["amount"] != 50.0 {
		t.Errorf("clone aliased fields map, amount = %v", rec.Fields["amount"])
	}
	if rec.UpdatedAt != 1000 {
		t.Errorf("clone aliased struct, UpdatedAt = %d", rec.UpdatedAt)
	}

	var nilRec *Record
	if nilRec.Clone() != nil {
		t.Error("Clone of nil record should be nil")
	}
}

// TestFieldsMerge verifies shallow merge semantics.
func TestFieldsMerge(t *testing.T) {
	base := Fields{"name": "groceries", "amount": 50.0}
	merged := base.Merge(Fields{"amount": 75.0, "category": "food"})

	if merged["name"] != "groceries" {
		t.Errorf("merge dropped untouched key, name = %v", merged["name"])
	}
	if merged["amount"] != 75.0 {
		t.Errorf("merge did not overlay, amount = %v", merged["amount"])
	}
	if merged["category"] != "food" {
		t.Errorf("merge did not add new key, category = %v", merged["category"])
	}
	if base["amount"] != 50.0 || len(base) != 2 {
		t.Error("merge mutated the base map")
	}

	var nilFields Fields
	merged = nilFields.Merge(Fields{"a": 1})
	if merged["a"] != 1 {
		t.Error("merge onto nil fields should produce the partial")
	}
}

// TestQueueItemExhausted verifies the retry cap.
func TestQueueItemExhausted(t *testing.T) {
	item := &QueueItem{RetryCount: MaxRetries - 1}
	if item.Exhausted() {
		t.Error("item below cap reported exhausted")
	}
	item.RetryCount = MaxRetries
	if !item.Exhausted() {
		t.Error("item at cap not reported exhausted")
	}
}

// TestConflictOneSided verifies one-sided detection.
func TestConflictOneSided(t *testing.T) {
	rec := NewRecord("user-1", nil, 1000)

	both := &Conflict{ServerVersion: rec, ClientVersion: rec}
	if both.OneSided() {
		t.Error("conflict with both versions reported one-sided")
	}

	serverOnly := &Conflict{ServerVersion: rec}
	if !serverOnly.OneSided() {
		t.Error("server-only conflict not reported one-sided")
	}

	clientOnly := &Conflict{ClientVersion: rec}
	if !clientOnly.OneSided() {
		t.Error("client-only conflict not reported one-sided")
	}
}
