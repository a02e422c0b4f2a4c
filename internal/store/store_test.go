package store

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jtarver/budgeteer/internal/db"
	"github.com/jtarver/budgeteer/internal/errors"
	"github.com/jtarver/budgeteer/internal/models"
	"github.com/jtarver/budgeteer/internal/registry"
	"github.com/jtarver/budgeteer/internal/sync/queue"
)

// fakeRemote simulates the remote service: an in-memory record set, an
// offline switch and a validation switch.
type fakeRemote struct {
	offline    bool
	rejectNext bool
	records    map[string]map[string]*models.Record // table -> id
	serverTime int64
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		records:    make(map[string]map[string]*models.Record),
		serverTime: 10_000,
	}
}

func (f *fakeRemote) fail() error {
	if f.rejectNext {
		f.rejectNext = false
		return errors.New(errors.ErrValidation, "remote rejected payload")
	}
	if f.offline {
		return errors.New(errors.ErrTransient, "remote unreachable")
	}
	return nil
}

func (f *fakeRemote) put(table string, rec *models.Record) *models.Record {
	if f.records[table] == nil {
		f.records[table] = make(map[string]*models.Record)
	}
	f.serverTime++
	stored := rec.Clone()
	stored.Local = false
	stored.UpdatedAt = f.serverTime
	f.records[table][rec.ID.String()] = stored
	return stored.Clone()
}

func (f *fakeRemote) Insert(_ context.Context, table string, rec *models.Record) (*models.Record, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.put(table, rec), nil
}

func (f *fakeRemote) Update(_ context.Context, table, id string, partial models.Fields) (*models.Record, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	existing, ok := f.records[table][id]
	if !ok {
		return nil, errors.Newf(errors.ErrNotFound, "record %s not found", id)
	}
	updated := existing.Clone()
	updated.Fields = existing.Fields.Merge(partial)
	return f.put(table, updated), nil
}

func (f *fakeRemote) Delete(_ context.Context, table, id string) error {
	if err := f.fail(); err != nil {
		return err
	}
	if _, ok := f.records[table][id]; !ok {
		return errors.Newf(errors.ErrNotFound, "record %s not found", id)
	}
	delete(f.records[table], id)
	return nil
}

func setupStore(t *testing.T) (*Store, *fakeRemote, db.Backend) {
	t.Helper()

	backend, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() failed: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	if err := backend.Migrate([]string{"transactions"}); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}

	reg := registry.New()
	if err := reg.Register("transactions", registry.Policy{Strategy: registry.StrategyServer}); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}

	remote := newFakeRemote()
	q := queue.New(backend, zerolog.Nop())
	s := New(backend, remote, q, reg, zerolog.Nop())
	return s, remote, backend
}

func queueDepth(t *testing.T, backend db.Backend) int {
	t.Helper()
	n, err := backend.CountQueueItems(context.Background())
	if err != nil {
		t.Fatalf("CountQueueItems() failed: %v", err)
	}
	return n
}

// TestCreate_online verifies the server echo is what gets persisted.
func TestCreate_online(t *testing.T) {
	s, remote, backend := setupStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, "transactions", "user-1", models.Fields{"name": "rent", "amount": 1200.0})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if rec.Local {
		t.Error("confirmed record still marked local")
	}
	if remote.records["transactions"][rec.ID.String()] == nil {
		t.Error("record missing remotely")
	}
	if queueDepth(t, backend) != 0 {
		t.Error("online create should not queue")
	}

	stored, err := backend.GetRecord(ctx, "transactions", rec.ID.String())
	if err != nil {
		t.Fatalf("GetRecord() failed: %v", err)
	}
	if stored.Local || stored.UpdatedAt != rec.UpdatedAt {
		t.Errorf("persisted copy diverges from echo: %+v", stored)
	}
}

// TestCreate_offline verifies local persistence plus a queued create.
func TestCreate_offline(t *testing.T) {
	s, remote, backend := setupStore(t)
	remote.offline = true
	ctx := context.Background()

	rec, err := s.Create(ctx, "transactions", "user-1", models.Fields{"name": "rent"})
	if err != nil {
		t.Fatalf("Create() offline failed: %v", err)
	}
	if !rec.Local {
		t.Error("unconfirmed record not marked local")
	}
	if queueDepth(t, backend) != 1 {
		t.Errorf("queue depth = %d, want 1", queueDepth(t, backend))
	}

	items, _ := backend.ListQueueItems(ctx)
	if items[0].Action != models.ActionCreate || items[0].Payload.ID != rec.ID {
		t.Errorf("queued item = %+v", items[0])
	}
}

// TestCreate_validationRejected verifies nothing is persisted or queued.
func TestCreate_validationRejected(t *testing.T) {
	s, remote, backend := setupStore(t)
	remote.rejectNext = true
	ctx := context.Background()

	_, err := s.Create(ctx, "transactions", "user-1", models.Fields{"amount": -5})
	if !errors.Is(err, errors.ErrValidation) {
		t.Fatalf("err = %v, want VALIDATION_REJECTED", err)
	}
	if queueDepth(t, backend) != 0 {
		t.Error("rejected create must not queue")
	}
	all, _ := s.GetAll(ctx, "transactions", "user-1")
	if len(all) != 0 {
		t.Error("rejected create must not persist")
	}
}

// TestUpdate_monotonicTimestamps verifies UpdatedAt strictly increases
// even with a frozen clock.
func TestUpdate_monotonicTimestamps(t *testing.T) {
	s, remote, _ := setupStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, "transactions", "user-1", models.Fields{"amount": 50.0})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	// Offline with a frozen clock: every mutation must still advance.
	remote.offline = true
	s.SetClock(func() int64 { return 1000 })

	prev := rec.UpdatedAt
	for i := 0; i < 3; i++ {
		updated, err := s.Update(ctx, "transactions", rec.ID.String(), models.Fields{"amount": float64(60 + i)})
		if err != nil {
			t.Fatalf("Update() %d failed: %v", i, err)
		}
		if updated.UpdatedAt <= prev {
			t.Errorf("UpdatedAt %d -> %d not strictly increasing", prev, updated.UpdatedAt)
		}
		prev = updated.UpdatedAt
	}
}

// TestUpdate_offline verifies the queued payload carries only the partial.
func TestUpdate_offline(t *testing.T) {
	s, remote, backend := setupStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, "transactions", "user-1", models.Fields{"name": "rent", "amount": 1200.0})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	remote.offline = true
	updated, err := s.Update(ctx, "transactions", rec.ID.String(), models.Fields{"amount": 1250.0})
	if err != nil {
		t.Fatalf("Update() offline failed: %v", err)
	}
	if !updated.Local {
		t.Error("unconfirmed update not marked local")
	}
	if updated.Fields["name"] != "rent" || updated.Fields["amount"] != 1250.0 {
		t.Errorf("merge result = %v", updated.Fields)
	}

	items, _ := backend.ListQueueItems(ctx)
	if len(items) != 1 || items[0].Action != models.ActionUpdate {
		t.Fatalf("queue = %+v", items)
	}
	payload := items[0].Payload
	if _, ok := payload.Fields["name"]; ok {
		t.Error("queued payload should carry only the partial fields")
	}
	if payload.Fields["amount"] != 1250.0 {
		t.Errorf("queued partial = %v", payload.Fields)
	}
}

// TestUpdate_missing verifies NotFound for absent and tombstoned records.
func TestUpdate_missing(t *testing.T) {
	s, remote, _ := setupStore(t)
	ctx := context.Background()

	if _, err := s.Update(ctx, "transactions", models.NewUUID().String(), models.Fields{"a": 1}); !errors.IsNotFound(err) {
		t.Errorf("absent: err = %v, want NOT_FOUND", err)
	}

	rec, err := s.Create(ctx, "transactions", "user-1", models.Fields{"name": "rent"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	remote.offline = true
	if err := s.Delete(ctx, "transactions", rec.ID.String()); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := s.Update(ctx, "transactions", rec.ID.String(), models.Fields{"a": 1}); !errors.IsNotFound(err) {
		t.Errorf("tombstoned: err = %v, want NOT_FOUND", err)
	}
}

// TestDelete_online verifies remote confirmation purges immediately.
func TestDelete_online(t *testing.T) {
	s, remote, backend := setupStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, "transactions", "user-1", models.Fields{"name": "rent"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := s.Delete(ctx, "transactions", rec.ID.String()); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, ok := remote.records["transactions"][rec.ID.String()]; ok {
		t.Error("record still present remotely")
	}
	if _, err := backend.GetRecord(ctx, "transactions", rec.ID.String()); !errors.IsNotFound(err) {
		t.Error("confirmed delete should purge, not tombstone")
	}
	if queueDepth(t, backend) != 0 {
		t.Error("online delete should not queue")
	}
}

// TestDelete_offline verifies the tombstone hides the record but keeps it
// in storage until the queued delete confirms.
func TestDelete_offline(t *testing.T) {
	s, remote, backend := setupStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, "transactions", "user-1", models.Fields{"name": "rent"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	remote.offline = true
	if err := s.Delete(ctx, "transactions", rec.ID.String()); err != nil {
		t.Fatalf("Delete() offline failed: %v", err)
	}

	// Hidden from reads.
	all, _ := s.GetAll(ctx, "transactions", "user-1")
	if len(all) != 0 {
		t.Error("tombstoned record visible in GetAll")
	}
	if _, err := s.GetByID(ctx, "transactions", rec.ID.String()); !errors.IsNotFound(err) {
		t.Errorf("GetByID on tombstone = %v, want NOT_FOUND", err)
	}

	// But still in storage, tombstoned, awaiting confirmation.
	stored, err := backend.GetRecord(ctx, "transactions", rec.ID.String())
	if err != nil {
		t.Fatalf("GetRecord() failed: %v", err)
	}
	if !stored.Deleted || !stored.Local {
		t.Errorf("tombstone state = %+v", stored)
	}
	if queueDepth(t, backend) != 1 {
		t.Errorf("queue depth = %d, want 1", queueDepth(t, backend))
	}
}

// TestDelete_remoteAlreadyGone verifies a remote 404 confirms deletion.
func TestDelete_remoteAlreadyGone(t *testing.T) {
	s, remote, backend := setupStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, "transactions", "user-1", models.Fields{"name": "rent"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	delete(remote.records["transactions"], rec.ID.String())

	if err := s.Delete(ctx, "transactions", rec.ID.String()); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := backend.GetRecord(ctx, "transactions", rec.ID.String()); !errors.IsNotFound(err) {
		t.Error("absence remotely should purge locally")
	}
	if queueDepth(t, backend) != 0 {
		t.Error("confirmed-by-absence delete should not queue")
	}
}

// TestConfirm verifies the echo flips the local flag and clamps clocks.
func TestConfirm(t *testing.T) {
	s, remote, backend := setupStore(t)
	ctx := context.Background()

	remote.offline = true
	rec, err := s.Create(ctx, "transactions", "user-1", models.Fields{"name": "rent"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	// Server echo with a trailing clock.
	echo := rec.Clone()
	echo.UpdatedAt = rec.UpdatedAt - 100
	if err := s.Confirm(ctx, "transactions", echo); err != nil {
		t.Fatalf("Confirm() failed: %v", err)
	}

	stored, _ := backend.GetRecord(ctx, "transactions", rec.ID.String())
	if stored.Local {
		t.Error("confirmed record still marked local")
	}
	if stored.UpdatedAt <= rec.UpdatedAt-1 {
		t.Errorf("UpdatedAt regressed to %d from %d", stored.UpdatedAt, rec.UpdatedAt)
	}
}

// TestImportRemote verifies downloads bypass remote calls and queueing.
func TestImportRemote(t *testing.T) {
	s, _, backend := setupStore(t)
	ctx := context.Background()

	rec := models.NewRecord("user-1", models.Fields{"name": "salary"}, 1000)
	rec.Local = true // remote copies always import as confirmed
	if err := s.ImportRemote(ctx, "transactions", rec); err != nil {
		t.Fatalf("ImportRemote() failed: %v", err)
	}
	stored, _ := backend.GetRecord(ctx, "transactions", rec.ID.String())
	if stored.Local {
		t.Error("imported record marked local")
	}
	if queueDepth(t, backend) != 0 {
		t.Error("import must not queue")
	}

	// A remotely deleted record disappears locally.
	rec.Deleted = true
	if err := s.ImportRemote(ctx, "transactions", rec); err != nil {
		t.Fatalf("ImportRemote() delete failed: %v", err)
	}
	if _, err := backend.GetRecord(ctx, "transactions", rec.ID.String()); !errors.IsNotFound(err) {
		t.Error("imported remote delete should purge")
	}
}

// TestUnknownTable verifies registry enforcement on every operation.
func TestUnknownTable(t *testing.T) {
	s, _, _ := setupStore(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, "widgets", "user-1", nil); !errors.Is(err, errors.ErrUnknownTable) {
		t.Errorf("Create: err = %v, want UNKNOWN_TABLE", err)
	}
	if _, err := s.GetAll(ctx, "widgets", "user-1"); !errors.Is(err, errors.ErrUnknownTable) {
		t.Errorf("GetAll: err = %v, want UNKNOWN_TABLE", err)
	}
	if err := s.Delete(ctx, "widgets", "x"); !errors.Is(err, errors.ErrUnknownTable) {
		t.Errorf("Delete: err = %v, want UNKNOWN_TABLE", err)
	}
}
