package db

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jtarver/budgeteer/internal/errors"
	"github.com/jtarver/budgeteer/internal/models"
)

// FileStore is the fallback backend used when SQLite cannot be opened: a
// flat JSON key-value file with the same semantics as the primary engine,
// only without secondary indices (reads are linear scans). It satisfies the
// full Backend interface so the rest of the core does not know which engine
// it is running on.
type FileStore struct {
	mu   sync.Mutex
	path string
	data *fileData
}

type fileData struct {
	Records   map[string]map[string]*models.Record `json:"records"` // table -> id -> record
	Queue     []*models.QueueItem                  `json:"queue"`
	NextSeq   int64                                `json:"nextSeq"`
	Conflicts map[string]*models.Conflict          `json:"conflicts"`
	State     map[string]map[string]int64          `json:"state"` // userID -> table -> last sync
}

func newFileData() *fileData {
	return &fileData{
		Records:   make(map[string]map[string]*models.Record),
		NextSeq:   1,
		Conflicts: make(map[string]*models.Conflict),
		State:     make(map[string]map[string]int64),
	}
}

// OpenFileStore loads (or creates) the flat store under dataDir.
func OpenFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "create data directory", err)
	}

	fs := &FileStore{
		path: filepath.Join(dataDir, "budgeteer.json"),
		data: newFileData(),
	}

	raw, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "read store file", err)
	}
	if err := json.Unmarshal(raw, fs.data); err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "parse store file", err)
	}
	if fs.data.Records == nil {
		fs.data.Records = make(map[string]map[string]*models.Record)
	}
	if fs.data.Conflicts == nil {
		fs.data.Conflicts = make(map[string]*models.Conflict)
	}
	if fs.data.State == nil {
		fs.data.State = make(map[string]map[string]int64)
	}
	if fs.data.NextSeq == 0 {
		fs.data.NextSeq = 1
	}
	return fs, nil
}

// persist writes the whole store to a temp file and renames it into place,
// so a crash mid-write leaves the previous file intact. Callers hold mu.
func (fs *FileStore) persist() error {
	raw, err := json.Marshal(fs.data)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "marshal store file", err)
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errors.Wrap(errors.ErrStorage, "write store file", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return errors.Wrap(errors.ErrStorage, "replace store file", err)
	}
	return nil
}

// Close flushes the store.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.persist()
}

// PutRecord inserts or replaces a record.
func (fs *FileStore) PutRecord(_ context.Context, table string, rec *models.Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.data.Records[table] == nil {
		fs.data.Records[table] = make(map[string]*models.Record)
	}
	fs.data.Records[table][rec.ID.String()] = rec.Clone()
	return fs.persist()
}

// GetRecord returns the record, tombstoned or not.
func (fs *FileStore) GetRecord(_ context.Context, table, id string) (*models.Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, ok := fs.data.Records[table][id]
	if !ok {
		return nil, errors.Newf(errors.ErrNotFound, "record %s not found in %s", id, table)
	}
	return rec.Clone(), nil
}

// DeleteRecord removes the record permanently.
func (fs *FileStore) DeleteRecord(_ context.Context, table, id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if recs, ok := fs.data.Records[table]; ok {
		delete(recs, id)
	}
	return fs.persist()
}

// ListRecords scans all records for the user, ordered by creation time.
func (fs *FileStore) ListRecords(_ context.Context, table, userID string) ([]*models.Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var out []*models.Record
	for _, rec := range fs.data.Records[table] {
		if rec.UserID == userID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AppendQueueItem stores a pending mutation and assigns its Seq.
func (fs *FileStore) AppendQueueItem(_ context.Context, item *models.QueueItem) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	item.Seq = fs.data.NextSeq
	fs.data.NextSeq++

	stored := *item
	stored.Payload = item.Payload.Clone()
	fs.data.Queue = append(fs.data.Queue, &stored)
	return fs.persist()
}

// ListQueueItems returns pending items in FIFO order.
func (fs *FileStore) ListQueueItems(_ context.Context) ([]*models.QueueItem, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	out := make([]*models.QueueItem, 0, len(fs.data.Queue))
	for _, item := range fs.data.Queue {
		copied := *item
		copied.Payload = item.Payload.Clone()
		out = append(out, &copied)
	}
	return out, nil
}

// UpdateQueueItem persists retry accounting.
func (fs *FileStore) UpdateQueueItem(_ context.Context, item *models.QueueItem) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for _, stored := range fs.data.Queue {
		if stored.ID == item.ID {
			stored.RetryCount = item.RetryCount
			return fs.persist()
		}
	}
	return errors.Newf(errors.ErrNotFound, "queue item %s not found", item.ID)
}

// RemoveQueueItem deletes an item.
func (fs *FileStore) RemoveQueueItem(_ context.Context, id models.UUID) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i, stored := range fs.data.Queue {
		if stored.ID == id {
			fs.data.Queue = append(fs.data.Queue[:i], fs.data.Queue[i+1:]...)
			return fs.persist()
		}
	}
	return fs.persist()
}

// CountQueueItems returns the number of pending items.
func (fs *FileStore) CountQueueItems(_ context.Context) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.data.Queue), nil
}

// PutConflict inserts or replaces a conflict.
func (fs *FileStore) PutConflict(_ context.Context, c *models.Conflict) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.data.Conflicts[c.ID.String()] = c.Clone()
	return fs.persist()
}

// ListUnresolvedConflicts returns pending conflicts in detection order.
func (fs *FileStore) ListUnresolvedConflicts(_ context.Context) ([]*models.Conflict, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var out []*models.Conflict
	for _, c := range fs.data.Conflicts {
		if !c.Resolved {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DetectedAt != out[j].DetectedAt {
			return out[i].DetectedAt < out[j].DetectedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// LastSync returns the last successful pass timestamp, or 0.
func (fs *FileStore) LastSync(_ context.Context, userID, table string) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.data.State[userID][table], nil
}

// SetLastSync advances the last successful pass timestamp.
func (fs *FileStore) SetLastSync(_ context.Context, userID, table string, ts int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.data.State[userID] == nil {
		fs.data.State[userID] = make(map[string]int64)
	}
	fs.data.State[userID][table] = ts
	return fs.persist()
}
