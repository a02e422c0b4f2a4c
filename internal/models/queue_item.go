package models

// Action is the kind of mutation a queue item carries.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// MaxRetries is the retry cap for a queued mutation. Items that fail this
// many times are dropped so the queue cannot grow without bound.
const MaxRetries = 3

// QueueItem is a pending mutation not yet confirmed by the remote service.
// Seq is assigned by queue storage and defines FIFO order; items for the
// same record are therefore applied in the order they were enqueued.
type QueueItem struct {
	ID         UUID    `db:"id" json:"id"`
	Seq        int64   `db:"seq" json:"seq"`
	Action     Action  `db:"action" json:"action"`
	Table      string  `db:"tbl" json:"table"`
	Payload    *Record `db:"payload" json:"payload"` // full snapshot for create, id+partial for update, id only for delete
	Timestamp  int64   `db:"timestamp" json:"timestamp"`
	RetryCount int     `db:"retry_count" json:"retryCount"`
}

// Exhausted reports whether the item has hit the retry cap.
func (q *QueueItem) Exhausted() bool {
	return q.RetryCount >= MaxRetries
}
