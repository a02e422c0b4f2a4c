// Package remote defines the CRUD interface the sync core consumes from
// the backend service, and an HTTP implementation of it. The backend is
// treated as opaque: the core only assumes the four operations below and
// idempotency on record id for insert and update, so re-applying a queued
// mutation after a crash cannot duplicate data.
package remote

import (
	"context"

	"github.com/jtarver/budgeteer/internal/models"
)

// Service is the remote CRUD surface per entity table.
type Service interface {
	// Insert creates the record remotely and returns the server's
	// authoritative copy.
	Insert(ctx context.Context, table string, rec *models.Record) (*models.Record, error)

	// Update applies a partial update and returns the server's copy.
	Update(ctx context.Context, table, id string, partial models.Fields) (*models.Record, error)

	// Delete removes the record remotely.
	Delete(ctx context.Context, table, id string) error

	// SelectSince returns the user's records updated strictly after the
	// given Unix-millisecond timestamp.
	SelectSince(ctx context.Context, table, userID string, since int64) ([]*models.Record, error)
}
