// Package conflict detects divergence between local and remote versions of
// a record and applies the per-table resolution policy.
package conflict

import (
	"context"
	"reflect"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jtarver/budgeteer/internal/db"
	"github.com/jtarver/budgeteer/internal/errors"
	"github.com/jtarver/budgeteer/internal/models"
	"github.com/jtarver/budgeteer/internal/registry"
	"github.com/jtarver/budgeteer/internal/store"
)

// Resolver detects and resolves record conflicts. Detected conflicts are
// persisted until resolved, so a manual-strategy table can hold them
// indefinitely across restarts.
type Resolver struct {
	store     *store.Store
	conflicts db.ConflictStore
	reg       *registry.Registry
	logger    zerolog.Logger
	now       func() int64
}

// New creates a Resolver.
func New(s *store.Store, conflicts db.ConflictStore, reg *registry.Registry, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:     s,
		conflicts: conflicts,
		reg:       reg,
		logger:    logger.With().Str("component", "resolver").Logger(),
		now:       models.NowMilli,
	}
}

// SetClock overrides the timestamp source for tests.
func (r *Resolver) SetClock(now func() int64) {
	r.now = now
}

// DetectConflicts compares same-id records from both sides. Two versions
// conflict when their UpdatedAt differ or any watched field differs; an id
// present on one side only yields an insert-type conflict that a later
// resolution pass imports. Detected conflicts are persisted and returned
// with both versions retained untouched.
func (r *Resolver) DetectConflicts(ctx context.Context, table registry.Table, server, client []*models.Record) ([]*models.Conflict, error) {
	if !r.reg.Has(table) {
		return nil, errors.Newf(errors.ErrUnknownTable, "table %q is not registered", table)
	}

	clientByID := make(map[models.UUID]*models.Record, len(client))
	for _, rec := range client {
		clientByID[rec.ID] = rec
	}

	var out []*models.Conflict
	seen := make(map[models.UUID]bool, len(server))

	for _, remote := range server {
		seen[remote.ID] = true
		local, ok := clientByID[remote.ID]
		if !ok {
			out = append(out, r.newConflict(table, models.ConflictInsert, remote, nil))
			continue
		}
		if remote.UpdatedAt == local.UpdatedAt && !watchedFieldsDiffer(remote.Fields, local.Fields) &&
			remote.Deleted == local.Deleted {
			continue
		}
		typ := models.ConflictUpdate
		if remote.Deleted || local.Deleted {
			typ = models.ConflictDelete
		}
		out = append(out, r.newConflict(table, typ, remote, local))
	}

	for _, local := range client {
		if !seen[local.ID] {
			out = append(out, r.newConflict(table, models.ConflictInsert, nil, local))
		}
	}

	for _, c := range out {
		if err := r.conflicts.PutConflict(ctx, c); err != nil {
			return nil, err
		}
		r.logger.Info().
			Str("table", c.Table).
			Str("record_id", c.RecordID.String()).
			Str("type", string(c.Type)).
			Bool("one_sided", c.OneSided()).
			Msg("conflict detected")
	}
	return out, nil
}

func (r *Resolver) newConflict(table registry.Table, typ models.ConflictType, server, client *models.Record) *models.Conflict {
	c := &models.Conflict{
		ID:            models.NewUUID(),
		Table:         string(table),
		Type:          typ,
		ServerVersion: server.Clone(),
		ClientVersion: client.Clone(),
		DetectedAt:    r.now(),
	}
	if server != nil {
		c.RecordID = server.ID
	} else {
		c.RecordID = client.ID
	}
	if c.OneSided() {
		// A record stranded on one side is re-offered every pass until it
		// converges. Keying by record keeps re-detection an upsert of the
		// same row instead of an endless series of new ones.
		c.ID = models.NewDeterministicUUID("conflict/" + c.Table + "/" + c.RecordID.String())
	}
	return c
}

// ResolveConflicts iterates the unresolved conflicts and applies each
// table's configured strategy. One-sided conflicts bypass strategy
// selection and adopt whichever version exists; manual-strategy conflicts
// stay pending. Returns the number of conflicts resolved.
func (r *Resolver) ResolveConflicts(ctx context.Context) (int, error) {
	pending, err := r.conflicts.ListUnresolvedConflicts(ctx)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, c := range pending {
		done, err := r.resolveOne(ctx, c)
		if err != nil {
			// Leave the conflict pending; the next pass retries it.
			r.logger.Warn().
				Str("table", c.Table).
				Str("record_id", c.RecordID.String()).
				Err(err).
				Msg("conflict resolution failed")
			continue
		}
		if done {
			resolved++
		}
	}
	return resolved, nil
}

func (r *Resolver) resolveOne(ctx context.Context, c *models.Conflict) (bool, error) {
	table := registry.Table(c.Table)
	policy, err := r.reg.Lookup(table)
	if err != nil {
		return false, err
	}

	if c.OneSided() {
		if c.ServerVersion != nil {
			if _, err := r.store.ApplyResolution(ctx, table, c.ServerVersion, models.ResolutionServer); err != nil {
				return false, err
			}
			return true, r.markResolved(ctx, c, models.ResolutionServer, nil)
		}
		// Client-only: the record already lives locally and its mutation is
		// on the queue; adoption is a bookkeeping step.
		return true, r.markResolved(ctx, c, models.ResolutionClient, nil)
	}

	switch policy.Strategy {
	case registry.StrategyManual:
		return false, nil

	case registry.StrategyServer:
		if _, err := r.store.ApplyResolution(ctx, table, c.ServerVersion, models.ResolutionServer); err != nil {
			return false, err
		}
		return true, r.markResolved(ctx, c, models.ResolutionServer, nil)

	case registry.StrategyClient:
		if _, err := r.store.ApplyResolution(ctx, table, c.ClientVersion, models.ResolutionClient); err != nil {
			return false, err
		}
		return true, r.markResolved(ctx, c, models.ResolutionClient, nil)

	case registry.StrategyMerge:
		merged := mergeVersions(c.ServerVersion, c.ClientVersion, policy)
		if _, err := r.store.ApplyResolution(ctx, table, merged, models.ResolutionMerge); err != nil {
			return false, err
		}
		return true, r.markResolved(ctx, c, models.ResolutionMerge, merged.Fields)

	default:
		return false, errors.Newf(errors.ErrConfig, "table %q has unknown strategy %q", c.Table, policy.Strategy)
	}
}

func (r *Resolver) markResolved(ctx context.Context, c *models.Conflict, resolution models.Resolution, merged models.Fields) error {
	c.Resolved = true
	c.Resolution = resolution
	c.MergedFields = merged.Clone()
	c.ResolvedAt = r.now()
	if err := r.conflicts.PutConflict(ctx, c); err != nil {
		return err
	}
	r.logger.Info().
		Str("table", c.Table).
		Str("record_id", c.RecordID.String()).
		Str("resolution", string(resolution)).
		Msg("conflict resolved")
	return nil
}

// mergeVersions builds the merged record: server version as the base,
// client values overlaid for the table's mergeFields, then server values
// re-overlaid for priorityFields. Priority is applied last, so a field in
// both lists deterministically takes the server's value. The merged record
// gets a fresh UpdatedAt when it is written back.
func mergeVersions(server, client *models.Record, policy registry.Policy) *models.Record {
	merged := server.Clone()
	if merged.Fields == nil {
		merged.Fields = make(models.Fields)
	}
	for _, f := range policy.MergeFields {
		if v, ok := client.Fields[f]; ok {
			merged.Fields[f] = v
		}
	}
	for _, f := range policy.PriorityFields {
		if v, ok := server.Fields[f]; ok {
			merged.Fields[f] = v
		}
	}
	return merged
}

// watchedFieldsDiffer compares the fixed watched-field set. Monetary
// fields arrive as assorted JSON number representations, so numeric values
// are compared as decimals instead of raw interface equality.
func watchedFieldsDiffer(a, b models.Fields) bool {
	for _, f := range registry.WatchedFields {
		if !fieldEqual(a[f], b[f]) {
			return true
		}
	}
	return false
}

func fieldEqual(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if da, ok := toDecimal(a); ok {
		if db, ok := toDecimal(b); ok {
			return da.Equal(db)
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case decimal.Decimal:
		return n, true
	default:
		return decimal.Decimal{}, false
	}
}
