// Package registry maps entity tables to their sync policies. Every table
// the application syncs is registered once at startup; all other components
// route through the registry instead of switching on raw table names.
package registry

import (
	"sort"

	"github.com/jtarver/budgeteer/internal/errors"
)

// Table identifies an entity table.
type Table string

// Strategy selects how conflicts on a table are resolved.
type Strategy string

const (
	// StrategyServer adopts the server version verbatim.
	StrategyServer Strategy = "server"
	// StrategyClient adopts the client version verbatim.
	StrategyClient Strategy = "client"
	// StrategyMerge merges per-field: server base, client mergeFields
	// overlaid, server priorityFields re-overlaid last.
	StrategyMerge Strategy = "merge"
	// StrategyManual leaves conflicts unresolved for external decision.
	StrategyManual Strategy = "manual"
)

// WatchedFields are the payload fields whose divergence marks a conflict
// even when only one side bumped its timestamp.
var WatchedFields = []string{"name", "description", "amount", "balance", "category"}

// Policy is the per-table conflict resolution configuration.
type Policy struct {
	Strategy       Strategy
	MergeFields    []string // client-side fields preserved by a merge
	PriorityFields []string // server-side fields that always win, applied after MergeFields
}

// Registry holds the registered tables. It is built during startup and
// read-only afterwards, so no locking is required.
type Registry struct {
	tables map[Table]Policy
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{tables: make(map[Table]Policy)}
}

// Register adds a table with its policy.
func (r *Registry) Register(t Table, p Policy) error {
	if t == "" {
		return errors.New(errors.ErrConfig, "table name must not be empty")
	}
	if _, dup := r.tables[t]; dup {
		return errors.Newf(errors.ErrConfig, "table %q registered twice", t)
	}
	switch p.Strategy {
	case StrategyServer, StrategyClient, StrategyMerge, StrategyManual:
	case "":
		p.Strategy = StrategyServer
	default:
		return errors.Newf(errors.ErrConfig, "table %q has unknown strategy %q", t, p.Strategy)
	}
	r.tables[t] = p
	return nil
}

// Lookup returns the policy for a table.
func (r *Registry) Lookup(t Table) (Policy, error) {
	p, ok := r.tables[t]
	if !ok {
		return Policy{}, errors.Newf(errors.ErrUnknownTable, "table %q is not registered", t)
	}
	return p, nil
}

// Has reports whether the table is registered.
func (r *Registry) Has(t Table) bool {
	_, ok := r.tables[t]
	return ok
}

// Tables returns all registered tables in deterministic order.
func (r *Registry) Tables() []Table {
	out := make([]Table, 0, len(r.tables))
	for t := range r.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
