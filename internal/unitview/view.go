// ============================================================================
// Unit Transaction Planner - Unit View (Component A)
// ============================================================================
//
// Package: internal/unitview
// File: view.go
// Purpose: The read-only accessor interface the planner uses to look at
//          units it does not own. The planner treats the unit system as
//          a pure read interface.
//
// The only non-read operation is RequestColdplug, and even that is a
// request fired at the store, not a mutation the planner performs
// itself — a side-effect initiator only.
//
// A narrow interface consumed by the core, with swappable adapters
// living outside it: unitview.Fixture is the in-memory/YAML-backed
// adapter this module ships.
//
// ============================================================================

package unitview

import "github.com/ChuLiYu/unitplan/pkg/types"

// View is the read-only contract the planner's components (D, E, F)
// depend on. Nothing in internal/jobgraph, internal/builder,
// internal/reducer, internal/gate, or internal/applier may assume a
// concrete implementation.
type View interface {
	// ActiveState returns the unit's current runtime state.
	ActiveState(unit types.UnitID) types.ActiveState

	// LoadState returns whether the unit's definition is usable.
	LoadState(unit types.UnitID) types.LoadState

	// Kind returns the unit's kind, consulted by the job-type algebra.
	Kind(unit types.UnitID) types.UnitKind

	// InstalledJob returns the job currently attached to unit in the live
	// job table, or nil if none.
	InstalledJob(unit types.UnitID) *types.Job

	// IgnoreOnIsolate reports the unit's ignore-on-isolate flag.
	IgnoreOnIsolate(unit types.UnitID) bool

	// IsAlias reports whether unit is merely an alias of another unit;
	// aliases are skipped from the isolate candidate set.
	IsAlias(unit types.UnitID) bool

	// Following returns the representative unit this one follows, if any.
	Following(unit types.UnitID) (types.UnitID, bool)

	// Deps enumerates the units reachable from unit along atom.
	Deps(unit types.UnitID, atom types.Atom) []types.UnitID

	// Units enumerates every unit known to the store, in a stable order,
	// for the isolate candidate scan.
	Units() []types.UnitID

	// RequestColdplug asks the store to coldplug unit before its state is
	// next consulted. A no-op adapter is a legitimate implementation.
	RequestColdplug(unit types.UnitID)
}
