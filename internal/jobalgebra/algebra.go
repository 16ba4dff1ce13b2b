// ============================================================================
// Unit Transaction Planner - Job-Type Algebra (Component B)
// ============================================================================
//
// Package: internal/jobalgebra
// File: algebra.go
// Purpose: The pure, deterministic functions that carry every piece of
//          job-semantics knowledge in the system: Mergeable, Merge,
//          Collapse, Conflicting, Redundant, Applicable.
//
// Nothing in this file touches a Unit, a Transaction, or does I/O — it
// is the one place job-semantics knowledge lives, and every other
// component calls into it rather than re-deriving these rules.
//
// The merge/collapse table encodes one resolution, recorded in
// DESIGN.md: positive (non-stop) job types form a total order by "how
// much it does," and merge of two positive types keeps the one that
// does more (a restart already implies everything a reload or a start
// would ask for). stop only merges with stop; a stop paired with any
// positive type is a genuine conflict.
//
// ============================================================================

package jobalgebra

import "github.com/ChuLiYu/unitplan/pkg/types"

// rank orders the "positive" (non-stop) job types by how much work they
// imply, for use as the merge operation's combining rule (max-by-rank).
// Max is commutative, associative, and idempotent, which is exactly what
// Merge needs to be.
var rank = map[types.JobType]int{
	types.JobNop:          0,
	types.JobVerifyActive: 1,
	types.JobTryReload:    2,
	types.JobTryRestart:   3,
	types.JobReload:       4,
	types.JobStart:        5,
	types.JobRestart:      6,
}

func isPositive(t types.JobType) bool {
	_, ok := rank[t]
	return ok
}

// Merge is a commutative, associative, idempotent reduction over two job
// types queued for the same unit. It returns ("", false) when the pair
// conflicts outright (e.g. stop against any positive type).
func Merge(a, b types.JobType) (types.JobType, bool) {
	if a == b {
		return a, true
	}
	aStop, bStop := a == types.JobStop, b == types.JobStop
	switch {
	case aStop && bStop:
		return types.JobStop, true
	case aStop != bStop:
		return "", false
	default:
		ra, aok := rank[a]
		rb, bok := rank[b]
		if !aok || !bok {
			return "", false
		}
		if ra >= rb {
			return a, true
		}
		return b, true
	}
}

// Mergeable reports whether Merge(a, b) is defined.
func Mergeable(a, b types.JobType) bool {
	_, ok := Merge(a, b)
	return ok
}

// CanReload reports whether a unit kind supports a genuine reload.
// Targets, devices, and timers have nothing to reload; services and
// sockets do.
func CanReload(kind types.UnitKind) bool {
	switch kind {
	case types.KindService, types.KindSocket:
		return true
	default:
		return false
	}
}

// CanRestart reports whether a unit kind supports start/stop cycling at
// all. Devices are kernel-driven and cannot be restarted by the planner.
func CanRestart(kind types.UnitKind) bool {
	return kind != types.KindDevice
}

// Collapse specializes a generic job type against a unit's kind and
// current state. It is called at the point a recursive sub-type is
// chosen by the builder, before the collapsed type is ever checked for
// Applicable or stored on a Job.
func Collapse(t types.JobType, kind types.UnitKind, state types.ActiveState) types.JobType {
	switch t {
	case types.JobTryReloadOrRestart:
		// Decays on entry: prefer a restart if the unit is already up,
		// otherwise fall through to the try-reload collapse rule below.
		if state.IsActiveOrActivating() {
			return Collapse(types.JobTryRestart, kind, state)
		}
		return Collapse(types.JobTryReload, kind, state)

	case types.JobTryRestart:
		if state.IsActiveOrActivating() {
			return types.JobRestart
		}
		return types.JobNop

	case types.JobTryReload:
		if state.IsActiveOrActivating() {
			return types.JobReload
		}
		return types.JobNop

	case types.JobReload:
		if CanReload(kind) {
			return types.JobReload
		}
		if CanRestart(kind) {
			return types.JobRestart
		}
		return types.JobNop

	default:
		return t
	}
}

// Conflicting reports whether running a as installed and b as prospective
// (or vice versa) would cancel one another. Only stop-vs-positive
// conflicts; two positive types never conflict with each other, they
// merge instead.
func Conflicting(a, b types.JobType) bool {
	aStop, bStop := a == types.JobStop, b == types.JobStop
	if aStop == bStop {
		return false
	}
	other := a
	if aStop {
		other = b
	}
	return isPositive(other)
}

// Redundant reports whether issuing t against a unit already in
// activeState is a no-op.
func Redundant(t types.JobType, state types.ActiveState) bool {
	switch t {
	case types.JobStart:
		return state.IsActiveOrActivating()
	case types.JobVerifyActive:
		return state == types.StateActive
	case types.JobStop:
		return state.IsInactiveOrFailed()
	case types.JobReload:
		return state == types.StateReloading
	case types.JobNop:
		return true
	default:
		return false
	}
}

// orderSign captures the "stop reverses ordering" rule: a stop job runs
// in the opposite direction along a BEFORE/AFTER edge compared to every
// other job type.
func orderSign(t types.JobType) int {
	if t == types.JobStop {
		return -1
	}
	return 1
}

// OrderEdgeDir answers: given a unit-level "a BEFORE b" relation and the
// job types queued on each side, which direction (if any) the ordering
// edge runs for cycle detection.
type OrderEdgeDir int

const (
	// OrderNone means the pairing of types carries no ordering
	// constraint (one side stopping, the other starting or reloading).
	OrderNone OrderEdgeDir = iota
	// OrderForward means the job on the BEFORE side runs first.
	OrderForward
	// OrderReversed means the job on the AFTER side runs first (both
	// sides are stop jobs, so teardown order inverts startup order).
	OrderReversed
)

// OrderEdge resolves ordering for a literal "a BEFORE b" unit relation,
// given the job types prospectively queued on each side: same-sign
// pairs keep/reverse the BEFORE direction depending on whether both
// sides are starting or both stopping; mixed-sign pairs (one starting,
// one stopping) impose no ordering constraint between these two jobs.
func OrderEdge(beforeType, afterType types.JobType) OrderEdgeDir {
	sb, sa := orderSign(beforeType), orderSign(afterType)
	if sb != sa {
		return OrderNone
	}
	if sb > 0 {
		return OrderForward
	}
	return OrderReversed
}

// Applicable reports whether job type t is allowed at all for a unit of
// the given kind. Stopping is always permitted regardless of kind or
// load state; everything else needs the unit to support the operation.
func Applicable(kind types.UnitKind, t types.JobType) bool {
	if t == types.JobStop || t == types.JobNop || t == types.JobVerifyActive {
		return true
	}
	if kind == types.KindDevice {
		// Devices are kernel-driven: only stop/verify/nop make sense.
		return false
	}
	switch t {
	case types.JobReload:
		return CanReload(kind) || CanRestart(kind)
	default:
		return true
	}
}
