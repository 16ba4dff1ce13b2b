// ============================================================================
// Unit Transaction Planner - Transaction Builder (Component D)
// ============================================================================
//
// Package: internal/builder
// File: builder.go
// Purpose: Recursively pulls in dependency jobs for an anchor request,
//          producing the prospective graph a Transaction holds before
//          reduction.
//
// A small struct wraps its one collaborator (a unitview.View) with
// exported entrypoints that each log recoverable conditions via
// log/slog and only return an error when the whole operation must abort.
//
// ============================================================================

package builder

import (
	"log/slog"

	"github.com/ChuLiYu/unitplan/internal/jobalgebra"
	"github.com/ChuLiYu/unitplan/internal/jobgraph"
	"github.com/ChuLiYu/unitplan/internal/unitview"
	"github.com/ChuLiYu/unitplan/pkg/types"
)

var log = slog.Default()

// Builder constructs prospective job graphs against a unit View.
type Builder struct {
	View unitview.View

	// Reloading mirrors the manager currently reloading its unit files:
	// when true, every unit touched is coldplugged first.
	Reloading bool
}

// New returns a Builder reading from view.
func New(view unitview.View) *Builder {
	return &Builder{View: view}
}

// depSpec is one row of the dependency-pull-in recursion table.
type depSpec struct {
	atom      types.Atom
	subType   types.JobType
	matters   bool
	conflicts bool
	mandatory bool
	collapse  bool
}

func subDeps(t types.JobType) []depSpec {
	switch t {
	case types.JobStart, types.JobRestart:
		deps := []depSpec{
			{types.AtomPullInStart, types.JobStart, true, false, true, false},
			{types.AtomPullInStartIgnored, types.JobStart, false, false, false, false},
			{types.AtomPullInVerify, types.JobVerifyActive, true, false, true, false},
			{types.AtomPullInStop, types.JobStop, true, true, true, false},
			{types.AtomPullInStopIgnored, types.JobStop, false, false, false, false},
		}
		if t == types.JobRestart {
			deps = append(deps, depSpec{types.AtomPropagateRestart, types.JobTryRestart, true, false, true, true})
		}
		return deps
	case types.JobStop:
		return []depSpec{
			{types.AtomPropagateStop, types.JobStop, true, false, true, false},
		}
	case types.JobReload:
		return []depSpec{
			{types.AtomPropagatesReloadTo, types.JobTryReload, true, false, true, true},
		}
	default:
		return nil
	}
}

// AddJobAndDependencies adds a job for unit and recursively pulls in its
// dependencies. by.IsZero() designates this call as installing the
// transaction's anchor job; every other call must pass the job that
// pulled this one in.
func (b *Builder) AddJobAndDependencies(
	tr *jobgraph.Transaction,
	t types.JobType,
	unit types.UnitID,
	by jobgraph.Ref,
	matters bool,
	conflicts bool,
	ignoreRequirements bool,
	ignoreOrder bool,
) (jobgraph.Ref, error) {
	if b.Reloading {
		b.View.RequestColdplug(unit)
	}

	if t != types.JobStop {
		if b.View.LoadState(unit) != types.LoadLoaded {
			// One retry via a coldplug, then give up.
			b.View.RequestColdplug(unit)
			if b.View.LoadState(unit) != types.LoadLoaded {
				return jobgraph.ZeroRef, types.NewPlannerError("add_job_and_dependencies", unit, types.KindUnitNotLoaded, nil)
			}
		}
	}

	kind := b.View.Kind(unit)
	if !jobalgebra.Applicable(kind, t) {
		return jobgraph.ZeroRef, types.NewPlannerError("add_job_and_dependencies", unit, types.KindJobTypeNotApplicable, nil)
	}

	ref, isNew := tr.AddOneJob(unit, t)
	if ignoreOrder {
		tr.SetIgnoreOrder(ref, true)
	}

	if by.IsZero() {
		tr.SetAnchor(ref)
	} else {
		tr.AddEdge(by, ref, matters, conflicts)
	}

	if isNew && !ignoreRequirements {
		if err := b.recurse(tr, ref, unit, t, ignoreOrder); err != nil {
			return jobgraph.ZeroRef, err
		}
	}

	return ref, nil
}

func (b *Builder) recurse(tr *jobgraph.Transaction, ref jobgraph.Ref, unit types.UnitID, t types.JobType, ignoreOrder bool) error {
	for _, spec := range subDeps(t) {
		for _, target := range b.View.Deps(unit, spec.atom) {
			subType := spec.subType
			if spec.collapse {
				subType = jobalgebra.Collapse(subType, b.View.Kind(target), b.View.ActiveState(target))
			}
			_, err := b.AddJobAndDependencies(tr, subType, target, ref, spec.matters, spec.conflicts, false, ignoreOrder)
			if err := b.handleDepError(spec, target, err); err != nil {
				return err
			}
		}
	}

	if follower, ok := b.View.Following(unit); ok {
		_, err := b.AddJobAndDependencies(tr, t, follower, ref, false, false, false, ignoreOrder)
		if err != nil {
			log.Debug("follower pull-in failed, ignoring", "unit", unit, "follower", follower, "error", err)
		}
	}

	return nil
}

// handleDepError applies the dependency error policy: mandatory atoms
// abort the whole builder; everything else is logged and elided.
func (b *Builder) handleDepError(spec depSpec, target types.UnitID, err error) error {
	if err == nil {
		return nil
	}
	if !spec.mandatory {
		log.Debug("optional dependency pull-in skipped", "atom", spec.atom, "unit", target, "error", err)
		return nil
	}
	log.Warn("mandatory dependency pull-in failed, aborting transaction", "atom", spec.atom, "unit", target, "error", err)
	return err
}

// AddPropagateReloadJobs enumerates PROPAGATES_RELOAD_TO and adds
// collapsed try-reloads, without requiring a full reload anchor job on
// unit itself.
func (b *Builder) AddPropagateReloadJobs(tr *jobgraph.Transaction, unit types.UnitID, by jobgraph.Ref, ignoreOrder bool) error {
	for _, target := range b.View.Deps(unit, types.AtomPropagatesReloadTo) {
		subType := jobalgebra.Collapse(types.JobTryReload, b.View.Kind(target), b.View.ActiveState(target))
		_, err := b.AddJobAndDependencies(tr, subType, target, by, true, false, false, ignoreOrder)
		if err != nil {
			log.Warn("propagate-reload pull-in failed", "unit", target, "error", err)
			return err
		}
	}
	return nil
}

// AddIsolateJobs builds the isolate candidate set: stop every loaded,
// non-alias, currently-up unit that is not exempted and not already
// part of the transaction. Per-unit failures are logged and skipped;
// they never abort the isolate.
func (b *Builder) AddIsolateJobs(tr *jobgraph.Transaction) {
	anchor := tr.Anchor()

	triggeredByExempt := func(unit types.UnitID) bool {
		for _, candidate := range b.View.Units() {
			if !b.View.IgnoreOnIsolate(candidate) {
				continue
			}
			for _, triggered := range b.View.Deps(candidate, types.AtomTriggeredBy) {
				if triggered == unit {
					return true
				}
			}
		}
		return false
	}

	for _, unit := range b.View.Units() {
		if b.View.LoadState(unit) != types.LoadLoaded {
			continue
		}
		if b.View.IsAlias(unit) {
			continue
		}
		if b.View.ActiveState(unit).IsInactiveOrFailed() {
			continue
		}
		if b.View.IgnoreOnIsolate(unit) {
			continue
		}
		if tr.HasJob(unit) {
			continue
		}
		if triggeredByExempt(unit) {
			continue
		}

		if _, err := b.AddJobAndDependencies(tr, types.JobStop, unit, anchor, true, false, false, false); err != nil {
			log.Warn("isolate candidate failed, skipping", "unit", unit, "error", err)
		}
	}
}

// AddTriggeringJobs: for each active unit triggered by unit with no job
// queued yet, enqueue a stop.
func (b *Builder) AddTriggeringJobs(tr *jobgraph.Transaction, unit types.UnitID, by jobgraph.Ref) {
	for _, triggered := range b.View.Deps(unit, types.AtomTriggeredBy) {
		if !b.View.ActiveState(triggered).IsActiveOrActivating() {
			continue
		}
		if tr.HasJob(triggered) {
			continue
		}
		if _, err := b.AddJobAndDependencies(tr, types.JobStop, triggered, by, true, false, false, false); err != nil {
			log.Warn("triggering-job pull-in failed, skipping", "unit", triggered, "error", err)
		}
	}
}
