// ============================================================================
// Unit Transaction Planner - Reducer (Component E)
// ============================================================================
//
// Package: internal/reducer
// File: reducer.go
// Purpose: The ordered reduction pipeline: mark-anchor-matters,
//          minimize-impact, drop-redundant, collect-garbage, verify-order
//          (cycle break), merge-unmergeables, drop-redundant again.
//
// An ordered sequence of named passes, each one a plain function taking
// the shared state and returning either success, a recoverable signal to
// loop, or a fatal error, with an explicit "again bool" loop standing in
// for a retry-the-pipeline signal.
//
// ============================================================================

package reducer

import (
	"log/slog"

	"github.com/ChuLiYu/unitplan/internal/jobalgebra"
	"github.com/ChuLiYu/unitplan/internal/jobgraph"
	"github.com/ChuLiYu/unitplan/internal/unitview"
	"github.com/ChuLiYu/unitplan/pkg/types"
)

var log = slog.Default()

// maxPasses bounds the verify-order/merge-unmergeables retry loop. Every
// retry either deletes a job or merges two into one, so the loop is
// bounded by the transaction's initial job count; this cap only guards
// against a logic defect turning that into an infinite loop.
const maxPasses = 10000

// Stats accumulates counts of interesting internal events during one
// Reduce call, for a caller that wants to feed them to internal/metrics
// without the reducer importing it. The reducer itself stays pure.
type Stats struct {
	CyclesBroken     int
	UnmergeableDrops int
}

// Reduce runs the full reduction pipeline against tr, consulting view for
// unit state and ordering atoms. It returns a *types.PlannerError on
// JOBS_CONFLICTING or ORDER_IS_CYCLIC; any other error is a programming
// defect. stats may be nil.
func Reduce(tr *jobgraph.Transaction, view unitview.View, mode types.Mode, stats *Stats) error {
	for pass := 0; ; pass++ {
		if pass >= maxPasses {
			log.Warn("reducer exceeded pass budget, aborting as cyclic", "passes", pass)
			return types.NewPlannerError("reduce", "", types.KindOrderIsCyclic, nil)
		}

		gen := tr.NextGeneration()
		markAnchorMatters(tr, gen)

		if mode.MinimizesImpact() {
			minimizeImpact(tr, view)
		}

		dropRedundant(tr, view)

		if !mode.SkipsGarbageCollection() {
			collectGarbage(tr)
		}

		again, err := verifyOrderAndBreakCycles(tr, view)
		if err != nil {
			return err
		}
		if again {
			if stats != nil {
				stats.CyclesBroken++
			}
			continue
		}

		again, err = mergeUnmergeables(tr)
		if err != nil {
			return err
		}
		if again {
			if stats != nil {
				stats.UnmergeableDrops++
			}
			continue
		}

		dropRedundant(tr, view)
		return nil
	}
}

// markAnchorMatters runs a depth-first sweep from the anchor along
// subject-edges where matters=true.
func markAnchorMatters(tr *jobgraph.Transaction, gen int) {
	tr.ResetMattersToAnchor()
	var visit func(ref jobgraph.Ref)
	visit = func(ref jobgraph.Ref) {
		if tr.MattersToAnchor(ref) {
			return
		}
		tr.MarkMattersToAnchor(ref, gen)
		for _, ei := range tr.SubjectEdges(ref) {
			e := tr.Edge(ei)
			if e.Matters {
				visit(tr.EdgeObjectRef(ei))
			}
		}
	}
	visit(tr.Anchor())
}

// minimizeImpact drops non-anchor jobs the fail mode wants skipped:
// stops of units that are active or activating, and jobs that conflict
// with what is already installed.
func minimizeImpact(tr *jobgraph.Transaction, view unitview.View) {
	anchor := tr.Anchor()
	for {
		changed := false
		for _, ref := range tr.LiveJobs() {
			if ref == anchor || tr.MattersToAnchor(ref) {
				continue
			}
			n := tr.Get(ref)
			del := n.Type == types.JobStop && view.ActiveState(n.Unit).IsActiveOrActivating()
			if !del {
				if inst := view.InstalledJob(n.Unit); inst != nil && jobalgebra.Conflicting(inst.Type, n.Type) {
					del = true
				}
			}
			if del {
				tr.UnlinkJob(ref, false)
				changed = true
				break
			}
		}
		if !changed {
			return
		}
	}
}

// dropRedundant drops a unit's whole sibling set when every sibling is
// redundant, none conflicts with the installed job, and the anchor is
// not among them.
func dropRedundant(tr *jobgraph.Transaction, view unitview.View) {
	anchor := tr.Anchor()
	for {
		changed := false
		for _, unit := range tr.LiveUnits() {
			sibs := tr.Siblings(unit)
			if len(sibs) == 0 {
				continue
			}
			state := view.ActiveState(unit)
			installed := view.InstalledJob(unit)
			allRedundant := true
			anchorAmong := false
			for _, ref := range sibs {
				n := tr.Get(ref)
				if ref == anchor {
					anchorAmong = true
				}
				if !jobalgebra.Redundant(n.Type, state) {
					allRedundant = false
				}
				if installed != nil && jobalgebra.Conflicting(installed.Type, n.Type) {
					allRedundant = false
				}
			}
			if allRedundant && !anchorAmong {
				for _, ref := range sibs {
					tr.UnlinkJob(ref, false)
				}
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

// collectGarbage deletes any non-anchor job with no remaining object
// edges (nothing depends on it anymore).
func collectGarbage(tr *jobgraph.Transaction) {
	anchor := tr.Anchor()
	for {
		changed := false
		for _, ref := range tr.LiveJobs() {
			if ref == anchor {
				continue
			}
			if len(tr.ObjectEdges(ref)) == 0 {
				tr.UnlinkJob(ref, false)
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

// orderSuccessors returns the jobs that must run after ref, per the
// ordering resolution in jobalgebra.OrderEdge, walking the unit-level
// BEFORE/AFTER atoms from the view. A node with IgnoreOrder set
// contributes no outgoing ordering edges.
func orderSuccessors(tr *jobgraph.Transaction, view unitview.View, ref jobgraph.Ref) []jobgraph.Ref {
	n := tr.Get(ref)
	if n.IgnoreOrder {
		return nil
	}
	var out []jobgraph.Ref

	for _, target := range view.Deps(n.Unit, types.AtomBefore) {
		for _, tref := range tr.Siblings(target) {
			tn := tr.Get(tref)
			if jobalgebra.OrderEdge(n.Type, tn.Type) == jobalgebra.OrderForward {
				out = append(out, tref)
			}
		}
	}

	for _, source := range view.Deps(n.Unit, types.AtomAfter) {
		for _, sref := range tr.Siblings(source) {
			sn := tr.Get(sref)
			// n.Unit AFTER source means "source BEFORE n.Unit" at the
			// unit level; ref runs after source unless both are
			// stopping, in which case OrderEdge reverses it back.
			if jobalgebra.OrderEdge(sn.Type, n.Type) == jobalgebra.OrderReversed {
				out = append(out, sref)
			}
		}
	}

	return out
}

// verifyOrderAndBreakCycles walks the ordering graph looking for a
// cycle. It returns again=true after deleting a cycle-break victim
// (caller should re-enter the pipeline), or a fatal ORDER_IS_CYCLIC
// error if no victim exists.
func verifyOrderAndBreakCycles(tr *jobgraph.Transaction, view unitview.View) (bool, error) {
	tr.ResetMarkers()
	for _, start := range tr.LiveJobs() {
		if tr.Marker(start) != jobgraph.Unvisited {
			continue
		}
		if found, victim, ok := cycleDFS(tr, view, start); found {
			if !ok {
				return false, types.NewPlannerError("verify_order", tr.Get(victim).Unit, types.KindOrderIsCyclic, nil)
			}
			tr.UnlinkUnit(tr.Get(victim).Unit)
			return true, nil
		}
	}
	return false, nil
}

func cycleDFS(tr *jobgraph.Transaction, view unitview.View, ref jobgraph.Ref) (found bool, victim jobgraph.Ref, breakable bool) {
	tr.SetMarker(ref, jobgraph.OnPath)
	for _, succ := range orderSuccessors(tr, view, ref) {
		switch tr.Marker(succ) {
		case jobgraph.OnPath:
			v, ok := pickVictim(tr, ref, succ)
			return true, v, ok
		case jobgraph.Unvisited:
			tr.SetPredecessor(succ, ref)
			if f, v, ok := cycleDFS(tr, view, succ); f {
				return true, v, ok
			}
		}
	}
	tr.SetMarker(ref, jobgraph.Done)
	return false, jobgraph.ZeroRef, false
}

// pickVictim walks the cycle from "from" back via predecessor links to
// "to" (the job already on the DFS path that closed the cycle),
// collecting its members, and returns the first one that is not
// matters-to-anchor. If every member matters, it returns from and false.
func pickVictim(tr *jobgraph.Transaction, from, to jobgraph.Ref) (jobgraph.Ref, bool) {
	members := []jobgraph.Ref{from}
	cur := from
	for cur != to {
		pred, ok := tr.Predecessor(cur)
		if !ok {
			break
		}
		members = append(members, pred)
		cur = pred
	}
	for _, m := range members {
		if !tr.MattersToAnchor(m) {
			return m, true
		}
	}
	return from, false
}

// mergeUnmergeables merges every sibling group down to one surviving
// job per unit. It returns again=true after resolving one conflict by
// deletion (caller re-runs the whole pipeline), or a
// fatal JOBS_CONFLICTING error if a conflicting pair cannot be fixed.
func mergeUnmergeables(tr *jobgraph.Transaction) (bool, error) {
	for _, unit := range tr.LiveUnits() {
		sibs := tr.Siblings(unit)
		if len(sibs) <= 1 {
			continue
		}

		acc := tr.Get(sibs[0]).Type
		conflictAt := -1
		for i := 1; i < len(sibs); i++ {
			next := tr.Get(sibs[i]).Type
			merged, ok := jobalgebra.Merge(acc, next)
			if !ok {
				conflictAt = i
				break
			}
			acc = merged
		}

		if conflictAt != -1 {
			a, b := sibs[conflictAt-1], sibs[conflictAt]
			drop, ok := unmergeableVictim(tr, a, b)
			if !ok {
				return false, types.NewPlannerError("merge_unmergeables", unit, types.KindJobsConflicting, nil)
			}
			tr.UnlinkJob(drop, false)
			return true, nil
		}

		survivor := sibs[0]
		for i := 1; i < len(sibs); i++ {
			other := sibs[i]
			if other == tr.Anchor() {
				survivor, other = other, survivor
			}
			merged, _ := jobalgebra.Merge(tr.Get(survivor).Type, tr.Get(other).Type)
			tr.MergeAndDelete(survivor, other, merged)
		}
	}
	return false, nil
}

// unmergeableVictim decides which of two conflicting siblings to drop.
func unmergeableVictim(tr *jobgraph.Transaction, a, b jobgraph.Ref) (jobgraph.Ref, bool) {
	aMatters := a == tr.Anchor() || tr.MattersToAnchor(a)
	bMatters := b == tr.Anchor() || tr.MattersToAnchor(b)

	if aMatters && bMatters {
		return jobgraph.ZeroRef, false
	}
	if aMatters != bMatters {
		if !aMatters {
			return a, true
		}
		return b, true
	}

	aStop := tr.Get(a).Type == types.JobStop
	bStop := tr.Get(b).Type == types.JobStop

	switch {
	case aStop && bStop:
		aCBy, bCBy := pulledInByConflict(tr, a), pulledInByConflict(tr, b)
		if aCBy && !bCBy {
			return b, true
		}
		if bCBy && !aCBy {
			return a, true
		}
		return a, true
	case aStop != bStop:
		stopRef, otherRef := a, b
		if bStop {
			stopRef, otherRef = b, a
		}
		if pulledInByConflict(tr, stopRef) {
			return otherRef, true
		}
		return stopRef, true
	default:
		return a, true
	}
}

func pulledInByConflict(tr *jobgraph.Transaction, ref jobgraph.Ref) bool {
	for _, ei := range tr.ObjectEdges(ref) {
		if tr.Edge(ei).Conflicts {
			return true
		}
	}
	return false
}
