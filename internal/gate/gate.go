// ============================================================================
// Unit Transaction Planner - Destructiveness Gate (Component F)
// ============================================================================
//
// Package: internal/gate
// File: gate.go
// Purpose: The one-pass destructiveness check between reduction and
//          apply. Rejects a transaction that would cancel an
//          irreversible or (in fail mode) any installed job.
//
// A small single-purpose checker function that runs as a guard clause
// before the mutating apply step, rather than folding the check into
// the mutation itself.
//
// ============================================================================

package gate

import (
	"github.com/ChuLiYu/unitplan/internal/jobalgebra"
	"github.com/ChuLiYu/unitplan/internal/jobgraph"
	"github.com/ChuLiYu/unitplan/internal/unitview"
	"github.com/ChuLiYu/unitplan/pkg/types"
)

// Check runs the destructiveness gate: for each prospective job, if the
// unit already has an installed job, and either mode rejects any
// conflict or the installed job is irreversible, and the two types
// conflict, the whole transaction is rejected.
func Check(tr *jobgraph.Transaction, view unitview.View, mode types.Mode) error {
	for _, ref := range tr.LiveJobs() {
		n := tr.Get(ref)
		installed := view.InstalledJob(n.Unit)
		if installed == nil {
			continue
		}
		if !(mode.RejectsAnyConflict() || installed.Irreversible) {
			continue
		}
		if jobalgebra.Conflicting(installed.Type, n.Type) {
			return types.NewPlannerError("destructiveness_check", n.Unit, types.KindTransactionIsDestructive, nil)
		}
	}
	return nil
}
