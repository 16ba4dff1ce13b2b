// ============================================================================
// Unit Transaction Planner - Façade (A-G wiring)
// ============================================================================
//
// Package: internal/planner
// File: planner.go
// Purpose: The external entrypoints wired over components A-G: a thin
//          struct holding its collaborators, each method a short call
//          sequence with no business logic of its own.
//
// ============================================================================

package planner

import (
	"log/slog"

	"github.com/ChuLiYu/unitplan/internal/applier"
	"github.com/ChuLiYu/unitplan/internal/builder"
	"github.com/ChuLiYu/unitplan/internal/gate"
	"github.com/ChuLiYu/unitplan/internal/jobgraph"
	"github.com/ChuLiYu/unitplan/internal/metrics"
	"github.com/ChuLiYu/unitplan/internal/reducer"
	"github.com/ChuLiYu/unitplan/internal/unitview"
	"github.com/ChuLiYu/unitplan/pkg/types"
)

var log = slog.Default()

// Planner wires components A-G over one unit view and live job table.
// Single-owner, no internal locking: exactly one goroutine may drive a
// Transaction between NewTransaction and Activate/Abort.
type Planner struct {
	View    unitview.View
	Table   applier.LiveTable
	IDs     applier.IDAllocator
	Exec    applier.Executor
	Metrics *metrics.Collector

	builder *builder.Builder
}

// Option configures a Planner at construction.
type Option func(*Planner)

// WithExecutor overrides the default NoopExecutor.
func WithExecutor(exec applier.Executor) Option {
	return func(p *Planner) { p.Exec = exec }
}

// WithIDAllocator overrides the default AtomicIDAllocator.
func WithIDAllocator(ids applier.IDAllocator) Option {
	return func(p *Planner) { p.IDs = ids }
}

// WithMetrics attaches a Collector; Activate reports transaction outcomes,
// reduction duration, and reducer internals through it. Optional.
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Planner) { p.Metrics = m }
}

// New returns a Planner reading and writing through table (which must
// also satisfy unitview.View, since it is both the unit store and the
// live job table in this module's scope).
func New(table applier.LiveTable, opts ...Option) *Planner {
	p := &Planner{
		View:  table,
		Table: table,
		IDs:   &applier.AtomicIDAllocator{},
		Exec:  applier.NoopExecutor{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.builder = builder.New(p.View)
	return p
}

// NewTransaction starts a fresh prospective transaction under mode.
func (p *Planner) NewTransaction(mode types.Mode) *jobgraph.Transaction {
	return jobgraph.New(mode.IsIrreversible())
}

// AddJobAndDependencies adds a job for unit and recursively pulls in its
// dependencies, honoring mode's recursion-skipping flags.
func (p *Planner) AddJobAndDependencies(
	tr *jobgraph.Transaction,
	mode types.Mode,
	t types.JobType,
	unit types.UnitID,
	by jobgraph.Ref,
	matters bool,
	conflicts bool,
	ignoreOrder bool,
) (jobgraph.Ref, error) {
	return p.builder.AddJobAndDependencies(tr, t, unit, by, matters, conflicts, mode.SkipsRecursion(), ignoreOrder)
}

// AddPropagateReloadJobs enumerates a unit's PROPAGATES_RELOAD_TO
// targets and adds collapsed try-reload jobs for each.
func (p *Planner) AddPropagateReloadJobs(tr *jobgraph.Transaction, unit types.UnitID, by jobgraph.Ref, ignoreOrder bool) error {
	return p.builder.AddPropagateReloadJobs(tr, unit, by, ignoreOrder)
}

// AddIsolateJobs adds stop jobs for every unit the isolate candidate
// scan selects.
func (p *Planner) AddIsolateJobs(tr *jobgraph.Transaction) {
	p.builder.AddIsolateJobs(tr)
}

// AddTriggeringJobs adds stop jobs for every active unit triggered by
// unit that has no job queued yet.
func (p *Planner) AddTriggeringJobs(tr *jobgraph.Transaction, unit types.UnitID, by jobgraph.Ref) {
	p.builder.AddTriggeringJobs(tr, unit, by)
}

// Activate runs reduce, gate, apply, in that order. On any error the
// transaction remains owned by the caller and is safe to Abort.
func (p *Planner) Activate(tr *jobgraph.Transaction, mode types.Mode) ([]types.Job, error) {
	var stats reducer.Stats
	var stop func()
	if p.Metrics != nil {
		stop = p.Metrics.TimeReduction()
	}
	err := reducer.Reduce(tr, p.View, mode, &stats)
	if stop != nil {
		stop()
	}
	if p.Metrics != nil {
		for i := 0; i < stats.CyclesBroken; i++ {
			p.Metrics.RecordCycleBroken()
		}
		for i := 0; i < stats.UnmergeableDrops; i++ {
			p.Metrics.RecordUnmergeableDrop()
		}
	}
	if err != nil {
		log.Debug("activate: reduction failed", "error", err)
		p.recordRejected(err)
		return nil, err
	}

	if err := gate.Check(tr, p.View, mode); err != nil {
		log.Debug("activate: destructiveness gate rejected transaction", "error", err)
		p.recordRejected(err)
		return nil, err
	}

	var affected []types.Job
	if err := applier.Apply(tr, p.Table, mode, p.Exec, p.IDs, &affected); err != nil {
		p.recordRejected(err)
		return nil, err
	}
	if p.Metrics != nil {
		p.Metrics.RecordActivated()
		p.Metrics.RecordJobsInstalled(len(affected))
	}
	return affected, nil
}

func (p *Planner) recordRejected(err error) {
	if p.Metrics == nil {
		return
	}
	if perr, ok := err.(*types.PlannerError); ok {
		p.Metrics.RecordRejected(perr.Kind)
	}
}

// Abort frees every prospective job without touching the live job
// table.
func (p *Planner) Abort(tr *jobgraph.Transaction) {
	for _, ref := range tr.LiveJobs() {
		tr.UnlinkJob(ref, false)
	}
}
