// ============================================================================
// Unit Transaction Planner - Applier (Component G)
// ============================================================================
//
// Package: internal/applier
// File: applier.go
// Purpose: Moves a reduced, gate-cleared transaction into the live job
//          table under a single logical critical section: either every
//          prospective job lands in the table, or none of it does.
//
// A single function documents, in comment form, exactly why its steps
// run in the order they do, with a channel-based hand-off for the
// post-install side-effect fan-out (applier.ChannelExecutor) so the
// commit path never blocks on a slow observer.
//
// ============================================================================

package applier

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/unitplan/internal/jobalgebra"
	"github.com/ChuLiYu/unitplan/internal/jobgraph"
	"github.com/ChuLiYu/unitplan/internal/unitview"
	"github.com/ChuLiYu/unitplan/pkg/types"
)

var log = slog.Default()

// LiveTable is the write-capable extension of unitview.View the Applier
// needs: everything else in the planner only ever reads a View, but the
// Applier is the sole component permitted to mutate the live job table
// (unit-owned, out of this module's scope; SetInstalledJob is the one
// write this component performs on its behalf).
type LiveTable interface {
	unitview.View
	SetInstalledJob(unit types.UnitID, job *types.Job)
}

// IDAllocator hands out monotonic job ids. The process-wide allocator
// lives outside the planner core; this interface is the boundary the
// Applier calls through, with AtomicIDAllocator as the in-process
// adapter this module ships for tests and cmd/planctl.
type IDAllocator interface {
	Next() (types.JobID, error)
}

// AtomicIDAllocator is a simple monotonic, process-local IDAllocator.
type AtomicIDAllocator struct {
	counter uint32
}

// Next returns the next id. Never fails; included to satisfy
// IDAllocator's error return, which a real multi-process allocator
// would need for its own out-of-memory failure path.
func (a *AtomicIDAllocator) Next() (types.JobID, error) {
	return types.JobID(atomic.AddUint32(&a.counter, 1)), nil
}

// Executor is the single interface the unit-state store implements for
// the four ordered post-install side effects, kept out of the core so
// no concrete executor/transport dependency leaks into internal/applier.
type Executor interface {
	EnqueueRun(job *types.Job) error
	NotifyInstalled(job *types.Job) error
	StartTimer(job *types.Job, timeout time.Duration) error
	OnTypeSpecific(job *types.Job) error
}

// NoopExecutor discards every hook. Used as the default and in tests that
// only care about the resulting job table.
type NoopExecutor struct{}

func (NoopExecutor) EnqueueRun(*types.Job) error             { return nil }
func (NoopExecutor) NotifyInstalled(*types.Job) error        { return nil }
func (NoopExecutor) StartTimer(*types.Job, time.Duration) error { return nil }
func (NoopExecutor) OnTypeSpecific(*types.Job) error         { return nil }

// installEvent is one post-install hook call, fanned out over Events.
type installEvent struct {
	Hook string
	Job  types.Job
	Err  error
}

// ChannelExecutor fans every hook call out to a buffered channel instead
// of running synchronously, so the Applier never blocks on a slow
// observer.
type ChannelExecutor struct {
	Events chan installEvent
}

// NewChannelExecutor returns a ChannelExecutor with the given buffer
// size. Sends never block: when the buffer is full, the new event is
// dropped and a warning is logged.
func NewChannelExecutor(buffer int) *ChannelExecutor {
	return &ChannelExecutor{Events: make(chan installEvent, buffer)}
}

func (c *ChannelExecutor) emit(hook string, job *types.Job, err error) error {
	select {
	case c.Events <- installEvent{Hook: hook, Job: *job, Err: err}:
	default:
		log.Warn("channel executor buffer full, dropping event", "hook", hook, "unit", job.Unit)
	}
	return nil
}

func (c *ChannelExecutor) EnqueueRun(job *types.Job) error      { return c.emit("enqueue_run", job, nil) }
func (c *ChannelExecutor) NotifyInstalled(job *types.Job) error { return c.emit("notify_installed", job, nil) }
func (c *ChannelExecutor) StartTimer(job *types.Job, _ time.Duration) error {
	return c.emit("start_timer", job, nil)
}
func (c *ChannelExecutor) OnTypeSpecific(job *types.Job) error { return c.emit("type_specific", job, nil) }

// Apply commits a reduced, gate-cleared transaction into table. On
// success the transaction's job map is empty (every live job has been
// unlinked into table); on OUT_OF_MEMORY the table is restored to
// exactly its pre-call state and tr is left as it was.
func Apply(tr *jobgraph.Transaction, table LiveTable, mode types.Mode, exec Executor, ids IDAllocator, affected *[]types.Job) error {
	if exec == nil {
		exec = NoopExecutor{}
	}

	// The snapshot must be taken before preCancelInstalled runs: that
	// call mutates the live table too, and a failure later in Apply has
	// to unwind both the prospective installs and any pre-cancellation.
	before := snapshotInstalled(table)

	preCancelInstalled(tr, table, mode)

	var installedJobs []*types.Job
	for _, ref := range tr.LiveJobs() {
		n := tr.Get(ref)

		id, err := ids.Next()
		if err != nil {
			rollback(before, table)
			return types.NewPlannerError("apply", n.Unit, types.KindOutOfMemory, err)
		}

		job := installOne(table, n, id)
		installedJobs = append(installedJobs, job)
	}

	for _, ref := range tr.LiveJobs() {
		tr.UnlinkJob(ref, false)
	}

	// Post-install hooks run in a fixed order per job; hook failures are
	// observability concerns, not apply failures, so they are logged and
	// do not unwind the already-committed installs.
	for _, job := range installedJobs {
		if err := exec.EnqueueRun(job); err != nil {
			log.Warn("enqueue_run hook failed", "unit", job.Unit, "error", err)
		}
		if err := exec.NotifyInstalled(job); err != nil {
			log.Warn("notify_installed hook failed", "unit", job.Unit, "error", err)
		}
		if err := exec.StartTimer(job, 0); err != nil {
			log.Warn("start_timer hook failed", "unit", job.Unit, "error", err)
		}
		if err := exec.OnTypeSpecific(job); err != nil {
			log.Warn("type_specific hook failed", "unit", job.Unit, "error", err)
		}
	}

	if affected != nil {
		for _, job := range installedJobs {
			*affected = append(*affected, *job)
		}
	}

	return nil
}

// preCancelInstalled: in isolate/flush mode, any currently-installed job
// whose unit is absent from the transaction and not ignore-on-isolate
// finishes as canceled, non-recursively.
func preCancelInstalled(tr *jobgraph.Transaction, table LiveTable, mode types.Mode) {
	if !mode.PreCancelsInstalled() {
		return
	}
	for _, unit := range table.Units() {
		if table.IgnoreOnIsolate(unit) {
			continue
		}
		if tr.HasJob(unit) {
			continue
		}
		inst := table.InstalledJob(unit)
		if inst == nil {
			continue
		}
		canceled := *inst
		canceled.State = types.JobCanceled
		table.SetInstalledJob(unit, &canceled)
	}
}

// snapshotInstalled captures every unit's installed job before Apply
// touches anything. It must cover the whole table, not just the
// transaction's live units: preCancelInstalled can mutate units that
// have no job in tr at all, and rollback needs to restore those too.
func snapshotInstalled(table LiveTable) map[types.UnitID]*types.Job {
	before := make(map[types.UnitID]*types.Job)
	for _, unit := range table.Units() {
		before[unit] = table.InstalledJob(unit)
	}
	return before
}

func rollback(before map[types.UnitID]*types.Job, table LiveTable) {
	for unit, job := range before {
		table.SetInstalledJob(unit, job)
	}
}

// installOne installs a single prospective job: if the unit already has
// an installed job, the two types are merged and the existing installed
// job survives (keeping its id); otherwise a fresh job with the newly
// allocated id is installed.
func installOne(table LiveTable, n jobgraph.Node, id types.JobID) *types.Job {
	existing := table.InstalledJob(n.Unit)
	if existing == nil {
		job := &types.Job{
			ID:              id,
			Unit:            n.Unit,
			Type:            n.Type,
			State:           types.JobWaiting,
			Irreversible:    n.Irreversible,
			IgnoreOrder:     n.IgnoreOrder,
			MattersToAnchor: n.MattersToAnchor,
		}
		table.SetInstalledJob(n.Unit, job)
		return job
	}

	merged, ok := jobalgebra.Merge(existing.Type, n.Type)
	if !ok {
		// The gate and reducer should have already ruled this out; fall
		// back to the prospective type rather than leaving a stale one.
		merged = n.Type
	}
	existing.Type = merged
	existing.State = types.JobWaiting
	existing.Irreversible = existing.Irreversible || n.Irreversible
	existing.MattersToAnchor = existing.MattersToAnchor || n.MattersToAnchor
	table.SetInstalledJob(n.Unit, existing)
	return existing
}
