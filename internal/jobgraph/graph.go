// ============================================================================
// Unit Transaction Planner - Job & Dependency Graph (Component C)
// ============================================================================
//
// Package: internal/jobgraph
// File: graph.go
// Purpose: The in-memory prospective job graph built during a
//          transaction: one node per (unit, job type), with
//          subject/object dependency edges and a per-unit sibling list.
//
// Arena design: a Transaction owns two arenas, nodes and edges,
// addressed by small integer indices (jobIdx, edgeIdx) instead of raw
// pointers. A slice-backed store addressed by integer index, adapted
// for a graph that needs deletion, not just append.
//
// Rather than maintaining head/tail/next link indices on every node for
// its sibling/subject/object chains, this implementation keeps nodes
// and edges as flat, append-only, tombstoned slices and derives "the
// siblings of unit U" / "the subject edges of job J" by a linear scan
// filtering on (unit == U, !freed) / (subject == J, !freed). Transaction
// graphs here are bounded by one unit's dependency closure, not a
// whole system's PID-1 graph, so the O(n) scan is the right trade: it
// is trivially correct (no link-list bookkeeping to get wrong across
// merge/unlink) at a cost that does not matter at this scale. Indices
// are never recycled within a transaction's lifetime — the arena is
// freed wholesale when the transaction ends, so there is no
// use-after-free hazard from stale indices.
//
// ============================================================================

package jobgraph

import (
	"github.com/ChuLiYu/unitplan/pkg/types"
)

// jobIdx addresses a node in Transaction.nodes. noJob means "no such job".
type jobIdx int

const noJob jobIdx = -1

// edgeIdx addresses an edge in Transaction.edges.
type edgeIdx int

const noEdge edgeIdx = -1

// Marker is the tri-state DFS marker used for cycle detection.
type Marker int

const (
	Unvisited Marker = iota
	OnPath
	Done
)

// Node is one prospective Job: a (unit, job type) pair plus its flags
// and the scratch state the reduction passes need.
type Node struct {
	Unit            types.UnitID
	Type            types.JobType
	State           types.JobState
	Irreversible    bool
	IgnoreOrder     bool
	MattersToAnchor bool

	generation  int
	marker      Marker
	predecessor jobIdx
	freed       bool
}

// Edge is a JobDependency: (subject, object, matters, conflicts).
type Edge struct {
	Subject   jobIdx
	Object    jobIdx
	Matters   bool
	Conflicts bool
	freed     bool
}

// Ref is the exported, stable handle a caller outside this package holds
// onto a job node. It wraps jobIdx so callers never construct one by hand.
type Ref struct{ idx jobIdx }

// IsZero reports whether r is the zero Ref (never returned by this
// package's constructors, used as a caller-side "no ref" sentinel).
func (r Ref) IsZero() bool { return r.idx == noJob }

var ZeroRef = Ref{idx: noJob}

// Transaction owns every Job node and JobDependency edge constructed
// while building and reducing one activation request.
type Transaction struct {
	nodes        []Node
	edges        []Edge
	anchor       jobIdx
	Irreversible bool
	generation   int
}

// New creates an empty transaction. irreversible seeds every job node
// created within it: a transaction-wide flag copied in at creation.
func New(irreversible bool) *Transaction {
	return &Transaction{anchor: noJob, Irreversible: irreversible}
}

func toRef(idx jobIdx) Ref { return Ref{idx: idx} }

// AddOneJob finds an existing live sibling of unit with the same type,
// or allocates a new node.
func (t *Transaction) AddOneJob(unit types.UnitID, jt types.JobType) (Ref, bool) {
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.freed || n.Unit != unit || n.Type != jt {
			continue
		}
		return toRef(jobIdx(i)), false
	}
	t.nodes = append(t.nodes, Node{
		Unit:         unit,
		Type:         jt,
		State:        types.JobWaiting,
		Irreversible: t.Irreversible,
		predecessor:  noJob,
	})
	return toRef(jobIdx(len(t.nodes) - 1)), true
}

// SetAnchor designates ref as the transaction's sole anchor job.
// Designating a second, different job is a programming error and panics;
// repeating the call with the current anchor is a no-op.
func (t *Transaction) SetAnchor(ref Ref) {
	if t.anchor != noJob && t.anchor != ref.idx {
		panic("jobgraph: attempted to install a second anchor in one transaction")
	}
	t.anchor = ref.idx
}

// Anchor returns the transaction's anchor job. Panics if none was set,
// since every live transaction must have exactly one.
func (t *Transaction) Anchor() Ref {
	if t.anchor == noJob {
		panic("jobgraph: transaction has no anchor")
	}
	return toRef(t.anchor)
}

// HasAnchor reports whether an anchor has been assigned yet.
func (t *Transaction) HasAnchor() bool { return t.anchor != noJob }

func (t *Transaction) node(ref Ref) *Node { return &t.nodes[ref.idx] }

// Get returns a read-only copy of the node ref refers to.
func (t *Transaction) Get(ref Ref) Node { return t.nodes[ref.idx] }

// SetType changes a node's job type (used by merge).
func (t *Transaction) SetType(ref Ref, jt types.JobType) { t.node(ref).Type = jt }

// SetIgnoreOrder propagates the ignore_order flag onto ref.
func (t *Transaction) SetIgnoreOrder(ref Ref, v bool) { t.node(ref).IgnoreOrder = v }

// IgnoreOrder reports a node's ignore_order flag.
func (t *Transaction) IgnoreOrder(ref Ref) bool { return t.node(ref).IgnoreOrder }

// MarkMattersToAnchor sets the matters_to_anchor flag (used by the
// anchor-relevance sweep).
func (t *Transaction) MarkMattersToAnchor(ref Ref, generation int) {
	n := t.node(ref)
	n.MattersToAnchor = true
	n.generation = generation
}

// MattersToAnchor reports whether ref was reached by the last
// anchor-relevance sweep.
func (t *Transaction) MattersToAnchor(ref Ref) bool { return t.node(ref).MattersToAnchor }

// IsFreed reports whether ref has been unlinked from the transaction.
func (t *Transaction) IsFreed(ref Ref) bool { return t.node(ref).freed }

// AddEdge records a JobDependency.
func (t *Transaction) AddEdge(subject, object Ref, matters, conflicts bool) edgeIdx {
	t.edges = append(t.edges, Edge{Subject: subject.idx, Object: object.idx, Matters: matters, Conflicts: conflicts})
	return edgeIdx(len(t.edges) - 1)
}

// Siblings returns, in insertion order, every live job for unit.
// Sibling iteration must be insertion order, not hash order — satisfied
// here because the node arena is append-only and we scan it front to
// back.
func (t *Transaction) Siblings(unit types.UnitID) []Ref {
	var out []Ref
	for i := range t.nodes {
		if !t.nodes[i].freed && t.nodes[i].Unit == unit {
			out = append(out, toRef(jobIdx(i)))
		}
	}
	return out
}

// HasJob reports whether unit has any live job in the transaction.
func (t *Transaction) HasJob(unit types.UnitID) bool {
	return len(t.Siblings(unit)) > 0
}

// SubjectEdges returns, in insertion order, every live edge where ref is
// the subject (edges ref pulled in).
func (t *Transaction) SubjectEdges(ref Ref) []edgeIdx {
	var out []edgeIdx
	for i := range t.edges {
		if !t.edges[i].freed && t.edges[i].Subject == ref.idx {
			out = append(out, edgeIdx(i))
		}
	}
	return out
}

// ObjectEdges returns, in insertion order, every live edge where ref is
// the object (edges that pulled ref in).
func (t *Transaction) ObjectEdges(ref Ref) []edgeIdx {
	var out []edgeIdx
	for i := range t.edges {
		if !t.edges[i].freed && t.edges[i].Object == ref.idx {
			out = append(out, edgeIdx(i))
		}
	}
	return out
}

// Edge returns a copy of the edge at idx.
func (t *Transaction) Edge(idx edgeIdx) Edge { return t.edges[idx] }

// EdgeObjectRef and EdgeSubjectRef convert an edge's endpoints to Refs.
func (t *Transaction) EdgeObjectRef(idx edgeIdx) Ref  { return toRef(t.edges[idx].Object) }
func (t *Transaction) EdgeSubjectRef(idx edgeIdx) Ref { return toRef(t.edges[idx].Subject) }

func (t *Transaction) freeEdge(idx edgeIdx) { t.edges[idx].freed = true }

// UnlinkJob removes ref from the transaction and frees every edge
// touching it. If deleteDependencies is true, also recursively unlinks
// any object reached from ref through a matters=true edge, cascading
// the removal of things only ref needed.
func (t *Transaction) UnlinkJob(ref Ref, deleteDependencies bool) {
	if t.node(ref).freed {
		return
	}

	var cascade []Ref
	if deleteDependencies {
		for _, ei := range t.SubjectEdges(ref) {
			e := t.edges[ei]
			if e.Matters {
				cascade = append(cascade, toRef(e.Object))
			}
		}
	}

	t.node(ref).freed = true
	for i := range t.edges {
		if !t.edges[i].freed && (t.edges[i].Subject == ref.idx || t.edges[i].Object == ref.idx) {
			t.freeEdge(edgeIdx(i))
		}
	}

	for _, c := range cascade {
		t.UnlinkJob(c, true)
	}
}

// UnlinkUnit unlinks every live sibling job for unit, without cascading
// dependency deletion. Used by cycle-break victim selection, which
// deletes the victim's whole unit (all sibling types).
func (t *Transaction) UnlinkUnit(unit types.UnitID) {
	for _, ref := range t.Siblings(unit) {
		t.UnlinkJob(ref, false)
	}
}

// MergeAndDelete combines two siblings for the same unit into one job
// of type jt. other's edges are re-parented onto survivor and other is
// freed. If other was the anchor, survivor becomes the anchor.
func (t *Transaction) MergeAndDelete(survivor, other Ref, jt types.JobType) {
	s := t.node(survivor)
	o := t.node(other)

	s.Type = jt
	s.Irreversible = s.Irreversible || o.Irreversible
	s.MattersToAnchor = s.MattersToAnchor || o.MattersToAnchor

	for i := range t.edges {
		e := &t.edges[i]
		if e.freed {
			continue
		}
		if e.Subject == other.idx {
			e.Subject = survivor.idx
		}
		if e.Object == other.idx {
			e.Object = survivor.idx
		}
		// A self-loop produced by the merge (survivor pulling itself in,
		// because survivor and other both depended on or were depended
		// on by each other) carries no information once the two jobs
		// are one job.
		if !e.freed && e.Subject == survivor.idx && e.Object == survivor.idx {
			e.freed = true
		}
	}

	o.freed = true
	if t.anchor == other.idx {
		t.anchor = survivor.idx
	}
}

// LiveJobs returns every live job in the transaction, in arena (creation)
// order.
func (t *Transaction) LiveJobs() []Ref {
	var out []Ref
	for i := range t.nodes {
		if !t.nodes[i].freed {
			out = append(out, toRef(jobIdx(i)))
		}
	}
	return out
}

// LiveUnits returns, in first-creation order, each unit with at least one
// live job.
func (t *Transaction) LiveUnits() []types.UnitID {
	var out []types.UnitID
	seen := make(map[types.UnitID]bool)
	for _, ref := range t.LiveJobs() {
		u := t.node(ref).Unit
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// --- cycle-detection scratch state ---------------------------------------

// NextGeneration bumps and returns the transaction-wide generation
// counter, and is called once per reduction pass that needs a fresh
// anchor-relevance or cycle sweep.
func (t *Transaction) NextGeneration() int {
	t.generation++
	return t.generation
}

// ResetMarkers clears every live node's DFS marker/predecessor ahead of a
// fresh cycle-detection sweep.
func (t *Transaction) ResetMarkers() {
	for i := range t.nodes {
		t.nodes[i].marker = Unvisited
		t.nodes[i].predecessor = noJob
	}
}

// ResetMattersToAnchor clears every live node's matters_to_anchor flag
// ahead of a fresh anchor-relevance sweep; the flag is recomputed each
// pass.
func (t *Transaction) ResetMattersToAnchor() {
	for i := range t.nodes {
		t.nodes[i].MattersToAnchor = false
	}
}

func (t *Transaction) Marker(ref Ref) Marker       { return t.node(ref).marker }
func (t *Transaction) SetMarker(ref Ref, m Marker) { t.node(ref).marker = m }
func (t *Transaction) Predecessor(ref Ref) (Ref, bool) {
	p := t.node(ref).predecessor
	if p == noJob {
		return ZeroRef, false
	}
	return toRef(p), true
}
func (t *Transaction) SetPredecessor(ref, pred Ref) { t.node(ref).predecessor = pred.idx }
