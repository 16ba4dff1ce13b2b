package planner

import (
	"testing"

	"github.com/ChuLiYu/unitplan/internal/jobgraph"
	"github.com/ChuLiYu/unitplan/internal/unitview"
	"github.com/ChuLiYu/unitplan/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jobType(t *testing.T, jobs []types.Job, unit types.UnitID) (types.JobType, bool) {
	t.Helper()
	for _, j := range jobs {
		if j.Unit == unit {
			return j.Type, true
		}
	}
	return "", false
}

// S1: a Requires-style cycle (A pulls in B, B pulls in A) is not an
// ordering cycle and must install cleanly.
func TestScenarioRequiresCycleInstallsBoth(t *testing.T) {
	f := unitview.NewFixture()
	f.AddUnit("a.service", types.KindService, types.StateInactive)
	f.AddUnit("b.service", types.KindService, types.StateInactive)
	f.AddDep("a.service", types.AtomPullInStart, "b.service")
	f.AddDep("b.service", types.AtomPullInStart, "a.service")

	p := New(f)
	tr := p.NewTransaction(types.ModeReplace)
	_, err := p.AddJobAndDependencies(tr, types.ModeReplace, types.JobStart, "a.service", jobgraph.ZeroRef, false, false, false)
	require.NoError(t, err)

	affected, err := p.Activate(tr, types.ModeReplace)
	require.NoError(t, err)

	_, aOK := jobType(t, affected, "a.service")
	_, bOK := jobType(t, affected, "b.service")
	assert.True(t, aOK)
	assert.True(t, bOK)
}

// S2 / B1: an ordering cycle that is matters-to-anchor on both sides is
// unbreakable.
func TestScenarioOrderingCycleFailsCyclic(t *testing.T) {
	f := unitview.NewFixture()
	f.AddUnit("a.service", types.KindService, types.StateInactive)
	f.AddUnit("b.service", types.KindService, types.StateInactive)
	f.AddDep("a.service", types.AtomPullInStart, "b.service")
	f.AddDep("a.service", types.AtomBefore, "b.service")
	f.AddDep("b.service", types.AtomBefore, "a.service")

	p := New(f)
	tr := p.NewTransaction(types.ModeReplace)
	_, err := p.AddJobAndDependencies(tr, types.ModeReplace, types.JobStart, "a.service", jobgraph.ZeroRef, false, false, false)
	require.NoError(t, err)

	_, err = p.Activate(tr, types.ModeReplace)
	require.Error(t, err)
	perr, ok := err.(*types.PlannerError)
	require.True(t, ok)
	assert.Equal(t, types.KindOrderIsCyclic, perr.Kind)
}

// S3: starting B, which conflict-pulls a stop of the currently active A.
func TestScenarioConflictPullsInStop(t *testing.T) {
	f := unitview.NewFixture()
	f.AddUnit("a.service", types.KindService, types.StateActive)
	f.AddUnit("b.service", types.KindService, types.StateInactive)
	f.AddDep("b.service", types.AtomPullInStop, "a.service")

	p := New(f)
	tr := p.NewTransaction(types.ModeReplace)
	bRef, err := p.AddJobAndDependencies(tr, types.ModeReplace, types.JobStart, "b.service", jobgraph.ZeroRef, false, false, false)
	require.NoError(t, err)

	aRef := tr.Siblings("a.service")[0]
	edges := tr.ObjectEdges(aRef)
	require.Len(t, edges, 1)
	assert.Equal(t, bRef, tr.EdgeSubjectRef(edges[0]))
	assert.True(t, tr.Edge(edges[0]).Matters)
	assert.True(t, tr.Edge(edges[0]).Conflicts)

	affected, err := p.Activate(tr, types.ModeReplace)
	require.NoError(t, err)

	bType, bOK := jobType(t, affected, "b.service")
	aType, aOK := jobType(t, affected, "a.service")
	require.True(t, bOK)
	require.True(t, aOK)
	assert.Equal(t, types.JobStart, bType)
	assert.Equal(t, types.JobStop, aType)
}

// S4: stopping a unit with an irreversible installed start is destructive.
func TestScenarioDestructiveStopRejected(t *testing.T) {
	f := unitview.NewFixture()
	f.AddUnit("a.service", types.KindService, types.StateActive)
	f.SetInstalledJob("a.service", &types.Job{ID: 1, Unit: "a.service", Type: types.JobStart, Irreversible: true})

	p := New(f)
	tr := p.NewTransaction(types.ModeReplace)
	_, err := p.AddJobAndDependencies(tr, types.ModeReplace, types.JobStop, "a.service", jobgraph.ZeroRef, false, false, false)
	require.NoError(t, err)

	_, err = p.Activate(tr, types.ModeReplace)
	require.Error(t, err)
	perr, ok := err.(*types.PlannerError)
	require.True(t, ok)
	assert.Equal(t, types.KindTransactionIsDestructive, perr.Kind)
}

// S5: add_triggering_jobs enqueues a stop for an active unit triggered by
// the one already being stopped.
func TestScenarioTriggeringJobsAddStop(t *testing.T) {
	f := unitview.NewFixture()
	f.AddUnit("a.service", types.KindService, types.StateActive)
	f.AddUnit("b.device", types.KindDevice, types.StateActive)
	f.AddDep("a.service", types.AtomTriggeredBy, "b.device")

	p := New(f)
	tr := p.NewTransaction(types.ModeReplace)
	anchor, err := p.AddJobAndDependencies(tr, types.ModeReplace, types.JobStop, "a.service", jobgraph.ZeroRef, false, false, false)
	require.NoError(t, err)

	p.AddTriggeringJobs(tr, "a.service", anchor)

	require.True(t, tr.HasJob("b.device"))
	bRef := tr.Siblings("b.device")[0]
	edges := tr.ObjectEdges(bRef)
	require.Len(t, edges, 1)
	assert.True(t, tr.Edge(edges[0]).Matters)
}

// S6: a start and a reload queued on the same unit merge into one
// surviving job whose matters_to_anchor is the OR of the originals.
func TestScenarioSiblingMergeCombinesMattersFlag(t *testing.T) {
	f := unitview.NewFixture()
	f.AddUnit("root.service", types.KindService, types.StateInactive)
	f.AddUnit("x.service", types.KindService, types.StateInactive)

	p := New(f)
	tr := p.NewTransaction(types.ModeReplace)
	anchor, err := p.AddJobAndDependencies(tr, types.ModeReplace, types.JobStart, "root.service", jobgraph.ZeroRef, false, false, false)
	require.NoError(t, err)

	_, err = p.AddJobAndDependencies(tr, types.ModeIgnoreRequirements, types.JobStart, "x.service", anchor, true, false, false)
	require.NoError(t, err)
	_, err = p.AddJobAndDependencies(tr, types.ModeIgnoreRequirements, types.JobReload, "x.service", anchor, false, false, false)
	require.NoError(t, err)

	affected, err := p.Activate(tr, types.ModeReplace)
	require.NoError(t, err)

	xType, ok := jobType(t, affected, "x.service")
	require.True(t, ok)
	assert.Equal(t, types.JobStart, xType)

	installed := f.InstalledJob("x.service")
	require.NotNil(t, installed)
	assert.True(t, installed.MattersToAnchor)
}

// B3/B4: redundant non-anchor jobs are dropped silently.
func TestBoundaryRedundantJobsDropped(t *testing.T) {
	f := unitview.NewFixture()
	f.AddUnit("root.service", types.KindService, types.StateInactive)
	f.AddUnit("already-down.service", types.KindService, types.StateInactive)
	f.AddUnit("already-up.service", types.KindService, types.StateActive)

	p := New(f)
	tr := p.NewTransaction(types.ModeReplace)
	anchor, err := p.AddJobAndDependencies(tr, types.ModeReplace, types.JobStart, "root.service", jobgraph.ZeroRef, false, false, false)
	require.NoError(t, err)
	_, err = p.AddJobAndDependencies(tr, types.ModeIgnoreRequirements, types.JobStop, "already-down.service", anchor, false, false, false)
	require.NoError(t, err)
	_, err = p.AddJobAndDependencies(tr, types.ModeIgnoreRequirements, types.JobVerifyActive, "already-up.service", anchor, false, false, false)
	require.NoError(t, err)

	affected, err := p.Activate(tr, types.ModeReplace)
	require.NoError(t, err)

	_, downPresent := jobType(t, affected, "already-down.service")
	_, upPresent := jobType(t, affected, "already-up.service")
	assert.False(t, downPresent)
	assert.False(t, upPresent)
}

// B5: isolate with every other unit ignore-on-isolate only applies the
// anchor's own effects.
func TestBoundaryIsolateEmptyCandidateSet(t *testing.T) {
	f := unitview.NewFixture()
	f.AddUnit("anchor.target", types.KindTarget, types.StateInactive)
	f.AddUnit("exempt.service", types.KindService, types.StateActive)
	f.SetIgnoreOnIsolate("exempt.service", true)

	p := New(f)
	tr := p.NewTransaction(types.ModeIsolate)
	_, err := p.AddJobAndDependencies(tr, types.ModeIsolate, types.JobStart, "anchor.target", jobgraph.ZeroRef, false, false, false)
	require.NoError(t, err)
	p.AddIsolateJobs(tr)

	affected, err := p.Activate(tr, types.ModeIsolate)
	require.NoError(t, err)

	_, anchorPresent := jobType(t, affected, "anchor.target")
	_, exemptPresent := jobType(t, affected, "exempt.service")
	assert.True(t, anchorPresent)
	assert.False(t, exemptPresent)
}

// R2: abort leaves the live job table untouched.
func TestAbortNeutrality(t *testing.T) {
	f := unitview.NewFixture()
	f.AddUnit("a.service", types.KindService, types.StateInactive)

	p := New(f)
	tr := p.NewTransaction(types.ModeReplace)
	_, err := p.AddJobAndDependencies(tr, types.ModeReplace, types.JobStart, "a.service", jobgraph.ZeroRef, false, false, false)
	require.NoError(t, err)

	p.Abort(tr)

	assert.Nil(t, f.InstalledJob("a.service"))
	assert.Empty(t, tr.LiveJobs())
}
