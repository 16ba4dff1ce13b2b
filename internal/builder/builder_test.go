package builder

import (
	"testing"

	"github.com/ChuLiYu/unitplan/internal/jobgraph"
	"github.com/ChuLiYu/unitplan/internal/unitview"
	"github.com/ChuLiYu/unitplan/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAnchorTransaction(t *testing.T, b *Builder, unit types.UnitID, jt types.JobType) (*jobgraph.Transaction, jobgraph.Ref) {
	t.Helper()
	tr := jobgraph.New(false)
	ref, err := b.AddJobAndDependencies(tr, jt, unit, jobgraph.ZeroRef, false, false, false, false)
	require.NoError(t, err)
	return tr, ref
}

func TestAddJobAndDependenciesPullsInMandatoryStart(t *testing.T) {
	f := unitview.NewFixture()
	f.AddUnit("a.service", types.KindService, types.StateInactive)
	f.AddUnit("b.service", types.KindService, types.StateInactive)
	f.AddDep("a.service", types.AtomPullInStart, "b.service")

	b := New(f)
	tr, anchor := newAnchorTransaction(t, b, "a.service", types.JobStart)

	require.True(t, tr.HasJob("b.service"))
	bRef := tr.Siblings("b.service")[0]
	edges := tr.ObjectEdges(bRef)
	require.Len(t, edges, 1)
	assert.Equal(t, anchor, tr.EdgeSubjectRef(edges[0]))
	assert.True(t, tr.Edge(edges[0]).Matters)
}

func TestAddJobAndDependenciesUnitNotLoaded(t *testing.T) {
	f := unitview.NewFixture()
	f.AddUnit("a.service", types.KindService, types.StateInactive)
	f.SetLoadState("a.service", types.LoadNotFound)

	b := New(f)
	tr := jobgraph.New(false)
	_, err := b.AddJobAndDependencies(tr, types.JobStart, "a.service", jobgraph.ZeroRef, false, false, false, false)

	require.Error(t, err)
	perr, ok := err.(*types.PlannerError)
	require.True(t, ok)
	assert.Equal(t, types.KindUnitNotLoaded, perr.Kind)
}

func TestAddJobAndDependenciesStopIsAlwaysPermitted(t *testing.T) {
	f := unitview.NewFixture()
	f.AddUnit("a.service", types.KindService, types.StateActive)
	f.SetLoadState("a.service", types.LoadNotFound)

	b := New(f)
	tr := jobgraph.New(false)
	_, err := b.AddJobAndDependencies(tr, types.JobStop, "a.service", jobgraph.ZeroRef, false, false, false, false)
	assert.NoError(t, err)
}

func TestAddJobAndDependenciesJobTypeNotApplicable(t *testing.T) {
	f := unitview.NewFixture()
	f.AddUnit("a.device", types.KindDevice, types.StateActive)

	b := New(f)
	tr := jobgraph.New(false)
	_, err := b.AddJobAndDependencies(tr, types.JobStart, "a.device", jobgraph.ZeroRef, false, false, false, false)

	require.Error(t, err)
	perr, ok := err.(*types.PlannerError)
	require.True(t, ok)
	assert.Equal(t, types.KindJobTypeNotApplicable, perr.Kind)
}

func TestAddJobAndDependenciesIgnoredPullInFailureIsSwallowed(t *testing.T) {
	f := unitview.NewFixture()
	f.AddUnit("a.service", types.KindService, types.StateInactive)
	f.AddUnit("b.device", types.KindDevice, types.StateInactive)
	f.AddDep("a.service", types.AtomPullInStartIgnored, "b.device")

	b := New(f)
	tr, _ := newAnchorTransaction(t, b, "a.service", types.JobStart)
	assert.False(t, tr.HasJob("b.device"))
}

func TestAddJobAndDependenciesMandatoryFailureAbortsBuilder(t *testing.T) {
	f := unitview.NewFixture()
	f.AddUnit("a.service", types.KindService, types.StateInactive)
	f.AddUnit("b.device", types.KindDevice, types.StateInactive)
	f.AddDep("a.service", types.AtomPullInStart, "b.device")

	b := New(f)
	tr := jobgraph.New(false)
	_, err := b.AddJobAndDependencies(tr, types.JobStart, "a.service", jobgraph.ZeroRef, false, false, false, false)
	assert.Error(t, err)
}

func TestAddJobAndDependenciesFollowerPulledInWithMattersFalse(t *testing.T) {
	f := unitview.NewFixture()
	f.AddUnit("a.service", types.KindService, types.StateInactive)
	f.AddUnit("a-alias.service", types.KindService, types.StateInactive)
	f.SetFollowing("a.service", "a-alias.service")

	b := New(f)
	tr, _ := newAnchorTransaction(t, b, "a.service", types.JobStart)

	require.True(t, tr.HasJob("a-alias.service"))
	ref := tr.Siblings("a-alias.service")[0]
	edges := tr.ObjectEdges(ref)
	require.Len(t, edges, 1)
	assert.False(t, tr.Edge(edges[0]).Matters)
}

func TestAddIsolateJobsSkipsExemptAndInactive(t *testing.T) {
	f := unitview.NewFixture()
	f.AddUnit("anchor.target", types.KindTarget, types.StateInactive)
	f.AddUnit("keep.service", types.KindService, types.StateActive)
	f.SetIgnoreOnIsolate("keep.service", true)
	f.AddUnit("down.service", types.KindService, types.StateInactive)
	f.AddUnit("stoppable.service", types.KindService, types.StateActive)

	b := New(f)
	tr, _ := newAnchorTransaction(t, b, "anchor.target", types.JobStart)

	b.AddIsolateJobs(tr)

	assert.False(t, tr.HasJob("keep.service"))
	assert.False(t, tr.HasJob("down.service"))
	assert.True(t, tr.HasJob("stoppable.service"))
}

func TestAddTriggeringJobsEnqueuesStopForActiveTriggeredUnit(t *testing.T) {
	f := unitview.NewFixture()
	f.AddUnit("a.service", types.KindService, types.StateActive)
	f.AddUnit("b.device", types.KindDevice, types.StateActive)
	f.AddDep("a.service", types.AtomTriggeredBy, "b.device")

	b := New(f)
	tr, anchor := newAnchorTransaction(t, b, "a.service", types.JobStop)

	b.AddTriggeringJobs(tr, "a.service", anchor)

	require.True(t, tr.HasJob("b.device"))
	ref := tr.Siblings("b.device")[0]
	assert.Equal(t, types.JobStop, tr.Get(ref).Type)
}
