package jobgraph

import (
	"testing"

	"github.com/ChuLiYu/unitplan/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddOneJobReturnsExistingSibling(t *testing.T) {
	tr := New(false)
	ref1, isNew1 := tr.AddOneJob("a.service", types.JobStart)
	ref2, isNew2 := tr.AddOneJob("a.service", types.JobStart)

	assert.True(t, isNew1)
	assert.False(t, isNew2)
	assert.Equal(t, ref1, ref2)
}

func TestAddOneJobDistinctTypesAreSiblings(t *testing.T) {
	tr := New(false)
	ref1, _ := tr.AddOneJob("a.service", types.JobStart)
	ref2, _ := tr.AddOneJob("a.service", types.JobStop)

	assert.NotEqual(t, ref1, ref2)
	assert.Len(t, tr.Siblings("a.service"), 2)
}

func TestSetAnchorTwiceWithDifferentJobPanics(t *testing.T) {
	tr := New(false)
	ref1, _ := tr.AddOneJob("a.service", types.JobStart)
	ref2, _ := tr.AddOneJob("b.service", types.JobStart)
	tr.SetAnchor(ref1)

	assert.Panics(t, func() { tr.SetAnchor(ref2) })
}

func TestAnchorPanicsWithoutAnchor(t *testing.T) {
	tr := New(false)
	assert.Panics(t, func() { tr.Anchor() })
}

func TestUnlinkJobCascadesOverMattersEdges(t *testing.T) {
	tr := New(false)
	anchor, _ := tr.AddOneJob("a.service", types.JobStart)
	child, _ := tr.AddOneJob("b.service", types.JobStart)
	grandchild, _ := tr.AddOneJob("c.service", types.JobStart)
	tr.SetAnchor(anchor)
	tr.AddEdge(anchor, child, true, false)
	tr.AddEdge(child, grandchild, true, false)

	tr.UnlinkJob(child, true)

	assert.True(t, tr.IsFreed(child))
	assert.True(t, tr.IsFreed(grandchild))
	assert.False(t, tr.IsFreed(anchor))
}

func TestUnlinkJobWithoutCascadeLeavesObjectsAlone(t *testing.T) {
	tr := New(false)
	anchor, _ := tr.AddOneJob("a.service", types.JobStart)
	child, _ := tr.AddOneJob("b.service", types.JobStart)
	tr.SetAnchor(anchor)
	tr.AddEdge(anchor, child, true, false)

	tr.UnlinkJob(anchor, false)

	assert.True(t, tr.IsFreed(anchor))
	assert.False(t, tr.IsFreed(child))
	assert.Empty(t, tr.ObjectEdges(child))
}

func TestUnlinkUnitFreesAllSiblingsNoCascade(t *testing.T) {
	tr := New(false)
	s1, _ := tr.AddOneJob("a.service", types.JobStart)
	s2, _ := tr.AddOneJob("a.service", types.JobStop)
	tr.SetAnchor(s1)

	tr.UnlinkUnit("a.service")

	assert.True(t, tr.IsFreed(s1))
	assert.True(t, tr.IsFreed(s2))
}

func TestMergeAndDeleteRepointsEdgesAndAnchor(t *testing.T) {
	tr := New(false)
	survivor, _ := tr.AddOneJob("a.service", types.JobStart)
	other, _ := tr.AddOneJob("a.service", types.JobReload)
	puller, _ := tr.AddOneJob("b.service", types.JobStart)
	tr.SetAnchor(other)
	tr.AddEdge(puller, other, true, false)

	tr.MergeAndDelete(survivor, other, types.JobRestart)

	require.True(t, tr.IsFreed(other))
	assert.Equal(t, types.JobRestart, tr.Get(survivor).Type)
	assert.Equal(t, survivor, tr.Anchor())

	objEdges := tr.ObjectEdges(survivor)
	require.Len(t, objEdges, 1)
	assert.Equal(t, puller, tr.EdgeSubjectRef(objEdges[0]))
}

func TestMergeAndDeleteDropsSelfLoop(t *testing.T) {
	tr := New(false)
	survivor, _ := tr.AddOneJob("a.service", types.JobStart)
	other, _ := tr.AddOneJob("a.service", types.JobReload)
	tr.AddEdge(survivor, other, true, false)

	tr.MergeAndDelete(survivor, other, types.JobRestart)

	assert.Empty(t, tr.SubjectEdges(survivor))
	assert.Empty(t, tr.ObjectEdges(survivor))
}

func TestLiveJobsAndLiveUnitsPreserveCreationOrder(t *testing.T) {
	tr := New(false)
	tr.AddOneJob("c.service", types.JobStart)
	tr.AddOneJob("a.service", types.JobStart)
	tr.AddOneJob("a.service", types.JobStop)

	assert.Equal(t, []types.UnitID{"c.service", "a.service"}, tr.LiveUnits())
	assert.Len(t, tr.LiveJobs(), 3)
}

func TestMarkerAndPredecessorScratchState(t *testing.T) {
	tr := New(false)
	ref, _ := tr.AddOneJob("a.service", types.JobStart)
	other, _ := tr.AddOneJob("b.service", types.JobStart)

	assert.Equal(t, Unvisited, tr.Marker(ref))
	tr.SetMarker(ref, OnPath)
	assert.Equal(t, OnPath, tr.Marker(ref))

	_, ok := tr.Predecessor(ref)
	assert.False(t, ok)
	tr.SetPredecessor(ref, other)
	pred, ok := tr.Predecessor(ref)
	assert.True(t, ok)
	assert.Equal(t, other, pred)
}

func TestIrreversibleFlagInheritedFromTransaction(t *testing.T) {
	tr := New(true)
	ref, _ := tr.AddOneJob("a.service", types.JobStart)
	assert.True(t, tr.Get(ref).Irreversible)
}
