// ============================================================================
// Unit Transaction Planner - In-Memory Unit View Fixture
// ============================================================================
//
// Package: internal/unitview
// File: fixture.go
// Purpose: An in-memory View implementation for tests and for the
//          cmd/planctl demo harness. Loadable from a YAML scenario file
//          describing units and their dependency edges.
//
// A concrete adapter behind the narrow View interface: a YAML-driven
// fixture store, since the planner core has no network concerns of its
// own.
//
// ============================================================================

package unitview

import (
	"fmt"
	"os"
	"sync"

	"github.com/ChuLiYu/unitplan/pkg/types"
	"gopkg.in/yaml.v3"
)

// unitRecord holds everything the fixture knows about one unit.
type unitRecord struct {
	state           types.ActiveState
	load            types.LoadState
	kind            types.UnitKind
	installed       *types.Job
	ignoreOnIsolate bool
	isAlias         bool
	following       types.UnitID
	hasFollowing    bool
	deps            map[types.Atom][]types.UnitID
}

// Fixture is a mutable, in-memory View. Safe for concurrent use; the
// planner itself never needs concurrent access to a View during a single
// transaction, but a test harness building several transactions against
// one fixture from multiple goroutines should not have to care.
type Fixture struct {
	mu        sync.RWMutex
	units     map[types.UnitID]*unitRecord
	order     []types.UnitID
	coldplugs []types.UnitID
}

// NewFixture returns an empty fixture. Units default to LoadLoaded,
// StateInactive, KindService until configured otherwise.
func NewFixture() *Fixture {
	return &Fixture{units: make(map[types.UnitID]*unitRecord)}
}

func (f *Fixture) record(unit types.UnitID) *unitRecord {
	r, ok := f.units[unit]
	if !ok {
		r = &unitRecord{
			state: types.StateInactive,
			load:  types.LoadLoaded,
			kind:  types.KindService,
			deps:  make(map[types.Atom][]types.UnitID),
		}
		f.units[unit] = r
		f.order = append(f.order, unit)
	}
	return r
}

// AddUnit ensures unit exists with the given kind and state; it is a
// convenience for building scenarios by hand in tests.
func (f *Fixture) AddUnit(unit types.UnitID, kind types.UnitKind, state types.ActiveState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.record(unit)
	r.kind = kind
	r.state = state
}

// SetLoadState overrides a unit's load state (default LoadLoaded).
func (f *Fixture) SetLoadState(unit types.UnitID, load types.LoadState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(unit).load = load
}

// SetIgnoreOnIsolate sets the unit's ignore-on-isolate flag.
func (f *Fixture) SetIgnoreOnIsolate(unit types.UnitID, ignore bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(unit).ignoreOnIsolate = ignore
}

// SetAlias marks unit as an alias, excluded from isolate candidate scans.
func (f *Fixture) SetAlias(unit types.UnitID, alias bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(unit).isAlias = alias
}

// SetFollowing records that unit follows representative.
func (f *Fixture) SetFollowing(unit, representative types.UnitID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.record(unit)
	r.following = representative
	r.hasFollowing = true
}

// SetInstalledJob records the job currently installed for unit, or clears
// it when job is nil.
func (f *Fixture) SetInstalledJob(unit types.UnitID, job *types.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(unit).installed = job
}

// AddDep adds a directed atom edge unit --atom--> target.
func (f *Fixture) AddDep(unit types.UnitID, atom types.Atom, target types.UnitID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.record(unit)
	r.deps[atom] = append(r.deps[atom], target)
	f.record(target) // ensure target is a known unit too
}

// SetActiveState updates a unit's active state after creation (tests often
// need to move a unit's state mid-scenario).
func (f *Fixture) SetActiveState(unit types.UnitID, state types.ActiveState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(unit).state = state
}

// Coldplugs returns the units that were asked to coldplug, in call order.
// Exposed for tests asserting RequestColdplug was invoked.
func (f *Fixture) Coldplugs() []types.UnitID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]types.UnitID, len(f.coldplugs))
	copy(out, f.coldplugs)
	return out
}

// --- View implementation -----------------------------------------------

func (f *Fixture) ActiveState(unit types.UnitID) types.ActiveState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if r, ok := f.units[unit]; ok {
		return r.state
	}
	return types.StateInactive
}

func (f *Fixture) LoadState(unit types.UnitID) types.LoadState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if r, ok := f.units[unit]; ok {
		return r.load
	}
	return types.LoadNotFound
}

func (f *Fixture) Kind(unit types.UnitID) types.UnitKind {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if r, ok := f.units[unit]; ok {
		return r.kind
	}
	return types.KindService
}

func (f *Fixture) InstalledJob(unit types.UnitID) *types.Job {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if r, ok := f.units[unit]; ok {
		return r.installed
	}
	return nil
}

func (f *Fixture) IgnoreOnIsolate(unit types.UnitID) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if r, ok := f.units[unit]; ok {
		return r.ignoreOnIsolate
	}
	return false
}

func (f *Fixture) IsAlias(unit types.UnitID) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if r, ok := f.units[unit]; ok {
		return r.isAlias
	}
	return false
}

func (f *Fixture) Following(unit types.UnitID) (types.UnitID, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if r, ok := f.units[unit]; ok && r.hasFollowing {
		return r.following, true
	}
	return "", false
}

func (f *Fixture) Deps(unit types.UnitID, atom types.Atom) []types.UnitID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if r, ok := f.units[unit]; ok {
		out := make([]types.UnitID, len(r.deps[atom]))
		copy(out, r.deps[atom])
		return out
	}
	return nil
}

func (f *Fixture) Units() []types.UnitID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]types.UnitID, len(f.order))
	copy(out, f.order)
	return out
}

func (f *Fixture) RequestColdplug(unit types.UnitID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coldplugs = append(f.coldplugs, unit)
}

// --- YAML scenario loading ------------------------------------------------

// scenarioFile is the on-disk shape for cmd/planctl fixtures.
type scenarioFile struct {
	Units []struct {
		Name            string   `yaml:"name"`
		Kind            string   `yaml:"kind"`
		State           string   `yaml:"state"`
		Load            string   `yaml:"load"`
		IgnoreOnIsolate bool     `yaml:"ignore_on_isolate"`
		Alias           bool     `yaml:"alias"`
		Following       string   `yaml:"following"`
		Before          []string `yaml:"before"`
		After           []string `yaml:"after"`
		PullInStart     []string `yaml:"pull_in_start"`
		PullInStartIgnored []string `yaml:"pull_in_start_ignored"`
		PullInVerify    []string `yaml:"pull_in_verify"`
		PullInStop      []string `yaml:"pull_in_stop"`
		PullInStopIgnored  []string `yaml:"pull_in_stop_ignored"`
		PropagateStop   []string `yaml:"propagate_stop"`
		PropagateRestart []string `yaml:"propagate_restart"`
		PropagatesReloadTo []string `yaml:"propagates_reload_to"`
		TriggeredBy     []string `yaml:"triggered_by"`
	} `yaml:"units"`
}

// LoadFixtureYAML parses a scenario file into a fresh Fixture. The
// format is a struct-of-structs-with-yaml-tags style, scoped to
// describing a unit dependency graph instead of runtime knobs.
func LoadFixtureYAML(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var sf scenarioFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	f := NewFixture()
	for _, u := range sf.Units {
		id := types.UnitID(u.Name)
		kind := types.KindService
		if u.Kind != "" {
			kind = types.UnitKind(u.Kind)
		}
		state := types.StateInactive
		if u.State != "" {
			state = types.ActiveState(u.State)
		}
		f.AddUnit(id, kind, state)
		if u.Load != "" {
			f.SetLoadState(id, types.LoadState(u.Load))
		}
		f.SetIgnoreOnIsolate(id, u.IgnoreOnIsolate)
		f.SetAlias(id, u.Alias)
		if u.Following != "" {
			f.SetFollowing(id, types.UnitID(u.Following))
		}
		addAll := func(atom types.Atom, targets []string) {
			for _, t := range targets {
				f.AddDep(id, atom, types.UnitID(t))
			}
		}
		addAll(types.AtomBefore, u.Before)
		addAll(types.AtomAfter, u.After)
		addAll(types.AtomPullInStart, u.PullInStart)
		addAll(types.AtomPullInStartIgnored, u.PullInStartIgnored)
		addAll(types.AtomPullInVerify, u.PullInVerify)
		addAll(types.AtomPullInStop, u.PullInStop)
		addAll(types.AtomPullInStopIgnored, u.PullInStopIgnored)
		addAll(types.AtomPropagateStop, u.PropagateStop)
		addAll(types.AtomPropagateRestart, u.PropagateRestart)
		addAll(types.AtomPropagatesReloadTo, u.PropagatesReloadTo)
		addAll(types.AtomTriggeredBy, u.TriggeredBy)
	}

	return f, nil
}
