package types

// Mode is the one enum that crosses the planner's external boundary: it
// tunes destructiveness checking, garbage collection, and
// pre-cancellation behaviour for a single activate() call.
type Mode string

const (
	ModeReplace             Mode = "replace"
	ModeFail                Mode = "fail"
	ModeIsolate             Mode = "isolate"
	ModeFlush               Mode = "flush"
	ModeIgnoreDependencies  Mode = "ignore_dependencies"
	ModeIgnoreRequirements  Mode = "ignore_requirements"
	ModeIrreversible        Mode = "irreversible"
)

// SkipsRecursion reports whether the builder should suppress dependency
// recursion entirely for jobs added under this mode.
func (m Mode) SkipsRecursion() bool {
	return m == ModeIgnoreDependencies || m == ModeIgnoreRequirements
}

// IsIrreversible reports whether every job in the transaction should be
// marked irreversible regardless of the caller's per-call flag.
func (m Mode) IsIrreversible() bool {
	return m == ModeIrreversible
}

// MinimizesImpact reports whether the reducer's minimize-impact pass
// runs for this mode.
func (m Mode) MinimizesImpact() bool {
	return m == ModeFail
}

// SkipsGarbageCollection reports whether the reducer's collect-garbage
// pass is skipped for this mode.
func (m Mode) SkipsGarbageCollection() bool {
	return m == ModeIsolate
}

// RejectsAnyConflict reports whether the destructiveness gate rejects a
// conflict against any installed job, not just an irreversible one.
func (m Mode) RejectsAnyConflict() bool {
	return m == ModeFail
}

// PreCancelsInstalled reports whether the applier pre-cancels installed
// jobs whose units are absent from the transaction.
func (m Mode) PreCancelsInstalled() bool {
	return m == ModeIsolate || m == ModeFlush
}
