package proxy

import "github.com/beam-cloud/beta9-preloader/pkg/types"

// RunOutcomeKind classifies what happened to a Run, replacing
// exception-for-control-flow in initializeAndRun with an explicit result
// taxonomy.
type RunOutcomeKind int

const (
	// Ok: the run produced an activation (success or application error);
	// it drives a success future / RunCompleted.
	Ok RunOutcomeKind = iota
	// Reschedule: a health error mid-run; onRunOutcome destroys the
	// container. initializeAndRun does not produce it: health failures
	// arrive as a FailureMessage and are handled by onFailure.
	Reschedule
	// Aborted: an init failure, or a run error before any run on this
	// container succeeded; buffered runs are aborted with a synthetic
	// activation. Factory failures are handled by onFactoryFailed and
	// never become a RunOutcome.
	Aborted
	// Failed: a run error after at least one prior success; the current
	// run is rescheduled, other in-flight runs continue, and the
	// container moves to Removing once drained.
	Failed
)

// RunOutcome is the result of initializeAndRun, driving proxy state
// transitions without relying on panics/exceptions.
type RunOutcome struct {
	Kind       RunOutcomeKind
	Activation *types.Activation
	Err        error
}
