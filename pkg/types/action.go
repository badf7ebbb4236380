package types

import "time"

// Limits describes the resource envelope an Action executes under.
type Limits struct {
	MemoryMB      int
	MaxConcurrent int
	TimeoutMs     int
}

// Action is a deployable function definition: exec kind, resource limits,
// and the image the container runtime factory should start.
type Action struct {
	Namespace string
	Name      string
	ExecKind  string
	Image     string
	Limits    Limits

	// InferenceEligible marks actions whose containers may enter the
	// sharedPool and host foreign pre-loaded models.
	InferenceEligible bool

	// ModelName is the model this action's own inference workload uses,
	// if InferenceEligible. Empty for non-inference actions.
	ModelName string
}

// Key returns the fully-qualified "namespace/name" identity used as a
// map key across the Window Registry, Model Table and Pool.
func (a *Action) Key() string {
	return a.Namespace + "/" + a.Name
}

// ActivationMessage is the inbound shape consumed from the (out-of-scope)
// activation message broker, per the external interfaces boundary.
type ActivationMessage struct {
	TransactionID string
	ActivationID  string
	Namespace     string
	UserUUID      string
	Action        *Action
	Blocking      bool
	ControllerIdx int

	InitArgs  map[string]any
	LockedArgs []byte // possibly encrypted; opaque to this module

	// Scheduling hints, minutes, sourced per-activation.
	PreWarmParameter  int
	KeepAliveParameter int
	PreLoadParameter  int
	OffLoadParameter  int
}

// Windows converts the four integer minute fields into durations.
func (m *ActivationMessage) Windows() (preWarm, keepAlive, preLoad, offLoad time.Duration) {
	return time.Duration(m.PreWarmParameter) * time.Minute,
		time.Duration(m.KeepAliveParameter) * time.Minute,
		time.Duration(m.PreLoadParameter) * time.Minute,
		time.Duration(m.OffLoadParameter) * time.Minute
}

// Activation is a materialized execution record, produced whether the run
// succeeded, timed out, or failed, so a reply can always be sent.
type Activation struct {
	ActivationID  string
	TransactionID string
	Namespace     string
	ActionName    string

	InitInterval time.Duration
	RunInterval  time.Duration
	Response     *ActivationResponse
	IsTimeout    bool

	LogsFailed bool
}

// ActivationResponse is the boundary payload returned by a container's
// run/initialize call.
type ActivationResponse struct {
	StatusCode int
	Success    bool
	Result     map[string]any
	Error      string
}

// ActivationLogs is the boundary payload returned by the (out-of-scope)
// log collector.
type ActivationLogs struct {
	Lines []string
}
