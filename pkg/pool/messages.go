package pool

import "github.com/beam-cloud/beta9-preloader/pkg/types"

// RunMsg asks the Pool to place one activation.
type RunMsg struct {
	Action     *types.Action
	Activation *types.ActivationMessage
}

// NeedWorkMsg reports a container returning to freePool after
// RunCompleted.
type NeedWorkMsg struct {
	ContainerID string
	Data        types.WarmedData
}

// ContainerIdleMsg reports a container's RunningToUser -> Zygote
// transition.
type ContainerIdleMsg struct {
	ContainerID string
	Data        types.WarmedData
}

// StartRunMsg reports a Zygote container receiving a Run directly,
// bypassing the Pool's own schedule() decision. Lambda is the caller's
// fresh arrival-rate estimate for actionKey, folded into the Model
// Table before derived fields are recomputed.
type StartRunMsg struct {
	ContainerID string
	Data        types.ContainerData
	ActionKey   string
	Lambda      float64
}

// PreLoadMsg asks the Pool to schedule a delayed pre-load for the
// action that just ran on ContainerID.
type PreLoadMsg struct {
	ContainerID string
	Data        types.ContainerData
	ActionKey   string
}

// OffLoadSignalMsg reports a shared container being destroyed; its
// resident models must be re-homed.
type OffLoadSignalMsg struct {
	ContainerID string
	ModelNames  []string
}

// ContainerRemovedMsg reports a Proxy tearing its container down.
type ContainerRemovedMsg struct {
	ContainerID    string
	ReplacePrewarm bool
}

// RescheduleJobMsg reports an activation bounced back to the Pool by a
// Proxy (health failure, Removing-state bounce, or buffer overflow).
type RescheduleJobMsg struct {
	ContainerID string
	Activation  *types.ActivationMessage
}

// EmitMetricsMsg asks the Pool to push its current gauge snapshot.
type EmitMetricsMsg struct{}

// AdjustPrewarmedContainerMsg drives the prewarm top-up tick. Reason
// tickInit marks the unconditional call fired once at Pool construction, even
// when PrewarmConfigs is empty, which is deliberate rather than an
// oversight.
type AdjustPrewarmedContainerMsg struct {
	Reason tickReason
}

// internal, self-addressed follow-up messages

type preloadTaskMsg struct {
	modelActionKey string
}

type scheduledPreLoadMsg struct {
	containerID string
	actionKey   string
}

type scheduledOffLoadMsg struct {
	containerID string
	modelName   string
}

type prewarmTickMsg struct{}

type prewarmReadyMsg struct {
	shape   PrewarmingConfig
	proxyID string
}
