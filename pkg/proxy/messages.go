package proxy

import (
	"time"

	"github.com/beam-cloud/beta9-preloader/pkg/container"
	"github.com/beam-cloud/beta9-preloader/pkg/types"
)

// Inbound messages, all processed FIFO off the Proxy's mailbox.

// StartMsg asks an Uninitialized proxy to create and become a prewarm.
type StartMsg struct {
	ExecKind      string
	MemoryLimitMB int
	TTL           *time.Duration
}

// CreateWarmedContainerMsg asks an Uninitialized proxy to create and
// initialize a container for a specific action ahead of any Run.
type CreateWarmedContainerMsg struct {
	Action     *types.Action
	Activation *types.ActivationMessage
}

// RunMsg dispatches one activation to this container.
type RunMsg struct {
	Action     *types.Action
	Activation *types.ActivationMessage
}

// RemoveMsg asks the proxy to tear its container down.
type RemoveMsg struct{}

// LoadModelSignal asks the proxy to issue container.Load for a foreign
// model; the container is not re-initialized first.
type LoadModelSignal struct {
	ModelName string
}

// OffLoadModelSignal asks the proxy to issue container.Offload for a
// foreign model.
type OffLoadModelSignal struct {
	ModelName string
}

// FailureKind classifies a FailureMessage.
type FailureKind int

const (
	ContainerHealthError FailureKind = iota
	OtherFailure
)

// FailureMessage reports a container/runtime failure (health probe or
// a run/init error surfaced asynchronously).
type FailureMessage struct {
	Kind FailureKind
	Err  error
}

// internal, self-addressed messages projecting async I/O completion
// back into the mailbox.

type containerReadyMsg struct {
	c      *container.Container
	action *types.Action
}

type factoryFailedMsg struct {
	err error
}

type initCompletedMsg struct{}

type runOutcomeMsg struct {
	outcome RunOutcome
}

type idleTimeoutMsg struct {
	gen int // generation guard, see idle timer cancellation
}

// PoolHandle is the narrow slice of the Pool a Proxy needs to notify.
// Defined here (not in pkg/pool) so pkg/proxy has no dependency on
// pkg/pool; pkg/pool implements this interface, avoiding the import
// cycle the design notes call out ("Proxy holds only a send-handle to
// Pool, its parent").
type PoolHandle interface {
	NeedWork(containerID string, data types.WarmedData)
	ContainerIdle(containerID string, data types.WarmedData)
	StartRunMessage(containerID string, data types.ContainerData, actionKey string, lambda float64)
	PreLoadMessage(containerID string, actionKey string, modelName string)
	OffLoadSignal(containerID string, modelNames []string)
	ContainerRemoved(containerID string, replacePrewarm bool)
	RescheduleJob(containerID string, activation *types.ActivationMessage)
}

// NotifySocketFailure satisfies healthprobe.FailureNotifier by routing
// the failure through the proxy's own mailbox.
func (p *Proxy) NotifySocketFailure(containerID string) {
	p.mailbox <- FailureMessage{Kind: ContainerHealthError, Err: errHealthProbeExceeded}
}
