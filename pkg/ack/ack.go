// Package ack defines the boundary contracts towards the activation
// acknowledgement path, the persistence layer, and log collection —
// each an external collaborator out of this module's scope.
// No-op implementations are provided for tests and local development,
// mirroring the DryRun escape hatch in Wingie-beta9/pkg/agent/config.go.
package ack

import (
	"context"

	"github.com/beam-cloud/beta9-preloader/pkg/container"
	"github.com/beam-cloud/beta9-preloader/pkg/types"
)

// MessageKind distinguishes the three activation-acknowledgement message
// shapes.
type MessageKind int

const (
	// Result carries data only; the completion slot-release is pending.
	Result MessageKind = iota
	// CombinedCompletionAndResult carries both data and the slot release.
	CombinedCompletionAndResult
	// Completion carries only the slot release, no data.
	Completion
)

// Message is the payload handed to Acker.SendActiveAck.
type Message struct {
	Kind       MessageKind
	Activation *types.Activation
}

// Acker sends the activation acknowledgement to the (out-of-scope)
// controller/loadbalancer path.
type Acker interface {
	SendActiveAck(ctx context.Context, tid string, activation *types.Activation, blocking bool, controllerIndex int, userUUID string, msg Message) error
}

// Store persists an activation record.
type Store interface {
	StoreActivation(ctx context.Context, tid string, activation *types.Activation, blocking bool, userContext map[string]any) error
}

// LogCollector gathers a container's logs for an activation, if the
// action requests log collection.
type LogCollector interface {
	CollectLogs(ctx context.Context, tid string, user string, activation *types.Activation, c *container.Container, action *types.Action) (*types.ActivationLogs, error)
	LogsToBeCollected(action *types.Action) bool
}

// NoopAcker discards acknowledgements; used by tests and the invoker's default wiring.
type NoopAcker struct{}

func (NoopAcker) SendActiveAck(ctx context.Context, tid string, activation *types.Activation, blocking bool, controllerIndex int, userUUID string, msg Message) error {
	return nil
}

// NoopStore discards activation records; used by tests and the invoker's default wiring.
type NoopStore struct{}

func (NoopStore) StoreActivation(ctx context.Context, tid string, activation *types.Activation, blocking bool, userContext map[string]any) error {
	return nil
}

// NoopLogCollector never collects logs.
type NoopLogCollector struct{}

func (NoopLogCollector) CollectLogs(ctx context.Context, tid string, user string, activation *types.Activation, c *container.Container, action *types.Action) (*types.ActivationLogs, error) {
	return &types.ActivationLogs{}, nil
}

func (NoopLogCollector) LogsToBeCollected(action *types.Action) bool { return false }
