// Package container defines the boundary contract towards the (out of
// scope) container runtime factory: creating, initializing, running,
// loading/offloading models onto, and destroying a container process.
// Only the interface is specified here; the real Docker-backed factory
// lives outside this module's scope.
package container

import (
	"context"
	"time"

	"github.com/beam-cloud/beta9-preloader/pkg/types"
	"github.com/google/uuid"
)

// Interval is a (start, end) pair used to report init/run timing.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Duration returns End-Start.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Handle is the per-container capability set a Proxy drives: initialize,
// run, load, offload, destroy.
type Handle interface {
	ID() string
	Addr() string

	Initialize(ctx context.Context, initBody []byte, timeout time.Duration, maxConcurrent int, action *types.Action) error
	Run(ctx context.Context, params map[string]any, env []string, timeout time.Duration, maxConcurrent int, reschedule bool) (Interval, *types.ActivationResponse, error)
	Load(ctx context.Context, params map[string]any, env []string, timeout time.Duration, maxConcurrent int) error
	Offload(ctx context.Context, params map[string]any, env []string, timeout time.Duration, maxConcurrent int) error
	Destroy(ctx context.Context) error
}

// Container is the thin handle to a running container process a Proxy
// owns exclusively.
type Container struct {
	Handle
}

// ID satisfies types.ContainerHandle without re-exposing the whole Handle
// surface to pkg/types.
func (c *Container) ID() string { return c.Handle.ID() }

// Addr satisfies types.ContainerHandle.
func (c *Container) Addr() string { return c.Handle.Addr() }

// Factory abstracts container creation: the boundary contract is
//
//	factory(tid, name, image, pull, memory, cpuShare, cpuLimit, action?) -> Future<Container>
//
// projected into Go as a blocking call whose result a Proxy receives as a
// self-addressed message.
type Factory interface {
	Create(ctx context.Context, tid, name, image string, pull bool, memoryMB int, cpuShareMillis int, cpuLimitMillis int, action *types.Action) (*Container, error)
}

// NewContainerID generates a container identifier via github.com/google/uuid.
func NewContainerID() string {
	return uuid.NewString()
}
