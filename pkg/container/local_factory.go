package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/shlex"

	"github.com/beam-cloud/beta9-preloader/pkg/types"
)

// LocalFactory is an in-memory fake of the container runtime factory,
// used by tests and local development in place of the real out-of-scope
// Docker factory. It validates that Action.Image is a well-formed image
// reference and that any shell-style init command it is handed can be
// tokenized, both real boundary checks a factory would perform before
// ever reaching the runtime.
//
// Failure injection lets tests exercise the startup/init/health/run
// error taxonomy in pkg/coreerrors without a real container runtime.
type LocalFactory struct {
	mu sync.Mutex

	CreateLatency time.Duration
	FailCreate    func(image string) error
	FailInit      func(containerID string) error
	FailRun       func(containerID string) error

	created map[string]*localHandle
}

// NewLocalFactory returns a factory with no injected failures.
func NewLocalFactory() *LocalFactory {
	return &LocalFactory{created: make(map[string]*localHandle)}
}

func (f *LocalFactory) Create(ctx context.Context, tid, containerName, image string, pull bool, memoryMB int, cpuShareMillis int, cpuLimitMillis int, action *types.Action) (*Container, error) {
	if _, err := name.ParseReference(image); err != nil {
		return nil, fmt.Errorf("invalid image reference %q: %w", image, err)
	}

	if f.FailCreate != nil {
		if err := f.FailCreate(image); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(f.CreateLatency):
	}

	id := NewContainerID()
	h := &localHandle{
		id:      id,
		addr:    fmt.Sprintf("127.0.0.1:0#%s", id),
		factory: f,
	}

	f.mu.Lock()
	f.created[id] = h
	f.mu.Unlock()

	return &Container{Handle: h}, nil
}

type localHandle struct {
	id      string
	addr    string
	factory *LocalFactory

	mu          sync.Mutex
	initialized bool
	destroyed   bool
	loaded      map[string]bool
}

func (h *localHandle) ID() string   { return h.id }
func (h *localHandle) Addr() string { return h.addr }

func (h *localHandle) Initialize(ctx context.Context, initBody []byte, timeout time.Duration, maxConcurrent int, action *types.Action) error {
	if h.factory.FailInit != nil {
		if err := h.factory.FailInit(h.id); err != nil {
			return err
		}
	}
	if len(initBody) > 0 {
		if _, err := shlex.Split(string(initBody)); err != nil {
			return fmt.Errorf("invalid init command: %w", err)
		}
	}
	h.mu.Lock()
	h.initialized = true
	h.mu.Unlock()
	return nil
}

func (h *localHandle) Run(ctx context.Context, params map[string]any, env []string, timeout time.Duration, maxConcurrent int, reschedule bool) (Interval, *types.ActivationResponse, error) {
	start := time.Now()
	if h.factory.FailRun != nil {
		if err := h.factory.FailRun(h.id); err != nil {
			return Interval{Start: start, End: time.Now()}, nil, err
		}
	}
	resp := &types.ActivationResponse{StatusCode: 200, Success: true, Result: map[string]any{"ok": true}}
	return Interval{Start: start, End: time.Now()}, resp, nil
}

func (h *localHandle) Load(ctx context.Context, params map[string]any, env []string, timeout time.Duration, maxConcurrent int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loaded == nil {
		h.loaded = make(map[string]bool)
	}
	if model, ok := params["model"].(string); ok {
		h.loaded[model] = true
	}
	return nil
}

func (h *localHandle) Offload(ctx context.Context, params map[string]any, env []string, timeout time.Duration, maxConcurrent int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if model, ok := params["model"].(string); ok {
		delete(h.loaded, model)
	}
	return nil
}

func (h *localHandle) Destroy(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed = true
	return nil
}
