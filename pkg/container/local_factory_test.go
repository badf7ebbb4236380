package container

import (
	"context"
	"errors"
	"testing"

	"github.com/beam-cloud/beta9-preloader/pkg/types"
)

func TestLocalFactoryCreateRejectsInvalidImage(t *testing.T) {
	f := NewLocalFactory()
	_, err := f.Create(context.Background(), "tid", "name", "not a valid image!!", false, 256, 0, 0, nil)
	if err == nil {
		t.Fatal("expected an error for a malformed image reference")
	}
}

func TestLocalFactoryCreateSucceeds(t *testing.T) {
	f := NewLocalFactory()
	c, err := f.Create(context.Background(), "tid", "name", "docker.io/library/python:3.11", false, 256, 0, 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ID() == "" {
		t.Error("expected a non-empty container ID")
	}
	if c.Addr() == "" {
		t.Error("expected a non-empty address")
	}
}

func TestLocalFactoryCreateHonorsFailCreate(t *testing.T) {
	f := NewLocalFactory()
	wantErr := errors.New("no capacity")
	f.FailCreate = func(image string) error { return wantErr }

	_, err := f.Create(context.Background(), "tid", "name", "docker.io/library/python:3.11", false, 256, 0, 0, nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected injected FailCreate error, got %v", err)
	}
}

func TestLocalFactoryCreateRespectsContextCancellation(t *testing.T) {
	f := NewLocalFactory()
	f.CreateLatency = 0

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Create(ctx, "tid", "name", "docker.io/library/python:3.11", false, 256, 0, 0, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLocalHandleInitializeRejectsMalformedInitBody(t *testing.T) {
	h := mustCreate(t, NewLocalFactory())
	err := h.Initialize(context.Background(), []byte(`echo "unterminated`), 0, 1, nil)
	if err == nil {
		t.Fatal("expected an error for an unterminated shell token")
	}
}

func TestLocalHandleInitializeHonorsFailInit(t *testing.T) {
	f := NewLocalFactory()
	h := mustCreate(t, f)
	wantErr := errors.New("init boom")
	f.FailInit = func(containerID string) error { return wantErr }

	if err := h.Initialize(context.Background(), nil, 0, 1, nil); !errors.Is(err, wantErr) {
		t.Fatalf("expected injected FailInit error, got %v", err)
	}
}

func TestLocalHandleRunReturnsSuccessfulActivationResponse(t *testing.T) {
	h := mustCreate(t, NewLocalFactory())
	_, resp, err := h.Run(context.Background(), nil, nil, 0, 1, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success || resp.StatusCode != 200 {
		t.Errorf("expected a successful 200 response, got %+v", resp)
	}
}

func TestLocalHandleRunHonorsFailRun(t *testing.T) {
	f := NewLocalFactory()
	h := mustCreate(t, f)
	wantErr := errors.New("run boom")
	f.FailRun = func(containerID string) error { return wantErr }

	_, _, err := h.Run(context.Background(), nil, nil, 0, 1, false)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected injected FailRun error, got %v", err)
	}
}

func TestLocalHandleLoadThenOffloadTracksModel(t *testing.T) {
	h := mustCreate(t, NewLocalFactory()).(*localHandle)

	if err := h.Load(context.Background(), map[string]any{"model": "resnet50"}, nil, 0, 1); err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}
	if !h.loaded["resnet50"] {
		t.Fatal("expected resnet50 to be tracked as loaded")
	}

	if err := h.Offload(context.Background(), map[string]any{"model": "resnet50"}, nil, 0, 1); err != nil {
		t.Fatalf("Offload: unexpected error: %v", err)
	}
	if h.loaded["resnet50"] {
		t.Error("expected resnet50 to be removed after Offload")
	}
}

func TestLocalHandleDestroyMarksDestroyed(t *testing.T) {
	h := mustCreate(t, NewLocalFactory()).(*localHandle)
	if err := h.Destroy(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.destroyed {
		t.Error("expected destroyed flag to be set")
	}
}

func mustCreate(t *testing.T, f *LocalFactory) Handle {
	t.Helper()
	c, err := f.Create(context.Background(), "tid", "name", "docker.io/library/python:3.11", false, 256, 0, 0, &types.Action{})
	if err != nil {
		t.Fatalf("Create: unexpected error: %v", err)
	}
	return c.Handle
}
