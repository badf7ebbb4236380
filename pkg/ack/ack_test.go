package ack

import (
	"context"
	"testing"
)

func TestNoopAckerSendActiveAckReturnsNil(t *testing.T) {
	var a NoopAcker
	if err := a.SendActiveAck(context.Background(), "tid", nil, false, 0, "", Message{}); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestNoopStoreStoreActivationReturnsNil(t *testing.T) {
	var s NoopStore
	if err := s.StoreActivation(context.Background(), "tid", nil, false, nil); err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
}

func TestNoopLogCollectorNeverCollects(t *testing.T) {
	var lc NoopLogCollector
	if lc.LogsToBeCollected(nil) {
		t.Error("expected LogsToBeCollected to always report false")
	}
	logs, err := lc.CollectLogs(context.Background(), "tid", "user", nil, nil, nil)
	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if logs == nil {
		t.Error("expected a non-nil empty ActivationLogs")
	}
}
