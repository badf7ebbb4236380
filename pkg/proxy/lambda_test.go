package proxy

import (
	"testing"
	"time"
)

func TestInterArrivalLambdaZeroOnUnsetLastUsed(t *testing.T) {
	if got := interArrivalLambda(time.Time{}); got != 0 {
		t.Errorf("expected 0 for zero-value lastUsed, got %v", got)
	}
}

func TestInterArrivalLambdaIsInverseOfGap(t *testing.T) {
	got := interArrivalLambda(time.Now().Add(-2 * time.Second))
	if got <= 0 || got > 1 {
		t.Errorf("expected a small positive rate for a ~2s gap, got %v", got)
	}
}
