package pool

import (
	"time"

	"github.com/beam-cloud/beta9-preloader/pkg/types"
)

// pendingRun is one entry in the Pool's own runBuffer: an activation
// that could not be placed on any container, even after eviction. This
// is distinct from a Proxy's local runBuffer, which only buffers excess
// concurrent Runs on an already-assigned container.
type pendingRun struct {
	action     *types.Action
	activation *types.ActivationMessage
}

// runBuffer is a strict-FIFO queue where only the head may be
// re-injected at a time, tracked via resent.
type runBuffer struct {
	items         []pendingRun
	resent        bool
	lastWarnLogAt time.Time
}

func (b *runBuffer) push(action *types.Action, am *types.ActivationMessage) {
	b.items = append(b.items, pendingRun{action: action, activation: am})
}

func (b *runBuffer) len() int {
	return len(b.items)
}

// takeHeadForResend pops the head for a single in-flight re-injection
// attempt; the caller must call resendDone() once that attempt
// completes (success or failure) before another head can be taken.
func (b *runBuffer) takeHeadForResend() (pendingRun, bool) {
	if b.resent || len(b.items) == 0 {
		return pendingRun{}, false
	}
	head := b.items[0]
	b.items = b.items[1:]
	b.resent = true
	return head, true
}

func (b *runBuffer) resendDone() {
	b.resent = false
}

// requeueFront puts an item back at the head, used when a resend
// attempt itself fails to place (still no capacity anywhere).
func (b *runBuffer) requeueFront(r pendingRun) {
	b.items = append([]pendingRun{r}, b.items...)
}

// shouldWarn rate-limits the "buffered, no capacity" log line to once
// per second so a sustained overload doesn't flood the logger.
func (b *runBuffer) shouldWarn(now time.Time) bool {
	if now.Sub(b.lastWarnLogAt) < time.Second {
		return false
	}
	b.lastWarnLogAt = now
	return true
}
