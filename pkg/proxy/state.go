// Package proxy implements the per-container state machine actor: one
// goroutine owns a single container and serializes all work against it
// via a mailbox channel, a single-threaded actor built the way
// Wingie-beta9/pkg/agent/agent.go's runWithLogs/monitorHealth structure
// their long-lived goroutines: a context.Context, a select loop, and
// self-addressed follow-up messages for anything that would otherwise
// block.
package proxy

// State is the Proxy's coarse lifecycle state. Started, Ready, Paused
// and Pausing exist in the historical enum only; no transition enters
// any of them.
type State int

const (
	Uninitialized State = iota
	Starting
	Started // legacy label, never entered by any transition
	Ready   // legacy label, never entered by any transition
	Running
	RunningToUser
	Zygote
	Paused  // never reached by any transition; kept from the historical enum
	Pausing // never reached by any transition; kept from the historical enum
	Removing
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Starting:
		return "Starting"
	case Started:
		return "Started"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case RunningToUser:
		return "RunningToUser"
	case Zygote:
		return "Zygote"
	case Paused:
		return "Paused"
	case Pausing:
		return "Pausing"
	case Removing:
		return "Removing"
	default:
		return "Unknown"
	}
}
