// Package healthprobe implements an auxiliary TCP-ping task: for each
// started container, connect to its address every checkPeriod; after
// maxFails consecutive failures, signal the owning Proxy and stop.
// Modeled as a single goroutine with a ticker and a done channel,
// mirroring the shape of Wingie-beta9/pkg/agent/agent.go's
// monitorHealth loop.
package healthprobe

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// FailureNotifier is the narrow slice of the Proxy mailbox a Prober
// needs: send a socket-exception failure message.
type FailureNotifier interface {
	NotifySocketFailure(containerID string)
}

// Prober TCP-pings a single container's address on a schedule.
type Prober struct {
	ContainerID string
	Addr        string
	CheckPeriod time.Duration
	MaxFails    int
	DialTimeout time.Duration

	notifier FailureNotifier
	dial     func(network, address string, timeout time.Duration) (net.Conn, error)
}

// NewProber constructs a Prober that notifies notifier after MaxFails
// consecutive TCP dial failures.
func NewProber(containerID, addr string, checkPeriod time.Duration, maxFails int, notifier FailureNotifier) *Prober {
	return &Prober{
		ContainerID: containerID,
		Addr:        addr,
		CheckPeriod: checkPeriod,
		MaxFails:    maxFails,
		DialTimeout: 2 * time.Second,
		notifier:    notifier,
		dial:        net.DialTimeout,
	}
}

// Run blocks, pinging until ctx is cancelled or MaxFails consecutive
// failures occur (in which case it notifies the Proxy and returns).
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.CheckPeriod)
	defer ticker.Stop()

	consecutiveFails := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn, err := p.dial("tcp", p.Addr, p.DialTimeout)
			if err != nil {
				consecutiveFails++
				log.Debug().
					Str("containerId", p.ContainerID).
					Str("addr", p.Addr).
					Int("consecutiveFails", consecutiveFails).
					Msg("health probe failed")

				if consecutiveFails >= p.MaxFails {
					log.Warn().
						Str("containerId", p.ContainerID).
						Int("maxFails", p.MaxFails).
						Msg("health probe exceeded max failures, notifying proxy")
					p.notifier.NotifySocketFailure(p.ContainerID)
					return
				}
				continue
			}
			_ = conn.Close()
			consecutiveFails = 0
		}
	}
}
