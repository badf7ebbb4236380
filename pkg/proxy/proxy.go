package proxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/beta9-preloader/pkg/ack"
	"github.com/beam-cloud/beta9-preloader/pkg/container"
	"github.com/beam-cloud/beta9-preloader/pkg/coreerrors"
	"github.com/beam-cloud/beta9-preloader/pkg/healthprobe"
	"github.com/beam-cloud/beta9-preloader/pkg/types"
)

var errHealthProbeExceeded = errors.New("health probe exceeded max consecutive failures")

// bufferedRun is one FIFO entry in the Proxy's local runBuffer: only
// the head may be re-injected, tracked via resent so it is never
// duplicated.
type bufferedRun struct {
	action     *types.Action
	activation *types.ActivationMessage
}

// Deps bundles the Proxy's external collaborators, all boundary
// contracts owned by other packages.
type Deps struct {
	Factory container.Factory
	Pool    PoolHandle
	Acker   ack.Acker
	Store   ack.Store
	Logs    ack.LogCollector
}

// Proxy is the per-container state machine actor. One
// goroutine owns exactly one container and serializes all work against
// it by draining a mailbox, a long-lived goroutine-with-a-select
// pattern grounded on Wingie-beta9/pkg/agent/agent.go.
type Proxy struct {
	id        string
	namespace string

	deps Deps

	mailbox chan any

	state State
	data  types.ContainerData

	c *container.Container

	activeCount   int
	maxConcurrent int

	runBuffer []bufferedRun
	resent    bool
	inFlight  []bufferedRun

	keepAliveWindow time.Duration
	idleTimer       *time.Timer
	idleGen         int

	healthCheckPeriod time.Duration
	healthMaxFails    int

	anySucceeded  bool
	lastModelName string

	pendingPurpose creationPurpose
	pendingStart   StartMsg
	pendingRun     *bufferedRun

	log zerolog.Logger
}

// creationPurpose records why createContainer was invoked, so the
// single mailbox goroutine (not the creation goroutine) can decide how
// to fold the result into ContainerData once containerReadyMsg arrives.
type creationPurpose int

const (
	purposePrewarm creationPurpose = iota
	purposeWarm
	purposeColdRun
)

// New constructs a Proxy in the Uninitialized state. id identifies the
// container slot before any container exists. healthCheckPeriod <= 0
// disables the per-container health probe.
func New(id, namespace string, keepAliveWindow, healthCheckPeriod time.Duration, healthMaxFails int, deps Deps) *Proxy {
	return &Proxy{
		id:                id,
		namespace:         namespace,
		deps:              deps,
		mailbox:           make(chan any, 64),
		state:             Uninitialized,
		data:              types.NoData{},
		keepAliveWindow:   keepAliveWindow,
		healthCheckPeriod: healthCheckPeriod,
		healthMaxFails:    healthMaxFails,
		log:               log.With().Str("proxyId", id).Logger(),
	}
}

// Send enqueues a message on the Proxy's mailbox. Never blocks the
// caller's own mailbox processing: callers invoke this from
// their own goroutine, not from inside their own handler synchronously
// waiting on a reply.
func (p *Proxy) Send(msg any) {
	p.mailbox <- msg
}

// Run drains the mailbox until ctx is cancelled; reaching Removing does
// not by itself stop the loop.
func (p *Proxy) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.mailbox:
			p.handle(ctx, msg)
		}
	}
}

func (p *Proxy) handle(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case StartMsg:
		p.onStart(ctx, m)
	case CreateWarmedContainerMsg:
		p.onCreateWarmedContainer(ctx, m)
	case RunMsg:
		p.onRun(ctx, m)
	case RemoveMsg:
		p.onRemove(ctx)
	case LoadModelSignal:
		p.onLoadModel(ctx, m)
	case OffLoadModelSignal:
		p.onOffLoadModel(ctx, m)
	case FailureMessage:
		p.onFailure(ctx, m)
	case containerReadyMsg:
		p.onContainerReady(ctx, m)
	case factoryFailedMsg:
		p.onFactoryFailed(ctx, m)
	case initCompletedMsg:
		p.onInitCompleted()
	case runOutcomeMsg:
		p.onRunOutcome(ctx, m.outcome)
	case idleTimeoutMsg:
		p.onIdleTimeout(ctx, m)
	case resentClearedMsg:
		p.resent = false
	default:
		p.log.Warn().Str("type", fmt.Sprintf("%T", msg)).Msg("proxy: unrecognized mailbox message")
	}
}

// --- Uninitialized transitions ---

func (p *Proxy) onStart(ctx context.Context, m StartMsg) {
	if p.state != Uninitialized {
		return
	}
	p.state = Starting
	p.pendingPurpose = purposePrewarm
	p.pendingStart = m
	go p.createContainer(ctx, "", nil)
}

func (p *Proxy) onCreateWarmedContainer(ctx context.Context, m CreateWarmedContainerMsg) {
	if p.state != Uninitialized {
		return
	}
	p.state = Starting
	p.maxConcurrent = m.Action.Limits.MaxConcurrent
	p.pendingPurpose = purposeWarm
	go p.createContainer(ctx, m.Action.Image, m.Action)
}

func (p *Proxy) onRun(ctx context.Context, m RunMsg) {
	switch p.state {
	case Uninitialized:
		p.state = Starting
		p.maxConcurrent = m.Action.Limits.MaxConcurrent
		p.pendingPurpose = purposeColdRun
		p.pendingRun = &bufferedRun{action: m.Action, activation: m.Activation}
		go p.createContainer(ctx, m.Action.Image, m.Action)
	case RunningToUser:
		p.activeCount++
		p.state = Running
		p.dispatchRun(ctx, m.Action, m.Activation)
	case Zygote:
		if wd, ok := p.data.(types.WarmedData); ok {
			p.deps.Pool.StartRunMessage(p.id, wd, actionKey(p.namespace, m.Action.Name), interArrivalLambda(wd.LastUsed))
		}
		p.activeCount++
		p.state = Running
		p.dispatchRun(ctx, m.Action, m.Activation)
	case Running:
		if p.activeCount < p.maxConcurrent {
			p.activeCount++
			p.dispatchRun(ctx, m.Action, m.Activation)
		} else {
			p.runBuffer = append(p.runBuffer, bufferedRun{action: m.Action, activation: m.Activation})
		}
	case Removing:
		p.deps.Pool.RescheduleJob(p.id, m.Activation)
	default:
		p.runBuffer = append(p.runBuffer, bufferedRun{action: m.Action, activation: m.Activation})
	}
}

func (p *Proxy) onRemove(ctx context.Context) {
	switch p.state {
	case RunningToUser:
		p.destroy(ctx, false)
	case Zygote:
		if wd, ok := p.data.(types.WarmedData); ok {
			p.deps.Pool.OffLoadSignal(p.id, nil)
			_ = wd
		}
		p.destroy(ctx, false)
	default:
		p.destroy(ctx, false)
	}
}

func (p *Proxy) onLoadModel(ctx context.Context, m LoadModelSignal) {
	if p.state != RunningToUser && p.state != Zygote {
		return
	}
	if p.c == nil {
		return
	}
	go func() {
		params := map[string]any{"model": m.ModelName}
		if err := p.c.Load(ctx, params, nil, 0, p.maxConcurrent); err != nil {
			p.log.Warn().Err(err).Str("model", m.ModelName).Msg("proxy: load model signal failed")
		}
	}()
}

func (p *Proxy) onOffLoadModel(ctx context.Context, m OffLoadModelSignal) {
	if p.state != RunningToUser && p.state != Zygote {
		return
	}
	if p.c == nil {
		return
	}
	go func() {
		params := map[string]any{"model": m.ModelName}
		if err := p.c.Offload(ctx, params, nil, 0, p.maxConcurrent); err != nil {
			p.log.Warn().Err(err).Str("model", m.ModelName).Msg("proxy: offload model signal failed")
		}
	}()
}

// --- container creation plumbing ---

// createContainer runs in its own goroutine and only ever talks back to
// the Proxy through the mailbox.
func (p *Proxy) createContainer(ctx context.Context, image string, action *types.Action) {
	memoryMB := 0
	if action != nil {
		memoryMB = action.Limits.MemoryMB
	}
	c, err := p.deps.Factory.Create(ctx, p.id, p.id, image, true, memoryMB, 0, 0, action)
	if err != nil {
		p.mailbox <- factoryFailedMsg{err: err}
		return
	}
	p.mailbox <- containerReadyMsg{c: c, action: action}
}

func (p *Proxy) onContainerReady(ctx context.Context, m containerReadyMsg) {
	if p.state != Starting {
		return
	}
	p.c = m.c
	p.startHealthProbe(ctx)

	switch p.pendingPurpose {
	case purposePrewarm:
		p.data = types.PreWarmedData{
			Container:     m.c,
			ExecKind:      p.pendingStart.ExecKind,
			MemoryLimitMB: p.pendingStart.MemoryLimitMB,
			Expires:       expiresFromTTL(p.pendingStart.TTL),
		}
		p.state = RunningToUser
		p.armIdleTimer(p.keepAliveWindow)

	case purposeWarm:
		wd := types.WarmingData{
			Container:     m.c,
			Namespace:     p.namespace,
			Action:        m.action.Name,
			MemoryLimitMB: m.action.Limits.MemoryMB,
			MaxConcurrent: m.action.Limits.MaxConcurrent,
		}
		p.data = wd
		p.deps.Pool.NeedWork(p.id, types.WarmedData{
			Container:     wd.Container,
			Namespace:     wd.Namespace,
			Action:        wd.Action,
			MemoryLimitMB: wd.MemoryLimitMB,
			MaxConcurrent: wd.MaxConcurrent,
			LastUsed:      time.Now(),
		})
		p.state = RunningToUser
		p.armIdleTimer(p.keepAliveWindow)

	case purposeColdRun:
		p.data = types.WarmingColdData{
			Container:     m.c,
			Namespace:     p.namespace,
			Action:        m.action.Name,
			MemoryLimitMB: m.action.Limits.MemoryMB,
			MaxConcurrent: m.action.Limits.MaxConcurrent,
		}
		p.state = Running
		p.activeCount++
		run := p.pendingRun
		p.pendingRun = nil
		if run != nil {
			p.dispatchRun(ctx, run.action, run.activation)
		}
	}
}

// startHealthProbe launches the TCP-ping Prober for the just-created
// container, disabled when healthCheckPeriod is unset.
func (p *Proxy) startHealthProbe(ctx context.Context) {
	if p.healthCheckPeriod <= 0 || p.c == nil {
		return
	}
	prober := healthprobe.NewProber(p.id, p.c.Addr(), p.healthCheckPeriod, p.healthMaxFails, p)
	go prober.Run(ctx)
}

func (p *Proxy) onFactoryFailed(ctx context.Context, m factoryFailedMsg) {
	err := &coreerrors.StartupError{ContainerID: p.id, Reason: m.err.Error(), ReplacePrewarm: true}
	p.log.Error().Err(err).Msg("proxy: container factory failed")
	p.abortBuffered(err)
	p.deps.Pool.ContainerRemoved(p.id, true)
	p.state = Removing
}

func (p *Proxy) onInitCompleted() {
	// Concurrent runs blocked on initialize may now proceed; no state
	// change is required since activeCount already reflects admitted runs.
}

// --- initializeAndRun ---

func (p *Proxy) initializeAndRun(ctx context.Context, action *types.Action, am *types.ActivationMessage) {
	var initInterval container.Interval

	if _, warmed := p.data.(types.WarmedData); !warmed {
		initStart := time.Now()
		err := p.c.Initialize(ctx, am.LockedArgs, time.Duration(action.Limits.TimeoutMs)*time.Millisecond, action.Limits.MaxConcurrent, action)
		initInterval = container.Interval{Start: initStart, End: time.Now()}
		if err != nil {
			p.mailbox <- runOutcomeMsg{outcome: RunOutcome{
				Kind:       Aborted,
				Activation: &types.Activation{ActivationID: am.ActivationID, TransactionID: am.TransactionID},
				Err:        &coreerrors.InitializationError{ContainerID: p.id, Reason: err.Error()},
			}}
			return
		}
		p.mailbox <- initCompletedMsg{}
	}

	runStart := time.Now()
	_, resp, err := p.c.Run(ctx, am.InitArgs, nil, time.Duration(action.Limits.TimeoutMs)*time.Millisecond, action.Limits.MaxConcurrent, true)
	runInterval := container.Interval{Start: runStart, End: time.Now()}

	activation := &types.Activation{
		ActivationID:  am.ActivationID,
		TransactionID: am.TransactionID,
		Namespace:     am.Namespace,
		ActionName:    action.Name,
		InitInterval:  initInterval.Duration(),
		RunInterval:   runInterval.Duration(),
	}

	if err != nil {
		activation.Response = &types.ActivationResponse{Success: false, Error: err.Error()}
		p.mailbox <- runOutcomeMsg{outcome: RunOutcome{
			Kind:       classifyRunError(p.anySucceeded),
			Activation: activation,
			Err:        &coreerrors.RunError{ContainerID: p.id, AnySucceeded: p.anySucceeded, Reason: err.Error()},
		}}
		return
	}
	activation.Response = resp

	if p.deps.Acker != nil {
		if ackErr := p.deps.Acker.SendActiveAck(ctx, am.TransactionID, activation, am.Blocking, am.ControllerIdx, am.UserUUID, ack.Message{Kind: ack.CombinedCompletionAndResult, Activation: activation}); ackErr != nil {
			p.log.Warn().Err(ackErr).Msg("proxy: activation ack failed")
		}
	}
	if p.deps.Store != nil {
		if storeErr := p.deps.Store.StoreActivation(ctx, am.TransactionID, activation, am.Blocking, am.InitArgs); storeErr != nil {
			p.log.Warn().Err(storeErr).Msg("proxy: activation persistence failed")
		}
	}
	if p.deps.Logs != nil && p.deps.Logs.LogsToBeCollected(action) {
		if _, logErr := p.deps.Logs.CollectLogs(ctx, am.TransactionID, am.UserUUID, activation, p.c, action); logErr != nil {
			activation.LogsFailed = true
			p.log.Warn().Err(logErr).Msg("proxy: log collection failed")
		}
	}

	p.mailbox <- runOutcomeMsg{outcome: RunOutcome{Kind: Ok, Activation: activation}}
}

// dispatchRun launches initializeAndRun and tracks the activation as
// in-flight so a mid-run health failure can reschedule it back to Pool
// even though it isn't sitting in runBuffer.
func (p *Proxy) dispatchRun(ctx context.Context, action *types.Action, am *types.ActivationMessage) {
	entry := bufferedRun{action: action, activation: am}
	p.inFlight = append(p.inFlight, entry)
	p.lastModelName = action.ModelName
	go p.initializeAndRun(ctx, action, am)
}

func (p *Proxy) untrackInFlight(activationID string) {
	for i, r := range p.inFlight {
		if r.activation.ActivationID == activationID {
			p.inFlight = append(p.inFlight[:i], p.inFlight[i+1:]...)
			return
		}
	}
}

func classifyRunError(anySucceeded bool) RunOutcomeKind {
	if anySucceeded {
		return Failed
	}
	return Aborted
}

func (p *Proxy) onRunOutcome(ctx context.Context, o RunOutcome) {
	p.activeCount--
	if p.activeCount < 0 {
		p.activeCount = 0
	}
	if o.Activation != nil {
		if o.Kind == Failed && p.deps.Pool != nil {
			for _, r := range p.inFlight {
				if r.activation.ActivationID == o.Activation.ActivationID {
					p.deps.Pool.RescheduleJob(p.id, r.activation)
					break
				}
			}
		}
		p.untrackInFlight(o.Activation.ActivationID)
	}

	switch o.Kind {
	case Ok:
		p.anySucceeded = true
		p.promoteToWarmed(o.Activation)
		p.afterRunCompleted(ctx)
	case Aborted:
		p.abortBuffered(o.Err)
		if p.activeCount == 0 {
			p.destroy(ctx, false)
		}
	case Failed:
		p.resendBufferedHead()
		if p.activeCount == 0 {
			p.destroy(ctx, false)
		}
	case Reschedule:
		p.destroy(ctx, false)
	}
}

func (p *Proxy) promoteToWarmed(activation *types.Activation) {
	var ns, action string
	var memMB, maxC int
	switch d := p.data.(type) {
	case types.WarmingData:
		ns, action, memMB, maxC = d.Namespace, d.Action, d.MemoryLimitMB, d.MaxConcurrent
	case types.WarmingColdData:
		ns, action, memMB, maxC = d.Namespace, d.Action, d.MemoryLimitMB, d.MaxConcurrent
	case types.WarmedData:
		ns, action, memMB, maxC = d.Namespace, d.Action, d.MemoryLimitMB, d.MaxConcurrent
	}
	if maxC == 0 {
		maxC = p.maxConcurrent
	}
	p.data = types.WarmedData{
		Container:             p.c,
		Namespace:             ns,
		Action:                action,
		MemoryLimitMB:         memMB,
		MaxConcurrent:         maxC,
		LastUsed:              time.Now(),
		ActiveActivationCount: p.activeCount,
		ResumeRun:             activation,
	}
}

// afterRunCompleted handles the Running -> RunCompleted transition:
// decrement already applied above; notify the Pool, possibly flush the
// buffer, and return to RunningToUser if drained.
func (p *Proxy) afterRunCompleted(ctx context.Context) {
	wd, ok := p.data.(types.WarmedData)
	if !ok {
		return
	}
	wd.ActiveActivationCount = p.activeCount
	p.data = wd

	if p.activeCount > 0 {
		// still draining concurrent runs; stay Running and let the
		// buffer flush opportunistically.
		p.flushBuffer(ctx)
		return
	}

	p.state = RunningToUser
	p.deps.Pool.NeedWork(p.id, wd)
	p.deps.Pool.PreLoadMessage(p.id, actionKey(wd.Namespace, wd.Action), p.lastModelName)
	p.armIdleTimer(p.keepAliveWindow)
	p.flushBuffer(ctx)
}

func (p *Proxy) flushBuffer(ctx context.Context) {
	if len(p.runBuffer) == 0 || p.resent {
		return
	}
	if p.activeCount >= p.maxConcurrent && p.maxConcurrent > 0 {
		return
	}
	head := p.runBuffer[0]
	p.runBuffer = p.runBuffer[1:]
	p.resent = true
	p.state = Running
	p.activeCount++
	p.inFlight = append(p.inFlight, head)
	go func() {
		p.initializeAndRun(ctx, head.action, head.activation)
		p.mailbox <- resentClearedMsg{}
	}()
}

type resentClearedMsg struct{}

func (p *Proxy) resendBufferedHead() {
	if len(p.runBuffer) == 0 {
		return
	}
	head := p.runBuffer[0]
	p.runBuffer = p.runBuffer[1:]
	p.deps.Pool.RescheduleJob(p.id, head.activation)
}

func (p *Proxy) abortBuffered(cause error) {
	for _, b := range p.runBuffer {
		p.log.Warn().Err(cause).Str("activationId", b.activation.ActivationID).Msg("proxy: aborting buffered run")
		if p.deps.Acker != nil {
			_ = p.deps.Acker.SendActiveAck(context.Background(), b.activation.TransactionID, &types.Activation{
				ActivationID:  b.activation.ActivationID,
				TransactionID: b.activation.TransactionID,
				Response:      &types.ActivationResponse{Success: false, Error: cause.Error()},
			}, b.activation.Blocking, b.activation.ControllerIdx, b.activation.UserUUID, ack.Message{Kind: ack.CombinedCompletionAndResult})
		}
	}
	p.runBuffer = nil
}

// --- failure handling ---

func (p *Proxy) onFailure(ctx context.Context, m FailureMessage) {
	switch m.Kind {
	case ContainerHealthError:
		// Reschedule the current run and destroy; buffered runs are
		// rejected back to Pool too.
		p.rescheduleAllInFlight()
		p.rescheduleAllBuffered()
		p.destroy(ctx, false)
	default:
		if p.anySucceeded {
			p.rescheduleAllInFlight()
			p.resendBufferedHead()
			if p.activeCount == 0 {
				p.destroy(ctx, false)
			}
		} else {
			p.abortBuffered(m.Err)
			p.destroy(ctx, false)
		}
	}
}

func (p *Proxy) rescheduleAllInFlight() {
	for _, r := range p.inFlight {
		p.deps.Pool.RescheduleJob(p.id, r.activation)
	}
	p.inFlight = nil
}

func (p *Proxy) rescheduleAllBuffered() {
	for _, r := range p.runBuffer {
		p.deps.Pool.RescheduleJob(p.id, r.activation)
	}
	p.runBuffer = nil
}

// --- idle timeout / zygote transition ---

func (p *Proxy) armIdleTimer(d time.Duration) {
	if p.idleTimer != nil {
		p.idleTimer.Stop()
	}
	p.idleGen++
	gen := p.idleGen
	p.idleTimer = time.AfterFunc(d, func() {
		p.mailbox <- idleTimeoutMsg{gen: gen}
	})
}

func (p *Proxy) onIdleTimeout(ctx context.Context, m idleTimeoutMsg) {
	if m.gen != p.idleGen {
		return // superseded by a later arm or a state change
	}
	switch p.state {
	case RunningToUser:
		wd, ok := p.data.(types.WarmedData)
		if !ok {
			return
		}
		p.state = Zygote
		p.deps.Pool.ContainerIdle(p.id, wd)
		p.armIdleTimer(2 * p.keepAliveWindow)
	case Zygote:
		p.deps.Pool.OffLoadSignal(p.id, nil)
		p.destroy(ctx, false)
	}
}

// --- destruction ---

func (p *Proxy) destroy(ctx context.Context, replacePrewarm bool) {
	if p.idleTimer != nil {
		p.idleTimer.Stop()
	}
	p.state = Removing
	if p.c != nil {
		if err := p.c.Destroy(context.Background()); err != nil {
			p.log.Warn().Err(err).Msg("proxy: container destroy failed")
		}
	}
	p.deps.Pool.ContainerRemoved(p.id, replacePrewarm)
}

func expiresFromTTL(ttl *time.Duration) *time.Time {
	if ttl == nil {
		return nil
	}
	t := time.Now().Add(*ttl)
	return &t
}

func actionKey(namespace, action string) string {
	return namespace + "/" + action
}

// interArrivalLambda estimates an arrival rate from the gap since a
// model's last invocation. A zero or unset lastUsed means there is no
// prior sample to estimate from, so the caller's existing Lambda is
// left untouched.
func interArrivalLambda(lastUsed time.Time) float64 {
	if lastUsed.IsZero() {
		return 0
	}
	gap := time.Since(lastUsed).Seconds()
	if gap <= 0 {
		return 0
	}
	return 1 / gap
}
