// Package pool implements the singleton Container Pool actor: schedule
// decisions, the pre-load bin-packing planner, prewarm top-up, and the
// freePool/busyPool/sharedPool bookkeeping.
package pool

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/beta9-preloader/pkg/ack"
	"github.com/beam-cloud/beta9-preloader/pkg/container"
	"github.com/beam-cloud/beta9-preloader/pkg/fleet"
	"github.com/beam-cloud/beta9-preloader/pkg/metrics"
	"github.com/beam-cloud/beta9-preloader/pkg/proxy"
	"github.com/beam-cloud/beta9-preloader/pkg/registry"
	"github.com/beam-cloud/beta9-preloader/pkg/types"
)

// Deps bundles the Pool's external collaborators.
type Deps struct {
	Factory container.Factory
	Acker   ack.Acker
	Store   ack.Store
	Logs    ack.LogCollector
	Fleet   *fleet.Publisher
	Gauges  *metrics.PoolGauges
}

// Config is the Pool's runtime configuration.
type Config struct {
	UserMemoryBudgetMB int

	// KeepAliveWindow is the mutable static default used only when
	// constructing future Proxies.
	KeepAliveWindow time.Duration

	PrewarmConfigs       []PrewarmingConfig
	PrewarmCheckInterval time.Duration
	PrewarmCheckVariance time.Duration

	StaggerMin time.Duration
	StaggerMax time.Duration

	// HealthCheckPeriod/HealthMaxFails configure the per-container
	// healthprobe.Prober started once its container is addressable.
	// HealthCheckPeriod <= 0 disables probing entirely.
	HealthCheckPeriod time.Duration
	HealthMaxFails    int
}

// Pool is the singleton per-invoker scheduler actor.
type Pool struct {
	invokerID string
	namespace string

	cfg  Config
	deps Deps

	mailbox chan any

	windows *registry.WindowRegistry
	models  *registry.ModelTable
	preload *PreloadTable
	buffer  runBuffer
	prewarm *prewarmState

	proxies map[string]*proxy.Proxy
	cancel  map[string]context.CancelFunc

	freePool map[string]types.WarmedData
	busyPool map[string]types.WarmedData

	sharedPool map[string]bool

	ctx     context.Context
	nextSeq int

	log zerolog.Logger
}

// New constructs a Pool with empty pools; AdjustPrewarmedContainer
// still fires once at Run() start even if cfg.PrewarmConfigs is empty.
func New(invokerID, namespace string, cfg Config, deps Deps, windows *registry.WindowRegistry, models *registry.ModelTable) *Pool {
	return &Pool{
		invokerID:  invokerID,
		namespace:  namespace,
		cfg:        cfg,
		deps:       deps,
		mailbox:    make(chan any, 256),
		windows:    windows,
		models:     models,
		preload:    NewPreloadTable(),
		prewarm:    newPrewarmState(cfg.PrewarmConfigs),
		proxies:    make(map[string]*proxy.Proxy),
		cancel:     make(map[string]context.CancelFunc),
		freePool:   make(map[string]types.WarmedData),
		busyPool:   make(map[string]types.WarmedData),
		sharedPool: make(map[string]bool),
		log:        log.With().Str("component", "pool").Str("invokerId", invokerID).Logger(),
	}
}

// Send enqueues a message for the Pool actor.
func (p *Pool) Send(msg any) {
	p.mailbox <- msg
}

// Run drains the mailbox until ctx is cancelled. The scheduled prewarm
// ticker is started only when at least one prewarm shape has a Reactive
// config; the tickInit adjustment is sent unconditionally.
func (p *Pool) Run(ctx context.Context) {
	p.ctx = ctx
	p.mailbox <- AdjustPrewarmedContainerMsg{Reason: tickInit}

	for _, c := range p.cfg.PrewarmConfigs {
		if c.Reactive != nil {
			go p.prewarmTicker(ctx)
			break
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.mailbox:
			p.handle(ctx, msg)
		}
	}
}

func (p *Pool) prewarmTicker(ctx context.Context) {
	for {
		d := tickJitter(p.cfg.PrewarmCheckInterval, p.cfg.PrewarmCheckVariance)
		if d <= 0 {
			d = time.Minute
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
			select {
			case p.mailbox <- prewarmTickMsg{}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Pool) handle(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case RunMsg:
		p.onRun(ctx, m.Action, m.Activation)
	case NeedWorkMsg:
		p.onNeedWork(ctx, m.ContainerID, m.Data)
	case ContainerIdleMsg:
		p.onContainerIdle(ctx, m.ContainerID, m.Data)
	case StartRunMsg:
		p.onStartRunMessage(ctx, m.ContainerID, m.Data, m.ActionKey, m.Lambda)
	case PreLoadMsg:
		p.onPreLoadMessage(ctx, m.ContainerID, m.ActionKey)
	case OffLoadSignalMsg:
		p.onOffLoadSignal(ctx, m.ContainerID)
	case ContainerRemovedMsg:
		p.onContainerRemoved(ctx, m.ContainerID, m.ReplacePrewarm)
	case RescheduleJobMsg:
		p.onRescheduleJob(ctx, m.ContainerID, m.Activation)
	case EmitMetricsMsg:
		p.onEmitMetrics()
	case AdjustPrewarmedContainerMsg:
		p.onAdjustPrewarmedContainer(ctx, m.Reason)
	case preloadTaskMsg:
		p.onPreloadTask(ctx, m.modelActionKey)
	case scheduledPreLoadMsg:
		p.onScheduledPreLoad(ctx, m.containerID, m.actionKey)
	case scheduledOffLoadMsg:
		p.onScheduledOffLoad(ctx, m.containerID, m.modelName)
	case prewarmTickMsg:
		p.onAdjustPrewarmedContainer(ctx, tickScheduled)
	case prewarmReadyMsg:
		p.onPrewarmReady(m.shape, m.proxyID)
	case snapshotRequestMsg:
		m.reply <- p.computeMetrics()
	case preloadSnapshotRequestMsg:
		m.reply <- p.computePreloadSnapshot()
	default:
		p.log.Warn().Str("type", fmt.Sprintf("%T", msg)).Msg("pool: unrecognized mailbox message")
	}
}

// --- proxy.PoolHandle implementation: thin non-blocking forwards onto
// the Pool's own mailbox, preserving per-sender FIFO ordering.

func (p *Pool) NeedWork(containerID string, data types.WarmedData) {
	p.mailbox <- NeedWorkMsg{ContainerID: containerID, Data: data}
}

func (p *Pool) ContainerIdle(containerID string, data types.WarmedData) {
	p.mailbox <- ContainerIdleMsg{ContainerID: containerID, Data: data}
}

func (p *Pool) StartRunMessage(containerID string, data types.ContainerData, actionKey string, lambda float64) {
	p.mailbox <- StartRunMsg{ContainerID: containerID, Data: data, ActionKey: actionKey, Lambda: lambda}
}

func (p *Pool) PreLoadMessage(containerID string, actionKey string, modelName string) {
	p.mailbox <- PreLoadMsg{ContainerID: containerID, ActionKey: actionKey}
}

func (p *Pool) OffLoadSignal(containerID string, modelNames []string) {
	p.mailbox <- OffLoadSignalMsg{ContainerID: containerID, ModelNames: modelNames}
}

func (p *Pool) ContainerRemoved(containerID string, replacePrewarm bool) {
	p.mailbox <- ContainerRemovedMsg{ContainerID: containerID, ReplacePrewarm: replacePrewarm}
}

func (p *Pool) RescheduleJob(containerID string, activation *types.ActivationMessage) {
	p.mailbox <- RescheduleJobMsg{ContainerID: containerID, Activation: activation}
}

// --- Run / schedule ---

func (p *Pool) onRun(ctx context.Context, action *types.Action, am *types.ActivationMessage) {
	preWarm, keepAlive, preLoad, offLoad := am.Windows()
	p.windows.Update(action.Key(), registry.Window{
		PreWarm:   preWarm,
		KeepAlive: keepAlive,
		PreLoad:   preLoad,
		OffLoad:   offLoad,
	})

	decision := p.schedule(action, am)
	switch decision.kind {
	case decisionWarm, decisionPreload:
		p.dispatch(ctx, decision.containerID, action, am)
	case decisionPrewarm:
		p.takePrewarmAndRun(ctx, decision.proxyID, action, am)
	case decisionCreate:
		p.createAndRun(ctx, action, am)
	case decisionEvictThenCreate:
		p.evictFor(ctx, decision.evict)
		p.createAndRun(ctx, action, am)
	case decisionBuffer:
		p.buffer.push(action, am)
		if p.buffer.shouldWarn(time.Now()) {
			p.log.Warn().Str("action", action.Key()).Int("bufferLen", p.buffer.len()).
				Msg("pool: no capacity for Run, buffering")
		}
	}
}

type decisionKind int

const (
	decisionWarm decisionKind = iota
	decisionPreload
	decisionPrewarm
	decisionCreate
	decisionEvictThenCreate
	decisionBuffer
)

type scheduleDecision struct {
	kind        decisionKind
	containerID string
	proxyID     string
	evict       []string
}

// schedule implements the placement decision ladder. Steps that
// require visibility into a Proxy's in-flight (pre-NeedWork)
// initialization state — the WarmingData/WarmingColdData matches — are
// not modeled here: the Pool only learns of a container once it
// completes initialization (NeedWork) or fails (ContainerRemoved), so
// those two steps of the original ladder have no Pool-side
// counterpart in this actor split and are skipped by design.
func (p *Pool) schedule(action *types.Action, am *types.ActivationMessage) scheduleDecision {
	ns := am.Namespace

	if id, ok := p.matchWarm(ns, action.Name); ok {
		return scheduleDecision{kind: decisionWarm, containerID: id}
	}

	if model, ok := p.models.FindByActionName(action.Key()); ok {
		if id, ok := p.preloadHit(*model); ok {
			return scheduleDecision{kind: decisionPreload, containerID: id}
		}
	}

	if proxyID, ok := p.matchPrewarm(action); ok {
		return scheduleDecision{kind: decisionPrewarm, proxyID: proxyID}
	}

	if p.memoryBudgetAllows(action.Limits.MemoryMB) {
		return scheduleDecision{kind: decisionCreate}
	}

	if victims, freed := p.planEviction(action.Limits.MemoryMB); freed {
		return scheduleDecision{kind: decisionEvictThenCreate, evict: victims}
	}

	return scheduleDecision{kind: decisionBuffer}
}

func (p *Pool) matchWarm(namespace, action string) (string, bool) {
	for id, d := range p.freePool {
		if d.MatchesAction(namespace, action) && d.HasCapacity() {
			return id, true
		}
	}
	return "", false
}

// preloadHit finds the sharedPool container with the smallest total
// resident model size that already hosts model.ModelName.
func (p *Pool) preloadHit(model registry.ModelData) (string, bool) {
	var best string
	var bestSize int64 = -1
	for id := range p.sharedPool {
		if !p.preload.Has(id, model.ModelName) {
			continue
		}
		size := p.preload.ResidentMB(id)
		if bestSize == -1 || size < bestSize {
			best, bestSize = id, size
		}
	}
	return best, bestSize != -1
}

func (p *Pool) matchPrewarm(action *types.Action) (string, bool) {
	k := prewarmKey{exec: action.ExecKind, memory: action.Limits.MemoryMB}
	entry, ok := p.prewarm.takeEarliestExpiring(k)
	if !ok {
		return "", false
	}
	return entry.proxyID, true
}

func (p *Pool) memoryBudgetAllows(additionalMB int) bool {
	return p.totalMemoryUsedMB()+additionalMB <= p.cfg.UserMemoryBudgetMB
}

func (p *Pool) totalMemoryUsedMB() int {
	total := p.prewarm.totalMemoryMB()
	for _, d := range p.freePool {
		total += d.MemoryLimitMB
	}
	for _, d := range p.busyPool {
		total += d.MemoryLimitMB
	}
	return total
}

// planEviction picks the oldest unused (activeCount==0) warm
// containers from freePool whose cumulative memory covers need.
func (p *Pool) planEviction(needMB int) ([]string, bool) {
	type cand struct {
		id string
		d  types.WarmedData
	}
	var cands []cand
	for id, d := range p.freePool {
		if d.ActiveActivationCount == 0 {
			cands = append(cands, cand{id, d})
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].d.LastUsed.Before(cands[j].d.LastUsed) })

	var victims []string
	freed := 0
	for _, c := range cands {
		victims = append(victims, c.id)
		freed += c.d.MemoryLimitMB
		if freed >= needMB {
			return victims, true
		}
	}
	return nil, false
}

func (p *Pool) evictFor(ctx context.Context, ids []string) {
	for _, id := range ids {
		if pr, ok := p.proxies[id]; ok {
			pr.Send(proxy.RemoveMsg{})
		}
		if p.deps.Gauges != nil {
			p.deps.Gauges.IncEviction()
		}
	}
}

func (p *Pool) dispatch(ctx context.Context, containerID string, action *types.Action, am *types.ActivationMessage) {
	pr, ok := p.proxies[containerID]
	if !ok {
		return
	}
	if d, ok := p.freePool[containerID]; ok {
		p.moveToBusyIfNeeded(containerID, d.WithIncrementedCount(time.Now()))
	}
	if p.deps.Gauges != nil {
		p.deps.Gauges.IncWarmStart()
	}
	pr.Send(proxy.RunMsg{Action: action, Activation: am})
	p.publishBusyPoolSize(ctx)
}

func (p *Pool) moveToBusyIfNeeded(containerID string, d types.WarmedData) {
	if d.HasCapacity() {
		p.freePool[containerID] = d
		return
	}
	delete(p.freePool, containerID)
	p.busyPool[containerID] = d
}

func (p *Pool) takePrewarmAndRun(ctx context.Context, proxyID string, action *types.Action, am *types.ActivationMessage) {
	pr, ok := p.proxies[proxyID]
	if !ok {
		p.createAndRun(ctx, action, am)
		return
	}
	if p.deps.Gauges != nil {
		p.deps.Gauges.IncWarmStart()
	}
	pr.Send(proxy.CreateWarmedContainerMsg{Action: action, Activation: am})
	p.busyPool[proxyID] = types.WarmedData{
		Namespace: am.Namespace, Action: action.Name,
		MemoryLimitMB: action.Limits.MemoryMB, MaxConcurrent: action.Limits.MaxConcurrent,
		ActiveActivationCount: 1, LastUsed: time.Now(),
	}
	pr.Send(proxy.RunMsg{Action: action, Activation: am})
	p.startReplacementPrewarm(ctx, PrewarmingConfig{ExecKind: action.ExecKind, MemoryLimitMB: action.Limits.MemoryMB})
}

func (p *Pool) createAndRun(ctx context.Context, action *types.Action, am *types.ActivationMessage) {
	id := p.newContainerID()
	pr := proxy.New(id, am.Namespace, p.cfg.KeepAliveWindow, p.cfg.HealthCheckPeriod, p.cfg.HealthMaxFails, proxy.Deps{
		Factory: p.deps.Factory,
		Pool:    p,
		Acker:   p.deps.Acker,
		Store:   p.deps.Store,
		Logs:    p.deps.Logs,
	})
	p.registerProxy(id, pr)
	if p.deps.Gauges != nil {
		p.deps.Gauges.IncColdStart()
	}
	p.prewarm.recordColdStart()
	p.busyPool[id] = types.WarmedData{
		Namespace: am.Namespace, Action: action.Name,
		MemoryLimitMB: action.Limits.MemoryMB, MaxConcurrent: action.Limits.MaxConcurrent,
		ActiveActivationCount: 1, LastUsed: time.Now(),
	}
	pr.Send(proxy.RunMsg{Action: action, Activation: am})
	p.publishBusyPoolSize(ctx)
}

func (p *Pool) registerProxy(id string, pr *proxy.Proxy) {
	proxyCtx, cancel := context.WithCancel(p.ctx)
	p.proxies[id] = pr
	p.cancel[id] = cancel
	go pr.Run(proxyCtx)
}

func (p *Pool) newContainerID() string {
	p.nextSeq++
	return fmt.Sprintf("%s-c%d", p.invokerID, p.nextSeq)
}

// --- NeedWork / ContainerIdle / StartRunMessage ---

func (p *Pool) onNeedWork(ctx context.Context, containerID string, data types.WarmedData) {
	delete(p.busyPool, containerID)
	p.moveToBusyIfNeeded(containerID, data)
	delete(p.sharedPool, containerID)
	p.preload.Drop(containerID)
	p.publishPreloadTable(ctx)

	if action, ok := p.lookupAction(data.Namespace, data.Action); ok && action.InferenceEligible {
		p.schedulePreloadOwnModel(ctx, containerID, data.Namespace, data.Action)
	}
	p.publishBusyPoolSize(ctx)
	p.tryFlushBuffer(ctx)
}

func (p *Pool) onContainerIdle(ctx context.Context, containerID string, data types.WarmedData) {
	p.freePool[containerID] = data
	p.sharedPool[containerID] = true
	p.preload.Init(containerID)

	p.models.UpdateAllDerived(1)

	for _, m := range p.models.Snapshot() {
		if m.ActionName == data.Action {
			continue
		}
		if p.modelAlreadyAssigned(m.ModelName) {
			continue
		}
		delay := staggerDelay(p.cfg.StaggerMin, p.cfg.StaggerMax)
		modelKey := m.ActionName
		time.AfterFunc(delay, func() {
			select {
			case p.mailbox <- preloadTaskMsg{modelActionKey: modelKey}:
			case <-ctx.Done():
			}
		})
	}
	p.publishPreloadTable(ctx)
}

func (p *Pool) modelAlreadyAssigned(modelName string) bool {
	for id := range p.sharedPool {
		if p.preload.Has(id, modelName) {
			return true
		}
	}
	return false
}

func (p *Pool) onStartRunMessage(ctx context.Context, containerID string, data types.ContainerData, actionKey string, lambda float64) {
	if lambda > 0 {
		p.models.UpdateLambda(actionKey, lambda)
	}
	p.models.RecordUsage(actionKey, time.Now())
	p.models.UpdateAllDerived(1)

	residents := append([]registry.ModelData(nil), p.preload.Models(containerID)...)
	delete(p.sharedPool, containerID)
	p.preload.Drop(containerID)

	for _, m := range residents {
		p.rehome(ctx, m)
	}
	p.publishPreloadTable(ctx)
}

func (p *Pool) rehome(ctx context.Context, m registry.ModelData) {
	ids := p.sharedPoolIDs()
	newID, ok := p.preload.BinPacking(ids, m, func(evictedContainerID, modelName string) {
		p.signalOffload(evictedContainerID, modelName)
	})
	if !ok {
		return
	}
	p.preload.Add(newID, m)
	p.signalLoad(newID, m)
}

func (p *Pool) sharedPoolIDs() []string {
	ids := make([]string, 0, len(p.sharedPool))
	for id := range p.sharedPool {
		ids = append(ids, id)
	}
	return ids
}

// --- pre-load scheduling ---

func (p *Pool) schedulePreloadOwnModel(ctx context.Context, containerID, namespace, actionName string) {
	model, ok := p.models.FindByActionName(namespace + "/" + actionName)
	if !ok {
		return
	}
	p.preload.Init(containerID)
	ids := []string{containerID}
	newID, ok := p.preload.BinPacking(ids, *model, func(evictedContainerID, modelName string) {
		p.signalOffload(evictedContainerID, modelName)
	})
	if ok {
		p.preload.Add(newID, *model)
		p.signalLoad(newID, *model)
	}
}

func (p *Pool) onPreLoadMessage(ctx context.Context, containerID string, actionKey string) {
	w, ok := p.windows.Get(actionKey)
	if !ok {
		return
	}
	time.AfterFunc(w.PreLoad, func() {
		select {
		case p.mailbox <- scheduledPreLoadMsg{containerID: containerID, actionKey: actionKey}:
		case <-ctx.Done():
		}
	})
}

func (p *Pool) onScheduledPreLoad(ctx context.Context, containerID, actionKey string) {
	model, ok := p.models.FindByActionName(actionKey)
	if !ok {
		return
	}
	newID, ok := p.preload.BinPacking(p.sharedPoolIDs(), *model, func(evictedContainerID, modelName string) {
		p.signalOffload(evictedContainerID, modelName)
	})
	if !ok {
		return
	}
	p.preload.Add(newID, *model)
	p.signalLoad(newID, *model)
}

func (p *Pool) onPreloadTask(ctx context.Context, actionKey string) {
	model, ok := p.models.FindByActionName(actionKey)
	if !ok {
		return
	}
	if p.modelAlreadyAssigned(model.ModelName) {
		return
	}
	newID, ok := p.preload.BinPacking(p.sharedPoolIDs(), *model, func(evictedContainerID, modelName string) {
		p.signalOffload(evictedContainerID, modelName)
	})
	if !ok {
		return
	}
	p.preload.Add(newID, *model)
	p.signalLoad(newID, *model)
	p.publishPreloadTable(ctx)
}

func (p *Pool) onOffLoadSignal(ctx context.Context, containerID string) {
	residents := append([]registry.ModelData(nil), p.preload.Models(containerID)...)
	p.preload.Drop(containerID)
	delete(p.sharedPool, containerID)

	for _, m := range residents {
		p.rehome(ctx, m)

		w, hasWindow := p.windows.Get(m.ActionName)
		if !hasWindow {
			continue
		}
		offLoadTime := w.OffLoad - w.KeepAlive
		if offLoadTime <= 0 {
			continue // open question: skipped when offLoadWindow <= keepAliveWindow
		}
		modelName := m.ModelName
		time.AfterFunc(offLoadTime, func() {
			select {
			case p.mailbox <- scheduledOffLoadMsg{containerID: containerID, modelName: modelName}:
			case <-ctx.Done():
			}
		})
	}
	p.publishPreloadTable(ctx)
}

func (p *Pool) onScheduledOffLoad(ctx context.Context, containerID, modelName string) {
	if pr, ok := p.proxies[containerID]; ok {
		pr.Send(proxy.OffLoadModelSignal{ModelName: modelName})
	}
}

func (p *Pool) signalLoad(containerID string, m registry.ModelData) {
	if pr, ok := p.proxies[containerID]; ok {
		pr.Send(proxy.LoadModelSignal{ModelName: m.ModelName})
	}
}

func (p *Pool) signalOffload(containerID, modelName string) {
	if pr, ok := p.proxies[containerID]; ok {
		pr.Send(proxy.OffLoadModelSignal{ModelName: modelName})
	}
}

// --- ContainerRemoved / RescheduleJob ---

func (p *Pool) onContainerRemoved(ctx context.Context, containerID string, replacePrewarm bool) {
	delete(p.freePool, containerID)
	delete(p.busyPool, containerID)
	delete(p.sharedPool, containerID)
	p.preload.Drop(containerID)
	delete(p.proxies, containerID)
	if cancel, ok := p.cancel[containerID]; ok {
		cancel()
		delete(p.cancel, containerID)
	}
	p.publishBusyPoolSize(ctx)
	p.publishPreloadTable(ctx)

	if replacePrewarm {
		p.onAdjustPrewarmedContainer(ctx, tickBackfill)
	}
}

func (p *Pool) onRescheduleJob(ctx context.Context, containerID string, am *types.ActivationMessage) {
	delete(p.freePool, containerID)
	delete(p.busyPool, containerID)
	p.publishBusyPoolSize(ctx)
	if am == nil || am.Action == nil {
		return
	}
	p.onRun(ctx, am.Action, am)
}

// --- Buffer flushing ---

func (p *Pool) tryFlushBuffer(ctx context.Context) {
	head, ok := p.buffer.takeHeadForResend()
	if !ok {
		return
	}
	decision := p.schedule(head.action, head.activation)
	if decision.kind == decisionBuffer {
		p.buffer.requeueFront(head)
		p.buffer.resendDone()
		return
	}
	p.buffer.resendDone()
	switch decision.kind {
	case decisionWarm, decisionPreload:
		p.dispatch(ctx, decision.containerID, head.action, head.activation)
	case decisionPrewarm:
		p.takePrewarmAndRun(ctx, decision.proxyID, head.action, head.activation)
	case decisionCreate:
		p.createAndRun(ctx, head.action, head.activation)
	case decisionEvictThenCreate:
		p.evictFor(ctx, decision.evict)
		p.createAndRun(ctx, head.action, head.activation)
	}
}

// --- Prewarm top-up ---

func (p *Pool) onAdjustPrewarmedContainer(ctx context.Context, reason tickReason) {
	if reason == tickScheduled {
		for _, id := range p.prewarm.overdue(time.Now()) {
			if pr, ok := p.proxies[id]; ok {
				pr.Send(proxy.RemoveMsg{})
			}
		}
	}

	for _, c := range p.cfg.PrewarmConfigs {
		desired := p.prewarm.desiredCount(c, reason)
		current := p.prewarm.currentCount(keyOf(c))
		for i := 0; i < desired-current; i++ {
			if !p.memoryBudgetAllows(c.MemoryLimitMB) {
				break
			}
			p.startPrewarm(ctx, c)
		}
	}

	if reason == tickScheduled {
		p.prewarm.resetColdStarts()
	}
}

func (p *Pool) startPrewarm(ctx context.Context, c PrewarmingConfig) {
	id := p.newContainerID()
	pr := proxy.New(id, p.namespace, p.cfg.KeepAliveWindow, p.cfg.HealthCheckPeriod, p.cfg.HealthMaxFails, proxy.Deps{
		Factory: p.deps.Factory,
		Pool:    p,
		Acker:   p.deps.Acker,
		Store:   p.deps.Store,
		Logs:    p.deps.Logs,
	})
	p.registerProxy(id, pr)
	p.prewarm.markStarting(c, id)

	var ttl *time.Duration
	if c.TTL > 0 {
		ttl = &c.TTL
	}
	pr.Send(proxy.StartMsg{ExecKind: c.ExecKind, MemoryLimitMB: c.MemoryLimitMB, TTL: ttl})

	shape := c
	time.AfterFunc(50*time.Millisecond, func() {
		select {
		case p.mailbox <- prewarmReadyMsg{shape: shape, proxyID: id}:
		case <-ctx.Done():
		}
	})
}

func (p *Pool) onPrewarmReady(shape PrewarmingConfig, proxyID string) {
	var expires *time.Time
	if shape.TTL > 0 {
		t := time.Now().Add(shape.TTL)
		expires = &t
	}
	p.prewarm.markRunning(shape, proxyID, expires)
}

func (p *Pool) startReplacementPrewarm(ctx context.Context, c PrewarmingConfig) {
	if !p.memoryBudgetAllows(c.MemoryLimitMB) {
		return
	}
	p.startPrewarm(ctx, c)
}

// --- Metrics / fleet-state publishing ---

// PoolStats is a point-in-time snapshot of pool occupancy and
// cumulative scheduling counters, grounded on
// other_examples/jagjeet-singh-23-mini-lambda__pool.go's PoolStats.
type PoolStats struct {
	WarmContainers   int
	InUseContainers  int
	SharedContainers int
	HitRate          float64
	ColdStarts       uint64
	WarmStarts       uint64
	PreloadHits      uint64
	TotalEvictions   uint64
}

// snapshotRequestMsg asks the Pool actor to compute a PoolStats
// snapshot and deliver it over reply, so debug/introspection callers
// never read Pool fields outside its own mailbox goroutine.
type snapshotRequestMsg struct {
	reply chan PoolStats
}

// preloadSnapshotRequestMsg is snapshotRequestMsg's pre-load-table
// counterpart.
type preloadSnapshotRequestMsg struct {
	reply chan map[string][]registry.ModelData
}

// Metrics blocks until the Pool actor computes a PoolStats snapshot.
// Safe to call from any goroutine (e.g. an HTTP debug handler).
func (p *Pool) Metrics() PoolStats {
	reply := make(chan PoolStats, 1)
	p.mailbox <- snapshotRequestMsg{reply: reply}
	return <-reply
}

// PreloadSnapshot blocks until the Pool actor computes a read-only
// copy of the pre-load table, keyed by containerID. Safe to call from
// any goroutine.
func (p *Pool) PreloadSnapshot() map[string][]registry.ModelData {
	reply := make(chan map[string][]registry.ModelData, 1)
	p.mailbox <- preloadSnapshotRequestMsg{reply: reply}
	return <-reply
}

func (p *Pool) computeMetrics() PoolStats {
	s := PoolStats{
		WarmContainers:   len(p.freePool),
		InUseContainers:  len(p.busyPool),
		SharedContainers: len(p.sharedPool),
	}
	if p.deps.Gauges != nil {
		s.ColdStarts = p.deps.Gauges.ColdStarts()
		s.WarmStarts = p.deps.Gauges.WarmStarts()
		s.PreloadHits = p.deps.Gauges.PreloadHits()
		s.TotalEvictions = p.deps.Gauges.Evictions()
	}
	total := s.ColdStarts + s.WarmStarts
	if total > 0 {
		s.HitRate = float64(s.WarmStarts) / float64(total)
	}
	return s
}

func (p *Pool) computePreloadSnapshot() map[string][]registry.ModelData {
	out := make(map[string][]registry.ModelData, len(p.preload.byContainer))
	for id, models := range p.preload.byContainer {
		cp := make([]registry.ModelData, len(models))
		copy(cp, models)
		out[id] = cp
	}
	return out
}

func (p *Pool) onEmitMetrics() {
	if p.deps.Gauges == nil {
		return
	}
	activeMB, idleMB := 0, 0
	activeCount := 0
	for _, d := range p.freePool {
		idleMB += d.MemoryLimitMB
	}
	for _, d := range p.busyPool {
		activeMB += d.MemoryLimitMB
		activeCount += d.ActiveActivationCount
	}
	p.deps.Gauges.Update(metrics.Snapshot{
		BufferCount: p.buffer.len(),
		ActiveCount: activeCount,
		ActiveMB:    activeMB,
		IdleMB:      idleMB,
		PrewarmMB:   p.prewarm.totalMemoryMB(),
	})
}

func (p *Pool) publishBusyPoolSize(ctx context.Context) {
	if p.deps.Fleet == nil {
		return
	}
	p.deps.Fleet.PublishBusyPoolSize(ctx, len(p.busyPool))
}

func (p *Pool) publishPreloadTable(ctx context.Context) {
	if p.deps.Fleet == nil {
		return
	}
	p.deps.Fleet.PublishPreLoadedActions(ctx, p.preload.PreLoadedActionNames())
}

// --- action lookup (Pool doesn't own an Action catalog; it derives
// what it needs from the Model Table, the only process-wide catalog
// besides the Window Registry the core keeps).

func (p *Pool) lookupAction(namespace, actionName string) (*types.Action, bool) {
	if model, ok := p.models.FindByActionName(namespace + "/" + actionName); ok {
		return &types.Action{
			Namespace:         namespace,
			Name:              actionName,
			InferenceEligible: true,
			ModelName:         model.ModelName,
		}, true
	}
	return nil, false
}

