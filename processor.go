package edgequeue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type processorStatus int

const (
	statusInactive processorStatus = iota
	statusActive
)

// RetryConfig caps how long the processor's backoff wake-up timer waits
// before re-checking jobs that are cooling down. It does not shorten a
// job's own backoff window (computed from its TimeInterval/Attempts): a job
// whose window is longer than MaxDelay is re-checked at each wake-up and
// stays skipped until the window has passed.
type RetryConfig struct {
	MaxDelay time.Duration
}

// DefaultRetryConfig returns a generous cap that rarely binds in practice.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxDelay: time.Hour}
}

// Processor is the main scheduling loop: it claims work under a
// concurrency budget, filters ineligible jobs, dispatches the rest to the
// executor, and re-arms itself.
type Processor struct {
	adapter     Adapter
	registry    *Registry
	executor    *Executor
	concurrency int
	retryConfig RetryConfig
	monitor     NetworkMonitor
	logger      *slog.Logger

	heartbeatInterval time.Duration

	mu           sync.Mutex
	status       processorStatus
	runningJobs  int
	pausedNames  map[string]bool
	isConnected  bool
	unsubscribe  func()
	timer        *time.Timer
	heartbeatTmr *time.Timer
	inFlight     map[string]struct{}
	pendingTick  bool
	ticking      bool
}

func newProcessor(adapter Adapter, registry *Registry, executor *Executor, concurrency int, retryCfg RetryConfig, monitor NetworkMonitor, logger *slog.Logger) *Processor {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		adapter:           adapter,
		registry:          registry,
		executor:          executor,
		concurrency:       concurrency,
		retryConfig:       retryCfg,
		monitor:           monitor,
		logger:            logger,
		pausedNames:       make(map[string]bool),
		isConnected:       true,
		inFlight:          make(map[string]struct{}),
		heartbeatInterval: time.Minute,
	}
}

// Start is idempotent: if the processor is already active it returns
// immediately.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.status == statusActive {
		p.mu.Unlock()
		return
	}
	p.status = statusActive

	if p.monitor != nil {
		p.isConnected = p.monitor.IsConnected()
		p.unsubscribe = p.monitor.Subscribe(func(connected bool) {
			p.mu.Lock()
			wasConnected := p.isConnected
			p.isConnected = connected
			p.mu.Unlock()
			if !wasConnected && connected {
				p.tick(ctx)
			}
		})
	} else {
		p.isConnected = true
	}
	p.mu.Unlock()

	p.armHeartbeat(ctx)
	p.tick(ctx)
}

// Stop flips the processor to inactive, detaches the network subscription,
// and stops claiming new work. In-flight executions finish on their own.
func (p *Processor) Stop() {
	p.mu.Lock()
	p.status = statusInactive
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.heartbeatTmr != nil {
		p.heartbeatTmr.Stop()
		p.heartbeatTmr = nil
	}
	p.mu.Unlock()
}

// PauseJob marks name's jobs ineligible for dispatch starting at the next
// tick boundary.
func (p *Processor) PauseJob(name string) {
	p.mu.Lock()
	p.pausedNames[name] = true
	p.mu.Unlock()
}

// ResumeJob clears a pause and, if the processor is active, triggers a tick.
func (p *Processor) ResumeJob(ctx context.Context, name string) {
	p.mu.Lock()
	delete(p.pausedNames, name)
	active := p.status == statusActive
	p.mu.Unlock()
	if active {
		p.tick(ctx)
	}
}

// IsActive reports whether the processor is currently claiming and
// dispatching work. Callers use this to guard operations — like ghost
// recovery — that must never run while this process has jobs genuinely
// in flight.
func (p *Processor) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status == statusActive
}

func (p *Processor) isPaused(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pausedNames[name]
}

// tick drives one claim-and-dispatch pass. Re-entrant calls while a
// previous tick is suspended on the adapter are coalesced into a single
// pending flag instead of dropping the wake-up or running two passes at once.
func (p *Processor) tick(ctx context.Context) {
	p.mu.Lock()
	if p.ticking {
		p.pendingTick = true
		p.mu.Unlock()
		return
	}
	p.ticking = true
	p.mu.Unlock()

	p.runTick(ctx)

	p.mu.Lock()
	p.ticking = false
	again := p.pendingTick
	p.pendingTick = false
	p.mu.Unlock()

	if again {
		p.tick(ctx)
	}
}

func (p *Processor) runTick(ctx context.Context) {
	p.mu.Lock()
	if p.status != statusActive || p.runningJobs >= p.concurrency {
		p.mu.Unlock()
		return
	}
	slots := p.concurrency - p.runningJobs
	p.mu.Unlock()

	jobs, err := p.adapter.ClaimConcurrentJobs(ctx, slots)
	if err != nil {
		p.logger.ErrorContext(ctx, "claim failed, retrying next tick",
			slog.String("error", err.Error()))
		return
	}

	p.mu.Lock()
	noWork := len(jobs) == 0 && p.runningJobs == 0
	p.mu.Unlock()
	if noWork {
		// Nothing claimable and nothing in flight: go idle until the next
		// external trigger (Enqueue, ResumeJob, a reconnect, or a wakeup
		// timer). status stays active — only Stop flips it — so those
		// triggers' tick() calls are not silently dropped here.
		return
	}

	now := time.Now().UTC()
	var (
		startedThisBatch int
		hasBackoff       bool
		nextWake         time.Duration
	)

	for _, job := range jobs {
		p.mu.Lock()
		overBudget := p.status != statusActive || p.runningJobs >= p.concurrency
		paused := p.pausedNames[job.Name]
		p.mu.Unlock()

		if overBudget || paused {
			p.unclaim(ctx, job)
			continue
		}

		if job.IsExpired(now) {
			if err := p.adapter.RemoveJob(ctx, job.ID); err != nil {
				p.logger.ErrorContext(ctx, "failed to remove expired job",
					slog.String("job_id", job.ID), slog.String("error", err.Error()))
			}
			continue
		}

		if skip, remaining := job.shouldSkipByBackoff(now); skip {
			hasBackoff = true
			remaining = clampBackoff(remaining, p.retryConfig)
			if nextWake == 0 || remaining < nextWake {
				nextWake = remaining
			}
			p.unclaim(ctx, job)
			continue
		}

		p.mu.Lock()
		connected := p.isConnected
		p.mu.Unlock()
		if job.OnlineOnly && !connected {
			p.unclaim(ctx, job)
			continue
		}

		if job.IsTerminal() {
			p.unclaim(ctx, job)
			continue
		}

		fn, opts, ok := p.registry.Get(job.Name)
		if !ok {
			job.Failed = timePtr(now)
			job.Active = false
			if job.MetaData == nil {
				job.MetaData = map[string]string{}
			}
			job.MetaData["lastError"] = MissingWorkerError{Name: job.Name}.Error()
			if err := p.adapter.UpdateJob(ctx, job); err != nil {
				p.logger.ErrorContext(ctx, "failed to persist missing-worker state",
					slog.String("job_id", job.ID), slog.String("error", err.Error()))
			}
			continue
		}

		p.mu.Lock()
		p.runningJobs++
		p.inFlight[job.ID] = struct{}{}
		p.mu.Unlock()
		startedThisBatch++

		go func(job Job, fn WorkerFunc, opts WorkerOptions) {
			p.executor.Execute(ctx, job, fn, opts)
			p.mu.Lock()
			p.runningJobs--
			delete(p.inFlight, job.ID)
			p.mu.Unlock()
			p.tick(ctx)
		}(job, fn, opts)
	}

	switch {
	case startedThisBatch > 0:
		p.tick(ctx)
	case hasBackoff:
		p.armWakeup(ctx, nextWake)
	}
}

func (p *Processor) unclaim(ctx context.Context, job Job) {
	job.Active = false
	if err := p.adapter.UpdateJob(ctx, job); err != nil {
		p.logger.ErrorContext(ctx, "failed to unclaim job",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
}

func (p *Processor) armWakeup(ctx context.Context, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(delay, func() { p.tick(ctx) })
}

func (p *Processor) armHeartbeat(ctx context.Context) {
	extender, ok := p.adapter.(ClaimExtender)
	if !ok {
		return
	}
	p.mu.Lock()
	if p.heartbeatTmr != nil {
		p.heartbeatTmr.Stop()
	}
	p.heartbeatTmr = time.AfterFunc(p.heartbeatInterval, func() {
		p.mu.Lock()
		active := p.status == statusActive
		ids := make([]string, 0, len(p.inFlight))
		for id := range p.inFlight {
			ids = append(ids, id)
		}
		p.mu.Unlock()

		if active && len(ids) > 0 {
			until := time.Now().UTC().Add(p.heartbeatInterval * 2)
			if err := extender.ExtendClaim(ctx, ids, until); err != nil {
				p.logger.WarnContext(ctx, "failed to extend claim heartbeat", slog.String("error", err.Error()))
			}
		}
		if active {
			p.armHeartbeat(ctx)
		}
	})
}

func timePtr(t time.Time) *time.Time { return &t }
