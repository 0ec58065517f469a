// Package pipeline implements the six-stage job pipeline: bounded
// per-stage queues, per-stage worker pools, backpressure policies, and
// the per-(session, message id) ordering guarantee NetworkSend depends
// on.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dicomnet/dicomnet/errors"
	"github.com/dicomnet/dicomnet/metrics"
)

// Handler processes one job on its stage and returns the successor jobs
// to submit to the next stage (empty if the job produced no successor,
// e.g. DimseProcess on a response-typed command).
type Handler func(ctx context.Context, job Job) ([]Job, error)

// StageConfig configures one stage's worker pool, queue depth, and
// backpressure policy.
type StageConfig struct {
	Workers  int
	Capacity int
	Policy   BackpressurePolicy
}

// DefaultConfig returns the stage configuration spec.md's backpressure
// section names as the default: Block for Execute (handlers may block on
// I/O, so shedding or dropping a request silently would be wrong),
// ShedOldest for NetworkSend (a slow peer should not back up the whole
// pipeline), Block elsewhere.
func DefaultConfig() map[string]StageConfig {
	return map[string]StageConfig{
		metrics.StageNetworkReceive: {Workers: 4, Capacity: 256, Policy: Block},
		metrics.StagePduDecode:      {Workers: 4, Capacity: 256, Policy: Block},
		metrics.StageDimseProcess:   {Workers: 4, Capacity: 256, Policy: Block},
		metrics.StageExecute:        {Workers: 16, Capacity: 512, Policy: Block},
		metrics.StageResponseEncode: {Workers: 4, Capacity: 256, Policy: Block},
		metrics.StageNetworkSend:    {Workers: 4, Capacity: 256, Policy: ShedOldest},
	}
}

var stageOrder = []string{
	metrics.StageNetworkReceive,
	metrics.StagePduDecode,
	metrics.StageDimseProcess,
	metrics.StageExecute,
	metrics.StageResponseEncode,
	metrics.StageNetworkSend,
}

func nextStage(name string) string {
	for i, s := range stageOrder {
		if s == name && i+1 < len(stageOrder) {
			return stageOrder[i+1]
		}
	}
	return ""
}

// orderedStages are the stages where OrderKey/Seq are honored.
var orderedStages = map[string]bool{
	metrics.StageResponseEncode: true,
	metrics.StageNetworkSend:    true,
}

type stageRuntime struct {
	name    string
	queue   *boundedQueue
	policy  BackpressurePolicy
	workers int
	handler Handler
	metrics *metrics.StageMetrics
}

// Coordinator owns the six stage queues and worker pools and routes jobs
// between them.
type Coordinator struct {
	stages map[string]*stageRuntime
	reg    *metrics.Registry
	seq    *sequencer

	onBackpressure func(stage string, queueDepth int)

	jobCounter atomic.Uint64
	sessions   sync.Map // sessionID string -> *atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoordinator builds a coordinator with the given per-stage
// configuration and metrics registry. onBackpressure, if non-nil, is
// called every time a stage is found at its high-water mark, regardless
// of which policy ultimately handles the submission (the supplemented
// `on_backpressure` hook).
func NewCoordinator(cfg map[string]StageConfig, reg *metrics.Registry, onBackpressure func(stage string, queueDepth int)) *Coordinator {
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		stages:         make(map[string]*stageRuntime, len(stageOrder)),
		reg:            reg,
		seq:            newSequencer(),
		onBackpressure: onBackpressure,
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, name := range stageOrder {
		sc, ok := cfg[name]
		if !ok {
			sc = DefaultConfig()[name]
		}
		if sc.Workers <= 0 {
			sc.Workers = 1
		}
		if sc.Capacity <= 0 {
			sc.Capacity = 64
		}
		c.stages[name] = &stageRuntime{
			name:    name,
			queue:   newBoundedQueue(sc.Capacity),
			policy:  sc.Policy,
			workers: sc.Workers,
			metrics: reg.Stage(name),
		}
	}
	return c
}

// RegisterHandler sets the handler that processes jobs on stage. Must be
// called before Start.
func (c *Coordinator) RegisterHandler(stage string, h Handler) {
	if rt, ok := c.stages[stage]; ok {
		rt.handler = h
	}
}

// GenerateJobID returns a process-unique, monotonically increasing job id.
func (c *Coordinator) GenerateJobID() JobID {
	return JobID(c.jobCounter.Add(1))
}

// NewSession registers a cancellation flag for sessionID and returns it;
// jobs created for this session should carry this flag so CancelSession
// can stop them all in one store.
func (c *Coordinator) NewSession(sessionID string) *atomic.Bool {
	flag := newCancelFlag()
	c.sessions.Store(sessionID, flag)
	return flag
}

// CancelSession sets the cancellation flag for sessionID, if registered.
// In-flight jobs for that session complete or are discarded at their
// next stage-entry check without emitting successors.
func (c *Coordinator) CancelSession(sessionID string) {
	if v, ok := c.sessions.Load(sessionID); ok {
		v.(*atomic.Bool).Store(true)
	}
	c.sessions.Delete(sessionID)
}

// cancelFlagFor returns the stored cancellation flag for sessionID, or
// nil if the session was never registered.
func (c *Coordinator) cancelFlagFor(sessionID string) *atomic.Bool {
	if v, ok := c.sessions.Load(sessionID); ok {
		return v.(*atomic.Bool)
	}
	return nil
}

// NewJob builds a job stamped with a fresh id, the session's
// cancellation flag (if registered), and the given stage/category/payload.
func (c *Coordinator) NewJob(sessionID string, messageID uint16, stage string, category Category, payload any) Job {
	return Job{
		ID:         c.GenerateJobID(),
		SessionID:  sessionID,
		MessageID:  messageID,
		Stage:      stage,
		Category:   category,
		EnqueuedAt: time.Now(),
		Payload:    payload,
		cancel:     c.cancelFlagFor(sessionID),
	}
}

// Start launches the worker pools for every stage with a registered
// handler.
func (c *Coordinator) Start() {
	for _, rt := range c.stages {
		if rt.handler == nil {
			continue
		}
		for i := 0; i < rt.workers; i++ {
			c.wg.Add(1)
			go c.runWorker(rt)
		}
	}
}

// Stop cancels all workers and waits for them to exit.
func (c *Coordinator) Stop() {
	c.cancel()
	for _, rt := range c.stages {
		rt.queue.Close()
	}
	c.wg.Wait()
}

func (c *Coordinator) runWorker(rt *stageRuntime) {
	defer c.wg.Done()
	for {
		job, ok := rt.queue.Pop(c.ctx)
		if !ok {
			return
		}
		c.process(rt, job)
	}
}

func (c *Coordinator) process(rt *stageRuntime, job Job) {
	// Each ordered stage keeps its own lane per OrderKey, so a job that
	// has advanced ResponseEncode's lane still finds its Seq due in
	// NetworkSend's.
	laneKey := rt.name + "/" + job.OrderKey
	ordered := orderedStages[rt.name] && job.OrderKey != ""
	if job.Cancelled() {
		if ordered {
			c.seq.Done(laneKey, job.Seq)
		}
		return
	}

	if ordered {
		c.seq.Wait(laneKey, job.Seq)
	}

	start := time.Now()
	successors, err := rt.handler(c.ctx, job)
	duration := uint64(time.Since(start).Nanoseconds())

	if ordered {
		c.seq.Done(laneKey, job.Seq)
	}

	cat := c.reg.Category(string(job.Category))
	if err != nil {
		rt.metrics.RecordFailed()
		cat.Record(false, duration)
		return
	}
	rt.metrics.RecordProcessed(duration)
	cat.Record(true, duration)

	next := nextStage(rt.name)
	if next == "" || job.Cancelled() {
		return
	}
	for _, s := range successors {
		s.Stage = next
		_ = c.SubmitToStage(c.ctx, next, s)
	}
}

// SubmitToStage enqueues job onto stage's queue, applying the stage's
// backpressure policy if the queue is at its high-water mark.
func (c *Coordinator) SubmitToStage(ctx context.Context, stage string, job Job) error {
	rt, ok := c.stages[stage]
	if !ok {
		return errors.NewPipelineError(stage, "unknown_stage")
	}

	if job.Cancelled() {
		return nil
	}

	if rt.queue.TryPush(job) {
		rt.metrics.RecordQueued()
		return nil
	}

	if c.onBackpressure != nil {
		c.onBackpressure(stage, rt.queue.Len())
	}

	switch rt.policy {
	case Drop:
		rt.metrics.RecordFailed()
		return errors.NewPipelineError(stage, string(Drop))
	case ShedOldest:
		rt.queue.EvictOldest()
		rt.metrics.RecordFailed()
		rt.queue.TryPush(job)
		rt.metrics.RecordQueued()
		return nil
	default: // Block
		if err := rt.queue.PushBlocking(ctx, job); err != nil {
			return err
		}
		rt.metrics.RecordQueued()
		return nil
	}
}

// QueueDepth reports the current number of jobs waiting on stage's
// queue (not counting jobs a worker already picked up).
func (c *Coordinator) QueueDepth(stage string) int {
	if rt, ok := c.stages[stage]; ok {
		return rt.queue.Len()
	}
	return 0
}
