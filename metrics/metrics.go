// Package metrics implements the pipeline's lock-free counters: per-stage
// job/latency accounting and per-category operation accounting. All
// mutations use atomic adds and compare-exchange loops for min/max;
// reads are always allowed and never block a writer.
package metrics

import (
	"sync"
	"sync/atomic"
)

// StageMetrics holds the counters for one pipeline stage (NetworkReceive,
// PduDecode, DimseProcess, Execute, ResponseEncode, NetworkSend).
type StageMetrics struct {
	JobsProcessed     atomic.Uint64
	JobsQueued        atomic.Uint64
	JobsFailed        atomic.Uint64
	TotalProcessingNs atomic.Uint64
	MaxProcessingNs    atomic.Uint64
	ActiveWorkers     atomic.Int32
	IdleWorkers       atomic.Int32
}

// RecordProcessed accounts a completed job and its processing duration.
func (s *StageMetrics) RecordProcessed(durationNs uint64) {
	s.JobsProcessed.Add(1)
	s.TotalProcessingNs.Add(durationNs)
	for {
		cur := s.MaxProcessingNs.Load()
		if durationNs <= cur {
			return
		}
		if s.MaxProcessingNs.CompareAndSwap(cur, durationNs) {
			return
		}
	}
}

// RecordFailed accounts a job discarded or rejected by the stage.
func (s *StageMetrics) RecordFailed() {
	s.JobsFailed.Add(1)
}

// RecordQueued accounts a job accepted into the stage's queue.
func (s *StageMetrics) RecordQueued() {
	s.JobsQueued.Add(1)
}

// EnterWorker marks a worker goroutine as active (about to run a job).
func (s *StageMetrics) EnterWorker() {
	s.ActiveWorkers.Add(1)
	s.IdleWorkers.Add(-1)
}

// ExitWorker marks a worker goroutine as idle again after a job completes.
func (s *StageMetrics) ExitWorker() {
	s.ActiveWorkers.Add(-1)
	s.IdleWorkers.Add(1)
}

// StageSnapshot is a point-in-time copy of a StageMetrics' counters.
type StageSnapshot struct {
	JobsProcessed     uint64
	JobsQueued        uint64
	JobsFailed        uint64
	TotalProcessingNs uint64
	MaxProcessingNs    uint64
	ActiveWorkers     int32
	IdleWorkers       int32
}

func (s *StageMetrics) Snapshot() StageSnapshot {
	return StageSnapshot{
		JobsProcessed:     s.JobsProcessed.Load(),
		JobsQueued:        s.JobsQueued.Load(),
		JobsFailed:        s.JobsFailed.Load(),
		TotalProcessingNs: s.TotalProcessingNs.Load(),
		MaxProcessingNs:    s.MaxProcessingNs.Load(),
		ActiveWorkers:     s.ActiveWorkers.Load(),
		IdleWorkers:       s.IdleWorkers.Load(),
	}
}

const maxUint64 = ^uint64(0)

// CategoryMetrics holds the counters for one DIMSE operation category
// (C-ECHO, C-STORE, C-FIND, C-MOVE, C-GET, N-CREATE, ...).
type CategoryMetrics struct {
	Total    atomic.Uint64
	Success  atomic.Uint64
	Failed   atomic.Uint64
	TotalNs  atomic.Uint64
	MinNs    atomic.Uint64
	MaxNs    atomic.Uint64
}

// NewCategoryMetrics returns a CategoryMetrics with MinNs initialized to
// the maximum uint64 value, so the first recorded latency always wins
// the compare-exchange-down.
func NewCategoryMetrics() *CategoryMetrics {
	c := &CategoryMetrics{}
	c.MinNs.Store(maxUint64)
	return c
}

// Record accounts one completed operation, its outcome and latency.
func (c *CategoryMetrics) Record(success bool, durationNs uint64) {
	c.Total.Add(1)
	if success {
		c.Success.Add(1)
	} else {
		c.Failed.Add(1)
	}
	c.TotalNs.Add(durationNs)

	for {
		cur := c.MaxNs.Load()
		if durationNs <= cur {
			break
		}
		if c.MaxNs.CompareAndSwap(cur, durationNs) {
			break
		}
	}
	for {
		cur := c.MinNs.Load()
		if durationNs >= cur {
			break
		}
		if c.MinNs.CompareAndSwap(cur, durationNs) {
			break
		}
	}
}

type CategorySnapshot struct {
	Total   uint64
	Success uint64
	Failed  uint64
	TotalNs uint64
	MinNs   uint64
	MaxNs   uint64
}

func (c *CategoryMetrics) Snapshot() CategorySnapshot {
	min := c.MinNs.Load()
	if min == maxUint64 {
		min = 0
	}
	return CategorySnapshot{
		Total:   c.Total.Load(),
		Success: c.Success.Load(),
		Failed:  c.Failed.Load(),
		TotalNs: c.TotalNs.Load(),
		MinNs:   min,
		MaxNs:   c.MaxNs.Load(),
	}
}

// Stage names, in pipeline order.
const (
	StageNetworkReceive = "NetworkReceive"
	StagePduDecode      = "PduDecode"
	StageDimseProcess   = "DimseProcess"
	StageExecute        = "Execute"
	StageResponseEncode = "ResponseEncode"
	StageNetworkSend    = "NetworkSend"
)

var stageNames = [...]string{
	StageNetworkReceive,
	StagePduDecode,
	StageDimseProcess,
	StageExecute,
	StageResponseEncode,
	StageNetworkSend,
}

// Registry is the process-wide metrics store: one StageMetrics per
// pipeline stage and one CategoryMetrics per DIMSE operation category.
// The six stages are created by NewRegistry; categories are created
// lazily (they aren't known up front — they're keyed by command name
// the first time they're recorded).
type Registry struct {
	stages     map[string]*StageMetrics
	categories sync.Map
}

// NewRegistry allocates a Registry with all six stages pre-populated.
func NewRegistry() *Registry {
	r := &Registry{stages: make(map[string]*StageMetrics, len(stageNames))}
	for _, name := range stageNames {
		r.stages[name] = &StageMetrics{}
	}
	return r
}

// Stage returns the StageMetrics for a named stage, or nil if the name
// isn't one of the six fixed pipeline stages.
func (r *Registry) Stage(name string) *StageMetrics {
	return r.stages[name]
}

// Category returns the CategoryMetrics for a named operation category,
// creating it on first use.
func (r *Registry) Category(name string) *CategoryMetrics {
	if v, ok := r.categories.Load(name); ok {
		return v.(*CategoryMetrics)
	}
	c := NewCategoryMetrics()
	actual, _ := r.categories.LoadOrStore(name, c)
	return actual.(*CategoryMetrics)
}

// StageSnapshots returns a point-in-time copy of every stage's counters,
// keyed by stage name.
func (r *Registry) StageSnapshots() map[string]StageSnapshot {
	out := make(map[string]StageSnapshot, len(r.stages))
	for name, s := range r.stages {
		out[name] = s.Snapshot()
	}
	return out
}

// CategorySnapshots returns a point-in-time copy of every category's
// counters seen so far, keyed by category name.
func (r *Registry) CategorySnapshots() map[string]CategorySnapshot {
	out := make(map[string]CategorySnapshot)
	r.categories.Range(func(key, value any) bool {
		out[key.(string)] = value.(*CategoryMetrics).Snapshot()
		return true
	})
	return out
}
