package pipeline

import (
	"sync/atomic"
	"time"
)

// Category classifies a job for C10's per-category latency counters and
// for dispatch inside the execute stage.
type Category string

const (
	CategoryEcho        Category = "ECHO"
	CategoryStore       Category = "STORE"
	CategoryFind        Category = "FIND"
	CategoryGet         Category = "GET"
	CategoryMove        Category = "MOVE"
	CategoryNAction     Category = "N-*"
	CategoryAssociation Category = "ASSOCIATION"
	CategoryOther       Category = "OTHER"
)

// JobID is a process-monotonic job identifier, handed out by
// Coordinator.GenerateJobID.
type JobID uint64

// Job is one unit of work flowing through the six stages. Payload holds
// the stage-specific data (raw bytes, a parsed PDU, a service request,
// ...); stage handlers type-assert it to whatever they expect.
type Job struct {
	ID          JobID
	SessionID   string
	MessageID   uint16
	Stage       string
	Category    Category
	EnqueuedAt  time.Time
	Payload     any

	// OrderKey, when non-empty, is the (session, message id) lane this
	// job belongs to; jobs sharing an OrderKey run in ascending Seq
	// order within ResponseEncode and NetworkSend, regardless of which
	// worker picks them up. Empty OrderKey means no ordering constraint.
	OrderKey string
	Seq      uint64

	cancel *atomic.Bool
}

// Cancelled reports whether the job's session has been torn down since
// the job was created. Stage workers check this at stage entry and at
// minimum skip emitting successors when it is true.
func (j Job) Cancelled() bool {
	return j.cancel != nil && j.cancel.Load()
}

// newCancelFlag creates the shared cancellation flag for one session; every
// job belonging to that session holds a pointer to the same flag, so
// cancelling a session cancels every in-flight job for it in one store.
func newCancelFlag() *atomic.Bool { return &atomic.Bool{} }
