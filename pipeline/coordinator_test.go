package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dicomnet/dicomnet/metrics"
)

func smallConfig(policy BackpressurePolicy, capacity int) map[string]StageConfig {
	cfg := DefaultConfig()
	for name := range cfg {
		cfg[name] = StageConfig{Workers: 2, Capacity: capacity, Policy: Block}
	}
	c := cfg[metrics.StageNetworkSend]
	c.Policy = policy
	cfg[metrics.StageNetworkSend] = c
	return cfg
}

func echoHandler(t *testing.T, stage string, seen *int32) Handler {
	return func(ctx context.Context, job Job) ([]Job, error) {
		atomic.AddInt32(seen, 1)
		return nil, nil
	}
}

func TestCoordinator_SubmitRunsHandler(t *testing.T) {
	reg := metrics.NewRegistry()
	c := NewCoordinator(smallConfig(Block, 16), reg, nil)

	var seen int32
	c.RegisterHandler(metrics.StageNetworkReceive, echoHandler(t, metrics.StageNetworkReceive, &seen))
	c.Start()
	defer c.Stop()

	job := c.NewJob("s1", 1, metrics.StageNetworkReceive, CategoryEcho, []byte("hello"))
	if err := c.SubmitToStage(context.Background(), metrics.StageNetworkReceive, job); err != nil {
		t.Fatalf("SubmitToStage error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&seen) == 0 {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&seen) != 1 {
		t.Fatalf("handler ran %d times, want 1", seen)
	}
}

func TestCoordinator_ChainsToNextStage(t *testing.T) {
	reg := metrics.NewRegistry()
	c := NewCoordinator(smallConfig(Block, 16), reg, nil)

	var decodeSeen int32
	c.RegisterHandler(metrics.StageNetworkReceive, func(ctx context.Context, job Job) ([]Job, error) {
		return []Job{c.NewJob(job.SessionID, job.MessageID, metrics.StagePduDecode, job.Category, job.Payload)}, nil
	})
	c.RegisterHandler(metrics.StagePduDecode, func(ctx context.Context, job Job) ([]Job, error) {
		atomic.AddInt32(&decodeSeen, 1)
		return nil, nil
	})
	c.Start()
	defer c.Stop()

	job := c.NewJob("s1", 1, metrics.StageNetworkReceive, CategoryEcho, nil)
	if err := c.SubmitToStage(context.Background(), metrics.StageNetworkReceive, job); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&decodeSeen) == 0 {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt32(&decodeSeen) != 1 {
		t.Fatalf("PduDecode handler ran %d times, want 1", decodeSeen)
	}
}

func TestCoordinator_DropPolicyFailsFast(t *testing.T) {
	reg := metrics.NewRegistry()
	cfg := smallConfig(Block, 1)
	stage := cfg[metrics.StageExecute]
	stage.Policy = Drop
	stage.Workers = 0 // no workers: the queue stays full so the second submit is forced to apply the policy
	cfg[metrics.StageExecute] = stage

	c := NewCoordinator(cfg, reg, nil)
	c.RegisterHandler(metrics.StageExecute, func(ctx context.Context, job Job) ([]Job, error) { return nil, nil })

	job1 := c.NewJob("s1", 1, metrics.StageExecute, CategoryEcho, nil)
	job2 := c.NewJob("s1", 2, metrics.StageExecute, CategoryEcho, nil)

	if err := c.SubmitToStage(context.Background(), metrics.StageExecute, job1); err != nil {
		t.Fatalf("first submit should succeed: %v", err)
	}
	if err := c.SubmitToStage(context.Background(), metrics.StageExecute, job2); err == nil {
		t.Fatal("second submit should fail under Drop policy with a full queue")
	}
}

func TestCoordinator_ShedOldestEvictsForRoom(t *testing.T) {
	reg := metrics.NewRegistry()
	cfg := smallConfig(Block, 1)
	stage := cfg[metrics.StageNetworkSend]
	stage.Policy = ShedOldest
	stage.Workers = 0
	cfg[metrics.StageNetworkSend] = stage

	c := NewCoordinator(cfg, reg, nil)

	job1 := c.NewJob("s1", 1, metrics.StageNetworkSend, CategoryEcho, "first")
	job2 := c.NewJob("s1", 2, metrics.StageNetworkSend, CategoryEcho, "second")

	must(t, c.SubmitToStage(context.Background(), metrics.StageNetworkSend, job1))
	must(t, c.SubmitToStage(context.Background(), metrics.StageNetworkSend, job2))

	if c.QueueDepth(metrics.StageNetworkSend) != 1 {
		t.Fatalf("QueueDepth = %d, want 1", c.QueueDepth(metrics.StageNetworkSend))
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCoordinator_OnBackpressureHookFires(t *testing.T) {
	reg := metrics.NewRegistry()
	cfg := smallConfig(Block, 1)
	stage := cfg[metrics.StageExecute]
	stage.Policy = Drop
	stage.Workers = 0
	cfg[metrics.StageExecute] = stage

	var calls int32
	var mu sync.Mutex
	var lastStage string
	c := NewCoordinator(cfg, reg, func(stageName string, depth int) {
		atomic.AddInt32(&calls, 1)
		mu.Lock()
		lastStage = stageName
		mu.Unlock()
	})

	job1 := c.NewJob("s1", 1, metrics.StageExecute, CategoryEcho, nil)
	job2 := c.NewJob("s1", 2, metrics.StageExecute, CategoryEcho, nil)
	c.SubmitToStage(context.Background(), metrics.StageExecute, job1)
	c.SubmitToStage(context.Background(), metrics.StageExecute, job2)

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("onBackpressure called %d times, want 1", calls)
	}
	mu.Lock()
	defer mu.Unlock()
	if lastStage != metrics.StageExecute {
		t.Errorf("onBackpressure stage = %q, want %q", lastStage, metrics.StageExecute)
	}
}

func TestCoordinator_CancelSessionStopsSuccessors(t *testing.T) {
	reg := metrics.NewRegistry()
	c := NewCoordinator(smallConfig(Block, 16), reg, nil)

	var secondStageCalls int32
	c.RegisterHandler(metrics.StageNetworkReceive, func(ctx context.Context, job Job) ([]Job, error) {
		return []Job{c.NewJob(job.SessionID, job.MessageID, metrics.StagePduDecode, job.Category, nil)}, nil
	})
	c.RegisterHandler(metrics.StagePduDecode, func(ctx context.Context, job Job) ([]Job, error) {
		atomic.AddInt32(&secondStageCalls, 1)
		return nil, nil
	})

	flag := c.NewSession("s1")
	flag.Store(true) // cancel before anything runs
	c.Start()
	defer c.Stop()

	job := c.NewJob("s1", 1, metrics.StageNetworkReceive, CategoryEcho, nil)
	c.SubmitToStage(context.Background(), metrics.StageNetworkReceive, job)

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&secondStageCalls) != 0 {
		t.Error("cancelled session's job should never reach the second stage")
	}
}

func TestSequencer_EnforcesOrder(t *testing.T) {
	seq := newSequencer()
	var order []uint64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := uint64(3); i > 0; i-- {
		wg.Add(1)
		go func(n uint64) {
			defer wg.Done()
			seq.Wait("k", n-1)
			mu.Lock()
			order = append(order, n-1)
			mu.Unlock()
			seq.Done("k", n-1)
		}(i)
	}
	wg.Wait()

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("order = %v, want [0 1 2]", order)
	}
}
