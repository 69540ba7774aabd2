package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipeline/pkg/models"
)

type fakeQueue struct {
	depth, dlq int
	err        error
}

func (f *fakeQueue) GetQueueDepth() (int, error) { return f.depth, f.err }
func (f *fakeQueue) GetDLQDepth() (int, error)   { return f.dlq, f.err }

func TestUpdateMetrics(t *testing.T) {
	q := &fakeQueue{depth: 12, dlq: 3}
	m := NewMonitor(q, logging.Nop())

	require.NoError(t, m.updateMetrics(context.Background()))

	snapshot := m.GetMetrics()
	assert.Equal(t, 12, snapshot.QueueDepth)
	assert.Equal(t, 3, snapshot.DLQDepth)
	assert.Equal(t, HealthHealthy, m.GetSystemHealth())
	assert.Empty(t, m.GetAlerts())
}

func TestUpdateMetrics_QueueError(t *testing.T) {
	m := NewMonitor(&fakeQueue{err: errors.New("channel closed")}, nil)
	assert.Error(t, m.updateMetrics(context.Background()))

	assert.NoError(t, NewMonitor(nil, nil).updateMetrics(context.Background()))
}

func TestJobAccounting(t *testing.T) {
	m := NewMonitor(nil, nil)

	m.JobStarted("worker-1", "job-1")
	m.JobStarted("worker-1", "job-2")
	assert.Equal(t, 2, m.GetMetrics().ActiveJobs)

	m.JobFinished("worker-1", 2*time.Second, nil)
	m.JobFinished("worker-1", 4*time.Second, errors.New("encode failed"))

	snapshot := m.GetMetrics()
	assert.Equal(t, 0, snapshot.ActiveJobs)
	assert.Equal(t, int64(2), snapshot.TotalJobs)
	assert.Equal(t, int64(1), snapshot.CompletedJobs)
	assert.Equal(t, int64(1), snapshot.FailedJobs)
	assert.InDelta(t, 3.0, snapshot.AverageProcessTime, 0.001)

	workers := m.GetWorkerHealth()
	require.Len(t, workers, 1)
	assert.Equal(t, int64(2), workers[0].ProcessedJobs)
	assert.Empty(t, workers[0].CurrentJob)

	assert.Equal(t, HealthWarning, m.GetSystemHealth())
	assert.Contains(t, m.GetAlerts(), "High failure rate: 50.0%")
}

func TestWorkerHeartbeatTimeout(t *testing.T) {
	m := NewMonitor(nil, nil)
	m.RegisterWorkerHeartbeat("worker-1", "")
	m.RegisterWorkerHeartbeat("worker-2", "job-9")

	m.mu.Lock()
	m.workers["worker-1"].LastHeartbeat = time.Now().Add(-5 * time.Minute)
	m.mu.Unlock()

	m.updateWorkerHealth(time.Now())

	snapshot := m.GetMetrics()
	assert.Equal(t, 2, snapshot.WorkerCount)
	assert.Equal(t, 1, snapshot.HealthyWorkers)
	assert.Equal(t, HealthWarning, m.GetSystemHealth())
	assert.Contains(t, m.GetAlerts(), "Unhealthy workers: 1/2")

	// A fresh heartbeat restores the worker
	m.RegisterWorkerHeartbeat("worker-1", "")
	assert.Equal(t, HealthHealthy, m.GetSystemHealth())
}

func TestDeadLetterBacklogIsCritical(t *testing.T) {
	m := NewMonitor(&fakeQueue{depth: 5000, dlq: 150}, nil)
	require.NoError(t, m.updateMetrics(context.Background()))

	assert.Equal(t, HealthCritical, m.GetSystemHealth())
	alerts := m.GetAlerts()
	assert.Contains(t, alerts, "High DLQ depth: 150 messages")
	assert.Contains(t, alerts, "High queue depth: 5000 jobs pending")
}

func TestStartStopsWithContext(t *testing.T) {
	q := &fakeQueue{depth: 7}
	m := NewMonitor(q, nil).WithInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	assert.Eventually(t, func() bool {
		return m.GetMetrics().QueueDepth == 7
	}, time.Second, 5*time.Millisecond)
	cancel()
}

type memHeartbeats struct {
	mu    sync.Mutex
	beats map[string]*models.WorkerHeartbeat
	err   error
}

func newMemHeartbeats() *memHeartbeats {
	return &memHeartbeats{beats: make(map[string]*models.WorkerHeartbeat)}
}

func (s *memHeartbeats) SetWorkerHeartbeat(_ context.Context, hb *models.WorkerHeartbeat, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	cp := *hb
	s.beats[hb.WorkerID] = &cp
	return nil
}

func (s *memHeartbeats) ListWorkerHeartbeats(context.Context) ([]*models.WorkerHeartbeat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []*models.WorkerHeartbeat
	for _, hb := range s.beats {
		cp := *hb
		out = append(out, &cp)
	}
	return out, nil
}

func TestHeartbeatsReachOtherProcess(t *testing.T) {
	store := newMemHeartbeats()
	ctx := context.Background()

	worker := NewMonitor(nil, nil)
	worker.RegisterWorkerHeartbeat("worker-1", "")
	worker.JobStarted("worker-1", "job-1")
	worker.JobFinished("worker-1", time.Second, errors.New("encode failed"))
	worker.JobStarted("worker-1", "job-2")

	now := time.Now()
	require.NoError(t, worker.publishHeartbeats(ctx, store, now))

	api := NewMonitor(nil, nil)
	require.NoError(t, api.collectHeartbeats(ctx, store, now))

	workers := api.GetWorkerHealth()
	require.Len(t, workers, 1)
	assert.Equal(t, "worker-1", workers[0].WorkerID)
	assert.Equal(t, "job-2", workers[0].CurrentJob)
	assert.Equal(t, int64(1), workers[0].ProcessedJobs)
	assert.Equal(t, int64(1), workers[0].FailedJobs)

	snapshot := api.GetMetrics()
	assert.Equal(t, 1, snapshot.WorkerCount)
	assert.Equal(t, 1, snapshot.HealthyWorkers)
	assert.Equal(t, HealthWarning, api.GetSystemHealth())
	assert.Contains(t, api.GetAlerts(), "High failure rate: 100.0%")
}

func TestCollectedWorkerGoesSilent(t *testing.T) {
	store := newMemHeartbeats()
	ctx := context.Background()
	start := time.Now()

	require.NoError(t, store.SetWorkerHeartbeat(ctx, &models.WorkerHeartbeat{WorkerID: "worker-1", SentAt: start}, time.Minute))
	require.NoError(t, store.SetWorkerHeartbeat(ctx, &models.WorkerHeartbeat{WorkerID: "worker-2", SentAt: start}, time.Minute))

	api := NewMonitor(nil, nil)
	require.NoError(t, api.collectHeartbeats(ctx, store, start))
	assert.Equal(t, HealthHealthy, api.GetSystemHealth())

	// worker-2 keeps reporting, worker-1 stopped
	later := start.Add(3 * time.Minute)
	require.NoError(t, store.SetWorkerHeartbeat(ctx, &models.WorkerHeartbeat{WorkerID: "worker-2", SentAt: later}, time.Minute))
	require.NoError(t, api.collectHeartbeats(ctx, store, later))

	assert.Equal(t, 1, api.GetMetrics().HealthyWorkers)
	assert.Equal(t, HealthWarning, api.GetSystemHealth())
	assert.Contains(t, api.GetAlerts(), "Unhealthy workers: 1/2")

	// Long gone workers are dropped
	store.mu.Lock()
	delete(store.beats, "worker-1")
	store.mu.Unlock()
	gone := start.Add(15 * time.Minute)
	require.NoError(t, store.SetWorkerHeartbeat(ctx, &models.WorkerHeartbeat{WorkerID: "worker-2", SentAt: gone}, time.Minute))
	require.NoError(t, api.collectHeartbeats(ctx, store, gone))

	assert.Equal(t, 1, api.GetMetrics().WorkerCount)
	assert.Equal(t, HealthHealthy, api.GetSystemHealth())
}

func TestHeartbeatStoreErrors(t *testing.T) {
	store := newMemHeartbeats()
	store.err = errors.New("redis down")

	m := NewMonitor(nil, nil)
	m.RegisterWorkerHeartbeat("worker-1", "")

	assert.ErrorIs(t, m.publishHeartbeats(context.Background(), store, time.Now()), store.err)
	assert.ErrorIs(t, m.collectHeartbeats(context.Background(), store, time.Now()), store.err)
}

func TestPublishHeartbeatsLoop(t *testing.T) {
	store := newMemHeartbeats()
	m := NewMonitor(nil, nil).WithInterval(5 * time.Millisecond)
	m.RegisterWorkerHeartbeat("worker-1", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.PublishHeartbeats(ctx, store)

	assert.Eventually(t, func() bool {
		beats, _ := store.ListWorkerHeartbeats(ctx)
		return len(beats) == 1
	}, time.Second, 5*time.Millisecond)
}
