package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/logging"
	"github.com/therealutkarshpriyadarshi/vodpipeline/internal/metrics"
	"github.com/therealutkarshpriyadarshi/vodpipeline/pkg/models"
)

// Health levels reported by GetSystemHealth
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

// Alert thresholds
const (
	dlqDepthCritical   = 100
	queueDepthWarning  = 1000
	failureRateWarning = 0.1
	heartbeatTimeout   = 2 * time.Minute
	// workerRetention is how long a silent worker is still reported
	workerRetention = 10 * time.Minute
)

// Metrics holds a snapshot of pipeline health
type Metrics struct {
	QueueDepth         int       `json:"queue_depth"`
	DLQDepth           int       `json:"dlq_depth"`
	ActiveJobs         int       `json:"active_jobs"`
	TotalJobs          int64     `json:"total_jobs"`
	CompletedJobs      int64     `json:"completed_jobs"`
	FailedJobs         int64     `json:"failed_jobs"`
	AverageProcessTime float64   `json:"average_process_time_seconds"`
	WorkerCount        int       `json:"worker_count"`
	HealthyWorkers     int       `json:"healthy_workers"`
	LastUpdated        time.Time `json:"last_updated"`
}

// WorkerHealth holds worker health information
type WorkerHealth struct {
	WorkerID      string    `json:"worker_id"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	CurrentJob    string    `json:"current_job,omitempty"`
	ProcessedJobs int64     `json:"processed_jobs"`
	FailedJobs    int64     `json:"failed_jobs"`
}

// QueueProvider reports broker queue depths
type QueueProvider interface {
	GetQueueDepth() (int, error)
	GetDLQDepth() (int, error)
}

// HeartbeatStore shares worker heartbeats between the worker processes and
// the API process
type HeartbeatStore interface {
	SetWorkerHeartbeat(ctx context.Context, hb *models.WorkerHeartbeat, ttl time.Duration) error
	ListWorkerHeartbeats(ctx context.Context) ([]*models.WorkerHeartbeat, error)
}

// Monitor polls queue depths into prometheus and tracks job outcomes and
// worker heartbeats for health checks
type Monitor struct {
	metrics       *Metrics
	workers       map[string]*WorkerHealth
	mu            sync.RWMutex
	queueProvider QueueProvider
	interval      time.Duration
	processTotal  float64
	logger        *logging.Logger
}

// NewMonitor creates a new monitoring service. queueProvider may be nil
// when the process has no broker connection.
func NewMonitor(queueProvider QueueProvider, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Monitor{
		metrics: &Metrics{
			LastUpdated: time.Now(),
		},
		workers:       make(map[string]*WorkerHealth),
		queueProvider: queueProvider,
		interval:      10 * time.Second,
		logger:        logger,
	}
}

// WithInterval sets how often queue depths are polled
func (m *Monitor) WithInterval(d time.Duration) *Monitor {
	if d > 0 {
		m.interval = d
	}
	return m
}

// Start begins the monitoring service
func (m *Monitor) Start(ctx context.Context) {
	go m.collectMetrics(ctx)
	go m.checkWorkerHealth(ctx)
}

// collectMetrics periodically collects queue metrics
func (m *Monitor) collectMetrics(ctx context.Context) {
	m.every(ctx, func() {
		if err := m.updateMetrics(ctx); err != nil {
			m.logger.WithError(err).Warn("Failed to update metrics")
		}
	})
}

// updateMetrics refreshes queue depths and exports them
func (m *Monitor) updateMetrics(_ context.Context) error {
	if m.queueProvider == nil {
		return nil
	}

	queueDepth, err := m.queueProvider.GetQueueDepth()
	if err != nil {
		return fmt.Errorf("failed to get queue depth: %w", err)
	}

	dlqDepth, err := m.queueProvider.GetDLQDepth()
	if err != nil {
		return fmt.Errorf("failed to get DLQ depth: %w", err)
	}

	metrics.UpdateQueueDepths(queueDepth, dlqDepth)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.QueueDepth = queueDepth
	m.metrics.DLQDepth = dlqDepth
	m.metrics.LastUpdated = time.Now()

	return nil
}

// checkWorkerHealth checks worker health status
func (m *Monitor) checkWorkerHealth(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.updateWorkerHealth(time.Now())
		}
	}
}

// updateWorkerHealth marks workers without a recent heartbeat unhealthy
func (m *Monitor) updateWorkerHealth(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireWorkers(now)
}

// expireWorkers marks silent workers unhealthy and forgets the ones gone
// for longer than workerRetention. Caller holds mu.
func (m *Monitor) expireWorkers(now time.Time) {
	for workerID, worker := range m.workers {
		silent := now.Sub(worker.LastHeartbeat)
		switch {
		case silent > workerRetention:
			delete(m.workers, workerID)
			m.logger.WithWorkerID(workerID).Info("Worker removed (gone)")
		case silent > heartbeatTimeout && worker.Status != "unhealthy":
			worker.Status = "unhealthy"
			m.logger.WithWorkerID(workerID).Warn("Worker marked as unhealthy (no heartbeat)")
		}
	}
	m.countWorkers()
}

// PublishHeartbeats shares the state of this process's workers through
// store every interval until ctx is done
func (m *Monitor) PublishHeartbeats(ctx context.Context, store HeartbeatStore) {
	go m.every(ctx, func() {
		if err := m.publishHeartbeats(ctx, store, time.Now()); err != nil {
			m.logger.WithError(err).Warn("Failed to publish worker heartbeats")
		}
	})
}

func (m *Monitor) publishHeartbeats(ctx context.Context, store HeartbeatStore, now time.Time) error {
	m.mu.Lock()
	beats := make([]*models.WorkerHeartbeat, 0, len(m.workers))
	for _, worker := range m.workers {
		// This process is alive, so are its workers
		worker.LastHeartbeat = now
		worker.Status = "healthy"
		beats = append(beats, &models.WorkerHeartbeat{
			WorkerID:      worker.WorkerID,
			CurrentJob:    worker.CurrentJob,
			ProcessedJobs: worker.ProcessedJobs,
			FailedJobs:    worker.FailedJobs,
			SentAt:        now,
		})
	}
	m.countWorkers()
	m.mu.Unlock()

	var errs []error
	for _, hb := range beats {
		if err := store.SetWorkerHeartbeat(ctx, hb, workerRetention); err != nil {
			errs = append(errs, fmt.Errorf("worker %s: %w", hb.WorkerID, err))
		}
	}
	return errors.Join(errs...)
}

// CollectHeartbeats imports the heartbeats other processes publish to
// store every interval until ctx is done
func (m *Monitor) CollectHeartbeats(ctx context.Context, store HeartbeatStore) {
	go m.every(ctx, func() {
		if err := m.collectHeartbeats(ctx, store, time.Now()); err != nil {
			m.logger.WithError(err).Warn("Failed to collect worker heartbeats")
		}
	})
}

func (m *Monitor) collectHeartbeats(ctx context.Context, store HeartbeatStore, now time.Time) error {
	beats, err := store.ListWorkerHeartbeats(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, hb := range beats {
		worker := m.worker(hb.WorkerID)
		if hb.SentAt.Before(worker.LastHeartbeat) {
			continue
		}
		worker.LastHeartbeat = hb.SentAt
		worker.CurrentJob = hb.CurrentJob
		worker.ProcessedJobs = hb.ProcessedJobs
		worker.FailedJobs = hb.FailedJobs
		worker.Status = "healthy"
	}
	m.expireWorkers(now)

	return nil
}

// every runs fn each interval until ctx is done
func (m *Monitor) every(ctx context.Context, fn func()) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// RegisterWorkerHeartbeat registers a worker heartbeat
func (m *Monitor) RegisterWorkerHeartbeat(workerID, currentJob string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	worker := m.worker(workerID)
	worker.LastHeartbeat = time.Now()
	worker.CurrentJob = currentJob
	worker.Status = "healthy"
	m.countWorkers()
}

// JobStarted records that workerID picked up jobID
func (m *Monitor) JobStarted(workerID, jobID string) {
	m.RegisterWorkerHeartbeat(workerID, jobID)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.TotalJobs++
	m.metrics.ActiveJobs++
}

// JobFinished records the outcome of a job run by workerID
func (m *Monitor) JobFinished(workerID string, duration time.Duration, err error) {
	m.RegisterWorkerHeartbeat(workerID, "")

	m.mu.Lock()
	defer m.mu.Unlock()

	m.metrics.ActiveJobs--
	if err != nil {
		m.metrics.FailedJobs++
	} else {
		m.metrics.CompletedJobs++
	}
	worker := m.workers[workerID]
	worker.ProcessedJobs++
	if err != nil {
		worker.FailedJobs++
	}

	m.processTotal += duration.Seconds()
	if done := m.metrics.CompletedJobs + m.metrics.FailedJobs; done > 0 {
		m.metrics.AverageProcessTime = m.processTotal / float64(done)
	}
}

// worker returns the entry for workerID, creating it. Caller holds mu.
func (m *Monitor) worker(workerID string) *WorkerHealth {
	worker, exists := m.workers[workerID]
	if !exists {
		worker = &WorkerHealth{
			WorkerID: workerID,
			Status:   "healthy",
		}
		m.workers[workerID] = worker
	}
	return worker
}

// countWorkers refreshes the worker totals. Caller holds mu.
func (m *Monitor) countWorkers() {
	healthy := 0
	for _, worker := range m.workers {
		if worker.Status == "healthy" {
			healthy++
		}
	}
	m.metrics.WorkerCount = len(m.workers)
	m.metrics.HealthyWorkers = healthy
}

// GetMetrics returns current system metrics
func (m *Monitor) GetMetrics() *Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := *m.metrics
	return &metrics
}

// GetWorkerHealth returns health status of all workers
func (m *Monitor) GetWorkerHealth() []*WorkerHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	workers := make([]*WorkerHealth, 0, len(m.workers))
	for _, worker := range m.workers {
		w := *worker
		workers = append(workers, &w)
	}

	return workers
}

// GetSystemHealth returns overall system health
func (m *Monitor) GetSystemHealth() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.metrics.DLQDepth > dlqDepthCritical {
		return HealthCritical
	}

	if m.metrics.WorkerCount > 0 {
		healthyRatio := float64(m.metrics.HealthyWorkers) / float64(m.metrics.WorkerCount)
		if healthyRatio < 0.5 {
			return HealthCritical
		} else if healthyRatio < 0.8 {
			return HealthWarning
		}
	}

	if m.metrics.QueueDepth > queueDepthWarning {
		return HealthWarning
	}

	if m.failureRate() > failureRateWarning {
		return HealthWarning
	}

	return HealthHealthy
}

// GetAlerts returns current system alerts
func (m *Monitor) GetAlerts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var alerts []string

	if m.metrics.DLQDepth > dlqDepthCritical {
		alerts = append(alerts, fmt.Sprintf("High DLQ depth: %d messages", m.metrics.DLQDepth))
	}

	if m.metrics.QueueDepth > queueDepthWarning {
		alerts = append(alerts, fmt.Sprintf("High queue depth: %d jobs pending", m.metrics.QueueDepth))
	}

	if m.metrics.WorkerCount > 0 {
		healthyRatio := float64(m.metrics.HealthyWorkers) / float64(m.metrics.WorkerCount)
		if healthyRatio < 0.8 {
			alerts = append(alerts, fmt.Sprintf("Unhealthy workers: %d/%d",
				m.metrics.WorkerCount-m.metrics.HealthyWorkers, m.metrics.WorkerCount))
		}
	}

	if rate := m.failureRate(); rate > failureRateWarning {
		alerts = append(alerts, fmt.Sprintf("High failure rate: %.1f%%", rate*100))
	}

	return alerts
}

// failureRate is failed over finished jobs across known workers. Caller
// holds mu.
func (m *Monitor) failureRate() float64 {
	var done, failed int64
	for _, worker := range m.workers {
		done += worker.ProcessedJobs
		failed += worker.FailedJobs
	}
	if done == 0 {
		return 0
	}
	return float64(failed) / float64(done)
}
