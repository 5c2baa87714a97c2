package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/camden-git/facesentry/models"
	"go.uber.org/zap"
)

// SnapshotWriter renders and stores one alert snapshot.
type SnapshotWriter interface {
	SnapshotKey(alertID string, at time.Time) string
	URL(key string) string
	Write(ctx context.Context, key string, frame []byte, box models.BoundingBox) error
}

type SnapshotJob struct {
	Key   string
	Frame []byte
	Box   models.BoundingBox
}

// SnapshotQueue saves alert snapshots in the background so that alert
// delivery never waits on image encoding or storage.
type SnapshotQueue struct {
	jobs    chan SnapshotJob
	writer  SnapshotWriter
	logger  *zap.Logger
	wg      sync.WaitGroup
	stop    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	pending map[string]bool
}

func NewSnapshotQueue(writer SnapshotWriter, queueSize, numWorkers int, logger *zap.Logger) *SnapshotQueue {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}

	q := &SnapshotQueue{
		jobs:    make(chan SnapshotJob, queueSize),
		writer:  writer,
		logger:  logger.Named("snapshots"),
		stop:    make(chan struct{}),
		pending: make(map[string]bool),
	}

	q.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go q.worker(i)
	}
	q.logger.Info("started snapshot workers", zap.Int("workers", numWorkers), zap.Int("queue_size", queueSize))
	return q
}

func (q *SnapshotQueue) worker(id int) {
	defer q.wg.Done()
	for {
		select {
		case job := <-q.jobs:
			q.process(job)
			q.mu.Lock()
			delete(q.pending, job.Key)
			q.mu.Unlock()
		case <-q.stop:
			q.logger.Debug("snapshot worker stopping", zap.Int("worker", id))
			return
		}
	}
}

func (q *SnapshotQueue) process(job SnapshotJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := q.writer.Write(ctx, job.Key, job.Frame, job.Box); err != nil {
		q.logger.Error("failed to save snapshot", zap.String("key", job.Key), zap.Error(err))
		return
	}
	q.logger.Debug("snapshot saved", zap.String("key", job.Key))
}

// SaveSnapshot queues the snapshot and returns the path it will be served
// from once written. It fails when the queue is full.
func (q *SnapshotQueue) SaveSnapshot(_ context.Context, alertID string, at time.Time, frame []byte, box models.BoundingBox) (string, error) {
	job := SnapshotJob{Key: q.writer.SnapshotKey(alertID, at), Frame: frame, Box: box}
	if !q.QueueJob(job) {
		return "", fmt.Errorf("snapshot for alert %s not queued", alertID)
	}
	return q.writer.URL(job.Key), nil
}

// QueueJob enqueues job without blocking. It reports false when the key is
// already pending, the queue is full or the queue is stopped.
func (q *SnapshotQueue) QueueJob(job SnapshotJob) bool {
	select {
	case <-q.stop:
		return false
	default:
	}

	q.mu.Lock()
	if q.pending[job.Key] {
		q.mu.Unlock()
		return false
	}
	q.pending[job.Key] = true
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return true
	default:
		q.logger.Warn("snapshot queue full, dropping job", zap.String("key", job.Key))
		q.mu.Lock()
		delete(q.pending, job.Key)
		q.mu.Unlock()
		return false
	}
}

// Pending returns the number of queued or running jobs.
func (q *SnapshotQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stop drains the queue and waits for the workers.
func (q *SnapshotQueue) Stop() {
	q.once.Do(func() {
		q.logger.Info("stopping snapshot queue")
		q.drain()
		close(q.stop)
		q.wg.Wait()
	})
}

func (q *SnapshotQueue) drain() {
	deadline := time.Now().Add(10 * time.Second)
	for q.Pending() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}
