package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/timetravel/backend/internal/model/chat"
)

const defaultQueueSize = 256

type writeJob struct {
	session chat.Session
	seq     uint64
}

// AsyncStore makes saves fire-and-forget. A single worker applies queued
// snapshots in order; until a snapshot is written, reads for that user are
// served from it so the next event sees the latest state. A snapshot that a
// newer one for the same user has replaced is skipped.
type AsyncStore struct {
	svc   *Service
	queue chan writeJob

	mu      sync.Mutex
	pending map[int64]writeJob
	seq     uint64
	stopped bool
	senders sync.WaitGroup

	// writeMu orders backend writes between the worker and synchronous saves.
	writeMu sync.Mutex

	done chan struct{}
}

// NewAsyncStore wraps svc. queueSize <= 0 selects a default buffer.
func NewAsyncStore(svc *Service, queueSize int) *AsyncStore {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &AsyncStore{
		svc:     svc,
		queue:   make(chan writeJob, queueSize),
		pending: make(map[int64]writeJob),
		done:    make(chan struct{}),
	}
}

// GetOrCreate returns the newest queued snapshot for the user, or reads through.
func (a *AsyncStore) GetOrCreate(ctx context.Context, userID int64) (chat.Session, error) {
	a.mu.Lock()
	job, ok := a.pending[userID]
	a.mu.Unlock()
	if ok {
		return job.session.Clone(), nil
	}
	return a.svc.GetOrCreate(ctx, userID)
}

// Save queues a snapshot and returns without waiting for the write. It blocks
// only while the queue is full and does not observe ctx cancellation.
// After Run has stopped, saves are written synchronously.
func (a *AsyncStore) Save(ctx context.Context, s chat.Session) error {
	a.mu.Lock()
	a.seq++
	job := writeJob{session: s.Clone(), seq: a.seq}
	a.pending[s.UserID] = job
	if a.stopped {
		a.mu.Unlock()
		return a.write(context.WithoutCancel(ctx), job)
	}
	a.senders.Add(1)
	a.mu.Unlock()

	a.queue <- job
	a.senders.Done()
	return nil
}

// Pending returns the number of users with unwritten snapshots.
func (a *AsyncStore) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Done is closed once Run has drained the queue and returned.
func (a *AsyncStore) Done() <-chan struct{} {
	return a.done
}

// Run applies queued writes until ctx is cancelled, then drains what is left.
func (a *AsyncStore) Run(ctx context.Context) error {
	writeCtx := context.WithoutCancel(ctx)
	defer close(a.done)

	for {
		select {
		case job := <-a.queue:
			a.apply(writeCtx, job)
		case <-ctx.Done():
			a.drain(writeCtx)
			return nil
		}
	}
}

func (a *AsyncStore) drain(ctx context.Context) {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()

	sendersDone := make(chan struct{})
	go func() {
		a.senders.Wait()
		close(sendersDone)
	}()

	for {
		select {
		case job := <-a.queue:
			a.apply(ctx, job)
		case <-sendersDone:
			for {
				select {
				case job := <-a.queue:
					a.apply(ctx, job)
				default:
					log.Debug().Str("component", "session").Msg("session writer drained")
					return
				}
			}
		}
	}
}

func (a *AsyncStore) apply(ctx context.Context, job writeJob) {
	if err := a.write(ctx, job); err != nil {
		log.Error().Err(err).Str("component", "session").Int64("user_id", job.session.UserID).
			Msg("session write failed")
	}
}

// write saves job if it is still the user's newest snapshot.
func (a *AsyncStore) write(ctx context.Context, job writeJob) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if !a.current(job) {
		return nil
	}
	err := a.svc.Save(ctx, job.session)
	a.forget(job)
	return err
}

func (a *AsyncStore) current(job writeJob) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	latest, ok := a.pending[job.session.UserID]
	return ok && latest.seq == job.seq
}

func (a *AsyncStore) forget(job writeJob) {
	a.mu.Lock()
	if latest, ok := a.pending[job.session.UserID]; ok && latest.seq == job.seq {
		delete(a.pending, job.session.UserID)
	}
	a.mu.Unlock()
}
