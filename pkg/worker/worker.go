package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nimasrn/esim-gateway/pkg/logger"
)

var ErrStopped = errors.New("worker manager stopped")

type WorkerHandler = func(ctx context.Context, workerIndex int, job any)

// WorkerManager
// is a fixed pool of goroutines reading jobs from a buffered channel.
// Jobs published after Exit() are rejected with ErrStopped. Jobs already buffered
// are drained before Start returns.
type WorkerManager struct {
	numberOfWorker int
	jobChannel     chan any
	do             WorkerHandler
	ctx            context.Context
	cancel         context.CancelFunc
	waiter         sync.WaitGroup
	mu             sync.RWMutex
	closed         bool
}

func NewWorkerManager(bufferSize, numberOfWorkers int) *WorkerManager {
	if numberOfWorkers < 1 {
		numberOfWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerManager{
		numberOfWorker: numberOfWorkers,
		jobChannel:     make(chan any, bufferSize),
		ctx:            ctx,
		cancel:         cancel,
	}
}

func (w *WorkerManager) GetUnreadCount() int64 {
	return int64(len(w.jobChannel))
}

func (w *WorkerManager) SetWorker(worker WorkerHandler) {
	w.do = worker
}

// Enqueue
// blocks until the job is buffered, ctx is done or the manager exits.
func (w *WorkerManager) Enqueue(ctx context.Context, val any) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrStopped
	}
	select {
	case w.jobChannel <- val:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ctx.Done():
		return ErrStopped
	}
}

// Start
// runs the workers and blocks until Exit() is called and the buffer is drained.
func (w *WorkerManager) Start() error {
	if w.do == nil {
		return errors.New("worker handler is not set")
	}
	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go func(index int) {
			defer w.waiter.Done()
			for job := range w.jobChannel {
				w.run(index, job)
			}
		}(i)
	}
	w.waiter.Wait()

	return ErrStopped
}

func (w *WorkerManager) run(index int, job any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panic recovered", "worker", index, "panic", fmt.Sprint(r))
		}
	}()
	w.do(w.ctx, index, job)
}

// Exit
// stops accepting jobs. Workers finish what is buffered and return.
func (w *WorkerManager) Exit() {
	// cancel first so a blocked Enqueue releases its read lock
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	logger.Info("worker manager is shutting down", "buffered", len(w.jobChannel))
	w.closed = true
	close(w.jobChannel)
}
