package paymentgateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrQueueFull = errors.New("status enquiry queue full")

// StatusJob asks a worker to reconcile one transaction with the gateway.
type StatusJob struct {
	CustRefNum string
	EnqueuedAt time.Time
}

type ProcessFunc func(ctx context.Context, job StatusJob)

type Worker struct {
	ID         int
	WorkerPool chan chan StatusJob
	JobChannel chan StatusJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan StatusJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan StatusJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, process ProcessFunc) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing job", "worker_id", w.ID, "cust_ref_num", job.CustRefNum)
				process(ctx, job)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type PoolConfig struct {
	MaxWorkers     int
	JobQueueSize   int
	WorkerPoolSize int
}

// Pool runs status enquiry jobs on a fixed set of workers fed by a bounded
// queue.
type Pool struct {
	jobQueue   chan StatusJob
	workerPool chan chan StatusJob
	maxWorkers int
	process    ProcessFunc
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewPool(config PoolConfig, process ProcessFunc, logger *slog.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	maxWorkers := config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	jobQueueSize := config.JobQueueSize
	if jobQueueSize <= 0 {
		jobQueueSize = 100
	}

	workerPoolSize := config.WorkerPoolSize
	if workerPoolSize <= 0 {
		workerPoolSize = maxWorkers
	}

	pool := &Pool{
		jobQueue:   make(chan StatusJob, jobQueueSize),
		workerPool: make(chan chan StatusJob, workerPoolSize),
		maxWorkers: maxWorkers,
		process:    process,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	pool.start()

	return pool
}

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.maxWorkers; i++ {
			worker := NewWorker(i, p.workerPool, p.logger)
			worker.Start(p.ctx, &p.wg, p.process)
		}

		p.wg.Add(1)
		go p.dispatch()

		p.logger.Info("status enquiry worker pool started",
			"max_workers", p.maxWorkers,
			"queue_size", cap(p.jobQueue))
	})
}

func (p *Pool) dispatch() {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobQueue:
			select {
			case jobChannel := <-p.workerPool:
				select {
				case jobChannel <- job:
				case <-p.ctx.Done():
					p.logger.Info("dispatcher shutting down")
					return
				}
			case <-p.ctx.Done():
				p.logger.Info("dispatcher shutting down")
				return
			}
		case <-p.ctx.Done():
			p.logger.Info("dispatcher shutting down")
			return
		}
	}
}

// Enqueue never blocks; a full queue is reported as ErrQueueFull.
func (p *Pool) Enqueue(job StatusJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	select {
	case <-p.ctx.Done():
		return context.Canceled
	default:
	}

	select {
	case p.jobQueue <- job:
		return nil
	default:
		p.logger.Warn("status enquiry queue full, dropping job",
			"cust_ref_num", job.CustRefNum,
			"queue_capacity", cap(p.jobQueue))
		return ErrQueueFull
	}
}

// QueueLength is the number of jobs waiting for a worker.
func (p *Pool) QueueLength() int {
	return len(p.jobQueue)
}

func (p *Pool) Shutdown() {
	p.logger.Info("shutting down status enquiry worker pool")
	p.cancel()
	p.wg.Wait()
	p.logger.Info("status enquiry worker pool shutdown complete")
}
