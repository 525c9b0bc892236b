package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Pool runs analysis jobs across a fixed number of goroutines, fed either
// directly via Submit/SubmitAndWait or by the queue Consumer handing it
// deliveries.
type Pool struct {
	workers      int
	taskChan     chan *Task
	orchestrator *Orchestrator
	logger       *logrus.Logger
	wg           sync.WaitGroup
}

// Task names one archive set to analyze under a caller-supplied run
// identity.
type Task struct {
	RunID        string
	Title        string
	ArchivePaths []string
	resultCh     chan error
}

func NewPool(workers int, orchestrator *Orchestrator, logger *logrus.Logger) *Pool {
	return &Pool{
		workers:      workers,
		taskChan:     make(chan *Task, 100),
		orchestrator: orchestrator,
		logger:       logger,
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.logger.WithField("workers", p.workers).Info("starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.WithField("worker_id", id).Info("worker started")

	for {
		select {
		case <-ctx.Done():
			p.logger.WithField("worker_id", id).Info("worker shutting down")
			return

		case task, ok := <-p.taskChan:
			if !ok {
				p.logger.WithField("worker_id", id).Info("task channel closed, worker exiting")
				return
			}

			p.logger.WithFields(logrus.Fields{
				"worker_id": id, "run_id": task.RunID, "title": task.Title,
			}).Info("processing analysis task")

			err := p.orchestrator.ExecuteTask(ctx, task.RunID, task.Title, task.ArchivePaths)
			if err != nil {
				p.logger.WithError(err).WithFields(logrus.Fields{
					"worker_id": id, "run_id": task.RunID,
				}).Error("analysis task failed")
			} else {
				p.logger.WithFields(logrus.Fields{
					"worker_id": id, "run_id": task.RunID,
				}).Info("analysis task completed")
			}

			if task.resultCh != nil {
				task.resultCh <- err
				close(task.resultCh)
			}
		}
	}
}

// Submit enqueues a task without waiting for it to run.
func (p *Pool) Submit(task *Task) error {
	select {
	case p.taskChan <- task:
		p.logger.WithField("run_id", task.RunID).Debug("task submitted to pool")
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// SubmitAndWait enqueues a task and blocks until it completes or ctx is
// cancelled.
func (p *Pool) SubmitAndWait(ctx context.Context, task *Task) error {
	task.resultCh = make(chan error, 1)

	select {
	case p.taskChan <- task:
		p.logger.WithField("run_id", task.RunID).Debug("task submitted to pool (sync)")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-task.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) Stop() {
	p.logger.Info("stopping worker pool")
	close(p.taskChan)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) GetQueueSize() int {
	return len(p.taskChan)
}
