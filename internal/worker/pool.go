package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrQueueFull 队列已满
var ErrQueueFull = errors.New("worker: job queue is full")

// ErrStopped 池已停止
var ErrStopped = errors.New("worker: pool stopped")

// JobFunc 处理一个路径
type JobFunc func(ctx context.Context, path string)

// Pool 固定数量的协程处理路径队列
type Pool struct {
	workers int
	jobs    chan string
	handler JobFunc
	logger  *logrus.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewPool 创建 Worker 池
func NewPool(workers, queueSize int, handler JobFunc, logger *logrus.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		workers: workers,
		jobs:    make(chan string, queueSize),
		handler: handler,
		logger:  logger,
	}
}

// Start 启动 Worker
func (p *Pool) Start(ctx context.Context) {
	p.logger.WithField("workers", p.workers).Debug("Starting worker pool")
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-p.jobs:
			if !ok {
				return
			}
			p.logger.WithFields(logrus.Fields{
				"worker_id": id,
				"path":      path,
			}).Debug("Processing job")
			p.handler(ctx, path)
		}
	}
}

// Submit 提交任务（异步，不等待结果）
func (p *Pool) Submit(path string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- path:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop 关闭队列并等待正在处理的任务结束
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Debug("Worker pool stopped")
}

// QueueSize 队列中等待的任务数
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}
