package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dispatcher 后台副作用队列（自动保存、通知等）：
// 单 worker 顺序执行，每个任务最多尝试一次，失败只记日志，不重试。
// 队列满或已关闭时直接丢弃。
type Dispatcher struct {
	jobs    chan job
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
	done    chan struct{}
}

type job struct {
	name string
	fn   func(ctx context.Context) error
}

func NewDispatcher(size int, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	d := &Dispatcher{
		jobs:    make(chan job, size),
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Submit 不阻塞；返回 false 表示任务被丢弃
func (d *Dispatcher) Submit(name string, fn func(ctx context.Context) error) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("Dispatcher closed, dropping job", zap.String("job", name))
		return false
	}
	d.pending.Add(1)
	select {
	case d.jobs <- job{name: name, fn: fn}:
		return true
	default:
		d.pending.Done()
		d.logger.Warn("Dispatcher queue full, dropping job", zap.String("job", name))
		return false
	}
}

// Wait 等待已提交的任务执行完
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

// Close 停止接收新任务，执行完队列中剩余的任务后返回
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for j := range d.jobs {
		d.execute(j)
	}
}

func (d *Dispatcher) execute(j job) {
	defer d.pending.Done()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Background job panicked", zap.String("job", j.name), zap.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := j.fn(ctx); err != nil {
		d.logger.Warn("Background job failed",
			zap.String("job", j.name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	d.logger.Debug("Background job done", zap.String("job", j.name), zap.Duration("elapsed", time.Since(start)))
}
