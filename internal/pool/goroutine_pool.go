// Package pool 提供有界并发的行级任务池。
// 扇出阶段把每行提交为一个任务；池外没有共享可变状态，
// 行间协调完全走 Redis 计数器。
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var ErrPoolClosed = errors.New("pool is closed")

// Task 是一个行级工作单元。任务自行消化业务失败（落哨兵结果），
// 返回的 error 只用于统计。
type Task func(ctx context.Context) error

// Config 配置任务池。
type Config struct {
	MaxWorkers int `json:"max_workers"`
	QueueSize  int `json:"queue_size"`
}

// DefaultConfig 返回默认配置：并发 16，队列 256。
func DefaultConfig() Config {
	return Config{MaxWorkers: 16, QueueSize: 256}
}

// Pool 是固定大小的 goroutine 池。
// Submit 在队列满时阻塞而不是拒绝 —— 扇出的每一行都必须被执行，
// 丢行会让进度计数器永远到不了 total。
type Pool struct {
	taskQueue chan taskWrapper
	closed    atomic.Bool
	wg        sync.WaitGroup

	active    atomic.Int32
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

type taskWrapper struct {
	ctx  context.Context
	task Task
}

// New 创建任务池并启动全部 worker。
func New(config Config) *Pool {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}

	p := &Pool{taskQueue: make(chan taskWrapper, config.QueueSize)}
	for i := 0; i < config.MaxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit 提交一个任务，队列满时阻塞到有空位或 ctx 取消。
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	select {
	case p.taskQueue <- taskWrapper{ctx: ctx, task: task}:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for wrapper := range p.taskQueue {
		p.active.Add(1)
		err := p.run(wrapper)
		p.active.Add(-1)
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
	}
}

func (p *Pool) run(wrapper taskWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("task panicked")
		}
	}()
	return wrapper.task(wrapper.ctx)
}

// Close 关闭提交通道并等待在途任务结束。
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.taskQueue)
	p.wg.Wait()
}

// Stats 返回池的运行统计。
func (p *Pool) Stats() Stats {
	return Stats{
		Active:    int(p.active.Load()),
		Queued:    len(p.taskQueue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Stats 是池的统计切面。
type Stats struct {
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
