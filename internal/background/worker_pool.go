package background

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// PoolConfig holds the pool size, poll pacing and drain behavior.
type PoolConfig struct {
	MaxTasks        int
	PopTimeout      time.Duration
	MinDelay        time.Duration
	MaxEmptyDelay   time.Duration
	MaxErrorDelay   time.Duration
	EmptyMultiplier float64
	ErrorMultiplier float64
	FinishOnEmpty   bool
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MaxTasks:        5,
		PopTimeout:      1 * time.Second,
		MinDelay:        200 * time.Millisecond,
		MaxEmptyDelay:   1600 * time.Millisecond,
		MaxErrorDelay:   240 * time.Second,
		EmptyMultiplier: 2.0,
		ErrorMultiplier: 4.0,
	}
}

// Pool drains the instruction queue into a bounded set of performer
// goroutines. A single dispatcher loop pops the broker and adapts its pace
// to what the broker last returned: shrink the delay on work, grow it
// gently while idle, grow it hard while the broker errors.
//
// In finish-on-empty mode the pool exits on its own once the broker and the
// store are both drained; Done and Err report that exit.
type Pool struct {
	config    *PoolConfig
	queue     InstructionQueue
	store     TaskStore
	performer *Performer
	logger    *logrus.Logger
	metrics   *Metrics

	delay   time.Duration
	running atomic.Bool
	active  atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	work   chan string

	done     chan struct{}
	exitOnce sync.Once
	exitErr  error
	started  bool
}

// NewPool creates a worker pool.
func NewPool(config *PoolConfig, queue InstructionQueue, store TaskStore, performer *Performer, logger *logrus.Logger, metrics *Metrics) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		config:    config,
		queue:     queue,
		store:     store,
		performer: performer,
		logger:    logger,
		metrics:   metrics,
		delay:     config.MinDelay,
		ctx:       ctx,
		cancel:    cancel,
		work:      make(chan string, config.MaxTasks),
		done:      make(chan struct{}),
	}
}

// Start launches the performer slots and the dispatcher.
func (p *Pool) Start() error {
	if p.started {
		return fmt.Errorf("worker pool already started")
	}
	p.started = true
	p.running.Store(true)

	p.logger.WithFields(logrus.Fields{
		"max_tasks":       p.config.MaxTasks,
		"finish_on_empty": p.config.FinishOnEmpty,
	}).Info("Starting worker pool")

	for i := 0; i < p.config.MaxTasks; i++ {
		p.wg.Add(1)
		go p.performLoop()
	}

	p.wg.Add(1)
	go p.dispatchLoop()
	return nil
}

// Stop clears the run flag, cancels in-flight work and waits up to
// gracePeriod for the workers to return.
func (p *Pool) Stop(gracePeriod time.Duration) error {
	p.logger.Info("Stopping worker pool")
	p.running.Store(false)
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped")
	case <-time.After(gracePeriod):
		p.logger.Warn("Worker pool stop timed out")
	}
	return nil
}

// Done is closed when the pool exits on its own, which only happens in
// finish-on-empty mode.
func (p *Pool) Done() <-chan struct{} { return p.done }

// Err reports why the pool exited. Nil means the queue drained cleanly.
// Only valid after Done is closed.
func (p *Pool) Err() error { return p.exitErr }

// ActiveCount returns the number of instructions dispatched and not yet
// finished.
func (p *Pool) ActiveCount() int { return int(p.active.Load()) }

func (p *Pool) performLoop() {
	defer p.wg.Done()

	for instruction := range p.work {
		if p.metrics != nil {
			p.metrics.ActiveWorkers.Inc()
		}
		p.performer.Perform(p.ctx, instruction)
		if p.metrics != nil {
			p.metrics.ActiveWorkers.Dec()
		}
		p.active.Add(-1)
	}
}

func (p *Pool) dispatchLoop() {
	defer p.wg.Done()
	defer close(p.work)

	for p.running.Load() {
		instruction, err := p.queue.PopBlocking(p.ctx, p.config.PopTimeout)
		switch {
		case err != nil:
			if p.ctx.Err() != nil {
				return
			}
			p.logger.WithError(err).Warn("Broker pop failed")
			if p.config.FinishOnEmpty {
				p.exit(fmt.Errorf("broker unavailable while draining: %w", err))
				return
			}
			if !p.sleep() {
				return
			}
			p.grow(p.config.ErrorMultiplier, p.config.MaxErrorDelay)

		case instruction == "":
			if p.config.FinishOnEmpty {
				drained, err := p.drained()
				if err != nil {
					p.exit(err)
					return
				}
				if drained {
					p.exit(nil)
					return
				}
			}
			if !p.sleep() {
				return
			}
			p.grow(p.config.EmptyMultiplier, p.config.MaxEmptyDelay)

		default:
			p.active.Add(1)
			select {
			case p.work <- instruction:
			case <-p.ctx.Done():
				p.active.Add(-1)
				return
			}
			p.shrink()
			if !p.sleep() {
				return
			}
		}
	}
}

// drained reports whether nothing is queued, in flight or pending, the exit
// condition for a finish-on-empty run.
func (p *Pool) drained() (bool, error) {
	if p.active.Load() > 0 {
		return false, nil
	}
	pending, err := p.store.CountPending(p.ctx)
	if err != nil {
		return false, fmt.Errorf("failed to count pending tasks: %w", err)
	}
	return pending == 0, nil
}

func (p *Pool) exit(err error) {
	if err != nil {
		p.logger.WithError(err).Error("Worker pool drain failed")
	} else {
		p.logger.Info("Queue drained, worker pool finishing")
	}
	p.exitOnce.Do(func() {
		p.exitErr = err
		close(p.done)
	})
	p.running.Store(false)
}

// sleep pauses for the current delay. Returns false when the pool is
// shutting down.
func (p *Pool) sleep() bool {
	timer := time.NewTimer(p.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// shrink accelerates polling after a hit.
func (p *Pool) shrink() {
	d := time.Duration(float64(p.delay) / p.config.ErrorMultiplier)
	if d < p.config.MinDelay {
		d = p.config.MinDelay
	}
	p.setDelay(d)
}

// grow backs polling off after the sleep, so the first idle pause is still
// the floor delay.
func (p *Pool) grow(factor float64, ceiling time.Duration) {
	d := time.Duration(float64(p.delay) * factor)
	if d > ceiling {
		d = ceiling
	}
	if d < p.config.MinDelay {
		d = p.config.MinDelay
	}
	p.setDelay(d)
}

func (p *Pool) setDelay(d time.Duration) {
	p.delay = d
	if p.metrics != nil {
		p.metrics.PollDelay.Set(d.Seconds())
	}
}
