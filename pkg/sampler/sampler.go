// Package sampler runs the periodic acquisition loop: sample every channel,
// commit the result to the register file, wait, repeat.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericogr/adc-sampler/pkg/regs"
	"github.com/ericogr/adc-sampler/pkg/sensor"
)

const DefaultPeriod = 100 * time.Millisecond

type Options struct {
	Period time.Duration
	Logger *slog.Logger
}

// Stats counts loop cycles. Committed + Failed == Cycles.
type Stats struct {
	Cycles    uint64 `json:"cycles"`
	Committed uint64 `json:"committed"`
	Failed    uint64 `json:"failed"`
}

// Loop is the only writer of its register file.
type Loop struct {
	sensor sensor.Sensor
	regs   *regs.RegisterFile
	period time.Duration
	logger *slog.Logger

	cycles    atomic.Uint64
	committed atomic.Uint64
	failed    atomic.Uint64

	done     chan struct{}
	doneOnce sync.Once
}

// New builds a loop. The sensor must already be initialized; Start does
// that for you.
func New(s sensor.Sensor, r *regs.RegisterFile, opts Options) *Loop {
	period := opts.Period
	if period <= 0 {
		period = DefaultPeriod
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		sensor: s,
		regs:   r,
		period: period,
		logger: logger.With("component", "sampler"),
		done:   make(chan struct{}),
	}
}

// Start initializes the sensor and, only if that succeeds, runs the loop in
// a new goroutine until ctx is cancelled.
func Start(ctx context.Context, s sensor.Sensor, r *regs.RegisterFile, opts Options) (*Loop, error) {
	if err := s.Init(); err != nil {
		return nil, fmt.Errorf("sensor init: %w", err)
	}
	l := New(s, r, opts)
	go l.Run(ctx)
	return l, nil
}

// Run samples until ctx is cancelled. Sample failures are logged and never
// stop the loop.
func (l *Loop) Run(ctx context.Context) {
	defer l.doneOnce.Do(func() { close(l.done) })
	l.logger.Info("Sampling loop started", "period", l.period)

	timer := time.NewTimer(l.period)
	timer.Stop()
	defer timer.Stop()

	for ctx.Err() == nil {
		_ = l.Cycle()

		timer.Reset(l.period)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
	l.logger.Info("Sampling loop stopped", "cycles", l.cycles.Load())
}

// Cycle performs one sample-and-commit step. On error the register file is
// left untouched.
func (l *Loop) Cycle() error {
	l.cycles.Add(1)
	sample, err := l.sensor.SampleAll()
	if err != nil {
		l.failed.Add(1)
		l.logger.Error("ADC sample failed", "error", err)
		return err
	}
	l.regs.Update(sample)
	l.committed.Add(1)
	return nil
}

// Wait blocks until Run has returned.
func (l *Loop) Wait() {
	<-l.done
}

func (l *Loop) Stats() Stats {
	return Stats{
		Cycles:    l.cycles.Load(),
		Committed: l.committed.Load(),
		Failed:    l.failed.Load(),
	}
}

func (l *Loop) Period() time.Duration { return l.period }
