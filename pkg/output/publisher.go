package output

import (
	"context"
	"log/slog"
	"time"

	"github.com/ericogr/adc-sampler/pkg/regs"
)

// Publisher is a register file reader that forwards each new snapshot to an
// Output at its own pace. It never blocks the sampler: a slow output only
// skips intermediate updates.
type Publisher struct {
	out      Output
	regs     *regs.RegisterFile
	interval time.Duration
	logger   *slog.Logger

	published bool
	lastSeq   uint32
}

func NewPublisher(name string, out Output, r *regs.RegisterFile, interval time.Duration, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		out:      out,
		regs:     r,
		interval: interval,
		logger:   logger.With("component", "output", "output", name),
	}
}

// Poll publishes the current snapshot if its sequence differs from the last
// one published. Nothing is published before the first committed sample.
func (p *Publisher) Poll() (bool, error) {
	snap := p.regs.Read()
	if p.published && snap.Sequence == p.lastSeq {
		return false, nil
	}
	if !p.published && snap.Sequence == 0 {
		return false, nil
	}
	if err := p.out.Publish(snap); err != nil {
		return false, err
	}
	p.published = true
	p.lastSeq = snap.Sequence
	return true, nil
}

// Run polls every interval until ctx is cancelled, then closes the output.
func (p *Publisher) Run(ctx context.Context) {
	p.logger.Info("output started", "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer func() {
		if err := p.out.Close(); err != nil {
			p.logger.Warn("output close error", "error", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Poll(); err != nil {
				p.logger.Error("output publish error", "error", err)
			}
		}
	}
}
