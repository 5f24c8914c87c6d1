package console

import (
	"fmt"
	"io"
	"os"

	"github.com/ericogr/adc-sampler/pkg/output"
	"github.com/ericogr/adc-sampler/pkg/regs"
)

type ConsoleOutput struct {
	w io.Writer
}

// NewConsole writes to whatever os.Stdout is at publish time.
func NewConsole() output.Output { return &ConsoleOutput{} }

func NewConsoleWriter(w io.Writer) output.Output { return &ConsoleOutput{w: w} }

func (c *ConsoleOutput) Publish(snap regs.Snapshot) error {
	w := c.w
	if w == nil {
		w = os.Stdout
	}
	for ch, mv := range snap.Channels {
		if _, err := fmt.Fprintf(w, "seq=%d uptime_ms=%d channel=%d mv=%d\n", snap.Sequence, snap.LastUpdateMs, ch, mv); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }
