package output

import "github.com/ericogr/adc-sampler/pkg/regs"

// Output receives register file snapshots from a Publisher.
type Output interface {
	Publish(regs.Snapshot) error
	Close() error
}
