// Package regs holds the register file: the latest reading of every ADC
// channel together with a sequence number and the time of the update that
// produced it.
package regs

import (
	"sync"

	"github.com/ericogr/adc-sampler/pkg/uptime"
)

// NumChannels is the number of analog inputs sampled on every cycle.
const NumChannels = 4

// Sample is one millivolt reading per channel, as produced by a backend.
type Sample [NumChannels]int32

// Snapshot is a consistent copy of the register file. All three fields
// come from the same update.
type Snapshot struct {
	Channels     Sample `json:"channels"`
	Sequence     uint32 `json:"seq"`
	LastUpdateMs int64  `json:"last_update_ms"`
}

// RegisterFile is written by a single sampler and read by any number of
// goroutines. The lock is only held while copying the in-memory state.
type RegisterFile struct {
	clock uptime.Clock

	mu   sync.Mutex
	snap Snapshot
}

// New creates a zeroed register file. A nil clock selects uptime.System.
func New(clock uptime.Clock) *RegisterFile {
	if clock == nil {
		clock = uptime.System{}
	}
	return &RegisterFile{clock: clock}
}

// Init resets channels, sequence and timestamp to zero. It must complete
// before the sampler or any reader is started.
func (r *RegisterFile) Init() {
	r.mu.Lock()
	r.snap = Snapshot{}
	r.mu.Unlock()
}

// Update replaces all channels, stamps the update time and advances the
// sequence number, as one indivisible step for readers.
func (r *RegisterFile) Update(values Sample) {
	now := r.clock.Millis()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Channels = values
	if now > r.snap.LastUpdateMs {
		r.snap.LastUpdateMs = now
	}
	r.snap.Sequence++
}

// Read returns a copy of the current state.
func (r *RegisterFile) Read() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}
