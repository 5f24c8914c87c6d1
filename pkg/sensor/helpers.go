package sensor

import (
	"fmt"
	"log/slog"

	"github.com/ericogr/adc-sampler/pkg/regs"
)

// ToMillivolts converts a raw code from a converter with the given
// resolution (in bits) and reference voltage: raw * ref / (2^resolution - 1).
func ToMillivolts(raw int32, refMV int32, resolution uint) int32 {
	full := int64(1)<<resolution - 1
	return int32(int64(raw) * int64(refMV) / full)
}

// clampMV limits mv to [0, refMV] and reports whether it had to.
func clampMV(mv, refMV int32) (int32, bool) {
	switch {
	case mv < 0:
		return 0, true
	case mv > refMV:
		return refMV, true
	}
	return mv, false
}

func checkChannel(channel int) error {
	if channel < 0 || channel >= regs.NumChannels {
		return &ValidationError{
			Field:  "channel",
			Value:  channel,
			Reason: fmt.Sprintf("must be in 0..%d", regs.NumChannels-1),
		}
	}
	return nil
}

func componentLogger(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", name)
}
