package sensor

import "github.com/ericogr/adc-sampler/pkg/regs"

// Sensor is an ADC backend. Init is called once before the first SampleAll.
type Sensor interface {
	Init() error
	// SampleAll reads every channel and returns millivolts. A channel that
	// fails to read is reported as 0 without failing the whole call.
	SampleAll() (regs.Sample, error)
	Close() error
}

// Injector is a Sensor whose channel values can be set from outside. Only
// the simulated backend implements it.
type Injector interface {
	Sensor
	// Inject sets the value the next SampleAll returns for channel. Values
	// outside [0, RefMillivolts] are clamped; the stored value is returned.
	Inject(channel int, mv int32) (int32, error)
	RefMillivolts() int32
}
