package sensor

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/ericogr/adc-sampler/pkg/config"
	"github.com/ericogr/adc-sampler/pkg/regs"
)

const (
	SimRefMV      = 3300
	SimResolution = 12
	// SimMidScaleMV is the value every channel holds after Init.
	SimMidScaleMV = 1650
)

// FakeOptions configures a FakeSensor.
type FakeOptions struct {
	InitialMV int32
	// JitterMV adds uniform noise in [-JitterMV, JitterMV] to channels that
	// were never injected.
	JitterMV int32
	// InitError makes Init fail, as if the converter were absent.
	InitError error
	Seed      int64
	Logger    *slog.Logger
}

// FakeSensor is the simulated ADC. Values are set with Inject and read back
// verbatim by SampleAll; faults can be forced for testing.
type FakeSensor struct {
	initialMV int32
	jitterMV  int32
	initErr   error
	logger    *slog.Logger

	mu       sync.Mutex
	rnd      *rand.Rand
	ready    bool
	values   regs.Sample
	injected [regs.NumChannels]bool
	failing  [regs.NumChannels]bool
	fault    error
}

func NewFakeSensor(cfg config.Config, logger *slog.Logger) *FakeSensor {
	return NewFakeSensorWithOptions(FakeOptions{
		InitialMV: cfg.Sim.InitialMV,
		JitterMV:  cfg.Sim.JitterMV,
		Logger:    logger,
	})
}

func NewFakeSensorWithOptions(opts FakeOptions) *FakeSensor {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	initial, _ := clampMV(opts.InitialMV, SimRefMV)
	jitter, _ := clampMV(opts.JitterMV, SimRefMV)
	return &FakeSensor{
		initialMV: initial,
		jitterMV:  jitter,
		initErr:   opts.InitError,
		logger:    componentLogger(opts.Logger, "sim-adc"),
		rnd:       rand.New(rand.NewSource(seed)),
	}
}

// Init sets every channel to the initial value and clears injections.
func (f *FakeSensor) Init() error {
	if f.initErr != nil {
		f.logger.Error("ADC device not ready", "error", f.initErr)
		return newDeviceError("sim-adc", f.initErr)
	}
	f.mu.Lock()
	for i := range f.values {
		f.values[i] = f.initialMV
		f.injected[i] = false
	}
	f.ready = true
	f.mu.Unlock()
	f.logger.Info("ADC backend (SIM) initialized", "channels", regs.NumChannels)
	return nil
}

func (f *FakeSensor) SampleAll() (regs.Sample, error) {
	var out regs.Sample
	var failed []int

	f.mu.Lock()
	switch {
	case !f.ready:
		f.mu.Unlock()
		return out, &SampleError{Err: ErrNotInitialized}
	case f.fault != nil:
		err := f.fault
		f.mu.Unlock()
		return out, &SampleError{Err: err}
	}
	for ch := range out {
		if f.failing[ch] {
			failed = append(failed, ch)
			continue
		}
		v := f.values[ch]
		if !f.injected[ch] && f.jitterMV > 0 {
			v += f.rnd.Int31n(2*f.jitterMV+1) - f.jitterMV
			v, _ = clampMV(v, SimRefMV)
		}
		out[ch] = v
	}
	f.mu.Unlock()

	for _, ch := range failed {
		f.logger.Error("ADC read failed", "channel", ch)
	}
	return out, nil
}

func (f *FakeSensor) Inject(channel int, mv int32) (int32, error) {
	if err := checkChannel(channel); err != nil {
		return 0, err
	}
	v, clamped := clampMV(mv, SimRefMV)
	if clamped {
		f.logger.Warn("clamping injection value", "requested_mv", mv, "min_mv", 0, "max_mv", SimRefMV, "applied_mv", v)
	}
	f.mu.Lock()
	f.values[channel] = v
	f.injected[channel] = true
	f.mu.Unlock()
	f.logger.Info("injected value", "channel", channel, "mv", v)
	return v, nil
}

func (f *FakeSensor) RefMillivolts() int32 { return SimRefMV }

// SetFault makes every SampleAll fail with err until called with nil.
func (f *FakeSensor) SetFault(err error) {
	f.mu.Lock()
	f.fault = err
	f.mu.Unlock()
}

// SetChannelFault makes one channel fail to read; it then reports 0 while
// the sample as a whole still succeeds.
func (f *FakeSensor) SetChannelFault(channel int, failing bool) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	f.mu.Lock()
	f.failing[channel] = failing
	f.mu.Unlock()
	return nil
}

func (f *FakeSensor) Close() error { return nil }
