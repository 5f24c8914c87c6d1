package sensor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ericogr/adc-sampler/pkg/config"
	"github.com/ericogr/adc-sampler/pkg/regs"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	pointerConv   = 0x00
	pointerConfig = 0x01

	// Single-ended inputs only use the positive half of the 16-bit signed
	// range, so the effective resolution is 15 bits at PGA ±4.096 V.
	ads1115RefMV      = 4096
	ads1115Resolution = 15
)

// ADS1115Sensor samples the four single-ended inputs of an ADS1115 over I²C.
type ADS1115Sensor struct {
	busName    string
	addr       uint16
	sampleRate int
	logger     *slog.Logger
	sleep      func(time.Duration)

	bus i2c.Bus
	// closer is only set when Init opened the bus itself.
	closer i2c.BusCloser
	dev    *i2c.Dev
}

func NewADS1115Sensor(cfg config.Config, logger *slog.Logger) *ADS1115Sensor {
	return &ADS1115Sensor{
		busName:    cfg.I2CBus,
		addr:       uint16(cfg.I2CAddress),
		sampleRate: cfg.SampleRate,
		logger:     componentLogger(logger, "ads1115"),
		sleep:      time.Sleep,
	}
}

// NewADS1115WithBus uses an already opened bus. Close leaves the bus open.
func NewADS1115WithBus(bus i2c.Bus, addr uint16, sampleRate int, logger *slog.Logger) *ADS1115Sensor {
	return &ADS1115Sensor{
		addr:       addr,
		sampleRate: sampleRate,
		logger:     componentLogger(logger, "ads1115"),
		sleep:      time.Sleep,
		bus:        bus,
	}
}

// Init opens the bus when needed and probes the config register.
func (s *ADS1115Sensor) Init() error {
	if s.bus == nil {
		if _, err := host.Init(); err != nil {
			return newDeviceError("ads1115", fmt.Errorf("host init: %w", err))
		}
		bus, err := i2creg.Open(s.busName)
		if err != nil {
			return newDeviceError("ads1115", fmt.Errorf("open i2c %q: %w", s.busName, err))
		}
		s.bus = bus
		s.closer = bus
	}
	dev := &i2c.Dev{Addr: s.addr, Bus: s.bus}
	probe := make([]byte, 2)
	if err := dev.Tx([]byte{pointerConfig}, probe); err != nil {
		return newDeviceError("ads1115", fmt.Errorf("probe 0x%02x: %w", s.addr, err))
	}
	s.dev = dev
	s.logger.Info("ADC backend initialized", "channels", regs.NumChannels, "addr", fmt.Sprintf("0x%02x", s.addr), "sample_rate", s.sampleRate)
	return nil
}

func (s *ADS1115Sensor) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *ADS1115Sensor) SampleAll() (regs.Sample, error) {
	var out regs.Sample
	if s.dev == nil {
		return out, &SampleError{Err: ErrNotInitialized}
	}
	for ch := 0; ch < regs.NumChannels; ch++ {
		raw, err := s.readChannel(ch)
		if err != nil {
			s.logger.Error("ADC read failed", "channel", ch, "error", err)
			out[ch] = 0
			continue
		}
		if raw < 0 {
			raw = 0
		}
		out[ch] = ToMillivolts(int32(raw), ads1115RefMV, ads1115Resolution)
	}
	return out, nil
}

func (s *ADS1115Sensor) readChannel(ch int) (int16, error) {
	msb, lsb, err := s.configForChannel(ch, s.sampleRate)
	if err != nil {
		return 0, err
	}
	// write config
	if err := s.dev.Tx([]byte{pointerConfig, msb, lsb}, nil); err != nil {
		return 0, fmt.Errorf("write config: %w", err)
	}
	s.sleep(ConversionDelay(s.sampleRate))
	readBuf := make([]byte, 2)
	if err := s.dev.Tx([]byte{pointerConv}, readBuf); err != nil {
		return 0, fmt.Errorf("read conv: %w", err)
	}
	return int16(readBuf[0])<<8 | int16(readBuf[1]), nil
}

// ConversionDelay is how long a single-shot conversion takes at the given
// data rate, plus a small margin.
func ConversionDelay(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		sampleRate = 128
	}
	return time.Duration(1000/sampleRate+2) * time.Millisecond
}

func (s *ADS1115Sensor) configForChannel(channel, sampleRate int) (byte, byte, error) {
	var mux byte
	switch channel {
	case 0:
		mux = 0x4
	case 1:
		mux = 0x5
	case 2:
		mux = 0x6
	case 3:
		mux = 0x7
	default:
		return 0, 0, fmt.Errorf("invalid channel %d", channel)
	}
	// PGA: use ±4.096V -> bits 001
	pga := byte(0x1)
	// data rate bits
	var dr byte
	switch sampleRate {
	case 8:
		dr = 0x0
	case 16:
		dr = 0x1
	case 32:
		dr = 0x2
	case 64:
		dr = 0x3
	case 128:
		dr = 0x4
	case 250:
		dr = 0x5
	case 475:
		dr = 0x6
	case 860:
		dr = 0x7
	default:
		dr = 0x4
	}
	var cfg uint16 = 0x8000 // OS = 1 (start single conversion)
	cfg |= uint16(mux) << 12
	cfg |= uint16(pga) << 9
	cfg |= 1 << 8 // single-shot mode
	cfg |= uint16(dr) << 5
	// comparator disabled (bits 1:0 = 11)
	cfg |= 0x3
	return byte(cfg >> 8), byte(cfg & 0xFF), nil
}
