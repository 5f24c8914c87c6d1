package shell

import (
	"io"
	"os"

	"go.bug.st/serial"

	"github.com/ericogr/adc-sampler/pkg/config"
)

const DefaultBaudRate = 115200

type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error { return nil }

// Open returns the console transport: stdin/stdout for "stdio", otherwise
// the named serial device at 8N1.
func Open(cfg config.ShellConfig) (io.ReadWriteCloser, error) {
	if cfg.Device == config.ShellStdio {
		return stdio{Reader: os.Stdin, Writer: os.Stdout}, nil
	}
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}
