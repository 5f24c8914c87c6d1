// Package shell is a line-oriented command console for inspecting the
// register file and, on the simulated backend, injecting channel values.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/ericogr/adc-sampler/pkg/regs"
	"github.com/ericogr/adc-sampler/pkg/sensor"
)

const Prompt = "uart:~$ "

var (
	ErrUnknownCommand = errors.New("command not found")
	// ErrCommandFailed is returned by commands that already wrote their
	// diagnostic to the output.
	ErrCommandFailed = errors.New("command failed")
)

// Command is a registered shell command. Run receives the arguments after
// the command name.
type Command struct {
	Name  string
	Usage string
	Help  string
	Run   func(w io.Writer, args []string) error
}

type Shell struct {
	regs     *regs.RegisterFile
	injector sensor.Injector
	logger   *slog.Logger
	cmds     map[string]Command
}

// New registers adcregs and help, plus adcset when s can inject values.
func New(r *regs.RegisterFile, s sensor.Sensor, logger *slog.Logger) *Shell {
	if logger == nil {
		logger = slog.Default()
	}
	sh := &Shell{
		regs:   r,
		logger: logger.With("component", "shell"),
		cmds:   map[string]Command{},
	}
	sh.Register(Command{Name: "adcregs", Help: "Print ADC register file contents", Run: sh.cmdRegs})
	if inj, ok := s.(sensor.Injector); ok {
		sh.injector = inj
		sh.Register(Command{
			Name:  "adcset",
			Usage: "adcset <channel> <millivolts>",
			Help:  "Inject ADC value (simulation only)",
			Run:   sh.cmdSet,
		})
	}
	sh.Register(Command{Name: "help", Help: "List available commands", Run: sh.cmdHelp})
	return sh
}

func (sh *Shell) Register(c Command) {
	sh.cmds[c.Name] = c
}

func (sh *Shell) Has(name string) bool {
	_, ok := sh.cmds[name]
	return ok
}

// Exec runs one command line. Blank lines are a no-op.
func (sh *Shell) Exec(w io.Writer, line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	c, ok := sh.cmds[args[0]]
	if !ok {
		return fmt.Errorf("%s: %w", args[0], ErrUnknownCommand)
	}
	return c.Run(w, args[1:])
}

// Serve reads commands from rw until EOF or ctx is cancelled, writing the
// prompt before each one and any command error after it.
func (sh *Shell) Serve(ctx context.Context, rw io.ReadWriter) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scan := bufio.NewScanner(rw)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scan.Err()
	}()

	if _, err := io.WriteString(rw, Prompt); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if err := sh.Exec(rw, strings.TrimSpace(line)); err != nil {
				sh.logger.Debug("command failed", "line", line, "error", err)
				if !errors.Is(err, ErrCommandFailed) {
					fmt.Fprintln(rw, err)
				}
			}
			if _, err := io.WriteString(rw, Prompt); err != nil {
				return err
			}
		}
	}
}

func (sh *Shell) cmdRegs(w io.Writer, _ []string) error {
	snap := sh.regs.Read()
	fmt.Fprintln(w, "ADC Register File:")
	fmt.Fprintf(w, "  seq:       %d\n", snap.Sequence)
	fmt.Fprintf(w, "  timestamp: %d ms\n", snap.LastUpdateMs)
	fmt.Fprintln(w, "  channels:")
	for i, mv := range snap.Channels {
		fmt.Fprintf(w, "    ch[%d]: %d mV\n", i, mv)
	}
	return nil
}

func (sh *Shell) cmdSet(w io.Writer, args []string) error {
	if len(args) != 2 {
		return failf(w, "Usage: adcset <channel> <millivolts>\n  channel: 0-%d\n  millivolts: 0-%d",
			regs.NumChannels-1, sh.injector.RefMillivolts())
	}
	ch, err := strconv.Atoi(args[0])
	if err != nil {
		return failf(w, "Invalid channel %q", args[0])
	}
	if ch < 0 || ch >= regs.NumChannels {
		return failf(w, "Invalid channel %d (max %d)", ch, regs.NumChannels-1)
	}
	mv, err := strconv.ParseInt(args[1], 10, 32)
	if err != nil {
		return failf(w, "Invalid millivolts %q", args[1])
	}
	if _, err := sh.injector.Inject(ch, int32(mv)); err != nil {
		return failf(w, "Injection failed: %v", err)
	}
	fmt.Fprintf(w, "Set ch[%d] = %d mV\n", ch, mv)
	fmt.Fprintln(w, "Next sample will reflect this value.")
	return nil
}

// failf writes a console diagnostic line and reports ErrCommandFailed.
func failf(w io.Writer, format string, args ...any) error {
	fmt.Fprintf(w, format, args...)
	fmt.Fprintln(w)
	return ErrCommandFailed
}

func (sh *Shell) cmdHelp(w io.Writer, _ []string) error {
	names := make([]string, 0, len(sh.cmds))
	for n := range sh.cmds {
		names = append(names, n)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "Available commands:")
	for _, n := range names {
		c := sh.cmds[n]
		fmt.Fprintf(w, "  %-8s: %s\n", n, c.Help)
		if c.Usage != "" {
			fmt.Fprintf(w, "            Usage: %s\n", c.Usage)
		}
	}
	return nil
}
