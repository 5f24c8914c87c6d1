package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ericogr/adc-sampler/pkg/config"
	"github.com/ericogr/adc-sampler/pkg/httpapi"
	"github.com/ericogr/adc-sampler/pkg/logging"
	"github.com/ericogr/adc-sampler/pkg/output"
	"github.com/ericogr/adc-sampler/pkg/output/console"
	mqttout "github.com/ericogr/adc-sampler/pkg/output/mqtt"
	"github.com/ericogr/adc-sampler/pkg/regs"
	"github.com/ericogr/adc-sampler/pkg/sampler"
	"github.com/ericogr/adc-sampler/pkg/sensor"
	"github.com/ericogr/adc-sampler/pkg/shell"
)

const readyBanner = "ADC Sampler ready. Type 'help' for available commands.\n"

type outputEntry struct {
	Name       string
	Output     output.Output
	IntervalMs int
}

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := logging.New(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	rf := regs.New(nil)
	rf.Init()

	s := newSensor(cfg, logger)
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("sensor close error", "error", err)
		}
	}()

	if minMs := computeSensorInterval(cfg); minMs > cfg.SamplePeriodMs {
		logger.Warn("sample period shorter than a full conversion cycle", "period_ms", cfg.SamplePeriodMs, "min_ms", minMs)
	}

	loop, err := sampler.Start(ctx, s, rf, sampler.Options{Period: cfg.SamplePeriod(), Logger: logger})
	if err != nil {
		return err
	}
	logger.Info("ADC Sampler application started", "sensor", cfg.SensorType, "channels", regs.NumChannels)

	inj, _ := s.(sensor.Injector)
	entries, err := initOutputs(&cfg, cfg.IntervalMs, inj, logger)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, e := range entries {
		p := output.NewPublisher(e.Name, e.Output, rf, time.Duration(e.IntervalMs)*time.Millisecond, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
	}

	if cfg.HTTP.Listen != "" {
		srv := httpapi.New(rf, s, loop, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(ctx, cfg.HTTP.Listen); err != nil {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	if cfg.Shell.Enabled {
		rw, err := shell.Open(cfg.Shell)
		if err != nil {
			return fmt.Errorf("open shell %s: %w", cfg.Shell.Device, err)
		}
		defer rw.Close()
		sh := shell.New(rf, s, logger)
		_, _ = io.WriteString(rw, readyBanner)
		// not tracked by wg: a stdin read cannot be interrupted
		go func() {
			if err := sh.Serve(ctx, rw); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("shell stopped", "error", err)
			}
		}()
	} else {
		logger.Info(strings.TrimSpace(readyBanner))
	}

	<-ctx.Done()
	logger.Info("shutting down")
	loop.Wait()
	wg.Wait()
	return nil
}

func newSensor(cfg config.Config, logger *slog.Logger) sensor.Sensor {
	if cfg.SensorType == config.SensorReal {
		return sensor.NewADS1115Sensor(cfg, logger)
	}
	return sensor.NewFakeSensor(cfg, logger)
}

// computeSensorInterval returns the shortest cycle in ms the hardware needs
// to convert every channel once. The simulated backend has no minimum.
func computeSensorInterval(cfg config.Config) int {
	if cfg.SensorType != config.SensorReal {
		return 0
	}
	return regs.NumChannels * int(sensor.ConversionDelay(cfg.SampleRate)/time.Millisecond)
}

// initOutputs builds the configured outputs; any without an interval gets
// defaultIntervalMs.
func initOutputs(cfg *config.Config, defaultIntervalMs int, inj sensor.Injector, logger *slog.Logger) ([]outputEntry, error) {
	var entries []outputEntry
	for i := range cfg.Outputs {
		oc := &cfg.Outputs[i]
		if oc.IntervalMs <= 0 {
			oc.IntervalMs = defaultIntervalMs
		}
		var (
			out output.Output
			err error
		)
		switch strings.ToLower(oc.Type) {
		case "console":
			out = console.NewConsole()
		case "mqtt":
			if oc.MQTT == nil {
				return nil, fmt.Errorf("output %d: mqtt config missing", i)
			}
			out, err = mqttout.NewMQTT(*oc.MQTT, inj, logger)
			if err != nil {
				return nil, fmt.Errorf("output %d: %w", i, err)
			}
		default:
			return nil, fmt.Errorf("output %d: unknown type %q", i, oc.Type)
		}
		entries = append(entries, outputEntry{Name: oc.Type, Output: out, IntervalMs: oc.IntervalMs})
	}
	return entries, nil
}
