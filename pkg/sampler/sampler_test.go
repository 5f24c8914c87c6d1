package sampler

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/adc-sampler/pkg/logging/logtest"
	"github.com/ericogr/adc-sampler/pkg/regs"
	"github.com/ericogr/adc-sampler/pkg/sensor"
	"github.com/ericogr/adc-sampler/pkg/uptime"
)

func newFake(t *testing.T) *sensor.FakeSensor {
	t.Helper()
	return sensor.NewFakeSensorWithOptions(sensor.FakeOptions{
		InitialMV: sensor.SimMidScaleMV,
		Seed:      1,
		Logger:    logtest.Discard(),
	})
}

func newRegs() *regs.RegisterFile {
	r := regs.New(uptime.NewManual(1))
	r.Init()
	return r
}

func TestCycleCommits(t *testing.T) {
	fake := newFake(t)
	require.NoError(t, fake.Init())
	r := newRegs()
	l := New(fake, r, Options{Logger: logtest.Discard()})

	_, err := fake.Inject(2, 5000)
	require.NoError(t, err)
	require.NoError(t, l.Cycle())

	snap := r.Read()
	assert.Equal(t, uint32(1), snap.Sequence)
	assert.Equal(t, regs.Sample{1650, 1650, 3300, 1650}, snap.Channels)
	assert.Equal(t, Stats{Cycles: 1, Committed: 1}, l.Stats())
}

func TestCycleFailureLeavesRegisterFile(t *testing.T) {
	fake := newFake(t)
	require.NoError(t, fake.Init())
	r := newRegs()
	log, rec := logtest.New()
	l := New(fake, r, Options{Logger: log})

	require.NoError(t, l.Cycle())
	before := r.Read()

	boom := errors.New("conversion timeout")
	fake.SetFault(boom)
	err := l.Cycle()
	require.ErrorIs(t, err, boom)

	assert.Equal(t, before, r.Read())
	assert.Equal(t, Stats{Cycles: 2, Committed: 1, Failed: 1}, l.Stats())
	assert.Equal(t, []string{"ADC sample failed"}, rec.Messages(slog.LevelError))

	fake.SetFault(nil)
	require.NoError(t, l.Cycle())
	assert.Equal(t, uint32(2), r.Read().Sequence)
}

func TestStartRunsUntilCancelled(t *testing.T) {
	fake := newFake(t)
	r := regs.New(nil)
	r.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l, err := Start(ctx, fake, r, Options{Period: time.Millisecond, Logger: logtest.Discard()})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return r.Read().Sequence >= 3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, regs.Sample{1650, 1650, 1650, 1650}, r.Read().Channels)

	cancel()
	l.Wait()
	stopped := r.Read().Sequence
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stopped, r.Read().Sequence, "no updates after the loop stopped")
	assert.Equal(t, uint64(stopped), l.Stats().Committed)
}

func TestLoopSurvivesFailures(t *testing.T) {
	fake := newFake(t)
	fake.SetFault(errors.New("flaky"))
	r := newRegs()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l, err := Start(ctx, fake, r, Options{Period: time.Millisecond, Logger: logtest.Discard()})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return l.Stats().Failed >= 3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, uint32(0), r.Read().Sequence)

	fake.SetFault(nil)
	require.Eventually(t, func() bool { return r.Read().Sequence >= 1 }, 2*time.Second, time.Millisecond)

	cancel()
	l.Wait()
}

func TestCancelInterruptsLongPeriod(t *testing.T) {
	fake := newFake(t)
	r := newRegs()

	ctx, cancel := context.WithCancel(context.Background())
	l, err := Start(ctx, fake, r, Options{Period: time.Hour, Logger: logtest.Discard()})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return l.Stats().Cycles == 1 }, time.Second, time.Millisecond)

	cancel()
	done := make(chan struct{})
	go func() {
		l.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancel")
	}
}

func TestStartInitFailureNeverSamples(t *testing.T) {
	fake := sensor.NewFakeSensorWithOptions(sensor.FakeOptions{
		InitError: errors.New("adc0 not ready"),
		Logger:    logtest.Discard(),
	})
	r := newRegs()

	l, err := Start(context.Background(), fake, r, Options{Period: time.Millisecond, Logger: logtest.Discard()})
	require.Error(t, err)
	assert.Nil(t, l)
	assert.ErrorIs(t, err, sensor.ErrDeviceNotReady)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, regs.Snapshot{}, r.Read())
}

func TestWaitAfterRunWithoutStart(t *testing.T) {
	fake := newFake(t)
	require.NoError(t, fake.Init())
	l := New(fake, newRegs(), Options{Period: time.Millisecond, Logger: logtest.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	require.Eventually(t, func() bool { return l.Stats().Cycles >= 1 }, time.Second, time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		l.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Run stopped")
	}
}

func TestDefaultPeriod(t *testing.T) {
	l := New(newFake(t), newRegs(), Options{})
	assert.Equal(t, DefaultPeriod, l.Period())
}
