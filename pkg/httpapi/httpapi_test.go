package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/adc-sampler/pkg/logging/logtest"
	"github.com/ericogr/adc-sampler/pkg/regs"
	"github.com/ericogr/adc-sampler/pkg/sampler"
	"github.com/ericogr/adc-sampler/pkg/sensor"
	"github.com/ericogr/adc-sampler/pkg/uptime"
)

type fixedStats sampler.Stats

func (f fixedStats) Stats() sampler.Stats { return sampler.Stats(f) }

func newSim(t *testing.T) *sensor.FakeSensor {
	t.Helper()
	f := sensor.NewFakeSensorWithOptions(sensor.FakeOptions{InitialMV: sensor.SimMidScaleMV, Logger: logtest.Discard()})
	require.NoError(t, f.Init())
	return f
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetRegs(t *testing.T) {
	r := regs.New(uptime.NewManual(250))
	r.Init()
	r.Update(regs.Sample{1, 2, 3, 4})
	srv := New(r, newSim(t), nil, logtest.Discard())

	rec := do(t, srv.Handler(), http.MethodGet, "/regs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap regs.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, regs.Snapshot{Channels: regs.Sample{1, 2, 3, 4}, Sequence: 1, LastUpdateMs: 250}, snap)
}

func TestHealth(t *testing.T) {
	r := regs.New(nil)
	r.Init()
	srv := New(r, newSim(t), fixedStats{Cycles: 3, Committed: 2, Failed: 1}, logtest.Discard())

	rec := do(t, srv.Handler(), http.MethodGet, "/health/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, sampler.Stats{Cycles: 3, Committed: 2, Failed: 1}, *resp.Stats)
}

func TestSetChannel(t *testing.T) {
	r := regs.New(nil)
	r.Init()
	sim := newSim(t)
	srv := New(r, sim, nil, logtest.Discard())

	rec := do(t, srv.Handler(), http.MethodPut, "/channels/1", `{"millivolts": 4000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp setChannelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, setChannelResponse{Channel: 1, Requested: 4000, Applied: sensor.SimRefMV}, resp)

	got, err := sim.SampleAll()
	require.NoError(t, err)
	assert.Equal(t, int32(sensor.SimRefMV), got[1])
}

func TestSetChannelRejects(t *testing.T) {
	tests := []struct {
		path string
		body string
		code string
	}{
		{"/channels/x", `{"millivolts": 1}`, "INVALID_CHANNEL"},
		{"/channels/9", `{"millivolts": 1}`, "INVALID_CHANNEL"},
		{"/channels/0", `not json`, "INVALID_BODY"},
		{"/channels/0", `{}`, "INVALID_BODY"},
	}
	for _, tt := range tests {
		r := regs.New(nil)
		r.Init()
		sim := newSim(t)
		srv := New(r, sim, nil, logtest.Discard())

		rec := do(t, srv.Handler(), http.MethodPut, tt.path, tt.body)
		require.Equal(t, http.StatusBadRequest, rec.Code, tt.path+" "+tt.body)

		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, tt.code, resp.Error.Code)
		assert.NotEmpty(t, resp.Error.RequestID)

		got, err := sim.SampleAll()
		require.NoError(t, err)
		assert.Equal(t, regs.Sample{1650, 1650, 1650, 1650}, got)
	}
}

func TestSetChannelNotRoutedForHardware(t *testing.T) {
	r := regs.New(nil)
	r.Init()
	hw := sensor.NewADS1115WithBus(nil, 0x48, 128, logtest.Discard())
	srv := New(r, hw, nil, logtest.Discard())

	rec := do(t, srv.Handler(), http.MethodPut, "/channels/0", `{"millivolts": 1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
