package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.tigermatt.uk/hil/session"
	"go.tigermatt.uk/hil/session/sessiontest"
)

func TestIlluminatorHelpers(t *testing.T) {
	d := newDevice(t)
	d.on("system", "ping", ok)
	d.on("system", "info", `{"type":"resp","id":"$id","data":{"status":"ok","fw":"2.1.0","uptime":42}}`)
	d.on("alarm", "status", `{"type":"resp","id":"$id","data":{"status":"ok","active_alarms":[{"light":2,"code":"OVERTEMP"},{"light":3,"code":17}]}}`)
	d.on("alarm", "clear", ok)
	d.on("light", "get_all", `{"type":"resp","id":"$id","data":{"status":"ok","intensities":[0,50,100]}}`)
	d.on("light", "set", ok)
	d.on("status", "get_sensors", `{"type":"resp","id":"$id","data":{"status":"ok","temperature":31.5,"current":120}}`)

	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	il := d.illuminator(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, il.Ping(ctx))
	assert.Equal(t, map[string]any{"timestamp": "2026-03-01T11:30:00Z"}, d.reqs[0].Data)

	info, err := il.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"fw": "2.1.0", "uptime": 42.0}, info)

	alarms, err := il.AlarmStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Alarm{{Light: 2, Code: "OVERTEMP"}, {Light: 3, Code: "17"}}, alarms)

	require.NoError(t, il.ClearAlarms(ctx, 1, 2, 3))
	assert.Equal(t, map[string]any{"lights": []any{1.0, 2.0, 3.0}}, d.reqs[3].Data)

	intensities, err := il.LightGetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 50, 100}, intensities)

	require.NoError(t, il.LightSet(ctx, 1, 50))
	assert.Equal(t, map[string]any{"id": 1.0, "intensity": 50.0}, d.reqs[5].Data)

	sensors, err := il.GetSensors(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"temperature": 31.5, "current": 120.0}, sensors)
}

func TestIlluminatorDeviceError(t *testing.T) {
	d := newDevice(t)
	d.on("light", "set", `{"type":"resp","id":"$id","data":{"status":"error","message":"alarm active"}}`)
	il := d.illuminator()

	err := il.LightSet(context.Background(), 2, 75)
	assert.True(t, IsDeviceError(err))

	var devErr *DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, "alarm active", devErr.Message)
	assert.Equal(t, "light", devErr.Topic)
}

func TestDiagnoseHealthy(t *testing.T) {
	d := newDevice(t)
	d.on("system", "ping", ok)
	d.on("system", "info", ok)
	d.on("alarm", "status", `{"type":"resp","id":"$id","data":{"status":"ok","active_alarms":[]}}`)
	d.on("light", "get_all", `{"type":"resp","id":"$id","data":{"status":"ok","intensities":[0,0,0]}}`)
	d.on("light", "set", ok)

	report, err := d.illuminator().Diagnose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{
		Ping: true, Info: true, Alarms: true, LightRead: true, LightControl: true,
		SystemInfo:   map[string]any{},
		Intensities:  []float64{0, 0, 0},
		ActiveAlarms: []Alarm{},
	}, report)
	assert.Len(t, d.reqs, 4+len(DiagnoseLights)*len(DiagnoseIntensities))
}

func TestDiagnoseClearsAlarms(t *testing.T) {
	d := newDevice(t)
	d.on("system", "ping", ok)
	d.on("system", "info", ok)
	d.on("alarm", "status",
		`{"type":"resp","id":"$id","data":{"status":"ok","active_alarms":[{"light":1,"code":"OPEN"}]}}`,
		`{"type":"resp","id":"$id","data":{"status":"ok"}}`)
	d.on("alarm", "clear", ok)
	d.on("light", "get_all", ok)
	d.on("light", "set",
		`{"type":"resp","id":"$id","data":{"status":"error","message":"driver fault"}}`,
		ok)

	report, err := d.illuminator().Diagnose(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Cleared)
	assert.True(t, report.Alarms)
	assert.Empty(t, report.ActiveAlarms)
	assert.False(t, report.LightControl)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0], "driver fault")
}

func TestDiagnoseContinuesPastGarbledReply(t *testing.T) {
	d := newDevice(t)
	d.on("system", "ping", ok)
	d.on("system", "info", "\xff\xfe")
	d.on("alarm", "status", ok)
	d.on("light", "get_all", ok)
	d.on("light", "set", ok)

	report, err := d.illuminator().Diagnose(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Info)
	assert.True(t, report.LightControl)
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0], "info")
}

func TestDiagnosePingFails(t *testing.T) {
	d := newDevice(t)
	d.on("system", "ping", `{"type":"resp","id":"$id","data":{"status":"error"}}`)

	report, err := d.illuminator().Diagnose(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Ping)
	assert.Len(t, report.Failures, 1)
	assert.Len(t, d.reqs, 1, "nothing after a failed ping")
}

func TestDiagnoseTransportFailure(t *testing.T) {
	d := newDevice(t)
	d.on("system", "ping", ok)

	_, err := d.illuminator().Diagnose(context.Background())
	assert.ErrorIs(t, err, session.ErrTimeout)
}

func TestBench(t *testing.T) {
	hilPort, illPort := sessiontest.New(), sessiontest.New()
	bench := NewBench(
		session.New("hil", session.Binary, session.WithOpener(hilPort.Opener())),
		session.New("illuminator", session.Line, session.WithOpener(illPort.Opener())),
		nil, nil,
	)

	require.NoError(t, bench.Open(Endpoint{Device: "/dev/hil", Baud: 115200}, Endpoint{}))
	assert.True(t, bench.HILSession.IsOpen())
	assert.False(t, bench.IlluminatorSession.IsOpen())

	require.NoError(t, bench.Open(Endpoint{}, Endpoint{Device: "/dev/ill"}))
	require.NoError(t, bench.Close())
	assert.True(t, hilPort.Closed())
	assert.True(t, illPort.Closed())
	assert.NoError(t, bench.Close())
}

type failingPort struct {
	*sessiontest.Port
	err error
}

func (p failingPort) Close() error {
	p.Port.Close()
	return p.err
}

func TestBenchCloseReportsBoth(t *testing.T) {
	hilErr, illErr := errors.New("hil stuck"), errors.New("illuminator stuck")
	opener := func(err error) session.Opener {
		return func(string, int) (session.Port, error) {
			return failingPort{Port: sessiontest.New(), err: err}, nil
		}
	}
	bench := NewBench(
		session.New("hil", session.Binary, session.WithOpener(opener(hilErr))),
		session.New("illuminator", session.Line, session.WithOpener(opener(illErr))),
		nil, nil,
	)
	require.NoError(t, bench.Open(Endpoint{Device: "a"}, Endpoint{Device: "b"}))

	err := bench.Close()
	assert.ErrorIs(t, err, hilErr)
	assert.ErrorIs(t, err, illErr)
}

func TestBenchOpenFailureClosesHIL(t *testing.T) {
	hilPort := sessiontest.New()
	bench := NewBench(
		session.New("hil", session.Binary, session.WithOpener(hilPort.Opener())),
		session.New("illuminator", session.Line,
			session.WithOpener(func(string, int) (session.Port, error) { return nil, errors.New("busy") }),
			session.WithLister(func() ([]session.PortInfo, error) { return nil, nil })),
		nil, nil,
	)

	err := bench.Open(Endpoint{Device: "/dev/hil"}, Endpoint{Device: "/dev/ill"})
	assert.ErrorIs(t, err, session.ErrPortUnavailable)
	assert.True(t, hilPort.Closed())
}
