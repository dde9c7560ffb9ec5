package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"
)

// Alarm is one active alarm reported by the device.
type Alarm struct {
	Light int       `json:"light"`
	Code  AlarmCode `json:"code"`
}

func (a Alarm) String() string { return fmt.Sprintf("light %d: %s", a.Light, a.Code) }

// AlarmCode is sent as a string by some firmware and a number by others.
type AlarmCode string

func (c *AlarmCode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = AlarmCode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("alarm code %s: %w", b, err)
	}
	*c = AlarmCode(n.String())
	return nil
}

// Ping checks the device answers, stamping the request with the current
// UTC time.
func (il *Illuminator) Ping(ctx context.Context) error {
	ts := il.cfg.Now().UTC().Format("2006-01-02T15:04:05Z")
	_, err := il.call(ctx, "system", "ping", map[string]string{"timestamp": ts})
	return err
}

// Info returns the device's system information.
func (il *Illuminator) Info(ctx context.Context) (map[string]any, error) {
	resp, err := il.call(ctx, "system", "info", nil)
	if err != nil {
		return nil, err
	}
	var info map[string]any
	if err := resp.Decode(&info); err != nil {
		return nil, err
	}
	delete(info, "status")
	return info, nil
}

// AlarmStatus returns the active alarms.
func (il *Illuminator) AlarmStatus(ctx context.Context) ([]Alarm, error) {
	resp, err := il.call(ctx, "alarm", "status", nil)
	if err != nil {
		return nil, err
	}
	var data struct {
		Active []Alarm `json:"active_alarms"`
	}
	if err := resp.Decode(&data); err != nil {
		return nil, err
	}
	return data.Active, nil
}

// ClearAlarms clears the alarms of lights.
func (il *Illuminator) ClearAlarms(ctx context.Context, lights ...int) error {
	if lights == nil {
		lights = []int{}
	}
	_, err := il.call(ctx, "alarm", "clear", map[string][]int{"lights": lights})
	return err
}

// LightGetAll returns every light's intensity in percent.
func (il *Illuminator) LightGetAll(ctx context.Context) ([]float64, error) {
	resp, err := il.call(ctx, "light", "get_all", nil)
	if err != nil {
		return nil, err
	}
	var data struct {
		Intensities []float64 `json:"intensities"`
	}
	if err := resp.Decode(&data); err != nil {
		return nil, err
	}
	return data.Intensities, nil
}

// LightSet sets light id to intensity percent.
func (il *Illuminator) LightSet(ctx context.Context, id int, intensity float64) error {
	_, err := il.call(ctx, "light", "set", map[string]any{"id": id, "intensity": intensity})
	return err
}

// GetSensors returns the sensor readings the device holds for light id.
func (il *Illuminator) GetSensors(ctx context.Context, id int) (map[string]any, error) {
	resp, err := il.call(ctx, "status", "get_sensors", map[string]int{"id": id})
	if err != nil {
		return nil, err
	}
	var sensors map[string]any
	if err := resp.Decode(&sensors); err != nil {
		return nil, err
	}
	delete(sensors, "status")
	return sensors, nil
}

// Report summarises a Diagnose run.
type Report struct {
	Ping         bool
	Info         bool
	Alarms       bool
	LightRead    bool
	LightControl bool

	SystemInfo   map[string]any
	ActiveAlarms []Alarm
	Cleared      bool
	Intensities  []float64

	// Failures lists each failed step with its error.
	Failures []string
}

func (r *Report) fail(step string, err error) {
	r.Failures = append(r.Failures, fmt.Sprintf("%s: %v", step, err))
}

// DiagnoseLights and DiagnoseIntensities are swept by Diagnose.
var (
	DiagnoseLights      = []int{1, 2, 3}
	DiagnoseIntensities = []float64{25, 50, 75}
)

// Diagnose pings the device and, if it answers, reads its information,
// alarms and light state, clears any active alarms and sweeps every light
// through a few intensities. Device failures are recorded in the report;
// transport failures abort the run and are returned.
func (il *Illuminator) Diagnose(ctx context.Context) (Report, error) {
	var r Report

	if err := il.Ping(ctx); err != nil {
		return r, r.step("ping", err)
	}
	r.Ping = true

	info, err := il.Info(ctx)
	if err := r.step("info", err); err != nil {
		return r, err
	}
	r.Info, r.SystemInfo = err == nil, info

	alarms, err := il.AlarmStatus(ctx)
	if err := r.step("alarm status", err); err != nil {
		return r, err
	}
	r.Alarms, r.ActiveAlarms = err == nil && len(alarms) == 0, alarms

	intensities, err := il.LightGetAll(ctx)
	if err := r.step("light read", err); err != nil {
		return r, err
	}
	r.LightRead, r.Intensities = err == nil, intensities

	if len(alarms) > 0 {
		il.log.Warn("active alarms, clearing", zap.Int("count", len(alarms)))
		err := il.ClearAlarms(ctx, DiagnoseLights...)
		if err := r.step("alarm clear", err); err != nil {
			return r, err
		}
		r.Cleared = err == nil

		alarms, err = il.AlarmStatus(ctx)
		if err := r.step("alarm status", err); err != nil {
			return r, err
		}
		r.Alarms, r.ActiveAlarms = err == nil && len(alarms) == 0, alarms
	}

	r.LightControl = true
	for _, id := range DiagnoseLights {
		for _, intensity := range DiagnoseIntensities {
			err := il.LightSet(ctx, id, intensity)
			if err := r.step("light "+strconv.Itoa(id)+" set", err); err != nil {
				return r, err
			}
			if err != nil {
				r.LightControl = false
			}
			if err := il.cfg.Sleep(ctx, il.cfg.Pause); err != nil {
				return r, err
			}
		}
	}
	return r, nil
}

// step records a device failure and passes anything else back as fatal.
func (r *Report) step(name string, err error) error {
	if err == nil {
		return nil
	}
	if IsDeviceError(err) || isInvalid(err) {
		r.fail(name, err)
		return nil
	}
	return err
}

func isInvalid(err error) bool { return errors.Is(err, ErrInvalidResponse) }
