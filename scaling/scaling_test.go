package scaling

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToRaw(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		in       float64
		want     int
	}{
		{"pwm direct", PWMDirect, 42, 42},
		{"pwm fullscale half", PWMFullScale, 50, 16384},
		{"pwm fullscale max", PWMFullScale, 100, 32767},
		{"current fixed 1023 clamps", CurrentFixed1023, 1650, 1023},
		{"current fixed 1023 in range", CurrentFixed1023, 165, 512},
		{"current fixed 1023 negative clamps", CurrentFixed1023, -5, 0},
		{"current fullscale max", CurrentFullScale, 33000, 32767},
		{"current direct", CurrentDirect, 1650, 1650},
		{"temperature tenths", TemperatureTenths, 25.5, 255},
		{"temperature tenths already raw", TemperatureTenths, 400, 400},
		{"temperature fullscale", TemperatureFullScale, 330, 32767},
		{"nan is out of range", PWMDirect, math.NaN(), -1},
		{"current fixed 1023 huge clamps", CurrentFixed1023, 1e20, 1023},
		{"current fixed 1023 huge negative clamps", CurrentFixed1023, -1e20, 0},
		{"pwm direct huge saturates", PWMDirect, 1e20, math.MaxInt32},
		{"temperature fullscale huge negative saturates", TemperatureFullScale, -1e300, math.MinInt32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.strategy.ToRaw(tt.in))
		})
	}
}

func TestFromRaw(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		raw      uint16
		want     float64
	}{
		{"pwm direct", PWMDirect, 15, 15},
		{"pwm fullscale rounds to one decimal", PWMFullScale, 16384, 50.0},
		{"pwm auto passes small values", PWMAuto, 100, 100},
		{"pwm auto rescales large values", PWMAuto, 32767, 100},
		{"current fixed 1023", CurrentFixed1023, 1023, 330},
		{"temperature tenths", TemperatureTenths, 255, 25.5},
		{"temperature fullscale", TemperatureFullScale, 32767, 330},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.strategy.FromRaw(tt.raw), 1e-9)
		})
	}
}

func TestRoundTripIdempotence(t *testing.T) {
	tests := []struct {
		strategy  Strategy
		max       int
		tolerance int
	}{
		{PWMDirect, MaxRaw, 0},
		// one-decimal rounding of a percentage spans ~33 raw counts
		{PWMFullScale, FullScale, 17},
		{CurrentFixed1023, Fixed1023, 0},
		{CurrentFullScale, FullScale, 0},
		{CurrentDirect, MaxRaw, 0},
		{TemperatureTenths, 3299, 0},
		{TemperatureFullScale, FullScale, 0},
	}

	for _, tt := range tests {
		t.Run(tt.strategy.Unit()+"/"+tt.strategy.Name(), func(t *testing.T) {
			for raw := 0; raw <= tt.max; raw += 7 {
				got := tt.strategy.ToRaw(tt.strategy.FromRaw(uint16(raw)))
				diff := got - raw
				if diff < 0 {
					diff = -diff
				}
				if diff > tt.tolerance {
					t.Fatalf("raw %d came back as %d", raw, got)
				}
			}
		})
	}
}

func TestLookup(t *testing.T) {
	s, err := Lookup(KindCurrent, Fixed1023MA)
	require.NoError(t, err)
	assert.Same(t, CurrentFixed1023, s)

	_, err = Lookup(KindTemperature, Auto100)
	assert.ErrorContains(t, err, "unknown temperature scaling")

	_, err = Lookup("voltage", Direct)
	assert.Error(t, err)
}

func TestNewProfile(t *testing.T) {
	p, err := NewProfile(FullScale327, FullScale327, FullScale327)
	require.NoError(t, err)
	assert.Same(t, PWMFullScale, p.PWM)
	assert.Same(t, CurrentFullScale, p.Current)
	assert.Same(t, TemperatureFullScale, p.Temperature)

	_, err = NewProfile(Direct, Tenths, Tenths)
	assert.Error(t, err)

	d := DefaultProfile()
	assert.Equal(t, Direct, d.PWM.Name())
	assert.Equal(t, Fixed1023MA, d.Current.Name())
	assert.Equal(t, Tenths, d.Temperature.Name())
}

func TestSplitVersion(t *testing.T) {
	major, minor := SplitVersion(0x0203)
	assert.Equal(t, uint8(2), major)
	assert.Equal(t, uint8(3), minor)
}
