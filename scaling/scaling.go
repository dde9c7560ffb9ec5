// Package scaling converts between physical units and the raw 16-bit value
// carried in a HIL frame.
//
// The board firmware revisions disagree on how a signal is scaled, so every
// conversion is a named Strategy and the caller picks one per signal. None of
// them is the "right" one until checked against real hardware.
package scaling

import (
	"fmt"
	"math"
	"sort"
)

const (
	// MaxRaw is the largest value the frame's value field can hold.
	MaxRaw = 0xFFFF

	// FullScale is the raw reference used by the full-scale strategies.
	FullScale = 32767

	// Fixed1023 is the raw ceiling of the 10-bit current strategy.
	Fixed1023 = 1023
)

// Physical ranges of the simulated sensors.
const (
	PWMRange         = 100.0
	CurrentRangeMA   = 33000.0
	CurrentFixedMA   = 330.0
	TemperatureRange = 330.0
)

// Strategy converts one signal between its physical unit and raw frame value.
//
// ToRaw does not range check: a result outside [0, MaxRaw] is rejected by the
// frame encoder, not here. Strategies that clamp say so.
type Strategy interface {
	Name() string
	Unit() string
	ToRaw(v float64) int
	FromRaw(raw uint16) float64
}

type strategy struct {
	name    string
	unit    string
	toRaw   func(float64) int
	fromRaw func(uint16) float64
}

func (s *strategy) Name() string { return s.name }
func (s *strategy) Unit() string { return s.unit }

func (s *strategy) ToRaw(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return -1
	}
	return s.toRaw(v)
}

func (s *strategy) FromRaw(raw uint16) float64 { return s.fromRaw(raw) }

func (s *strategy) String() string { return s.name }

// Kind names the signal a strategy applies to.
type Kind string

const (
	KindPWM         Kind = "pwm"
	KindCurrent     Kind = "current"
	KindTemperature Kind = "temperature"
)

// Strategy names accepted by Lookup.
const (
	Direct       = "direct"
	FullScale327 = "fullscale-32767"
	Auto100      = "auto-100"
	Fixed1023MA  = "fixed-1023"
	Tenths       = "tenths"
)

var (
	// PWMDirect treats the raw value as a percentage.
	PWMDirect Strategy = &strategy{
		name:    Direct,
		unit:    "%",
		toRaw:   func(v float64) int { return round(v) },
		fromRaw: func(raw uint16) float64 { return float64(raw) },
	}

	// PWMFullScale maps [0, 32767] onto [0, 100] %, rounded to one decimal.
	PWMFullScale Strategy = &strategy{
		name:    FullScale327,
		unit:    "%",
		toRaw:   func(v float64) int { return round(v * FullScale / PWMRange) },
		fromRaw: func(raw uint16) float64 { return round1(float64(raw) * PWMRange / FullScale) },
	}

	// PWMAuto passes raw values up to 100 through unchanged and rescales
	// anything larger from the full-scale range.
	PWMAuto Strategy = &strategy{
		name:  Auto100,
		unit:  "%",
		toRaw: func(v float64) int { return round(v) },
		fromRaw: func(raw uint16) float64 {
			if raw <= PWMRange {
				return float64(raw)
			}
			return round1(float64(raw) * PWMRange / FullScale)
		},
	}

	// CurrentFixed1023 scales milliamps against a 330 mA / 1023 counts
	// reference and clamps to [0, 1023].
	CurrentFixed1023 Strategy = &strategy{
		name: Fixed1023MA,
		unit: "mA",
		toRaw: func(v float64) int {
			return clamp(round(v*Fixed1023/CurrentFixedMA), 0, Fixed1023)
		},
		fromRaw: func(raw uint16) float64 { return float64(raw) * CurrentFixedMA / Fixed1023 },
	}

	// CurrentFullScale maps [0, 33000] mA onto [0, 32767].
	CurrentFullScale Strategy = &strategy{
		name:    FullScale327,
		unit:    "mA",
		toRaw:   func(v float64) int { return round(v * FullScale / CurrentRangeMA) },
		fromRaw: func(raw uint16) float64 { return float64(raw) * CurrentRangeMA / FullScale },
	}

	// CurrentDirect sends milliamps unscaled.
	CurrentDirect Strategy = &strategy{
		name:    Direct,
		unit:    "mA",
		toRaw:   func(v float64) int { return round(v) },
		fromRaw: func(raw uint16) float64 { return float64(raw) },
	}

	// TemperatureTenths sends tenths of a degree for inputs below the 330 °C
	// sensor range; larger inputs are taken to be raw already.
	TemperatureTenths Strategy = &strategy{
		name: Tenths,
		unit: "°C",
		toRaw: func(v float64) int {
			if v < TemperatureRange {
				return round(v * 10)
			}
			return round(v)
		},
		fromRaw: func(raw uint16) float64 { return float64(raw) / 10 },
	}

	// TemperatureFullScale maps [0, 330] °C onto [0, 32767].
	TemperatureFullScale Strategy = &strategy{
		name:    FullScale327,
		unit:    "°C",
		toRaw:   func(v float64) int { return round(v * FullScale / TemperatureRange) },
		fromRaw: func(raw uint16) float64 { return float64(raw) * TemperatureRange / FullScale },
	}

	// Raw is used for signals that carry no physical unit.
	Raw Strategy = &strategy{
		name:    "raw",
		unit:    "raw",
		toRaw:   func(v float64) int { return round(v) },
		fromRaw: func(raw uint16) float64 { return float64(raw) },
	}
)

var registry = map[Kind]map[string]Strategy{
	KindPWM: {
		Direct:       PWMDirect,
		FullScale327: PWMFullScale,
		Auto100:      PWMAuto,
	},
	KindCurrent: {
		Fixed1023MA:  CurrentFixed1023,
		FullScale327: CurrentFullScale,
		Direct:       CurrentDirect,
	},
	KindTemperature: {
		Tenths:       TemperatureTenths,
		FullScale327: TemperatureFullScale,
	},
}

// Lookup returns the named strategy for a signal kind.
func Lookup(kind Kind, name string) (Strategy, error) {
	byName, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown signal kind %q", kind)
	}
	s, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown %s scaling %q (want one of %v)", kind, name, Names(kind))
	}
	return s, nil
}

// Names lists the strategy names registered for kind.
func Names(kind Kind) []string {
	names := make([]string, 0, len(registry[kind]))
	for name := range registry[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profile selects one strategy per signal for a board configuration.
type Profile struct {
	PWM         Strategy
	Current     Strategy
	Temperature Strategy
}

// DefaultProfile is used when no strategies are configured.
func DefaultProfile() Profile {
	return Profile{
		PWM:         PWMDirect,
		Current:     CurrentFixed1023,
		Temperature: TemperatureTenths,
	}
}

// NewProfile builds a Profile from strategy names.
func NewProfile(pwm, current, temperature string) (Profile, error) {
	var p Profile
	var err error
	if p.PWM, err = Lookup(KindPWM, pwm); err != nil {
		return Profile{}, err
	}
	if p.Current, err = Lookup(KindCurrent, current); err != nil {
		return Profile{}, err
	}
	if p.Temperature, err = Lookup(KindTemperature, temperature); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// SplitVersion unpacks a firmware version from a system frame's value.
func SplitVersion(raw uint16) (major, minor uint8) {
	return uint8(raw >> 8), uint8(raw)
}

// round saturates at the int32 limits, far outside any frame value, so a
// huge input still clamps or fails range checks the right way.
func round(v float64) int {
	switch {
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int(math.Round(v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
