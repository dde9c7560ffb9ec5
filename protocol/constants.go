package protocol

import "fmt"

// Frame markers and sizes.
const (
	StartMarker = 0xAA
	EndMarker   = 0x55

	// FrameSize is the length of a request and of a full response.
	FrameSize = 8

	// ShortFrameSize is the length of a bare acknowledgement.
	ShortFrameSize = 4
)

// Byte offsets within a full frame.
const (
	offStart = iota
	offA
	offB
	offC
	offValueLow
	offValueHigh
	offChecksum
	offEnd
)

// Status bytes sent back by the board.
const (
	StatusOK    = 'O'
	StatusError = 'N'
)

// Kind is the command code of a request frame.
type Kind byte

const (
	Get  Kind = 'G'
	Set  Kind = 'S'
	Ping Kind = 'P'
)

func (k Kind) String() string {
	switch k {
	case Get:
		return "get"
	case Set:
		return "set"
	case Ping:
		return "ping"
	}
	return fmt.Sprintf("kind(0x%02X)", byte(k))
}

func (k Kind) valid() bool {
	return k == Get || k == Set || k == Ping
}

// Channel addresses one light on the board, or the whole system.
type Channel byte

const (
	Channel1      Channel = '1'
	Channel2      Channel = '2'
	Channel3      Channel = '3'
	ChannelSystem Channel = 'S'
)

// ChannelNumber returns the channel for light n (1..3).
func ChannelNumber(n int) (Channel, error) {
	if n < 1 || n > 3 {
		return 0, fmt.Errorf("light %d out of range 1..3", n)
	}
	return Channel('0' + n), nil
}

func (c Channel) String() string {
	switch c {
	case Channel1, Channel2, Channel3:
		return string(rune(c))
	case ChannelSystem:
		return "system"
	}
	return fmt.Sprintf("channel(0x%02X)", byte(c))
}

func (c Channel) valid() bool {
	return c == ChannelSystem || (c >= Channel1 && c <= Channel3)
}

// Signal is the physical quantity an exchange concerns.
type Signal byte

const (
	PWM         Signal = 'P'
	Current     Signal = 'C'
	Temperature Signal = 'T'
	System      Signal = 'S'
)

func (s Signal) String() string {
	switch s {
	case PWM:
		return "pwm"
	case Current:
		return "current"
	case Temperature:
		return "temperature"
	case System:
		return "system"
	}
	return fmt.Sprintf("signal(0x%02X)", byte(s))
}

func (s Signal) valid() bool {
	return s == PWM || s == Current || s == Temperature || s == System
}

// ParseKind accepts the wire letter or the lower-case name.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{Get, Set, Ping} {
		if s == string(rune(k)) || s == k.String() {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown command %q (want G, S or P)", s)
}

// ParseChannel accepts '1'..'3' or 'S'/"system".
func ParseChannel(s string) (Channel, error) {
	for _, c := range []Channel{Channel1, Channel2, Channel3, ChannelSystem} {
		if s == string(rune(c)) || s == c.String() {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q (want 1, 2, 3 or S)", s)
}

// ParseSignal accepts the wire letter or the lower-case name.
func ParseSignal(s string) (Signal, error) {
	for _, sig := range []Signal{PWM, Current, Temperature, System} {
		if s == string(rune(sig)) || s == sig.String() {
			return sig, nil
		}
	}
	return 0, fmt.Errorf("unknown signal %q (want P, C, T or S)", s)
}
