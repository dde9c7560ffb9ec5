package protocol

import (
	"fmt"

	"go.tigermatt.uk/hil/scaling"
)

// Command is a caller's intent with the value in physical units.
type Command struct {
	Kind    Kind
	Channel Channel
	Signal  Signal
	Value   float64
}

// PingCommand asks the board for its firmware version.
func PingCommand() Command {
	return Command{Kind: Ping, Channel: ChannelSystem, Signal: System}
}

// GetCommand reads signal on ch.
func GetCommand(ch Channel, sig Signal) Command {
	return Command{Kind: Get, Channel: ch, Signal: sig}
}

// SetCommand simulates v (physical units) for signal on ch.
func SetCommand(ch Channel, sig Signal, v float64) Command {
	return Command{Kind: Set, Channel: ch, Signal: sig, Value: v}
}

func (c Command) String() string {
	return fmt.Sprintf("%s %s/%s %g", c.Kind, c.Channel, c.Signal, c.Value)
}

// Request scales the command's value with the profile's strategy for its
// signal.
func (c Command) Request(p scaling.Profile) (Request, error) {
	if !c.Kind.valid() {
		return Request{}, fmt.Errorf("invalid command %s", c.Kind)
	}
	if !c.Channel.valid() {
		return Request{}, fmt.Errorf("invalid %s", c.Channel)
	}
	if !c.Signal.valid() {
		return Request{}, fmt.Errorf("invalid %s", c.Signal)
	}

	return Request{
		Kind:    c.Kind,
		Channel: c.Channel,
		Signal:  c.Signal,
		Value:   StrategyFor(p, c.Signal).ToRaw(c.Value),
	}, nil
}

// Encode scales and encodes c in one step.
func (c Command) Encode(p scaling.Profile) ([]byte, error) {
	r, err := c.Request(p)
	if err != nil {
		return nil, err
	}
	return Encode(r)
}

// StrategyFor picks the profile's strategy for sig. Unset profile entries
// fall back to the default profile; the system signal is never scaled.
func StrategyFor(p scaling.Profile, sig Signal) scaling.Strategy {
	d := scaling.DefaultProfile()
	switch sig {
	case PWM:
		if p.PWM != nil {
			return p.PWM
		}
		return d.PWM
	case Current:
		if p.Current != nil {
			return p.Current
		}
		return d.Current
	case Temperature:
		if p.Temperature != nil {
			return p.Temperature
		}
		return d.Temperature
	}
	return scaling.Raw
}
