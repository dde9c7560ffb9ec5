package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"go.tigermatt.uk/hil/protocol"
)

// parseCommand reads CMD CHANNEL SIGNAL [VALUE]. A ping needs no channel or
// signal.
func parseCommand(args []string) (protocol.Command, error) {
	kind, err := protocol.ParseKind(args[0])
	if err != nil {
		return protocol.Command{}, err
	}
	if kind == protocol.Ping {
		return protocol.PingCommand(), nil
	}
	if len(args) < 3 {
		return protocol.Command{}, fmt.Errorf("%s needs CHANNEL and SIGNAL", kind)
	}

	ch, err := protocol.ParseChannel(args[1])
	if err != nil {
		return protocol.Command{}, err
	}
	sig, err := protocol.ParseSignal(args[2])
	if err != nil {
		return protocol.Command{}, err
	}

	cmd := protocol.Command{Kind: kind, Channel: ch, Signal: sig}
	if len(args) > 3 {
		if cmd.Value, err = strconv.ParseFloat(args[3], 64); err != nil {
			return protocol.Command{}, fmt.Errorf("value %q: %w", args[3], err)
		}
	} else if kind == protocol.Set {
		return protocol.Command{}, fmt.Errorf("set needs a VALUE")
	}
	return cmd, nil
}

func encodeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "encode CMD [CHANNEL SIGNAL [VALUE]]",
		Short: "Print the frame for a command without sending it",
		Args:  cobra.RangeArgs(1, 4),
		RunE: func(_ *cobra.Command, args []string) error {
			cmd, err := parseCommand(args)
			if err != nil {
				return err
			}
			profile, err := a.cfg.Profile()
			if err != nil {
				return err
			}

			req, err := cmd.Request(profile)
			if err != nil {
				return err
			}
			frame, err := protocol.Encode(req)
			if err != nil {
				return err
			}

			strategy := protocol.StrategyFor(profile, cmd.Signal)
			fmt.Printf("command:  %s\n", cmd)
			fmt.Printf("value:    %g %s -> raw %d (0x%04X) via %s\n", cmd.Value, strategy.Unit(), req.Value, req.Value, strategy.Name())
			fmt.Printf("checksum: 0x%02X\n", frame[len(frame)-2])
			fmt.Printf("frame:    % 02X\n", frame)
			return nil
		},
	}
}

func sendCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send CMD [CHANNEL SIGNAL [VALUE]]",
		Short: "Send one command to the simulation board",
		Args:  cobra.RangeArgs(1, 4),
		RunE: func(_ *cobra.Command, args []string) error {
			cmd, err := parseCommand(args)
			if err != nil {
				return err
			}

			b, err := a.bench(true, false)
			if err != nil {
				return err
			}
			defer b.Close()

			ctx, stop := listenStop()
			defer stop()

			resp, err := b.HIL.Send(ctx, cmd)
			if resp != nil {
				fmt.Println(resp)
			}
			return err
		},
	}
}

func pingCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Ping the simulation board and print its firmware version",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			b, err := a.bench(true, false)
			if err != nil {
				return err
			}
			defer b.Close()

			v, err := b.HIL.Ping(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("firmware %s\n", v)
			return nil
		},
	}
}
