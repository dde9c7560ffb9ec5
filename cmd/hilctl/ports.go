package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"go.tigermatt.uk/hil/session"
)

func portsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			ports, err := session.ListPorts()
			if err != nil {
				return err
			}
			if len(ports) == 0 {
				fmt.Println("no serial ports found")
				return nil
			}

			for _, p := range ports {
				if p.IsUSB {
					fmt.Printf("%-16s USB %s:%s serial %q\n", p.Name, p.VID, p.PID, p.SerialNumber)
				} else {
					fmt.Println(p.Name)
				}
			}
			return nil
		},
	}
}

func listenCommand(a *app) *cobra.Command {
	var (
		baud   = 115200
		window = 2 * time.Second
	)

	cmd := &cobra.Command{
		Use:   "listen PORT",
		Short: "Open PORT and report anything received",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			s := session.New("listen", session.Binary, a.sessionOptions("listen")...)
			if err := s.Open(args[0], baud, window); err != nil {
				return err
			}
			defer s.Close()
			fmt.Printf("opened %s at %d baud, listening for %s\n", args[0], baud, window)

			bs, err := s.ReadExact(256, window)
			if err != nil && !errors.Is(err, session.ErrTimeout) {
				return err
			}
			if len(bs) == 0 {
				fmt.Println("no data received (port works, nothing is talking)")
				return nil
			}
			fmt.Printf("received %d bytes\n  hex:  % 02X\n  text: %q\n", len(bs), bs, bs)
			return nil
		},
	}
	cmd.Flags().IntVar(&baud, "baud", baud, "Baud rate")
	cmd.Flags().DurationVar(&window, "window", window, "How long to listen")

	return cmd
}
