package main

import (
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go.tigermatt.uk/hil"
	"go.tigermatt.uk/hil/protocol"
	"go.tigermatt.uk/hil/session"
)

func dumpCommand() *cobra.Command {
	var (
		gap   = 5 * time.Millisecond
		shape = protocol.ShapeStatus.String()
	)

	cmd := &cobra.Command{
		Use:   "dump FILE",
		Short: "Print a recording, one line per burst",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			s, err := protocol.ParseShape(shape)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			defer f.Close()

			msgs := make(chan hil.Message, 100)
			c := protocol.Classifier{Shape: s}

			var g errgroup.Group
			g.Go(func() error {
				return hil.Group(msgs, gap, func(b hil.Burst) error {
					fmt.Printf("%s %-11s %s %s\n", b.Start.Format("15:04:05.000"), b.Channel, b.Direction, render(c, b))
					return nil
				})
			})
			g.Go(func() error { return hil.ReadIn(msgs, f) })

			return g.Wait()
		},
	}
	cmd.Flags().DurationVar(&gap, "gap", gap, "Longest pause within one message")
	cmd.Flags().StringVar(&shape, "shape", shape, "Response shape for decoding (status or echo)")

	return cmd
}

// render shows frames decoded and printable lines as text.
func render(c protocol.Classifier, b hil.Burst) string {
	bs := b.Data
	if f, err := protocol.Decode(bs); err == nil {
		var desc fmt.Stringer = c.Classify(f, protocol.Signal(bs[3]))
		if b.Direction == session.TX && !f.Short() {
			desc = protocol.Command{
				Kind:    protocol.Kind(bs[1]),
				Channel: protocol.Channel(bs[2]),
				Signal:  protocol.Signal(bs[3]),
				Value:   float64(f.Value()),
			}
		}
		pad := fmt.Sprintf("%*s", 26-len(bs)*3, "")
		return fmt.Sprintf("% 02X%s%s", bs, pad, desc)
	}
	if utf8.Valid(bs) {
		return fmt.Sprintf("%q", bs)
	}
	return fmt.Sprintf("% 02X", bs)
}
