package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go.tigermatt.uk/hil"
	"go.tigermatt.uk/hil/session"
)

func outFilename() string {
	return fmt.Sprintf("%d.dat", time.Now().UTC().Unix())
}

func sniffCommand(a *app) *cobra.Command {
	var (
		baud         = 115200
		dumpAllReads = false
		pollInterval = 10 * time.Millisecond
		out          string
	)

	cmd := &cobra.Command{
		Use:   "sniff DEVICE",
		Short: "Record everything received on DEVICE",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			port, err := session.SerialOpener(args[0], baud)
			if err != nil {
				return fmt.Errorf("opening serial: %w", err)
			}
			defer port.Close()
			if err := port.SetReadTimeout(pollInterval); err != nil {
				return fmt.Errorf("setting read timeout: %w", err)
			}

			if out == "" {
				out = outFilename()
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("creating recording: %w", err)
			}
			defer f.Close()
			rec := &hil.Recorder{Dest: f}
			a.log.Info("recording", zap.String("device", args[0]), zap.String("file", out))

			ctx, stop := listenStop()
			defer stop()

			s := &hil.Sniffer{
				Port:    port,
				Channel: args[0],
				OnMessage: func(msg hil.Message) {
					if dumpAllReads {
						fmt.Printf("%s % 02X\n", msg.Timestamp.Format("15:04:05.000"), msg.Data)
					}
					if err := rec.Receive(msg); err != nil {
						a.log.Error("recording", zap.Error(err))
					}
				},
			}
			return s.Consume(ctx)
		},
	}
	cmd.Flags().IntVar(&baud, "baud", baud, "Baud rate")
	cmd.Flags().BoolVar(&dumpAllReads, "dump-reads", dumpAllReads, "Print every read as it arrives")
	cmd.Flags().DurationVar(&pollInterval, "poll", pollInterval, "Read timeout between polls")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Recording file (default UNIX-TIME.dat)")

	return cmd
}
