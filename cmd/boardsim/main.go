// Command boardsim answers HIL frames on a serial port the way the sensor
// simulation board does, for bench bring-up without the hardware.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/tarm/serial"
	"go.uber.org/zap"

	"go.tigermatt.uk/hil/internal/config"
	"go.tigermatt.uk/hil/internal/logging"
	"go.tigermatt.uk/hil/protocol"
	"go.tigermatt.uk/hil/sim"
)

func parseFirmware(s string) (protocol.FirmwareVersion, error) {
	var v protocol.FirmwareVersion
	if _, err := fmt.Sscanf(s, "%d.%d", &v.Major, &v.Minor); err != nil {
		return v, fmt.Errorf("firmware %q: want MAJOR.MINOR", s)
	}
	return v, nil
}

func main() {
	var (
		device    string
		baud      = 115200
		shape     = protocol.ShapeStatus.String()
		firmware  = "1.0"
		shortAcks bool
		debug     bool
	)

	cmd := &cobra.Command{
		Use:          "boardsim",
		Short:        "Emulate the sensor simulation board on a serial port",
		Args:         cobra.ExactArgs(0),
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			logger, err := logging.New(config.Logging{Level: "info", Format: "console"}, debug)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			s, err := protocol.ParseShape(shape)
			if err != nil {
				return err
			}
			fw, err := parseFirmware(firmware)
			if err != nil {
				return err
			}

			opts := []sim.Option{sim.WithShape(s)}
			if shortAcks {
				opts = append(opts, sim.WithShortAcks())
			}
			board := sim.NewBoard(fw, opts...)

			port, err := serial.OpenPort(&serial.Config{
				Name:        device,
				Baud:        baud,
				ReadTimeout: 10 * time.Millisecond,
			})
			if err != nil {
				return fmt.Errorf("opening serial: %w", err)
			}
			defer port.Close()

			logger.Info("serving",
				zap.String("device", device),
				zap.Int("baud", baud),
				zap.Stringer("shape", s),
				zap.Stringer("firmware", fw))

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			return board.Serve(ctx, port, func(req, reply []byte) {
				if reply == nil {
					logger.Warn("dropped", zap.Binary("request", req))
					return
				}
				logger.Debug("frame",
					zap.String("request", fmt.Sprintf("% 02X", req)),
					zap.String("reply", fmt.Sprintf("% 02X", reply)))
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&device, "device", "", "Serial port to answer on")
	flags.IntVar(&baud, "baud", baud, "Baud rate")
	flags.StringVar(&shape, "shape", shape, "Response shape (status or echo)")
	flags.StringVar(&firmware, "firmware", firmware, "Firmware version reported to pings")
	flags.BoolVar(&shortAcks, "short-acks", false, "Acknowledge sets with 4-byte frames")
	flags.BoolVar(&debug, "debug", false, "Log every frame")
	_ = cmd.MarkFlagRequired("device")

	if err := cmd.Execute(); err != nil {
		log.Fatalln(err)
	}
}
