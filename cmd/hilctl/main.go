// Command hilctl drives the HIL bench: the binary channel to the sensor
// simulation board and the JSON channel to the device under test.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"go.tigermatt.uk/hil"
	"go.tigermatt.uk/hil/dispatch"
	"go.tigermatt.uk/hil/internal/config"
	"go.tigermatt.uk/hil/internal/logging"
	"go.tigermatt.uk/hil/session"
)

type app struct {
	configPath      string
	hilPort         string
	illuminatorPort string
	debug           bool
	recordPath      string

	cfg     *config.Config
	log     *zap.Logger
	metrics *dispatch.Metrics

	record   *os.File
	recorder *hil.Recorder
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalln(err)
	}
}

// run executes one command line. Teardown happens here rather than in a
// post-run hook, which cobra skips when the command fails.
func run(args []string) error {
	a := &app{}
	cmd := a.command()
	cmd.SetArgs(args)

	err := cmd.Execute()
	return multierr.Append(err, a.teardown())
}

func (a *app) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "hilctl",
		Args:              cobra.ExactArgs(0),
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Config file (default ./hil.{yaml,toml,json})")
	flags.StringVar(&a.hilPort, "hil-port", "", "Serial port of the simulation board")
	flags.StringVar(&a.illuminatorPort, "illuminator-port", "", "Serial port of the device under test")
	flags.BoolVar(&a.debug, "debug", false, "Log every byte sent and received")
	flags.StringVar(&a.recordPath, "record", "", "Record bench traffic to FILE")

	cmd.AddCommand(
		portsCommand(),
		listenCommand(a),
		encodeCommand(a),
		sendCommand(a),
		pingCommand(a),
		illuminatorCommand(a),
		diagnoseCommand(a),
		checkCommand(a),
		soakCommand(a),
		sniffCommand(a),
		dumpCommand(),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.hilPort != "" {
		cfg.HIL.Port = a.hilPort
	}
	if a.illuminatorPort != "" {
		cfg.Illuminator.Port = a.illuminatorPort
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = a.debug
	}
	a.cfg = cfg

	if a.log, err = logging.New(cfg.Logging, cfg.Debug); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	if a.recordPath != "" {
		if a.record, err = os.Create(a.recordPath); err != nil {
			return fmt.Errorf("creating recording: %w", err)
		}
		a.recorder = &hil.Recorder{Dest: a.record}
	}
	return nil
}

func (a *app) teardown() error {
	var err error
	if a.log != nil {
		// syncing a terminal fails on some platforms
		_ = a.log.Sync()
	}
	if a.record != nil {
		err = multierr.Append(err, a.recorder.Err())
		err = multierr.Append(err, a.record.Close())
		a.record, a.recorder = nil, nil
	}
	return err
}

func (a *app) sessionOptions(name string) []session.Option {
	opts := []session.Option{
		session.WithLogger(a.log),
		session.WithDebug(a.cfg.Debug),
	}
	if a.recorder != nil {
		opts = append(opts, session.WithTap(a.recorder.Tap(name)))
	}
	return opts
}

func (a *app) hilOptions() ([]dispatch.HILOption, error) {
	shape, err := a.cfg.Shape()
	if err != nil {
		return nil, err
	}
	profile, err := a.cfg.Profile()
	if err != nil {
		return nil, err
	}

	return []dispatch.HILOption{
		dispatch.WithAttempts(a.cfg.HIL.Attempts),
		dispatch.WithRetryDelay(a.cfg.HIL.RetryDelay),
		dispatch.WithSettle(a.cfg.HIL.Settle),
		dispatch.WithShape(shape),
		dispatch.WithScaling(profile),
		dispatch.WithHILLogger(a.log, a.cfg.Debug),
		dispatch.WithHILMetrics(a.metrics),
	}, nil
}

func (a *app) illuminatorOptions() []dispatch.IlluminatorOption {
	return []dispatch.IlluminatorOption{
		dispatch.WithIlluminatorLogger(a.log, a.cfg.Debug),
		dispatch.WithIlluminatorMetrics(a.metrics),
	}
}

// bench opens the channels a command needs, failing early when the config
// names no port for one of them. The other channel stays closed.
func (a *app) bench(needHIL, needIlluminator bool) (*dispatch.Bench, error) {
	if needHIL && a.cfg.HIL.Port == "" {
		return nil, fmt.Errorf("no HIL port: set hil.port or --hil-port")
	}
	if needIlluminator && a.cfg.Illuminator.Port == "" {
		return nil, fmt.Errorf("no Illuminator port: set illuminator.port or --illuminator-port")
	}

	hilOpts, err := a.hilOptions()
	if err != nil {
		return nil, err
	}

	b := dispatch.NewBench(
		session.New("hil", session.Binary, a.sessionOptions("hil")...),
		session.New("illuminator", session.Line, a.sessionOptions("illuminator")...),
		hilOpts,
		a.illuminatorOptions(),
	)

	hilEP := dispatch.Endpoint{Baud: a.cfg.HIL.Baud, Timeout: a.cfg.HIL.Timeout}
	if needHIL {
		hilEP.Device = a.cfg.HIL.Port
	}
	illEP := dispatch.Endpoint{Baud: a.cfg.Illuminator.Baud, Timeout: a.cfg.Illuminator.Timeout}
	if needIlluminator {
		illEP.Device = a.cfg.Illuminator.Port
	}

	if err := b.Open(hilEP, illEP); err != nil {
		return nil, err
	}
	return b, nil
}

func listenStop() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}
