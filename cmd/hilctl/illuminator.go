package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"go.tigermatt.uk/hil/dispatch"
)

func illuminatorCommand(a *app) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "illuminator TOPIC ACTION [DATA]",
		Short: "Send one JSON command to the device under test",
		Example: `  hilctl illuminator light set '{"id": 1, "intensity": 50}'
  hilctl illuminator status get_sensors '{"id": 1}'`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(_ *cobra.Command, args []string) error {
			req := dispatch.Request{ID: id, Topic: args[0], Action: args[1]}
			if len(args) == 3 {
				req.Data = args[2]
			}

			b, err := a.bench(false, true)
			if err != nil {
				return err
			}
			defer b.Close()

			ctx, stop := listenStop()
			defer stop()

			resp, err := b.Illuminator.Send(ctx, req)
			if resp.Raw != "" {
				fmt.Println(resp.Raw)
			}
			if err != nil {
				return err
			}
			if !resp.OK() {
				return fmt.Errorf("device answered %q: %s", resp.Status(), resp.Message())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Request id (default a random UUID)")

	return cmd
}

func diagnoseCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Check the device under test for common faults",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			b, err := a.bench(false, true)
			if err != nil {
				return err
			}
			defer b.Close()

			ctx, stop := listenStop()
			defer stop()

			r, err := b.Illuminator.Diagnose(ctx)
			if err != nil {
				return err
			}
			printReport(r)
			return nil
		},
	}
}

func mark(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAIL"
}

func printReport(r dispatch.Report) {
	fmt.Printf("connectivity:  %s\n", mark(r.Ping))
	if !r.Ping {
		fmt.Println("\ncheck cabling and power")
	} else {
		fmt.Printf("system info:   %s %v\n", mark(r.Info), r.SystemInfo)
		fmt.Printf("alarms:        %s", mark(r.Alarms))
		if r.Cleared {
			fmt.Print(" (cleared)")
		}
		fmt.Println()
		for _, alarm := range r.ActiveAlarms {
			fmt.Printf("  %s\n", alarm)
		}
		fmt.Printf("light read:    %s %v\n", mark(r.LightRead), r.Intensities)
		fmt.Printf("light control: %s\n", mark(r.LightControl))
	}

	if len(r.Failures) > 0 {
		fmt.Println("\nfailures:")
		fmt.Println("  " + strings.Join(r.Failures, "\n  "))
	}
}

func checkCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Ping both channels at once",
		Args:  cobra.ExactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			b, err := a.bench(true, true)
			if err != nil {
				return err
			}
			defer b.Close()

			g, ctx := errgroup.WithContext(context.Background())
			g.Go(func() error {
				v, err := b.HIL.Ping(ctx)
				if err != nil {
					return fmt.Errorf("hil: %w", err)
				}
				a.log.Info("simulation board answered", zap.Stringer("firmware", v))
				return nil
			})
			g.Go(func() error {
				if err := b.Illuminator.Ping(ctx); err != nil {
					return fmt.Errorf("illuminator: %w", err)
				}
				a.log.Info("device under test answered")
				return nil
			})

			if err := g.Wait(); err != nil {
				return err
			}
			fmt.Println("both channels ok")
			return nil
		},
	}
}
