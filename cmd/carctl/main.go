// Command carctl drives a running car's control surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cs-isia-racer/car/internal/client"
	"github.com/cs-isia-racer/car/internal/types"
)

var (
	carAddr string
	timeout time.Duration
)

func main() {
	root := &cobra.Command{
		Use:          "carctl",
		Short:        "Control a running car",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&carAddr, "car", "localhost:5042", "car address, host:port or URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Second, "request timeout")

	root.AddCommand(captureCmd(), healthCmd(), steerCmd(), throttleCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newControl() (*client.Control, error) {
	return client.NewControl(carAddr, timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func captureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture session control",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Print whether a capture session is running",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newControl()
			if err != nil {
				return err
			}
			capturing, err := c.Capturing(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), capturing)
			return nil
		},
	}

	var out string
	start := &cobra.Command{
		Use:   "start",
		Short: "Start a capture session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newControl()
			if err != nil {
				return err
			}
			if err := c.StartCapture(cmd.Context(), out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "capturing")
			return nil
		},
	}
	start.Flags().StringVar(&out, "out", "", "output directory on the car (default from the car's config)")

	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running capture session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newControl()
			if err != nil {
				return err
			}
			if err := c.StopCapture(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "stopped")
			return nil
		},
	}

	var limit int
	sessions := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded capture sessions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newControl()
			if err != nil {
				return err
			}
			records, err := c.Sessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), records)
		},
	}
	sessions.Flags().IntVar(&limit, "limit", 20, "maximum sessions to list")

	cmd.AddCommand(get, start, stop, sessions)
	return cmd
}

func healthCmd() *cobra.Command {
	var watch time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Print the car's health, optionally polling it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newControl()
			if err != nil {
				return err
			}
			if watch <= 0 {
				h, err := c.Health(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), h)
			}
			w := cmd.OutOrStdout()
			c.PollHealth(cmd.Context(), watch, func(h types.Health, err error) {
				if err != nil {
					if cmd.Context().Err() == nil {
						fmt.Fprintf(w, "%s error: %v\n", time.Now().Format(time.TimeOnly), err)
					}
					return
				}
				fmt.Fprintln(w, healthLine(h))
			})
			return nil
		},
	}
	cmd.Flags().DurationVar(&watch, "watch", 0, "poll interval; 0 prints once")
	return cmd
}

func healthLine(h types.Health) string {
	line := fmt.Sprintf("%s status=%s clients=%d stream=%t fps=%.1f frames=%d capturing=%t",
		time.Now().Format(time.TimeOnly), h.Status, h.Clients, h.Stream.Running, h.Stream.FPS, h.Stream.Frames, h.Capture.Capturing)
	if h.DegradedReason != "" {
		line += " reason=" + strconv.Quote(h.DegradedReason)
	}
	return line
}

func steerCmd() *cobra.Command {
	var set bool
	cmd := &cobra.Command{
		Use:   "steer <value>",
		Short: "Move the steering by a delta, or set it with --set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("parsing value: %w", err)
			}
			c, err := newControl()
			if err != nil {
				return err
			}
			var stored float64
			if set {
				stored, err = c.SetSteering(cmd.Context(), v)
			} else {
				stored, err = c.Steer(cmd.Context(), v)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatFloat(stored, 'f', -1, 64))
			return nil
		},
	}
	cmd.Flags().BoolVar(&set, "set", false, "set the absolute steering instead of a delta")
	return cmd
}

func throttleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "throttle <delta>",
		Short: "Move the throttle by a delta",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("parsing value: %w", err)
			}
			c, err := newControl()
			if err != nil {
				return err
			}
			stored, err := c.Throttle(cmd.Context(), v)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatFloat(stored, 'f', -1, 64))
			return nil
		},
	}
}
