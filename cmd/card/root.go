package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cs-isia-racer/car/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "card",
	Short: "Remote-controlled car server",
	Long: `card streams camera frames and car state to websocket clients, applies
steering commands sent back by them and records capture sessions on demand.

Configuration is read from car.yaml (current directory or /etc/car), from
CAR_ prefixed environment variables and from the flags below, which win
when given explicitly.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./car.yaml or /etc/car/car.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	flags.Int("port", 5042, "HTTP port")
	flags.Bool("mock-cam", false, "use the synthetic camera")
	flags.Bool("mock-pwm", false, "use mock actuators instead of the PWM outputs")
}

// loadConfig reads file and environment, then applies flags the user set
// explicitly. Flags are not bound to viper so their defaults never mask the
// file or environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		level, _ := flags.GetString("log-level")
		cfg.Logging.Level = strings.ToLower(level)
		if cfg.Logging.Level == "warning" {
			cfg.Logging.Level = "warn"
		}
	}
	if flags.Changed("log-format") {
		format, _ := flags.GetString("log-format")
		cfg.Logging.Format = strings.ToLower(format)
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if mock, _ := flags.GetBool("mock-cam"); mock {
		cfg.Camera.Driver = "mock"
	}
	if mock, _ := flags.GetBool("mock-pwm"); mock {
		cfg.Actuator.Driver = "mock"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}
