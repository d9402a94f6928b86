// Command lbs-peripheral runs a Bluetooth LE peripheral exposing the LED
// Button Service: a keyboard key acts as the button and a keyboard lock
// indicator (or the log) as the LED.
//
// Usage:
//
//	lbs-peripheral [--config path] [run]
//	lbs-peripheral address
//	lbs-peripheral config init
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/chaz8081/lbs-peripheral/internal/ble"
	"github.com/chaz8081/lbs-peripheral/internal/button"
	"github.com/chaz8081/lbs-peripheral/internal/config"
	"github.com/chaz8081/lbs-peripheral/internal/led"
	"github.com/chaz8081/lbs-peripheral/internal/peripheral"
)

func main() {
	app := cli.NewApp()
	app.Name = "lbs-peripheral"
	app.Usage = "Bluetooth LE LED Button Service peripheral"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to config file (default: ~/.config/lbs-peripheral/config.yaml)",
		},
	}
	app.Action = runCommand
	app.Commands = []cli.Command{
		cli.Command{
			Name:   "run",
			Usage:  "Advertise and serve the LED Button Service until interrupted",
			Action: runCommand,
		},
		cli.Command{
			Name:   "address",
			Usage:  "Print the advertising address mode and the derived static random address",
			Action: addressCommand,
		},
		cli.Command{
			Name:  "config",
			Usage: "Manage the config file",
			Subcommands: []cli.Command{
				cli.Command{
					Name:   "init",
					Usage:  "Write the default config file if none exists",
					Action: configInitCommand,
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.FgHiRed).Sprint(err))
		os.Exit(1)
	}
}

func runCommand(c *cli.Context) error {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	advParams, err := cfg.AdvParams()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	printBanner(cfg, advParams)

	q := ble.NewQueue()
	stack := ble.NewTinyGoStack(q)

	var bank led.Bank
	switch cfg.LED.Backend {
	case "keyboard":
		bank = led.NewKeyboardBank(cfg.LEDKeys())
	default:
		bank = led.NewLogBank()
	}

	m, err := peripheral.New(peripheral.Options{
		Name:        cfg.DeviceName,
		Advertising: advParams,
		Preferences: cfg.Preferences(),
		Heartbeat:   cfg.Heartbeat(),
		Queue:       q,
	}, stack, bank, button.NewHookSource(cfg.Button.Key))
	if err != nil {
		return err
	}

	if err := m.Start(); err != nil {
		return err
	}
	slog.Info("Ready! Press " + cfg.Button.Key + " to toggle the button. Ctrl+C to quit.")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Goodbye!")
	return nil
}

func addressCommand(c *cli.Context) error {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	p, err := cfg.AdvParams()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if p.UseIdentity {
		fmt.Println("identity (adapter public address)")
		return nil
	}
	fmt.Println(p.Address)
	return nil
}

func configInitCommand(c *cli.Context) error {
	path, err := config.WriteDefault(c.GlobalString("config"))
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Println("Config file already exists, not overwritten")
		return nil
	}
	fmt.Println("Wrote", path)
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults. The result is
// validated.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOrDefault(config.DefaultConfigPath())
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config, p ble.AdvParams) {
	cyan := color.New(color.FgHiCyan).SprintFunc()
	address := "identity"
	if !p.UseIdentity {
		address = p.Address
	}

	fmt.Println(cyan("=== lbs-peripheral ==="))
	fmt.Printf("  Name:     %s\n", cfg.DeviceName)
	fmt.Printf("  Address:  %s\n", address)
	fmt.Printf("  Interval: %d-%d ms\n", cfg.Advertising.IntervalMinMS, cfg.Advertising.IntervalMaxMS)
	fmt.Printf("  Link:     %s PHY, %d octets, security %s\n",
		cfg.Connection.PHY, cfg.Connection.DataLength.TxOctets, cfg.Connection.Security)
	fmt.Printf("  Button:   %s\n", cfg.Button.Key)
	fmt.Printf("  LED:      %s\n", cfg.LED.Backend)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println(cyan("======================"))
}
