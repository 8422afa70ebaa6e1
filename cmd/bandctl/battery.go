package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/srg/bandlink/internal/transport"
	"github.com/srg/bandlink/pkg/driver"
)

// batteryCmd represents the battery command
var batteryCmd = &cobra.Command{
	Use:   "battery",
	Short: "Read the band's battery level",
	Long:  `Connect to a band, read the battery level once, and disconnect.`,
	RunE:  runBattery,
}

var batteryDevice string

func init() {
	batteryCmd.Flags().StringVarP(&batteryDevice, "device", "D", "", "Band address (falls back to config)")
	batteryCmd.Flags().BoolP("verbose", "V", false, "Verbose logging")
}

func runBattery(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	address := batteryDevice
	if address == "" {
		address = cfg.Device.Address
	}
	if address == "" {
		return fmt.Errorf("no band address: set --device or device.address in the config file")
	}

	cmd.SilenceUsage = true

	opts := transport.DefaultOptions()
	opts.ConnectTimeout = cfg.Device.ConnectTimeout
	opts.AutoReconnect = false // one-shot read

	d, err := driver.New(logger, driver.WithTransportOptions(opts))
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	progress := NewProgressPrinter("Connecting to band", "Connecting")
	progress.Start()
	err = d.Connect(ctx, address)
	progress.Stop()
	if err != nil {
		return err
	}

	rd, err := d.ReadBattery()
	if err != nil {
		return err
	}
	fmt.Printf("Battery: %d%%\n", rd.Level)
	return nil
}
