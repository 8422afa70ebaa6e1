package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/srg/bandlink/internal/band"
	"github.com/srg/bandlink/internal/batch"
	"github.com/srg/bandlink/internal/httpapi"
	"github.com/srg/bandlink/internal/publish"
	"github.com/srg/bandlink/internal/record"
	"github.com/srg/bandlink/internal/transport"
	"github.com/srg/bandlink/pkg/config"
	"github.com/srg/bandlink/pkg/driver"
)

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream sensor data from a band",
	Long: `Connect to a band and stream sensor data with configurable batching.

Batching is per sensor: --count emits a batch every N samples, --window
emits one per time window. Defaults come from the config file; a flag set
on the command line applies to every sensor selected with --sensors.

Streaming continues until Ctrl+C or --duration elapses. Add --record to
write the session to disk, --mqtt to publish batches to a broker, and
--http to expose the live status API.`,
	RunE: runStream,
}

var (
	streamDevice   string
	streamSensors  []string
	streamCount    int
	streamWindow   time.Duration
	streamDuration time.Duration
	streamRecord   bool
	streamSQLite   bool
	streamEDF      bool
	streamMQTT     bool
	streamHTTP     bool
	streamQuiet    bool
)

func init() {
	addStreamFlags(streamCmd)
	streamCmd.Flags().BoolVarP(&streamRecord, "record", "r", false, "Record the session to disk")
}

// addStreamFlags registers the flags shared by the stream and record
// commands. Both bind the same variables; the commands never run in the same
// process invocation.
func addStreamFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&streamDevice, "device", "D", "", "Band address (falls back to config)")
	cmd.Flags().StringSliceVarP(&streamSensors, "sensors", "s", []string{"eeg", "ppg", "accel"}, "Sensors to stream")
	cmd.Flags().IntVarP(&streamCount, "count", "c", 0, "Batch size in samples (overrides config)")
	cmd.Flags().DurationVarP(&streamWindow, "window", "w", 0, "Batch window duration (overrides --count and config)")
	cmd.Flags().DurationVarP(&streamDuration, "duration", "d", 0, "Stop after this long (0 = until Ctrl+C)")
	cmd.Flags().BoolVar(&streamSQLite, "sqlite", false, "Also write recorded samples to SQLite")
	cmd.Flags().BoolVar(&streamEDF, "edf", false, "Also export recorded EEG to EDF")
	cmd.Flags().BoolVar(&streamMQTT, "mqtt", false, "Publish batches to the configured MQTT broker")
	cmd.Flags().BoolVar(&streamHTTP, "http", false, "Serve the status HTTP API")
	cmd.Flags().BoolVarP(&streamQuiet, "quiet", "q", false, "Suppress per-batch output")
	cmd.Flags().BoolP("verbose", "V", false, "Verbose logging")
}

var sensorColors = map[band.SensorType]*color.Color{
	band.SensorEEG:           color.New(color.FgCyan),
	band.SensorPPG:           color.New(color.FgRed),
	band.SensorAccelerometer: color.New(color.FgYellow),
	band.SensorBattery:       color.New(color.FgGreen),
}

func runStream(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	address := streamDevice
	if address == "" {
		address = cfg.Device.Address
	}
	if address == "" {
		return fmt.Errorf("no band address: set --device or device.address in the config file")
	}

	sensors, err := parseSensors(streamSensors)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	d, err := driver.New(logger, driver.WithTransportOptions(&transport.Options{
		ConnectTimeout:   cfg.Device.ConnectTimeout,
		Characteristics:  transport.DefaultCharacteristicMap(),
		AutoReconnect:    cfg.Device.AutoReconnect,
		ReconnectInitial: time.Second,
		ReconnectMax:     30 * time.Second,
	}))
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	for _, t := range sensors {
		policy, ok := sensorPolicy(t, cfg)
		if !ok {
			continue
		}
		effective, err := d.Configure(t, policy)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", t, effective)
	}

	if !streamQuiet {
		d.SetBatchHandler(printBatch)
		d.SetLatestHandler(printBattery)
	}
	d.SetErrorHandler(func(err error) {
		fmt.Fprintf(os.Stderr, "WARN: %s\n", err)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if streamDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, streamDuration)
		defer cancel()
	}

	if err := d.Connect(ctx, address); err != nil {
		return err
	}

	if streamRecord {
		var recOpts []record.Option
		if streamSQLite || cfg.Record.SQLite {
			recOpts = append(recOpts, record.WithSQLite())
		}
		if streamEDF || cfg.Record.EDF {
			recOpts = append(recOpts, record.WithEDF())
		}
		session, err := d.StartRecording(cfg.Record.Dir, recOpts...)
		if err != nil {
			return err
		}
		fmt.Printf("Recording session %s -> %s\n", session.ID(), session.Dir())
	}

	if streamMQTT || cfg.MQTT.Enabled {
		err := d.EnableMQTT(publish.Config{
			Broker:          cfg.MQTT.Broker,
			Port:            cfg.MQTT.Port,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			QoS:             cfg.MQTT.QoS,
			UseTLS:          cfg.MQTT.UseTLS,
			InsecureSkipTLS: cfg.MQTT.InsecureSkipTLS,
		})
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if streamHTTP || cfg.HTTP.Enabled {
		api := httpapi.New(d.Router(), d.Hardware(), logger)
		g.Go(func() error {
			return api.Start(cfg.HTTP.Listen)
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return api.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	fmt.Println("Streaming... press Ctrl+C to stop")
	if err := g.Wait(); err != nil {
		return err
	}

	if err := d.StopRecording(); err != nil {
		return fmt.Errorf("failed to finalize recording: %w", err)
	}

	m := d.Metrics()
	fmt.Printf("Done: %d samples routed, %d packets dropped\n", m.SamplesRouted, m.PacketsDropped)
	return nil
}

// parseSensors validates the --sensors list. Battery is implicit: it streams
// whenever the band notifies, without batching.
func parseSensors(names []string) ([]band.SensorType, error) {
	sensors := make([]band.SensorType, 0, len(names))
	for _, name := range names {
		t, err := band.ParseSensorType(name)
		if err != nil {
			return nil, err
		}
		if t == band.SensorBattery {
			continue
		}
		sensors = append(sensors, t)
	}
	if len(sensors) == 0 {
		return nil, fmt.Errorf("no batchable sensors selected")
	}
	return sensors, nil
}

// sensorPolicy resolves the batching policy for one sensor: command-line
// flags first, then the config file's per-sensor defaults, then a one-second
// window.
func sensorPolicy(t band.SensorType, cfg *config.Config) (batch.Policy, bool) {
	if streamWindow > 0 {
		return batch.Window(streamWindow), true
	}
	if streamCount > 0 {
		return batch.Count(streamCount), true
	}

	var sb config.SensorBatch
	switch t {
	case band.SensorEEG:
		sb = cfg.Batches.EEG
	case band.SensorPPG:
		sb = cfg.Batches.PPG
	case band.SensorAccelerometer:
		sb = cfg.Batches.Accel
	default:
		return batch.Policy{}, false
	}
	if p, ok := sb.Policy(); ok {
		return p, true
	}
	return batch.Window(time.Second), true
}

func printBatch(b driver.Batch) {
	c, ok := sensorColors[b.Sensor]
	if !ok {
		c = color.New(color.Reset)
	}
	first := b.Readings[0].Time()
	last := b.Readings[len(b.Readings)-1].Time()
	c.Printf("[%s] %3d samples  %s .. %s\n",
		b.Sensor, len(b.Readings),
		first.Format("15:04:05.000"), last.Format("15:04:05.000"))
}

func printBattery(rd band.Reading) {
	batt, ok := rd.(band.BatteryReading)
	if !ok {
		return
	}
	sensorColors[band.SensorBattery].Printf("[battery] %d%%\n", batt.Level)
}
