package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/bandlink/internal/band"
	"github.com/srg/bandlink/internal/packet"
)

// decodeCmd represents the decode command
var decodeCmd = &cobra.Command{
	Use:   "decode <sensor> [hex-payload]",
	Short: "Decode a captured packet offline",
	Long: `Decode a raw notification payload without a device.

The payload is hex-encoded (whitespace and colons ignored), given as an
argument or piped on stdin, one packet per line. Useful for inspecting
packet captures and verifying firmware changes.

Examples:
  bandctl decode eeg 00e0f405...
  cat capture.txt | bandctl decode ppg`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDecode,
}

var decodeFormat string

func init() {
	decodeCmd.Flags().StringVarP(&decodeFormat, "format", "f", "json", "Output format (json, summary)")
}

func runDecode(cmd *cobra.Command, args []string) error {
	sensor, err := band.ParseSensorType(args[0])
	if err != nil {
		return err
	}
	if decodeFormat != "json" && decodeFormat != "summary" {
		return fmt.Errorf("invalid format '%s': must be one of [json summary]", decodeFormat)
	}

	cmd.SilenceUsage = true

	dec := packet.NewDecoder(band.DefaultHardware())

	if len(args) == 2 {
		return decodeOne(dec, sensor, args[1])
	}

	// No payload argument: read packets line by line from stdin.
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := decodeOne(dec, sensor, line); err != nil {
			fmt.Fprintf(os.Stderr, "WARN: %s\n", err)
		}
	}
	return scanner.Err()
}

func decodeOne(dec *packet.Decoder, sensor band.SensorType, payload string) error {
	data, err := parseHexPayload(payload)
	if err != nil {
		return err
	}

	readings, err := dec.Decode(sensor, data, time.Now())
	if err != nil {
		return err
	}

	if decodeFormat == "summary" {
		first := readings[0].Time()
		last := readings[len(readings)-1].Time()
		fmt.Printf("%s: %d samples, %s .. %s\n",
			sensor, len(readings),
			first.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
		return nil
	}
	return writeReadingsJSON(os.Stdout, readings)
}

// parseHexPayload decodes a hex string, tolerating separators commonly found
// in captures (spaces, colons, dashes).
func parseHexPayload(s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', ':', '-':
			return -1
		}
		return r
	}, s)

	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return data, nil
}

func writeReadingsJSON(w io.Writer, readings []band.Reading) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(readings)
}
