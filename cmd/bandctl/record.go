package main

import (
	"github.com/spf13/cobra"
)

// recordCmd represents the record command
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a session to disk",
	Long: `Stream sensor data and record the session to disk.

Identical to 'stream --record'. Each session gets its own directory under
the configured recording root, with per-sensor CSV files and a session
JSON document; --sqlite and --edf add those outputs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		streamRecord = true
		return runStream(cmd, args)
	},
}

func init() {
	addStreamFlags(recordCmd)
}
