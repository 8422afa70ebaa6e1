package main

import (
	"context"
	"errors"
	"strings"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the BLE connection was unexpectedly lost
	// during operation, as opposed to never having connected at all.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns an error chain into a single readable line for the
// terminal, stripping wrapper noise a user cannot act on.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out - is the band in range and powered on?"
	case errors.Is(err, ErrConnectionLost):
		return "connection to the band was lost"
	}

	msg := err.Error()
	// Drop the leading "failed to X: " wrappers, keep the root cause readable.
	if idx := strings.LastIndex(msg, ": "); idx >= 0 && idx+2 < len(msg) {
		root := msg[idx+2:]
		if strings.Contains(strings.ToLower(root), "bluetooth") {
			return root
		}
	}
	return msg
}
