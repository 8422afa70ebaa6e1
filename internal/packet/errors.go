package packet

import (
	"errors"
	"fmt"

	"github.com/srg/bandlink/internal/band"
)

// ErrParse is the sentinel for all packet decoding failures. Use
// errors.Is(err, ErrParse) to distinguish malformed packets from other
// failures; they are always recoverable and must never terminate a stream.
var ErrParse = errors.New("data parsing failed")

// ParseError reports a structurally invalid sensor packet.
type ParseError struct {
	Sensor band.SensorType
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s packet parsing failed: %s", e.Sensor, e.Reason)
}

// Is allows errors.Is comparison against ErrParse.
func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func parseErrorf(sensor band.SensorType, format string, args ...interface{}) *ParseError {
	return &ParseError{Sensor: sensor, Reason: fmt.Sprintf(format, args...)}
}
