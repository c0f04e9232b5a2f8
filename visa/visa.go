// Package visa provides byte-stream transports for SCPI instruments.
//
// A Handle represents one open duplex connection to a device. Handles are not
// safe for concurrent use; callers that share an instrument must serialize
// access themselves.
package visa

import "fmt"

// Handle is an open connection to an instrument.
type Handle interface {
	// Write transmits a single command. The transport appends its write
	// terminator; the command itself must not contain one.
	Write(cmd string) error
	// Query transmits a command and blocks until the device replies. The
	// returned string has the transport's framing stripped.
	Query(cmd string) (string, error)
	Close() error
}

// DialFunc opens a Handle for the given device address.
type DialFunc func(address string) (Handle, error)

// StatusError reports a device status code returned by a write. Transports
// that can observe instrument status surface it through this type so callers
// can distinguish device-side failures from plain I/O errors.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("device returned status code %d", e.Code)
}
