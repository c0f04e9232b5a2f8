// Package scpi implements the command/response transaction layer shared by
// SCPI instrument drivers. A Session turns logical write and query operations
// into transport round trips and manages the connection lifetime according to
// its configured mode.
package scpi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/timzifer/apsynctl/telemetry"
	"github.com/timzifer/apsynctl/visa"
)

// ConnectionMode selects how a Session manages its transport handle.
type ConnectionMode int

const (
	// Persistent keeps one connection open for the lifetime of the Session.
	Persistent ConnectionMode = iota
	// PerCommand opens a fresh connection for each command and releases it
	// when the command completes.
	PerCommand
)

func (m ConnectionMode) String() string {
	switch m {
	case Persistent:
		return "persistent"
	case PerCommand:
		return "per_command"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// CommandError reports a device status code returned while executing a command.
type CommandError struct {
	Command string
	Code    int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed with device status code %d", e.Command, e.Code)
}

// Session is a single-caller transaction layer over one instrument
// connection. It is not safe for concurrent use.
type Session struct {
	address   string
	mode      ConnectionMode
	dial      visa.DialFunc
	handle    visa.Handle
	logger    zerolog.Logger
	collector telemetry.Collector

	// strictRelease closes the handle after per-command queries as well.
	// The reference driver leaves it open; see Query.
	strictRelease bool
}

// Option customises a Session at construction time.
type Option func(*Session)

// WithCollector wires a telemetry collector into the session.
func WithCollector(collector telemetry.Collector) Option {
	return func(s *Session) {
		if collector != nil {
			s.collector = collector
		}
	}
}

// WithStrictRelease makes per-command queries release their connection before
// returning, the same discipline Send already follows. The reference behavior
// keeps the connection open after a query.
func WithStrictRelease() Option {
	return func(s *Session) {
		s.strictRelease = true
	}
}

// NewSession opens a transaction layer for the instrument at address. In
// Persistent mode the connection is dialed immediately; in PerCommand mode
// dialing is deferred until the first command. A nil dial falls back to the
// plain TCP transport.
func NewSession(address string, mode ConnectionMode, dial visa.DialFunc, logger zerolog.Logger) (*Session, error) {
	return NewSessionWith(address, mode, dial, logger)
}

// NewSessionWith is NewSession with additional options.
func NewSessionWith(address string, mode ConnectionMode, dial visa.DialFunc, logger zerolog.Logger, opts ...Option) (*Session, error) {
	if address == "" {
		return nil, errors.New("instrument address must not be empty")
	}
	if mode != Persistent && mode != PerCommand {
		return nil, fmt.Errorf("unsupported connection mode %s", mode)
	}
	if dial == nil {
		dial = visa.NewTCPDialer(0)
	}
	session := &Session{
		address:   address,
		mode:      mode,
		dial:      dial,
		logger:    logger.With().Str("target", address).Logger(),
		collector: telemetry.Noop(),
	}
	for _, opt := range opts {
		opt(session)
	}
	if mode == Persistent {
		if _, err := session.acquire(); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// Mode reports the active connection mode.
func (s *Session) Mode() ConnectionMode {
	return s.mode
}

// UsePerCommand switches the session to per-command connection handling. A
// held connection is released. Calling it while already in PerCommand mode is
// a no-op.
func (s *Session) UsePerCommand() error {
	if s.mode == PerCommand {
		return nil
	}
	s.mode = PerCommand
	return s.release()
}

// UsePersistent switches the session to a single long-lived connection,
// dialing one if none is open. Calling it while already in Persistent mode is
// a no-op.
func (s *Session) UsePersistent() error {
	if s.mode == Persistent {
		return nil
	}
	s.mode = Persistent
	_, err := s.acquire()
	return err
}

// Send transmits a single command without reading a reply. In PerCommand mode
// the connection is released before Send returns, on every path.
func (s *Session) Send(cmd string) error {
	if err := checkCommand(cmd); err != nil {
		return err
	}
	s.logger.Debug().Str("command", cmd).Msg("writing to instrument")
	s.collector.IncCommand(s.address, "write")

	handle, err := s.acquire()
	if err != nil {
		s.collector.IncCommandError(s.address, "write")
		return err
	}
	err = handle.Write(cmd)
	if s.mode == PerCommand {
		if closeErr := s.release(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	if err != nil {
		s.collector.IncCommandError(s.address, "write")
		return wrapStatus(cmd, err)
	}
	return nil
}

// Query transmits a command and returns the decoded reply.
//
// In PerCommand mode a successful query deliberately leaves the connection
// open, mirroring the reference driver; the next command reuses it. A failed
// query releases the connection. WithStrictRelease restores the symmetric
// close-after-use discipline.
func (s *Session) Query(cmd string) (string, error) {
	if err := checkCommand(cmd); err != nil {
		return "", err
	}
	s.logger.Debug().Str("command", cmd).Msg("querying instrument")
	s.collector.IncCommand(s.address, "query")

	handle, err := s.acquire()
	if err != nil {
		s.collector.IncCommandError(s.address, "query")
		return "", err
	}
	reply, err := handle.Query(cmd)
	if err != nil {
		if s.mode == PerCommand {
			_ = s.release()
		}
		s.collector.IncCommandError(s.address, "query")
		return "", wrapStatus(cmd, err)
	}
	if s.mode == PerCommand && s.strictRelease {
		if err := s.release(); err != nil {
			return "", err
		}
	}
	return reply, nil
}

// Close releases the connection if one is held. In Persistent mode this is
// the single teardown matching the dial performed at construction.
func (s *Session) Close() error {
	return s.release()
}

func (s *Session) acquire() (visa.Handle, error) {
	if s.handle != nil {
		return s.handle, nil
	}
	handle, err := s.dial(s.address)
	if err != nil {
		return nil, err
	}
	s.collector.IncConnect(s.address)
	s.handle = handle
	return handle, nil
}

func (s *Session) release() error {
	if s.handle == nil {
		return nil
	}
	err := s.handle.Close()
	s.handle = nil
	return err
}

func wrapStatus(cmd string, err error) error {
	var status *visa.StatusError
	if errors.As(err, &status) {
		return &CommandError{Command: cmd, Code: status.Code}
	}
	return err
}

func checkCommand(cmd string) error {
	if cmd == "" {
		return errors.New("command must not be empty")
	}
	if strings.ContainsAny(cmd, "\r\n") {
		return fmt.Errorf("command %q must not contain a line terminator", cmd)
	}
	return nil
}
