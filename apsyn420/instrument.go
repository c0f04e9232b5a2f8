// Package apsyn420 drives the AnaPico APSYN420 signal generator. The
// instrument's configuration registers are exposed as named parameters with
// typed accessors; every access is one SCPI transaction handled by the scpi
// session layer.
package apsyn420

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/timzifer/apsynctl/config"
	"github.com/timzifer/apsynctl/scpi"
	"github.com/timzifer/apsynctl/telemetry"
	"github.com/timzifer/apsynctl/visa"
)

const lockPollInterval = time.Second

// Instrument is a driver handle for one APSYN420. It assumes exclusive
// single-caller use; concurrent access must be serialized externally.
type Instrument struct {
	session *scpi.Session
	logger  zerolog.Logger
	params  map[string]Parameter
}

// Option customises instrument construction.
type Option func(*options)

type options struct {
	dial      visa.DialFunc
	collector telemetry.Collector
	probe     bool
}

// WithDialer replaces the default TCP transport.
func WithDialer(dial visa.DialFunc) Option {
	return func(o *options) {
		o.dial = dial
	}
}

// WithCollector wires a telemetry collector into the session.
func WithCollector(collector telemetry.Collector) Option {
	return func(o *options) {
		o.collector = collector
	}
}

// WithoutProbe skips the initial FREQ? round trip.
func WithoutProbe() Option {
	return func(o *options) {
		o.probe = false
	}
}

// New connects to the instrument described by cfg. The connection mode is
// fixed by cfg.PerCommand. A FREQ? probe verifies the device is reachable; in
// per-command mode the probe's connection is released afterwards.
func New(cfg config.InstrumentConfig, logger zerolog.Logger, opts ...Option) (*Instrument, error) {
	o := options{probe: true, collector: telemetry.Noop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dial == nil {
		o.dial = visa.NewTCPDialer(cfg.Timeout.Duration)
	}

	mode := scpi.Persistent
	if cfg.PerCommand {
		mode = scpi.PerCommand
	}
	sessionOpts := []scpi.Option{scpi.WithCollector(o.collector)}
	if cfg.StrictRelease {
		sessionOpts = append(sessionOpts, scpi.WithStrictRelease())
	}
	session, err := scpi.NewSessionWith(cfg.Address, mode, o.dial, logger, sessionOpts...)
	if err != nil {
		return nil, err
	}

	inst := &Instrument{
		session: session,
		logger:  logger.With().Str("instrument", "apsyn420").Str("target", cfg.Address).Logger(),
		params:  defaultParameters(),
	}

	if o.probe {
		if _, err := session.Query("FREQ?"); err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("probe instrument: %w", err)
		}
		if mode == scpi.PerCommand && !cfg.StrictRelease {
			if err := session.Close(); err != nil {
				return nil, fmt.Errorf("release probe connection: %w", err)
			}
		}
	}
	return inst, nil
}

// Close releases the instrument connection.
func (i *Instrument) Close() error {
	return i.session.Close()
}

// UsePerCommand switches the underlying session to per-command connections.
func (i *Instrument) UsePerCommand() error {
	return i.session.UsePerCommand()
}

// UsePersistent switches the underlying session to one long-lived connection.
func (i *Instrument) UsePersistent() error {
	return i.session.UsePersistent()
}

// Frequency reads the output frequency in Hz.
func (i *Instrument) Frequency() (float64, error) {
	value, err := i.Get("frequency")
	if err != nil {
		return 0, err
	}
	hz, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse frequency reply %q: %w", value, err)
	}
	return hz, nil
}

// SetFrequency programs the output frequency in Hz. The instrument accepts
// millihertz resolution, so the value is formatted with three decimals.
func (i *Instrument) SetFrequency(hz float64) error {
	return i.Set("frequency", decimal.NewFromFloat(hz).StringFixed(3))
}

// Output reads the RF output enable state.
func (i *Instrument) Output() (bool, error) {
	return i.getBool("output")
}

// SetOutput programs the RF output enable state.
func (i *Instrument) SetOutput(on bool) error {
	return i.setBool("output", on)
}

// RFOn enables the RF output.
func (i *Instrument) RFOn() error {
	return i.SetOutput(true)
}

// RFOff disables the RF output.
func (i *Instrument) RFOff() error {
	return i.SetOutput(false)
}

// Blanking reads the output blanking state.
func (i *Instrument) Blanking() (bool, error) {
	return i.getBool("blanking")
}

// SetBlanking programs the output blanking state.
func (i *Instrument) SetBlanking(on bool) error {
	return i.setBool("blanking", on)
}

// PulseModulation reads the pulse modulation state.
func (i *Instrument) PulseModulation() (bool, error) {
	return i.getBool("pulm_state")
}

// SetPulseModulation programs the pulse modulation state.
func (i *Instrument) SetPulseModulation(on bool) error {
	return i.setBool("pulm_state", on)
}

// PulsePolarity reads the pulse modulation input polarity, "Normal" or
// "Inverted".
func (i *Instrument) PulsePolarity() (string, error) {
	return i.Get("pulm_polarity")
}

// SetPulsePolarity programs the pulse modulation input polarity.
func (i *Instrument) SetPulsePolarity(polarity string) error {
	return i.Set("pulm_polarity", polarity)
}

// PulseSource reads the pulse modulation source, "Internal" or "External".
func (i *Instrument) PulseSource() (string, error) {
	return i.Get("pulm_source")
}

// SetPulseSource programs the pulse modulation source.
func (i *Instrument) SetPulseSource(source string) error {
	return i.Set("pulm_source", source)
}

// Identify returns the instrument identification string.
func (i *Instrument) Identify() (string, error) {
	return i.session.Query("*IDN?")
}

// Reset restores the instrument's default settings.
func (i *Instrument) Reset() error {
	return i.session.Send("*RST")
}

// Locked reports whether the reference oscillator is locked.
func (i *Instrument) Locked() (bool, error) {
	reply, err := i.session.Query("ROSC:LOCK?")
	if err != nil {
		return false, err
	}
	locked, err := strconv.Atoi(strings.TrimSpace(reply))
	if err != nil {
		return false, fmt.Errorf("parse lock reply %q: %w", reply, err)
	}
	return locked == 1, nil
}

// SetExternalReference switches the reference oscillator to the external
// input at the given frequency, enables the reference output and blocks until
// the oscillator reports lock, polling once per second. There is no internal
// timeout; pass a ctx with a deadline to bound the wait.
func (i *Instrument) SetExternalReference(ctx context.Context, frequencyHz float64) error {
	i.logger.Debug().Float64("frequency", frequencyHz).Msg("setting the oscillator source to external")
	commands := []string{
		"ROSC:SOUR EXT",
		fmt.Sprintf("ROSC:EXT:FREQ %d", int64(frequencyHz)),
		"ROSC:OUTP:STATE 1",
		fmt.Sprintf("ROSC:OUTP:FREQ %d", int64(frequencyHz)),
	}
	for _, cmd := range commands {
		if err := i.session.Send(cmd); err != nil {
			return err
		}
	}
	for {
		locked, err := i.Locked()
		if err != nil {
			return err
		}
		if locked {
			return nil
		}
		i.logger.Info().Msg("waiting for reference lock")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (i *Instrument) getBool(name string) (bool, error) {
	value, err := i.Get(name)
	if err != nil {
		return false, err
	}
	switch value {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("parameter %s: unexpected reply %q", name, value)
	}
}

func (i *Instrument) setBool(name string, on bool) error {
	if on {
		return i.Set(name, "on")
	}
	return i.Set(name, "off")
}
