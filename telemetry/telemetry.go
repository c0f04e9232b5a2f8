package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the driver.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They should be inexpensive to call because hooks are
// executed inline with every instrument transaction.
type Collector interface {
	IncCommand(target, kind string)
	IncCommandError(target, kind string)
	IncConnect(target string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncCommand(string, string)      {}
func (noopCollector) IncCommandError(string, string) {}
func (noopCollector) IncConnect(string)              {}

// PrometheusCollector exposes driver counters via Prometheus.
type PrometheusCollector struct {
	commands      *prometheus.CounterVec
	commandErrors *prometheus.CounterVec
	connects      *prometheus.CounterVec
}

var (
	commandCounter          *prometheus.CounterVec
	commandCounterLock      sync.Mutex
	commandErrorCounter     *prometheus.CounterVec
	commandErrorCounterLock sync.Mutex
	connectCounter          *prometheus.CounterVec
	connectCounterLock      sync.Mutex
)

// NewPrometheusCollector registers the required metrics with the provided registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	commands, err := registerCounter(reg, &commandCounter, &commandCounterLock, prometheus.CounterOpts{
		Name: "apsynctl_commands_total",
		Help: "Number of commands sent to the instrument, per target and transaction kind.",
	}, []string{"target", "kind"})
	if err != nil {
		return nil, err
	}
	commandErrors, err := registerCounter(reg, &commandErrorCounter, &commandErrorCounterLock, prometheus.CounterOpts{
		Name: "apsynctl_command_errors_total",
		Help: "Number of instrument commands that failed, per target and transaction kind.",
	}, []string{"target", "kind"})
	if err != nil {
		return nil, err
	}
	connects, err := registerCounter(reg, &connectCounter, &connectCounterLock, prometheus.CounterOpts{
		Name: "apsynctl_connects_total",
		Help: "Number of transport connections opened per instrument target.",
	}, []string{"target"})
	if err != nil {
		return nil, err
	}
	return &PrometheusCollector{commands: commands, commandErrors: commandErrors, connects: connects}, nil
}

func registerCounter(reg prometheus.Registerer, cached **prometheus.CounterVec, lock *sync.Mutex, opts prometheus.CounterOpts, labels []string) (*prometheus.CounterVec, error) {
	lock.Lock()
	defer lock.Unlock()
	if *cached != nil {
		return *cached, nil
	}
	counter := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				*cached = existing
				return existing, nil
			}
		}
		return nil, err
	}
	*cached = counter
	return counter, nil
}

// IncCommand counts one transmitted command.
func (c *PrometheusCollector) IncCommand(target, kind string) {
	if c == nil || c.commands == nil {
		return
	}
	c.commands.WithLabelValues(target, kind).Inc()
}

// IncCommandError counts one failed command.
func (c *PrometheusCollector) IncCommandError(target, kind string) {
	if c == nil || c.commandErrors == nil {
		return
	}
	c.commandErrors.WithLabelValues(target, kind).Inc()
}

// IncConnect counts one opened transport connection.
func (c *PrometheusCollector) IncConnect(target string) {
	if c == nil || c.connects == nil {
		return
	}
	c.connects.WithLabelValues(target).Inc()
}
