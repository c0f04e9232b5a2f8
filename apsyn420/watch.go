package apsyn420

import (
	"context"
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// CompileCondition compiles a watch condition. Conditions see the readable
// parameters by name (frequency as a number, on/off parameters as booleans,
// enumerated parameters as their alias labels) plus "locked" for the
// reference oscillator state.
func CompileCondition(condition string) (*vm.Program, error) {
	return expr.Compile(condition, expr.Env(map[string]interface{}{}), expr.AllowUndefinedVariables())
}

// WaitFor polls the instrument until the condition evaluates to true. The
// poll repeats at the given interval with no internal timeout; cancellation
// comes from ctx.
func (i *Instrument) WaitFor(ctx context.Context, condition string, interval time.Duration) error {
	program, err := CompileCondition(condition)
	if err != nil {
		return fmt.Errorf("compile condition %q: %w", condition, err)
	}
	if interval <= 0 {
		interval = lockPollInterval
	}
	for {
		env, err := i.Snapshot()
		if err != nil {
			return err
		}
		result, err := expr.Run(program, env)
		if err != nil {
			return fmt.Errorf("evaluate condition %q: %w", condition, err)
		}
		if satisfied, ok := result.(bool); ok && satisfied {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Snapshot queries every readable parameter and returns the typed values
// keyed by parameter name, plus the reference lock state under "locked".
func (i *Instrument) Snapshot() (map[string]interface{}, error) {
	frequency, err := i.Frequency()
	if err != nil {
		return nil, err
	}
	env := map[string]interface{}{"frequency": frequency}

	for _, name := range []string{"output", "blanking", "pulm_state"} {
		value, err := i.getBool(name)
		if err != nil {
			return nil, err
		}
		env[name] = value
	}
	for _, name := range []string{"pulm_polarity", "pulm_source"} {
		value, err := i.Get(name)
		if err != nil {
			return nil, err
		}
		env[name] = value
	}
	locked, err := i.Locked()
	if err != nil {
		return nil, err
	}
	env["locked"] = locked
	return env, nil
}
