package health

import (
	"context"
	"errors"
	"fmt"
)

// ComputeStatus is the view of a compute bridge the compute checker needs.
type ComputeStatus interface {
	Initialized() bool
	Active() string
}

// ComputeChecker reports whether HRV and respiratory computations can
// produce results. It is degraded when the answering backend is not
// preferred. A nil status (no running session) counts as healthy.
func ComputeChecker(status func() ComputeStatus, preferred string) Checker {
	return Checker{
		Name: "compute",
		Check: func(context.Context) error {
			s := status()
			if s == nil {
				return nil
			}
			if !s.Initialized() {
				return errors.New("no compute backend loaded")
			}
			if active := s.Active(); active != preferred {
				return fmt.Errorf("%w: using %s instead of %s", ErrDegraded, active, preferred)
			}
			return nil
		},
	}
}

// FuncChecker wraps a plain function as a named checker.
func FuncChecker(name string, fn func() error) Checker {
	return Checker{
		Name:  name,
		Check: func(context.Context) error { return fn() },
	}
}
