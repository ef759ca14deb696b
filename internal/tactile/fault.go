package tactile

import "fmt"

// FaultKind classifies why a command did not succeed.
type FaultKind int

const (
	FaultTimeout FaultKind = iota + 1
	FaultNonZeroExit
	FaultPlaceholderUnresolved
	FaultElevation
	FaultInfrastructure
)

func (k FaultKind) String() string {
	switch k {
	case FaultTimeout:
		return "timeout"
	case FaultNonZeroExit:
		return "non_zero_exit"
	case FaultPlaceholderUnresolved:
		return "placeholder_unresolved"
	case FaultElevation:
		return "elevation"
	case FaultInfrastructure:
		return "infrastructure"
	}
	return "unknown"
}

// Fault is a typed execution failure. Message is user-facing.
type Fault struct {
	Kind    FaultKind
	Message string
	Err     error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.Err }
