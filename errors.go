package taskcache

import (
	"errors"
	"fmt"
	"strings"
)

// ErrContractViolation marks calls missing something the operation requires.
var ErrContractViolation = errors.New("taskcache: contract violation")

type ContractViolation struct {
	Op      string
	Missing string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("taskcache: %s: %s is required", e.Op, e.Missing)
}

func (e *ContractViolation) Is(target error) bool { return target == ErrContractViolation }

// FlushDecodeError aborts a drain: an entry of the drain hash could not be
// decoded. The drain key is left in place.
type FlushDecodeError struct {
	TypeName string
	DrainKey string
	UID      string
	Err      error
}

func (e *FlushDecodeError) Error() string {
	return fmt.Sprintf("flush %s: decode %q in %s: %v", e.TypeName, e.UID, e.DrainKey, e.Err)
}

func (e *FlushDecodeError) Unwrap() error { return e.Err }

type ListenerFailure struct {
	Index int
	Err   error
}

// NotificationError collects the listeners that failed during one Emit.
// Every listener ran; Failures lists those that returned an error or panicked.
type NotificationError struct {
	TypeName string
	UID      string
	Failures []ListenerFailure
}

func (e *NotificationError) Error() string {
	switch len(e.Failures) {
	case 0:
		return fmt.Sprintf("notify %s %q: unknown error", e.TypeName, e.UID)
	case 1:
		f := e.Failures[0]
		return fmt.Sprintf("notify %s %q: listener %d: %v", e.TypeName, e.UID, f.Index, f.Err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "notify %s %q: %d listeners failed:", e.TypeName, e.UID, len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&b, " [%d] %v;", f.Index, f.Err)
	}
	return strings.TrimSuffix(b.String(), ";")
}

func (e *NotificationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

func required(op, what string) error {
	return &ContractViolation{Op: op, Missing: what}
}
