package event

import (
	"errors"
	"fmt"
)

var (
	// ErrDecodingViolation marks a handler reading a parameter its event does not carry
	// in the requested shape. It is never transient.
	ErrDecodingViolation = errors.New("decoding contract violation")

	// ErrUnknownEvent is returned when no registered signature matches a log's topic0.
	ErrUnknownEvent = errors.New("unknown event")
)

// ParamError describes a failed parameter access.
type ParamError struct {
	Event    string
	Name     string
	Want     ValueKind
	WantBits int
	Got      ValueKind
	GotBits  int
	Missing  bool
	Reason   string
}

func (e *ParamError) Error() string {
	switch {
	case e.Missing:
		return fmt.Sprintf("%s: parameter %q is missing", e.Event, e.Name)
	case e.Reason != "":
		return fmt.Sprintf("%s: parameter %q: %s", e.Event, e.Name, e.Reason)
	default:
		return fmt.Sprintf("%s: parameter %q is %s, accessed as %s",
			e.Event, e.Name, describe(e.Got, e.GotBits), describe(e.Want, e.WantBits))
	}
}

func (e *ParamError) Unwrap() error {
	return ErrDecodingViolation
}

func describe(kind ValueKind, bits int) string {
	if bits > 0 {
		return fmt.Sprintf("%s%d", kind, bits)
	}
	return kind.String()
}

// RecoverParamError turns a *ParamError panic raised by a Params accessor into *errp.
// Any other panic is re-raised. Use it as a deferred call around handler code.
func RecoverParamError(errp *error) {
	r := recover()
	if r == nil {
		return
	}

	paramErr, ok := r.(*ParamError)
	if !ok {
		panic(r)
	}
	*errp = paramErr
}
