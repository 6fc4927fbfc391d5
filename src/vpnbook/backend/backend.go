package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Options for the managed connection definition.
type Options struct {
	SplitTunneling bool
}

// Backend drives the tunnel owned by the operating system. It manages a
// single named connection.
type Backend interface {
	// Status reports whether the named session is active.
	Status(ctx context.Context) (bool, error)
	// EnsureEndpoint creates the connection definition or repoints it to address.
	EnsureEndpoint(ctx context.Context, address string, opts Options) error
	// Authenticate dials the connection with the credential.
	Authenticate(ctx context.Context, identifier, credential string) error
	Disconnect(ctx context.Context) error
}

var ErrNoSession = errors.New("no active session")

// Failure is a non zero exit of a backend command. Output keeps the raw
// combined output.
type Failure struct {
	Op     string
	Output string
	Err    error
}

func (f *Failure) Error() string {
	out := strings.TrimSpace(f.Output)
	if out == "" {
		return fmt.Sprintf("%s: %v", f.Op, f.Err)
	}
	return fmt.Sprintf("%s: %v: %s", f.Op, f.Err, out)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

type Reason string

const (
	ReasonSaturated     Reason = "saturated"
	ReasonSessionFailed Reason = "session_failed"
	ReasonGeneric       Reason = "generic"
)

// Classification is the cause of a failed connect attempt.
type Classification struct {
	Reason Reason
	// Output is the raw backend output, kept verbatim.
	Output string
}

func (c Classification) String() string {
	switch c.Reason {
	case ReasonSaturated:
		return "error 807: endpoint saturated"
	case ReasonSessionFailed:
		return "error 619: session establishment failed"
	default:
		return "error: " + c.Output
	}
}

// Classify maps raw backend output to a known cause.
func Classify(output string) Classification {
	switch {
	case strings.Contains(output, "807"):
		return Classification{Reason: ReasonSaturated, Output: output}
	case strings.Contains(output, "619"):
		return Classification{Reason: ReasonSessionFailed, Output: output}
	default:
		return Classification{Reason: ReasonGeneric, Output: output}
	}
}

// ClassifyError classifies err, using the Failure output when there is one.
func ClassifyError(err error) Classification {
	f := &Failure{}
	if errors.As(err, &f) {
		output := f.Output
		if strings.TrimSpace(output) == "" && f.Err != nil {
			output = f.Err.Error()
		}
		return Classify(output)
	}
	return Classify(err.Error())
}
