package backend

import (
	"context"
	"os/exec"
)

// Runner executes one command with argv semantics, no shell involved.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}
