package backend

import (
	"context"
	"sync"

	"github.com/ICKelin/vpnbook/src/internal/logs"
)

// Noop is a dry run backend. It only tracks the session in memory.
type Noop struct {
	mu        sync.Mutex
	address   string
	connected bool
}

func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) Status(ctx context.Context) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected, nil
}

func (n *Noop) EnsureEndpoint(ctx context.Context, address string, opts Options) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	logs.Info("[noop] endpoint %s split tunneling %v", address, opts.SplitTunneling)
	n.address = address
	return nil
}

func (n *Noop) Authenticate(ctx context.Context, identifier, credential string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.address == "" {
		return &Failure{Op: "authenticate", Output: "no connection definition", Err: ErrNoSession}
	}
	logs.Info("[noop] dial %s as %s", n.address, identifier)
	n.connected = true
	return nil
}

func (n *Noop) Disconnect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.connected {
		return &Failure{Op: "disconnect", Output: "no active session", Err: ErrNoSession}
	}
	logs.Info("[noop] hang up %s", n.address)
	n.connected = false
	return nil
}
