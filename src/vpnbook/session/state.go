package session

import (
	"errors"

	"github.com/ICKelin/vpnbook/src/vpnbook/catalog"
)

// Phase is the coarse connection lifecycle:
//
//	disconnected  -> connecting
//	connecting    -> connected | failed
//	connected     -> disconnecting
//	disconnecting -> disconnected | connected
//	failed        -> disconnected
//
// disconnecting -> connected is taken when the backend refuses to hang up.
type Phase string

const (
	PhaseDisconnected  Phase = "disconnected"
	PhaseConnecting    Phase = "connecting"
	PhaseConnected     Phase = "connected"
	PhaseDisconnecting Phase = "disconnecting"
	PhaseFailed        Phase = "failed"
)

// State is a read-only copy of the orchestrator state.
type State struct {
	Phase  Phase         `json:"phase"`
	Reason string        `json:"reason,omitempty"`
	Server catalog.Entry `json:"server"`
}

var ErrInvalidTransition = errors.New("invalid connection state transition")

func allowedTransition(cur, next Phase) bool {
	switch cur {
	case PhaseDisconnected:
		return next == PhaseConnecting
	case PhaseConnecting:
		return next == PhaseConnected || next == PhaseFailed
	case PhaseConnected:
		return next == PhaseDisconnecting
	case PhaseDisconnecting:
		return next == PhaseDisconnected || next == PhaseConnected
	case PhaseFailed:
		return next == PhaseDisconnected
	default:
		return false
	}
}
