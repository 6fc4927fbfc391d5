package event

import (
	"time"

	"github.com/ICKelin/vpnbook/src/vpnbook/catalog"
	"github.com/ICKelin/vpnbook/src/vpnbook/probe"
)

type Kind string

const (
	KindStateChanged Kind = "state_changed"
	KindLatency      Kind = "latency"
	KindRanking      Kind = "ranking"
	KindCredential   Kind = "credential"
	KindNotice       Kind = "notice"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is a snapshot pushed by a producer. It is never modified after
// Push, consumers may keep it.
type Event struct {
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`

	// state_changed
	State  string        `json:"state,omitempty"`
	Reason string        `json:"reason,omitempty"`
	Server catalog.Entry `json:"server,omitempty"`

	// latency: Latency.Reachable false means unknown/N-A
	Latency *probe.Measurement `json:"latency,omitempty"`

	// ranking
	Ranking []probe.Measurement `json:"ranking,omitempty"`

	// credential, notice
	Credential string `json:"credential,omitempty"`
	Level      Level  `json:"level,omitempty"`
	Message    string `json:"message,omitempty"`
}

func StateChanged(state, reason string, server catalog.Entry) Event {
	return Event{Kind: KindStateChanged, At: time.Now(), State: state, Reason: reason, Server: server}
}

func Latency(m probe.Measurement) Event {
	return Event{Kind: KindLatency, At: time.Now(), Server: m.Server, Latency: &m}
}

func Ranking(ms []probe.Measurement) Event {
	return Event{Kind: KindRanking, At: time.Now(), Ranking: append([]probe.Measurement(nil), ms...)}
}

func Credential(credential string) Event {
	return Event{Kind: KindCredential, At: time.Now(), Credential: credential}
}

func Notice(level Level, message string) Event {
	return Event{Kind: KindNotice, At: time.Now(), Level: level, Message: message}
}
