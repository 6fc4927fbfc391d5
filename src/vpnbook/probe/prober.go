package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ICKelin/vpnbook/src/internal/logs"
	"github.com/ICKelin/vpnbook/src/vpnbook/catalog"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTimeout     = 5 * time.Second
	DefaultConcurrency = 4
)

// Measurement is the latest RTT of one server. Reachable false is the
// unknown value, RTT is meaningless then.
type Measurement struct {
	Server    catalog.Entry `json:"server"`
	RTT       int           `json:"rtt_ms"`
	Reachable bool          `json:"reachable"`
}

func (m Measurement) String() string {
	if !m.Reachable {
		return fmt.Sprintf("%s (N/A ms)", m.Server.Label())
	}
	return fmt.Sprintf("%s (%d ms)", m.Server.Label(), m.RTT)
}

// Prober measures RTT to catalog entries and keeps the latest value per
// entry. Entries are written independently, the last writer wins.
type Prober struct {
	pinger      Pinger
	timeout     time.Duration
	concurrency int

	tableMu sync.RWMutex
	table   map[catalog.Entry]Measurement

	registry metrics.Registry
}

func NewProber(pinger Pinger, timeout time.Duration, concurrency int) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Prober{
		pinger:      pinger,
		timeout:     timeout,
		concurrency: concurrency,
		table:       make(map[catalog.Entry]Measurement),
		registry:    metrics.NewRegistry(),
	}
}

// Measure sends one probe to host. Any failure, timeout included, is
// reported as unreachable and never retried here.
func (p *Prober) Measure(ctx context.Context, host string) (int, bool) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	output, err := p.pinger.Ping(ctx, host)
	if err != nil {
		logs.Debug("ping %s fail: %v", host, err)
		metrics.GetOrRegisterCounter("unreachable."+host, p.registry).Inc(1)
		return 0, false
	}

	rtt, ok := parseRTT(output)
	if !ok {
		logs.Debug("ping %s: no rtt in report", host)
		metrics.GetOrRegisterCounter("unreachable."+host, p.registry).Inc(1)
		return 0, false
	}

	metrics.GetOrRegisterHistogram("rtt."+host, p.registry,
		metrics.NewExpDecaySample(1028, 0.015)).Update(int64(rtt))
	return rtt, true
}

// MeasureEntry measures one entry and records the result in the table.
func (p *Prober) MeasureEntry(ctx context.Context, entry catalog.Entry) Measurement {
	rtt, ok := p.Measure(ctx, entry.Host)
	m := Measurement{Server: entry, RTT: rtt, Reachable: ok}

	p.tableMu.Lock()
	p.table[entry] = m
	p.tableMu.Unlock()
	return m
}

// Rank probes every entry in parallel and reports all of them, reachable
// or not, in the order given.
func (p *Prober) Rank(ctx context.Context, entries []catalog.Entry) []Measurement {
	results := make([]Measurement, len(entries))

	g := errgroup.Group{}
	g.SetLimit(p.concurrency)
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			results[i] = p.MeasureEntry(ctx, entry)
			return nil
		})
	}
	_ = g.Wait()

	for _, m := range results {
		logs.Debug("%s", m)
	}
	return results
}

// Fastest ranks entries and returns the lowest RTT.
func (p *Prober) Fastest(ctx context.Context, entries []catalog.Entry) (Measurement, bool) {
	return Best(p.Rank(ctx, entries))
}

// Best returns the reachable measurement with the lowest RTT. The scan uses
// strict less-than so the first one wins ties.
func Best(measurements []Measurement) (Measurement, bool) {
	best := Measurement{}
	found := false
	for _, m := range measurements {
		if !m.Reachable {
			continue
		}
		if !found || m.RTT < best.RTT {
			best = m
			found = true
		}
	}
	return best, found
}

// Latency returns the latest recorded measurement for entry.
func (p *Prober) Latency(entry catalog.Entry) (Measurement, bool) {
	p.tableMu.RLock()
	defer p.tableMu.RUnlock()
	m, ok := p.table[entry]
	return m, ok
}

// Snapshot returns the table values for entries, in order. Entries never
// measured are reported unreachable.
func (p *Prober) Snapshot(entries []catalog.Entry) []Measurement {
	p.tableMu.RLock()
	defer p.tableMu.RUnlock()

	out := make([]Measurement, 0, len(entries))
	for _, entry := range entries {
		m, ok := p.table[entry]
		if !ok {
			m = Measurement{Server: entry}
		}
		out = append(out, m)
	}
	return out
}

func (p *Prober) Registry() metrics.Registry {
	return p.registry
}
