package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ICKelin/vpnbook/src/vpnbook/catalog"
	"github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
)

// fakePinger answers from a table of RTTs; hosts missing from the table are
// unreachable.
type fakePinger struct {
	mu    sync.Mutex
	rtt   map[string]int
	calls map[string]int
	block bool
}

func newFakePinger(rtt map[string]int) *fakePinger {
	return &fakePinger{rtt: rtt, calls: make(map[string]int)}
}

func (f *fakePinger) Ping(ctx context.Context, host string) (string, error) {
	f.mu.Lock()
	f.calls[host]++
	rtt, ok := f.rtt[host]
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if !ok {
		return "Request timed out.", errors.New("exit status 1")
	}
	return fmt.Sprintf("Reply from 1.2.3.4: bytes=32 time=%dms TTL=52", rtt), nil
}

func TestParseRTT(t *testing.T) {
	convey.Convey("test parse ping report", t, func() {
		cases := []struct {
			output string
			rtt    int
			ok     bool
		}{
			{"Reply from 10.0.0.1: bytes=32 time=23ms TTL=118", 23, true},
			{"Réponse de 10.0.0.1 : octets=32 temps=41 ms TTL=118", 41, true},
			{"Reply from 10.0.0.1: bytes=32 time<1ms TTL=128", 1, true},
			{"64 bytes from 10.0.0.1: icmp_seq=1 ttl=57 time=12.6 ms", 13, true},
			{"64 octets de 10.0.0.1 : icmp_seq=1 ttl=57 temps=8,2 ms", 8, true},
			{"Request timed out.", 0, false},
			{"", 0, false},
		}
		for _, c := range cases {
			rtt, ok := parseRTT(c.output)
			convey.So(ok, convey.ShouldEqual, c.ok)
			convey.So(rtt, convey.ShouldEqual, c.rtt)
		}
	})
}

func TestPingArgs(t *testing.T) {
	assert.Equal(t, []string{"-n", "1", "-w", "5000", "h"}, pingArgs("windows", "h", 5))
	assert.Equal(t, []string{"-c", "1", "-W", "5", "h"}, pingArgs("linux", "h", 5))
}

func TestCommandPingerRejectsFlags(t *testing.T) {
	_, err := CommandPinger{}.Ping(context.Background(), "-f")
	assert.NotNil(t, err)
}

func TestBest(t *testing.T) {
	a := catalog.Entry{Region: "France", Host: "a"}
	b := catalog.Entry{Region: "UK", Host: "b"}
	c := catalog.Entry{Region: "USA", Host: "c"}

	convey.Convey("test best measurement", t, func() {
		convey.Convey("strict minimum", func() {
			best, ok := Best([]Measurement{
				{Server: a, RTT: 40, Reachable: true},
				{Server: b, RTT: 12, Reachable: true},
				{Server: c, RTT: 30, Reachable: true},
			})
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(best.Server, convey.ShouldResemble, b)
		})

		convey.Convey("first wins ties", func() {
			best, ok := Best([]Measurement{
				{Server: a, RTT: 20, Reachable: true},
				{Server: b, RTT: 10, Reachable: true},
				{Server: c, RTT: 10, Reachable: true},
			})
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(best.Server, convey.ShouldResemble, b)
		})

		convey.Convey("unreachable never wins", func() {
			best, ok := Best([]Measurement{
				{Server: a, Reachable: false},
				{Server: b, RTT: 99, Reachable: true},
			})
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(best.Server, convey.ShouldResemble, b)
		})

		convey.Convey("all unreachable", func() {
			_, ok := Best([]Measurement{{Server: a}, {Server: b}})
			convey.So(ok, convey.ShouldBeFalse)
			_, ok = Best(nil)
			convey.So(ok, convey.ShouldBeFalse)
		})
	})
}

func TestProberRank(t *testing.T) {
	c := catalog.Catalog{
		{Name: "France", Hosts: []string{"fr1", "fr2"}},
		{Name: "UK", Hosts: []string{"uk1"}},
		{Name: "USA", Hosts: []string{"us1"}},
	}
	pinger := newFakePinger(map[string]int{"fr1": 50, "fr2": 20, "uk1": 20})
	p := NewProber(pinger, time.Second, 2)

	convey.Convey("test prober rank", t, func() {
		ms := p.Rank(context.Background(), c.Entries())
		convey.So(len(ms), convey.ShouldEqual, 4)
		convey.So(ms[0].Server.Host, convey.ShouldEqual, "fr1")
		convey.So(ms[0].RTT, convey.ShouldEqual, 50)
		convey.So(ms[3].Reachable, convey.ShouldBeFalse)

		convey.Convey("fastest follows catalog order on ties", func() {
			best, ok := p.Fastest(context.Background(), c.Entries())
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(best.Server, convey.ShouldResemble, catalog.Entry{Region: "France", Host: "fr2"})
		})

		convey.Convey("latency table keeps the latest value", func() {
			m, ok := p.Latency(catalog.Entry{Region: "UK", Host: "uk1"})
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(m.RTT, convey.ShouldEqual, 20)

			pinger.mu.Lock()
			pinger.rtt["uk1"] = 70
			pinger.mu.Unlock()
			p.MeasureEntry(context.Background(), catalog.Entry{Region: "UK", Host: "uk1"})
			m, _ = p.Latency(catalog.Entry{Region: "UK", Host: "uk1"})
			convey.So(m.RTT, convey.ShouldEqual, 70)
		})

		convey.Convey("snapshot reports unknown entries", func() {
			snap := p.Snapshot([]catalog.Entry{{Region: "X", Host: "never"}})
			convey.So(len(snap), convey.ShouldEqual, 1)
			convey.So(snap[0].Reachable, convey.ShouldBeFalse)
			convey.So(snap[0].String(), convey.ShouldEqual, "X – NEVER (N/A ms)")
		})

		convey.Convey("metrics recorded", func() {
			convey.So(p.Registry().Get("rtt.fr1"), convey.ShouldNotBeNil)
			convey.So(p.Registry().Get("unreachable.us1"), convey.ShouldNotBeNil)
		})
	})
}

func TestProberTimeout(t *testing.T) {
	pinger := newFakePinger(nil)
	pinger.block = true
	p := NewProber(pinger, 20*time.Millisecond, 1)

	start := time.Now()
	_, ok := p.Measure(context.Background(), "slow")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, pinger.calls["slow"])
}

func TestFastestAllUnreachable(t *testing.T) {
	p := NewProber(newFakePinger(nil), time.Second, 4)
	_, ok := p.Fastest(context.Background(), catalog.Default().Entries())
	assert.False(t, ok)
}
