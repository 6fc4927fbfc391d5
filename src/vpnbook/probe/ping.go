package probe

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// Pinger sends a single echo request to host and returns the raw report.
// A non nil error means no reply.
type Pinger interface {
	Ping(ctx context.Context, host string) (string, error)
}

// CommandPinger runs the platform ping binary.
type CommandPinger struct {
	// TimeoutSec is passed to ping as the reply wait.
	TimeoutSec int
}

func (p CommandPinger) Ping(ctx context.Context, host string) (string, error) {
	if host == "" || strings.HasPrefix(host, "-") || strings.ContainsAny(host, " \t\r\n") {
		return "", fmt.Errorf("invalid host %q", host)
	}

	wait := p.TimeoutSec
	if wait <= 0 {
		wait = int(DefaultTimeout.Seconds())
	}
	out, err := exec.CommandContext(ctx, "ping", pingArgs(runtime.GOOS, host, wait)...).CombinedOutput()
	return string(out), err
}

func pingArgs(goos, host string, waitSec int) []string {
	if goos == "windows" {
		return []string{"-n", "1", "-w", strconv.Itoa(waitSec * 1000), host}
	}
	return []string{"-c", "1", "-W", strconv.Itoa(waitSec), host}
}

// english "time=12ms", "time<1ms", "time=12.3 ms" and french "temps=12 ms"
var rttPattern = regexp.MustCompile(`(?i)(?:temps|time)\s*[=<]\s*<?\s*(\d+(?:[.,]\d+)?)\s*ms`)

func parseRTT(output string) (int, bool) {
	match := rttPattern.FindStringSubmatch(output)
	if len(match) < 2 {
		return 0, false
	}

	value, err := strconv.ParseFloat(strings.Replace(match[1], ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return int(math.Round(value)), true
}
