package backend

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ICKelin/vpnbook/src/internal/logs"
)

var addressPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.\-:]*$`)

// Rasdial drives a Windows PPTP connection with rasdial and the
// VpnClient PowerShell cmdlets.
type Rasdial struct {
	name   string
	runner Runner
}

func NewRasdial(connectionName string) *Rasdial {
	return &Rasdial{name: connectionName, runner: execRunner{}}
}

func (r *Rasdial) Status(ctx context.Context) (bool, error) {
	out, err := r.runner.Output(ctx, "rasdial")
	if err != nil {
		return false, &Failure{Op: "status", Output: out, Err: err}
	}
	return strings.Contains(out, r.name), nil
}

func (r *Rasdial) EnsureEndpoint(ctx context.Context, address string, opts Options) error {
	if !addressPattern.MatchString(address) {
		return fmt.Errorf("invalid server address %q", address)
	}

	split := "$false"
	if opts.SplitTunneling {
		split = "$true"
	}

	_, err := r.powershell(ctx, fmt.Sprintf("Get-VpnConnection -Name %s", quote(r.name)))
	if err == nil {
		logs.Debug("connection %s exists, set server %s", r.name, address)
		out, err := r.powershell(ctx, fmt.Sprintf(
			"Set-VpnConnection -Name %s -ServerAddress %s -SplitTunneling %s -Force",
			quote(r.name), quote(address), split))
		if err != nil {
			return &Failure{Op: "set endpoint", Output: out, Err: err}
		}
		return nil
	}

	logs.Debug("add connection %s to %s", r.name, address)
	out, err := r.powershell(ctx, fmt.Sprintf(
		"Add-VpnConnection -Name %s -ServerAddress %s -TunnelType Pptp "+
			"-AuthenticationMethod MSChapv2 -EncryptionLevel Optional -SplitTunneling %s -Force",
		quote(r.name), quote(address), split))
	if err != nil {
		return &Failure{Op: "add endpoint", Output: out, Err: err}
	}
	return nil
}

func (r *Rasdial) Authenticate(ctx context.Context, identifier, credential string) error {
	out, err := r.runner.Output(ctx, "rasdial", r.name, identifier, credential)
	if err != nil {
		return &Failure{Op: "authenticate", Output: out, Err: err}
	}
	return nil
}

func (r *Rasdial) Disconnect(ctx context.Context) error {
	out, err := r.runner.Output(ctx, "rasdial", r.name, "/disconnect")
	if err != nil {
		return &Failure{Op: "disconnect", Output: out, Err: err}
	}
	return nil
}

func (r *Rasdial) powershell(ctx context.Context, command string) (string, error) {
	return r.runner.Output(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", command)
}

// quote makes a PowerShell single quoted literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
