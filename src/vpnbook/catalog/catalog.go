package catalog

import (
	"fmt"
	"strings"
)

// Entry is one candidate endpoint. It is comparable and identified by
// (Region, Host).
type Entry struct {
	Region string `yaml:"region" json:"region"`
	Host   string `yaml:"host" json:"host"`
}

// Short returns the first DNS label of the host in upper case, "FR200"
// for "fr200.vpnbook.com".
func (e Entry) Short() string {
	return strings.ToUpper(strings.SplitN(e.Host, ".", 2)[0])
}

// Label is the human readable name used for selection, "France – FR200".
func (e Entry) Label() string {
	return fmt.Sprintf("%s – %s", e.Region, e.Short())
}

func (e Entry) String() string {
	return fmt.Sprintf("region[%s] %s", e.Region, e.Host)
}

func (e Entry) IsZero() bool {
	return e.Host == ""
}

type Region struct {
	Name  string   `yaml:"region" json:"region"`
	Hosts []string `yaml:"hosts" json:"hosts"`
}

// Catalog is the ordered region list. Declaration order is the iteration
// order used everywhere, including tie breaks on equal latency.
type Catalog []Region

func (c Catalog) Entries() []Entry {
	entries := make([]Entry, 0)
	for _, region := range c {
		for _, host := range region.Hosts {
			entries = append(entries, Entry{Region: region.Name, Host: host})
		}
	}
	return entries
}

// Lookup finds an entry by its Label.
func (c Catalog) Lookup(label string) (Entry, bool) {
	label = strings.TrimSpace(label)
	for _, e := range c.Entries() {
		if e.Label() == label {
			return e, true
		}
	}
	return Entry{}, false
}

// Find matches host case-insensitively; an empty region matches any region.
func (c Catalog) Find(region, host string) (Entry, bool) {
	for _, e := range c.Entries() {
		if region != "" && e.Region != region {
			continue
		}
		if strings.EqualFold(e.Host, host) {
			return e, true
		}
	}
	return Entry{}, false
}

func (c Catalog) Len() int {
	n := 0
	for _, region := range c {
		n += len(region.Hosts)
	}
	return n
}

// Default is the public vpnbook PPTP server list.
func Default() Catalog {
	return Catalog{
		{Name: "France", Hosts: []string{"FR200.vpnbook.com", "FR231.vpnbook.com"}},
		{Name: "UK", Hosts: []string{"UK205.vpnbook.com", "UK175.vpnbook.com"}},
		{Name: "Germany", Hosts: []string{"DE20.vpnbook.com", "DE21.vpnbook.com"}},
		{Name: "Poland", Hosts: []string{"PL134.vpnbook.com", "PL155.vpnbook.com"}},
		{Name: "Canada", Hosts: []string{"CA149.vpnbook.com", "CA198.vpnbook.com"}},
		{Name: "USA", Hosts: []string{"US16.vpnbook.com", "US21.vpnbook.com"}},
	}
}
