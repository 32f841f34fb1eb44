package envoy

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

const discoverService = "_enphase-envoy._tcp"

// Discover browses the local network for an Envoy gateway via mDNS and
// returns the first one that answers within the timeout.
func Discover(timeout time.Duration) (*DiscoverResponse, error) {
	entries := make(chan *mdns.ServiceEntry, 8)
	found := collectEntries(entries)

	params := mdns.DefaultParams(discoverService)
	params.Entries = entries
	params.Timeout = timeout
	err := mdns.Query(params)
	close(entries)
	if err != nil {
		return nil, err
	}
	// Blocks until the collector has drained every buffered entry, so a
	// hit that arrived just before the query returned is not lost.
	if resp := <-found; resp != nil {
		return resp, nil
	}
	return nil, fmt.Errorf("no envoy gateway discovered")
}

// collectEntries drains the entry channel and delivers the first usable
// response. The returned channel closes once entries is closed; it
// yields nil when nothing usable was seen.
func collectEntries(entries <-chan *mdns.ServiceEntry) <-chan *DiscoverResponse {
	found := make(chan *DiscoverResponse, 1)
	go func() {
		defer close(found)
		for entry := range entries {
			resp := parseServiceEntry(entry)
			if resp == nil {
				continue
			}
			select {
			case found <- resp:
			default:
			}
		}
	}()
	return found
}

// parseServiceEntry maps one mDNS answer to a DiscoverResponse, or nil
// when the entry carries no address.
func parseServiceEntry(entry *mdns.ServiceEntry) *DiscoverResponse {
	resp := &DiscoverResponse{}
	if entry.AddrV4 != nil {
		resp.IPV4 = entry.AddrV4.String()
	}
	if entry.AddrV6 != nil {
		resp.IPV6 = entry.AddrV6.String()
	}
	for _, field := range entry.InfoFields {
		if v, ok := strings.CutPrefix(field, "serialnum="); ok {
			resp.Serial = v
		}
		if v, ok := strings.CutPrefix(field, "protovers="); ok {
			resp.ProtoVersion = v
		}
	}
	if resp.IPV4 == "" && resp.IPV6 == "" {
		return nil
	}
	return resp
}
