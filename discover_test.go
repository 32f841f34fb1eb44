package envoy

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
)

func TestParseServiceEntry(t *testing.T) {
	resp := parseServiceEntry(&mdns.ServiceEntry{
		AddrV4:     net.IPv4(192, 168, 1, 20),
		InfoFields: []string{"serialnum=121904001234", "protovers=7.0.88"},
	})
	if assert.NotNil(t, resp) {
		assert.Equal(t, "192.168.1.20", resp.IPV4)
		assert.Equal(t, "121904001234", resp.Serial)
		assert.Equal(t, "7.0.88", resp.ProtoVersion)
	}

	// An answer without any address is unusable.
	assert.Nil(t, parseServiceEntry(&mdns.ServiceEntry{
		InfoFields: []string{"serialnum=121904001234"},
	}))
}

// An entry still buffered when the query finishes must be delivered,
// not dropped: the collector channel only closes after the drain.
func TestCollectEntriesDrainsBufferAfterClose(t *testing.T) {
	entries := make(chan *mdns.ServiceEntry, 8)
	found := collectEntries(entries)

	entries <- &mdns.ServiceEntry{AddrV4: net.IPv4(192, 168, 1, 20)}
	close(entries)

	resp := <-found
	if assert.NotNil(t, resp) {
		assert.Equal(t, "192.168.1.20", resp.IPV4)
	}
}

func TestCollectEntriesReportsNothingFound(t *testing.T) {
	entries := make(chan *mdns.ServiceEntry, 8)
	found := collectEntries(entries)

	entries <- &mdns.ServiceEntry{InfoFields: []string{"protovers=7.0.88"}}
	close(entries)

	assert.Nil(t, <-found)
}
