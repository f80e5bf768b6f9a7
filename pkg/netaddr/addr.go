// Package netaddr defines the transport endpoint type used by Sessions
// and the address book: addresses key and compare by their "host:port"
// string form.
package netaddr

import (
	"net"
	"strconv"

	"github.com/twmb/murmur3"
)

// Addr is a transport endpoint (IP + port). A peer has zero or more of
// these; the Session Registry keeps one "current" Addr per session.
type Addr struct {
	Host string
	Port uint16
}

// New builds an Addr from a "host:port" string.
func New(hostport string) (Addr, error) {
	h, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return Addr{}, err
	}
	port, err := strconv.ParseUint(p, 10, 16)
	if err != nil {
		return Addr{}, err
	}
	return Addr{Host: h, Port: uint16(port)}, nil
}

// String renders the Addr as "host:port".
func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// Bucket assigns the address to one of n eviction buckets via murmur3,
// spreading eviction candidates across the address book instead of
// always draining the same peers first.
func (a Addr) Bucket(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	h := murmur3.Sum32([]byte(a.String()))
	return h % n
}
