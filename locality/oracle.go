// Package locality answers the one question the block I/O engine and the
// metadata store both need before choosing between a local file-system path
// and a remote RPC call: is this node address mine?
package locality

import (
	"net"

	"github.com/pkg/errors"
)

// Oracle decides whether a node address refers to the local machine by
// consulting the host's network-interface addresses. Pure-function
// semantics modulo interface reconfiguration during the process's
// lifetime -- callers must tolerate a stable-enough answer per call, not a
// guarantee that two successive calls agree if the host's addresses change
// in between.
type Oracle struct {
	addrs map[string]struct{}
}

// New enumerates the host's network interfaces once and builds an Oracle
// from the result. Interface enumeration failure is a fatal startup error
// per spec §4.1: the caller gets it back as an error and decides whether to
// exit.
func New() (*Oracle, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, errors.Wrap(err, "locality: enumerate network interfaces")
	}

	addrs := make(map[string]struct{})
	for _, iface := range ifaces {
		ifaceAddrs, err := iface.Addrs()
		if err != nil {
			return nil, errors.Wrapf(err, "locality: addresses of %s", iface.Name)
		}
		for _, a := range ifaceAddrs {
			ip, _, err := net.ParseCIDR(a.String())
			if err != nil {
				// a bare IP (no mask) from a non-CIDR-formatted Addr
				if ip2 := net.ParseIP(a.String()); ip2 != nil {
					addrs[ip2.String()] = struct{}{}
				}
				continue
			}
			addrs[ip.String()] = struct{}{}
		}
	}
	return &Oracle{addrs: addrs}, nil
}

// IsLocal reports whether node exactly matches one of the host's configured
// addresses. node may carry a port (host:port); only the host part is
// compared.
func (o *Oracle) IsLocal(node string) bool {
	host := node
	if h, _, err := net.SplitHostPort(node); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		_, ok := o.addrs[host]
		return ok
	}
	_, ok := o.addrs[ip.String()]
	return ok
}
