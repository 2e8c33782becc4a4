// Package transport owns the RTP/UDP boundary: port allocation, the
// receive/send sockets an input or output binds, and SDP generation.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
)

// ErrNoPortsAvailable is returned when a range probe exhausts every
// candidate port without finding a free one.
var ErrNoPortsAvailable = errors.New("no available ports in range")

// Port names either an explicit port or an inclusive range to probe,
// matching the original's Port::{Exact, Range} enum.
type Port struct {
	Exact        int
	RangeStart   int
	RangeEnd     int
	IsRange      bool
}

func ExactPort(p int) Port { return Port{Exact: p} }

func RangePort(start, end int) Port { return Port{RangeStart: start, RangeEnd: end, IsRange: true} }

// PortAllocator tracks which local ports this process currently has a
// transport bound on, adapted from vshapovalov-rtp-stream-cleaner's
// fixed-count block allocator to single-port explicit/range-probe
// semantics: every input needs exactly one RTP port (and,
// because the companion RTCP port convention is port+1, allocation also
// checks that port+1 is free before committing).
type PortAllocator struct {
	mu    sync.Mutex
	inUse map[int]bool
}

func NewPortAllocator() *PortAllocator {
	return &PortAllocator{inUse: make(map[int]bool)}
}

// tryBind reports whether port (and port+1, its RTCP companion) are
// free, both from this allocator's bookkeeping and by probing an actual
// UDP bind. AddrInUse from the probe is not an error here — it's the
// signal a range probe uses to advance to the next candidate. Only port
// itself is recorded as in use on success.
func (p *PortAllocator) tryBind(port int) (bool, error) {
	p.mu.Lock()
	if p.inUse[port] || p.inUse[port+1] {
		p.mu.Unlock()
		return false, nil
	}
	p.mu.Unlock()

	for _, candidate := range []int{port, port + 1} {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: candidate})
		if err != nil {
			if isAddrInUse(err) {
				return false, nil
			}
			return false, err
		}
		conn.Close()
	}

	p.mu.Lock()
	p.inUse[port] = true
	p.mu.Unlock()
	return true, nil
}

// Allocate resolves spec to a single bound port: an Exact port must
// succeed or fail outright (no range fallback); a Range probes
// start..=end in order and stops at the first candidate where both the
// port and its port+1 companion are free. Any non-AddrInUse error from
// the probe aborts the whole allocation immediately — it is not treated
// as "try the next candidate" (original_source/src/api/register_request.rs).
func (p *PortAllocator) Allocate(spec Port) (int, error) {
	if !spec.IsRange {
		ok, err := p.tryBind(spec.Exact)
		if err != nil {
			return 0, fmt.Errorf("bind port %d: %w", spec.Exact, err)
		}
		if !ok {
			return 0, fmt.Errorf("port %d: %w", spec.Exact, ErrNoPortsAvailable)
		}
		return spec.Exact, nil
	}

	for port := spec.RangeStart; port <= spec.RangeEnd; port++ {
		ok, err := p.tryBind(port)
		if err != nil {
			return 0, fmt.Errorf("bind port %d: %w", port, err)
		}
		if ok {
			return port, nil
		}
	}
	return 0, ErrNoPortsAvailable
}

// Release returns port to the pool.
func (p *PortAllocator) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, port)
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
