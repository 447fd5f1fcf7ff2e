// Package pool allocates the (MAC, IP) identities handed to switch sessions.
package pool

import (
	"crypto/rand"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"
	"sync"

	"firestige.xyz/l2vpn/internal/core"
	"firestige.xyz/l2vpn/internal/wire"
)

const (
	// Suffix 0 is the network address and 255 the broadcast address of the /24.
	minSuffix = 1
	maxSuffix = 254

	vendorLen = 3
	deviceLen = 3
)

// Pool hands out unique (MAC, IP) pairs from a /24 and a MAC vendor prefix.
//
// Every suffix in [1,254] is either free or held by exactly one MAC. MACs are the vendor prefix
// followed by three random bytes, regenerated until distinct from every outstanding MAC.
type Pool struct {
	mu sync.Mutex

	base   [3]byte
	vendor [vendorLen]byte
	random io.Reader

	free map[uint8]struct{}
	held map[wire.MAC]uint8
}

// Option configures a Pool.
type Option func(*Pool)

// WithRandom replaces crypto/rand as the source of MAC device bytes.
func WithRandom(r io.Reader) Option {
	return func(p *Pool) {
		p.random = r
	}
}

// New creates a pool for base (e.g. "172.20.20") and vendor (e.g. "fc:d8:47").
func New(base, vendor string, opts ...Option) (*Pool, error) {
	b, err := ParseBase(base)
	if err != nil {
		return nil, err
	}
	v, err := ParseVendor(vendor)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		base:   b,
		vendor: v,
		random: rand.Reader,
		free:   make(map[uint8]struct{}, maxSuffix),
		held:   make(map[wire.MAC]uint8),
	}
	for s := minSuffix; s <= maxSuffix; s++ {
		p.free[uint8(s)] = struct{}{}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Allocate reserves a free suffix and a fresh MAC. Which suffix is returned is unspecified.
func (p *Pool) Allocate() (wire.MAC, netip.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var suffix uint8
	found := false
	for s := range p.free {
		suffix, found = s, true
		break
	}
	if !found {
		return wire.MAC{}, netip.Addr{}, core.ErrPoolExhausted
	}

	mac, err := p.newMAC()
	if err != nil {
		return wire.MAC{}, netip.Addr{}, err
	}

	delete(p.free, suffix)
	p.held[mac] = suffix
	return mac, p.addr(suffix), nil
}

// Release returns a pair obtained from Allocate. Releasing a pair that is not currently
// allocated fails with core.ErrInvalidRelease and leaves the pool untouched.
func (p *Pool) Release(mac wire.MAC, ip netip.Addr) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	suffix, ok := p.suffixOf(ip)
	if !ok {
		return fmt.Errorf("%w: %s is outside %s", core.ErrInvalidRelease, ip, p.Base())
	}
	held, ok := p.held[mac]
	if !ok || held != suffix {
		return fmt.Errorf("%w: %s/%s", core.ErrInvalidRelease, mac, ip)
	}

	delete(p.held, mac)
	p.free[suffix] = struct{}{}
	return nil
}

// Capacity is the number of concurrent allocations the pool supports.
func (p *Pool) Capacity() int {
	return maxSuffix - minSuffix + 1
}

// Free returns the number of unallocated suffixes.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// InUse returns the number of outstanding allocations.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.held)
}

// Base renders the three-octet prefix, e.g. "172.20.20".
func (p *Pool) Base() string {
	return fmt.Sprintf("%d.%d.%d", p.base[0], p.base[1], p.base[2])
}

// Vendor renders the MAC vendor prefix, e.g. "fc:d8:47".
func (p *Pool) Vendor() string {
	var m wire.MAC
	copy(m[:], p.vendor[:])
	return m.String()[:8]
}

func (p *Pool) newMAC() (wire.MAC, error) {
	var mac wire.MAC
	copy(mac[:vendorLen], p.vendor[:])
	for {
		if _, err := io.ReadFull(p.random, mac[vendorLen:]); err != nil {
			return wire.MAC{}, fmt.Errorf("generate mac: %w", err)
		}
		if _, taken := p.held[mac]; !taken {
			return mac, nil
		}
	}
}

func (p *Pool) addr(suffix uint8) netip.Addr {
	return netip.AddrFrom4([4]byte{p.base[0], p.base[1], p.base[2], suffix})
}

func (p *Pool) suffixOf(ip netip.Addr) (uint8, bool) {
	ip = ip.Unmap()
	if !ip.Is4() {
		return 0, false
	}
	a := ip.As4()
	if a[0] != p.base[0] || a[1] != p.base[1] || a[2] != p.base[2] {
		return 0, false
	}
	if a[3] < minSuffix || a[3] > maxSuffix {
		return 0, false
	}
	return a[3], true
}

// ParseBase parses a three-octet dotted prefix such as "10.0.0".
func ParseBase(s string) ([3]byte, error) {
	var b [3]byte
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return b, fmt.Errorf("%w: base %q must have three octets", core.ErrInvalidAddress, s)
	}
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return b, fmt.Errorf("%w: base %q: %v", core.ErrInvalidAddress, s, err)
		}
		b[i] = byte(n)
	}
	return b, nil
}

// ParseVendor parses a three-octet MAC vendor prefix such as "fc:d8:47". Group prefixes are
// rejected since a session MAC must be unicast.
func ParseVendor(s string) ([vendorLen]byte, error) {
	var v [vendorLen]byte
	m, err := wire.ParseMAC(s + ":00:00:00")
	if err != nil {
		return v, fmt.Errorf("%w: vendor %q", core.ErrInvalidAddress, s)
	}
	if m.IsMulticast() {
		return v, fmt.Errorf("%w: vendor %q has the group bit set", core.ErrInvalidAddress, s)
	}
	copy(v[:], m[:vendorLen])
	return v, nil
}
