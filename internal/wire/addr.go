// Package wire implements the switch protocol codec: Info handshake, Ethernet frames and
// ARP packets carried as Ethernet payload.
package wire

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"

	"firestige.xyz/l2vpn/internal/core"
)

// MTU is the largest frame handled per read or write.
const MTU = 1500

const (
	macLen  = 6
	ipv4Len = 4
)

// MAC is a 48-bit link-layer address. It is comparable and used as the CAM table key.
type MAC [macLen]byte

var (
	// Broadcast addresses every station on the segment.
	Broadcast = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	// Zero is the unknown target address used in ARP requests.
	Zero = MAC{}
)

// String renders the address as lower-case colon-separated hex, two digits per octet.
func (m MAC) String() string {
	var b strings.Builder
	b.Grow(len(m)*3 - 1)
	for i, octet := range m {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(hex.EncodeToString([]byte{octet}))
	}
	return b.String()
}

// IsBroadcast reports whether m is ff:ff:ff:ff:ff:ff.
func (m MAC) IsBroadcast() bool {
	return m == Broadcast
}

// IsMulticast reports whether the group bit of m is set. Broadcast is a multicast address too.
func (m MAC) IsMulticast() bool {
	return m[0]&0x01 != 0
}

// ParseMAC parses the colon-separated hex form produced by String.
func ParseMAC(s string) (MAC, error) {
	var m MAC
	parts := strings.Split(s, ":")
	if len(parts) != macLen {
		return m, fmt.Errorf("%w: mac %q", core.ErrInvalidAddress, s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return m, fmt.Errorf("%w: mac %q", core.ErrInvalidAddress, s)
		}
		if _, err := hex.Decode(m[i:i+1], []byte(p)); err != nil {
			return m, fmt.Errorf("%w: mac %q: %v", core.ErrInvalidAddress, s, err)
		}
	}
	return m, nil
}

// ParseIPv4 parses a dotted-decimal IPv4 address.
func ParseIPv4(s string) (netip.Addr, error) {
	ip, err := netip.ParseAddr(s)
	if err != nil || !ip.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: ipv4 %q", core.ErrInvalidAddress, s)
	}
	return ip, nil
}

// putIPv4 writes ip into dst[:4]. Addresses that are not IPv4 are written as 0.0.0.0.
func putIPv4(dst []byte, ip netip.Addr) {
	ip = ip.Unmap()
	if !ip.Is4() {
		copy(dst[:ipv4Len], []byte{0, 0, 0, 0})
		return
	}
	a := ip.As4()
	copy(dst[:ipv4Len], a[:])
}

func getIPv4(src []byte) netip.Addr {
	var a [ipv4Len]byte
	copy(a[:], src[:ipv4Len])
	return netip.AddrFrom4(a)
}

func getMAC(src []byte) MAC {
	var m MAC
	copy(m[:], src[:macLen])
	return m
}
