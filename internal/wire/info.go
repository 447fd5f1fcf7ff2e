package wire

import (
	"fmt"
	"net/netip"

	"firestige.xyz/l2vpn/internal/core"
)

// InfoLen is the size of the handshake packet: mac(6) + ip(4).
const InfoLen = macLen + ipv4Len

// Info is the handshake the switch sends once, right after accepting a client. It carries the
// identity assigned to that client.
type Info struct {
	MAC MAC
	IP  netip.Addr
}

// Encode serializes the handshake.
func (i Info) Encode() []byte {
	buf := make([]byte, InfoLen)
	copy(buf[0:6], i.MAC[:])
	putIPv4(buf[6:10], i.IP)
	return buf
}

// DecodeInfo parses a handshake. Bytes past InfoLen are ignored.
func DecodeInfo(data []byte) (Info, error) {
	if len(data) < InfoLen {
		return Info{}, fmt.Errorf("%w: info needs %d bytes, got %d",
			core.ErrMalformedFrame, InfoLen, len(data))
	}
	return Info{
		MAC: getMAC(data[0:6]),
		IP:  getIPv4(data[6:10]),
	}, nil
}

func (i Info) String() string {
	return fmt.Sprintf("mac=%s ip=%s", i.MAC, i.IP)
}
