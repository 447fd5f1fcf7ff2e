package wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/l2vpn/internal/core"
)

const (
	// ARPLen is the fixed size of an Ethernet/IPv4 ARP packet.
	ARPLen = 28

	arpHardwareEthernet = 1
	arpProtocolIPv4     = 0x0800
)

// ARPOp is the ARP operation code.
type ARPOp uint16

// ARP operations.
const (
	ARPRequest ARPOp = 1
	ARPReply   ARPOp = 2
)

func (op ARPOp) String() string {
	switch op {
	case ARPRequest:
		return "request"
	case ARPReply:
		return "reply"
	default:
		return fmt.Sprintf("op(%d)", uint16(op))
	}
}

// ARP is an Ethernet/IPv4 ARP packet.
type ARP struct {
	Op        ARPOp
	SenderMAC MAC
	SenderIP  netip.Addr
	TargetMAC MAC
	TargetIP  netip.Addr
}

// Encode serializes the packet. Hardware/protocol type and sizes are always Ethernet/IPv4.
func (a ARP) Encode() []byte {
	buf := make([]byte, ARPLen)
	binary.BigEndian.PutUint16(buf[0:2], arpHardwareEthernet)
	binary.BigEndian.PutUint16(buf[2:4], arpProtocolIPv4)
	buf[4] = macLen
	buf[5] = ipv4Len
	binary.BigEndian.PutUint16(buf[6:8], uint16(a.Op))
	copy(buf[8:14], a.SenderMAC[:])
	putIPv4(buf[14:18], a.SenderIP)
	copy(buf[18:24], a.TargetMAC[:])
	putIPv4(buf[24:28], a.TargetIP)
	return buf
}

// DecodeARP parses an ARP packet. The constant header fields are not validated.
func DecodeARP(data []byte) (ARP, error) {
	if len(data) < ARPLen {
		return ARP{}, fmt.Errorf("%w: arp needs %d bytes, got %d",
			core.ErrMalformedFrame, ARPLen, len(data))
	}
	return ARP{
		Op:        ARPOp(binary.BigEndian.Uint16(data[6:8])),
		SenderMAC: getMAC(data[8:14]),
		SenderIP:  getIPv4(data[14:18]),
		TargetMAC: getMAC(data[18:24]),
		TargetIP:  getIPv4(data[24:28]),
	}, nil
}

// Announcement builds the frame the switch floods when a peer joins: an ARP request from
// (mac, ip) for ip itself, broadcast from mac, so peers learn the binding without asking.
func Announcement(mac MAC, ip netip.Addr) Frame {
	arp := ARP{
		Op:        ARPRequest,
		SenderMAC: mac,
		SenderIP:  ip,
		TargetMAC: Zero,
		TargetIP:  ip,
	}
	return Frame{
		Dst:     Broadcast,
		Src:     mac,
		Type:    EtherTypeARP,
		Payload: arp.Encode(),
	}
}
