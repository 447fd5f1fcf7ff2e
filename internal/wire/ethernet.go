package wire

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/l2vpn/internal/core"
)

const (
	// EthernetHeaderLen is dst(6) + src(6) + type(2).
	EthernetHeaderLen = 14
)

// EtherType identifies the protocol carried in a Frame payload.
type EtherType uint16

// EtherType values seen on the segment.
const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
	EtherTypeIPv6 EtherType = 0x86DD
)

func (t EtherType) String() string {
	switch t {
	case EtherTypeIPv4:
		return "IPv4"
	case EtherTypeARP:
		return "ARP"
	case EtherTypeIPv6:
		return "IPv6"
	default:
		return fmt.Sprintf("0x%04x", uint16(t))
	}
}

// Frame is an Ethernet II frame as relayed by the switch.
type Frame struct {
	Dst     MAC
	Src     MAC
	Type    EtherType
	Payload []byte
}

// Encode serializes the frame: 14-byte big-endian header followed by the payload.
func (f Frame) Encode() []byte {
	buf := make([]byte, EthernetHeaderLen+len(f.Payload))
	copy(buf[0:6], f.Dst[:])
	copy(buf[6:12], f.Src[:])
	binary.BigEndian.PutUint16(buf[12:14], uint16(f.Type))
	copy(buf[EthernetHeaderLen:], f.Payload)
	return buf
}

// DecodeFrame parses an Ethernet frame. The payload is copied out of data.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) < EthernetHeaderLen {
		return Frame{}, fmt.Errorf("%w: ethernet needs %d bytes, got %d",
			core.ErrMalformedFrame, EthernetHeaderLen, len(data))
	}

	f := Frame{
		Dst:  getMAC(data[0:6]),
		Src:  getMAC(data[6:12]),
		Type: EtherType(binary.BigEndian.Uint16(data[12:14])),
	}
	if rest := data[EthernetHeaderLen:]; len(rest) > 0 {
		f.Payload = append([]byte(nil), rest...)
	}
	return f, nil
}

// PeekDestination returns the destination address of a raw frame without decoding the rest.
func PeekDestination(data []byte) (MAC, error) {
	if len(data) < EthernetHeaderLen {
		return MAC{}, fmt.Errorf("%w: ethernet needs %d bytes, got %d",
			core.ErrMalformedFrame, EthernetHeaderLen, len(data))
	}
	return getMAC(data[0:6]), nil
}
