package wire

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Describe renders a one-line diagnostic summary of a raw frame. It is meant for trace output
// only; the forwarding path never decodes past the destination address.
func Describe(data []byte) string {
	if len(data) < EthernetHeaderLen {
		return fmt.Sprintf("runt frame (%d bytes)", len(data))
	}

	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	var b strings.Builder
	if eth, ok := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet); ok {
		fmt.Fprintf(&b, "%s > %s %s", eth.SrcMAC, eth.DstMAC, EtherType(eth.EthernetType))
	}

	switch {
	case packet.Layer(layers.LayerTypeARP) != nil:
		arp := packet.Layer(layers.LayerTypeARP).(*layers.ARP)
		fmt.Fprintf(&b, " %s %s(%s) -> %s(%s)",
			ARPOp(arp.Operation),
			net.IP(arp.SourceProtAddress), net.HardwareAddr(arp.SourceHwAddress),
			net.IP(arp.DstProtAddress), net.HardwareAddr(arp.DstHwAddress))
	case packet.Layer(layers.LayerTypeIPv4) != nil:
		ip := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		fmt.Fprintf(&b, " %s -> %s %s", ip.SrcIP, ip.DstIP, ip.Protocol)
	case packet.Layer(layers.LayerTypeIPv6) != nil:
		ip := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
		fmt.Fprintf(&b, " %s -> %s %s", ip.SrcIP, ip.DstIP, ip.NextHeader)
	}

	if errLayer := packet.ErrorLayer(); errLayer != nil {
		fmt.Fprintf(&b, " [decode error: %v]", errLayer.Error())
	}
	fmt.Fprintf(&b, " (%d bytes)", len(data))
	return b.String()
}
