// Package capture appends every sent/received byte buffer to a standard
// .pcap file, wrapped in synthetic Ethernet/IPv4/{TCP,UDP} layers so
// ordinary packet tooling can open a session's traffic.
package capture

import (
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	log "github.com/fanrarie/ProtoMind/minilog"
)

// Fixed link- and network-layer addressing: the capture exists to preserve
// application-layer bytes for tool compatibility, not to model a real
// network, so every record shares one synthetic Ethernet/IP identity.
var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	srcIP  = net.IPv4(10, 0, 0, 1)
	dstIP  = net.IPv4(10, 0, 0, 2)
)

// Direction marks who sent a record, which picks the source/destination
// port ordering in the synthetic transport header.
type Direction int

const (
	Sent Direction = iota
	Received
)

// Writer appends one .pcap file for the lifetime of a fuzzing session.
type Writer struct {
	f   *os.File
	w   *pcapgo.Writer
	seq uint32
}

// Open creates (or truncates) path and writes the standard pcap file header
// with Ethernet linktype.
func Open(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, err
	}
	return &Writer{f: f, w: w}, nil
}

// WriteTCP wraps payload as Ethernet -> IPv4 -> TCP and appends it,
// timestamped at wall-clock send/receive time.
func (c *Writer) WriteTCP(payload []byte, localPort, remotePort int, dir Direction) error {
	srcPort, dstPort := uint16(localPort), uint16(remotePort)
	if dir == Received {
		srcPort, dstPort = dstPort, srcPort
	}

	eth := &layers.Ethernet{SrcMAC: pickMAC(dir, srcMAC, dstMAC), DstMAC: pickMAC(dir, dstMAC, srcMAC), EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: pick(dir, srcIP, dstIP), DstIP: pick(dir, dstIP, srcIP)}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), Seq: c.nextSeq(), Window: 65535, ACK: true, PSH: true}
	tcp.SetNetworkLayerForChecksum(ip)

	return c.writeLayers(eth, ip, tcp, gopacket.Payload(payload))
}

// WriteUDP wraps payload as Ethernet -> IPv4 -> UDP and appends it. Used
// directly for DNS, and for Modbus frames already re-encapsulated by
// WrapModbusMBAP.
func (c *Writer) WriteUDP(payload []byte, localPort, remotePort int, dir Direction) error {
	srcPort, dstPort := uint16(localPort), uint16(remotePort)
	if dir == Received {
		srcPort, dstPort = dstPort, srcPort
	}

	eth := &layers.Ethernet{SrcMAC: pickMAC(dir, srcMAC, dstMAC), DstMAC: pickMAC(dir, dstMAC, srcMAC), EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: pick(dir, srcIP, dstIP), DstIP: pick(dir, dstIP, srcIP)}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	udp.SetNetworkLayerForChecksum(ip)

	return c.writeLayers(eth, ip, udp, gopacket.Payload(payload))
}

func (c *Writer) writeLayers(layerList ...gopacket.SerializableLayer) error {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, layerList...); err != nil {
		return err
	}
	ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(buf.Bytes()), Length: len(buf.Bytes())}
	if err := c.w.WritePacket(ci, buf.Bytes()); err != nil {
		return err
	}
	return nil
}

func (c *Writer) nextSeq() uint32 {
	c.seq += 1
	return c.seq
}

func pick(dir Direction, sent, received net.IP) net.IP {
	if dir == Sent {
		return sent
	}
	return received
}

func pickMAC(dir Direction, sent, received net.HardwareAddr) net.HardwareAddr {
	if dir == Sent {
		return sent
	}
	return received
}

// Close flushes and closes the underlying file.
func (c *Writer) Close() error {
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	log.Info("capture: closed")
	return err
}

// WrapModbusMBAP strips the RTU slave-id byte and trailing CRC from frame
// and prepends a synthetic Modbus-TCP MBAP header (trans_id, proto_id=0,
// length, unit_id), so Modbus RTU traffic can be written through the UDP
// path and read by ordinary Modbus-TCP tooling.
func WrapModbusMBAP(frame []byte, transID uint16) []byte {
	if len(frame) < 3 {
		return frame
	}
	unitID := frame[0]
	pdu := frame[1 : len(frame)-2] // drop slave-id and the 2-octet CRC trailer

	length := uint16(len(pdu) + 1) // +1 for the unit-id octet that follows
	header := []byte{
		byte(transID >> 8), byte(transID),
		0x00, 0x00, // protocol id: always 0 for Modbus
		byte(length >> 8), byte(length),
		unitID,
	}
	return append(header, pdu...)
}
