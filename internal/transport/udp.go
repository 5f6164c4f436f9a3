package transport

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	log "github.com/fanrarie/ProtoMind/minilog"
)

// udpTransport is a datagram socket, opened with SO_REUSEADDR. When the
// target address is a multicast group it also sets IP_MULTICAST_TTL=1, joins
// the group, and picks an outbound interface by enumerating the host's
// addresses. Used for
// DNS exercised over mDNS (224.0.0.251).
type udpTransport struct {
	cfg  Config
	conn *net.UDPConn
	pc   *ipv4.PacketConn // non-nil only for multicast sessions
	dst  *net.UDPAddr
}

func (u *udpTransport) Connect() error {
	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(u.cfg.TargetIP, portString(u.cfg.TargetPort)))
	if err != nil {
		return wrap("udp resolve", err)
	}
	u.dst = dst

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var setErr error
			err := c.Control(func(fd uintptr) {
				setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return setErr
		},
	}

	lp, err := lc.ListenPacket(emptyCtx(), "udp4", ":0")
	if err != nil {
		return wrap("udp listen", err)
	}
	conn, ok := lp.(*net.UDPConn)
	if !ok {
		lp.Close()
		return wrap("udp listen", errNotUDPConn)
	}
	u.conn = conn

	if dst.IP.IsMulticast() {
		pc := ipv4.NewPacketConn(conn)
		iface, ifErr := outboundMulticastInterface()
		if ifErr == nil {
			if err := pc.JoinGroup(iface, &net.UDPAddr{IP: dst.IP}); err != nil {
				log.Warn("transport: udp join multicast group failed: %v", err)
			}
			if err := pc.SetMulticastInterface(iface); err != nil {
				log.Warn("transport: udp set multicast interface failed: %v", err)
			}
		}
		if err := pc.SetMulticastTTL(1); err != nil {
			log.Warn("transport: udp set multicast ttl failed: %v", err)
		}
		u.pc = pc
		log.Info("transport: udp multicast to %s", dst)
	} else {
		log.Info("transport: udp unicast to %s", dst)
	}

	return nil
}

func outboundMulticastInterface() (*net.Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		return &iface, nil
	}
	return nil, errNoInterface
}

func (u *udpTransport) Send(buf []byte) error {
	if u.conn == nil {
		return ErrClosed
	}
	_, err := u.conn.WriteToUDP(buf, u.dst)
	return wrap("udp send", err)
}

func (u *udpTransport) Receive() ([]byte, bool, error) {
	if u.conn == nil {
		return nil, false, ErrClosed
	}
	if err := u.conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		return nil, false, wrap("udp set deadline", err)
	}
	buf := make([]byte, 4096)
	n, _, err := u.conn.ReadFromUDP(buf)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return nil, false, nil
		}
		return nil, false, wrap("udp receive", err)
	}
	return buf[:n], true, nil
}

func (u *udpTransport) Healthy() bool {
	return u.conn != nil
}

func (u *udpTransport) Close() error {
	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	u.pc = nil
	return err
}
