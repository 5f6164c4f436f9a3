package transport

import (
	"io"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	log "github.com/fanrarie/ProtoMind/minilog"
)

// tcpTransport is a plain stream socket: blocking sends, a 2-second read
// deadline, ephemeral source port.
type tcpTransport struct {
	cfg  Config
	conn net.Conn
}

func (t *tcpTransport) Connect() error {
	addr := net.JoinHostPort(t.cfg.TargetIP, portString(t.cfg.TargetPort))
	conn, err := net.DialTimeout("tcp", addr, ReadTimeout)
	if err != nil {
		return wrap("tcp connect", err)
	}
	t.conn = conn
	log.Info("transport: tcp connected to %s", addr)
	return nil
}

func (t *tcpTransport) Send(buf []byte) error {
	if t.conn == nil {
		return ErrClosed
	}
	_, err := t.conn.Write(buf)
	return wrap("tcp send", err)
}

func (t *tcpTransport) Receive() ([]byte, bool, error) {
	if t.conn == nil {
		return nil, false, ErrClosed
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(ReadTimeout)); err != nil {
		return nil, false, wrap("tcp set deadline", err)
	}
	buf := make([]byte, 4096)
	n, err := t.conn.Read(buf)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return nil, false, nil
		}
		if err == io.EOF {
			return nil, false, wrap("tcp receive", err)
		}
		return nil, false, wrap("tcp receive", err)
	}
	return buf[:n], true, nil
}

// Healthy checks the socket without consuming data: SO_ERROR for a deferred
// connect/reset error, then a non-blocking MSG_PEEK for EOF. A reply byte
// already queued in the kernel buffer stays there for Receive.
func (t *tcpTransport) Healthy() bool {
	if t.conn == nil {
		return false
	}
	sc, ok := t.conn.(syscall.Conn)
	if !ok {
		return false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return false
	}

	healthy := false
	if err := raw.Control(func(fd uintptr) {
		if soErr, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR); err != nil || soErr != 0 {
			return
		}
		buf := make([]byte, 1)
		n, _, err := unix.Recvfrom(int(fd), buf, unix.MSG_PEEK|unix.MSG_DONTWAIT)
		switch {
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			healthy = true // alive, nothing queued
		case err == nil && n > 0:
			healthy = true // a reply is queued; leave it for Receive
		}
		// err == nil && n == 0 is EOF: the peer closed.
	}); err != nil {
		return false
	}
	return healthy
}

func (t *tcpTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
