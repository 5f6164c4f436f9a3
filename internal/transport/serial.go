package transport

import (
	"go.bug.st/serial"

	log "github.com/fanrarie/ProtoMind/minilog"
)

// serialBaud is the Modbus RTU line rate used throughout this module; RTU
// devices in the wild default to 19200 8-N-1.
const serialBaud = 19200

// serialTransport is the Modbus RTU mode. Frames sent and received here are
// raw RTU (slave-id, function code, data, CRC) — re-framing into a synthetic
// Modbus-TCP MBAP envelope happens only at capture time (internal/capture).
type serialTransport struct {
	cfg  Config
	port serial.Port
}

func (s *serialTransport) Connect() error {
	mode := &serial.Mode{
		BaudRate: serialBaud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(s.cfg.SerialPort, mode)
	if err != nil {
		return wrap("serial open", err)
	}
	if err := port.SetReadTimeout(ReadTimeout); err != nil {
		port.Close()
		return wrap("serial set timeout", err)
	}
	s.port = port
	log.Info("transport: serial connected to %s at %d baud", s.cfg.SerialPort, serialBaud)
	return nil
}

func (s *serialTransport) Send(buf []byte) error {
	if s.port == nil {
		return ErrClosed
	}
	_, err := s.port.Write(buf)
	return wrap("serial send", err)
}

func (s *serialTransport) Receive() ([]byte, bool, error) {
	if s.port == nil {
		return nil, false, ErrClosed
	}
	buf := make([]byte, 256)
	n, err := s.port.Read(buf)
	if err != nil {
		return nil, false, wrap("serial receive", err)
	}
	if n == 0 {
		// go.bug.st/serial returns (0, nil) on read timeout rather than an
		// error, so a zero-length read is this mode's timeout signal.
		return nil, false, nil
	}
	return buf[:n], true, nil
}

func (s *serialTransport) Healthy() bool {
	return s.port != nil
}

func (s *serialTransport) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
