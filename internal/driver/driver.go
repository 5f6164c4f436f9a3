// Package driver is the time-bounded send/receive loop that coordinates the
// synthesizer, identifier, state selector, and transport into one fuzzing
// session.
package driver

import (
	"fmt"
	"math/rand"
	"time"

	log "github.com/fanrarie/ProtoMind/minilog"
	"github.com/fanrarie/ProtoMind/internal/capture"
	"github.com/fanrarie/ProtoMind/internal/fsmselect"
	"github.com/fanrarie/ProtoMind/internal/identify"
	"github.com/fanrarie/ProtoMind/internal/ir"
	"github.com/fanrarie/ProtoMind/internal/synth"
	"github.com/fanrarie/ProtoMind/internal/transport"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultFuzzRatio  = 0.2
	defaultMaxRetries = 5
	reconnectAttempts = 3
	reconnectSleep    = time.Second
)

// newTransport is a seam over transport.New so tests can substitute an
// in-memory Transport without opening a real socket.
var newTransport = transport.New

// Config parameterizes one session run; zero values fall back to the
// package defaults.
type Config struct {
	Doc         *ir.IR
	Protocol    string
	Transport   transport.Config
	CapturePath string

	Timeout    time.Duration
	FuzzRatio  float64
	MaxRetries int
}

// Run drives one time-bounded fuzzing conversation and returns the path of
// the capture file it wrote. It never returns an error for a recoverable
// transport failure — it logs, reconnects, and keeps going; the error
// return is reserved for setup failures (bad capture path, no transport
// mode).
func Run(cfg Config) (string, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.FuzzRatio <= 0 {
		cfg.FuzzRatio = defaultFuzzRatio
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	tp, err := newTransport(cfg.Transport)
	if err != nil {
		return "", err
	}
	cap, err := capture.Open(cfg.CapturePath)
	if err != nil {
		return "", fmt.Errorf("driver: opening capture file: %w", err)
	}
	defer cap.Close()

	sel := fsmselect.New(cfg.Doc, cfg.Protocol)
	synthesizer := synth.New(cfg.Protocol)

	s := &session{
		cfg:         cfg,
		tp:          tp,
		cap:         cap,
		sel:         sel,
		synthesizer: synthesizer,
		localPort:   ephemeralPort(),
	}
	s.run()

	return cfg.CapturePath, nil
}

type session struct {
	cfg         Config
	tp          transport.Transport
	cap         *capture.Writer
	sel         *fsmselect.Selector
	synthesizer *synth.Synthesizer

	localPort   int
	noResponses int
}

func (s *session) run() {
	deadline := time.Now().Add(s.cfg.Timeout)

	if err := s.tp.Connect(); err != nil {
		log.Warn("driver: initial connect failed: %v", err)
	}

	for time.Now().Before(deadline) {
		if !s.tp.Healthy() {
			if !s.reconnect() {
				log.Error("driver: exhausted reconnect attempts, ending session")
				return
			}
		}

		// A blind Advance (no received message) runs every iteration, not
		// only from INIT_STATE: it performs the MQTT INIT_STATE->CONNECT
		// force and walks past any already-satisfied server-origin state
		// toward its next client-origin transition.
		state := s.sel.Advance("")

		if s.cfg.Doc.ClientMessages[state] {
			s.stepClient(state)
		} else if s.cfg.Doc.ServerMessages[state] {
			s.stepServer()
		} else {
			log.Warn("driver: state %s is neither client nor server origin, advancing blind", state)
			s.sel.Advance("")
		}

		if s.noResponses >= s.cfg.MaxRetries {
			log.Warn("driver: reached max_retries (%d), stopping", s.cfg.MaxRetries)
			return
		}

		remaining := time.Until(deadline)
		sleep := 100 * time.Millisecond
		if remaining < sleep {
			sleep = remaining
		}
		if sleep > 0 {
			time.Sleep(sleep)
		}
	}
}

func (s *session) stepClient(state string) {
	fuzz := rand.Float64() < s.cfg.FuzzRatio
	packet, ok := s.synthesizer.Synthesize(s.cfg.Doc, state, nil, fuzz)
	if !ok {
		log.Debug("driver: synthesis skipped for %s", state)
		return
	}

	if err := s.tp.Send(packet); err != nil {
		log.Warn("driver: send failed: %v", err)
		return
	}
	s.writeCapture(packet, capture.Sent)

	s.receiveAndAdvance()
}

func (s *session) stepServer() {
	s.receiveAndAdvance()
}

func (s *session) receiveAndAdvance() {
	buf, ok, err := s.tp.Receive()
	if err != nil {
		log.Warn("driver: receive failed: %v", err)
		return
	}
	if !ok {
		s.noResponses++
		log.Debug("driver: receive timeout (%d/%d)", s.noResponses, s.cfg.MaxRetries)
		// A no-response restarts the conversation from the entry state
		// rather than wandering forward from wherever it stalled.
		s.sel.Reset()
		return
	}

	s.noResponses = 0
	s.writeCapture(buf, capture.Received)

	name := identify.Identify(s.cfg.Doc, s.cfg.Protocol, buf)
	s.sel.Advance(name)
}

func (s *session) writeCapture(buf []byte, dir capture.Direction) {
	var err error
	switch s.cfg.Transport.Mode {
	case "serial":
		mbap := capture.WrapModbusMBAP(buf, uint16(s.localPort))
		err = s.cap.WriteUDP(mbap, s.localPort, 502, dir)
	case "udp":
		err = s.cap.WriteUDP(buf, s.localPort, s.cfg.Transport.TargetPort, dir)
	default:
		err = s.cap.WriteTCP(buf, s.localPort, s.cfg.Transport.TargetPort, dir)
	}
	if err != nil {
		log.Warn("driver: capture write failed: %v", err)
	}
}

func (s *session) reconnect() bool {
	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		log.Info("driver: reconnect attempt %d/%d", attempt, reconnectAttempts)
		s.sel.Reset()
		s.localPort = ephemeralPort()
		if err := s.tp.Close(); err != nil {
			log.Debug("driver: close before reconnect: %v", err)
		}
		if err := s.tp.Connect(); err == nil {
			return true
		}
		time.Sleep(reconnectSleep)
	}
	return false
}

func ephemeralPort() int {
	return 49152 + rand.Intn(16383)
}
