// Package fsmselect tracks which state-machine state a fuzzing conversation
// is in, as a thread-safe read-modify-write over the current state.
package fsmselect

import (
	"math/rand"
	"sync"

	log "github.com/fanrarie/ProtoMind/minilog"
	"github.com/fanrarie/ProtoMind/internal/ir"
)

// Selector holds the one piece of session state every other component
// reads: which message comes next. Guarded by a mutex so an embedding host
// may query it from outside the driver loop.
type Selector struct {
	doc      *ir.IR
	protocol string

	mu      sync.Mutex
	current string
}

// New starts a Selector at the reserved entry state.
func New(doc *ir.IR, protocol string) *Selector {
	return &Selector{doc: doc, protocol: protocol, current: ir.InitState}
}

// Current returns the state the selector is presently parked on.
func (s *Selector) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Reset parks the selector back at the entry state, used by the driver
// loop's reconnect path.
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ir.InitState
}

// Advance picks and commits the next state given the name of a just-received
// message (empty string if nothing was received, or identification failed).
func (s *Selector) Advance(received string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == ir.InitState && s.protocol == "mqtt" {
		s.current = "CONNECT"
		return s.current
	}

	state, ok := s.doc.StateMachine.States[s.current]
	if !ok || len(state.Transitions) == 0 {
		prev := s.current
		s.current = s.randomClientMessage()
		log.Warn("fsmselect: no transitions from %s, falling back to random client state %s", prev, s.current)
		return s.current
	}

	candidates := state.Transitions
	if received != "" {
		if recvMsg, known := s.doc.Messages[received]; known {
			var filtered []ir.Transition
			for _, t := range candidates {
				if t.NextState == received && t.NextRole == recvMsg.Role {
					filtered = append(filtered, t)
				}
			}
			if len(filtered) > 0 {
				candidates = filtered
			} else if state.Role == ir.RoleServer {
				// A reply that matches none of this server state's edges
				// restarts the conversation rather than wandering forward
				// from wherever it stalled.
				if s.protocol == "mqtt" {
					s.current = "CONNECT"
				} else {
					s.current = s.randomClientMessage()
				}
				log.Warn("fsmselect: no valid transition from server state %s, forcing to %s", state.Name, s.current)
				return s.current
			}
		}
	}

	s.current = s.pick(candidates)
	return s.current
}

// pick prefers transitions into client-origin states, tie-breaking uniformly
// at random; if none are client-origin it picks uniformly among all of them.
func (s *Selector) pick(candidates []ir.Transition) string {
	var clientBound []ir.Transition
	for _, t := range candidates {
		if t.NextRole == ir.RoleClient {
			clientBound = append(clientBound, t)
		}
	}
	if len(clientBound) > 0 {
		return clientBound[rand.Intn(len(clientBound))].NextState
	}
	return candidates[rand.Intn(len(candidates))].NextState
}

func (s *Selector) randomClientMessage() string {
	var names []string
	for name := range s.doc.ClientMessages {
		names = append(names, name)
	}
	if len(names) == 0 {
		return ir.InitState
	}
	return names[rand.Intn(len(names))]
}
