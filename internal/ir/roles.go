package ir

import log "github.com/fanrarie/ProtoMind/minilog"

// inferRoles classifies every state as client-origin or server-origin from
// the author's per-state `role` and
// per-transition `next_role` declarations, then strip the INIT pseudo-states
// out of both sets. Falls back to "everything but INIT* is a client message"
// when the author declared no roles at all.
func inferRoles(doc *IR) {
	client := make(map[string]bool)
	server := make(map[string]bool)

	for name, state := range doc.StateMachine.States {
		switch state.Role {
		case RoleServer:
			server[name] = true
		default:
			client[name] = true
		}

		for _, t := range state.Transitions {
			switch t.NextRole {
			case RoleServer:
				server[t.NextState] = true
			default:
				client[t.NextState] = true
			}
		}
	}

	delete(client, InitState)
	delete(client, legacyInitState)
	delete(server, InitState)
	delete(server, legacyInitState)

	// A transition's next_role can disagree with the target state's own
	// declared role (e.g. a transition into a server state defaults its
	// next_role to client). The state's own declaration is authoritative,
	// so resolve any such overlap before it reaches callers: client_messages
	// and server_messages must stay disjoint.
	for name := range client {
		if !server[name] {
			continue
		}
		if state, ok := doc.StateMachine.States[name]; ok && state.Role == RoleServer {
			delete(client, name)
		} else {
			delete(server, name)
		}
	}

	if len(client) == 0 && len(server) == 0 {
		log.Warn("ir: no roles declared in %s, defaulting all messages to client", doc.SourcePath)
		for name := range doc.Messages {
			if name == InitState || name == legacyInitState {
				continue
			}
			client[name] = true
		}
	}

	doc.ClientMessages = client
	doc.ServerMessages = server
}
