package synth

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"

	log "github.com/fanrarie/ProtoMind/minilog"
	"github.com/fanrarie/ProtoMind/internal/ir"
)

const (
	fuzzFieldProbability = 0.2
	fuzzCRCProbability   = 0.05
)

// maxFieldLength bounds a single field's emitted octets; a malformed length
// declaration never allocates more than this.
const maxFieldLength = 255

// Synthesizer assembles wire messages for client-origin states. It owns the
// per-session "subscribed topics" bookkeeping for MQTT SUBSCRIBE/UNSUBSCRIBE
// and is mutated only from one driver loop at a time.
type Synthesizer struct {
	Protocol string // "mqtt", "dns", "modbus"

	mu         sync.Mutex
	subscribed map[string]bool
}

// New returns a Synthesizer for the given protocol family.
func New(protocol string) *Synthesizer {
	return &Synthesizer{Protocol: protocol, subscribed: make(map[string]bool)}
}

// Synthesize assembles a wire message for state, honoring caller overrides
// and, if fuzz is set, randomly mutating eligible fields. Returns ok=false
// when the state is not a client state, has no message definition, or (MQTT)
// is an UNSUBSCRIBE with nothing subscribed.
func (s *Synthesizer) Synthesize(doc *ir.IR, state string, overrides map[string]string, fuzz bool) (packet []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !doc.ClientMessages[state] {
		log.Warn("synth: skipping non-client message %s", state)
		return nil, false
	}
	if s.Protocol == "mqtt" && state == "UNSUBSCRIBE" && len(s.subscribed) == 0 {
		log.Warn("synth: no subscribed topics for UNSUBSCRIBE, skipping")
		return nil, false
	}

	msg, found := doc.Messages[state]
	if !found {
		log.Warn("synth: no message definition for state %s", state)
		return nil, false
	}

	effective := make(map[string]string, len(overrides))
	for k, v := range overrides {
		effective[k] = v
	}
	s.materialize(doc, state, effective, fuzz)

	e := &emitter{
		protocol:  s.Protocol,
		state:     state,
		effective: effective,
		fuzz:      fuzz,
	}
	for _, f := range msg.Fields {
		e.emit(f, "")
	}

	if s.Protocol == "mqtt" {
		e.backpatchMQTT(state, effective)
	} else if s.Protocol == "dns" {
		e.backpatchDNS()
	}

	out := append([]byte{}, e.buf...)

	if s.Protocol == "modbus" {
		crc := ModbusCRC(out)
		if fuzz && rand.Float64() < fuzzCRCProbability {
			crc = []byte{byte(rand.Intn(256)), byte(rand.Intn(256))}
			log.Debug("synth: fuzzing modbus CRC")
		}
		out = append(out, crc...)
	}

	if s.Protocol == "mqtt" {
		s.trackSubscription(state, effective)
	}

	log.Debug("synth: generated packet for %s: % x", state, out)
	return out, true
}

func (s *Synthesizer) trackSubscription(state string, effective map[string]string) {
	switch state {
	case "SUBSCRIBE":
		topic := lookup(effective, state, ir.RoleTopicFilter)
		if topic == "" {
			topic = mqttConfig.defaultTopics[0]
		}
		if !s.subscribed[topic] {
			s.subscribed[topic] = true
			log.Info("synth: added subscribed topic %s", topic)
		}
	case "UNSUBSCRIBE":
		topic := lookup(effective, state, ir.RoleTopicFilter)
		if s.subscribed[topic] {
			delete(s.subscribed, topic)
			log.Info("synth: removed subscribed topic %s", topic)
		}
	}
}

// lengthRoles are the derived length fields coupled to a sibling string
// field. They are filled after every value field is known so the coupling
// also holds for caller-overridden values.
var lengthRoles = map[ir.FieldRole]bool{
	ir.RoleTopicLength:       true,
	ir.RoleTopicFilterLength: true,
	ir.RoleClientIDLength:    true,
}

// materialize fills in any cataloged random field for this state that the
// caller did not override. Value fields go first; coupled length fields are
// derived second from whatever value (generated or overridden) ended up in
// the effective map. remaining_length is never materialized here — its slot
// is reserved during emission and back-patched.
func (s *Synthesizer) materialize(doc *ir.IR, state string, effective map[string]string, fuzz bool) {
	relevant := doc.FieldsWithPrefix(state)

	for name, rf := range relevant {
		if _, exists := effective[name]; exists {
			continue
		}
		if rf.Role == ir.RoleRemainingLength || lengthRoles[rf.Role] {
			continue
		}

		if s.Protocol == "modbus" {
			effective[name] = s.generateModbus(state, rf, fuzz)
			continue
		}

		switch rf.Role {
		case ir.RoleTopicName, ir.RoleTopicFilter:
			effective[name] = mqttTopic(fuzz)
		case ir.RoleClientID:
			effective[name] = mqttClientID(fuzz)
		case ir.RoleKeepAlive:
			effective[name] = mqttKeepAlive(fuzz)
		case ir.RoleConnectFlags:
			effective[name] = "0x02"
		case ir.RolePacketID:
			effective[name] = mqttPacketID()
		case ir.RoleQueryDomain:
			effective[name] = dnsDomain(fuzz)
		default:
			effective[name] = s.generateGeneric(state, rf, fuzz)
		}
		log.Debug("synth: generated %s: %s", name, effective[name])
	}

	for name, rf := range relevant {
		if !lengthRoles[rf.Role] {
			continue
		}
		if _, exists := effective[name]; exists {
			continue
		}
		if v := lookup(effective, state, valueRoleFor(rf.Role)); v != "" {
			effective[name] = fmt.Sprintf("0x%04x", len([]byte(v)))
			log.Info("synth: generated %s: %s", name, effective[name])
			continue
		}
		effective[name] = s.generateGeneric(state, rf, fuzz)
	}
}

func valueRoleFor(length ir.FieldRole) ir.FieldRole {
	switch length {
	case ir.RoleTopicLength:
		return ir.RoleTopicName
	case ir.RoleTopicFilterLength:
		return ir.RoleTopicFilter
	default:
		return ir.RoleClientID
	}
}

func (s *Synthesizer) generateModbus(state string, rf ir.RandomField, fuzz bool) string {
	switch rf.Role {
	case ir.RoleSlaveID:
		return modbusSlaveID(fuzz)
	case ir.RoleFunctionCode:
		return modbusFunctionCode(fuzz)
	case ir.RoleAddress, ir.RoleCoilAddress, ir.RoleRegisterAddress:
		return modbusAddress(fuzz)
	case ir.RoleQuantity:
		return modbusQuantity(state, fuzz)
	case ir.RoleCoilValue:
		return modbusCoilValue(fuzz)
	case ir.RoleCRC:
		return "" // computed after layout, never pre-materialized
	default:
		return s.generateGeneric(state, rf, fuzz)
	}
}

// generateGeneric handles any cataloged field with no special-cased
// field_role: draw uniformly from its declared range, or fall back to its
// declared single value.
func (s *Synthesizer) generateGeneric(state string, rf ir.RandomField, fuzz bool) string {
	if !rf.IsRange {
		if rf.Value == "" {
			return "0x00"
		}
		return rf.Value
	}
	lo, errLo := parseIntAnyBase(rf.Lo)
	hi, errHi := parseIntAnyBase(rf.Hi)
	if errLo != nil || errHi != nil || hi < lo {
		log.Warn("synth: invalid range [%s,%s] for %s, using zero", rf.Lo, rf.Hi, rf.Name)
		return "0x00"
	}
	val := lo + rand.Int63n(hi-lo+1)
	return fmt.Sprintf("0x%x", val)
}

// lookup returns the effective value whose fully-qualified name belongs to
// state and carries exactly the given field role, or "" if none is present.
// The name format is "<state>_<ancestor roles...>_<field_role>_<type>", so a
// key matches when the text after the role marker is the bare type token —
// this keeps "client_id" from also matching a "client_id_length" key.
func lookup(effective map[string]string, state string, role ir.FieldRole) string {
	prefix := state + "_"
	marker := "_" + string(role) + "_"
	for k, v := range effective {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		idx := strings.LastIndex(k, marker)
		if idx < 0 {
			continue
		}
		if !strings.Contains(k[idx+len(marker):], "_") {
			return v
		}
	}
	return ""
}
