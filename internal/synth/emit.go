package synth

import (
	"fmt"
	"math/rand"

	log "github.com/fanrarie/ProtoMind/minilog"
	"github.com/fanrarie/ProtoMind/internal/ir"
)

// mutationImmuneRoles are never replaced by random octets during fuzzing:
// corrupting them desynchronizes the conversation (the target rejects the
// frame outright) instead of probing its parser.
var mutationImmuneRoles = map[ir.FieldRole]bool{
	ir.RoleSlaveID:           true,
	ir.RoleFunctionCode:      true,
	ir.RoleAddress:           true,
	ir.RoleCoilAddress:       true,
	ir.RoleRegisterAddress:   true,
	ir.RoleQuantity:          true,
	ir.RoleCoilValue:         true,
	ir.RoleCRC:               true,
	ir.RoleTopicLength:       true,
	ir.RoleTopicFilterLength: true,
	ir.RolePacketID:          true,
}

// emitter walks one message's field tree and accumulates its wire bytes,
// reserving a placeholder for the remaining_length field to be back-patched
// once the full layout is known.
type emitter struct {
	protocol  string
	state     string
	effective map[string]string
	fuzz      bool

	buf []byte

	hasRemainingLen    bool
	remainingLenOffset int
	remainingLenSize   int

	hasPacketID bool
	payloadLen  int
}

func (e *emitter) emit(f ir.Field, prefix string) {
	if f.Kind == ir.KindGroup {
		for _, sub := range f.Subfields {
			e.emit(sub, prefix+string(f.FieldRole)+"_")
		}
		return
	}

	if f.FieldRole == ir.RolePacketID {
		e.hasPacketID = true
	}

	if f.Kind == ir.KindVariable && f.FieldRole == ir.RoleRemainingLength && e.protocol != "modbus" {
		size := 1
		if e.protocol == "dns" {
			size = 4
		}
		e.hasRemainingLen = true
		e.remainingLenOffset = len(e.buf)
		e.remainingLenSize = size
		e.buf = append(e.buf, make([]byte, size)...)
		return
	}

	// The CRC trailer is appended by the caller once the whole layout is
	// known.
	if f.FieldRole == ir.RoleCRC {
		return
	}

	name := fqName(e.state, prefix, f)

	value := f.Value.Single
	isRange := f.Value.IsRange
	lo, hi := f.Value.RangeLo, f.Value.RangeHi

	if f.Kind == ir.KindVariable {
		if v, ok := e.effective[name]; ok {
			value, isRange = v, false
		} else if f.HasScope {
			if f.Scope.IsRange {
				isRange, lo, hi = true, f.Scope.RangeLo, f.Scope.RangeHi
			} else {
				value, isRange = f.Scope.Single, false
			}
		}
	}

	if isRange {
		value = e.resolveRange(lo, hi)
	}

	length := f.Length.Resolve(e.drawFn())
	if length <= 0 {
		length = 1
	}
	if length > maxFieldLength {
		log.Warn("synth: field %s declares length %d, clamping to %d", name, length, maxFieldLength)
		length = maxFieldLength
	}

	mutable := f.Kind == ir.KindVariable &&
		f.FieldRole != ir.RoleProtected && !mutationImmuneRoles[f.FieldRole]
	var encoded []byte
	if e.fuzz && mutable && rand.Float64() < fuzzFieldProbability {
		log.Debug("synth: fuzzing field %s", name)
		encoded = randomOctets(length)
	} else {
		encoded = e.encodeField(f, name, value, length)
	}

	if f.FieldRole == ir.RolePayload {
		e.payloadLen += len(encoded)
	}
	e.buf = append(e.buf, encoded...)
}

// encodeField turns one field's effective value into wire bytes. Coupled
// string roles always go out as raw ASCII and the derived length / packet-id
// words as two big-endian octets, whatever encoding the document declared —
// their values are produced internally in those shapes.
func (e *emitter) encodeField(f ir.Field, name, value string, length int) []byte {
	if e.protocol != "modbus" {
		switch f.FieldRole {
		case ir.RoleTopicName, ir.RoleTopicFilter, ir.RoleClientID:
			return []byte(value)
		case ir.RoleTopicLength, ir.RoleTopicFilterLength:
			return encodeWord(value, name, 0x000a)
		case ir.RolePacketID:
			return encodeWord(value, name, 0x0001)
		}
	}
	if f.Encoding == ir.EncodingASCII || f.Encoding == ir.EncodingDNSName {
		// String-shaped fields carry their own natural length; the declared
		// length attribute only bounds the numeric fields.
		return EncodeValue(value, f.Encoding, len(value), f.FieldRole)
	}
	return EncodeValue(value, f.Encoding, length, f.FieldRole)
}

// encodeWord emits a 16-bit big-endian word, substituting def when the value
// is absent or unparseable.
func encodeWord(value, name string, def uint16) []byte {
	n, err := parseIntAnyBase(value)
	if err != nil || n < 0 || n > 0xFFFF {
		if value != "" {
			log.Warn("synth: invalid value %q for %s, using 0x%04x", value, name, def)
		}
		n = int64(def)
	}
	return []byte{byte(n >> 8), byte(n)}
}

func randomOctets(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(rand.Intn(256))
	}
	return out
}

func (e *emitter) resolveRange(lo, hi string) string {
	loVal, errLo := parseIntAnyBase(lo)
	hiVal, errHi := parseIntAnyBase(hi)
	if errLo != nil || errHi != nil || hiVal < loVal {
		return "0x00"
	}
	val := loVal
	if e.fuzz {
		val = loVal + rand.Int63n(hiVal-loVal+1)
	}
	return fmt.Sprintf("0x%x", val)
}

func (e *emitter) drawFn() func(int, int) int {
	if !e.fuzz {
		return nil
	}
	return func(lo, hi int) int {
		if hi <= lo {
			return lo
		}
		return lo + rand.Intn(hi-lo+1)
	}
}

// backpatchMQTT fills the reserved remaining_length slot with the MQTT
// variable-byte-integer encoding of the message's true remaining length. The
// splice may grow or shrink the buffer relative to the reserved placeholder,
// since the variable-byte encoding is 1-4 octets.
func (e *emitter) backpatchMQTT(state string, effective map[string]string) {
	if !e.hasRemainingLen {
		return
	}
	topicLen := fieldByteLen(lookup(effective, state, ir.RoleTopicName), lookup(effective, state, ir.RoleTopicFilter))
	clientIDLen := len([]byte(lookup(effective, state, ir.RoleClientID)))
	n := mqttRemainingLength(state, topicLen, clientIDLen, e.payloadLen, e.hasPacketID)
	e.splice(encodeRemainingLengthMQTT(n))
}

func fieldByteLen(candidates ...string) int {
	for _, c := range candidates {
		if c != "" {
			return len([]byte(c))
		}
	}
	return 0
}

// backpatchDNS fills the reserved 4-octet remaining_length slot with the
// count of octets following that field.
func (e *emitter) backpatchDNS() {
	if !e.hasRemainingLen {
		return
	}
	n := len(e.buf) - e.remainingLenOffset - e.remainingLenSize
	e.splice(encodeRemainingLengthDNS(n))
}

func (e *emitter) splice(encoded []byte) {
	tail := append([]byte{}, e.buf[e.remainingLenOffset+e.remainingLenSize:]...)
	e.buf = append(e.buf[:e.remainingLenOffset], encoded...)
	e.buf = append(e.buf, tail...)
}

// fqName reproduces the fully-qualified field naming scheme of internal/ir's
// field indexer so the effective-value map (keyed by that same scheme) can be
// looked up during emission.
func fqName(state, prefix string, f ir.Field) string {
	return fmt.Sprintf("%s_%s%s_%s", state, prefix, f.FieldRole, f.Type)
}
