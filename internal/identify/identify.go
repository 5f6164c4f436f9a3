// Package identify recognizes a received byte buffer as one of an IR
// document's declared messages: a structural constant-field match first,
// then a protocol-specific fast-path, then a first-byte fallback.
package identify

import (
	"sort"

	"github.com/miekg/dns"

	log "github.com/fanrarie/ProtoMind/minilog"
	"github.com/fanrarie/ProtoMind/internal/ir"
	"github.com/fanrarie/ProtoMind/internal/synth"
)

const (
	mqttConnack         = "CONNACK"
	modbusException     = "EXCEPTION_RESPONSE"
	modbusExceptionFlag = 0x80
)

// Identify returns the name of the message buf matches, or "" if none of the
// three strategies recognize it.
func Identify(doc *ir.IR, protocol string, buf []byte) string {
	if name := structuralMatch(doc, buf); name != "" {
		return name
	}
	if name := fastPath(doc, protocol, buf); name != "" {
		return name
	}
	if name := firstByteFallback(doc, buf); name != "" {
		return name
	}
	log.Warn("identify: no message recognized for buffer of %d bytes", len(buf))
	return ""
}

// orderedNames returns message names in document order, falling back to a
// sorted list for IRs constructed without one, so identification is stable
// when more than one message could match a buffer.
func orderedNames(doc *ir.IR) []string {
	if len(doc.MessageOrder) > 0 {
		return doc.MessageOrder
	}
	names := make([]string, 0, len(doc.Messages))
	for name := range doc.Messages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// structuralMatch walks every message's fields, checking only Constant
// octets for byte-exact equality; Variable fields consume their declared
// minimum length without being checked; Group recurses. The first message
// whose constants all match wins.
func structuralMatch(doc *ir.IR, buf []byte) string {
	for _, name := range orderedNames(doc) {
		if matchesFields(doc.Messages[name].Fields, buf, 0) >= 0 {
			return name
		}
	}
	return ""
}

// matchesFields walks fields starting at offset in buf, returning the
// offset just past the last consumed byte, or -1 on a Constant mismatch or
// a Constant that runs past the end of buf. Variable fields are not
// bounds-checked, so the returned offset may exceed len(buf).
func matchesFields(fields []ir.Field, buf []byte, offset int) int {
	for _, f := range fields {
		switch f.Kind {
		case ir.KindGroup:
			offset = matchesFields(f.Subfields, buf, offset)
			if offset < 0 {
				return -1
			}
		case ir.KindConstant:
			want := constantBytes(f)
			if offset+len(want) > len(buf) {
				return -1
			}
			for i, b := range want {
				if buf[offset+i] != b {
					return -1
				}
			}
			offset += len(want)
		case ir.KindVariable:
			n := f.Length.Resolve(nil)
			if n <= 0 {
				n = 1
			}
			offset += n
		}
	}
	return offset
}

func constantBytes(f ir.Field) []byte {
	n := f.Length.Resolve(nil)
	if n <= 0 {
		n = 1
	}
	return synth.EncodeValue(f.Value.Single, f.Encoding, n, f.FieldRole)
}

// fastPath implements protocol-specific shortcuts that are cheaper and more
// reliable than a full structural walk.
func fastPath(doc *ir.IR, protocol string, buf []byte) string {
	switch protocol {
	case "mqtt":
		if len(buf) >= 2 && buf[0] == 0x20 {
			if _, ok := doc.Messages[mqttConnack]; ok {
				return mqttConnack
			}
		}
	case "dns":
		var msg dns.Msg
		if err := msg.Unpack(buf); err != nil {
			log.Debug("identify: dns unpack failed: %v", err)
			return ""
		}
		// The QR bit says which side of the exchange this buffer is; pick
		// the first declared message on that side.
		for _, name := range orderedNames(doc) {
			if (doc.Messages[name].Role == ir.RoleServer) == msg.Response {
				return name
			}
		}
	case "modbus":
		if len(buf) < 2 {
			return ""
		}
		if buf[1]&modbusExceptionFlag != 0 {
			if _, ok := doc.Messages[modbusException]; ok {
				return modbusException
			}
		}
		verifyModbusCRC(buf)
	}
	return ""
}

func verifyModbusCRC(buf []byte) {
	if len(buf) < 4 {
		return
	}
	frame, trailer := buf[:len(buf)-2], buf[len(buf)-2:]
	got := synth.ModbusCRC(frame)
	if got[0] != trailer[0] || got[1] != trailer[1] {
		log.Warn("identify: modbus CRC mismatch on received frame (continuing anyway)")
	}
}

// firstByteFallback finds a message whose first Constant field (field_role
// "field") equals buf's first byte.
func firstByteFallback(doc *ir.IR, buf []byte) string {
	if len(buf) == 0 {
		return ""
	}
	for _, name := range orderedNames(doc) {
		for _, f := range doc.Messages[name].Fields {
			if f.Kind != ir.KindConstant || f.FieldRole != ir.RoleField {
				continue
			}
			want := constantBytes(f)
			if len(want) > 0 && want[0] == buf[0] {
				return name
			}
			break
		}
	}
	return ""
}
