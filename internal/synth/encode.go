// Package synth assembles byte-accurate wire messages for client-origin
// protocol states: per-field value encoding, packet layout, derived length
// back-patching, and optional field-level mutation.
package synth

import (
	"strconv"
	"strings"

	log "github.com/fanrarie/ProtoMind/minilog"
	"github.com/fanrarie/ProtoMind/internal/ir"
)

// EncodeValue turns a typed field value into wire bytes under an encoding
// mode. All failures are non-fatal: they log a warning and return zero-filled
// bytes of the requested length rather than propagating an error. The
// optional mode is the exception: an unparseable value falls back to 0x0001.
func EncodeValue(value string, enc ir.Encoding, length int, role ir.FieldRole) []byte {
	switch enc {
	case ir.EncodingDNSName:
		return encodeDNSName(value, length)
	case ir.EncodingASCII:
		return []byte(value)
	case ir.EncodingOptional:
		return encodeOptional(value, role)
	case ir.EncodingHex:
		return encodeHex(value, length, role)
	default:
		log.Warn("synth: unsupported encoding %q, falling back to hex", enc)
		return encodeHex(value, length, role)
	}
}

func encodeDNSName(value string, length int) []byte {
	var out []byte
	for _, label := range strings.Split(value, ".") {
		if label == "" {
			continue
		}
		if len(label) > 63 {
			log.Warn("synth: dns label %q exceeds 63 octets, using zero-filled bytes", label)
			if length <= 0 {
				length = 1
			}
			return make([]byte, length)
		}
		out = append(out, byte(len(label)))
		out = append(out, []byte(label)...)
	}
	out = append(out, 0x00)
	return out
}

// encodeOptional is the MQTT packet_id rule: the field is elided entirely
// when the session QoS is 0, otherwise two big-endian octets clamped to
// [1, 65535] with 0x0001 as the fallback on parse failure.
func encodeOptional(value string, role ir.FieldRole) []byte {
	if role == ir.RolePacketID && mqttConfig.qosLevel == 0 {
		return nil
	}
	if value == "" {
		return nil
	}
	n, err := parseIntAnyBase(value)
	switch {
	case err != nil:
		log.Warn("synth: invalid value %q for %s (encoding: optional), using default 0x0001", value, role)
		n = 1
	case n < 1:
		log.Warn("synth: value %q for %s (encoding: optional) below range, clamping to 0x0001", value, role)
		n = 1
	case n > 0xFFFF:
		log.Warn("synth: value %q for %s (encoding: optional) above range, clamping to 0xffff", value, role)
		n = 0xFFFF
	}
	return []byte{byte(n >> 8), byte(n)}
}

func encodeHex(value string, length int, role ir.FieldRole) []byte {
	if length <= 0 {
		length = 1
	}
	n, err := parseIntAnyBase(value)
	if err != nil {
		log.Warn("synth: invalid value %q for %s (encoding: hex), using default 0x00", value, role)
		return make([]byte, length)
	}
	out := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		out[i] = byte(n)
		n >>= 8
	}
	if n != 0 && n != -1 {
		log.Warn("synth: value %q for %s does not fit in %d octets, keeping the low-order octets", value, role, length)
	}
	return out
}

func parseIntAnyBase(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseInt(s[2:], 16, 64)
	}
	if strings.HasPrefix(s, "0b") || strings.HasPrefix(s, "0B") {
		return strconv.ParseInt(s[2:], 2, 64)
	}
	return strconv.ParseInt(s, 16, 64) // bare tokens in this IR format are hex
}
