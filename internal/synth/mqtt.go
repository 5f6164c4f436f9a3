package synth

import (
	"fmt"
	"math/rand"
)

// mqttConfig holds the default values the generator falls back to when a
// field has no caller override.
var mqttConfig = struct {
	defaultTopics   []string
	defaultClientID string
	qosLevel        int
}{
	defaultTopics:   []string{"test/topic", "my/topic", "device/data"},
	defaultClientID: "test-client-id",
	qosLevel:        0,
}

// mqttClientIDLimit is the MQTT v3.1.1 client-identifier length limit. Only
// client_id is truncated this way; no other field gets an implicit limit.
const mqttClientIDLimit = 23

func mqttTopic(fuzz bool) string {
	if fuzz {
		return mqttConfig.defaultTopics[rand.Intn(len(mqttConfig.defaultTopics))]
	}
	return mqttConfig.defaultTopics[0]
}

func mqttClientID(fuzz bool) string {
	id := mqttConfig.defaultClientID
	if fuzz {
		id = fmt.Sprintf("client-%d", 1000+rand.Intn(9000))
	}
	if len(id) > mqttClientIDLimit {
		id = id[:mqttClientIDLimit]
	}
	return id
}

func mqttKeepAlive(fuzz bool) string {
	if fuzz {
		return fmt.Sprintf("0x%04x", 1+rand.Intn(0x3c))
	}
	return "0x003c"
}

func mqttPacketID() string {
	return fmt.Sprintf("0x%04x", 1+rand.Intn(0xFFFF))
}

// encodeRemainingLengthMQTT encodes n as an MQTT variable-byte integer, up
// to 4 octets.
func encodeRemainingLengthMQTT(n int) []byte {
	var out []byte
	for {
		digit := byte(n % 128)
		n /= 128
		if n > 0 {
			digit |= 0x80
		}
		out = append(out, digit)
		if n == 0 {
			break
		}
	}
	return out
}

// mqttRemainingLength computes the derived remaining-length value for the
// named state: the octet count of the variable header plus payload that
// follow the fixed header.
func mqttRemainingLength(state string, topicLen, clientIDLen, payloadLen int, hasPacketID bool) int {
	switch state {
	case "PUBLISH":
		packetIDLen := 0
		if hasPacketID && mqttConfig.qosLevel > 0 {
			packetIDLen = 2
		}
		return 2 + topicLen + packetIDLen + payloadLen
	case "SUBSCRIBE":
		return 2 + 2 + topicLen + 1
	case "UNSUBSCRIBE":
		return 2 + 2 + topicLen
	case "CONNECT":
		return 2 + 4 + 1 + 1 + 2 + 2 + clientIDLen
	case "DISCONNECT":
		return 0
	default:
		return 0
	}
}
