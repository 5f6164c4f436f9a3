package synth

import "math/rand"

// dnsConfig holds the default query domains the generator draws from.
var dnsConfig = struct {
	defaultDomains []string
}{
	defaultDomains: []string{"example.local", "test.local", "mydevice.local"},
}

func dnsDomain(fuzz bool) string {
	if fuzz {
		return dnsConfig.defaultDomains[rand.Intn(len(dnsConfig.defaultDomains))]
	}
	return dnsConfig.defaultDomains[0]
}

// encodeRemainingLengthDNS encodes n as a fixed 4-octet big-endian integer.
func encodeRemainingLengthDNS(n int) []byte {
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}
