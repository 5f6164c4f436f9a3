package synth

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/fanrarie/ProtoMind/internal/ir"
)

const testConnectIR = `<IR>
  <message name="CONNECT" role="client">
    <constant field_role="field" type="B" length="1" value="0x10" />
    <variable field_role="remaining_length" type="B" length="1:4" />
    <variable field_role="client_id_length" type="H" length="2" value="0x0000" />
    <variable field_role="client_id" type="ascii" length="1:23" encoding="ascii" value="test-client-id" />
  </message>
  <message name="CONNACK" role="server">
    <constant field_role="field" type="B" length="1" value="0x20" />
    <constant field_role="remaining_length" type="B" length="1" value="0x02" />
  </message>
  <statemachine>
    <INIT_STATE role="client">
      <CONNECT role="client" />
    </INIT_STATE>
    <CONNECT role="client">
      <CONNACK role="server" />
    </CONNECT>
    <CONNACK role="server">
      <CONNECT role="client" />
    </CONNACK>
  </statemachine>
</IR>`

func loadTestDoc(t *testing.T) *ir.IR {
	t.Helper()
	f := t.TempDir() + "/mqtt.xml"
	if err := os.WriteFile(f, []byte(testConnectIR), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	out, err := ir.Load(f)
	if err != nil {
		t.Fatalf("ir.Load: %v", err)
	}
	return out
}

func TestSynthesizeConnectStartsWithFixedHeader(t *testing.T) {
	doc := loadTestDoc(t)
	s := New("mqtt")

	packet, ok := s.Synthesize(doc, "CONNECT", nil, false)
	if !ok {
		t.Fatal("expected synthesis to succeed")
	}
	if len(packet) == 0 {
		t.Fatal("expected a non-empty packet")
	}
	if packet[0] != 0x10 {
		t.Fatalf("expected fixed header 0x10, got 0x%02x", packet[0])
	}
}

func TestSynthesizeUnsubscribeWithNothingSubscribedReturnsFalse(t *testing.T) {
	doc := loadSubscribeDoc(t)
	s := New("mqtt")

	if _, ok := s.Synthesize(doc, "UNSUBSCRIBE", nil, false); ok {
		t.Fatal("expected UNSUBSCRIBE with no prior SUBSCRIBE to fail")
	}
}

func TestSynthesizeUnknownStateReturnsFalse(t *testing.T) {
	doc := loadTestDoc(t)
	s := New("mqtt")

	if _, ok := s.Synthesize(doc, "NOT_A_STATE", nil, false); ok {
		t.Fatal("expected synthesis of an undeclared state to fail")
	}
}

func TestSynthesizeHonorsOverride(t *testing.T) {
	doc := loadTestDoc(t)
	s := New("mqtt")

	overrides := map[string]string{"CONNECT_client_id_ascii": "override-id"}
	packet, ok := s.Synthesize(doc, "CONNECT", overrides, false)
	if !ok {
		t.Fatal("expected synthesis to succeed")
	}
	if !strings.Contains(string(packet), "override-id") {
		t.Fatalf("expected packet to contain overridden client id, got % x", packet)
	}
}

func TestSynthesizeSubscribeThenUnsubscribeSucceeds(t *testing.T) {
	doc := loadSubscribeDoc(t)
	s := New("mqtt")

	if _, ok := s.Synthesize(doc, "SUBSCRIBE", nil, false); !ok {
		t.Fatal("expected SUBSCRIBE to succeed")
	}
	if _, ok := s.Synthesize(doc, "UNSUBSCRIBE", nil, false); !ok {
		t.Fatal("expected UNSUBSCRIBE to succeed once a topic is subscribed")
	}
}

const fullConnectIR = `<IR>
  <message name="CONNECT" role="client">
    <constant field_role="field" type="B" length="1" value="0x10" />
    <variable field_role="remaining_length" type="B" length="1:4" />
    <constant field_role="field" type="B" length="7" value="0x00044D51545404" />
    <constant field_role="connect_flags" type="B" length="1" value="0x02" />
    <variable field_role="keep_alive" type="H" length="2" value="0x003c" />
    <variable field_role="client_id_length" type="H" length="2" value="0x0000" />
    <variable field_role="client_id" type="ascii" length="1:23" encoding="ascii" value="test-client-id" />
  </message>
  <statemachine>
    <INIT_STATE role="client"><CONNECT role="client" /></INIT_STATE>
    <CONNECT role="client"><CONNECT role="client" /></CONNECT>
  </statemachine>
</IR>`

func TestSynthesizeConnectExactBytesWithOverride(t *testing.T) {
	f := t.TempDir() + "/mqtt-full.xml"
	if err := os.WriteFile(f, []byte(fullConnectIR), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	doc, err := ir.Load(f)
	if err != nil {
		t.Fatalf("ir.Load: %v", err)
	}

	s := New("mqtt")
	overrides := map[string]string{"CONNECT_client_id_ascii": "abc"}
	packet, ok := s.Synthesize(doc, "CONNECT", overrides, false)
	if !ok {
		t.Fatal("expected synthesis to succeed")
	}

	want := []byte{
		0x10, 0x0F,
		0x00, 0x04, 'M', 'Q', 'T', 'T', 0x04,
		0x02,
		0x00, 0x3C,
		0x00, 0x03,
		'a', 'b', 'c',
	}
	if !bytes.Equal(packet, want) {
		t.Fatalf("CONNECT = % x, want % x", packet, want)
	}
}

func TestSynthesizeDeterministicWithoutFuzz(t *testing.T) {
	f := t.TempDir() + "/mqtt-full.xml"
	if err := os.WriteFile(f, []byte(fullConnectIR), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	doc, err := ir.Load(f)
	if err != nil {
		t.Fatalf("ir.Load: %v", err)
	}

	s := New("mqtt")
	first, ok := s.Synthesize(doc, "CONNECT", nil, false)
	if !ok {
		t.Fatal("first synthesis failed")
	}
	second, ok := s.Synthesize(doc, "CONNECT", nil, false)
	if !ok {
		t.Fatal("second synthesis failed")
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("non-fuzz synthesis not deterministic:\n % x\n % x", first, second)
	}
}

const modbusReadIR = `<IR>
  <message name="READ_HOLDING_REGISTERS_REQUEST" role="client">
    <constant field_role="slave_id" type="B" length="1" value="0x01" />
    <constant field_role="function_code" type="B" length="1" value="0x03" />
    <constant field_role="address" type="H" length="2" value="0x0000" />
    <constant field_role="quantity" type="H" length="2" value="0x0001" />
  </message>
  <message name="READ_HOLDING_REGISTERS_RESPONSE" role="server">
    <constant field_role="slave_id" type="B" length="1" value="0x01" />
    <constant field_role="function_code" type="B" length="1" value="0x03" />
  </message>
  <statemachine>
    <INIT_STATE role="client">
      <READ_HOLDING_REGISTERS_REQUEST role="client" />
    </INIT_STATE>
    <READ_HOLDING_REGISTERS_REQUEST role="client">
      <READ_HOLDING_REGISTERS_RESPONSE role="server" />
    </READ_HOLDING_REGISTERS_REQUEST>
    <READ_HOLDING_REGISTERS_RESPONSE role="server">
      <READ_HOLDING_REGISTERS_REQUEST role="client" />
    </READ_HOLDING_REGISTERS_RESPONSE>
  </statemachine>
</IR>`

func TestSynthesizeModbusAppendsCRCTrailer(t *testing.T) {
	f := t.TempDir() + "/modbus.xml"
	if err := os.WriteFile(f, []byte(modbusReadIR), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	doc, err := ir.Load(f)
	if err != nil {
		t.Fatalf("ir.Load: %v", err)
	}

	s := New("modbus")
	packet, ok := s.Synthesize(doc, "READ_HOLDING_REGISTERS_REQUEST", nil, false)
	if !ok {
		t.Fatal("expected synthesis to succeed")
	}

	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01, 0x84, 0x0A}
	if !bytes.Equal(packet, want) {
		t.Fatalf("modbus request = % x, want % x", packet, want)
	}
}

const dnsQueryIR = `<IR>
  <message name="DNS_QUERY" role="client">
    <variable field_role="remaining_length" type="B" length="4" />
    <variable field_role="query_domain" type="B" length="1:255" encoding="dns-name" value="example.local" />
    <constant field_role="field" type="H" length="2" value="0x0001" />
    <constant field_role="field" type="H" length="2" value="0x0001" />
  </message>
  <statemachine>
    <INIT_STATE role="client"><DNS_QUERY role="client" /></INIT_STATE>
    <DNS_QUERY role="client"><DNS_QUERY role="client" /></DNS_QUERY>
  </statemachine>
</IR>`

func TestSynthesizeDNSQueryLengthPrefixAndLabels(t *testing.T) {
	f := t.TempDir() + "/dns.xml"
	if err := os.WriteFile(f, []byte(dnsQueryIR), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	doc, err := ir.Load(f)
	if err != nil {
		t.Fatalf("ir.Load: %v", err)
	}

	s := New("dns")
	packet, ok := s.Synthesize(doc, "DNS_QUERY", nil, false)
	if !ok {
		t.Fatal("expected synthesis to succeed")
	}

	name := []byte{
		7, 'e', 'x', 'a', 'm', 'p', 'l', 'e',
		5, 'l', 'o', 'c', 'a', 'l',
		0,
	}
	want := append([]byte{0x00, 0x00, 0x00, 0x13}, name...)
	want = append(want, 0x00, 0x01, 0x00, 0x01)
	if !bytes.Equal(packet, want) {
		t.Fatalf("dns query = % x, want % x", packet, want)
	}
}

const testSubscribeIR = `<IR>
  <message name="SUBSCRIBE" role="client">
    <constant field_role="field" type="B" length="1" value="0x82" />
    <variable field_role="remaining_length" type="B" length="1:4" />
    <variable field_role="packet_id" type="H" length="2" encoding="optional" />
    <variable field_role="topic_filter_length" type="H" length="2" value="0x0000" />
    <variable field_role="topic_filter" type="B" length="1:64" encoding="ascii" value="test/topic" />
    <constant field_role="field" type="B" length="1" value="0x00" />
  </message>
  <message name="UNSUBSCRIBE" role="client">
    <constant field_role="field" type="B" length="1" value="0xA2" />
    <variable field_role="remaining_length" type="B" length="1:4" />
    <variable field_role="packet_id" type="H" length="2" encoding="optional" />
    <variable field_role="topic_filter_length" type="H" length="2" value="0x0000" />
    <variable field_role="topic_filter" type="B" length="1:64" encoding="ascii" value="test/topic" />
  </message>
  <statemachine>
    <INIT_STATE role="client"><SUBSCRIBE role="client" /></INIT_STATE>
    <SUBSCRIBE role="client"><UNSUBSCRIBE role="client" /></SUBSCRIBE>
    <UNSUBSCRIBE role="client"><SUBSCRIBE role="client" /></UNSUBSCRIBE>
  </statemachine>
</IR>`

func loadSubscribeDoc(t *testing.T) *ir.IR {
	t.Helper()
	f := t.TempDir() + "/mqtt-sub.xml"
	if err := os.WriteFile(f, []byte(testSubscribeIR), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	out, err := ir.Load(f)
	if err != nil {
		t.Fatalf("ir.Load: %v", err)
	}
	return out
}
