package driver

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fanrarie/ProtoMind/internal/ir"
	"github.com/fanrarie/ProtoMind/internal/transport"
)

const testMQTTIR = `<IR>
  <message name="CONNECT" role="client">
    <constant field_role="field" type="B" length="1" value="0x10" />
    <variable field_role="remaining_length" type="B" length="1" />
    <variable field_role="client_id_length" type="H" length="2" value="0x0000" />
    <variable field_role="client_id" type="ascii" length="1:23" encoding="ascii" value="test-client" />
  </message>
  <message name="CONNACK" role="server">
    <constant field_role="field" type="B" length="1" value="0x20" />
    <constant field_role="remaining_length" type="B" length="1" value="0x02" />
  </message>
  <message name="DISCONNECT" role="client">
    <constant field_role="field" type="B" length="1" value="0xE0" />
    <constant field_role="remaining_length" type="B" length="1" value="0x00" />
  </message>
  <statemachine>
    <INIT_STATE role="client">
      <CONNECT role="client" />
    </INIT_STATE>
    <CONNECT role="client">
      <CONNACK role="server" />
    </CONNECT>
    <CONNACK role="server">
      <DISCONNECT role="client" />
    </CONNACK>
    <DISCONNECT role="client">
      <CONNECT role="client" />
    </DISCONNECT>
  </statemachine>
</IR>`

func loadTestDoc(t *testing.T) *ir.IR {
	t.Helper()
	f := t.TempDir() + "/mqtt.xml"
	require.NoError(t, os.WriteFile(f, []byte(testMQTTIR), 0o644))
	doc, err := ir.Load(f)
	require.NoError(t, err)
	return doc
}

// fakeTransport is a minimal in-memory stand-in for transport.Transport: it
// always connects successfully, hands out its queued replies one per Receive
// in order, and times out (ok=false) once they are used up.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	sent      [][]byte
	replies   [][]byte
}

func (f *fakeTransport) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	f.closed = false
	return nil
}

func (f *fakeTransport) Send(buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte{}, buf...)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeTransport) Receive() ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return nil, false, nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, true, nil
}

func (f *fakeTransport) Healthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected && !f.closed
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestRunDrivesConnectConnackDisconnect(t *testing.T) {
	doc := loadTestDoc(t)

	fake := &fakeTransport{replies: [][]byte{{0x20, 0x02, 0x00, 0x00}}}
	origNewTransport := newTransport
	newTransport = func(transport.Config) (transport.Transport, error) { return fake, nil }
	defer func() { newTransport = origNewTransport }()

	capturePath := t.TempDir() + "/session.pcap"
	path, err := Run(Config{
		Doc:         doc,
		Protocol:    "mqtt",
		CapturePath: capturePath,
		Timeout:     150 * time.Millisecond,
		MaxRetries:  3,
	})
	require.NoError(t, err)
	require.Equal(t, capturePath, path)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.NotEmpty(t, fake.sent, "expected the driver to have sent at least one packet")
	require.Equal(t, byte(0x10), fake.sent[0][0], "first send should be the MQTT CONNECT fixed header")

	_, statErr := os.Stat(capturePath)
	require.NoError(t, statErr, "expected a capture file to be written")
}

func TestRunStopsAfterMaxRetriesOnNoResponse(t *testing.T) {
	doc := loadTestDoc(t)

	fake := &fakeTransport{}
	origNewTransport := newTransport
	newTransport = func(transport.Config) (transport.Transport, error) { return fake, nil }
	defer func() { newTransport = origNewTransport }()

	start := time.Now()
	_, err := Run(Config{
		Doc:         doc,
		Protocol:    "mqtt",
		CapturePath: t.TempDir() + "/session.pcap",
		Timeout:     5 * time.Second,
		MaxRetries:  2,
	})
	require.NoError(t, err)
	require.Less(t, time.Since(start), 5*time.Second, "max_retries should end the session well before the timeout elapses")

	// Every timeout resets the conversation to the entry state, so with no
	// replies at all the driver only ever re-sends CONNECT — it must not
	// wander on to DISCONNECT as if CONNACK had arrived.
	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.NotEmpty(t, fake.sent)
	for i, frame := range fake.sent {
		require.Equal(t, byte(0x10), frame[0], "send %d should be a CONNECT retry", i)
	}
}
