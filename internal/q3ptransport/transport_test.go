package q3ptransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aitqkd/q3pcore/internal/q3pmsg"
)

func TestListenDialRoundTrip(t *testing.T) {
	ln, err := Listen(PeerURI{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.Addr().String()
	host, port := splitForTest(t, addr)

	accepted := make(chan *Transport, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- conn
	}()

	client, err := Dial(context.Background(), PeerURI{Host: host, Port: port})
	require.NoError(t, err)
	defer client.Close()

	var server *Transport
	select {
	case server = <-accepted:
	case err := <-acceptErr:
		t.Fatalf("accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
	defer server.Close()

	msg := q3pmsg.New(1, q3pmsg.ProtocolData, 42, []byte("q3p over tcp"))
	wire := msg.Marshal()

	require.NoError(t, client.WriteFrame(wire))
	got, err := server.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, wire, got)

	decoded, err := q3pmsg.Unmarshal(got, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), decoded.Header.MessageID)
	assert.Equal(t, "q3p over tcp", string(decoded.Payload))
}

func TestWriteFrameRejectsOversizedFrame(t *testing.T) {
	ln, err := Listen(PeerURI{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	defer ln.Close()
	host, port := splitForTest(t, ln.Addr().String())

	client, err := Dial(context.Background(), PeerURI{Host: host, Port: port})
	require.NoError(t, err)
	defer client.Close()

	oversized := make([]byte, PacketMaxSize+1)
	err = client.WriteFrame(oversized)
	require.Error(t, err)
}

func TestWriteFrameRejectsUnderSizedFrame(t *testing.T) {
	ln, err := Listen(PeerURI{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	defer ln.Close()
	host, port := splitForTest(t, ln.Addr().String())

	client, err := Dial(context.Background(), PeerURI{Host: host, Port: port})
	require.NoError(t, err)
	defer client.Close()

	err = client.WriteFrame([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestReadFrameSurfacesConnectionLoss(t *testing.T) {
	ln, err := Listen(PeerURI{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)
	defer ln.Close()
	host, port := splitForTest(t, ln.Addr().String())

	accepted := make(chan *Transport, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		accepted <- conn
	}()

	client, err := Dial(context.Background(), PeerURI{Host: host, Port: port})
	require.NoError(t, err)

	server := <-accepted
	defer server.Close()

	client.Close()
	_, err = server.ReadFrame()
	require.Error(t, err)
}

func splitForTest(t *testing.T, addr string) (string, uint16) {
	t.Helper()
	u, err := ParsePeerURI("tcp://" + addr)
	require.NoError(t, err)
	return u.Host, u.Port
}
