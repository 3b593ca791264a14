package nip46

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRelayConnQueueFlushedOnConnect(t *testing.T) {
	network := newFakeNetwork(t)
	dial := network.dialer()

	rc := newRelayConn("wss://relay.test", dial,
		func(url string, msg []byte) {}, func(rc *relayConn) {})
	rc.enqueue([]byte("one"))
	rc.enqueue([]byte("two"))

	require.NoError(t, rc.connect(testCtx(t)))
	require.Equal(t, StatusConnected, rc.Status())
	require.True(t, rc.queueEmpty())

	sent := network.latest("wss://relay.test").sentMessages()
	require.Equal(t, [][]byte{[]byte("one"), []byte("two")}, sent)
}

func TestRelayConnDropsWhenDisconnected(t *testing.T) {
	network := newFakeNetwork(t)
	rc := newRelayConn("wss://relay.test", network.dialer(),
		func(url string, msg []byte) {}, func(rc *relayConn) {})

	// unforced send on a never-connected relay is a silent drop
	require.NoError(t, rc.send(testCtx(t), []byte("lost"), false))
	require.Equal(t, 0, network.dialCount("wss://relay.test"))

	// a forced send dials first, then transmits
	require.NoError(t, rc.send(testCtx(t), []byte("urgent"), true))
	require.Equal(t, 1, network.dialCount("wss://relay.test"))
	require.Equal(t, [][]byte{[]byte("urgent")},
		network.latest("wss://relay.test").sentMessages())
}

func TestRelayConnDisconnectFiresOncePerTransition(t *testing.T) {
	network := newFakeNetwork(t)
	var drops int
	rc := newRelayConn("wss://relay.test", network.dialer(),
		func(url string, msg []byte) {}, func(rc *relayConn) { drops++ })

	require.NoError(t, rc.connect(testCtx(t)))

	rc.handleDisconnect()
	rc.handleDisconnect()
	rc.handleDisconnect()
	require.Equal(t, 1, drops)
	require.Equal(t, StatusDisconnected, rc.Status())

	// reconnecting re-arms the notification
	require.NoError(t, rc.connect(testCtx(t)))
	rc.handleDisconnect()
	require.Equal(t, 2, drops)
}

func TestRelayConnReconnectGuard(t *testing.T) {
	network := newFakeNetwork(t)
	rc := newRelayConn("wss://relay.test", network.dialer(),
		func(url string, msg []byte) {}, func(rc *relayConn) {})

	require.True(t, rc.tryBeginReconnect())
	require.False(t, rc.tryBeginReconnect(), "only one attempt may be in flight")
	rc.endReconnect()
	require.True(t, rc.tryBeginReconnect())
	rc.endReconnect()

	rc.close()
	require.False(t, rc.tryBeginReconnect(), "closed connections never reconnect")
	require.Error(t, rc.connect(testCtx(t)))
}
