package udptransport

import (
	"testing"
	"time"

	"github.com/marmos91/nexus/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenAndDial_RoundTrip(t *testing.T) {
	server, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := Dial(server.conn.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	n, err := client.TxBurst([]transport.Packet{{Buf: []byte("ping")}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	deadline := time.Now().Add(2 * time.Second)
	buf := make([]transport.Packet, 1)
	for time.Now().Before(deadline) {
		got, err := server.RxBurst(buf)
		require.NoError(t, err)
		if got == 1 {
			assert.Equal(t, []byte("ping"), buf[0].Buf)
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for datagram")
}

func TestRxBurst_NoDataReturnsZeroPromptly(t *testing.T) {
	server, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	buf := make([]transport.Packet, 4)
	n, err := server.RxBurst(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRegister_AssignsDistinctKeys(t *testing.T) {
	server, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	k1, err := server.Register([]byte("a"))
	require.NoError(t, err)
	k2, err := server.Register([]byte("b"))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestMTUAndMaxBurst(t *testing.T) {
	server, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	assert.Equal(t, defaultMTU, server.MTU())
	assert.Equal(t, defaultMaxBurst, server.MaxBurst())
}
