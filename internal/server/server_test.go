package server

import (
	"crypto/rand"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralforge/forgecache/pkg/cache"
	"github.com/neuralforge/forgecache/pkg/client"
	"github.com/neuralforge/forgecache/pkg/cluster"
	"github.com/neuralforge/forgecache/pkg/config"
	"github.com/neuralforge/forgecache/pkg/protocol"
)

// testNode is a cache plus a running protocol server on a loopback port.
type testNode struct {
	cache *cache.Cache
	srv   *Server
	host  string
	port  int
}

func (n *testNode) addr() string {
	return net.JoinHostPort(n.host, strconv.Itoa(n.port))
}

func (n *testNode) node() cluster.Node {
	return cluster.Node{Host: n.host, Port: n.port, Capacity: 100 << 20}
}

func startNode(t *testing.T, poolSize int) *testNode {
	t.Helper()
	return startNodeWithCapacity(t, poolSize, 100)
}

// startNodeWithCapacity reserves a loopback port, then brings up a cache and
// server that both agree on it.
func startNodeWithCapacity(t *testing.T, poolSize, capacityMB int) *testNode {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	require.NoError(t, listener.Close())

	cfg := config.Default()
	cfg.Host = host
	cfg.Port = port
	cfg.CapacityMB = capacityMB
	cfg.CacheDir = t.TempDir()
	cfg.DialTimeout = 1
	cfg.ReadTimeout = 2
	cfg.WriteTimeout = 2
	cfg.Retries = 0

	c, err := cache.New(cfg)
	require.NoError(t, err)

	srv := New(cfg.Address(), poolSize, cfg.ReadTimeoutDuration(), cfg.WriteTimeoutDuration(), c)
	go func() {
		if err := srv.Start(); err != nil {
			t.Logf("server stopped: %v", err)
		}
	}()
	t.Cleanup(func() { _ = srv.Stop() })

	waitForListen(t, cfg.Address())
	return &testNode{cache: c, srv: srv, host: host, port: port}
}

func waitForListen(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server at %s never came up", addr)
}

func testClient() *client.Client {
	return client.New(client.Options{
		DialTimeout:  time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func TestGetSetOverWire(t *testing.T) {
	n := startNode(t, 4)
	peers := testClient()

	require.NoError(t, peers.Set(n.addr(), "wire-key", []byte("wire-value"), 0))

	value, present, err := peers.Get(n.addr(), "wire-key")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, []byte("wire-value"), value)

	_, present, err = peers.Get(n.addr(), "nope")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestJoinRegistersPeer(t *testing.T) {
	n := startNode(t, 4)
	peers := testClient()

	require.NoError(t, peers.Join(n.addr(), cluster.Node{Host: "10.9.9.9", Port: 7000, Capacity: 50 << 20}))
	assert.Equal(t, 1, n.cache.Stats().Nodes)

	// Idempotent: rejoining the same identity doesn't grow the table.
	require.NoError(t, peers.Join(n.addr(), cluster.Node{Host: "10.9.9.9", Port: 7000, Capacity: 60 << 20}))
	assert.Equal(t, 1, n.cache.Stats().Nodes)
}

func TestClearOverWireIsFireAndForget(t *testing.T) {
	n := startNode(t, 4)
	peers := testClient()

	require.NoError(t, peers.Set(n.addr(), "doomed", []byte("x"), 0))
	require.NoError(t, peers.Clear(n.addr()))

	// Clear has no response; poll until the node has processed it.
	require.Eventually(t, func() bool {
		_, present, err := peers.Get(n.addr(), "doomed")
		return err == nil && !present
	}, 2*time.Second, 50*time.Millisecond)
	assert.Zero(t, n.cache.Stats().LocalEntries)
}

func TestMalformedRequestDropsOnlyThatConnection(t *testing.T) {
	n := startNode(t, 4)

	conn, err := net.Dial("tcp", n.addr())
	require.NoError(t, err)
	defer conn.Close()

	// A framed payload that is not a valid request.
	_, err = conn.Write([]byte{0, 0, 0, 3, 0xde, 0xad, 0xbe})
	require.NoError(t, err)

	// Server drops the connection without replying.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	assert.Error(t, err, "connection should be closed")

	// The accept loop survived and keeps serving.
	peers := testClient()
	require.NoError(t, peers.Set(n.addr(), "still-alive", []byte("yes"), 0))
}

func TestOversizedValueReturnsWireError(t *testing.T) {
	n := startNodeWithCapacity(t, 4, 1)
	peers := testClient()

	// Random bytes don't compress below the 1 MB capacity.
	value := make([]byte, 2<<20)
	_, err := rand.Read(value)
	require.NoError(t, err)

	err = peers.Set(n.addr(), "huge", value, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds cache capacity")

	_, present, err := peers.Get(n.addr(), "huge")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestWorkerPoolBlocksExcessConnections(t *testing.T) {
	n := startNode(t, 1)

	// First connection seizes the only worker for its lifetime.
	c1, err := net.Dial("tcp", n.addr())
	require.NoError(t, err)
	defer c1.Close()
	require.NoError(t, protocol.WriteRequest(c1, &protocol.Request{Type: protocol.ReqGet, Key: "warm"}))
	_, err = protocol.ReadResponse(c1)
	require.NoError(t, err)

	// Second connection is not admitted while the first is alive.
	c2, err := net.Dial("tcp", n.addr())
	require.NoError(t, err)
	defer c2.Close()
	require.NoError(t, protocol.WriteRequest(c2, &protocol.Request{Type: protocol.ReqGet, Key: "queued"}))

	require.NoError(t, c2.SetReadDeadline(time.Now().Add(500*time.Millisecond)))
	_, err = protocol.ReadResponse(c2)
	require.Error(t, err, "request must stall while the pool is exhausted")

	// Freeing the worker lets the queued connection through.
	require.NoError(t, c1.Close())
	require.NoError(t, c2.SetReadDeadline(time.Now().Add(2*time.Second)))
	resp, err := protocol.ReadResponse(c2)
	require.NoError(t, err)
	assert.Equal(t, protocol.RespValue, resp.Type)
}

// clearCountingPeer is a wire-speaking stub that answers requests and counts
// the clear frames it receives.
func clearCountingPeer(t *testing.T) (cluster.Node, *atomic.Int64) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	var clears atomic.Int64
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				for {
					req, err := protocol.ReadRequest(conn)
					if err != nil {
						return
					}
					if req.Type == protocol.ReqClear {
						clears.Add(1)
						continue
					}
					resp := &protocol.Response{Type: protocol.RespOK}
					if req.Type == protocol.ReqGet {
						resp = &protocol.Response{Type: protocol.RespValue}
					}
					if err := protocol.WriteResponse(conn, resp); err != nil {
						return
					}
				}
			}()
		}
	}()

	host, portStr, err := net.SplitHostPort(listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return cluster.Node{Host: host, Port: port, Capacity: 100 << 20}, &clears
}

// A clear received over the wire clears local tiers only, never the peers of
// the receiver. With mutual membership a re-broadcasting receiver would bounce
// the same notification between nodes without bound.
func TestClearBroadcastIsNotAmplified(t *testing.T) {
	a := startNode(t, 4)
	b := startNode(t, 4)
	peers := testClient()

	// Mutual membership via two one-directional joins.
	require.NoError(t, peers.Join(a.addr(), b.node()))
	require.NoError(t, peers.Join(b.addr(), a.node()))

	// A counting peer known to both nodes sees every clear frame on the wire.
	sink, clears := clearCountingPeer(t)
	require.NoError(t, peers.Join(a.addr(), sink))
	require.NoError(t, peers.Join(b.addr(), sink))

	require.NoError(t, a.cache.Set("k", []byte("v"), 0))
	a.cache.Clear()

	// Only the initiator notifies: one frame from A, none relayed by B.
	require.Eventually(t, func() bool {
		return clears.Load() >= 1
	}, 2*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int64(1), clears.Load())
	assert.Zero(t, a.cache.Stats().LocalEntries)
}

// Three-node scenario: A writes through to the shard the router picks, and a
// third node reading the same key is served over the wire by that shard.
func TestClusterWriteThroughAndRemoteRead(t *testing.T) {
	a := startNode(t, 4)
	b := startNode(t, 4)
	c := startNode(t, 4)
	peers := testClient()

	// A and C both know only B, so B owns every key from their viewpoint.
	require.NoError(t, peers.Join(a.addr(), b.node()))
	require.NoError(t, peers.Join(c.addr(), b.node()))

	require.NoError(t, a.cache.Set("x", []byte("hello"), 0))

	// B received the forwarded write.
	value, present := b.cache.Get("x")
	require.True(t, present)
	require.Equal(t, []byte("hello"), value)

	// C has nothing locally; its get rides the wire to B.
	value, present = c.cache.Get("x")
	require.True(t, present)
	assert.Equal(t, []byte("hello"), value)
}

func TestJoinTriggersRebalanceTowardNewPeer(t *testing.T) {
	a := startNode(t, 4)
	b := startNode(t, 4)
	peers := testClient()

	for _, key := range []string{"k1", "k2", "k3"} {
		require.NoError(t, a.cache.Set(key, []byte("v-"+key), 0))
	}
	fileSize := a.cache.Stats().FileSize
	require.NotZero(t, fileSize)

	// B joins A with zero load and spare capacity: A migrates its entries.
	require.NoError(t, peers.Join(a.addr(), b.node()))

	require.Eventually(t, func() bool {
		return a.cache.Stats().LocalEntries == 0
	}, 3*time.Second, 50*time.Millisecond, "memory entries migrate to the under-loaded peer")

	for _, key := range []string{"k1", "k2", "k3"} {
		value, present := b.cache.Get(key)
		require.True(t, present, "peer holds migrated key %s", key)
		assert.Equal(t, []byte("v-"+key), value)
	}

	// Rebalancing never touches the durable tier.
	assert.Equal(t, fileSize, a.cache.Stats().FileSize)
}
