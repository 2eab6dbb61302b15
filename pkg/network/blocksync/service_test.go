package blocksync

import (
	"errors"
	"testing"
	"time"

	"github.com/emberchain/ember/internal/fakechain"
	"github.com/emberchain/ember/pkg/config"
	"github.com/emberchain/ember/pkg/core"
	"github.com/emberchain/ember/pkg/core/block"
	"github.com/emberchain/ember/pkg/core/mempool"
	"github.com/emberchain/ember/pkg/core/storage"
	"github.com/emberchain/ember/pkg/core/transaction"
	"github.com/emberchain/ember/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() config.Config {
	cfg := config.Config{
		ProtocolConfiguration:    config.DefaultProtocolConfiguration(),
		ApplicationConfiguration: config.DefaultApplicationConfiguration(),
	}
	// Pings are driven explicitly in tests.
	cfg.ApplicationConfiguration.PingInterval = 0
	return cfg
}

func newTestService(t *testing.T, chain Ledger) *Service {
	s, err := NewService(testConfig(), chain, mempool.New(100), zaptest.NewLogger(t))
	require.NoError(t, err)
	s.Start()
	t.Cleanup(s.Shutdown)
	return s
}

func TestServiceSyncWithPeer(t *testing.T) {
	blocks := fakechain.MakeChain(16)
	bc, err := core.NewBlockchain(storage.NewMemoryStore(), zaptest.NewLogger(t))
	require.NoError(t, err)
	for _, b := range blocks[1:11] {
		require.NoError(t, bc.AddBlock(b))
	}
	s := newTestService(t, bc)

	p := fakechain.NewFakePeer("p1", blocks)
	s.handleStartSync(p, p.Top().Hash(), 100)

	assert.Equal(t, uint32(15), bc.BlockHeight())
	assert.Equal(t, blocks[15].Hash(), bc.CurrentBlockHash())
	_, ok := s.coord.SyncInProgress("p1")
	assert.False(t, ok, "a completed session should be gone")
}

func TestServiceSyncFromGenesis(t *testing.T) {
	chain := fakechain.NewFakeChain()
	s := newTestService(t, chain)

	// More blocks than one hash chunk, the pool gets refilled on the way.
	cfg := testConfig()
	blocks := fakechain.MakeChain(cfg.ProtocolConfiguration.HashChunkSize + 51)
	p := fakechain.NewFakePeer("p1", blocks)
	s.handleStartSync(p, p.Top().Hash(), 100)

	assert.Equal(t, p.Top().Height, chain.BlockHeight())
	_, ok := s.coord.SyncInProgress("p1")
	assert.False(t, ok)
}

func TestServiceSyncAlreadyInProgress(t *testing.T) {
	chain := fakechain.NewFakeChain()
	s := newTestService(t, chain)
	blocks := fakechain.MakeChain(6)
	p := fakechain.NewFakePeer("p1", blocks)

	_, err := s.coord.NewHeader("p1", &blocks[5].Header, 1, 0, blocks[0].Hash(), 1)
	require.NoError(t, err)

	s.handleStartSync(p, p.Top().Hash(), 100)
	assert.Equal(t, 0, p.HeaderCalls(), "the active session should short-circuit the request")
	assert.Equal(t, uint32(0), chain.BlockHeight())
}

func TestServiceSyncHeaderFailure(t *testing.T) {
	chain := fakechain.NewFakeChain()
	s := newTestService(t, chain)
	blocks := fakechain.MakeChain(6)
	p := fakechain.NewFakePeer("p1", blocks)
	p.HeaderErr = errors.New("connection reset")

	s.handleStartSync(p, p.Top().Hash(), 100)
	_, ok := s.coord.SyncInProgress("p1")
	assert.False(t, ok, "no session should appear when the header can't be retrieved")
}

func TestServicePeerExhausted(t *testing.T) {
	blocks := fakechain.MakeChain(16)
	chain := fakechain.NewFakeChain()
	for _, b := range blocks[1:11] {
		require.NoError(t, chain.AddBlock(b))
	}
	s := newTestService(t, chain)

	// The peer claims height 15 but only serves up to 10, so the first
	// pool refill comes back empty.
	p := fakechain.NewFakePeer("p1", blocks[:11])
	_, err := s.coord.NewHeader("p1", &blocks[15].Header, 1, 10, blocks[10].Hash(), 1)
	require.NoError(t, err)

	require.NoError(t, s.fetchMore(p, 10, blocks[10].Hash()))
	_, ok := s.coord.SyncInProgress("p1")
	assert.False(t, ok)
	assert.Equal(t, uint32(10), chain.BlockHeight())
}

func TestServiceSuccessorFetchFailure(t *testing.T) {
	blocks := fakechain.MakeChain(16)
	chain := fakechain.NewFakeChain()
	for _, b := range blocks[1:11] {
		require.NoError(t, chain.AddBlock(b))
	}
	s := newTestService(t, chain)

	p := fakechain.NewFakePeer("p1", blocks)
	p.SuccErr = errors.New("connection reset")
	_, err := s.coord.NewHeader("p1", &blocks[15].Header, 1, 10, blocks[10].Hash(), 1)
	require.NoError(t, err)

	require.Error(t, s.fetchMore(p, 10, blocks[10].Hash()))
	_, ok := s.coord.SyncInProgress("p1")
	assert.False(t, ok)
}

func TestServiceSyncDeadPeerEnds(t *testing.T) {
	blocks := fakechain.MakeChain(16)
	chain := fakechain.NewFakeChain()
	for _, b := range blocks[1:11] {
		require.NoError(t, chain.AddBlock(b))
	}
	s := newTestService(t, chain)

	// The peer announces hashes fine but every block fetch fails. The
	// session must end instead of hammering it forever.
	p := fakechain.NewFakePeer("p1", blocks)
	p.BlockErr = errors.New("connection reset")
	s.handleStartSync(p, p.Top().Hash(), 100)

	_, ok := s.coord.SyncInProgress("p1")
	assert.False(t, ok)
	assert.Equal(t, uint32(10), chain.BlockHeight())
}

// gatedLedger blocks every AddBlock until the gate is closed.
type gatedLedger struct {
	*fakechain.FakeChain
	gate chan struct{}
}

func (c *gatedLedger) AddBlock(b *block.Block) error {
	<-c.gate
	return c.FakeChain.AddBlock(b)
}

func TestServiceRepeatedTimeoutsEndSession(t *testing.T) {
	chain := &gatedLedger{FakeChain: fakechain.NewFakeChain(), gate: make(chan struct{})}
	s, err := NewService(testConfig(), chain, mempool.New(100), zaptest.NewLogger(t))
	require.NoError(t, err)
	s.coord = NewCoordinator(testConfig().ProtocolConfiguration, chain, 20*time.Millisecond, zaptest.NewLogger(t))
	s.Start()
	t.Cleanup(s.Shutdown)

	blocks := fakechain.MakeChain(3)
	p := fakechain.NewFakePeer("p1", blocks)
	_, err = s.coord.NewHeader("p1", &blocks[2].Header, 1, 0, blocks[0].Hash(), 1)
	require.NoError(t, err)
	_, err = s.coord.UpdateHashPool([]*Entry{resolvedEntry(blocks[1], "p1")})
	require.NoError(t, err)

	// The first decision wedges the coordinator on the commit, so the
	// loop keeps timing out until the gate opens again.
	time.AfterFunc(250*time.Millisecond, func() { close(chain.gate) })
	err = s.fetchMore(p, 0, blocks[0].Hash())
	require.ErrorIs(t, err, ErrFetchTimeout)

	_, ok := s.coord.SyncInProgress("p1")
	require.False(t, ok, "repeated timeouts must end the session")
}

func TestServiceResolveBlock(t *testing.T) {
	blocks := fakechain.MakeChain(6)
	chain := fakechain.NewFakeChain()
	for _, b := range blocks[1:3] {
		require.NoError(t, chain.AddBlock(b))
	}
	s := newTestService(t, chain)
	p := fakechain.NewFakePeer("p1", blocks)

	// Locally committed blocks don't hit the network.
	p.BlockErr = errors.New("connection reset")
	b, err := s.resolveBlock(p, blocks[2].Hash())
	require.NoError(t, err)
	assert.Equal(t, blocks[2].Hash(), b.Hash())

	// Remote blocks do.
	p.BlockErr = nil
	b, err = s.resolveBlock(p, blocks[4].Hash())
	require.NoError(t, err)
	assert.Equal(t, blocks[4].Hash(), b.Hash())

	// A block not matching the requested hash is discarded.
	fork := fakechain.ExtendChain(blocks[:4], 1, 42)
	p.WrongBlockFor = map[util.Uint256]*block.Block{blocks[5].Hash(): fork[4]}
	b, err = s.resolveBlock(p, blocks[5].Hash())
	require.Error(t, err)
	assert.Nil(t, b)
}

func TestServiceFetchMempool(t *testing.T) {
	chain := fakechain.NewFakeChain()
	s := newTestService(t, chain)

	txs := []*transaction.Transaction{
		transaction.New([]byte{1, 2, 3}, 1),
		transaction.New([]byte{4, 5, 6}, 2),
	}
	p := fakechain.NewFakePeer("p1", fakechain.MakeChain(1))
	p.Mempool = txs

	s.OnPeerConnected(p)
	require.Eventually(t, func() bool {
		return s.mempool.Count() == 2
	}, time.Second, 10*time.Millisecond)
	assert.True(t, s.mempool.ContainsKey(txs[0].Hash()))
	assert.True(t, s.mempool.ContainsKey(txs[1].Hash()))
}

func TestServicePingFailureEndsSession(t *testing.T) {
	chain := fakechain.NewFakeChain()
	s := newTestService(t, chain)
	blocks := fakechain.MakeChain(6)

	p := fakechain.NewFakePeer("p1", blocks)
	_, err := s.coord.NewHeader("p1", &blocks[5].Header, 1, 0, blocks[0].Hash(), 1)
	require.NoError(t, err)

	p.PingErr = errors.New("timed out")
	s.handlePing(p)
	_, ok := s.coord.SyncInProgress("p1")
	assert.False(t, ok)
}

func TestServiceForwardBlock(t *testing.T) {
	chain := fakechain.NewFakeChain()
	s := newTestService(t, chain)
	p := fakechain.NewFakePeer("p1", fakechain.MakeChain(1))

	_, err := s.coord.NewHeader("p1", &block.Header{Height: 160}, 1, 0, chain.CurrentBlockHash(), 1)
	require.NoError(t, err)

	far := &block.Block{Header: block.Header{Height: 100, Nonce: 1}}
	near := &block.Block{Header: block.Header{Height: 120, Nonce: 2}}

	s.handleForwardBlock(p, far)
	assert.Empty(t, p.SentBlocks(), "the peer is too far ahead for this block")

	s.handleForwardBlock(p, near)
	require.Len(t, p.SentBlocks(), 1)
	assert.Equal(t, near.Hash(), p.SentBlocks()[0].Hash())

	// Re-forwarding the same block to the same peer is suppressed.
	s.handleForwardBlock(p, near)
	assert.Len(t, p.SentBlocks(), 1)
}

func TestServiceForwardTx(t *testing.T) {
	chain := fakechain.NewFakeChain()
	s := newTestService(t, chain)
	p := fakechain.NewFakePeer("p1", fakechain.MakeChain(1))

	// Transactions go out regardless of the peer's sync distance.
	_, err := s.coord.NewHeader("p1", &block.Header{Height: 160}, 1, 0, chain.CurrentBlockHash(), 1)
	require.NoError(t, err)

	tx := transaction.New([]byte{1, 2, 3}, 1)
	s.handleForwardTx(p, tx)
	require.Len(t, p.SentTxs(), 1)
	assert.Equal(t, tx.Hash(), p.SentTxs()[0].Hash())
}

func TestServiceRelayDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.ApplicationConfiguration.Relay = false
	s, err := NewService(cfg, fakechain.NewFakeChain(), mempool.New(100), zaptest.NewLogger(t))
	require.NoError(t, err)
	s.Start()
	t.Cleanup(s.Shutdown)

	p := fakechain.NewFakePeer("p1", fakechain.MakeChain(1))
	s.handleForwardBlock(p, &block.Block{Header: block.Header{Height: 1, Nonce: 1}})
	s.handleForwardTx(p, transaction.New([]byte{1}, 1))
	assert.Empty(t, p.SentBlocks())
	assert.Empty(t, p.SentTxs())
}

func TestServiceJobQueueOverflow(t *testing.T) {
	// The service isn't started, nothing drains the queue.
	s, err := NewService(testConfig(), fakechain.NewFakeChain(), mempool.New(100), zaptest.NewLogger(t))
	require.NoError(t, err)

	p := fakechain.NewFakePeer("p1", fakechain.MakeChain(1))
	tx := transaction.New([]byte{1}, 1)
	for i := 0; i < jobQueueSize+10; i++ {
		s.RelayTx(tx, p)
	}
	// Overflowing jobs are dropped, not blocked on.
	assert.Equal(t, jobQueueSize, len(s.jobs))
}

func TestServiceShutdownIdempotent(t *testing.T) {
	s, err := NewService(testConfig(), fakechain.NewFakeChain(), mempool.New(100), zaptest.NewLogger(t))
	require.NoError(t, err)
	s.Start()
	s.Shutdown()
	s.Shutdown()
}
