package blocksync

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/emberchain/ember/pkg/config"
	"github.com/emberchain/ember/pkg/core/block"
	"github.com/emberchain/ember/pkg/network"
	"github.com/emberchain/ember/pkg/util"
	"go.uber.org/zap"
)

var (
	// ErrFetchTimeout is returned when the coordinator doesn't answer
	// within the configured bound. It's transient, callers may retry.
	ErrFetchTimeout = errors.New("fetch decision timed out")
	// ErrShutdown is returned on requests to a stopped coordinator.
	ErrShutdown = errors.New("coordinator is shut down")

	errNoSession = errors.New("no sync session for this peer")
)

// Ledger abstracts the local committed chain the synchronizer converges to.
type Ledger interface {
	BlockHeight() uint32
	CurrentBlockHash() util.Uint256
	GetBlock(hash util.Uint256) (*block.Block, error)
	GetBlockByHeight(h uint32) (*block.Block, error)
	AddBlock(b *block.Block) error
}

// PeerSyncSession tracks synchronization with one peer. There is at most
// one session per peer in the sync pool and its frontier only grows, From,
// To and Difficulty are running maxima over everything the peer reported.
type PeerSyncSession struct {
	// Peer is the identity of the remote node.
	Peer network.PeerID
	// Difficulty is the chain difficulty the peer claimed.
	Difficulty uint64
	// From is the negotiated height, the highest one both sides agree on.
	From uint32
	// To is the target height the session works toward.
	To uint32
	// Hash is the block hash at From.
	Hash util.Uint256

	// handle identifies the worker driving this session. It's pinned at
	// creation, refreshes by other workers don't take over.
	handle uint32
	// strikes counts fruitless decision rounds against an unappliable
	// pool head.
	strikes int
}

// Coordinator is the single serialization point of the synchronization
// protocol. It owns the sync pool (per-peer sessions) and the hash pool
// (pending/resolved block slots) and serves all mutations from one loop,
// so two sessions can never commit conflicting heights concurrently.
type Coordinator struct {
	log   *zap.Logger
	chain Ledger

	maxBlockBatch  int
	maxDiffForSync uint32
	priority       string
	fetchTimeout   time.Duration

	// The fields below are owned by the run loop, nobody else touches them.
	sessions map[network.PeerID]*PeerSyncSession
	pool     hashPool

	requests chan any
	quit     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
}

// Request payloads served by the run loop. Every resp channel is buffered
// so the loop never blocks on a caller that gave up waiting.
type (
	newHeaderReq struct {
		peer         network.PeerID
		remoteHeight uint32
		difficulty   uint64
		agreedHeight uint32
		agreedHash   util.Uint256
		handle       uint32
		resp         chan bool
	}
	syncInProgressReq struct {
		peer network.PeerID
		resp chan syncInProgressResp
	}
	syncInProgressResp struct {
		session PeerSyncSession
		ok      bool
	}
	updatePoolReq struct {
		entries []*Entry
		resp    chan int
	}
	fetchNextReq struct {
		peer   network.PeerID
		height uint32
		hash   util.Uint256
		last   FetchResult
		resp   chan Instruction
	}
	sessionDoneReq struct {
		peer   network.PeerID
		reason string
		resp   chan struct{}
	}
	sessionsReq struct {
		resp chan []PeerSyncSession
	}
	shouldRelayReq struct {
		peer   network.PeerID
		height uint32
		resp   chan bool
	}
)

// NewCoordinator returns a Coordinator over the given chain. Run must be
// called for it to serve requests.
func NewCoordinator(cfg config.ProtocolConfiguration, chain Ledger, fetchTimeout time.Duration, log *zap.Logger) *Coordinator {
	return &Coordinator{
		log:            log,
		chain:          chain,
		maxBlockBatch:  cfg.MaxBlockBatch,
		maxDiffForSync: cfg.MaxDiffForSync,
		priority:       cfg.SyncPriority,
		fetchTimeout:   fetchTimeout,
		sessions:       make(map[network.PeerID]*PeerSyncSession),
		requests:       make(chan any, 64),
		quit:           make(chan struct{}),
		finished:       make(chan struct{}),
	}
}

// Run serves coordinator requests until Shutdown. It must be called in a
// separate routine.
func (c *Coordinator) Run() {
	defer close(c.finished)
	for {
		select {
		case r := <-c.requests:
			c.handle(r)
		case <-c.quit:
			return
		}
	}
}

// Shutdown stops the coordinator, pending and future requests fail with
// ErrShutdown.
func (c *Coordinator) Shutdown() {
	c.stopOnce.Do(func() {
		close(c.quit)
	})
	<-c.finished
}

func (c *Coordinator) handle(r any) {
	switch r := r.(type) {
	case newHeaderReq:
		r.resp <- c.handleNewHeader(r)
	case syncInProgressReq:
		r.resp <- c.handleSyncInProgress(r)
	case updatePoolReq:
		c.pool.merge(r.entries)
		updatePoolSizeMetric(c.pool.size())
		r.resp <- c.pool.size()
	case fetchNextReq:
		r.resp <- c.handleFetchNext(r)
	case sessionDoneReq:
		c.removeSession(r.peer, r.reason)
		r.resp <- struct{}{}
	case sessionsReq:
		r.resp <- c.handleSessions()
	case shouldRelayReq:
		r.resp <- c.handleShouldRelay(r)
	}
}

func (c *Coordinator) submit(r any) error {
	select {
	case c.requests <- r:
		return nil
	case <-c.quit:
		return ErrShutdown
	}
}

// NewHeader inserts or refreshes the sync session for the given peer,
// never regressing the agreement point and only growing the target and
// difficulty. It returns true when a new session was created, meaning the
// caller is the worker now driving it.
func (c *Coordinator) NewHeader(peer network.PeerID, hdr *block.Header, difficulty uint64, agreedHeight uint32, agreedHash util.Uint256, handle uint32) (bool, error) {
	r := newHeaderReq{
		peer:         peer,
		remoteHeight: hdr.Height,
		difficulty:   difficulty,
		agreedHeight: agreedHeight,
		agreedHash:   agreedHash,
		handle:       handle,
		resp:         make(chan bool, 1),
	}
	if err := c.submit(r); err != nil {
		return false, err
	}
	select {
	case created := <-r.resp:
		return created, nil
	case <-c.quit:
		return false, ErrShutdown
	}
}

func (c *Coordinator) handleNewHeader(r newHeaderReq) bool {
	s := c.sessions[r.peer]
	if s == nil {
		c.sessions[r.peer] = &PeerSyncSession{
			Peer:       r.peer,
			Difficulty: r.difficulty,
			From:       r.agreedHeight,
			To:         r.remoteHeight,
			Hash:       r.agreedHash,
			handle:     r.handle,
		}
		sessionsActive.Set(float64(len(c.sessions)))
		c.log.Info("sync session started",
			zap.String("peer", string(r.peer)),
			zap.Uint32("from", r.agreedHeight),
			zap.Uint32("to", r.remoteHeight))
		return true
	}
	if r.agreedHeight > s.From {
		s.From = r.agreedHeight
		s.Hash = r.agreedHash
	}
	if r.remoteHeight > s.To {
		s.To = r.remoteHeight
	}
	if r.difficulty > s.Difficulty {
		s.Difficulty = r.difficulty
	}
	c.log.Debug("sync session refreshed",
		zap.String("peer", string(r.peer)),
		zap.Uint32("driver", s.handle),
		zap.Uint32("caller", r.handle))
	return false
}

// SyncInProgress returns the session for the given peer, if any.
func (c *Coordinator) SyncInProgress(peer network.PeerID) (PeerSyncSession, bool) {
	r := syncInProgressReq{peer: peer, resp: make(chan syncInProgressResp, 1)}
	if err := c.submit(r); err != nil {
		return PeerSyncSession{}, false
	}
	select {
	case resp := <-r.resp:
		return resp.session, resp.ok
	case <-c.quit:
		return PeerSyncSession{}, false
	}
}

func (c *Coordinator) handleSyncInProgress(r syncInProgressReq) syncInProgressResp {
	if s := c.sessions[r.peer]; s != nil {
		return syncInProgressResp{session: *s, ok: true}
	}
	return syncInProgressResp{}
}

// UpdateHashPool merges the given entries into the hash pool and returns
// its new size.
func (c *Coordinator) UpdateHashPool(entries []*Entry) (int, error) {
	r := updatePoolReq{entries: entries, resp: make(chan int, 1)}
	if err := c.submit(r); err != nil {
		return 0, err
	}
	select {
	case n := <-r.resp:
		return n, nil
	case <-c.quit:
		return 0, ErrShutdown
	}
}

// SessionDone removes the session for the given peer together with the
// hash pool entries it solely owns.
func (c *Coordinator) SessionDone(peer network.PeerID, reason string) {
	r := sessionDoneReq{peer: peer, reason: reason, resp: make(chan struct{}, 1)}
	if err := c.submit(r); err != nil {
		return
	}
	select {
	case <-r.resp:
	case <-c.quit:
	}
}

// Sessions returns a snapshot of the sync pool ordered by the configured
// priority policy (claimed difficulty, lowest first by default).
func (c *Coordinator) Sessions() []PeerSyncSession {
	r := sessionsReq{resp: make(chan []PeerSyncSession, 1)}
	if err := c.submit(r); err != nil {
		return nil
	}
	select {
	case res := <-r.resp:
		return res
	case <-c.quit:
		return nil
	}
}

func (c *Coordinator) handleSessions() []PeerSyncSession {
	res := make([]PeerSyncSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		res = append(res, *s)
	}
	sortSessions(res, c.priority)
	return res
}

// ShouldRelay reports whether a block at the given height is worth
// forwarding to the given peer. A peer known to be far ahead of the block
// doesn't need it.
func (c *Coordinator) ShouldRelay(peer network.PeerID, height uint32) bool {
	r := shouldRelayReq{peer: peer, height: height, resp: make(chan bool, 1)}
	if err := c.submit(r); err != nil {
		return false
	}
	select {
	case ok := <-r.resp:
		return ok
	case <-c.quit:
		return false
	}
}

func (c *Coordinator) handleShouldRelay(r shouldRelayReq) bool {
	s := c.sessions[r.peer]
	if s == nil {
		return true
	}
	return s.To <= r.height || s.To-r.height <= c.maxDiffForSync
}

// FetchNext is the core decision step: it folds the previous fetch outcome
// into the hash pool, advances the committed chain as far as contiguous
// resolved data allows (bounded by MaxBlockBatch) and tells the session
// what to do next. The call is answered within fetchTimeout or fails with
// ErrFetchTimeout, which the caller treats as transient.
func (c *Coordinator) FetchNext(peer network.PeerID, height uint32, hash util.Uint256, last FetchResult) (Instruction, error) {
	r := fetchNextReq{peer: peer, height: height, hash: hash, last: last, resp: make(chan Instruction, 1)}
	timer := time.NewTimer(c.fetchTimeout)
	defer timer.Stop()
	select {
	case c.requests <- r:
	case <-timer.C:
		return Instruction{}, ErrFetchTimeout
	case <-c.quit:
		return Instruction{}, ErrShutdown
	}
	select {
	case instr := <-r.resp:
		return instr, nil
	case <-timer.C:
		return Instruction{}, ErrFetchTimeout
	case <-c.quit:
		return Instruction{}, ErrShutdown
	}
}

func (c *Coordinator) handleFetchNext(r fetchNextReq) Instruction {
	s := c.sessions[r.peer]
	if s == nil {
		return Instruction{Op: OpErr, Err: errNoSession}
	}

	// Another session may have moved the chain, in which case the caller's
	// view is stale and the session record wins.
	height, hash := r.height, r.hash
	if s.From > height {
		height, hash = s.From, s.Hash
	}
	// The chain is linear, so if some other session pushed the tip past
	// this one's agreement point, the tip is the only place to continue
	// from.
	if h := c.chain.BlockHeight(); h > height {
		height, hash = h, c.chain.CurrentBlockHash()
	}

	if r.last.Block != nil {
		b := r.last.Block
		c.pool.merge([]*Entry{{Height: b.Height, Hash: b.Hash(), Owner: r.peer, Block: b}})
	} else if r.last.Err != nil {
		// A failed fetch counts against the session and the failed
		// entry is dropped when it came from this very peer.
		s.strikes++
		c.log.Debug("previous block fetch failed",
			zap.String("peer", string(r.peer)),
			zap.Int("strikes", s.strikes),
			zap.Error(r.last.Err))
		if e := c.pool.pendingByHash(r.last.Target); e != nil && e.Owner == r.peer {
			c.pool.remove(e.Height, e.Hash)
		}
	}

	c.pool.dropBelow(height + 1)
	adds := 0
	for adds < c.maxBlockBatch {
		if !c.advanceOne(&height, &hash) {
			break
		}
		adds++
	}
	if height > s.From {
		s.From = height
		s.Hash = hash
		s.strikes = 0
	}
	updatePoolSizeMetric(c.pool.size())

	switch {
	case s.To <= height:
		c.removeSession(r.peer, "completed")
		return Instruction{Op: OpDone, Height: height, Hash: hash}
	case adds == c.maxBlockBatch:
		// Cap on work per decision, the rest is picked up next round.
		return Instruction{Op: OpInsert, Height: height, Hash: hash}
	case c.pool.size() == 0:
		if adds > 0 {
			return Instruction{Op: OpInsert, Height: height, Hash: hash}
		}
		return Instruction{Op: OpFillPool, Height: height, Hash: hash}
	}

	if s.strikes >= c.maxBlockBatch {
		// Too many fruitless rounds in a row.
		c.removeSession(r.peer, "stuck")
		return Instruction{Op: OpStuck, Height: height + 1}
	}
	if pend := c.pool.pending(); len(pend) > 0 {
		e := pend[rand.Intn(len(pend))]
		return Instruction{Op: OpFetch, Height: height, Hash: hash, Target: e.Hash}
	}
	if len(c.pool.at(height+1)) == 0 {
		// A gap below the remaining entries that nothing can bridge.
		c.removeSession(r.peer, "stuck")
		return Instruction{Op: OpStuck, Height: height + 1}
	}
	// The pool head is resolved but won't commit (fork or validation
	// failure). It's kept for another try, but a session that keeps
	// striking out is terminated.
	s.strikes++
	if s.strikes >= c.maxBlockBatch {
		c.removeSession(r.peer, "stuck")
		return Instruction{Op: OpStuck, Height: height + 1}
	}
	return Instruction{Op: OpInsert, Height: height, Hash: hash}
}

// advanceOne commits a single block at height+1 when a resolved entry
// links to the given hash. It updates height/hash and drops the consumed
// entries on success.
func (c *Coordinator) advanceOne(height *uint32, hash *util.Uint256) bool {
	for _, e := range c.pool.at(*height + 1) {
		if !e.Resolved() {
			continue
		}
		if !e.Block.PrevHash.Equals(*hash) {
			continue
		}
		if err := c.chain.AddBlock(e.Block); err != nil {
			c.log.Warn("failed to commit block",
				zap.Uint32("height", e.Height),
				zap.String("hash", e.Hash.String()),
				zap.Error(err))
			continue
		}
		blocksCommitted.Inc()
		*height, *hash = e.Height, e.Hash
		c.pool.dropBelow(*height + 1)
		return true
	}
	return false
}

func (c *Coordinator) removeSession(peer network.PeerID, reason string) {
	s := c.sessions[peer]
	if s == nil {
		return
	}
	delete(c.sessions, peer)
	c.pool.removeOwnedBy(peer)
	sessionsActive.Set(float64(len(c.sessions)))
	updatePoolSizeMetric(c.pool.size())
	c.log.Info("sync session ended",
		zap.String("peer", string(peer)),
		zap.String("reason", reason),
		zap.Uint32("height", s.From))
}
