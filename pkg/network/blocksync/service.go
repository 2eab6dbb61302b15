package blocksync

import (
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/emberchain/ember/pkg/config"
	"github.com/emberchain/ember/pkg/core/block"
	"github.com/emberchain/ember/pkg/core/mempool"
	"github.com/emberchain/ember/pkg/core/transaction"
	"github.com/emberchain/ember/pkg/network"
	"github.com/emberchain/ember/pkg/util"
)

const (
	// jobQueueSize is the job backlog bound, jobs above it are dropped.
	jobQueueSize = 64
	// maxFetchRetries is the number of consecutive transient coordinator
	// timeouts a session tolerates before giving up.
	maxFetchRetries = 3
	// relayCacheSize is the number of recently relayed (hash, peer)
	// pairs remembered to avoid re-sending.
	relayCacheSize = 1000
)

type jobType uint8

const (
	jobStartSync jobType = iota
	jobFetchMempool
	jobPing
	jobForwardBlock
	jobForwardTx
)

// job is one unit of asynchronous work consumed by the service workers.
type job struct {
	typ        jobType
	peer       network.Peer
	hash       util.Uint256
	difficulty uint64
	block      *block.Block
	tx         *transaction.Transaction
}

type relayKey struct {
	hash util.Uint256
	peer network.PeerID
}

// Service wires the synchronization protocol together: it accepts inbound
// triggers (new headers, connected peers, things to relay), turns them into
// queued jobs and drives per-peer sync sessions against the Coordinator.
type Service struct {
	log     *zap.Logger
	chain   Ledger
	mempool *mempool.Pool
	coord   *Coordinator

	chunkSize    int
	relay        bool
	pingInterval time.Duration
	workers      int

	jobs       chan job
	quit       chan struct{}
	shutdown   *atomic.Bool
	handles    *atomic.Uint32
	relayCache *lru.Cache
}

// NewService returns a new synchronization service using the given config,
// ledger and mempool.
func NewService(cfg config.Config, chain Ledger, mp *mempool.Pool, log *zap.Logger) (*Service, error) {
	if log == nil {
		return nil, errors.New("empty logger")
	}
	cache, err := lru.New(relayCacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		log:          log,
		chain:        chain,
		mempool:      mp,
		coord:        NewCoordinator(cfg.ProtocolConfiguration, chain, cfg.ApplicationConfiguration.FetchTimeoutDuration(), log),
		chunkSize:    cfg.ProtocolConfiguration.HashChunkSize,
		relay:        cfg.ApplicationConfiguration.Relay,
		pingInterval: cfg.ApplicationConfiguration.PingIntervalDuration(),
		workers:      cfg.ApplicationConfiguration.SyncWorkers,
		jobs:         make(chan job, jobQueueSize),
		quit:         make(chan struct{}),
		shutdown:     atomic.NewBool(false),
		handles:      atomic.NewUint32(0),
		relayCache:   cache,
	}, nil
}

// Coordinator returns the coordinator this service drives.
func (s *Service) Coordinator() *Coordinator {
	return s.coord
}

// Start launches the coordinator loop and the job workers.
func (s *Service) Start() {
	s.log.Info("starting block synchronization service",
		zap.Int("workers", s.workers))
	go s.coord.Run()
	for i := 0; i < s.workers; i++ {
		go s.worker()
	}
}

// Shutdown stops the workers and the coordinator. In-flight network calls
// are allowed to finish, their results are discarded.
func (s *Service) Shutdown() {
	if s.shutdown.CAS(false, true) {
		s.log.Info("stopping block synchronization service")
		close(s.quit)
		s.coord.Shutdown()
	}
}

// RequestSync asks the service to synchronize with the given peer that
// announced the given remote tip. It's a no-op if a session for the peer is
// already active.
func (s *Service) RequestSync(p network.Peer, remoteHash util.Uint256, difficulty uint64) {
	s.enqueue(job{typ: jobStartSync, peer: p, hash: remoteHash, difficulty: difficulty})
}

// OnPeerConnected schedules the initial exchange with a fresh peer: its
// mempool is requested and a periodic ping is set up.
func (s *Service) OnPeerConnected(p network.Peer) {
	s.enqueue(job{typ: jobFetchMempool, peer: p})
	s.enqueue(job{typ: jobPing, peer: p})
}

// RelayBlock schedules forwarding of the block to the given peer.
func (s *Service) RelayBlock(b *block.Block, p network.Peer) {
	s.enqueue(job{typ: jobForwardBlock, peer: p, block: b})
}

// RelayTx schedules forwarding of the transaction to the given peer.
func (s *Service) RelayTx(tx *transaction.Transaction, p network.Peer) {
	s.enqueue(job{typ: jobForwardTx, peer: p, tx: tx})
}

func (s *Service) enqueue(j job) {
	select {
	case s.jobs <- j:
	default:
		jobsDropped.Inc()
		s.log.Warn("job queue is full, dropping job",
			zap.String("peer", string(j.peer.ID())))
	}
}

func (s *Service) worker() {
	for {
		select {
		case j := <-s.jobs:
			s.handleJob(j)
		case <-s.quit:
			return
		}
	}
}

func (s *Service) handleJob(j job) {
	switch j.typ {
	case jobStartSync:
		s.handleStartSync(j.peer, j.hash, j.difficulty)
	case jobFetchMempool:
		s.handleFetchMempool(j.peer)
	case jobPing:
		s.handlePing(j.peer)
	case jobForwardBlock:
		s.handleForwardBlock(j.peer, j.block)
	case jobForwardTx:
		s.handleForwardTx(j.peer, j.tx)
	}
}

// handleStartSync negotiates an agreement point with the peer, registers a
// session and drives it to a terminal state. A session already driven by
// another worker is left alone.
func (s *Service) handleStartSync(p network.Peer, remoteHash util.Uint256, difficulty uint64) {
	if _, ok := s.coord.SyncInProgress(p.ID()); ok {
		s.log.Debug("sync already in progress", zap.String("peer", string(p.ID())))
		return
	}
	hdr, err := p.GetHeaderByHash(remoteHash)
	if err != nil {
		s.log.Warn("failed to get remote header",
			zap.String("peer", string(p.ID())),
			zap.Error(err))
		return
	}
	agreedHeight, agreedHash, err := agreeOnHeight(s.chain, p, hdr.Height, hdr.Hash())
	if err != nil {
		s.log.Warn("height negotiation failed",
			zap.String("peer", string(p.ID())),
			zap.Error(err))
		return
	}
	created, err := s.coord.NewHeader(p.ID(), hdr, difficulty, agreedHeight, agreedHash, s.handles.Inc())
	if err != nil {
		return
	}
	if !created {
		// Someone else won the race for this peer.
		return
	}
	s.schedulePing(p)
	if err := s.fetchMore(p, agreedHeight, agreedHash); err != nil {
		s.log.Info("sync session failed",
			zap.String("peer", string(p.ID())),
			zap.Error(err))
	}
}

// fetchMore is the session control loop: it keeps asking the coordinator
// what to do and performs the returned instruction until a terminal one.
func (s *Service) fetchMore(p network.Peer, height uint32, hash util.Uint256) error {
	var (
		last    FetchResult
		retries int
	)
	for {
		instr, err := s.coord.FetchNext(p.ID(), height, hash, last)
		switch {
		case errors.Is(err, ErrFetchTimeout):
			retries++
			if retries >= maxFetchRetries {
				s.coord.SessionDone(p.ID(), "coordinator timeouts")
				return err
			}
			continue
		case err != nil:
			return err
		}
		retries = 0
		last = FetchResult{}
		height, hash = instr.Height, instr.Hash

		switch instr.Op {
		case OpFetch:
			b, err := s.resolveBlock(p, instr.Target)
			last = FetchResult{Block: b, Target: instr.Target, Err: err}
		case OpInsert:
			// Nothing to do, poll again.
		case OpFillPool:
			hashes, err := p.GetSuccessorHashes(hash, s.chunkSize)
			if err != nil {
				s.coord.SessionDone(p.ID(), "failed to get successor hashes")
				return err
			}
			if len(hashes) == 0 {
				s.coord.SessionDone(p.ID(), "peer has nothing further")
				return nil
			}
			entries := make([]*Entry, len(hashes))
			for i, h := range hashes {
				entries[i] = &Entry{
					Height: height + uint32(i) + 1,
					Hash:   h,
					Owner:  p.ID(),
				}
			}
			if _, err := s.coord.UpdateHashPool(entries); err != nil {
				return err
			}
		case OpDone:
			return nil
		case OpStuck:
			return fmt.Errorf("sync is stuck at height %d", instr.Height)
		case OpErr:
			return instr.Err
		}
	}
}

// resolveBlock retrieves the block with the given hash, checking the local
// chain first and falling back to the peer. A peer returning a block whose
// hash differs from the requested one is a fetch failure, the block is
// discarded.
func (s *Service) resolveBlock(p network.Peer, target util.Uint256) (*block.Block, error) {
	if b, err := s.chain.GetBlock(target); err == nil {
		return b, nil
	}
	b, err := p.GetBlock(target)
	if err != nil {
		return nil, err
	}
	if !b.Hash().Equals(target) {
		return nil, fmt.Errorf("peer %s returned block %s instead of %s",
			p.ID(), b.Hash().String(), target.String())
	}
	return b, nil
}

func (s *Service) handleFetchMempool(p network.Peer) {
	txs, err := p.GetMempool()
	if err != nil {
		s.log.Warn("failed to get remote mempool",
			zap.String("peer", string(p.ID())),
			zap.Error(err))
		return
	}
	var added int
	for _, tx := range txs {
		if err := s.mempool.Add(tx); err == nil {
			added++
		}
	}
	s.log.Debug("remote mempool merged",
		zap.String("peer", string(p.ID())),
		zap.Int("received", len(txs)),
		zap.Int("added", added))
}

func (s *Service) handlePing(p network.Peer) {
	if err := p.Ping(); err != nil {
		s.log.Info("peer failed to answer ping",
			zap.String("peer", string(p.ID())),
			zap.Error(err))
		s.coord.SessionDone(p.ID(), "ping failed")
		return
	}
	s.schedulePing(p)
}

// schedulePing re-arms the periodic ping for the peer.
func (s *Service) schedulePing(p network.Peer) {
	if s.pingInterval <= 0 {
		return
	}
	time.AfterFunc(s.pingInterval, func() {
		if !s.shutdown.Load() {
			s.enqueue(job{typ: jobPing, peer: p})
		}
	})
}

func (s *Service) handleForwardBlock(p network.Peer, b *block.Block) {
	if !s.relay {
		return
	}
	key := relayKey{hash: b.Hash(), peer: p.ID()}
	if s.relayCache.Contains(key) {
		return
	}
	if !s.coord.ShouldRelay(p.ID(), b.Height) {
		relaySkipped.Inc()
		s.log.Debug("peer is too far ahead, not forwarding block",
			zap.String("peer", string(p.ID())),
			zap.Uint32("height", b.Height))
		return
	}
	if err := p.SendBlock(b); err != nil {
		s.log.Warn("failed to forward block",
			zap.String("peer", string(p.ID())),
			zap.Error(err))
		return
	}
	s.relayCache.Add(key, struct{}{})
	blocksRelayed.Inc()
}

func (s *Service) handleForwardTx(p network.Peer, tx *transaction.Transaction) {
	if !s.relay {
		return
	}
	if err := p.SendTx(tx); err != nil {
		s.log.Warn("failed to forward transaction",
			zap.String("peer", string(p.ID())),
			zap.Error(err))
	}
}
