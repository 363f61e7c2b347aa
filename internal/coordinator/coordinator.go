// Package coordinator implements the C4 coordinator session (accept
// streams, track workers, dispatch templates and ranges, verify and
// submit found nonces) and the C5 tip monitor (poll the node, rebuild the
// candidate block on height change), per spec.md §4.4 / §4.5.
//
// spec.md §5 describes the coordinator's mutation of the worker set and
// CandidateBlock as happening "only on the coordinator's single-threaded
// event loop, so no locks are required." Go's net/http server instead
// runs one goroutine per accepted connection, so this package serializes
// the same mutations with a single mutex rather than an event loop —
// the same guarantee (total order, no races), a different mechanism. This
// is recorded as an open-question resolution in DESIGN.md.
package coordinator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/hashpool/btcmine/internal/blockbuilder"
	"github.com/hashpool/btcmine/internal/header"
	"github.com/hashpool/btcmine/internal/log"
	"github.com/hashpool/btcmine/internal/notify"
	"github.com/hashpool/btcmine/internal/partition"
	"github.com/hashpool/btcmine/internal/protocol"
	"github.com/hashpool/btcmine/internal/rpcclient"
	"github.com/hashpool/btcmine/internal/stream"
)

var logger = log.NewModuleLogger("coordinator")

// tipPollInterval is spec.md §4.5's fixed poll cadence; there is no
// exponential backoff, the poll interval is the cap.
const tipPollInterval = 5 * time.Second

// nonceSpaceEnd is the exclusive upper bound of the full 32-bit nonce
// space partitioned across workers (spec.md §3's NonceRange invariant).
const nonceSpaceEnd = uint64(1) << 32

// workerSession is the coordinator-side record of one connected worker
// (spec.md §3's WorkerSession): identity is the accepted stream, plus its
// currently assigned range.
type workerSession struct {
	conn *stream.Conn
	rng  protocol.RangeAssignment
}

// Server is the coordinator process: one listener, one RPC client, one
// CandidateBlock, and the set of accepted streams (spec.md §5).
type Server struct {
	mu      sync.Mutex
	workers []*workerSession
	current *blockbuilder.CandidateBlock

	cachedHeight int64

	rpc       *rpcclient.Client
	notifier  *notify.Notifier
	minerAddr btcutil.Address
}

// NewServer returns a Server. minerAddr is the already-decoded address the
// coinbase pays; rpc and notifier are the node RPC client and the
// (possibly no-op) operator notifier.
func NewServer(rpc *rpcclient.Client, notifier *notify.Notifier, minerAddr btcutil.Address) *Server {
	return &Server{
		rpc:          rpc,
		notifier:     notifier,
		minerAddr:    minerAddr,
		cachedHeight: -1,
	}
}

// ListenAndServe binds addr and serves worker connections until ctx is
// cancelled, then shuts down gracefully (spec.md §6's SIGINT/SIGTERM
// handling, implemented by the caller cancelling ctx).
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{Addr: addr, Handler: s}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ServeHTTP accepts and drives one worker's stream for its entire
// lifetime (spec.md §4.4).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := stream.Accept(w, r)
	if err != nil {
		logger.Warn("accept failed", "err", err)
		return
	}

	ws := &workerSession{conn: conn}

	s.mu.Lock()
	s.workers = append(s.workers, ws)
	s.rebalanceLocked()
	initial := s.currentHeightChangedLocked()
	count := len(s.workers)
	s.mu.Unlock()

	logger.Info("worker connected", "workers", count)

	if initial != nil {
		if err := conn.Send(protocol.EventHeightChanged, *initial); err != nil {
			logger.Warn("failed to send initial height_changed", "err", err)
		}
	}

	s.receiveLoop(ws)

	s.mu.Lock()
	s.removeWorkerLocked(ws)
	s.rebalanceLocked()
	count = len(s.workers)
	s.mu.Unlock()

	_ = conn.Close()
	logger.Info("worker disconnected", "workers", count)
}

// receiveLoop handles inbound events from one worker until its stream
// fails (spec.md §4.4's inbound event table).
func (s *Server) receiveLoop(ws *workerSession) {
	for {
		f, err := ws.conn.Recv()
		if err != nil {
			return
		}

		switch f.Event {
		case protocol.EventNonceFound:
			var nf protocol.NonceFound
			if err := json.Unmarshal(f.Message, &nf); err != nil {
				logger.Warn("malformed nonce_found", "err", err)
				continue
			}
			s.handleNonceFound(nf)

		case protocol.EventPing:
			text := fmt.Sprintf("Ping back: %s", string(f.Message))
			if err := ws.conn.Send(protocol.EventPing, text); err != nil {
				logger.Warn("ping echo failed", "err", err)
			}

		case protocol.EventIterationDone:
			// Reserved, inert in this coordinator (spec.md §4.6 / §9).

		default:
			logger.Warn("unknown event", "event", f.Event)
		}
	}
}

// handleNonceFound is spec.md §4.4's nonce_found handler: patch the
// current CandidateBlock, validate, and submit or discard.
func (s *Server) handleNonceFound(nf protocol.NonceFound) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb := s.current
	if cb == nil {
		logger.Warn("nonce_found with no current candidate block", "nonce", nf.Nonce)
		return
	}

	cb.ApplyNonce(nf.Nonce, nf.Timestamp)
	if !cb.IsValid() {
		logger.Warn("rejected invalid nonce", "nonce", nf.Nonce, "height", cb.Height)
		return
	}

	hexBlock, err := cb.SerializeHex()
	if err != nil {
		logger.Error("failed to serialize candidate block", "err", err)
		return
	}

	if err := s.rpc.SubmitBlock(hexBlock); err != nil {
		logger.Error("submitblock failed", "err", err, "height", cb.Height)
		s.notifier.Notify(fmt.Sprintf("submitblock failed at height %d: %v", cb.Height, err))
		return
	}

	logger.Info("block submitted", "height", cb.Height, "nonce", nf.Nonce)
	s.notifier.Notify(fmt.Sprintf("block submitted at height %d", cb.Height))
}

// rebalanceLocked recomputes and sends every connected worker's range,
// per the range partitioning policy of spec.md §4.4. Called with s.mu
// held; invoked on every membership change and on every new template.
func (s *Server) rebalanceLocked() {
	n := len(s.workers)
	if n == 0 {
		return
	}
	ranges := partition.Split(0, nonceSpaceEnd, n)
	for i, ws := range s.workers {
		ws.rng = protocol.RangeAssignment{Start: ranges[i].Start, End: ranges[i].End}
		if err := ws.conn.Send(protocol.EventRangeAssignment, ws.rng); err != nil {
			logger.Warn("failed to send range_assignment", "err", err)
		}
	}
}

func (s *Server) removeWorkerLocked(target *workerSession) {
	for i, ws := range s.workers {
		if ws == target {
			s.workers = append(s.workers[:i], s.workers[i+1:]...)
			return
		}
	}
}

// currentHeightChangedLocked returns the wire form of the current mining
// template, or nil if no candidate block has been built yet.
func (s *Server) currentHeightChangedLocked() *protocol.HeightChanged {
	if s.current == nil {
		return nil
	}
	hc := toWireTemplate(s.current.MiningTemplate())
	return &hc
}

func toWireTemplate(mt header.Template) protocol.HeightChanged {
	return protocol.HeightChanged{
		Version:        mt.Version,
		PrevBlock:      hex.EncodeToString(mt.PrevBlock[:]),
		MrklRoot:       hex.EncodeToString(mt.MrklRoot[:]),
		Timestamp:      mt.Timestamp,
		BitsDifficulty: mt.BitsDifficulty,
	}
}

// RunTipMonitor is C5: poll getblockchaininfo every 5 seconds and rebuild
// the candidate block on height change (spec.md §4.5). Blocks until ctx
// is cancelled.
func (s *Server) RunTipMonitor(ctx context.Context) {
	ticker := time.NewTicker(tipPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollTip()
		}
	}
}

func (s *Server) pollTip() {
	info, err := s.rpc.GetBlockchainInfo()
	if err != nil {
		logger.Warn("getblockchaininfo failed", "err", err)
		return
	}

	s.mu.Lock()
	cached := s.cachedHeight
	s.mu.Unlock()
	if info.Blocks == cached {
		return
	}

	tmpl, err := s.rpc.GetBlockTemplate()
	if err != nil {
		logger.Warn("getblocktemplate failed", "err", err)
		return
	}

	cb, err := blockbuilder.Build(tmpl, s.minerAddr)
	if err != nil {
		logger.Warn("failed to build candidate block", "err", err)
		return
	}

	s.mu.Lock()
	s.cachedHeight = info.Blocks
	s.current = cb
	hc := toWireTemplate(cb.MiningTemplate())
	// Dispatch ordering contract (spec.md §4.4): range_assignment to every
	// worker first, then height_changed with the new template.
	s.rebalanceLocked()
	for _, ws := range s.workers {
		if err := ws.conn.Send(protocol.EventHeightChanged, hc); err != nil {
			logger.Warn("failed to send height_changed", "err", err)
		}
	}
	s.mu.Unlock()

	logger.Info("new candidate block", "height", cb.Height, "tipHeight", info.Blocks)
}
