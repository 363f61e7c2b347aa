// Package worker implements the C3 worker session: one outbound stream to
// the coordinator, the receive loop, job execution driving C2, keep-alive,
// and reconnect-with-retry, per spec.md §4.3. The state machine in that
// section (DISCONNECTED -> IDLE -> SEARCHING) is implemented as the
// control flow of Session.Run rather than an explicit state enum, the same
// shape as the teacher's work/worker.go update loop.
package worker

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashpool/btcmine/internal/config"
	"github.com/hashpool/btcmine/internal/header"
	"github.com/hashpool/btcmine/internal/log"
	"github.com/hashpool/btcmine/internal/protocol"
	"github.com/hashpool/btcmine/internal/search"
	"github.com/hashpool/btcmine/internal/stream"
)

var logger = log.NewModuleLogger("worker")

// reconnectDelay is spec.md §4.3's fixed reconnect backoff.
const reconnectDelay = 10 * time.Second

// keepAliveInterval is spec.md §4.3's ping cadence.
const keepAliveInterval = 5 * time.Second

// Session drives one worker process's connection to the coordinator.
type Session struct {
	cfg    *config.WorkerConfig
	engine *search.Engine
}

// NewSession returns a Session that will dial cfg.ServerURL.
func NewSession(cfg *config.WorkerConfig) *Session {
	return &Session{cfg: cfg, engine: search.NewEngine()}
}

// Run is the top-level connect/retry loop. It blocks until ctx is
// cancelled (process shutdown, spec.md §6).
func (s *Session) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := stream.Dial(s.cfg.ServerURL)
		if err != nil {
			logger.Warn("connect failed, retrying", "url", s.cfg.ServerURL, "err", err, "delay", reconnectDelay)
			if !sleepOrDone(ctx, reconnectDelay) {
				return
			}
			continue
		}

		logger.Info("connected", "url", s.cfg.ServerURL)
		s.runConnection(ctx, conn)

		if ctx.Err() != nil {
			return
		}
		logger.Info("stream lost, reconnecting", "delay", reconnectDelay)
		if !sleepOrDone(ctx, reconnectDelay) {
			return
		}
	}
}

// sleepOrDone waits for d or ctx cancellation, returning false if cancelled.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// runConnection drives one live connection until it fails or ctx is done.
func (s *Session) runConnection(ctx context.Context, conn *stream.Conn) {
	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()
	defer conn.Close()

	frames := make(chan protocol.Frame)
	recvErr := make(chan error, 1)
	go func() {
		for {
			f, err := conn.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case frames <- f:
			case <-connCtx.Done():
				return
			}
		}
	}()

	pingTicker := time.NewTicker(keepAliveInterval)
	defer pingTicker.Stop()

	var (
		haveRange    bool
		currentRange protocol.RangeAssignment
		activeCancel context.CancelFunc
		activeDone   chan struct{}
	)
	stopActiveJob := func() {
		if activeCancel == nil {
			return
		}
		activeCancel()
		<-activeDone
		activeCancel = nil
		activeDone = nil
	}
	defer stopActiveJob()

	for {
		select {
		case <-ctx.Done():
			stopActiveJob()
			return

		case err := <-recvErr:
			logger.Warn("stream receive failed", "err", err)
			stopActiveJob()
			return

		case <-pingTicker.C:
			if err := conn.Send(protocol.EventPing, 1); err != nil {
				logger.Warn("ping send failed", "err", err)
			}

		case f := <-frames:
			switch f.Event {
			case protocol.EventRangeAssignment:
				var ra protocol.RangeAssignment
				if err := json.Unmarshal(f.Message, &ra); err != nil {
					logger.Warn("malformed range_assignment", "err", err)
					continue
				}
				currentRange = ra
				haveRange = true

			case protocol.EventHeightChanged:
				var hc protocol.HeightChanged
				if err := json.Unmarshal(f.Message, &hc); err != nil {
					logger.Warn("malformed height_changed", "err", err)
					continue
				}
				stopActiveJob()
				if !haveRange {
					logger.Warn("height_changed received with no range assigned yet, skipping job")
					continue
				}
				tmpl, err := decodeTemplate(hc)
				if err != nil {
					logger.Warn("malformed height_changed template fields", "err", err)
					continue
				}

				jobCtx, jobCancel := context.WithCancel(connCtx)
				done := make(chan struct{})
				activeCancel = jobCancel
				activeDone = done
				rng := currentRange
				go func() {
					defer close(done)
					s.runJob(jobCtx, conn, tmpl, rng)
				}()

			case protocol.EventPing:
				// Coordinator's echo of our keep-alive; discarded per
				// spec.md §4.3 ("Any server response is discarded").

			default:
				logger.Warn("unknown event", "event", f.Event)
			}
		}
	}
}

// runJob is the MiningJob loop of spec.md §4.3: search the assigned range,
// and on exhaustion bump the timestamp and retry, until a hit, cancellation,
// or the stream drops.
func (s *Session) runJob(ctx context.Context, conn *stream.Conn, tmpl header.Template, rng protocol.RangeAssignment) {
	for {
		if ctx.Err() != nil {
			return
		}

		prefix := header.BuildPrefix(tmpl)
		target := header.TargetFromCompact(tmpl.BitsDifficulty)
		res := s.engine.Search(ctx, prefix, target, rng.Start, rng.End)

		if ctx.Err() != nil {
			return
		}

		if res.Found {
			payload := protocol.NonceFound{Nonce: res.Nonce, Timestamp: tmpl.Timestamp}
			if err := conn.Send(protocol.EventNonceFound, payload); err != nil {
				logger.Warn("failed to send nonce_found", "err", err)
			}
			return
		}

		tmpl.Timestamp++
	}
}

// decodeTemplate parses a height_changed payload's hex-encoded 256-bit
// hashes into the fixed-size fields header.Template expects.
func decodeTemplate(hc protocol.HeightChanged) (header.Template, error) {
	prevBlock, err := decodeHash(hc.PrevBlock)
	if err != nil {
		return header.Template{}, err
	}
	mrklRoot, err := decodeHash(hc.MrklRoot)
	if err != nil {
		return header.Template{}, err
	}
	return header.Template{
		Version:        hc.Version,
		PrevBlock:      prevBlock,
		MrklRoot:       mrklRoot,
		Timestamp:      hc.Timestamp,
		BitsDifficulty: hc.BitsDifficulty,
	}, nil
}

// decodeHash parses a hex-encoded 32-byte hash in the same byte order it
// was broadcast in (spec.md §4.1: header fields are carried little-endian
// on the wire, and this spec does not reverse them for transport).
func decodeHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
