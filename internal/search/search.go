// Package search implements the C2 parallel search engine: partitioning a
// nonce range across local cores, racing the hash kernel across them with
// bounded-latency cooperative cancellation, and reporting the winner (or
// the "none" sentinel) per spec.md §4.2.
//
// The task/result shape here is adapted from the teacher's work/agent.go
// (CpuAgent.Work/mine/Stop): one goroutine per sub-range, all racing to
// publish a single Result, with a shared stop signal substituting for
// CpuAgent's quitCurrentOp channel.
package search

import (
	"context"
	"math/big"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/hashpool/btcmine/internal/header"
	"github.com/hashpool/btcmine/internal/log"
	"github.com/hashpool/btcmine/internal/partition"
)

var logger = log.NewModuleLogger("search")

// Metrics for search progress, mirroring the teacher's
// metrics.NewRegisteredCounter("miner/timelimitreached", nil) idiom in
// work/worker.go.
var (
	hashesTotal     = metrics.NewRegisteredCounter("search/hashes_total", nil)
	nonceFoundTotal = metrics.NewRegisteredCounter("search/nonce_found_total", nil)
)

// Result is the outcome of a Search. Found == false is the "none" sentinel
// returned when no nonce in the range satisfies the target. spec.md §9
// flags the need for an explicit 33rd-value representation rather than a
// magic string; Result.Found does that job.
type Result struct {
	Found bool
	Nonce uint32
}

// progress is the per-task "last nonce tried" counter read by the
// observational progress reporter (spec.md §4.2).
type progress struct {
	last uint64 // atomic
}

// Engine partitions [lo, hi) across GOMAXPROCS-ish cores and races the
// hash kernel. Cancellation is via ctx: every task checks ctx and the
// shared found flag once every cancellationStride nonces, so it stops
// within that many hash attempts of a cancel or another task's hit.
type Engine struct {
	Cores int // 0 means auto-detect, per spec.md §4.2
}

// NewEngine returns an Engine using one core fewer than the machine has,
// at minimum 1, matching spec.md §4.2 ("typically cpu_count - 1") and the
// original source's max(multiprocessing.cpu_count() - 1, 1).
func NewEngine() *Engine {
	return &Engine{Cores: 0}
}

func (e *Engine) cores() int {
	if e.Cores > 0 {
		return e.Cores
	}
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return n
}

// Search looks for a nonce in [lo, hi) whose double-SHA256 header hash is
// strictly less than target, using the given header prefix. It returns
// Result{Found: false} if the whole range is exhausted with no hit.
//
// lo and hi are uint64 because the full nonce space's exclusive upper
// bound, 2^32, does not fit in a uint32; individual nonces tried are still
// plain uint32 values.
//
// Any valid nonce is acceptable (spec.md §4.2: "prioritizes throughput
// over strict smallest-nonce ordering"), so the winner is whichever task
// publishes first.
func (e *Engine) Search(ctx context.Context, prefix header.Prefix, target *big.Int, lo, hi uint64) Result {
	n := e.cores()
	ranges := partition.Split(lo, hi, n)

	var (
		wg         sync.WaitGroup
		foundFlag  int32 // atomic: 0 = not found, 1 = found
		foundNonce uint32
	)

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	progresses := make([]*progress, len(ranges))
	for i := range progresses {
		progresses[i] = &progress{}
	}

	reportDone := make(chan struct{})
	go reportProgress(taskCtx, progresses, reportDone)

	for i, r := range ranges {
		if r.Width() == 0 {
			continue
		}
		wg.Add(1)
		go func(idx int, r partition.Range) {
			defer wg.Done()
			searchSubrange(taskCtx, prefix, target, r.Start, r.End, progresses[idx], &foundFlag, &foundNonce, cancel)
		}(i, r)
	}

	wg.Wait()
	close(reportDone)

	if atomic.LoadInt32(&foundFlag) == 1 {
		nonceFoundTotal.Inc(1)
		return Result{Found: true, Nonce: atomic.LoadUint32(&foundNonce)}
	}
	return Result{Found: false}
}

// cancellationStride bounds how many hashes a task computes between
// early-exit flag checks, keeping cancellation latency to a small
// constant number of hashes as spec.md §4.2 requires.
const cancellationStride = 256

func searchSubrange(
	ctx context.Context,
	prefix header.Prefix,
	target *big.Int,
	lo, hi uint64,
	p *progress,
	foundFlag *int32,
	foundNonce *uint32,
	cancel context.CancelFunc,
) {
	defer func() {
		if r := recover(); r != nil {
			// Worker-internal error (spec.md §7): isolated to this task; the
			// join in Search simply treats the sub-range as exhausted.
			logger.Error("search task panicked", "err", r)
		}
	}()

	var hashes uint64
	for nonce := lo; nonce < hi; nonce++ {
		if nonce%cancellationStride == 0 {
			select {
			case <-ctx.Done():
				hashesTotal.Inc(int64(hashes))
				return
			default:
			}
			if atomic.LoadInt32(foundFlag) == 1 {
				hashesTotal.Inc(int64(hashes))
				return
			}
		}

		n32 := uint32(nonce)
		ok, _ := header.Valid(prefix, n32, target)
		hashes++
		atomic.StoreUint64(&p.last, nonce)

		if ok {
			if atomic.CompareAndSwapInt32(foundFlag, 0, 1) {
				atomic.StoreUint32(foundNonce, n32)
				cancel()
			}
			hashesTotal.Inc(int64(hashes))
			return
		}
	}
	hashesTotal.Inc(int64(hashes))
}

// reportProgress samples each task's last-tried nonce at >= 5s intervals.
// This is purely observational and never blocks the searching goroutines,
// satisfying spec.md §4.2.
func reportProgress(ctx context.Context, progresses []*progress, done <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			samples := make([]uint64, len(progresses))
			for i, p := range progresses {
				samples[i] = atomic.LoadUint64(&p.last)
			}
			logger.Debug("search progress", "tasks", len(samples), "lastNonces", samples,
				"hashesTotal", hashesTotal.Count(), "nonceFoundTotal", nonceFoundTotal.Count())
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}
