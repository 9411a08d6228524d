package worker

import (
	"context"
	"errors"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/state"
)

// miningOperations handles mining. A cycle starts when a submit signals
// the worker or when the poll interval elapses.
func (w *Worker) miningOperations() {
	w.evHandler("worker: miningOperations: G started")
	defer w.evHandler("worker: miningOperations: G completed")

	for {
		select {
		case <-w.startMining:
		case <-w.ticker.C:
		case <-w.shut:
			w.evHandler("worker: miningOperations: received shut signal")
			return
		}

		if !w.isShutdown() {
			w.runMiningOperation()
		}
	}
}

// runMiningOperation mines blocks until the mempool is empty, mining is
// halted, or a shutdown is signaled.
func (w *Worker) runMiningOperation() {
	if w.state.Halted() {
		return
	}

	// Create a context so mining can be cancelled by a shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// This G exists to cancel the mining operation.
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-w.shut:
			w.evHandler("worker: runMiningOperation: MINING: CANCEL: requested")
			cancel()
		case <-done:
		}
	}()

	for ctx.Err() == nil {
		t := time.Now()
		block, err := w.state.MineNewBlock(ctx)
		duration := time.Since(t)

		if err != nil {
			switch {
			case errors.Is(err, state.ErrNoTransactions):
				return

			case errors.Is(err, state.ErrMiningTimeout):
				w.evHandler("worker: runMiningOperation: MINING: TIMEOUT: retrying: duration[%v]", duration)
				continue

			case ctx.Err() != nil:
				w.evHandler("worker: runMiningOperation: MINING: CANCEL: complete")
				return

			case w.state.Halted():
				w.evHandler("worker: runMiningOperation: MINING: HALTED: %s", err)
				return

			default:
				w.evHandler("worker: runMiningOperation: MINING: ERROR: %s", err)
				continue
			}
		}

		w.evHandler("worker: runMiningOperation: MINING: blk[%d]: txs[%d]: duration[%v]", block.Header.Number, len(block.Trans), duration)
	}
}
