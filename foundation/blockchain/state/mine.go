package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
)

// MineNewBlock drains a batch from the mempool and attempts to seal it into
// the next block in the chain. No lock is held while searching for the
// nonce. On a timeout or cancellation the batch is returned to the front of
// the mempool.
func (s *State) MineNewBlock(ctx context.Context) (database.Block, error) {
	if s.Halted() {
		return database.Block{}, fmt.Errorf("%w: %w", ErrHalted, s.HaltError())
	}

	s.evHandler("state: MineNewBlock: MINING: drain mempool")

	trans := s.mempool.DrainBatch(s.maxBlockSize)
	if len(trans) == 0 {
		return database.Block{}, ErrNoTransactions
	}

	for {
		s.evHandler("state: MineNewBlock: MINING: perform POW: txs[%d]", len(trans))

		block, err := s.performPOW(ctx, trans)
		if err != nil {
			s.mempool.Requeue(trans)
			return database.Block{}, err
		}

		s.evHandler("state: MineNewBlock: MINING: commit block")

		err = s.commit(block)
		switch {
		case err == nil:
			s.sealed(block)
			return block, nil

		case errors.Is(err, database.ErrConservationViolation):
			valid, rejected := s.db.Partition(trans)
			if len(rejected) == 0 {
				s.mempool.Requeue(trans)
				s.halt(err)
				return database.Block{}, err
			}

			s.reject(rejected, err)
			if len(valid) == 0 {
				return database.Block{}, err
			}

			s.metrics.RecordMining("conservation_retry")
			trans = valid

		default:
			s.mempool.Requeue(trans)
			s.halt(err)
			return database.Block{}, err
		}
	}
}

// =============================================================================

// performPOW runs the proof of work against the current tip within the
// mining timeout.
func (s *State) performPOW(ctx context.Context, trans []database.BlockTx) (database.Block, error) {
	mctx := ctx
	if s.miningTimeout > 0 {
		var cancel context.CancelFunc
		mctx, cancel = context.WithTimeout(ctx, s.miningTimeout)
		defer cancel()
	}

	block, err := database.POW(mctx, database.POWArgs{
		Difficulty: s.chain.Difficulty(),
		PrevBlock:  s.chain.Tip(),
		Trans:      trans,
		EvHandler:  s.evHandler,
	})
	if err != nil {
		if ctx.Err() != nil {
			s.metrics.RecordMining("cancelled")
			return database.Block{}, ctx.Err()
		}

		if errors.Is(err, context.DeadlineExceeded) {
			s.metrics.RecordMining("timeout")
			s.evHandler("state: MineNewBlock: MINING: TIMEOUT: requeue txs[%d]", len(trans))
			return database.Block{}, fmt.Errorf("%w: after %v", ErrMiningTimeout, s.miningTimeout)
		}

		return database.Block{}, err
	}

	return block, nil
}

// commit applies the block's deltas to the balances and appends the block
// to the chain as one step.
func (s *State) commit(block database.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.chain.Verify(block); err != nil {
		return err
	}

	if err := s.db.Apply(blockDeltas(block.Trans)); err != nil {
		return err
	}

	return s.chain.Append(block)
}

// sealed records a committed block with the mempool and the monitor.
func (s *State) sealed(block database.Block) {
	s.mempool.MarkSealed(block)

	now := time.Now()

	var total time.Duration
	latencies := make([]float64, len(block.Trans))
	for i, tx := range block.Trans {
		latency := now.Sub(tx.AdmittedAt())
		latencies[i] = latency.Seconds()
		total += latency
	}

	count := len(block.Trans)
	s.monitor.RecordCommitted(count, total/time.Duration(count), now)
	s.metrics.RecordMining("sealed")
	s.metrics.RecordBlock(count, latencies)

	s.evHandler("state: MineNewBlock: MINING: SEALED: blk[%d]: hash[%s]: txs[%d]", block.Header.Number, block.Hash(), count)
}

// reject drops transactions that can't be funded at commit time.
func (s *State) reject(rejected []database.BlockTx, err error) {
	s.mempool.Discard(rejected)
	s.metrics.RecordRejected("conservation", len(rejected))

	for _, tx := range rejected {
		s.evHandler("state: MineNewBlock: CONSERVATION: dropped tx[%s]: value[%d]: %s", tx, tx.Value, err)
	}
}
