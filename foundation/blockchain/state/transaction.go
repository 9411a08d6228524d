package state

import (
	"context"
	"errors"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/mempool"
)

// Submit accepts a signed transaction for inclusion in a future block.
// It never waits on the mining cycle.
func (s *State) Submit(ctx context.Context, signedTx database.SignedTx) error {
	if err := s.mempool.Submit(ctx, signedTx); err != nil {
		s.metrics.RecordSubmit(submitResult(err))
		s.evHandler("state: Submit: REJECTED: tx[%s]: %s", signedTx, err)
		return err
	}

	s.metrics.RecordSubmit("accepted")
	s.evHandler("state: Submit: accepted: tx[%s]: value[%d]: to[%s]", signedTx, signedTx.Value, signedTx.ToID)

	if s.Worker != nil {
		s.Worker.SignalStartMining()
	}

	return nil
}

// submitResult maps a submit error to a metric label.
func submitResult(err error) string {
	switch {
	case errors.Is(err, database.ErrInvalidTransaction):
		return "invalid_transaction"
	case errors.Is(err, database.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, mempool.ErrDuplicateTransaction):
		return "duplicate"
	case errors.Is(err, mempool.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, mempool.ErrPoolFull):
		return "pool_full"
	}

	return "error"
}
