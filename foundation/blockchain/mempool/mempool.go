// Package mempool maintains the bounded pool of transactions waiting to be
// sealed into a block.
package mempool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common"
)

// Set of errors reported to the caller of Submit.
var (
	ErrPoolFull             = errors.New("pool full")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrInsufficientBalance  = errors.New("insufficient balance")
)

// BalanceReader provides the current balance of an account.
type BalanceReader interface {
	Balance(accountID database.AccountID) uint64
}

// Config represents the settings for the mempool.
type Config struct {
	Capacity      int           // Maximum number of transactions waiting in the pool.
	DupLookback   int           // Number of sealed blocks remembered for duplicate detection.
	SubmitTimeout time.Duration // How long Submit waits for space in a full pool, zero does not wait.
}

// Mempool represents a FIFO queue of admitted transactions. Fingerprints are
// indexed from admission until the transaction is sealed or discarded so a
// duplicate is rejected even while its original is being mined.
type Mempool struct {
	mu       sync.Mutex
	cfg      Config
	balances BalanceReader
	queue    []database.BlockTx
	index    map[common.Hash]struct{}
	sealed   [][]common.Hash
	recent   map[common.Hash]int
	space    chan struct{}
}

// New constructs a new mempool for use.
func New(cfg Config, balances BalanceReader) (*Mempool, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive: %d", cfg.Capacity)
	}
	if cfg.DupLookback < 0 {
		return nil, fmt.Errorf("dup lookback must not be negative: %d", cfg.DupLookback)
	}

	mp := Mempool{
		cfg:      cfg,
		balances: balances,
		index:    make(map[common.Hash]struct{}),
		recent:   make(map[common.Hash]int),
		space:    make(chan struct{}),
	}

	return &mp, nil
}

// Submit validates the transaction and admits it into the pool. When the pool
// is full and a submit timeout is configured, Submit waits for space until
// the timeout or the context expires.
func (mp *Mempool) Submit(ctx context.Context, signedTx database.SignedTx) error {
	if err := signedTx.Validate(); err != nil {
		return err
	}

	var deadline <-chan time.Time
	if mp.cfg.SubmitTimeout > 0 {
		timer := time.NewTimer(mp.cfg.SubmitTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		space, err := mp.admit(signedTx)
		if !errors.Is(err, ErrPoolFull) || deadline == nil {
			return err
		}

		select {
		case <-space:
		case <-deadline:
			return err
		case <-ctx.Done():
			return err
		}
	}
}

// DrainBatch removes up to howMany transactions from the front of the pool
// in admission order.
func (mp *Mempool) DrainBatch(howMany int) []database.BlockTx {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	n := min(howMany, len(mp.queue))
	if n <= 0 {
		return nil
	}

	batch := make([]database.BlockTx, n)
	copy(batch, mp.queue[:n])

	mp.queue = append(mp.queue[:0], mp.queue[n:]...)
	mp.signalSpace()

	return batch
}

// Requeue returns transactions that were drained but not sealed to the front
// of the pool, keeping their order. Capacity is ignored so no work is lost.
func (mp *Mempool) Requeue(trans []database.BlockTx) {
	if len(trans) == 0 {
		return
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	queue := make([]database.BlockTx, 0, len(trans)+len(mp.queue))
	queue = append(queue, trans...)
	queue = append(queue, mp.queue...)
	mp.queue = queue

	for _, tx := range trans {
		mp.index[tx.Fingerprint()] = struct{}{}
	}
}

// Discard forgets transactions that were drained and then rejected so the
// same transfer can be submitted again later.
func (mp *Mempool) Discard(trans []database.BlockTx) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, tx := range trans {
		delete(mp.index, tx.Fingerprint())
	}
}

// MarkSealed records the transactions of a sealed block in the duplicate
// lookback window and releases them from the pool index.
func (mp *Mempool) MarkSealed(block database.Block) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	fps := block.Fingerprints()
	for _, fp := range fps {
		delete(mp.index, fp)
	}

	if mp.cfg.DupLookback <= 0 {
		return
	}

	for _, fp := range fps {
		mp.recent[fp]++
	}
	mp.sealed = append(mp.sealed, fps)

	for len(mp.sealed) > mp.cfg.DupLookback {
		for _, fp := range mp.sealed[0] {
			if mp.recent[fp]--; mp.recent[fp] <= 0 {
				delete(mp.recent, fp)
			}
		}
		mp.sealed = mp.sealed[1:]
	}
}

// Contains reports whether a transaction with the fingerprint is pending in
// the pool or was sealed within the lookback window.
func (mp *Mempool) Contains(fp common.Hash) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	return mp.isKnown(fp)
}

// Count returns the current number of transactions waiting in the pool.
func (mp *Mempool) Count() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	return len(mp.queue)
}

// Capacity returns the maximum number of transactions the pool holds.
func (mp *Mempool) Capacity() int {
	return mp.cfg.Capacity
}

// Copy returns a copy of the transactions waiting in the pool in order.
func (mp *Mempool) Copy() []database.BlockTx {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	trans := make([]database.BlockTx, len(mp.queue))
	copy(trans, mp.queue)

	return trans
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, tx := range mp.queue {
		delete(mp.index, tx.Fingerprint())
	}
	mp.queue = nil
	mp.signalSpace()
}

// =============================================================================

// admit runs the admission checks and enqueues the transaction. When the
// pool is full the current space channel is returned so the caller can
// wait for a drain.
func (mp *Mempool) admit(signedTx database.SignedTx) (<-chan struct{}, error) {
	fp := signedTx.Fingerprint()

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if mp.isKnown(fp) {
		return nil, fmt.Errorf("%w: fingerprint[%s]", ErrDuplicateTransaction, fp)
	}

	if balance := mp.balances.Balance(signedTx.FromID); balance < signedTx.Value {
		return nil, fmt.Errorf("%w: account[%s]: balance[%d]: value[%d]", ErrInsufficientBalance, signedTx.FromID, balance, signedTx.Value)
	}

	if len(mp.queue) >= mp.cfg.Capacity {
		return mp.space, fmt.Errorf("%w: capacity[%d]", ErrPoolFull, mp.cfg.Capacity)
	}

	mp.queue = append(mp.queue, database.NewBlockTx(signedTx))
	mp.index[fp] = struct{}{}

	return nil, nil
}

// isKnown checks the pool index and the sealed lookback window. The caller
// must hold the lock.
func (mp *Mempool) isKnown(fp common.Hash) bool {
	if _, exists := mp.index[fp]; exists {
		return true
	}

	_, exists := mp.recent[fp]
	return exists
}

// signalSpace wakes any submitters waiting for room in the pool. The caller
// must hold the lock.
func (mp *Mempool) signalSpace() {
	close(mp.space)
	mp.space = make(chan struct{})
}
