// Package state is the core API for the ledger and implements all the
// business rules and processing.
package state

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/chain"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/ledger/foundation/blockchain/mempool"
	"github.com/ardanlabs/ledger/foundation/blockchain/performance"
	"github.com/prometheus/client_golang/prometheus"
)

// Set of errors returned by the mining cycle.
var (
	ErrNoTransactions = errors.New("no transactions in mempool")
	ErrMiningTimeout  = errors.New("mining timeout")
	ErrHalted         = errors.New("mining halted")
)

// Default settings applied when the config leaves them unset.
const (
	defaultPoolCapacity = 10_000
	defaultPollInterval = 100 * time.Millisecond
)

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of the ledger.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for mining.
type Worker interface {
	Shutdown()
	SignalStartMining()
}

// =============================================================================

// Config represents the configuration required to start the ledger.
type Config struct {
	Genesis       genesis.Genesis       // Starting balances and the proof of work difficulty.
	Storage       database.Storage      // Optional archive for the sealed blocks.
	MaxBlockSize  int                   // Maximum transactions per block, defaults to the genesis value.
	PoolCapacity  int                   // Maximum transactions waiting to be mined.
	MiningTimeout time.Duration         // Maximum time per mining attempt, zero means no limit.
	PollInterval  time.Duration         // How often the worker checks an empty pool.
	SubmitTimeout time.Duration         // How long a submit waits for a full pool.
	DupLookback   int                   // Number of sealed blocks checked for duplicates.
	TPSWindow     time.Duration         // Trailing window for the throughput measurement.
	Registerer    prometheus.Registerer // Optional registry for the engine metrics.
	EvHandler     EventHandler
}

// State manages the ledger. The balance database and the chain are only
// written by the mining cycle while holding mu.
type State struct {
	mu        sync.Mutex
	evHandler EventHandler

	maxBlockSize  int
	miningTimeout time.Duration
	pollInterval  time.Duration

	genesis genesis.Genesis
	db      *database.Database
	chain   *chain.Chain
	mempool *mempool.Mempool
	monitor *performance.Monitor
	metrics *performance.Metrics
	storage database.Storage

	halted  atomic.Bool
	haltErr atomic.Value

	Worker Worker
}

// New constructs a new ledger for use.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if err := cfg.Genesis.Validate(time.Now()); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}

	if cfg.DupLookback < 0 {
		return nil, fmt.Errorf("dup lookback must not be negative: %d", cfg.DupLookback)
	}

	maxBlockSize := cfg.MaxBlockSize
	if maxBlockSize <= 0 {
		maxBlockSize = int(cfg.Genesis.TransPerBlock)
	}
	if maxBlockSize <= 0 {
		return nil, errors.New("max block size must be positive")
	}

	poolCapacity := cfg.PoolCapacity
	if poolCapacity <= 0 {
		poolCapacity = defaultPoolCapacity
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	// Issue the genesis balances for the founders of the ledger.
	db, err := database.New(cfg.Genesis)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	// Load the chain, using any blocks already held in storage.
	chn, err := chain.New(chain.Config{
		Genesis:    database.GenesisBlock(cfg.Genesis.Date),
		Difficulty: cfg.Genesis.Difficulty,
		Storage:    cfg.Storage,
		EvHandler:  chain.EventHandler(ev),
	})
	if err != nil {
		return nil, fmt.Errorf("chain: %w", err)
	}

	// Replay the blocks loaded from storage to bring the balances current.
	blocks := chn.Blocks()
	for _, block := range blocks[1:] {
		if err := db.Apply(blockDeltas(block.Trans)); err != nil {
			return nil, fmt.Errorf("replaying block %d: %w", block.Header.Number, err)
		}
	}

	mp, err := mempool.New(mempool.Config{
		Capacity:      poolCapacity,
		DupLookback:   cfg.DupLookback,
		SubmitTimeout: cfg.SubmitTimeout,
	}, db)
	if err != nil {
		return nil, fmt.Errorf("mempool: %w", err)
	}

	// Rebuild the duplicate window from the most recent blocks.
	from := max(1, len(blocks)-cfg.DupLookback)
	for _, block := range blocks[from:] {
		mp.MarkSealed(block)
	}

	monitor := performance.New(performance.Config{Window: cfg.TPSWindow})

	var metrics *performance.Metrics
	if cfg.Registerer != nil {
		metrics = performance.NewMetrics(cfg.Registerer, monitor, mp.Count)
	}

	state := State{
		evHandler:     ev,
		maxBlockSize:  maxBlockSize,
		miningTimeout: cfg.MiningTimeout,
		pollInterval:  pollInterval,

		genesis: cfg.Genesis,
		db:      db,
		chain:   chn,
		mempool: mp,
		monitor: monitor,
		metrics: metrics,
		storage: cfg.Storage,
	}

	ev("state: New: chain[%d]: tip[%s]: accounts[%d]", chn.Len(), chn.TipHash(), len(db.Accounts()))

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &state, nil
}

// Shutdown cleanly brings the ledger down. Balances and the chain can
// still be read afterwards.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Stop all ledger writing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	// Make sure the storage is properly closed.
	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			return fmt.Errorf("closing storage: %w", err)
		}
	}

	return nil
}

// Halted reports whether mining was stopped by a chain consistency error.
func (s *State) Halted() bool {
	return s.halted.Load()
}

// HaltError returns the error that stopped mining, if any.
func (s *State) HaltError() error {
	if err, ok := s.haltErr.Load().(error); ok {
		return err
	}

	return nil
}

// PollInterval returns how often the worker checks an empty pool.
func (s *State) PollInterval() time.Duration {
	return s.pollInterval
}

// =============================================================================

// halt stops any further mining after a fatal consistency error.
func (s *State) halt(err error) {
	s.haltErr.Store(err)
	s.halted.Store(true)

	s.evHandler("state: halt: MINING: FATAL: mining halted: %s", err)
}

// blockDeltas returns the deltas of the transactions in order.
func blockDeltas(trans []database.BlockTx) []database.Delta {
	deltas := make([]database.Delta, 0, 2*len(trans))
	for _, tx := range trans {
		deltas = append(deltas, tx.Deltas()...)
	}

	return deltas
}
