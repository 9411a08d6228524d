// Package chain maintains the append only sequence of sealed blocks.
package chain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common"
)

// Set of errors for blocks that can't be appended. Both indicate the block
// producer is broken and are not retried.
var (
	ErrBrokenChain        = errors.New("broken chain")
	ErrInvalidProofOfWork = errors.New("invalid proof of work")
)

// ErrNotFound is returned when a block number is beyond the tip.
var ErrNotFound = errors.New("block not found")

// EventHandler defines a function that is called when events
// occur in the processing of the chain.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to start the chain.
type Config struct {
	Genesis    database.Block
	Difficulty uint16
	Storage    database.Storage
	EvHandler  EventHandler
}

// Chain holds the sealed blocks starting with the genesis block.
type Chain struct {
	mu         sync.RWMutex
	difficulty uint16
	blocks     []database.Block
	storage    database.Storage
	evHandler  EventHandler
}

// New constructs the chain. When storage is provided and already holds
// blocks, they are loaded and validated, otherwise the genesis block is
// written to it.
func New(cfg Config) (*Chain, error) {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Genesis.ComputeHash() != cfg.Genesis.Hash() {
		return nil, fmt.Errorf("%w: genesis hash does not recompute", ErrBrokenChain)
	}

	c := Chain{
		difficulty: cfg.Difficulty,
		blocks:     []database.Block{cfg.Genesis},
		storage:    cfg.Storage,
		evHandler:  ev,
	}

	if c.storage == nil {
		return &c, nil
	}

	blocks, err := load(c.storage)
	if err != nil {
		return nil, fmt.Errorf("loading blocks: %w", err)
	}

	switch {
	case len(blocks) == 0:
		if err := c.storage.Write(database.NewBlockData(cfg.Genesis)); err != nil {
			return nil, fmt.Errorf("writing genesis: %w", err)
		}

	default:
		if blocks[0].Hash() != cfg.Genesis.Hash() {
			return nil, fmt.Errorf("%w: storage holds a different genesis: %s", ErrBrokenChain, blocks[0].Hash())
		}

		if err := check(blocks, cfg.Difficulty); err != nil {
			return nil, fmt.Errorf("stored chain: %w", err)
		}

		c.blocks = blocks
		ev("chain: New: loaded: blocks[%d]: tip[%s]", len(blocks), blocks[len(blocks)-1].Hash())
	}

	return &c, nil
}

// Difficulty returns the number of leading zero bits each block requires.
func (c *Chain) Difficulty() uint16 {
	return c.difficulty
}

// Verify checks the block can be appended to the current tip without
// changing the chain.
func (c *Chain) Verify(block database.Block) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Verify(c.blocks[len(c.blocks)-1], block, c.difficulty)
}

// Append verifies the block links to the tip and satisfies the proof of
// work before adding it to the chain and writing it to storage.
func (c *Chain) Append(block database.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := Verify(c.blocks[len(c.blocks)-1], block, c.difficulty); err != nil {
		return err
	}

	if c.storage != nil {
		if err := c.storage.Write(database.NewBlockData(block)); err != nil {
			return fmt.Errorf("writing block %d: %w", block.Header.Number, err)
		}
	}

	c.blocks = append(c.blocks, block.Clone())

	c.evHandler("chain: Append: blk[%d]: hash[%s]: txs[%d]", block.Header.Number, block.Hash(), len(block.Trans))

	return nil
}

// Validate checks the full chain held in memory.
func (c *Chain) Validate() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Validate(c.blocks, c.difficulty)
}

// Len returns the number of blocks including genesis.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.blocks)
}

// Tip returns the latest block in the chain.
func (c *Chain) Tip() database.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.blocks[len(c.blocks)-1]
}

// TipHash returns the hash of the latest block in the chain.
func (c *Chain) TipHash() common.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.blocks[len(c.blocks)-1].Hash()
}

// BlockByNumber returns the block with the specified number.
func (c *Chain) BlockByNumber(num uint64) (database.Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if num >= uint64(len(c.blocks)) {
		return database.Block{}, ErrNotFound
	}

	return c.blocks[num].Clone(), nil
}

// Blocks returns a copy of every block in the chain.
func (c *Chain) Blocks() []database.Block {
	return c.BlocksRange(0, ^uint64(0))
}

// BlocksRange returns a copy of the blocks from and to the specified
// numbers inclusive, limited to the blocks that exist.
func (c *Chain) BlocksRange(from uint64, to uint64) []database.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	last := uint64(len(c.blocks)) - 1
	if to > last {
		to = last
	}
	if from > to {
		return nil
	}

	out := make([]database.Block, 0, to-from+1)
	for _, block := range c.blocks[from : to+1] {
		out = append(out, block.Clone())
	}

	return out
}

// =============================================================================

// Validate recomputes every block's hash, link to its parent and proof of
// work. It returns false on the first inconsistency.
func Validate(blocks []database.Block, difficulty uint16) bool {
	return check(blocks, difficulty) == nil
}

// Verify checks the block is the valid successor of the parent block.
func Verify(parent database.Block, block database.Block, difficulty uint16) error {
	if block.Header.Number != parent.Header.Number+1 {
		return fmt.Errorf("%w: block number %d does not follow %d", ErrBrokenChain, block.Header.Number, parent.Header.Number)
	}

	if block.Header.PrevBlockHash != parent.Hash() {
		return fmt.Errorf("%w: blk[%d]: prev hash %s does not match parent %s", ErrBrokenChain, block.Header.Number, block.Header.PrevBlockHash, parent.Hash())
	}

	if block.Header.TimeStamp < parent.Header.TimeStamp {
		return fmt.Errorf("%w: blk[%d]: timestamp is before the parent", ErrBrokenChain, block.Header.Number)
	}

	if block.Header.TransCount != uint32(len(block.Trans)) {
		return fmt.Errorf("%w: blk[%d]: holds %d transactions, header commits to %d", ErrBrokenChain, block.Header.Number, len(block.Trans), block.Header.TransCount)
	}

	if block.Header.TransRoot != database.TransRoot(block.Trans) {
		return fmt.Errorf("%w: blk[%d]: transactions do not match the merkle root", ErrBrokenChain, block.Header.Number)
	}

	seen := make(map[common.Hash]struct{}, len(block.Trans))
	for _, fp := range block.Fingerprints() {
		if _, exists := seen[fp]; exists {
			return fmt.Errorf("%w: blk[%d]: transaction %s appears more than once", ErrBrokenChain, block.Header.Number, fp)
		}
		seen[fp] = struct{}{}
	}

	if block.Header.Difficulty != difficulty {
		return fmt.Errorf("%w: blk[%d]: difficulty %d does not match %d", ErrInvalidProofOfWork, block.Header.Number, block.Header.Difficulty, difficulty)
	}

	hash := block.ComputeHash()
	if hash != block.Hash() {
		return fmt.Errorf("%w: blk[%d]: hash %s does not recompute, got %s", ErrInvalidProofOfWork, block.Header.Number, block.Hash(), hash)
	}

	if !database.IsHashSolved(difficulty, hash) {
		return fmt.Errorf("%w: blk[%d]: hash %s is not solved", ErrInvalidProofOfWork, block.Header.Number, hash)
	}

	return nil
}

// check performs the validation and reports what failed.
func check(blocks []database.Block, difficulty uint16) error {
	if len(blocks) == 0 {
		return fmt.Errorf("%w: no genesis block", ErrBrokenChain)
	}

	genesis := blocks[0]
	switch {
	case genesis.Header.Number != 0:
		return fmt.Errorf("%w: genesis number is %d", ErrBrokenChain, genesis.Header.Number)
	case genesis.Header.PrevBlockHash != signature.ZeroHash:
		return fmt.Errorf("%w: genesis prev hash is not zero", ErrBrokenChain)
	case genesis.Header.TransCount != uint32(len(genesis.Trans)):
		return fmt.Errorf("%w: genesis transaction count does not match", ErrBrokenChain)
	case genesis.Header.TransRoot != database.TransRoot(genesis.Trans):
		return fmt.Errorf("%w: genesis transactions do not match the merkle root", ErrBrokenChain)
	case genesis.ComputeHash() != genesis.Hash():
		return fmt.Errorf("%w: genesis hash does not recompute", ErrBrokenChain)
	}

	for i := 1; i < len(blocks); i++ {
		if err := Verify(blocks[i-1], blocks[i], difficulty); err != nil {
			return err
		}
	}

	return nil
}

// load reads every block held in storage.
func load(strg database.Storage) ([]database.Block, error) {
	var blocks []database.Block

	iter := strg.ForEach()
	for {
		blockData, err := iter.Next()
		if iter.Done() {
			if err != nil && !errors.Is(err, database.ErrBlockNotFound) {
				return nil, err
			}
			return blocks, nil
		}

		if err != nil {
			return nil, err
		}

		blocks = append(blocks, database.ToBlock(blockData))
	}
}
