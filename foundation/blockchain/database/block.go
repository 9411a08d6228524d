package database

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/bits"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/merkle"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common"
)

// checkInterval is the number of hash attempts between checks of the
// context during the proof of work search.
const checkInterval = 1 << 10

// headerSize is the size of the binary layout of a header that gets hashed.
const headerSize = 8 + common.HashLength + common.HashLength + 8 + 8 + 2 + 4

// =============================================================================

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Number        uint64      `json:"number"`          // Block number in the chain, genesis is 0.
	PrevBlockHash common.Hash `json:"prev_block_hash"` // Hash of the previous block in the chain.
	TimeStamp     uint64      `json:"timestamp"`       // Time the block was constructed (unix nano).
	Nonce         uint64      `json:"nonce"`           // Value identified to solve the hash solution.
	Difficulty    uint16      `json:"difficulty"`      // Number of leading zero bits needed to solve the hash solution.
	TransRoot     common.Hash `json:"trans_root"`      // Merkle root hash for the transactions in this block.
	TransCount    uint32      `json:"trans_count"`     // Number of transactions in this block.
}

// Block represents a group of transactions batched together. The order of
// the transactions is the order they were admitted into the pool.
type Block struct {
	Header BlockHeader
	Trans  []BlockTx
	hash   common.Hash
}

// POWArgs represents the set of arguments required to run POW.
type POWArgs struct {
	Difficulty uint16
	PrevBlock  Block
	Trans      []BlockTx
	EvHandler  func(v string, args ...any)
}

// GenesisBlock constructs the block that starts the chain. It carries no
// transactions and is not subject to the proof of work rules.
func GenesisBlock(date time.Time) Block {
	b := Block{
		Header: BlockHeader{
			Number:        0,
			PrevBlockHash: signature.ZeroHash,
			TimeStamp:     uint64(date.UTC().UnixNano()),
			TransRoot:     TransRoot(nil),
		},
	}
	b.hash = b.ComputeHash()

	return b
}

// POW constructs a new Block and performs the work to find a nonce that
// solves the cryptographic POW puzzle. No locks are held while searching.
func POW(ctx context.Context, args POWArgs) (Block, error) {
	ev := args.EvHandler
	if ev == nil {
		ev = func(string, ...any) {}
	}

	trans := make([]BlockTx, len(args.Trans))
	copy(trans, args.Trans)

	// A block is never older than its parent, even if the clock steps back.
	timeStamp := max(uint64(time.Now().UTC().UnixNano()), args.PrevBlock.Header.TimeStamp)

	nb := Block{
		Header: BlockHeader{
			Number:        args.PrevBlock.Header.Number + 1,
			PrevBlockHash: args.PrevBlock.Hash(),
			TimeStamp:     timeStamp,
			Nonce:         0, // Will be identified by the POW algorithm.
			Difficulty:    args.Difficulty,
			TransRoot:     TransRoot(trans),
			TransCount:    uint32(len(trans)),
		},
		Trans: trans,
	}

	if err := nb.performPOW(ctx, ev); err != nil {
		return Block{}, err
	}

	return nb, nil
}

// performPOW does the work of mining to find a valid hash for a specified
// block. Pointer semantics are being used since a nonce is being discovered.
func (b *Block) performPOW(ctx context.Context, ev func(v string, args ...any)) error {
	ev("database: PerformPOW: MINING: started: blk[%d]: txs[%d]", b.Header.Number, len(b.Trans))
	defer ev("database: PerformPOW: MINING: completed")

	// The header layout is written once, only the nonce changes per attempt.
	buf := b.Header.encode()

	var attempts uint64
	for {
		attempts++
		if attempts%checkInterval == 0 && ctx.Err() != nil {
			ev("database: PerformPOW: MINING: CANCELLED: attempts[%d]", attempts)
			return ctx.Err()
		}

		binary.BigEndian.PutUint64(buf[nonceOffset:], b.Header.Nonce)
		hash := common.Hash(sha256.Sum256(buf[:]))
		if !IsHashSolved(b.Header.Difficulty, hash) {
			b.Header.Nonce++
			continue
		}

		// Did we get cancelled while solving the problem.
		if ctx.Err() != nil {
			ev("database: PerformPOW: MINING: CANCELLED: attempts[%d]", attempts)
			return ctx.Err()
		}

		b.hash = hash

		ev("database: PerformPOW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]: attempts[%d]", b.Header.PrevBlockHash, hash, attempts)

		return nil
	}
}

// Hash returns the hash that sealed the block.
func (b Block) Hash() common.Hash {
	return b.hash
}

// ComputeHash recalculates the hash of the block from its header. Hashing
// the header commits to the transactions through the merkle root.
func (b Block) ComputeHash() common.Hash {
	buf := b.Header.encode()
	return sha256.Sum256(buf[:])
}

// Fingerprints returns the fingerprints of all the transactions in the block.
func (b Block) Fingerprints() []common.Hash {
	fps := make([]common.Hash, len(b.Trans))
	for i, tx := range b.Trans {
		fps[i] = tx.Fingerprint()
	}

	return fps
}

// Clone returns a copy of the block that does not share the transactions.
func (b Block) Clone() Block {
	trans := make([]BlockTx, len(b.Trans))
	copy(trans, b.Trans)
	b.Trans = trans

	return b
}

// TransRoot calculates the merkle root of the specified transactions.
func TransRoot(trans []BlockTx) common.Hash {
	leaves := make([]common.Hash, len(trans))
	for i, tx := range trans {
		leaves[i] = tx.Hash()
	}

	return merkle.Root(leaves)
}

// IsHashSolved checks the hash to make sure it complies with the POW
// rules. The hash needs at least difficulty leading zero bits.
func IsHashSolved(difficulty uint16, hash common.Hash) bool {
	return LeadingZeroBits(hash) >= int(difficulty)
}

// LeadingZeroBits counts the number of leading zero bits in the hash.
func LeadingZeroBits(hash common.Hash) int {
	var n int
	for _, b := range hash {
		if b != 0 {
			return n + bits.LeadingZeros8(b)
		}
		n += 8
	}

	return n
}

// =============================================================================

// nonceOffset is where the nonce lives in the encoded header.
const nonceOffset = 8 + common.HashLength + common.HashLength + 8

// encode writes the header into its fixed binary layout:
// number ‖ prev ‖ transRoot ‖ timestamp ‖ nonce ‖ difficulty ‖ transCount.
// The count is hashed because the merkle tree pairs an odd last node with
// itself, so the root alone does not fix the number of transactions.
func (h BlockHeader) encode() [headerSize]byte {
	var buf [headerSize]byte

	binary.BigEndian.PutUint64(buf[0:], h.Number)
	copy(buf[8:], h.PrevBlockHash[:])
	copy(buf[8+common.HashLength:], h.TransRoot[:])
	binary.BigEndian.PutUint64(buf[8+2*common.HashLength:], h.TimeStamp)
	binary.BigEndian.PutUint64(buf[nonceOffset:], h.Nonce)
	binary.BigEndian.PutUint16(buf[nonceOffset+8:], h.Difficulty)
	binary.BigEndian.PutUint32(buf[nonceOffset+10:], h.TransCount)

	return buf
}

// =============================================================================

// BlockData represents what can be serialized to disk and over the network.
type BlockData struct {
	Hash   common.Hash `json:"hash"`
	Header BlockHeader `json:"block"`
	Trans  []BlockTx   `json:"trans"`
}

// NewBlockData constructs block data from a block.
func NewBlockData(block Block) BlockData {
	return BlockData{
		Hash:   block.Hash(),
		Header: block.Header,
		Trans:  block.Trans,
	}
}

// ToBlock converts a storage block into a database block. The recorded
// hash is kept so validation can compare it with the content.
func ToBlock(blockData BlockData) Block {
	return Block{
		Header: blockData.Header,
		Trans:  blockData.Trans,
		hash:   blockData.Hash,
	}
}
