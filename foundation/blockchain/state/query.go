package state

import (
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/ledger/foundation/blockchain/performance"
	"github.com/ethereum/go-ethereum/common"
)

// QueryLatest represents to query the latest block in the chain.
const QueryLatest = ^uint64(0) >> 1

// =============================================================================

// Balance returns the current balance for the account. An account that has
// never transacted has a zero balance.
func (s *State) Balance(accountID database.AccountID) uint64 {
	return s.db.Balance(accountID)
}

// ChainLength returns the number of blocks in the chain including genesis.
func (s *State) ChainLength() int {
	return s.chain.Len()
}

// ChainTipHash returns the hash of the latest block.
func (s *State) ChainTipHash() common.Hash {
	return s.chain.TipHash()
}

// CurrentTPS returns the transactions committed per second over the
// configured window.
func (s *State) CurrentTPS() float64 {
	return s.monitor.CurrentTPS()
}

// Stats returns the throughput and latency totals.
func (s *State) Stats() performance.Stats {
	return s.monitor.Stats()
}

// Genesis returns a copy of the genesis information.
func (s *State) Genesis() genesis.Genesis {
	return s.genesis
}

// ValidateChain recomputes the hashes and links of the full chain.
func (s *State) ValidateChain() bool {
	return s.chain.Validate()
}

// LatestBlock returns the latest block in the chain.
func (s *State) LatestBlock() database.Block {
	return s.chain.Tip()
}

// =============================================================================

// QueryAccount returns the account and its balance.
func (s *State) QueryAccount(accountID database.AccountID) database.Account {
	return database.Account{
		AccountID: accountID,
		Balance:   s.db.Balance(accountID),
	}
}

// QueryAccounts returns every account that has transacted on the ledger.
func (s *State) QueryAccounts() []database.Account {
	return s.db.Accounts()
}

// QueryMempoolLength returns the current length of the mempool.
func (s *State) QueryMempoolLength() int {
	return s.mempool.Count()
}

// QueryMempool returns a copy of the transactions waiting in the mempool.
func (s *State) QueryMempool() []database.BlockTx {
	return s.mempool.Copy()
}

// QueryBlocksByNumber returns the set of blocks based on block numbers.
func (s *State) QueryBlocksByNumber(from uint64, to uint64) []database.Block {
	if from == QueryLatest {
		from = s.chain.Tip().Header.Number
		to = from
	}

	return s.chain.BlocksRange(from, to)
}

// QueryBlocksByAccount returns the set of blocks by account. If the account
// is empty, all blocks are returned.
func (s *State) QueryBlocksByAccount(accountID database.AccountID) []database.Block {
	var out []database.Block

	for _, block := range s.chain.Blocks() {
		if accountID == "" {
			out = append(out, block)
			continue
		}

		for _, tx := range block.Trans {
			if tx.FromID == accountID || tx.ToID == accountID {
				out = append(out, block)
				break
			}
		}
	}

	return out
}
