package public

import (
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/performance"
	"github.com/ardanlabs/ledger/foundation/nameservice"
	"github.com/ethereum/go-ethereum/common"
)

type info struct {
	Account database.AccountID `json:"account"`
	Name    string             `json:"name"`
	Balance uint64             `json:"balance"`
}

type actInfo struct {
	LatestBlock common.Hash `json:"latest_block"`
	Uncommitted int         `json:"uncommitted"`
	Accounts    []info      `json:"accounts"`
}

type tx struct {
	FromAccount database.AccountID `json:"from"`
	FromName    string             `json:"from_name"`
	To          database.AccountID `json:"to"`
	ToName      string             `json:"to_name"`
	Nonce       uint64             `json:"nonce"`
	Value       uint64             `json:"value"`
	Data        []byte             `json:"data,omitempty"`
	TimeStamp   uint64             `json:"timestamp"`
	Admitted    uint64             `json:"admitted"`
	Fingerprint common.Hash        `json:"fingerprint"`
	Sig         string             `json:"sig"`
}

type block struct {
	Number        uint64      `json:"number"`
	Hash          common.Hash `json:"hash"`
	PrevBlockHash common.Hash `json:"prev_block_hash"`
	TimeStamp     uint64      `json:"timestamp"`
	Nonce         uint64      `json:"nonce"`
	Difficulty    uint16      `json:"difficulty"`
	TransRoot     common.Hash `json:"trans_root"`
	Transactions  []tx        `json:"txs"`
}

type status struct {
	ChainLength    int           `json:"chain_length"`
	TipHash        common.Hash   `json:"tip_hash"`
	CurrentTPS     float64       `json:"current_tps"`
	PeakTPS        float64       `json:"peak_tps"`
	TotalTrans     uint64        `json:"total_transactions"`
	TotalBlocks    uint64        `json:"total_blocks"`
	AverageLatency time.Duration `json:"average_latency"`
	Uncommitted    int           `json:"uncommitted"`
	Halted         bool          `json:"halted"`
	HaltReason     string        `json:"halt_reason,omitempty"`
	ValidChain     bool          `json:"valid_chain"`
}

func toTx(ns *nameservice.NameService, tran database.BlockTx) tx {
	return tx{
		FromAccount: tran.FromID,
		FromName:    ns.Lookup(tran.FromID),
		To:          tran.ToID,
		ToName:      ns.Lookup(tran.ToID),
		Nonce:       tran.Nonce,
		Value:       tran.Value,
		Data:        tran.Data,
		TimeStamp:   tran.TimeStamp,
		Admitted:    tran.Admitted,
		Fingerprint: tran.Fingerprint(),
		Sig:         tran.SignatureString(),
	}
}

func toBlock(ns *nameservice.NameService, blk database.Block) block {
	trans := make([]tx, len(blk.Trans))
	for i, tran := range blk.Trans {
		trans[i] = toTx(ns, tran)
	}

	return block{
		Number:        blk.Header.Number,
		Hash:          blk.Hash(),
		PrevBlockHash: blk.Header.PrevBlockHash,
		TimeStamp:     blk.Header.TimeStamp,
		Nonce:         blk.Header.Nonce,
		Difficulty:    blk.Header.Difficulty,
		TransRoot:     blk.Header.TransRoot,
		Transactions:  trans,
	}
}

func toStatus(stats performance.Stats) status {
	return status{
		CurrentTPS:     stats.CurrentTPS,
		PeakTPS:        stats.PeakTPS,
		TotalTrans:     stats.TotalTransactions,
		TotalBlocks:    stats.TotalBlocks,
		AverageLatency: stats.AverageLatency,
	}
}
