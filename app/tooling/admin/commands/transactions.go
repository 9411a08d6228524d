package commands

import (
	"fmt"
	"io"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/state"
)

// Transactions writes the sealed transactions in chain order. An empty
// account writes every transaction.
func Transactions(w io.Writer, account string, st *state.State) error {
	var accountID database.AccountID
	if account != "" {
		var err error
		if accountID, err = database.ToAccountID(account); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "LatestBlockHash: %s\n\n", st.ChainTipHash())

	for _, block := range st.QueryBlocksByAccount(accountID) {
		for _, tx := range block.Trans {
			if accountID != "" && tx.FromID != accountID && tx.ToID != accountID {
				continue
			}

			fmt.Fprintf(w, "Block: %d  Fingerprint: %s  From: %s  To: %s  Value: %d  Nonce: %d\n",
				block.Header.Number, tx.Fingerprint(), tx.FromID, tx.ToID, tx.Value, tx.Nonce)
		}
	}

	return nil
}

// Validate recomputes every block of the chain and reports the result.
func Validate(w io.Writer, st *state.State) error {
	if !st.ValidateChain() {
		return fmt.Errorf("chain of %d blocks failed validation", st.ChainLength())
	}

	fmt.Fprintf(w, "Chain of %d blocks is valid, tip %s\n", st.ChainLength(), st.ChainTipHash())

	return nil
}
