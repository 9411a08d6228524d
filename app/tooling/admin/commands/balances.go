package commands

import (
	"fmt"
	"io"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/state"
)

// Balances writes the current set of balances. An empty account writes
// every account that has transacted on the ledger.
func Balances(w io.Writer, account string, st *state.State) error {
	accounts := st.QueryAccounts()

	if account != "" {
		accountID, err := database.ToAccountID(account)
		if err != nil {
			return err
		}
		accounts = []database.Account{st.QueryAccount(accountID)}
	}

	fmt.Fprintf(w, "LatestBlockHash: %s\n\n", st.ChainTipHash())

	var total uint64
	for _, act := range accounts {
		fmt.Fprintf(w, "Account: %s  Balance: %d\n", act.AccountID, act.Balance)
		total += act.Balance
	}

	if account == "" {
		fmt.Fprintf(w, "\nTotal: %d\n", total)
	}

	return nil
}
