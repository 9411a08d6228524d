// This program provides a wallet for creating keys and sending signed
// transactions to a ledger node.
package main

import "github.com/ardanlabs/ledger/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}
