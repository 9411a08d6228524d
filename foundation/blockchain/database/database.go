// Package database maintains the data model of the ledger and the in memory
// balance table for the accounts that have transacted on it.
package database

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ardanlabs/ledger/foundation/blockchain/genesis"
)

// ErrConservationViolation is returned when a batch of deltas would drive a
// balance negative or would not conserve the value moved.
var ErrConservationViolation = errors.New("conservation violation")

// ConservationError provides the details of which delta could not be applied.
type ConservationError struct {
	Index     int
	AccountID AccountID
	Balance   uint64
	Value     uint64
	Reason    string
}

// Error implements the error interface.
func (ce *ConservationError) Error() string {
	return fmt.Sprintf("conservation violation: delta[%d]: account[%s]: balance[%d]: value[%d]: %s", ce.Index, ce.AccountID, ce.Balance, ce.Value, ce.Reason)
}

// Is allows errors.Is to match ErrConservationViolation.
func (ce *ConservationError) Is(target error) bool {
	return target == ErrConservationViolation
}

// =============================================================================

// Delta represents a single credit or debit against an account.
type Delta struct {
	AccountID AccountID
	Value     uint64
	Debit     bool
}

// Database manages the balances of the accounts who have transacted on the
// ledger. Missing accounts read as a zero balance and accounts are never
// removed once created.
type Database struct {
	mu       sync.RWMutex
	genesis  genesis.Genesis
	accounts map[AccountID]uint64
	issued   uint64
}

// New constructs a new database and issues the genesis balances.
func New(gen genesis.Genesis) (*Database, error) {
	db := Database{
		genesis:  gen,
		accounts: make(map[AccountID]uint64),
	}

	for accountStr, balance := range gen.Balances {
		accountID, err := ToAccountID(accountStr)
		if err != nil {
			return nil, fmt.Errorf("genesis account %q: %w", accountStr, err)
		}

		if err := db.issue(accountID, balance); err != nil {
			return nil, err
		}
	}

	return &db, nil
}

// Genesis returns the genesis information the database was created with.
func (db *Database) Genesis() genesis.Genesis {
	return db.genesis
}

// Balance returns the current balance for the specified account.
func (db *Database) Balance(accountID AccountID) uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.accounts[accountID]
}

// Apply performs the set of deltas as a single state transition. Deltas are
// processed in order and if any of them can't be applied, none of them are.
func (db *Database) Apply(deltas []Delta) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	scratch := make(map[AccountID]uint64)
	if err := db.simulate(deltas, scratch); err != nil {
		return err
	}

	for accountID, balance := range scratch {
		db.accounts[accountID] = balance
	}

	return nil
}

// Partition walks the transactions in order against the current balances
// and splits them into those that can be applied together and those that
// would overdraw their sender.
func (db *Database) Partition(trans []BlockTx) (valid []BlockTx, rejected []BlockTx) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	scratch := make(map[AccountID]uint64)
	for _, tx := range trans {
		probe := make(map[AccountID]uint64, 2)
		for id, bal := range scratch {
			if id == tx.FromID || id == tx.ToID {
				probe[id] = bal
			}
		}

		if err := db.simulate(tx.Deltas(), probe); err != nil {
			rejected = append(rejected, tx)
			continue
		}

		for id, bal := range probe {
			scratch[id] = bal
		}
		valid = append(valid, tx)
	}

	return valid, rejected
}

// Total returns the sum of all balances.
func (db *Database) Total() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var total uint64
	for _, balance := range db.accounts {
		total += balance
	}

	return total
}

// Issued returns the total value issued by genesis.
func (db *Database) Issued() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.issued
}

// Copy makes a copy of the current balances in the database.
func (db *Database) Copy() map[AccountID]uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	accounts := make(map[AccountID]uint64, len(db.accounts))
	for accountID, balance := range db.accounts {
		accounts[accountID] = balance
	}

	return accounts
}

// Accounts returns the accounts sorted by account id.
func (db *Database) Accounts() []Account {
	db.mu.RLock()
	accounts := make([]Account, 0, len(db.accounts))
	for accountID, balance := range db.accounts {
		accounts = append(accounts, Account{AccountID: accountID, Balance: balance})
	}
	db.mu.RUnlock()

	sort.Sort(byAccount(accounts))

	return accounts
}

// =============================================================================

// issue credits new value into the ledger. This only happens at genesis.
func (db *Database) issue(accountID AccountID, value uint64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.issued > math.MaxUint64-value {
		return fmt.Errorf("genesis issuance overflows: account[%s]: value[%d]", accountID, value)
	}

	db.accounts[accountID] += value
	db.issued += value

	return nil
}

// simulate applies the deltas to the scratch balances, falling back to the
// committed balances for accounts not yet in scratch. The caller must hold
// a lock.
func (db *Database) simulate(deltas []Delta, scratch map[AccountID]uint64) error {
	var credits, debits uint64

	for i, d := range deltas {
		balance, exists := scratch[d.AccountID]
		if !exists {
			balance = db.accounts[d.AccountID]
		}

		switch {
		case d.Debit:
			if d.Value > balance {
				return &ConservationError{Index: i, AccountID: d.AccountID, Balance: balance, Value: d.Value, Reason: "insufficient balance"}
			}
			scratch[d.AccountID] = balance - d.Value
			debits += d.Value

		default:
			if balance > math.MaxUint64-d.Value {
				return &ConservationError{Index: i, AccountID: d.AccountID, Balance: balance, Value: d.Value, Reason: "balance overflow"}
			}
			scratch[d.AccountID] = balance + d.Value
			credits += d.Value
		}
	}

	if credits != debits {
		return &ConservationError{Index: len(deltas), Reason: fmt.Sprintf("credits[%d] != debits[%d]", credits, debits)}
	}

	return nil
}
