package database

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ardanlabs/ledger/foundation/validate"
	"github.com/ethereum/go-ethereum/common"
)

// Set of errors for transactions that can't be used on the ledger.
var (
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidSignature   = errors.New("invalid signature")
)

// =============================================================================

// Tx is the transactional information between two parties.
type Tx struct {
	Nonce     uint64    `json:"nonce"`                                         // Unique id for the transaction supplied by the user.
	FromID    AccountID `json:"from" validate:"required,account"`              // Account sending the value, must match the signature.
	ToID      AccountID `json:"to" validate:"required,account,nefield=FromID"` // Account receiving the value.
	Value     uint64    `json:"value" validate:"gt=0"`                         // Monetary value moved by this transaction.
	TimeStamp uint64    `json:"timestamp"`                                     // Time the transaction was created by the client (unix nano).
	Data      []byte    `json:"data,omitempty" validate:"max=1024"`            // Extra data related to the transaction.
}

// NewTx constructs a new transaction. The account ids are normalized into
// their checksummed form.
func NewTx(nonce uint64, fromID AccountID, toID AccountID, value uint64, data []byte) (Tx, error) {
	var err error
	if fromID, err = ToAccountID(string(fromID)); err != nil {
		return Tx{}, fmt.Errorf("from account: %w", err)
	}
	if toID, err = ToAccountID(string(toID)); err != nil {
		return Tx{}, fmt.Errorf("to account: %w", err)
	}

	tx := Tx{
		Nonce:     nonce,
		FromID:    fromID,
		ToID:      toID,
		Value:     value,
		TimeStamp: uint64(time.Now().UTC().UnixNano()),
		Data:      data,
	}

	return tx, nil
}

// Sign uses the specified private key to sign the transaction.
func (tx Tx) Sign(privateKey *ecdsa.PrivateKey) (SignedTx, error) {

	// Only the owner of the from account can sign for it.
	if PublicKeyToAccountID(privateKey.PublicKey) != tx.FromID {
		return SignedTx{}, errors.New("private key does not match the from account")
	}

	// Sign the transaction with the private key to produce a signature.
	v, r, s, err := signature.Sign(tx, privateKey)
	if err != nil {
		return SignedTx{}, err
	}

	// Construct the signed transaction by adding the signature
	// in the [R|S|V] format.
	signedTx := SignedTx{
		Tx: tx,
		V:  v,
		R:  r,
		S:  s,
	}

	return signedTx, nil
}

// Fingerprint returns the content derived identity of the transaction. The
// timestamp is not part of the fingerprint so a resubmission of the same
// transfer with a new timestamp is still recognized as a duplicate.
func (tx Tx) Fingerprint() common.Hash {
	id := struct {
		FromID AccountID `json:"from"`
		ToID   AccountID `json:"to"`
		Value  uint64    `json:"value"`
		Nonce  uint64    `json:"nonce"`
	}{
		FromID: tx.FromID,
		ToID:   tx.ToID,
		Value:  tx.Value,
		Nonce:  tx.Nonce,
	}

	return signature.Hash(id)
}

// =============================================================================

// SignedTx is a signed version of the transaction. This is how clients like
// a wallet provide transactions for inclusion into the ledger.
type SignedTx struct {
	Tx
	V *big.Int `json:"v"` // Recovery identifier, either 29 or 30 with ledgerID.
	R *big.Int `json:"r"` // First coordinate of the ECDSA signature.
	S *big.Int `json:"s"` // Second coordinate of the ECDSA signature.
}

// Validate verifies the transaction is well formed and has a proper
// signature that was produced by the from account.
func (tx SignedTx) Validate() error {
	if err := validate.Check(tx.Tx); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}

	if err := signature.VerifySignature(tx.V, tx.R, tx.S); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	fromID, err := tx.FromAccount()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	if fromID != tx.FromID {
		return fmt.Errorf("%w: signed by %s, claims %s", ErrInvalidSignature, fromID, tx.FromID)
	}

	return nil
}

// FromAccount extracts the account id that signed the transaction.
func (tx SignedTx) FromAccount() (AccountID, error) {
	address, err := signature.FromAddress(tx.Tx, tx.V, tx.R, tx.S)
	return AccountID(address), err
}

// SignatureString returns the signature as a string.
func (tx SignedTx) SignatureString() string {
	return signature.SignatureString(tx.V, tx.R, tx.S)
}

// String implements the fmt.Stringer interface for logging.
func (tx SignedTx) String() string {
	return fmt.Sprintf("%s:%d", tx.FromID, tx.Nonce)
}

// =============================================================================

// BlockTx represents the transaction as it's recorded inside a block. This
// includes the time the transaction was admitted into the pool.
type BlockTx struct {
	SignedTx
	Admitted uint64 `json:"admitted"` // The time the transaction was admitted (unix nano).
}

// NewBlockTx constructs a new block transaction.
func NewBlockTx(signedTx SignedTx) BlockTx {
	return BlockTx{
		SignedTx: signedTx,
		Admitted: uint64(time.Now().UTC().UnixNano()),
	}
}

// Hash returns the hash of the full block transaction. This is the leaf
// used in the merkle tree of a block.
func (tx BlockTx) Hash() common.Hash {
	return signature.Hash(tx)
}

// AdmittedAt returns the admission time as a time value.
func (tx BlockTx) AdmittedAt() time.Time {
	return time.Unix(0, int64(tx.Admitted))
}

// Deltas returns the debit and credit this transaction applies to the
// balance ledger, in that order.
func (tx BlockTx) Deltas() []Delta {
	return []Delta{
		{AccountID: tx.FromID, Value: tx.Value, Debit: true},
		{AccountID: tx.ToID, Value: tx.Value},
	}
}
