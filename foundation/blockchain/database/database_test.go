package database_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/genesis"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	aliceKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	alice    = database.AccountID("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4")
	bob      = database.AccountID("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
	carol    = database.AccountID("0xFef311483Cc040e1A89fb9bb469eeB8A70935EF8")
)

// =============================================================================

func Test_Apply(t *testing.T) {
	type table struct {
		name    string
		deltas  []database.Delta
		success bool
		final   map[database.AccountID]uint64
	}

	tt := []table{
		{
			name: "transfer",
			deltas: []database.Delta{
				{AccountID: alice, Value: 300, Debit: true},
				{AccountID: bob, Value: 300},
				{AccountID: bob, Value: 100, Debit: true},
				{AccountID: carol, Value: 100},
			},
			success: true,
			final:   map[database.AccountID]uint64{alice: 700, bob: 200, carol: 100},
		},
		{
			name: "overdraft",
			deltas: []database.Delta{
				{AccountID: alice, Value: 300, Debit: true},
				{AccountID: bob, Value: 300},
				{AccountID: bob, Value: 301, Debit: true},
				{AccountID: carol, Value: 301},
			},
			final: map[database.AccountID]uint64{alice: 1000, bob: 0, carol: 0},
		},
		{
			name: "unbalanced",
			deltas: []database.Delta{
				{AccountID: alice, Value: 300, Debit: true},
				{AccountID: bob, Value: 200},
			},
			final: map[database.AccountID]uint64{alice: 1000, bob: 0, carol: 0},
		},
	}

	t.Log("Given the need to apply deltas to the balance ledger as one transition.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling a %s set of deltas.", testID, tst.name)
			{
				f := func(t *testing.T) {
					db := newDatabase(t, map[string]uint64{string(alice): 1000})

					err := db.Apply(tst.deltas)
					switch tst.success {
					case true:
						if err != nil {
							t.Fatalf("\t%s\tTest %d:\tShould be able to apply the deltas: %v", failed, testID, err)
						}
						t.Logf("\t%s\tTest %d:\tShould be able to apply the deltas.", success, testID)

					default:
						if !errors.Is(err, database.ErrConservationViolation) {
							t.Fatalf("\t%s\tTest %d:\tShould get a conservation violation: %v", failed, testID, err)
						}
						t.Logf("\t%s\tTest %d:\tShould get a conservation violation.", success, testID)
					}

					for account, exp := range tst.final {
						if got := db.Balance(account); got != exp {
							t.Logf("\t%s\tTest %d:\tgot: %d", failed, testID, got)
							t.Logf("\t%s\tTest %d:\texp: %d", failed, testID, exp)
							t.Errorf("\t%s\tTest %d:\tShould have the correct balance for %s.", failed, testID, account)
							continue
						}
						t.Logf("\t%s\tTest %d:\tShould have the correct balance for %s.", success, testID, account)
					}

					if db.Total() != db.Issued() {
						t.Fatalf("\t%s\tTest %d:\tShould conserve the total issued value: total[%d] issued[%d]", failed, testID, db.Total(), db.Issued())
					}
					t.Logf("\t%s\tTest %d:\tShould conserve the total issued value.", success, testID)
				}

				t.Run(tst.name, f)
			}
		}
	}
}

func Test_ConservationDetail(t *testing.T) {
	t.Log("Given the need to know which delta broke conservation.")
	{
		t.Logf("\tTest 0:\tWhen a debit overdraws an account.")
		{
			db := newDatabase(t, map[string]uint64{string(alice): 10})

			err := db.Apply([]database.Delta{
				{AccountID: alice, Value: 5, Debit: true},
				{AccountID: bob, Value: 5},
				{AccountID: alice, Value: 6, Debit: true},
				{AccountID: bob, Value: 6},
			})

			var ce *database.ConservationError
			if !errors.As(err, &ce) {
				t.Fatalf("\t%s\tTest 0:\tShould get a conservation error: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould get a conservation error.", success)

			if ce.Index != 2 || ce.AccountID != alice || ce.Balance != 5 || ce.Value != 6 {
				t.Fatalf("\t%s\tTest 0:\tShould identify the failing delta: %+v", failed, ce)
			}
			t.Logf("\t%s\tTest 0:\tShould identify the failing delta.", success)
		}
	}
}

func Test_Partition(t *testing.T) {
	t.Log("Given the need to split a batch by what the balances can fund.")
	{
		t.Logf("\tTest 0:\tWhen alice sends 10 x 200 with a balance of 1000.")
		{
			db := newDatabase(t, map[string]uint64{string(alice): 1000})
			pk := privateKey(t)

			var trans []database.BlockTx
			for i := range 10 {
				trans = append(trans, sign(t, pk, uint64(i), bob, 200))
			}

			valid, rejected := db.Partition(trans)
			if len(valid) != 5 || len(rejected) != 5 {
				t.Fatalf("\t%s\tTest 0:\tShould get 5 valid and 5 rejected: got %d and %d", failed, len(valid), len(rejected))
			}
			t.Logf("\t%s\tTest 0:\tShould get 5 valid and 5 rejected.", success)

			for i, tx := range valid {
				if tx.Nonce != uint64(i) {
					t.Fatalf("\t%s\tTest 0:\tShould keep the first five in order: got nonce %d at %d", failed, tx.Nonce, i)
				}
			}
			t.Logf("\t%s\tTest 0:\tShould keep the first five in order.", success)

			if db.Balance(alice) != 1000 {
				t.Fatalf("\t%s\tTest 0:\tShould not change any balance.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould not change any balance.", success)

			var deltas []database.Delta
			for _, tx := range valid {
				deltas = append(deltas, tx.Deltas()...)
			}
			if err := db.Apply(deltas); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to apply the valid set: %v", failed, err)
			}
			if db.Balance(alice) != 0 || db.Balance(bob) != 1000 {
				t.Fatalf("\t%s\tTest 0:\tShould move 1000 from alice to bob: alice[%d] bob[%d]", failed, db.Balance(alice), db.Balance(bob))
			}
			t.Logf("\t%s\tTest 0:\tShould move 1000 from alice to bob.", success)
		}
	}
}

func Test_Genesis(t *testing.T) {
	t.Log("Given the need to issue genesis balances.")
	{
		t.Logf("\tTest 0:\tWhen an account is not checksummed.")
		{
			db := newDatabase(t, map[string]uint64{strings.ToLower(string(alice)): 50})

			if db.Balance(alice) != 50 {
				t.Fatalf("\t%s\tTest 0:\tShould store the balance under the checksummed id.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould store the balance under the checksummed id.", success)
		}

		t.Logf("\tTest 1:\tWhen an account is malformed.")
		{
			if _, err := database.New(genesis.Genesis{Balances: map[string]uint64{"0x1234": 1}}); err == nil {
				t.Fatalf("\t%s\tTest 1:\tShould fail to construct the database.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould fail to construct the database.", success)
		}
	}
}

// =============================================================================

func Test_TransactionValidate(t *testing.T) {
	pk := privateKey(t)

	type table struct {
		name string
		tx   func() database.SignedTx
		err  error
	}

	tt := []table{
		{
			name: "valid",
			tx:   func() database.SignedTx { return sign(t, pk, 1, bob, 10).SignedTx },
		},
		{
			name: "tampered",
			tx: func() database.SignedTx {
				tx := sign(t, pk, 1, bob, 10).SignedTx
				tx.Value = 1000
				return tx
			},
			err: database.ErrInvalidSignature,
		},
		{
			name: "zero value",
			tx:   func() database.SignedTx { return sign(t, pk, 1, bob, 0).SignedTx },
			err:  database.ErrInvalidTransaction,
		},
		{
			name: "self transfer",
			tx:   func() database.SignedTx { return sign(t, pk, 1, alice, 10).SignedTx },
			err:  database.ErrInvalidTransaction,
		},
		{
			name: "claimed sender",
			tx: func() database.SignedTx {
				other, err := crypto.GenerateKey()
				if err != nil {
					t.Fatalf("generating key: %s", err)
				}
				tx, err := database.NewTx(1, database.PublicKeyToAccountID(other.PublicKey), bob, 10, nil)
				if err != nil {
					t.Fatalf("new tx: %s", err)
				}
				signedTx, err := tx.Sign(other)
				if err != nil {
					t.Fatalf("sign: %s", err)
				}
				signedTx.FromID = alice
				return signedTx
			},
			err: database.ErrInvalidSignature,
		},
	}

	t.Log("Given the need to validate signed transactions.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling a %s transaction.", testID, tst.name)
			{
				f := func(t *testing.T) {
					err := tst.tx().Validate()
					switch tst.err {
					case nil:
						if err != nil {
							t.Fatalf("\t%s\tTest %d:\tShould validate the transaction: %v", failed, testID, err)
						}
						t.Logf("\t%s\tTest %d:\tShould validate the transaction.", success, testID)

					default:
						if !errors.Is(err, tst.err) {
							t.Fatalf("\t%s\tTest %d:\tShould fail with %v: %v", failed, testID, tst.err, err)
						}
						t.Logf("\t%s\tTest %d:\tShould fail with %v.", success, testID, tst.err)
					}
				}

				t.Run(tst.name, f)
			}
		}
	}
}

func Test_SignWrongKey(t *testing.T) {
	t.Log("Given the need to only sign for the owned account.")
	{
		t.Logf("\tTest 0:\tWhen the key does not own the from account.")
		{
			tx, err := database.NewTx(1, bob, carol, 10, nil)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to construct a transaction: %v", failed, err)
			}

			if _, err := tx.Sign(privateKey(t)); err == nil {
				t.Fatalf("\t%s\tTest 0:\tShould not be able to sign.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould not be able to sign.", success)
		}
	}
}

func Test_Fingerprint(t *testing.T) {
	pk := privateKey(t)

	t.Log("Given the need to identify transactions by content.")
	{
		t.Logf("\tTest 0:\tWhen the same transfer is signed twice.")
		{
			tx1 := sign(t, pk, 7, bob, 10)
			tx2 := sign(t, pk, 7, bob, 10)
			tx2.TimeStamp = tx1.TimeStamp + 1

			if tx1.Fingerprint() != tx2.Fingerprint() {
				t.Fatalf("\t%s\tTest 0:\tShould get the same fingerprint.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould get the same fingerprint.", success)
		}

		t.Logf("\tTest 1:\tWhen the nonce changes.")
		{
			tx1 := sign(t, pk, 7, bob, 10)
			tx2 := sign(t, pk, 8, bob, 10)

			if tx1.Fingerprint() == tx2.Fingerprint() {
				t.Fatalf("\t%s\tTest 1:\tShould get a different fingerprint.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould get a different fingerprint.", success)
		}
	}
}

// =============================================================================

func Test_POW(t *testing.T) {
	pk := privateKey(t)
	gen := database.GenesisBlock(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))

	t.Log("Given the need to seal blocks with proof of work.")
	{
		t.Logf("\tTest 0:\tWhen mining a block at difficulty 8.")
		{
			args := database.POWArgs{
				Difficulty: 8,
				PrevBlock:  gen,
				Trans:      []database.BlockTx{sign(t, pk, 1, bob, 10), sign(t, pk, 2, bob, 20)},
			}

			block, err := database.POW(context.Background(), args)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould be able to mine the block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould be able to mine the block.", success)

			if database.LeadingZeroBits(block.Hash()) < 8 {
				t.Fatalf("\t%s\tTest 0:\tShould have at least 8 leading zero bits: %s", failed, block.Hash())
			}
			t.Logf("\t%s\tTest 0:\tShould have at least 8 leading zero bits.", success)

			if block.ComputeHash() != block.Hash() {
				t.Fatalf("\t%s\tTest 0:\tShould recompute the same hash.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould recompute the same hash.", success)

			if block.Header.Number != 1 || block.Header.PrevBlockHash != gen.Hash() {
				t.Fatalf("\t%s\tTest 0:\tShould link to the genesis block.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould link to the genesis block.", success)

			if block.Header.TransRoot != database.TransRoot(block.Trans) {
				t.Fatalf("\t%s\tTest 0:\tShould commit to the transactions.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould commit to the transactions.", success)

			if block.Header.TransCount != 2 {
				t.Fatalf("\t%s\tTest 0:\tShould commit to the transaction count: got %d", failed, block.Header.TransCount)
			}
			t.Logf("\t%s\tTest 0:\tShould commit to the transaction count.", success)

			args.Trans[0].Value = 99
			if block.Trans[0].Value != 10 {
				t.Fatalf("\t%s\tTest 0:\tShould not share the caller's transactions.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould not share the caller's transactions.", success)
		}

		t.Logf("\tTest 1:\tWhen mining is cancelled.")
		{
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := database.POW(ctx, database.POWArgs{Difficulty: 255, PrevBlock: gen})
			if !errors.Is(err, context.Canceled) {
				t.Fatalf("\t%s\tTest 1:\tShould stop with a cancelled error: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould stop with a cancelled error.", success)
		}

		t.Logf("\tTest 2:\tWhen the clock is behind the parent block.")
		{
			parent := database.GenesisBlock(time.Now().Add(time.Hour))

			block, err := database.POW(context.Background(), database.POWArgs{
				Difficulty: 4,
				PrevBlock:  parent,
				Trans:      []database.BlockTx{sign(t, pk, 1, bob, 10)},
			})
			if err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould be able to mine the block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould be able to mine the block.", success)

			if block.Header.TimeStamp < parent.Header.TimeStamp {
				t.Fatalf("\t%s\tTest 2:\tShould not stamp the block before its parent: %d < %d", failed, block.Header.TimeStamp, parent.Header.TimeStamp)
			}
			t.Logf("\t%s\tTest 2:\tShould not stamp the block before its parent.", success)
		}
	}
}

func Test_LeadingZeroBits(t *testing.T) {
	type table struct {
		hash common.Hash
		bits int
	}

	tt := []table{
		{hash: common.HexToHash("0x8000000000000000000000000000000000000000000000000000000000000000"), bits: 0},
		{hash: common.HexToHash("0x0100000000000000000000000000000000000000000000000000000000000000"), bits: 7},
		{hash: common.HexToHash("0x000f000000000000000000000000000000000000000000000000000000000000"), bits: 12},
		{hash: common.Hash{}, bits: 256},
	}

	t.Log("Given the need to count leading zero bits.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling hash %s.", testID, tst.hash)
			{
				if got := database.LeadingZeroBits(tst.hash); got != tst.bits {
					t.Fatalf("\t%s\tTest %d:\tShould count %d bits: got %d", failed, testID, tst.bits, got)
				}
				t.Logf("\t%s\tTest %d:\tShould count %d bits.", success, testID, tst.bits)

				if !database.IsHashSolved(uint16(tst.bits), tst.hash) {
					t.Fatalf("\t%s\tTest %d:\tShould be solved at its own difficulty.", failed, testID)
				}
				if tst.bits < 256 && database.IsHashSolved(uint16(tst.bits+1), tst.hash) {
					t.Fatalf("\t%s\tTest %d:\tShould not be solved above its difficulty.", failed, testID)
				}
				t.Logf("\t%s\tTest %d:\tShould be solved only up to its difficulty.", success, testID)
			}
		}
	}
}

// =============================================================================

func newDatabase(t *testing.T, balances map[string]uint64) *database.Database {
	db, err := database.New(genesis.Genesis{Balances: balances})
	if err != nil {
		t.Fatalf("Should be able to construct the database: %s", err)
	}

	return db
}

func privateKey(t *testing.T) *ecdsa.PrivateKey {
	pk, err := crypto.HexToECDSA(aliceKey)
	if err != nil {
		t.Fatalf("Should be able to load the private key: %s", err)
	}

	return pk
}

func sign(t *testing.T, pk *ecdsa.PrivateKey, nonce uint64, to database.AccountID, value uint64) database.BlockTx {
	tx, err := database.NewTx(nonce, database.PublicKeyToAccountID(pk.PublicKey), to, value, nil)
	if err != nil {
		t.Fatalf("Should be able to construct the transaction: %s", err)
	}

	signedTx, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("Should be able to sign the transaction: %s", err)
	}

	return database.NewBlockTx(signedTx)
}
