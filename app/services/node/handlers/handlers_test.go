package handlers_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ardanlabs/ledger/app/services/node/handlers"
	"github.com/ardanlabs/ledger/business/web/errs"
	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/ledger/foundation/blockchain/state"
	"github.com/ardanlabs/ledger/foundation/events"
	"github.com/ardanlabs/ledger/foundation/nameservice"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	aliceKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	bob      = database.AccountID("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
)

// =============================================================================

func Test_Submit(t *testing.T) {
	app, _, pk := newApp(t)

	type table struct {
		name   string
		tx     database.SignedTx
		status int
	}

	valid := sign(t, pk, 1, bob, 10)

	tt := []table{
		{name: "valid", tx: valid, status: http.StatusOK},
		{name: "duplicate", tx: valid, status: http.StatusConflict},
		{name: "overdraft", tx: sign(t, pk, 2, bob, 5000), status: http.StatusBadRequest},
		{name: "zerovalue", tx: sign(t, pk, 3, bob, 0), status: http.StatusBadRequest},
	}

	t.Log("Given the need to submit transactions over the public api.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen submitting a %s transaction.", testID, tst.name)
			{
				w := do(t, app, http.MethodPost, "/v1/tx/submit", tst.tx)
				if w.Code != tst.status {
					t.Fatalf("\t%s\tTest %d:\tShould receive status %d : got %d : %s", failed, testID, tst.status, w.Code, w.Body.String())
				}
				t.Logf("\t%s\tTest %d:\tShould receive status %d.", success, testID, tst.status)

				if tst.status != http.StatusOK {
					var resp errs.Response
					if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp.Error == "" {
						t.Fatalf("\t%s\tTest %d:\tShould receive an error message : %v", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould receive an error message.", success, testID)
				}
			}
		}
	}
}

func Test_Queries(t *testing.T) {
	app, st, pk := newApp(t)

	t.Log("Given the need to query the ledger over the public api.")
	{
		t.Logf("\tTest 0:\tWhen a transfer has been submitted and mined.")
		{
			w := do(t, app, http.MethodPost, "/v1/tx/submit", sign(t, pk, 1, bob, 10))
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var pool []map[string]any
			w = do(t, app, http.MethodGet, "/v1/tx/uncommitted/list", nil)
			require.NoError(t, json.NewDecoder(w.Body).Decode(&pool))
			if len(pool) != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould see the transfer in the mempool : got %d", failed, len(pool))
			}
			t.Logf("\t%s\tTest 0:\tShould see the transfer in the mempool.", success)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, err := st.MineNewBlock(ctx)
			require.NoError(t, err)

			var acts struct {
				Accounts []struct {
					Account string `json:"account"`
					Balance uint64 `json:"balance"`
				} `json:"accounts"`
			}
			w = do(t, app, http.MethodGet, fmt.Sprintf("/v1/accounts/list/%s", bob), nil)
			require.NoError(t, json.NewDecoder(w.Body).Decode(&acts))
			if len(acts.Accounts) != 1 || acts.Accounts[0].Balance != 10 {
				t.Fatalf("\t%s\tTest 0:\tShould see bob's balance of 10 : got %+v", failed, acts.Accounts)
			}
			t.Logf("\t%s\tTest 0:\tShould see bob's balance of 10.", success)

			var status struct {
				ChainLength int  `json:"chain_length"`
				Uncommitted int  `json:"uncommitted"`
				Halted      bool `json:"halted"`
				ValidChain  bool `json:"valid_chain"`
			}
			w = do(t, app, http.MethodGet, "/v1/chain/status", nil)
			require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
			if status.ChainLength != 2 || status.Uncommitted != 0 || status.Halted || !status.ValidChain {
				t.Fatalf("\t%s\tTest 0:\tShould see a chain of two valid blocks : got %+v", failed, status)
			}
			t.Logf("\t%s\tTest 0:\tShould see a chain of two valid blocks.", success)

			var blocks []struct {
				Number uint64           `json:"number"`
				Trans  []map[string]any `json:"txs"`
			}
			w = do(t, app, http.MethodGet, "/v1/blocks/list/1/latest", nil)
			require.NoError(t, json.NewDecoder(w.Body).Decode(&blocks))
			if len(blocks) != 1 || blocks[0].Number != 1 || len(blocks[0].Trans) != 1 {
				t.Fatalf("\t%s\tTest 0:\tShould get back the mined block : got %+v", failed, blocks)
			}
			t.Logf("\t%s\tTest 0:\tShould get back the mined block.", success)

			w = do(t, app, http.MethodGet, "/v1/blocks/list/5/2", nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("\t%s\tTest 0:\tShould reject an inverted range : got %d", failed, w.Code)
			}
			t.Logf("\t%s\tTest 0:\tShould reject an inverted range.", success)

			w = do(t, app, http.MethodGet, "/v1/accounts/list/nobody", nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("\t%s\tTest 0:\tShould reject an unknown account : got %d", failed, w.Code)
			}
			t.Logf("\t%s\tTest 0:\tShould reject an unknown account.", success)
		}
	}
}

func Test_Debug(t *testing.T) {
	_, st, _ := newApp(t)

	reg := prometheus.NewRegistry()
	mux := handlers.DebugMux("test", zap.NewNop().Sugar(), st, reg)

	t.Log("Given the need to check the health of the service.")
	{
		for testID, path := range []string{"/debug/readiness", "/debug/liveness", "/metrics"} {
			t.Logf("\tTest %d:\tWhen calling %s.", testID, path)
			{
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
				if w.Code != http.StatusOK {
					t.Fatalf("\t%s\tTest %d:\tShould receive a 200 : got %d", failed, testID, w.Code)
				}
				t.Logf("\t%s\tTest %d:\tShould receive a 200.", success, testID)
			}
		}
	}
}

// =============================================================================

func newApp(t *testing.T) (http.Handler, *state.State, *ecdsa.PrivateKey) {
	pk, err := crypto.HexToECDSA(aliceKey)
	require.NoError(t, err)

	st, err := state.New(state.Config{
		Genesis: genesis.Genesis{
			Date:          time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
			ChainID:       1,
			TransPerBlock: 10,
			Difficulty:    4,
			Balances:      map[string]uint64{string(database.PublicKeyToAccountID(pk.PublicKey)): 1000},
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Shutdown() })

	ns, err := nameservice.New(t.TempDir())
	require.NoError(t, err)

	app := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: make(chan os.Signal, 1),
		Log:      zap.NewNop().Sugar(),
		State:    st,
		NS:       ns,
		Evts:     events.New(),
		Registry: prometheus.NewRegistry(),
	})

	return app, st, pk
}

func do(t *testing.T, app http.Handler, method string, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	w := httptest.NewRecorder()
	app.ServeHTTP(w, httptest.NewRequest(method, path, &buf))

	return w
}

func sign(t *testing.T, pk *ecdsa.PrivateKey, nonce uint64, to database.AccountID, value uint64) database.SignedTx {
	tx, err := database.NewTx(nonce, database.PublicKeyToAccountID(pk.PublicKey), to, value, nil)
	require.NoError(t, err)

	signedTx, err := tx.Sign(pk)
	require.NoError(t, err)

	return signedTx
}
