// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Genesis represents the genesis file.
type Genesis struct {
	Date          time.Time         `json:"date"`
	ChainID       uint16            `json:"chain_id"`        // The chain id represents an unique id for this running instance.
	TransPerBlock uint16            `json:"trans_per_block"` // The maximum number of transactions that can be in a block.
	Difficulty    uint16            `json:"difficulty"`      // How many leading zero bits are needed to solve the work problem.
	Balances      map[string]uint64 `json:"balances"`        // The credits issued to accounts when the ledger starts.
}

// Default returns a genesis with no balances for use when a genesis file
// is not provided.
func Default() Genesis {
	return Genesis{
		Date:          time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		ChainID:       1,
		TransPerBlock: 100,
		Difficulty:    12,
		Balances:      map[string]uint64{},
	}
}

// maxDifficulty is the number of bits in a block hash. A higher difficulty
// can never be solved.
const maxDifficulty = 256

// Validate checks the genesis settings the ledger can not run with.
func (g Genesis) Validate(now time.Time) error {
	if g.Date.After(now) {
		return fmt.Errorf("genesis date %s is in the future", g.Date.Format(time.RFC3339))
	}

	if g.Difficulty > maxDifficulty {
		return fmt.Errorf("difficulty %d exceeds the %d bits of a block hash", g.Difficulty, maxDifficulty)
	}

	return nil
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, fmt.Errorf("reading genesis: %w", err)
	}

	var genesis Genesis
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, fmt.Errorf("decoding genesis: %w", err)
	}

	if genesis.Balances == nil {
		genesis.Balances = map[string]uint64{}
	}

	if err := genesis.Validate(time.Now()); err != nil {
		return Genesis{}, fmt.Errorf("validating genesis: %w", err)
	}

	return genesis, nil
}
