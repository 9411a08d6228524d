// Package storage provides construction of the storage implementations
// that can hold the blockchain.
package storage

import (
	"fmt"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/ardanlabs/ledger/foundation/blockchain/storage/disk"
	"github.com/ardanlabs/ledger/foundation/blockchain/storage/leveldb"
	"github.com/ardanlabs/ledger/foundation/blockchain/storage/memory"
)

// Set of storage kinds that can be opened.
const (
	KindMemory  = "memory"
	KindDisk    = "disk"
	KindLevelDB = "leveldb"
)

// Open constructs the storage of the specified kind. The path is ignored
// for memory storage.
func Open(kind string, dbPath string) (database.Storage, error) {
	switch kind {
	case KindMemory:
		return memory.New()

	case KindDisk:
		return disk.New(dbPath)

	case KindLevelDB:
		return leveldb.New(dbPath)
	}

	return nil, fmt.Errorf("unknown storage kind %q", kind)
}
