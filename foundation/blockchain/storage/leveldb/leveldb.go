// Package leveldb implements the ability to read and write blocks to a
// leveldb database keyed by block number.
package leveldb

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/ledger/foundation/blockchain/database"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// blockPrefix is the key prefix for all block records. The block number
// follows in big endian so keys sort in chain order.
var blockPrefix = []byte("b")

// LevelDB represents the serialization implementation for reading and
// storing blocks in a leveldb database. This implements the database.Storage
// interface.
type LevelDB struct {
	mu   sync.Mutex
	db   *leveldb.DB
	next uint64
}

// New opens or creates the leveldb database at the specified path.
func New(dbPath string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("opening leveldb: %w", err)
	}

	l := LevelDB{db: db}

	// Locate the last block written so writes continue in order.
	iter := db.NewIterator(util.BytesPrefix(blockPrefix), nil)
	if iter.Last() {
		l.next = binary.BigEndian.Uint64(iter.Key()[len(blockPrefix):]) + 1
	}
	iter.Release()

	if err := iter.Error(); err != nil {
		db.Close()
		return nil, fmt.Errorf("locating last block: %w", err)
	}

	return &l, nil
}

// Close releases the database.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

// Write takes the specified database block and stores it under its
// block number. Blocks must be written in order.
func (l *LevelDB) Write(blockData database.BlockData) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if blockData.Header.Number != l.next {
		return fmt.Errorf("block is out of order: got[%d]: exp[%d]", blockData.Header.Number, l.next)
	}

	data, err := json.Marshal(blockData)
	if err != nil {
		return err
	}

	if err := l.db.Put(blockKey(blockData.Header.Number), data, &opt.WriteOptions{Sync: true}); err != nil {
		return err
	}

	l.next++

	return nil
}

// GetBlock locates and returns the contents of the specified block by number.
func (l *LevelDB) GetBlock(num uint64) (database.BlockData, error) {
	data, err := l.db.Get(blockKey(num), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return database.BlockData{}, database.ErrBlockNotFound
		}
		return database.BlockData{}, err
	}

	var blockData database.BlockData
	if err := json.Unmarshal(data, &blockData); err != nil {
		return database.BlockData{}, err
	}

	return blockData, nil
}

// ForEach returns an iterator to walk through all the blocks
// starting with the genesis block.
func (l *LevelDB) ForEach() database.Iterator {
	return &levelIterator{iter: l.db.NewIterator(util.BytesPrefix(blockPrefix), nil)}
}

// Reset removes every block from the database.
func (l *LevelDB) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var batch leveldb.Batch

	iter := l.db.NewIterator(util.BytesPrefix(blockPrefix), nil)
	for iter.Next() {
		batch.Delete(iter.Key())
	}
	iter.Release()

	if err := iter.Error(); err != nil {
		return err
	}

	if err := l.db.Write(&batch, nil); err != nil {
		return err
	}

	l.next = 0

	return nil
}

// blockKey forms the key for the specified block number.
func blockKey(num uint64) []byte {
	key := make([]byte, len(blockPrefix)+8)
	copy(key, blockPrefix)
	binary.BigEndian.PutUint64(key[len(blockPrefix):], num)

	return key
}

// =============================================================================

// levelIterator walks the block records in key order. This implements the
// database Iterator interface.
type levelIterator struct {
	iter iterator.Iterator
	eoc  bool
}

// Next retrieves the next block from the database.
func (li *levelIterator) Next() (database.BlockData, error) {
	if li.eoc {
		return database.BlockData{}, errors.New("end of chain")
	}

	if !li.iter.Next() {
		li.eoc = true
		err := li.iter.Error()
		li.iter.Release()

		if err != nil {
			return database.BlockData{}, err
		}
		return database.BlockData{}, database.ErrBlockNotFound
	}

	var blockData database.BlockData
	if err := json.Unmarshal(li.iter.Value(), &blockData); err != nil {
		li.eoc = true
		li.iter.Release()
		return database.BlockData{}, err
	}

	return blockData, nil
}

// Done returns the end of chain value.
func (li *levelIterator) Done() bool {
	return li.eoc
}
