package pebbledb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/Mr-browny/ethy/entities"
	"github.com/cockroachdb/pebble"
)

const transactionCountKey = 0x00

type Store struct {
	db *pebble.DB
}

func NewCountStore(storeDir string) (*Store, error) {
	db, err := pebble.Open(filepath.Join(storeDir, "transfer-client-store"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble db: %v", err)
	}

	return &Store{db: db}, nil
}

func (ps *Store) SetTransactionCount(_ context.Context, count uint64) error {
	key := []byte{transactionCountKey}

	var value []byte
	value = binary.BigEndian.AppendUint64(value, count)

	err := ps.db.Set(key, value, pebble.Sync)
	if err != nil {
		return fmt.Errorf("setting transaction count: %v", err)
	}

	return nil
}

func (ps *Store) GetTransactionCount(_ context.Context) (count uint64, err error) {
	key := []byte{transactionCountKey}

	value, closer, err := ps.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, entities.ErrStoreEntityNotFound
	}

	if err != nil {
		return 0, fmt.Errorf("getting transaction count: %v", err)
	}
	defer closer.Close()

	if len(value) != 8 {
		return 0, fmt.Errorf("unexpected transaction count value length [%d]", len(value))
	}
	count = binary.BigEndian.Uint64(value)

	return count, nil
}

func (ps *Store) Close() error {
	return ps.db.Close()
}
