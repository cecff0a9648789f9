// store.go - LevelDB-backed nullifier registry.
//
// Claims go through a LevelDB transaction so check-then-put commits as one
// unit; the database serializes open transactions, which is what makes the
// insert-if-absent atomic across goroutines.

package nullifier

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"

	"veilpool/internal/vperrors"
)

var (
	nullifierPrefix = []byte("n/")
	countKey        = []byte("meta/count")
)

// Store is the durable registry. Safe for concurrent use.
type Store struct {
	db *leveldb.DB
}

var _ Registry = (*Store)(nil)

// NewStore opens or creates the registry database at path. An empty path
// uses in-memory storage, which is handy in tests.
func NewStore(path string) (*Store, error) {
	var db *leveldb.DB
	var err error
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open nullifier store at %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

func nullifierKey(h common.Hash) []byte {
	return append(append([]byte(nil), nullifierPrefix...), h[:]...)
}

func (s *Store) Claim(h common.Hash) error {
	tr, err := s.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("open claim transaction: %w", err)
	}

	key := nullifierKey(h)
	exists, err := tr.Has(key, nil)
	if err != nil {
		tr.Discard()
		return fmt.Errorf("check nullifier %s: %w", h.Hex(), err)
	}
	if exists {
		tr.Discard()
		return fmt.Errorf("nullifier %s: %w", h.Hex(), vperrors.ErrNullifierAlreadyUsed)
	}

	if err := tr.Put(key, []byte{1}, nil); err != nil {
		tr.Discard()
		return fmt.Errorf("record nullifier %s: %w", h.Hex(), err)
	}
	count, err := readCount(tr)
	if err != nil {
		tr.Discard()
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], count+1)
	if err := tr.Put(countKey, buf[:], nil); err != nil {
		tr.Discard()
		return fmt.Errorf("update nullifier count: %w", err)
	}

	if err := tr.Commit(); err != nil {
		return fmt.Errorf("commit nullifier %s: %w", h.Hex(), err)
	}
	return nil
}

func (s *Store) Spent(h common.Hash) (bool, error) {
	exists, err := s.db.Has(nullifierKey(h), nil)
	if err != nil {
		return false, fmt.Errorf("check nullifier %s: %w", h.Hex(), err)
	}
	return exists, nil
}

func (s *Store) Len() (int, error) {
	count, err := readCount(s.db)
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *Store) Close() error { return s.db.Close() }

// getter covers both *leveldb.DB and *leveldb.Transaction.
type getter interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
}

func readCount(g getter) (uint64, error) {
	data, err := g.Get(countKey, nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read nullifier count: %w", err)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt nullifier count record: %w", vperrors.ErrStateInconsistent)
	}
	return binary.BigEndian.Uint64(data), nil
}
