package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"threatlens/internal/apperrors"
)

var (
	entryPrefix = []byte("entry/")
	refPrefix   = []byte("ref/")
)

// BadgerStore keeps entries in an embedded badger database.
//
// Keys:
//
//	entry/<20 digit block number> -> entry JSON
//	ref/<reference id>            -> block number
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a store under dir. An empty dir opens an
// in-memory database.
func OpenBadgerStore(dir string, logger *zap.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger.Named("badger").Sugar()})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open badger ledger store")
	}
	return &BadgerStore{db: db}, nil
}

func entryKey(block int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", entryPrefix, block))
}

func refKey(ref string) []byte {
	return append(append([]byte(nil), refPrefix...), ref...)
}

func (s *BadgerStore) Tail(ctx context.Context) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tail *Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = entryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append(append([]byte(nil), entryPrefix...), 0xFF))
		if !it.ValidForPrefix(entryPrefix) {
			return nil
		}
		entry, err := decodeItem(it.Item())
		if err != nil {
			return err
		}
		tail = entry
		return nil
	})
	return tail, err
}

func (s *BadgerStore) Insert(ctx context.Context, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return apperrors.Wrap(apperrors.KindSerialization, err, "encode ledger entry")
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(entryKey(entry.BlockNumber)); err == nil {
			return apperrors.New(apperrors.KindIntegrity, "block %d already recorded", entry.BlockNumber)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if _, err := txn.Get(refKey(entry.ReferenceID)); err == nil {
			return apperrors.New(apperrors.KindIntegrity, "reference id %s already recorded", entry.ReferenceID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(entryKey(entry.BlockNumber), value); err != nil {
			return err
		}
		return txn.Set(refKey(entry.ReferenceID), []byte(strconv.FormatInt(entry.BlockNumber, 10)))
	})
	if errors.Is(err, badger.ErrConflict) {
		return apperrors.Wrap(apperrors.KindIntegrity, err, "concurrent write to block %d", entry.BlockNumber)
	}
	return err
}

func (s *BadgerStore) Get(ctx context.Context, referenceID string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entry *Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(refKey(referenceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return apperrors.NotFound("ledger entry %s not found", referenceID)
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		block, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return apperrors.Wrap(apperrors.KindIntegrity, err, "corrupt index for %s", referenceID)
		}

		item, err = txn.Get(entryKey(block))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return apperrors.New(apperrors.KindIntegrity, "index for %s points at missing block %d", referenceID, block)
		}
		if err != nil {
			return err
		}
		entry, err = decodeItem(item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *BadgerStore) List(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := []Entry{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = entryPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(entryPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, err := decodeItem(it.Item())
			if err != nil {
				return err
			}
			entries = append(entries, *entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func decodeItem(item *badger.Item) (*Entry, error) {
	var entry Entry
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindIntegrity, err, "undecodable entry at key %s", item.Key())
	}
	return &entry, nil
}

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.s.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }
