package cropcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dlevesque1980/dailywallpaper-sub001/util/log"
)

// Key layout:
//
//	e/<id>                 -> JSON Entry
//	k/<cacheKey>           -> id
//	i/<imageHash>/<id>     -> empty (per-image index)
const (
	entryPrefix = "e/"
	keyPrefix   = "k/"
	imagePrefix = "i/"
)

// BadgerBackend stores rows in a badger key-value database.
type BadgerBackend struct {
	db       *badger.DB
	inMemory bool
}

// OpenBadger opens (or creates) a database in dir. An empty dir opens an
// in-memory database.
func OpenBadger(dir string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening crop cache database: %w", err)
	}
	return &BadgerBackend{db: db, inMemory: dir == ""}, nil
}

func entryKey(id string) []byte     { return []byte(entryPrefix + id) }
func keyIndexKey(key string) []byte { return []byte(keyPrefix + key) }
func imageIndexPrefix(imageURL string) []byte {
	return []byte(imagePrefix + imageHash(imageURL) + "/")
}
func imageIndexKey(imageURL, id string) []byte {
	return append(imageIndexPrefix(imageURL), id...)
}

func (b *BadgerBackend) Insert(e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty row id", ErrInvalidEntry)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if oldID, err := getString(txn, keyIndexKey(e.CacheKey)); err == nil && oldID != e.ID {
			if err := deleteRow(txn, oldID); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := deleteRow(txn, e.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		return putRow(txn, e)
	})
}

func (b *BadgerBackend) Update(e Entry) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := deleteRow(txn, e.ID); err != nil {
			return err
		}
		if oldID, err := getString(txn, keyIndexKey(e.CacheKey)); err == nil {
			if err := deleteRow(txn, oldID); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		return putRow(txn, e)
	})
}

func (b *BadgerBackend) Delete(id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return deleteRow(txn, id)
	})
}

func (b *BadgerBackend) FindByKey(key string) (Entry, error) {
	var e Entry
	err := b.db.View(func(txn *badger.Txn) error {
		id, err := getString(txn, keyIndexKey(key))
		if err != nil {
			return err
		}
		e, err = getRow(txn, id)
		return err
	})
	return e, err
}

func (b *BadgerBackend) FindByImage(imageURL string) ([]Entry, error) {
	var res []Entry
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := imageIndexPrefix(imageURL)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		var ids []string
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().KeyCopy(nil)[len(prefix):]))
		}
		for _, id := range ids {
			e, err := getRow(txn, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			res = append(res, e)
		}
		return nil
	})
	return res, err
}

func (b *BadgerBackend) List() ([]Entry, error) {
	var res []Entry
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(entryPrefix)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var e Entry
			if err := json.Unmarshal(val, &e); err != nil {
				return fmt.Errorf("decoding row %s: %w", it.Item().Key(), err)
			}
			res = append(res, e)
		}
		return nil
	})
	return res, err
}

// RunGC reclaims space in the value log. It returns nil when there was nothing to rewrite.
func (b *BadgerBackend) RunGC(discardRatio float64) error {
	if b.inMemory {
		return nil
	}
	err := b.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

func getString(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func getRow(txn *badger.Txn, id string) (Entry, error) {
	item, err := txn.Get(entryKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &e)
	})
	return e, err
}

func putRow(txn *badger.Txn, e Entry) error {
	val, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := txn.Set(entryKey(e.ID), val); err != nil {
		return err
	}
	if err := txn.Set(keyIndexKey(e.CacheKey), []byte(e.ID)); err != nil {
		return err
	}
	return txn.Set(imageIndexKey(e.ImageURL, e.ID), nil)
}

// deleteRow removes a row and the index keys that still point at it.
func deleteRow(txn *badger.Txn, id string) error {
	e, err := getRow(txn, id)
	if err != nil {
		return err
	}
	if err := txn.Delete(entryKey(id)); err != nil {
		return err
	}
	if owner, err := getString(txn, keyIndexKey(e.CacheKey)); err == nil && owner == id {
		if err := txn.Delete(keyIndexKey(e.CacheKey)); err != nil {
			return err
		}
	}
	return txn.Delete(imageIndexKey(e.ImageURL, id))
}

// badgerLogger routes badger's internal logging through util/log.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	log.Printf("Badger ERROR: "+strings.TrimSpace(format), args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	log.Printf("Badger WARN: "+strings.TrimSpace(format), args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	log.Debugf("Badger: "+strings.TrimSpace(format), args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	log.Debugf("Badger: "+strings.TrimSpace(format), args...)
}
