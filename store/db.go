package store

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/optimachain/optimachain/shared"
	"go.uber.org/zap"
)

// KV is the byte-level storage the node persists through.
type KV interface {
	// Get returns nil, nil when key is absent.
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	ApplyBatch(b *Batch) error
	IteratePrefix(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

type Config struct {
	Path       string `mapstructure:"path" json:"path"`
	InMemory   bool   `mapstructure:"in_memory" json:"inMemory"`
	SyncWrites bool   `mapstructure:"sync_writes" json:"syncWrites"`
	CacheSize  int    `mapstructure:"cache_size" json:"cacheSize"`
}

func DefaultConfig() Config {
	return Config{
		Path:      "data",
		CacheSize: 1024,
	}
}

// DB wraps a badger database.
type DB struct {
	db *badger.DB
}

var _ KV = (*DB)(nil)

// Open opens the badger database described by cfg. Badger's own logging is
// routed to logger at warning level and above.
func Open(cfg Config, logger *zap.Logger) (*DB, error) {
	path := cfg.Path
	if cfg.InMemory {
		path = ""
	}
	opts := badger.DefaultOptions(path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(newBadgerLogger(logger))

	db, err := badger.Open(opts)
	if err != nil {
		return nil, shared.Errorf(shared.KindStorage, "open badger at %q: %v", cfg.Path, err)
	}
	return &DB{db: db}, nil
}

// OpenInMemory opens a database that lives only as long as the process.
func OpenInMemory() (*DB, error) {
	return Open(Config{InMemory: true}, nil)
}

func (d *DB) Get(key []byte) ([]byte, error) {
	var value []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, shared.Errorf(shared.KindStorage, "get %x: %v", key, err)
	}
	return value, nil
}

func (d *DB) Put(key, value []byte) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return shared.Errorf(shared.KindStorage, "put %x: %v", key, err)
	}
	return nil
}

func (d *DB) Delete(key []byte) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return shared.Errorf(shared.KindStorage, "delete %x: %v", key, err)
	}
	return nil
}

func (d *DB) Has(key []byte) (bool, error) {
	err := d.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, shared.Errorf(shared.KindStorage, "has %x: %v", key, err)
	}
	return true, nil
}

// ApplyBatch writes every operation of b in one transaction, in order.
func (d *DB) ApplyBatch(b *Batch) error {
	if b.Len() == 0 {
		return nil
	}
	err := d.db.Update(func(txn *badger.Txn) error {
		for _, op := range b.ops {
			var err error
			if op.delete {
				err = txn.Delete(op.key)
			} else {
				err = txn.Set(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return shared.Errorf(shared.KindStorage, "apply batch of %d: %v", b.Len(), err)
	}
	return nil
}

// IteratePrefix calls fn for every key starting with prefix, in key order.
// Iteration stops at the first error fn returns.
func (d *DB) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	return d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return shared.Errorf(shared.KindStorage, "read %x: %v", item.Key(), err)
			}
			if err := fn(item.KeyCopy(nil), value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	if err := d.db.Close(); err != nil {
		return shared.Errorf(shared.KindStorage, "close badger: %v", err)
	}
	return nil
}

// badgerLogger adapts zap to badger.Logger. Info and debug chatter from
// compactions is dropped.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func newBadgerLogger(logger *zap.Logger) badger.Logger {
	if logger == nil {
		return nil
	}
	return badgerLogger{sugar: logger.Named("badger").Sugar()}
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.sugar.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }
func (l badgerLogger) Infof(string, ...interface{})                {}
func (l badgerLogger) Debugf(string, ...interface{})               {}
