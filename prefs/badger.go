package prefs

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
)

// Badger is a Store backed by BadgerDB.
type Badger struct {
	db *badger.DB
}

// BadgerOptions configures the Badger store.
type BadgerOptions struct {
	// Dir holds the database files. Required unless InMemory is set.
	Dir string

	// InMemory runs badger without touching disk.
	InMemory bool
}

// OpenBadger opens (or creates) a Badger store.
func OpenBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("prefs: BadgerOptions.Dir is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir).
		WithLogger(slogLogger{}).
		WithNumVersionsToKeep(1)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Get(key string) (string, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return string(val), nil
}

func (b *Badger) Set(key, value string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (b *Badger) Delete(key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (b *Badger) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		err := b.db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				item := it.Item()
				val, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				if !yield(string(item.KeyCopy(nil)), string(val)) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			slog.Error("iterate prefs", "error", err)
		}
	}
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// slogLogger routes badger's chatter through slog, keeping info and debug
// output at debug level.
type slogLogger struct{}

func (slogLogger) Errorf(f string, v ...any)   { slog.Error(fmt.Sprintf("badger: "+f, v...)) }
func (slogLogger) Warningf(f string, v ...any) { slog.Warn(fmt.Sprintf("badger: "+f, v...)) }
func (slogLogger) Infof(f string, v ...any)    { slog.Debug(fmt.Sprintf("badger: "+f, v...)) }
func (slogLogger) Debugf(f string, v ...any)   { slog.Debug(fmt.Sprintf("badger: "+f, v...)) }
