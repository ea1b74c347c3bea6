package infra

import (
	"context"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"romap-gateway/keystore"
)

const apiKeyPrefix = "apikey:"

// BadgerTable guarda cada registro sob "apikey:<id>".
//
// ReplaceAll apaga o prefixo e grava o conjunto novo na mesma transação.
// LoadAll devolve em ordem de criação.
type BadgerTable struct {
	db *badger.DB
}

func NewBadgerTable(db *badger.DB) *BadgerTable {
	return &BadgerTable{db: db}
}

// OpenBadger abre (ou cria) o banco em dir. dir vazio abre em memória.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", dir, err)
	}
	return db, nil
}

func (t *BadgerTable) LoadAll(_ context.Context) ([]keystore.Record, error) {
	var out []keystore.Record

	err := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(apiKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec keystore.Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load api keys: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (t *BadgerTable) ReplaceAll(_ context.Context, records []keystore.Record) error {
	return t.db.Update(func(txn *badger.Txn) error {
		var stale [][]byte

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(apiKeyPrefix)
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
		}

		for _, rec := range records {
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal api key %s: %w", rec.ID, err)
			}
			if err := txn.Set([]byte(apiKeyPrefix+rec.ID), data); err != nil {
				return fmt.Errorf("set api key %s: %w", rec.ID, err)
			}
		}
		return nil
	})
}
