package infra

import (
	"fmt"

	"romap-gateway/keystore"
)

const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// OpenTable escolhe a tabela pelo backend. closeFn libera o banco (no-op para
// arquivo).
func OpenTable(backend, path, badgerDir string) (table keystore.Table, closeFn func() error, err error) {
	switch backend {
	case BackendBadger:
		db, err := OpenBadger(badgerDir)
		if err != nil {
			return nil, nil, err
		}
		return NewBadgerTable(db), db.Close, nil
	case BackendFile, "":
		return NewFileTable(path), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown key backend %q", backend)
	}
}
