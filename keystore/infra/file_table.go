package infra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"romap-gateway/jsonfile"
	"romap-gateway/keystore"
)

// lockPoll é o intervalo entre tentativas enquanto outro processo segura a
// trava.
const lockPoll = 20 * time.Millisecond

// keysDocument mantém o layout {"keys": [...]} do arquivo de chaves.
type keysDocument struct {
	Keys []keystore.Record `json:"keys"`
}

// FileTable persiste as chaves num arquivo JSON.
//
// Arquivo inexistente equivale a tabela vazia; o diretório é criado na
// primeira escrita. Lock usa <path>.lock para serializar o gateway e o
// keyctl.
type FileTable struct {
	path string
}

func NewFileTable(path string) *FileTable {
	return &FileTable{path: path}
}

var _ keystore.Locker = (*FileTable)(nil)

func (t *FileTable) Path() string { return t.path }

// Lock toma a trava exclusiva do arquivo, esperando até ctx encerrar.
func (t *FileTable) Lock(ctx context.Context) (func() error, error) {
	lockPath := t.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", lockPath, err)
	}

	for {
		held, err := tryLock(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("lock %s: %w", lockPath, err)
		}
		if held {
			return func() error {
				uerr := unlock(f)
				if cerr := f.Close(); uerr == nil {
					uerr = cerr
				}
				return uerr
			}, nil
		}

		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, ctx.Err()
		case <-time.After(lockPoll):
		}
	}
}

func (t *FileTable) LoadAll(_ context.Context) ([]keystore.Record, error) {
	var doc keysDocument
	if _, err := jsonfile.Read(t.path, &doc); err != nil {
		return nil, err
	}
	return doc.Keys, nil
}

func (t *FileTable) ReplaceAll(_ context.Context, records []keystore.Record) error {
	if records == nil {
		records = []keystore.Record{}
	}
	return jsonfile.WriteAtomic(t.path, keysDocument{Keys: records})
}
