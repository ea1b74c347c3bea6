package keystore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// secretBytes: 32 bytes = 256 bits de entropia.
const secretBytes = 32

var ErrNameRequired = errors.New("key name is required")

type Store struct {
	mu       sync.RWMutex
	table    Table
	records  []Record
	bySecret map[string]int
	logger   zerolog.Logger

	now       func() time.Time
	newID     func() string
	newSecret func() (string, error)
}

type Option func(*Store)

// WithClock troca o relógio usado em CreatedAt (útil em testes).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSecretSource troca o gerador de segredos (útil em testes).
func WithSecretSource(fn func() (string, error)) Option {
	return func(s *Store) { s.newSecret = fn }
}

// Open carrega todos os registros de table. Falha de leitura não derruba o
// processo: é logada e o Store começa vazio.
func Open(ctx context.Context, table Table, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		table:     table,
		logger:    logger.With().Str("component", "keystore").Logger(),
		now:       time.Now,
		newID:     uuid.NewString,
		newSecret: randomSecret,
	}
	for _, opt := range opts {
		opt(s)
	}

	records, err := table.LoadAll(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load api keys, starting empty")
		records = nil
	}
	s.swap(records)
	s.logger.Info().Int("keys", len(records)).Msg("api keys loaded")
	return s
}

func randomSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// swap troca o conjunto em memória; chamar com mu travado (ou na abertura).
func (s *Store) swap(records []Record) {
	idx := make(map[string]int, len(records))
	for i, r := range records {
		idx[r.Secret] = i
	}
	s.records = records
	s.bySecret = idx
}

// commit persiste next e, só em caso de sucesso, troca o estado em memória.
// Chamar com mu travado para escrita.
func (s *Store) commit(ctx context.Context, next []Record) error {
	if err := s.table.ReplaceAll(ctx, next); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist api keys")
		return fmt.Errorf("persist api keys: %w", err)
	}
	s.swap(next)
	return nil
}

// mutate relê a tabela, aplica fn sobre o conteúdo atual e grava o
// resultado, tudo sob a trava da tabela (quando houver). Assim uma escrita
// de outro processo entre a abertura e agora não se perde.
//
// fn devolve changed=false quando não há nada a gravar; a memória ainda
// assim passa a refletir a tabela relida.
func (s *Store) mutate(ctx context.Context, fn func(current []Record) (next []Record, changed bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.table.(Locker); ok {
		unlock, err := l.Lock(ctx)
		if err != nil {
			return fmt.Errorf("lock api keys: %w", err)
		}
		defer func() {
			if err := unlock(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to unlock api keys")
			}
		}()
	}

	loaded, err := s.table.LoadAll(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to reload api keys, using memory snapshot")
		loaded = s.records
	}
	current := append([]Record(nil), loaded...)

	next, changed, err := fn(current)
	if err != nil {
		return err
	}
	if !changed {
		s.swap(current)
		return nil
	}
	return s.commit(ctx, next)
}

// Refresh relê a tabela inteira. Em erro a memória fica como estava.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.table.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("reload api keys: %w", err)
	}
	s.swap(records)
	return nil
}

// Issue emite uma chave nova e devolve o segredo. O segredo só é visível
// aqui; listagens não o expõem.
func (s *Store) Issue(ctx context.Context, name string, isAdmin bool) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrNameRequired
	}

	var rec Record
	err := s.mutate(ctx, func(current []Record) ([]Record, bool, error) {
		taken := make(map[string]struct{}, len(current))
		for _, r := range current {
			taken[r.Secret] = struct{}{}
		}

		var secret string
		for {
			v, err := s.newSecret()
			if err != nil {
				return nil, false, err
			}
			if _, dup := taken[v]; !dup {
				secret = v
				break
			}
		}

		rec = Record{
			ID:        s.newID(),
			Secret:    secret,
			Name:      name,
			CreatedAt: s.now().UTC(),
			IsAdmin:   isAdmin,
		}
		return append(current, rec), true, nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Info().Str("key_id", rec.ID).Str("name", rec.Name).Bool("admin", rec.IsAdmin).Msg("api key issued")
	return rec.Secret, nil
}

// Lookup devolve uma cópia do registro dono do segredo.
func (s *Store) Lookup(secret string) (Record, bool) {
	if secret == "" {
		return Record{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.bySecret[secret]
	if !ok {
		return Record{}, false
	}
	return s.records[i], true
}

// Resolve devolve o registro e o status numa única leitura. Com
// StatusUnknown o registro vem zerado.
func (s *Store) Resolve(secret string) (Record, Status) {
	rec, ok := s.Lookup(secret)
	if !ok {
		return Record{}, StatusUnknown
	}
	return rec, rec.Status()
}

func (s *Store) Status(secret string) Status {
	_, st := s.Resolve(secret)
	return st
}

func (s *Store) Suspend(ctx context.Context, id string) (bool, error) {
	return s.setSuspended(ctx, id, true)
}

func (s *Store) Activate(ctx context.Context, id string) (bool, error) {
	return s.setSuspended(ctx, id, false)
}

func (s *Store) setSuspended(ctx context.Context, id string, suspended bool) (bool, error) {
	found := false
	err := s.mutate(ctx, func(current []Record) ([]Record, bool, error) {
		for i := range current {
			if current[i].ID == id {
				found = true
				current[i].Suspended = suspended
				return current, true, nil
			}
		}
		return current, false, nil
	})
	if err != nil || !found {
		return false, err
	}
	s.logger.Info().Str("key_id", id).Bool("suspended", suspended).Msg("api key status changed")
	return true, nil
}

// Revoke apaga a chave. ID inexistente é no-op.
func (s *Store) Revoke(ctx context.Context, id string) error {
	removed := false
	err := s.mutate(ctx, func(current []Record) ([]Record, bool, error) {
		next := make([]Record, 0, len(current))
		for _, r := range current {
			if r.ID != id {
				next = append(next, r)
			}
		}
		removed = len(next) != len(current)
		return next, removed, nil
	})
	if err != nil || !removed {
		return err
	}
	s.logger.Info().Str("key_id", id).Msg("api key revoked")
	return nil
}

// List devolve as chaves sem segredo, na ordem de emissão.
func (s *Store) List() []KeyInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]KeyInfo, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Info())
	}
	return out
}
