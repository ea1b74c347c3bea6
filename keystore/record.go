package keystore

import "time"

// Record é uma chave emitida. ID identifica a chave nas operações de admin;
// Secret é a credencial enviada pelo cliente e nunca aparece em listagens.
type Record struct {
	ID        string    `json:"id"`
	Secret    string    `json:"key"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created"`
	IsAdmin   bool      `json:"isAdmin"`
	Suspended bool      `json:"suspended"`
}

// KeyInfo é a visão de um Record sem o segredo.
type KeyInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created"`
	Suspended bool      `json:"suspended"`
	IsAdmin   bool      `json:"isAdmin"`
}

func (r Record) Info() KeyInfo {
	return KeyInfo{
		ID:        r.ID,
		Name:      r.Name,
		CreatedAt: r.CreatedAt,
		Suspended: r.Suspended,
		IsAdmin:   r.IsAdmin,
	}
}

type Status int

const (
	StatusUnknown Status = iota
	StatusValid
	StatusSuspended
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Status classifica o registro; use StatusUnknown quando não houver registro.
func (r Record) Status() Status {
	if r.Suspended {
		return StatusSuspended
	}
	return StatusValid
}
