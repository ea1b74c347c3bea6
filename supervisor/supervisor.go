// Package supervisor monta a árvore suture que mantém vivos os serviços de
// longa duração do gateway (servidor HTTP, janitor do burst guard, flush do
// log de requests).
package supervisor

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

type Config struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// New cria o supervisor raiz. Zeros em cfg caem nos valores de DefaultConfig.
func New(name string, logger zerolog.Logger, cfg Config) *suture.Supervisor {
	def := DefaultConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	return suture.New(name, suture.Spec{
		EventHook:        EventHook(logger),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	})
}

// EventHook manda os eventos do suture (panic, restart, backoff) para o zerolog.
func EventHook(logger zerolog.Logger) suture.EventHook {
	l := logger.With().Str("component", "supervisor").Logger()
	return func(e suture.Event) {
		ev := l.Warn()
		if e.Type() == suture.EventTypeServicePanic {
			ev = l.Error()
		}
		ev.Fields(e.Map()).Msg(e.String())
	}
}
