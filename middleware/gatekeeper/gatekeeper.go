package gatekeeper

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"romap-gateway/apierr"
	"romap-gateway/keystore"
	"romap-gateway/middleware/ratelimit"
	"romap-gateway/middleware/ratelimit/domain"
	"romap-gateway/response"
)

const (
	HeaderAPIKey = "X-API-Key"
	QueryAPIKey  = "apikey"
	QueryDirect  = "direct"
)

// Motivos registrados em domain.StatsEvent.Reason.
const (
	ReasonOK                = "ok"
	ReasonBypass            = "bypass"
	ReasonMissingCredential = "missing_credential"
	ReasonInvalidCredential = "invalid_credential"
	ReasonSuspended         = "suspended"
	ReasonQuotaExceeded     = "quota_exceeded"
)

// KeyDirectory classifica a credencial; o registro vem junto porque o gate
// precisa de ID e IsAdmin.
type KeyDirectory interface {
	Resolve(secret string) (keystore.Record, keystore.Status)
}

type Admitter interface {
	Admit(ctx context.Context, credential string, isAdmin bool) domain.Decision
}

type Gatekeeper struct {
	Keys    KeyDirectory
	Limiter Admitter
	Stats   domain.StatsStore

	// AllowBypass habilita ?direct=true. Desligado, o parâmetro é ignorado.
	AllowBypass    bool
	SupportContact string
	Now            func() time.Time
}

// Verdict é o resultado de Check. Err != nil significa bloqueado.
type Verdict struct {
	Allowed    bool
	Bypass     bool
	Reason     string
	Credential string
	KeyID      string
	Decision   domain.Decision
	Err        *apierr.Error
}

// Credential extrai a credencial: header X-API-Key, senão query apikey.
func Credential(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get(QueryAPIKey))
}

func (g *Gatekeeper) bypassRequested(r *http.Request) bool {
	return g.AllowBypass && r.URL.Query().Get(QueryDirect) == "true"
}

// Check aplica as regras de admissão sem escrever nada na resposta.
func (g *Gatekeeper) Check(r *http.Request) Verdict {
	if g.bypassRequested(r) {
		return Verdict{Allowed: true, Bypass: true, Reason: ReasonBypass}
	}

	cred := Credential(r)
	if cred == "" {
		return Verdict{Reason: ReasonMissingCredential, Err: apierr.Auth("API key is required")}
	}

	rec, status := g.Keys.Resolve(cred)
	v := Verdict{Credential: cred, KeyID: rec.ID}
	switch status {
	case keystore.StatusUnknown:
		return Verdict{Reason: ReasonInvalidCredential, Credential: cred, Err: apierr.Auth("Invalid API key")}
	case keystore.StatusSuspended:
		v.Reason = ReasonSuspended
		v.Err = apierr.Suspended(g.SupportContact)
		return v
	}

	dec := g.Limiter.Admit(r.Context(), cred, rec.IsAdmin)
	v.Decision = dec
	if !dec.Allowed {
		v.Reason = ReasonQuotaExceeded
		v.Err = apierr.QuotaExceeded(dec.Limit, dec.Count, ratelimit.ResetStamp(dec.ResetAt))
		return v
	}

	v.Allowed = true
	v.Reason = ReasonOK
	return v
}

// Middleware aplica Check, registra a decisão e responde ou encaminha.
func (g *Gatekeeper) Middleware(next http.Handler) http.Handler {
	now := g.Now
	if now == nil {
		now = time.Now
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := g.Check(r)

		if g.Stats != nil {
			ev := domain.StatsEvent{
				Key:     domain.Key(v.KeyID),
				Allowed: v.Allowed,
				Reason:  v.Reason,
				Method:  r.Method,
				Path:    r.URL.Path,
				At:      now(),
			}
			if err := g.Stats.Record(r.Context(), ev); err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("admission stats not recorded")
			}
		}

		if v.Err != nil {
			response.WriteError(w, r, v.Err)
			return
		}

		ctx := r.Context()
		if v.KeyID != "" {
			ctx = WithKeyID(ctx, v.KeyID)
			zerolog.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("key_id", v.KeyID)
			})
		}
		if v.Bypass {
			zerolog.Ctx(ctx).Debug().Msg("direct bypass")
		} else {
			ratelimit.WriteQuotaHeaders(w.Header(), v.Decision)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type keyIDCtx struct{}

func WithKeyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyIDCtx{}, id)
}

// KeyIDFrom devolve o id da chave admitida no request, se houver.
func KeyIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(keyIDCtx{}).(string)
	return id
}
