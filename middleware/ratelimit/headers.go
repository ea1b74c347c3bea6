package ratelimit

import (
	"net/http"
	"time"

	"romap-gateway/middleware/ratelimit/domain"
)

const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"

	unlimited = "unlimited"
)

// ResetStamp formata o instante de reset como o cliente o recebe
// ("AAAA-MM-DDT23:59:59Z").
func ResetStamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// WriteQuotaHeaders escreve os headers de cota de uma admissão.
// Chaves admin recebem "unlimited" em limit/remaining e nenhum reset.
func WriteQuotaHeaders(h http.Header, dec domain.Decision) {
	if dec.Unlimited {
		h.Set(HeaderLimit, unlimited)
		h.Set(HeaderRemaining, unlimited)
		return
	}
	h.Set(HeaderLimit, formatInt64(dec.Limit))
	h.Set(HeaderRemaining, formatInt64(dec.Remaining))
	h.Set(HeaderReset, ResetStamp(dec.ResetAt))
}
