// Package apierr define a taxonomia de erros expostos pela API.
//
// Cada erro carrega o status HTTP e o corpo JSON que o cliente recebe.
// Handlers e middlewares devolvem *Error; o pacote response faz a tradução
// para a resposta. Qualquer erro fora desta taxonomia vira Internal.
package apierr

import (
	"errors"
	"net/http"
	"strconv"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindSuspended
	KindQuotaExceeded
	KindMaintenance
	KindUpstream
	KindUpstreamUnreachable
	KindNotFound
	KindUnauthorized
	KindThrottled
	KindOverloaded
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindSuspended:
		return "suspended"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindMaintenance:
		return "maintenance"
	case KindUpstream:
		return "upstream"
	case KindUpstreamUnreachable:
		return "upstream_unreachable"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindThrottled:
		return "throttled"
	case KindOverloaded:
		return "overloaded"
	default:
		return "internal"
	}
}

// Error é o erro de API. Message vai no campo "error" do corpo; Fields são
// campos extras (limit, reset, contact...). A causa nunca é serializada.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Fields  map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Body monta o corpo JSON da resposta.
func (e *Error) Body() map[string]any {
	body := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		body[k] = v
	}
	body["error"] = e.Message
	return body
}

// With devolve uma cópia com um campo extra.
func (e *Error) With(key string, value any) *Error {
	cp := *e
	cp.Fields = make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		cp.Fields[k] = v
	}
	cp.Fields[key] = value
	return &cp
}

// As extrai um *Error da cadeia; ok=false quando err não pertence à taxonomia.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf devolve o Kind de err (KindInternal para erros desconhecidos).
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

func Validation(message, field string) *Error {
	e := &Error{Kind: KindValidation, Status: http.StatusBadRequest, Message: message}
	if field != "" {
		e.Fields = map[string]any{"field": field}
	}
	return e
}

func Auth(message string) *Error {
	return &Error{Kind: KindAuth, Status: http.StatusUnauthorized, Message: message}
}

func Suspended(contact string) *Error {
	return &Error{
		Kind:    KindSuspended,
		Status:  http.StatusForbidden,
		Message: "Your KEY is Suspended. Contact Support " + contact,
		Fields:  map[string]any{"contact": contact},
	}
}

// QuotaExceeded carrega o diagnóstico da cota diária; reset já formatado.
func QuotaExceeded(limit, current int64, reset string) *Error {
	return &Error{
		Kind:    KindQuotaExceeded,
		Status:  http.StatusTooManyRequests,
		Message: "Rate Limit Exceeded",
		Fields: map[string]any{
			"message":   "You have exceeded your daily limit of " + strconv.FormatInt(limit, 10) + " requests. The limit resets at midnight UTC.",
			"limit":     limit,
			"current":   current,
			"remaining": 0,
			"reset":     reset,
		},
	}
}

func Maintenance(contact string) *Error {
	return &Error{
		Kind:    KindMaintenance,
		Status:  http.StatusServiceUnavailable,
		Message: "Service Unavailable",
		Fields: map[string]any{
			"message": "The API is under maintenance. Please try again later.",
			"contact": contact,
		},
	}
}

// Upstream propaga o status devolvido pelo provedor de mapas.
func Upstream(status int, statusText string) *Error {
	return &Error{
		Kind:    KindUpstream,
		Status:  status,
		Message: "External map service error",
		Fields:  map[string]any{"details": statusText, "status": status},
	}
}

func UpstreamUnreachable(details string, cause error) *Error {
	return &Error{
		Kind:    KindUpstreamUnreachable,
		Status:  http.StatusServiceUnavailable,
		Message: "Unable to connect to map service",
		Fields:  map[string]any{"details": details},
		cause:   cause,
	}
}

// Internal nunca expõe a causa no corpo; requestID ajuda a cruzar com o log.
func Internal(requestID string, cause error) *Error {
	e := &Error{
		Kind:    KindInternal,
		Status:  http.StatusInternalServerError,
		Message: "Internal Server Error",
		Fields:  map[string]any{"message": "An unexpected error occurred"},
		cause:   cause,
	}
	if requestID != "" {
		e.Fields["requestId"] = requestID
	}
	return e
}

func NotFound(path string, available []string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Status:  http.StatusNotFound,
		Message: "Not Found",
		Fields: map[string]any{
			"message":            "The requested resource '" + path + "' does not exist.",
			"availableEndpoints": available,
		},
	}
}

func Unauthorized() *Error {
	return &Error{Kind: KindUnauthorized, Status: http.StatusUnauthorized, Message: "Unauthorized"}
}

// Throttled é a resposta do burst guard (rajada acima do permitido).
func Throttled(retryAfterSeconds int) *Error {
	return &Error{
		Kind:    KindThrottled,
		Status:  http.StatusTooManyRequests,
		Message: "Too Many Requests",
		Fields: map[string]any{
			"message":    "Request rate too high. Slow down and retry.",
			"retryAfter": retryAfterSeconds,
		},
	}
}

// Overloaded indica que não houve vaga de renderização a tempo.
func Overloaded() *Error {
	return &Error{
		Kind:    KindOverloaded,
		Status:  http.StatusServiceUnavailable,
		Message: "Service Unavailable",
		Fields:  map[string]any{"message": "Too many map requests in flight. Please retry shortly."},
	}
}

// Wrap anexa uma causa (apenas para log) a um erro da taxonomia.
func Wrap(e *Error, cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}
