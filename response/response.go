package response

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"romap-gateway/apierr"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError traduz err para a forma JSON da taxonomia. Erros desconhecidos
// viram Internal com mensagem genérica; a causa vai só para o log.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apierr.As(err)
	if !ok {
		e = apierr.Internal(middleware.GetReqID(r.Context()), err)
	}

	logger := zerolog.Ctx(r.Context())
	switch {
	case e.Status >= http.StatusInternalServerError:
		logger.Error().Err(err).Str("kind", e.Kind.String()).Int("status", e.Status).Msg("request failed")
	default:
		logger.Debug().Str("kind", e.Kind.String()).Int("status", e.Status).Msg("request rejected")
	}

	WriteJSON(w, e.Status, e.Body())
}
