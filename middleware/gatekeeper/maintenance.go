package gatekeeper

import (
	"net/http"
	"strings"

	"romap-gateway/apierr"
	"romap-gateway/response"
)

type MaintenanceFlag interface {
	Maintenance() bool
}

// Exempt diz se o caminho continua acessível em manutenção:
// "/", "/health", "/metrics" e tudo sob "/admin".
func Exempt(path string) bool {
	switch path {
	case "/", "/health", "/metrics":
		return true
	}
	return path == "/admin" || strings.HasPrefix(path, "/admin/")
}

// MaintenanceMiddleware responde 503 a tudo que não é isento enquanto a flag
// estiver ligada, antes de qualquer credencial ou bypass.
func MaintenanceMiddleware(flag MaintenanceFlag, contact string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if flag.Maintenance() && !Exempt(r.URL.Path) {
				response.WriteError(w, r, apierr.Maintenance(contact))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
