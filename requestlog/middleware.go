package requestlog

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// HeaderCache é o header que diz se a imagem veio do cache.
const HeaderCache = "X-Cache"

// Skip diz quais caminhos não entram na janela.
func Skip(path string) bool {
	return path == "/admin/monitor-data" || path == "/metrics"
}

// Middleware observa a resposta já escrita: registra na janela e emite a
// linha de log do request.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

		next.ServeHTTP(ww, req)

		took := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		cache := ww.Header().Get(HeaderCache)
		path := redactedURI(req.URL)

		zerolog.Ctx(req.Context()).Info().
			Str("method", req.Method).
			Str("path", path).
			Int("status", status).
			Dur("took", took).
			Int("bytes", ww.BytesWritten()).
			Str("cache", cache).
			Msg("request completed")

		if Skip(req.URL.Path) {
			return
		}
		r.Add(Entry{
			Timestamp:    start.UTC(),
			Method:       req.Method,
			Path:         path,
			Status:       status,
			IP:           clientIP(req.RemoteAddr),
			ResponseTime: took.Milliseconds(),
			Cache:        cache,
		})
	})
}

// redactedURI devolve path+query sem o valor de apikey.
func redactedURI(u *url.URL) string {
	q := u.Query()
	if q.Has("apikey") {
		q.Set("apikey", "REDACTED")
		cp := *u
		cp.RawQuery = q.Encode()
		return cp.RequestURI()
	}
	return u.RequestURI()
}

func clientIP(remote string) string {
	if host, _, err := net.SplitHostPort(remote); err == nil {
		return host
	}
	if remote == "" {
		return "unknown"
	}
	return remote
}
