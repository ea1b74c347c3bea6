package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"

	"romap-gateway/apierr"
	"romap-gateway/response"
)

const sessionCookie = "romap_session"

// AdminAuth são as credenciais do painel. Com PasswordHash (bcrypt) vazio e
// Password preenchida, o hash é gerado na subida.
type AdminAuth struct {
	Username       string
	Password       string
	PasswordHash   string
	SessionTTL     time.Duration
	LoginPerMinute int
	SecureCookie   bool
}

// Verifier confere usuário e senha do admin.
type Verifier struct {
	username string
	hash     []byte
}

// NewVerifier devolve nil quando não há credencial configurada (login desligado).
func NewVerifier(a AdminAuth) (*Verifier, error) {
	if a.Username == "" || (a.Password == "" && a.PasswordHash == "") {
		return nil, nil
	}
	hash := []byte(a.PasswordHash)
	if len(hash) == 0 {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(a.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
	}
	return &Verifier{username: a.Username, hash: hash}, nil
}

func (v *Verifier) Check(username, password string) bool {
	if v == nil {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(v.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(v.hash, []byte(password)) == nil
	return userOK && passOK
}

// sessions guarda token → usuário com expiração (go-cache).
type sessions struct {
	c   *cache.Cache
	ttl time.Duration
}

func newSessions(ttl time.Duration) *sessions {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &sessions{c: cache.New(ttl, 10*time.Minute), ttl: ttl}
}

func (s *sessions) create(username string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	s.c.Set(token, username, s.ttl)
	return token, nil
}

func (s *sessions) valid(token string) bool {
	if token == "" {
		return false
	}
	_, ok := s.c.Get(token)
	return ok
}

func (s *sessions) destroy(token string) { s.c.Delete(token) }

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(sessionCookie)
		if err != nil || !s.sessions.valid(c.Value) {
			response.WriteError(w, r, apierr.Unauthorized())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.opts.Admin.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
