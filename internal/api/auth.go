package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/wliuy/TGmusic/internal/config"
)

// PasswordHeader carries the shared secret on API calls.
const PasswordHeader = "X-Sarah-Password"

const tokenTypeStream = "stream"

// how long a password that matched the bcrypt hash is accepted without
// hashing it again
const verifiedPasswordTTL = 5 * time.Minute

type StreamClaims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Gate checks the shared secret. A request passes with the password in
// PasswordHeader or the auth query parameter, or with a stream token as a
// Bearer header or the token query parameter. Media elements cannot set
// headers, hence the query forms.
type Gate struct {
	password string
	hash     []byte
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
	compare  func(hash, password []byte) error

	mu            sync.Mutex
	verified      [sha256.Size]byte
	verifiedUntil time.Time
}

func NewGate(cfg config.AuthConfig) *Gate {
	secret := cfg.TokenSecret
	if secret == "" {
		secret = cfg.Password
	}
	if secret == "" {
		secret = cfg.PasswordHash
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Gate{
		password: cfg.Password,
		hash:     []byte(cfg.PasswordHash),
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
		compare:  bcrypt.CompareHashAndPassword,
	}
}

func (g *Gate) Enabled() bool {
	return g.password != "" || len(g.hash) > 0
}

func (g *Gate) checkPassword(p string) bool {
	if p == "" {
		return false
	}
	if len(g.hash) > 0 {
		return g.checkHash(p)
	}
	return subtle.ConstantTimeCompare([]byte(p), []byte(g.password)) == 1
}

// checkHash runs bcrypt at most once per verifiedPasswordTTL for the right
// password. Wrong passwords are always hashed.
func (g *Gate) checkHash(p string) bool {
	sum := sha256.Sum256([]byte(p))
	now := g.now()

	g.mu.Lock()
	hit := now.Before(g.verifiedUntil) && subtle.ConstantTimeCompare(sum[:], g.verified[:]) == 1
	g.mu.Unlock()
	if hit {
		return true
	}

	if g.compare(g.hash, []byte(p)) != nil {
		return false
	}
	g.mu.Lock()
	g.verified, g.verifiedUntil = sum, now.Add(verifiedPasswordTTL)
	g.mu.Unlock()
	return true
}

// IssueToken signs a stream token valid for the configured TTL.
func (g *Gate) IssueToken() (string, time.Time, error) {
	now := g.now()
	exp := now.Add(g.ttl)
	claims := StreamClaims{
		TokenType: tokenTypeStream,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (g *Gate) verifyToken(raw string) bool {
	if raw == "" {
		return false
	}
	claims := &StreamClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return g.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(g.now))
	return err == nil && token.Valid && claims.TokenType == tokenTypeStream
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (g *Gate) allowed(r *http.Request) bool {
	if !g.Enabled() {
		return true
	}
	q := r.URL.Query()
	if g.verifyToken(bearerToken(r)) || g.verifyToken(q.Get("token")) {
		return true
	}
	// one password check per request, the header wins
	password := r.Header.Get(PasswordHeader)
	if password == "" {
		password = q.Get("auth")
	}
	return g.checkPassword(password)
}

func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.allowed(r) {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type sessionRequest struct {
	Password string `json:"password"`
}

// handleSession exchanges the password for a stream token. With the gate
// disabled there is nothing to exchange.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.gate.Enabled() {
		writeOK(w, map[string]any{"open": true})
		return
	}

	password := r.Header.Get(PasswordHeader)
	if password == "" {
		var req sessionRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeLibraryError(w, r, err)
			return
		}
		password = req.Password
	}
	if !s.gate.checkPassword(password) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	token, exp, err := s.gate.IssueToken()
	if err != nil {
		s.writeLibraryError(w, r, fmt.Errorf("sign token: %w", err))
		return
	}
	writeOK(w, map[string]any{
		"token":      token,
		"expires_at": exp.UTC(),
	})
}
