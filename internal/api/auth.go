// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/codecshift/internal/log"
)

const (
	sessionCookieName = "codecshift_session"
	sessionTTL        = 24 * time.Hour
)

// operatorSessions is the in-memory cookie session table for local
// operator logins. Sessions do not survive a restart.
type operatorSessions struct {
	mu     sync.Mutex
	tokens map[string]time.Time // token -> expiry
}

func newOperatorSessions() *operatorSessions {
	return &operatorSessions{tokens: make(map[string]time.Time)}
}

func (o *operatorSessions) issue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)

	o.mu.Lock()
	defer o.mu.Unlock()
	for t, exp := range o.tokens {
		if time.Now().After(exp) {
			delete(o.tokens, t)
		}
	}
	o.tokens[token] = time.Now().Add(sessionTTL)
	return token, nil
}

func (o *operatorSessions) valid(token string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	exp, ok := o.tokens[token]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(o.tokens, token)
		return false
	}
	return true
}

func (o *operatorSessions) revoke(token string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.tokens, token)
}

// apiKeyMatches compares the presented key in constant time.
func (s *Server) apiKeyMatches(r *http.Request) bool {
	key := r.Header.Get("X-Api-Key")
	if key == "" || s.cfg.APIKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) == 1
}

// requireWorkerAuth gates worker endpoints on the shared API key.
// Per-worker session validation happens in the handlers against the
// request payload.
func (s *Server) requireWorkerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.DevMode || s.apiKeyMatches(r) {
			next.ServeHTTP(w, r)
			return
		}
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
	})
}

// requireOperatorAuth gates operator endpoints on the API key or a
// session cookie from a local login.
func (s *Server) requireOperatorAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.DevMode || !s.cfg.AuthEnabled || s.apiKeyMatches(r) {
			next.ServeHTTP(w, r)
			return
		}
		if c, err := r.Cookie(sessionCookieName); err == nil && s.opSessions.valid(c.Value) {
			next.ServeHTTP(w, r)
			return
		}
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated"})
	})
}

// handleLogin authenticates a local operator and issues a session cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.LocalLoginEnabled {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "local_login_disabled"})
		return
	}

	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeBadRequest(w, "malformed login body")
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(body.Username), []byte(s.cfg.LocalUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(body.Password), []byte(s.cfg.LocalPassword)) == 1
	if !userOK || !passOK {
		logger := log.WithComponent("api")
		logger.Warn().
			Str("event", "auth.login_failed").
			Msg("operator login rejected")
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid_credentials"})
		return
	}

	token, err := s.opSessions.issue()
	if err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	logger := log.WithComponent("api")
	logger.Info().
		Str("event", "auth.login").
		Msg("operator logged in")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleLogout revokes the caller's session cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		s.opSessions.revoke(c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
