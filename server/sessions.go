package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionCookieName = "gsuited_session"

// SessionManager binds browsers to session identifiers via an HMAC-signed
// cookie. The core never sees the cookie; it only keys the credential store
// by the session id carried inside.
type SessionManager struct {
	secret       []byte
	ttl          time.Duration
	secure       bool
	sameSite     http.SameSite
	cookieDomain string
	logger       *slog.Logger
}

// NewSessionManager constructs a session manager honouring config.
func NewSessionManager(cfg Config, secret []byte, logger *slog.Logger) *SessionManager {
	sameSite := http.SameSiteLaxMode
	secure := !cfg.Server.DevMode

	return &SessionManager{
		secret:       secret,
		ttl:          cfg.SessionTTL(),
		secure:       secure,
		sameSite:     sameSite,
		cookieDomain: cfg.Server.CookieDomain,
		logger:       logger,
	}
}

// Peek returns the session id from the request cookie without creating one.
func (sm *SessionManager) Peek(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return "", false
	}
	sid, err := sm.verify(cookie.Value)
	if err != nil {
		sm.logger.Debug("rejected session cookie", "error", err)
		return "", false
	}
	return sid, true
}

// Ensure returns the request's session id, establishing a fresh session and
// setting the cookie when none is present or the cookie fails verification.
func (sm *SessionManager) Ensure(w http.ResponseWriter, r *http.Request) (string, error) {
	if sid, ok := sm.Peek(r); ok {
		return sid, nil
	}

	sid, err := newID()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	signed, err := sm.sign(sid)
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    signed,
		Path:     "/",
		Domain:   sm.cookieDomain,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: sm.sameSite,
		MaxAge:   int(sm.ttl.Seconds()),
	})
	return sid, nil
}

// Clear removes the session cookie for logout.
func (sm *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   sm.cookieDomain,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: sm.sameSite,
		MaxAge:   -1,
	})
}

func (sm *SessionManager) sign(sid string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sid": sid,
		"iat": now.Unix(),
		"exp": now.Add(sm.ttl).Unix(),
	})
	signed, err := token.SignedString(sm.secret)
	if err != nil {
		return "", fmt.Errorf("sign session cookie: %w", err)
	}
	return signed, nil
}

func (sm *SessionManager) verify(value string) (string, error) {
	token, err := jwt.Parse(value, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return sm.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}
	sid, ok := claims["sid"].(string)
	if !ok || sid == "" {
		return "", fmt.Errorf("sid claim missing")
	}
	return sid, nil
}
