package server

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-jose/go-jose/v3"
)

const sessionKeyFile = "session.jwk"

// LoadOrCreateSessionKey returns the HMAC key that signs session cookies,
// persisted as a JWK under the secrets directory so sessions survive
// restarts. A missing key is generated on first start.
func LoadOrCreateSessionKey(secretsPath string, logger *slog.Logger) ([]byte, error) {
	path := filepath.Join(secretsPath, sessionKeyFile)

	if b, err := os.ReadFile(path); err == nil {
		var jwk jose.JSONWebKey
		if err := json.Unmarshal(b, &jwk); err != nil {
			return nil, fmt.Errorf("parse session key %s: %w", path, err)
		}
		key, ok := jwk.Key.([]byte)
		if !ok || len(key) == 0 {
			return nil, fmt.Errorf("session key %s is not a symmetric key", path)
		}
		return key, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read session key: %w", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}

	kid, err := newID()
	if err != nil {
		return nil, err
	}
	jwk := jose.JSONWebKey{Key: key, KeyID: kid, Algorithm: "HS256", Use: "sig"}
	b, err := json.Marshal(jwk)
	if err != nil {
		return nil, fmt.Errorf("encode session key: %w", err)
	}

	if err := os.MkdirAll(secretsPath, 0o700); err != nil {
		return nil, fmt.Errorf("create secrets dir: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return nil, fmt.Errorf("write session key: %w", err)
	}

	logger.Info("generated new session signing key", "path", path, "kid", kid)
	return key, nil
}
