package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Identity is the verified Google account behind a credential.
type Identity struct {
	Subject string
	Email   string
}

// IdentityVerifier checks the id_token returned by a code exchange and
// extracts who the tokens belong to.
type IdentityVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (Identity, error)
}

type oidcIdentityVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewIdentityVerifier initializes verification via OIDC discovery against
// the configured issuer. Returns nil (verification disabled) when no issuer
// or client id is configured, which is the dev/test posture.
func NewIdentityVerifier(ctx context.Context, cfg Config, logger *slog.Logger) (IdentityVerifier, error) {
	if cfg.Google.Issuer == "" || cfg.Google.ClientID == "" {
		logger.Warn("id_token verification disabled", "issuer", cfg.Google.Issuer)
		return nil, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.Google.Issuer)
	if err != nil {
		if cfg.Server.DevMode {
			logger.Warn("identity provider discovery failed; verification disabled", "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("discover issuer %s: %w", cfg.Google.Issuer, err)
	}

	return &oidcIdentityVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.Google.ClientID}),
	}, nil
}

// Verify validates signature, issuer, audience, and expiry, then pulls the
// subject and email claims.
func (v *oidcIdentityVerifier) Verify(ctx context.Context, rawIDToken string) (Identity, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Identity{}, fmt.Errorf("verify id_token: %w", err)
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("parse id_token claims: %w", err)
	}

	return Identity{Subject: idToken.Subject, Email: claims.Email}, nil
}
