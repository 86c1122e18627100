package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// newTestApp boots the full application against the built-in dev provider
// on an httptest server, so the consent round-trip runs entirely in-process.
func newTestApp(t *testing.T) (*App, *httptest.Server) {
	t.Helper()

	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.Server.PublicURL = srv.URL
	cfg.Server.SecretsPath = t.TempDir()

	app, err := NewApp(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(app.Close)

	handler = app.Routes()
	return app, srv
}

func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func getJSON(t *testing.T, client *http.Client, rawURL string, out any) int {
	t.Helper()
	resp, err := client.Get(rawURL)
	if err != nil {
		t.Fatalf("GET %s: %v", rawURL, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", rawURL, err)
		}
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	_, srv := newTestApp(t)

	var body map[string]string
	if status := getJSON(t, srv.Client(), srv.URL+"/healthz", &body); status != http.StatusOK {
		t.Fatalf("unexpected status: %d", status)
	}
	if body["status"] != "UP" {
		t.Fatalf("unexpected health payload: %v", body)
	}
}

func TestLoginRejectsUnknownAgent(t *testing.T) {
	_, srv := newTestApp(t)

	var body map[string]string
	status := getJSON(t, srv.Client(), srv.URL+"/auth/login?agents=nope", &body)
	if status != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", status)
	}
	if body["error"] != "unknown_agent" {
		t.Fatalf("unexpected error payload: %v", body)
	}
}

func TestFullAuthorizationFlow(t *testing.T) {
	app, srv := newTestApp(t)
	browser := newBrowser(t)

	// Login follows through the dev provider and the callback to /auth/status.
	var status struct {
		Authenticated bool     `json:"authenticated"`
		Scopes        []string `json:"scopes"`
	}
	code := getJSON(t, browser, srv.URL+"/auth/login?agents=sheets", &status)
	if code != http.StatusOK {
		t.Fatalf("flow did not land on status page: %d", code)
	}
	if !status.Authenticated {
		t.Fatalf("expected an authenticated session after the flow")
	}

	granted := strings.Join(status.Scopes, " ")
	for _, want := range []string{ScopeSpreadsheets, "openid", "email"} {
		if !strings.Contains(granted, want) {
			t.Fatalf("granted scopes missing %q: %q", want, granted)
		}
	}

	// The credential store holds exactly one session.
	u, _ := url.Parse(srv.URL)
	var sid string
	for _, c := range browser.Jar.Cookies(u) {
		if c.Name == sessionCookieName {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(c)
			var ok bool
			sid, ok = app.Sessions.Peek(req)
			if !ok {
				t.Fatalf("browser cookie did not verify")
			}
		}
	}
	if sid == "" {
		t.Fatalf("no session cookie captured")
	}
	if _, ok := app.Store.Get(sid); !ok {
		t.Fatalf("no credential stored for session %q", sid)
	}

	// Logout revokes the credential.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/auth/logout", nil)
	resp, err := browser.Do(req)
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected logout status: %d", resp.StatusCode)
	}
	if _, ok := app.Store.Get(sid); ok {
		t.Fatalf("credential must be deleted on logout")
	}

	status.Authenticated = true
	getJSON(t, browser, srv.URL+"/auth/status", &status)
	if status.Authenticated {
		t.Fatalf("status must report unauthenticated after logout")
	}
}

func TestScopeUpgradeAcrossLogins(t *testing.T) {
	_, srv := newTestApp(t)
	browser := newBrowser(t)

	var status struct {
		Authenticated bool     `json:"authenticated"`
		Scopes        []string `json:"scopes"`
	}
	getJSON(t, browser, srv.URL+"/auth/login?agents=sheets", &status)
	if !status.Authenticated {
		t.Fatalf("first login failed")
	}

	// Second login for another agent must keep the first grant.
	getJSON(t, browser, srv.URL+"/auth/login?agents=drive", &status)
	granted := strings.Join(status.Scopes, " ")
	if !strings.Contains(granted, ScopeSpreadsheets) || !strings.Contains(granted, ScopeDrive) {
		t.Fatalf("grants must accumulate across logins: %q", granted)
	}
}

func TestCallbackRejectsConsentDenial(t *testing.T) {
	_, srv := newTestApp(t)

	var body map[string]string
	status := getJSON(t, srv.Client(), srv.URL+"/auth/callback?error=access_denied", &body)
	if status != http.StatusForbidden {
		t.Fatalf("unexpected status: %d", status)
	}
	if body["error"] != "consent_denied" {
		t.Fatalf("unexpected error payload: %v", body)
	}
}

func TestCallbackRejectsMissingParams(t *testing.T) {
	_, srv := newTestApp(t)

	status := getJSON(t, srv.Client(), srv.URL+"/auth/callback?code=abc", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("missing state should be a 400, got %d", status)
	}
}

func TestCallbackRejectsForgedState(t *testing.T) {
	_, srv := newTestApp(t)

	var body map[string]string
	status := getJSON(t, srv.Client(), srv.URL+"/auth/callback?state=forged&code=abc", &body)
	if status != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", status)
	}
	if body["error"] != "invalid_state" {
		t.Fatalf("unexpected error payload: %v", body)
	}
}

func TestSanitizeReturnTarget(t *testing.T) {
	cases := map[string]string{
		"":                      "",
		"/dashboard":            "/dashboard",
		"//evil.example.com":    "",
		"https://evil.example":  "",
		"relative/path":         "",
		"/auth/status?tab=main": "/auth/status?tab=main",
	}
	for input, want := range cases {
		if got := sanitizeReturnTarget(input); got != want {
			t.Errorf("sanitizeReturnTarget(%q) = %q, want %q", input, got, want)
		}
	}
}
