package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"Warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"ERR":     slog.LevelError,
	}

	for input, want := range tests {
		got, err := parseLogLevel(input)
		if err != nil {
			t.Fatalf("parseLogLevel(%q) returned error: %v", input, err)
		}
		if got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestParseLogLevelInvalid(t *testing.T) {
	if _, err := parseLogLevel("trace"); err == nil {
		t.Fatalf("expected error for unsupported level")
	}
}

func TestValidateURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	if err := validateURL(context.Background(), srv.URL+"/ok"); err != nil {
		t.Fatalf("reachable URL flagged: %v", err)
	}
	// 4xx means reachable; only 5xx and transport errors count as failures.
	if err := validateURL(context.Background(), srv.URL+"/missing"); err != nil {
		t.Fatalf("4xx should not be a startup failure: %v", err)
	}
	if err := validateURL(context.Background(), srv.URL+"/broken"); err == nil {
		t.Fatalf("5xx must be reported")
	}
	if err := validateURL(context.Background(), "http://127.0.0.1:1/nope"); err == nil {
		t.Fatalf("unreachable host must be reported")
	}
}
