package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"gsuited/server"
)

// Chat proxies conversational queries to the external chat service. It is
// API-key authenticated and does not touch Google credentials at all.
type Chat struct {
	cfg    server.ChatConfig
	client *http.Client
	logger *slog.Logger
}

// NewChat constructs the chat agent.
func NewChat(cfg server.ChatConfig, logger *slog.Logger) *Chat {
	return &Chat{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout()},
		logger: logger.With("agent", "chat"),
	}
}

// Routes lays out the chat endpoints.
func (c *Chat) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/ask", c.handleAsk)
	r.Get("/ping", c.handlePing)
	return r
}

type askRequest struct {
	Query string `json:"query"`
}

// handleAsk creates a fresh upstream session per query and runs it in sync
// mode so voice clients get a single-shot answer.
func (c *Chat) handleAsk(w http.ResponseWriter, r *http.Request) {
	if c.cfg.APIKey == "" {
		c.logger.Error("chat API key is not configured")
		respond(w, http.StatusInternalServerError, map[string]string{
			"answer": "Sorry, the chat service is not configured correctly on my end.",
		})
		return
	}

	var req askRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respond(w, http.StatusBadRequest, map[string]string{
			"answer": "Your question seems to be empty. Please try again.",
		})
		return
	}

	sessionID, err := c.createSession(r.Context())
	if err != nil {
		c.logger.Error("create chat session", "error", err)
		respond(w, http.StatusServiceUnavailable, map[string]string{
			"answer": "Sorry, I couldn't start a new chat session right now. Please try again later.",
		})
		return
	}

	answer, err := c.submitQuery(r.Context(), sessionID, req.Query)
	if err != nil {
		c.logger.Error("submit chat query", "error", err)
		respond(w, http.StatusBadGateway, map[string]string{
			"answer": "Sorry, I couldn't get an answer from the chat service.",
		})
		return
	}

	respond(w, http.StatusOK, map[string]string{"answer": answer})
}

// handlePing verifies that the configured API key can open a session.
func (c *Chat) handlePing(w http.ResponseWriter, r *http.Request) {
	if c.cfg.APIKey == "" {
		respond(w, http.StatusInternalServerError, map[string]string{
			"message":        "chat API key is not configured",
			"api_key_status": "MISCONFIGURED",
		})
		return
	}

	sessionID, err := c.createSession(r.Context())
	if err != nil {
		respond(w, http.StatusServiceUnavailable, map[string]string{
			"message":        "failed to create a test session with the chat service",
			"api_key_status": "CONFIGURED (but session creation failed)",
		})
		return
	}

	respond(w, http.StatusOK, map[string]string{
		"message":         "successfully created a test session with the chat service",
		"api_key_status":  "CONFIGURED",
		"test_session_id": sessionID,
	})
}

func (c *Chat) createSession(ctx context.Context) (string, error) {
	body := map[string]any{
		"agentIds":       []string{},
		"externalUserId": c.cfg.ExternalUserID,
	}

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/sessions", body, http.StatusCreated, &result); err != nil {
		return "", err
	}
	if result.Data.ID == "" {
		return "", fmt.Errorf("session creation response missing data.id")
	}
	return result.Data.ID, nil
}

func (c *Chat) submitQuery(ctx context.Context, sessionID, query string) (string, error) {
	body := map[string]any{
		"endpointId":    c.cfg.EndpointID,
		"query":         query,
		"responseMode":  "sync",
		"reasoningMode": "low",
		"modelConfigs": map[string]any{
			"fulfillmentPrompt": "",
			"stopSequences":     []string{},
			"temperature":       0.7,
			"topP":              1,
			"maxTokens":         0,
			"presencePenalty":   0,
			"frequencyPenalty":  0,
		},
	}

	var result map[string]any
	if err := c.post(ctx, "/sessions/"+sessionID+"/query", body, http.StatusOK, &result); err != nil {
		return "", err
	}

	if answer := extractAnswer(result); answer != "" {
		return answer, nil
	}
	// No recognizable answer field; hand back the raw payload.
	raw, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (c *Chat) post(ctx context.Context, path string, body any, wantStatus int, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(c.cfg.BaseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug("chat upstream call", "path", path, "status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode != wantStatus {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chat service returned %d: %s", resp.StatusCode, snippet)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// extractAnswer digs through the known shapes of the upstream response for
// the answer text.
func extractAnswer(payload map[string]any) string {
	if data, ok := payload["data"].(map[string]any); ok {
		if qr, ok := data["queryResult"].(map[string]any); ok {
			if f, ok := qr["fulfillment"].(map[string]any); ok {
				if s, ok := f["answer"].(string); ok && s != "" {
					return s
				}
				if s, ok := f["text"].(string); ok && s != "" {
					return s
				}
			}
		}
		if s, ok := data["answer"].(string); ok && s != "" {
			return s
		}
		if s, ok := data["text"].(string); ok && s != "" {
			return s
		}
	}
	if s, ok := payload["answer"].(string); ok && s != "" {
		return s
	}
	if s, ok := payload["text"].(string); ok && s != "" {
		return s
	}
	return ""
}
