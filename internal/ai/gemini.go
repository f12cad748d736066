package ai

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/safesh/safesh/internal/config"
	"github.com/safesh/safesh/internal/rules"
	"github.com/safesh/safesh/pkg/types"
)

const defaultGeminiEndpoint = "https://generativelanguage.googleapis.com"

// GeminiClient talks to the Gemini generateContent API. The model is asked
// for a strict JSON verdict; anything else counts as a malformed response.
type GeminiClient struct {
	endpoint  string
	model     string
	apiKeyEnv string
	client    *http.Client
	logger    *slog.Logger
}

type GeminiOption func(*GeminiClient)

// WithHTTPClient substitutes the transport, used by tests to point at a
// local stub server.
func WithHTTPClient(c *http.Client) GeminiOption {
	return func(g *GeminiClient) { g.client = c }
}

func NewGemini(cfg config.AIConfig, logger *slog.Logger, opts ...GeminiOption) *GeminiClient {
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultGeminiEndpoint
	}
	timeout, err := time.ParseDuration(cfg.RequestTimeout)
	if err != nil || timeout <= 0 {
		timeout = 15 * time.Second
	}
	g := &GeminiClient{
		endpoint:  strings.TrimRight(endpoint, "/"),
		model:     cfg.Model,
		apiKeyEnv: cfg.APIKeyEnv,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GeminiClient) Name() string { return "gemini" }

// geminiRequest and geminiResponse mirror the generateContent wire format,
// reduced to the fields safesh uses.
type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
	Config   geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// verdict is the JSON document the prompt asks the model to produce.
type verdict struct {
	Command    string  `json:"command"`
	Confidence float64 `json:"confidence"`
	Unsafe     bool    `json:"unsafe"`
}

func (g *GeminiClient) Translate(ctx context.Context, req Request) (types.TranslationResult, error) {
	reqID := generateRequestID()
	log := g.logger.With("request_id", reqID, "session_id", req.SessionID)

	apiKey := os.Getenv(g.apiKeyEnv)
	if apiKey == "" {
		log.Warn("ai translation skipped: api key env not set", "env", g.apiKeyEnv)
		return types.TranslationResult{}, fmt.Errorf("%w: %s not set", ErrServiceUnavailable, g.apiKeyEnv)
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: buildPrompt(req)}}}},
		Config:   geminiGenConfig{Temperature: 0, ResponseMimeType: "application/json"},
	})
	if err != nil {
		return types.TranslationResult{}, fmt.Errorf("%w: encode request: %v", ErrServiceUnavailable, err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.endpoint, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return types.TranslationResult{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		log.Warn("ai request failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return types.TranslationResult{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.TranslationResult{}, fmt.Errorf("%w: read response: %v", ErrServiceUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		log.Warn("ai service rate limited", "status", resp.StatusCode)
		return types.TranslationResult{}, fmt.Errorf("%w: service returned 429", ErrQuotaExceeded)
	case resp.StatusCode != http.StatusOK:
		log.Warn("ai request rejected", "status", resp.StatusCode)
		return types.TranslationResult{}, fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
	}

	var gr geminiResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return types.TranslationResult{}, fmt.Errorf("%w: malformed response: %v", ErrServiceUnavailable, err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return types.TranslationResult{}, fmt.Errorf("%w: empty response", ErrServiceUnavailable)
	}

	var v verdict
	text := stripCodeFences(gr.Candidates[0].Content.Parts[0].Text)
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return types.TranslationResult{}, fmt.Errorf("%w: malformed verdict: %v", ErrServiceUnavailable, err)
	}

	log.Info("ai translation answered",
		"duration_ms", time.Since(start).Milliseconds(),
		"confidence", v.Confidence,
		"unsafe", v.Unsafe)

	if v.Unsafe {
		return types.TranslationResult{}, fmt.Errorf("%w: %q", ErrUnsafeRequest, req.Text)
	}

	cmd, err := screenSuggestion(v.Command)
	if err != nil {
		log.Warn("ai suggestion rejected", "error", err)
		return types.TranslationResult{}, err
	}
	cmd.RawText = req.Text
	cmd.Source = types.SourceAI

	return types.TranslationResult{
		Command:    cmd,
		Confidence: clampConfidence(v.Confidence),
		Engine:     types.SourceAI,
	}, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You translate natural language into exactly one safe shell command.\n\n")
	fmt.Fprintf(&b, "Current working directory: %s\n", req.Cwd)
	b.WriteString("Available commands: ls, cd, pwd, mkdir, rm, monitor, help, exit\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Only use the available commands listed above.\n")
	b.WriteString("- Paths are relative to the current working directory.\n")
	b.WriteString("- Never suggest touching paths outside the working tree.\n")
	b.WriteString("- For rm, name exactly what is being deleted.\n\n")
	fmt.Fprintf(&b, "User request: %q\n\n", req.Text)
	b.WriteString(`Respond with strict JSON only: {"command": "<one command>", "confidence": <0..1>, "unsafe": <bool>}. `)
	b.WriteString("Set unsafe to true and leave command empty if the request cannot be fulfilled safely.\n")
	return b.String()
}

// dangerousRemoveMarkers disqualify an AI-suggested rm argument outright.
// The policy engine would catch most of these anyway; screening here keeps
// obviously bad suggestions from ever reaching a confirmation prompt.
var dangerousRemoveMarkers = []string{"*", "/", "\\", "..", "~"}

// screenSuggestion parses the model's command line and applies the same
// whitelist the prompt promised.
func screenSuggestion(line string) (types.StructuredCommand, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return types.StructuredCommand{}, fmt.Errorf("%w: empty suggestion", ErrLowConfidence)
	}
	cmd, err := rules.ParseDirect(line)
	if err != nil {
		return types.StructuredCommand{}, fmt.Errorf("%w: unparseable suggestion %q", ErrServiceUnavailable, line)
	}
	if cmd.Verb == types.VerbUnknown {
		return types.StructuredCommand{}, fmt.Errorf("%w: suggestion %q outside command whitelist", ErrLowConfidence, line)
	}
	if cmd.Verb == types.VerbRemove {
		for _, arg := range cmd.Targets() {
			lower := strings.ToLower(arg)
			for _, marker := range dangerousRemoveMarkers {
				if strings.Contains(lower, marker) {
					return types.StructuredCommand{}, fmt.Errorf("%w: refusing rm argument %q", ErrLowConfidence, arg)
				}
			}
		}
	}
	return cmd, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b)
}
