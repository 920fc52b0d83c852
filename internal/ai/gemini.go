// Package ai implements the AI analyzer port against the Gemini REST API.
// The analyzer receives the same facts the heuristic engine saw, plus the
// inconclusive heuristic outcome, and must answer with a strict JSON verdict.
package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/formsentry/formsentry/api/schemas"
	"github.com/formsentry/formsentry/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const systemPrompt = `You are a web security analyst specialized in formjacking (digital skimming) detection.
You are given one observed network request, metadata about recent sensitive form inputs on the page
(no raw values), the page's current domain, and an inconclusive heuristic pre-assessment.
Decide whether the request is exfiltrating sensitive data.
Respond with a single JSON object and nothing else:
{"verdict":"SAFE|UNKNOWN|SUSPICIOUS|DANGEROUS","confidence":0.0,"reason":"...","recommendation":"PROCEED|WARN|BLOCK"}`

// -- Gemini wire structures --

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	GenerationConfig  struct {
		Temperature      float64 `json:"temperature"`
		ResponseMimeType string  `json:"response_mime_type,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// aiVerdictPayload is the JSON shape the model is instructed to return.
type aiVerdictPayload struct {
	Verdict        string         `json:"verdict"`
	Confidence     float64        `json:"confidence"`
	Reason         string         `json:"reason"`
	Recommendation string         `json:"recommendation"`
	Details        map[string]any `json:"details,omitempty"`
}

// GeminiAnalyzer implements schemas.AIAnalyzer.
type GeminiAnalyzer struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	enabled    atomic.Bool
}

// NewGeminiAnalyzer initializes the analyzer from configuration.
func NewGeminiAnalyzer(cfg config.AIConfig, logger *zap.Logger) (*GeminiAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	}
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	a := &GeminiAnalyzer{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("ai.gemini"),
	}
	a.enabled.Store(cfg.Enabled)
	return a, nil
}

// IsEnabled reports whether escalation to this analyzer is switched on.
func (a *GeminiAnalyzer) IsEnabled() bool { return a.enabled.Load() }

// SetEnabled toggles escalation at runtime.
func (a *GeminiAnalyzer) SetEnabled(enabled bool) { a.enabled.Store(enabled) }

// IsAvailable reports whether the analyzer can currently serve a request.
func (a *GeminiAnalyzer) IsAvailable(ctx context.Context) bool {
	if !a.enabled.Load() || a.apiKey == "" {
		return false
	}
	return ctx.Err() == nil
}

// Analyze sends the detection facts to the model and parses its JSON verdict.
// Transient HTTP failures are retried with exponential backoff inside the
// caller's context deadline.
func (a *GeminiAnalyzer) Analyze(ctx context.Context, req schemas.AIAnalysisRequest) (schemas.AIAnalysisResponse, error) {
	facts, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return schemas.AIAnalysisResponse{}, fmt.Errorf("failed to marshal analysis request: %w", err)
	}

	payload := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: "Analyze the following observation:\n" + string(facts)}},
		}},
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}},
	}
	payload.GenerationConfig.Temperature = 0.1
	payload.GenerationConfig.ResponseMimeType = "application/json"

	body, err := json.Marshal(payload)
	if err != nil {
		return schemas.AIAnalysisResponse{}, fmt.Errorf("failed to marshal gemini payload: %w", err)
	}

	text, err := a.generate(ctx, body)
	if err != nil {
		return schemas.AIAnalysisResponse{}, err
	}

	var parsed aiVerdictPayload
	if err := json.Unmarshal([]byte(stripCodeFences(text)), &parsed); err != nil {
		return schemas.AIAnalysisResponse{}, fmt.Errorf("failed to decode model verdict %q: %w", text, err)
	}

	resp := schemas.AIAnalysisResponse{
		Verdict:    schemas.ParseVerdict(strings.ToUpper(parsed.Verdict)),
		Confidence: parsed.Confidence,
		Reason:     parsed.Reason,
		Details:    parsed.Details,
	}
	if rec, ok := schemas.ParseRecommendation(strings.ToUpper(parsed.Recommendation)); ok {
		resp.Recommendation = rec
	} else {
		resp.Recommendation = schemas.Recommend(resp.Verdict)
	}
	if resp.Confidence < 0 {
		resp.Confidence = 0
	} else if resp.Confidence > 1 {
		resp.Confidence = 1
	}
	return resp, nil
}

// generate performs the HTTP round-trip with retries and extracts the first
// candidate's text.
func (a *GeminiAnalyzer) generate(ctx context.Context, body []byte) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0 // bounded by ctx

	var text string
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", a.apiKey)

		resp, err := a.httpClient.Do(httpReq)
		if err != nil {
			a.logger.Warn("Network error during AI request, retrying", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			// fall through to decode
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			a.logger.Warn("Transient AI API error, retrying",
				zap.Int("status", resp.StatusCode))
			return fmt.Errorf("gemini API returned status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("gemini API returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200)))
		}

		var parsed geminiResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode gemini response: %w", err))
		}
		if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
			return backoff.Permanent(fmt.Errorf("gemini API returned no candidates"))
		}
		text = parsed.Candidates[0].Content.Parts[0].Text
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}
	return text, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ schemas.AIAnalyzer = (*GeminiAnalyzer)(nil)
