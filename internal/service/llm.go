package service

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"

	"github.com/jharjadi/pro-rag/answer-api-go/internal/config"
	"github.com/jharjadi/pro-rag/answer-api-go/internal/metrics"
	"github.com/jharjadi/pro-rag/answer-api-go/internal/model"
)

const (
	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
	geminiAPIBaseURL   = "https://generativelanguage.googleapis.com/v1beta"

	// maxSSELine bounds a single SSE data line. Final stream events carry
	// the full grounding metadata and can be large.
	maxSSELine = 4 << 20
)

// ErrRateLimited matches backend errors that are worth retrying after a
// delay (HTTP 429 or status RESOURCE_EXHAUSTED).
var ErrRateLimited = errors.New("llm rate limited")

// APIError is a non-2xx response from the generation backend.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("Gemini API returned %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("Gemini API returned %d: %s", e.StatusCode, e.Message)
}

// Is reports rate-limit errors as ErrRateLimited.
func (e *APIError) Is(target error) bool {
	return target == ErrRateLimited &&
		(e.StatusCode == http.StatusTooManyRequests || e.Status == "RESOURCE_EXHAUSTED")
}

// IsRateLimited reports whether err is a rate-limit error, including errors
// that only carry the backend status in their text.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRateLimited) || strings.Contains(err.Error(), "RESOURCE_EXHAUSTED")
}

// GenerateRequest is one generation call.
type GenerateRequest struct {
	SystemInstruction string
	Question          string
	// Retrieval attaches the Vertex AI Search tool. Ignored when no
	// datastore is configured.
	Retrieval bool
}

// LLMService talks to Gemini, either through Vertex AI (ADC bearer tokens)
// or through the Gemini Developer API (API key). It is safe for concurrent use.
type LLMService struct {
	model     string
	baseURL   string
	modelPath string
	apiKey    string
	datastore string
	maxTokens int
	client    *http.Client
	tokens    oauth2.TokenSource
	limiter   *rate.Limiter
}

// NewLLMService creates a new LLMService from configuration. In Vertex mode
// it resolves Application Default Credentials up front so misconfiguration
// fails at startup.
func NewLLMService(ctx context.Context, cfg *config.Config) (*LLMService, error) {
	s := &LLMService{
		model:     cfg.LLMModel,
		apiKey:    cfg.GoogleAPIKey,
		datastore: cfg.VertexDatastore,
		maxTokens: cfg.LLMMaxTokens,
		client: &http.Client{
			Timeout: cfg.LLMTimeout(),
		},
	}

	if cfg.UseAPIKey() {
		s.baseURL = geminiAPIBaseURL
		s.modelPath = "models/" + cfg.LLMModel
		if s.datastore != "" {
			slog.Warn("vertex ai search is not available with an API key, retrieval disabled")
			s.datastore = ""
		}
	} else {
		s.baseURL, s.modelPath = vertexEndpoint(cfg.GCPProject, cfg.GCPLocation, cfg.LLMModel)

		ts, err := google.DefaultTokenSource(ctx, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("load google credentials: %w", err)
		}
		s.tokens = ts
	}

	if cfg.LLMBaseURL != "" {
		s.baseURL = strings.TrimRight(cfg.LLMBaseURL, "/")
	}

	if cfg.LLMRateLimitRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.LLMRateLimitRPS), max(1, int(cfg.LLMRateLimitRPS)))
	}

	return s, nil
}

// vertexEndpoint returns the Vertex AI base URL and model resource path.
// The global location has no regional host prefix.
func vertexEndpoint(project, location, modelName string) (baseURL, modelPath string) {
	host := "aiplatform.googleapis.com"
	if location != "global" {
		host = location + "-aiplatform.googleapis.com"
	}
	return "https://" + host + "/v1",
		fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", project, location, modelName)
}

// Provider returns the configured backend name.
func (s *LLMService) Provider() string {
	if s.tokens != nil {
		return "vertex"
	}
	return "gemini"
}

// Model returns the configured model name.
func (s *LLMService) Model() string {
	return s.model
}

// RetrievalAvailable reports whether a retrieval datastore is configured.
func (s *LLMService) RetrievalAvailable() bool {
	return s.datastore != ""
}

// Generate runs one non-streamed generation.
func (s *LLMService) Generate(ctx context.Context, req GenerateRequest) (*model.GenerateContentResponse, error) {
	start := time.Now()

	resp, err := s.post(ctx, "generateContent", req, start)
	if err != nil {
		s.observe("generate", start, err)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("read response: %w", err)
		s.observe("generate", start, err)
		return nil, err
	}

	var out model.GenerateContentResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		err = fmt.Errorf("unmarshal response: %w", err)
		s.observe("generate", start, err)
		return nil, err
	}

	s.observe("generate", start, nil)
	return &out, nil
}

// Stream runs one streamed generation, calling onText for every non-empty
// text chunk as it arrives. An error returned by onText aborts the stream.
func (s *LLMService) Stream(ctx context.Context, req GenerateRequest, onText func(string) error) error {
	start := time.Now()

	resp, err := s.post(ctx, "streamGenerateContent", req, start)
	if err != nil {
		s.observe("stream", start, err)
		return err
	}
	defer resp.Body.Close()

	first := true
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			err = fmt.Errorf("unmarshal stream event: %w", err)
			s.observe("stream", start, err)
			return err
		}
		if event.Error != nil {
			err := event.Error.apiError(http.StatusInternalServerError)
			s.observe("stream", start, err)
			return err
		}

		if first {
			first = false
			diag("first_token", start)
			metrics.LLMFirstToken.Observe(time.Since(start).Seconds())
		}

		if text := event.Text(); text != "" {
			if err := onText(text); err != nil {
				s.observe("stream", start, err)
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		err = fmt.Errorf("read stream: %w", err)
		s.observe("stream", start, err)
		return err
	}

	diag("stream_done", start)
	s.observe("stream", start, nil)
	return nil
}

// post submits a request and returns the response on 200. Any other status
// is turned into an *APIError.
func (s *LLMService) post(ctx context.Context, method string, req GenerateRequest, start time.Time) (*http.Response, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	bodyBytes, err := json.Marshal(s.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:%s", s.baseURL, s.modelPath, method)
	if method == "streamGenerateContent" {
		url += "?alt=sse"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if s.tokens != nil {
		tok, err := s.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("fetch access token: %w", err)
		}
		tok.SetAuthHeader(httpReq)
	} else {
		httpReq.Header.Set("x-goog-api-key", s.apiKey)
	}

	diag("before_llm_call", start, "method", method)
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request: %w", err)
	}
	diag("after_llm_submit", start, "method", method, "status", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, parseAPIError(resp.StatusCode, respBody)
	}
	return resp, nil
}

func (s *LLMService) buildRequest(req GenerateRequest) generateContentRequest {
	body := generateContentRequest{
		Contents: []model.Content{
			{Role: "user", Parts: []model.Part{{Text: req.Question}}},
		},
		GenerationConfig: generationConfig{
			Temperature:     0,
			TopP:            1,
			Seed:            0,
			MaxOutputTokens: s.maxTokens,
			ThinkingConfig:  &thinkingConfig{ThinkingBudget: 0},
		},
		SafetySettings: []safetySetting{
			{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "OFF"},
			{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "OFF"},
			{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "OFF"},
			{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "OFF"},
		},
	}
	if req.SystemInstruction != "" {
		body.SystemInstruction = &model.Content{Parts: []model.Part{{Text: req.SystemInstruction}}}
	}
	if req.Retrieval && s.datastore != "" {
		body.Tools = []tool{{Retrieval: &retrievalTool{VertexAISearch: &vertexAISearch{Datastore: s.datastore}}}}
	}
	return body
}

func (s *LLMService) observe(method string, start time.Time, err error) {
	status := "ok"
	switch {
	case err == nil:
	case IsRateLimited(err):
		status = "rate_limited"
	default:
		status = "error"
	}
	if err != nil {
		slog.Warn("llm_diag", "stage", "error", "method", method,
			"dt_ms", time.Since(start).Milliseconds(), "error", err)
	}
	metrics.LLMRequests.WithLabelValues(method, status).Inc()
	metrics.LLMLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func diag(stage string, start time.Time, attrs ...any) {
	args := append([]any{"stage", stage, "dt_ms", time.Since(start).Milliseconds()}, attrs...)
	slog.Debug("llm_diag", args...)
}

// parseAPIError decodes the Google error envelope. Vertex sometimes wraps it
// in a one-element array.
func parseAPIError(statusCode int, body []byte) *APIError {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		return env.Error.apiError(statusCode)
	}
	var envs []errorEnvelope
	if err := json.Unmarshal(body, &envs); err == nil && len(envs) > 0 && envs[0].Error != nil {
		return envs[0].Error.apiError(statusCode)
	}
	return &APIError{StatusCode: statusCode, Message: strings.TrimSpace(string(body))}
}

// Gemini API request types

type generateContentRequest struct {
	Contents          []model.Content  `json:"contents"`
	SystemInstruction *model.Content   `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
	SafetySettings    []safetySetting  `json:"safetySettings"`
	Tools             []tool           `json:"tools,omitempty"`
}

type generationConfig struct {
	Temperature     float64         `json:"temperature"`
	TopP            float64         `json:"topP"`
	Seed            int             `json:"seed"`
	MaxOutputTokens int             `json:"maxOutputTokens"`
	ThinkingConfig  *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type tool struct {
	Retrieval *retrievalTool `json:"retrieval,omitempty"`
}

type retrievalTool struct {
	VertexAISearch *vertexAISearch `json:"vertexAiSearch,omitempty"`
}

type vertexAISearch struct {
	Datastore string `json:"datastore"`
}

// Gemini API error and stream types

type errorEnvelope struct {
	Error *errorBody `json:"error"`
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (b *errorBody) apiError(fallbackCode int) *APIError {
	code := b.Code
	if code == 0 {
		code = fallbackCode
	}
	return &APIError{StatusCode: code, Status: b.Status, Message: b.Message}
}

type streamEvent struct {
	model.GenerateContentResponse
	Error *errorBody `json:"error,omitempty"`
}
