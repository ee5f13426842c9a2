package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/jharjadi/pro-rag/answer-api-go/internal/metrics"
	"github.com/jharjadi/pro-rag/answer-api-go/internal/model"
)

// Generator is the generation backend used by AnswerService.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*model.GenerateContentResponse, error)
	Stream(ctx context.Context, req GenerateRequest, onText func(string) error) error
	Model() string
}

// AnswerOptions configures AnswerService.
type AnswerOptions struct {
	// DisableRetrieval turns retrieval off in every mode.
	DisableRetrieval bool
	// StreamRetrieval allows retrieval in stream mode. Off by default: the
	// streamed text only needs to read well, citations come from the
	// non-streamed pass.
	StreamRetrieval bool

	DefaultSystemInstruction string

	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// AnswerService implements the three answer modes on top of a Generator.
type AnswerService struct {
	llm  Generator
	opts AnswerOptions

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

// NewAnswerService creates a new AnswerService.
func NewAnswerService(llm Generator, opts AnswerOptions) *AnswerService {
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 1
	}
	return &AnswerService{
		llm:    llm,
		opts:   opts,
		sleep:  sleepCtx,
		jitter: func() time.Duration { return time.Duration(rand.Int63n(int64(time.Second))) },
	}
}

// Model returns the backend model name.
func (s *AnswerService) Model() string {
	return s.llm.Model()
}

// StreamResult describes a finished (or aborted) stream.
type StreamResult struct {
	// Text is everything written to the caller, trailing newline included.
	Text         string
	Attempts     int
	FallbackUsed bool
}

// Stream writes the answer to w chunk by chunk, followed by a newline.
//
// Rate-limit errors before any text was written are retried with jittered
// exponential backoff. Any other error, or running out of attempts, falls
// back to a single non-streamed generation written in one piece. Once text
// has been written a failure ends the stream with an error.
func (s *AnswerService) Stream(ctx context.Context, systemInstruction, question string, w func(string) error) (*StreamResult, error) {
	req := s.request(systemInstruction, question, true)
	res := &StreamResult{}

	var sb strings.Builder
	write := func(chunk string) error {
		sb.WriteString(chunk)
		return w(chunk)
	}

	delay := s.opts.RetryBaseDelay
	for attempt := 0; attempt < s.opts.RetryAttempts; attempt++ {
		res.Attempts = attempt + 1
		emitted := false

		err := s.llm.Stream(ctx, req, func(chunk string) error {
			emitted = true
			return write(chunk)
		})
		if err == nil {
			err = write("\n")
			res.Text = sb.String()
			return res, err
		}

		slog.Warn("stream attempt failed", "attempt", attempt, "error", err)

		if emitted || ctx.Err() != nil {
			res.Text = sb.String()
			return res, fmt.Errorf("stream answer: %w", err)
		}
		if !IsRateLimited(err) || attempt == s.opts.RetryAttempts-1 {
			break
		}

		metrics.StreamRetries.Inc()
		if err := s.sleep(ctx, delay+s.jitter()); err != nil {
			return res, fmt.Errorf("stream backoff: %w", err)
		}
		delay *= 2
	}

	res.FallbackUsed = true
	metrics.StreamFallbacks.Inc()

	resp, err := s.llm.Generate(ctx, req)
	if err != nil {
		return res, fmt.Errorf("non-stream fallback: %w", err)
	}
	err = write(resp.Text() + "\n")
	res.Text = sb.String()
	return res, err
}

// CitationResult is the outcome of a citation pass. Payload is never nil.
type CitationResult struct {
	Payload      *model.CitationPayload
	Stats        AlignStats
	MetaTextLen  int
	LLMLatency   time.Duration
	AlignLatency time.Duration
	// LLMError is set when generation failed; Payload is then empty.
	LLMError error
}

// Cite regenerates the answer without streaming, with retrieval, and aligns
// its grounding onto streamedAnswer. Generation failures yield an empty
// payload rather than an error.
func (s *AnswerService) Cite(ctx context.Context, systemInstruction, question, streamedAnswer string) *CitationResult {
	req := s.request(systemInstruction, question, false)

	start := time.Now()
	resp, err := s.llm.Generate(ctx, req)
	llmLatency := time.Since(start)
	if err != nil {
		slog.Error("citation generation failed", "error", err)
		return &CitationResult{
			Payload:    model.EmptyCitationPayload(),
			LLMLatency: llmLatency,
			LLMError:   err,
		}
	}

	res := s.Align(resp.Text(), streamedAnswer, resp.Grounding())
	res.LLMLatency = llmLatency
	return res
}

// Align runs the alignment engine on caller-supplied metadata and records
// alignment metrics.
func (s *AnswerService) Align(metaText, targetText string, gm *model.GroundingMetadata) *CitationResult {
	start := time.Now()
	payload, stats := AlignCitations(metaText, targetText, gm)
	alignLatency := time.Since(start)

	metrics.AlignLatency.Observe(alignLatency.Seconds())
	metrics.AlignedSupports.WithLabelValues(string(LocateWindow)).Add(float64(stats.Window))
	metrics.AlignedSupports.WithLabelValues(string(LocateGlobal)).Add(float64(stats.Global))
	metrics.AlignedSupports.WithLabelValues(string(LocateEstimate)).Add(float64(stats.Estimate))
	metrics.DroppedSupports.Add(float64(stats.Dropped))
	if stats.FallbackUsed {
		metrics.AlignFallbacks.Inc()
	}

	return &CitationResult{
		Payload:      payload,
		Stats:        stats,
		MetaTextLen:  len([]rune(metaText)),
		AlignLatency: alignLatency,
	}
}

// Answer is the legacy mode: one non-streamed generation returned with its
// grounding deduplicated and renumbered, segment offsets left as generated.
func (s *AnswerService) Answer(ctx context.Context, systemInstruction, question string) (*model.AnswerResponse, error) {
	resp, err := s.llm.Generate(ctx, s.request(systemInstruction, question, false))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	sources, supports, queries := ExtractGrounding(resp.Grounding())
	return &model.AnswerResponse{
		Message:  resp.Text(),
		Sources:  sources,
		Supports: supports,
		Queries:  queries,
	}, nil
}

func (s *AnswerService) request(systemInstruction, question string, stream bool) GenerateRequest {
	if systemInstruction == "" {
		systemInstruction = s.opts.DefaultSystemInstruction
	}
	return GenerateRequest{
		SystemInstruction: systemInstruction,
		Question:          question,
		Retrieval:         s.retrievalEnabled(stream),
	}
}

func (s *AnswerService) retrievalEnabled(stream bool) bool {
	if s.opts.DisableRetrieval {
		return false
	}
	return !stream || s.opts.StreamRetrieval
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
