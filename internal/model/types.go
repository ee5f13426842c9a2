// Package model defines the domain types for the answer API.
package model

import (
	"time"

	"github.com/google/uuid"
)

// AnswerRequest is the request body shared by the /v1/answer endpoints.
type AnswerRequest struct {
	SystemInstruction string `json:"system_instruction"`
	Question          string `json:"question"`
}

// CitationRequest is the POST /v1/answer/citations request body.
// Either SessionID or Question + StreamedAnswer must be set.
type CitationRequest struct {
	SessionID         string `json:"session_id"`
	SystemInstruction string `json:"system_instruction"`
	Question          string `json:"question"`
	StreamedAnswer    string `json:"streamed_answer"`
}

// AlignRequest is the POST /v1/align request body. It runs the alignment
// engine on caller-supplied metadata without calling the model.
type AlignRequest struct {
	MetaText          string             `json:"meta_text"`
	TargetText        string             `json:"target_text"`
	GroundingMetadata *GroundingMetadata `json:"grounding_metadata"`
}

// Support links the end of an answer segment to the sources backing it.
// SegmentEndIndex is measured in Unicode code points.
type Support struct {
	GroundingChunkIndices []int  `json:"grounding_chunk_indices"`
	Text                  string `json:"text"`
	SegmentEndIndex       int    `json:"segment_end_index"`
}

// CitationPayload is the citation record handed to renderers.
// Supports are sorted ascending by SegmentEndIndex.
type CitationPayload struct {
	Sources  []string  `json:"sources"`
	Supports []Support `json:"supports"`
	Queries  []string  `json:"queries"`
}

// EmptyCitationPayload returns a payload whose arrays encode as [] rather than null.
func EmptyCitationPayload() *CitationPayload {
	return &CitationPayload{
		Sources:  []string{},
		Supports: []Support{},
		Queries:  []string{},
	}
}

// AnswerResponse is the legacy non-streamed response: the answer text plus
// grounding renumbered against it (not re-aligned).
type AnswerResponse struct {
	Message  string    `json:"message"`
	Sources  []string  `json:"sources"`
	Supports []Support `json:"supports"`
	Queries  []string  `json:"queries"`
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Session statuses.
const (
	SessionStreaming = "streaming"
	SessionStreamed  = "streamed"
	SessionFailed    = "failed"
	SessionCited     = "cited"
)

// AnswerSession ties a streamed answer to its later citation pass.
type AnswerSession struct {
	SessionID         uuid.UUID        `json:"session_id"`
	ClientID          string           `json:"client_id"`
	SystemInstruction string           `json:"system_instruction"`
	Question          string           `json:"question"`
	QuestionHash      string           `json:"question_hash"`
	StreamedAnswer    string           `json:"streamed_answer"`
	Status            string           `json:"status"`
	Citations         *CitationPayload `json:"citations,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// APIClient is a machine client allowed to exchange an API key for a JWT.
type APIClient struct {
	ClientID string
	KeyHash  string
	Role     string
	IsActive bool
}

// CitationLog holds all fields for the structured per-request citation log line.
type CitationLog struct {
	Timestamp      time.Time `json:"ts"`
	ClientID       string    `json:"client_id"`
	RequestID      string    `json:"request_id"`
	SessionID      string    `json:"session_id"`
	QuestionHash   string    `json:"question_hash"`
	MetaTextLen    int       `json:"meta_text_len"`
	TargetTextLen  int       `json:"target_text_len"`
	NumSources     int       `json:"num_sources"`
	NumRawSupports int       `json:"num_raw_supports"`
	NumSupports    int       `json:"num_supports"`
	NumQueries     int       `json:"num_queries"`
	WindowMatches  int       `json:"window_matches"`
	GlobalMatches  int       `json:"global_matches"`
	Estimates      int       `json:"estimates"`
	FallbackUsed   bool      `json:"fallback_used"`
	LLMError       string    `json:"llm_error,omitempty"`
	LatencyMSLLM   int64     `json:"latency_ms_llm"`
	LatencyMSAlign int64     `json:"latency_ms_align"`
	LatencyMSTotal int64     `json:"latency_ms_total"`
	LLMModel       string    `json:"llm_model"`
	HTTPStatus     int       `json:"http_status"`
}
